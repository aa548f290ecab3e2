package mq

import (
	"encoding/binary"
	"fmt"
)

// book is the per-origin ledger: live page window, message aggregates,
// and ready-ring linkage. Ring links are origin identifiers rather than
// references, so books form no ownership cycles.
type book struct {
	// Begin and End bound the live page window, half-open [Begin, End).
	// The current append target is page End-1.
	Begin uint32
	End   uint32
	// Count and Size aggregate unprocessed messages across live pages.
	Count uint64
	Size  uint64
	// InRing marks ready-ring membership; Prev/Next are the neighbour
	// origins and are empty when unlinked.
	InRing bool
	Prev   string
	Next   string
}

func encodeBook(bk *book) []byte {
	out := make([]byte, 0, 25+4+len(bk.Prev)+len(bk.Next))
	var b8 [8]byte
	var b4 [4]byte
	binary.BigEndian.PutUint32(b4[:], bk.Begin)
	out = append(out, b4[:]...)
	binary.BigEndian.PutUint32(b4[:], bk.End)
	out = append(out, b4[:]...)
	binary.BigEndian.PutUint64(b8[:], bk.Count)
	out = append(out, b8[:]...)
	binary.BigEndian.PutUint64(b8[:], bk.Size)
	out = append(out, b8[:]...)
	if bk.InRing {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	out = appendString16(out, bk.Prev)
	out = appendString16(out, bk.Next)
	return out
}

func decodeBook(b []byte) (*book, error) {
	if len(b) < 25 {
		return nil, fmt.Errorf("mq: truncated book record (%d bytes)", len(b))
	}
	bk := &book{
		Begin:  binary.BigEndian.Uint32(b[0:4]),
		End:    binary.BigEndian.Uint32(b[4:8]),
		Count:  binary.BigEndian.Uint64(b[8:16]),
		Size:   binary.BigEndian.Uint64(b[16:24]),
		InRing: b[24] == 1,
	}
	rest := b[25:]
	var err error
	bk.Prev, rest, err = readString16(rest)
	if err != nil {
		return nil, err
	}
	bk.Next, _, err = readString16(rest)
	if err != nil {
		return nil, err
	}
	return bk, nil
}

func appendString16(dst []byte, s string) []byte {
	var lb [2]byte
	binary.BigEndian.PutUint16(lb[:], uint16(len(s)))
	dst = append(dst, lb[:]...)
	return append(dst, s...)
}

func readString16(b []byte) (string, []byte, error) {
	if len(b) < 2 {
		return "", nil, fmt.Errorf("mq: truncated string prefix")
	}
	n := int(binary.BigEndian.Uint16(b[:2]))
	if len(b) < 2+n {
		return "", nil, fmt.Errorf("mq: truncated string of %d bytes", n)
	}
	return string(b[2 : 2+n]), b[2+n:], nil
}
