package mq

import (
	"encoding/binary"
	"fmt"
)

// pageHeaderLen is the fixed header preceding the heap:
// remaining(4) | remainingSize(4) | first(4) | used(4) | retry(4).
const pageHeaderLen = 20

// page is one origin's bounded, append-then-drain storage unit. The heap
// is a length-prefixed concatenation (len_be4 | payload) of messages in
// enqueue order; everything before First has been consumed.
type page struct {
	// Remaining is the count of unprocessed messages.
	Remaining uint32
	// RemainingSize is the payload bytes still unprocessed.
	RemainingSize uint32
	// First is the heap offset of the first unprocessed message.
	First uint32
	// Used is the total payload bytes ever appended, for capacity checks.
	Used uint32
	// Retry counts consecutive temporary failures of the head message.
	// Reset whenever the head is consumed.
	Retry uint32

	Heap []byte
}

func encodePage(p *page) []byte {
	out := make([]byte, pageHeaderLen+len(p.Heap))
	binary.BigEndian.PutUint32(out[0:4], p.Remaining)
	binary.BigEndian.PutUint32(out[4:8], p.RemainingSize)
	binary.BigEndian.PutUint32(out[8:12], p.First)
	binary.BigEndian.PutUint32(out[12:16], p.Used)
	binary.BigEndian.PutUint32(out[16:20], p.Retry)
	copy(out[pageHeaderLen:], p.Heap)
	return out
}

func decodePage(b []byte) (*page, error) {
	if len(b) < pageHeaderLen {
		return nil, fmt.Errorf("%w: truncated header (%d bytes)", errCorruptPage, len(b))
	}
	p := &page{
		Remaining:     binary.BigEndian.Uint32(b[0:4]),
		RemainingSize: binary.BigEndian.Uint32(b[4:8]),
		First:         binary.BigEndian.Uint32(b[8:12]),
		Used:          binary.BigEndian.Uint32(b[12:16]),
		Retry:         binary.BigEndian.Uint32(b[16:20]),
		Heap:          append([]byte(nil), b[pageHeaderLen:]...),
	}
	if int(p.First) > len(p.Heap) {
		return nil, fmt.Errorf("%w: first offset %d past heap end %d", errCorruptPage, p.First, len(p.Heap))
	}
	return p, nil
}

// appendMessage writes one length-prefixed payload to the heap and
// updates the counters. Capacity is the caller's concern.
func (p *page) appendMessage(payload []byte) {
	var lb [4]byte
	binary.BigEndian.PutUint32(lb[:], uint32(len(payload)))
	p.Heap = append(p.Heap, lb[:]...)
	p.Heap = append(p.Heap, payload...)
	p.Remaining++
	p.RemainingSize += uint32(len(payload))
	p.Used += uint32(len(payload))
}

// peek returns the first unprocessed payload without consuming it.
func (p *page) peek() ([]byte, error) {
	if p.Remaining == 0 {
		return nil, fmt.Errorf("%w: peek on drained page", errCorruptPage)
	}
	off := int(p.First)
	if off+4 > len(p.Heap) {
		return nil, fmt.Errorf("%w: truncated length prefix at %d", errCorruptPage, off)
	}
	n := int(binary.BigEndian.Uint32(p.Heap[off : off+4]))
	if off+4+n > len(p.Heap) {
		return nil, fmt.Errorf("%w: message of %d bytes overruns heap", errCorruptPage, n)
	}
	return p.Heap[off+4 : off+4+n], nil
}

// consumeOne advances First past the head message and decrements the
// counters, returning the consumed payload length. The retry counter
// belongs to the head message and resets with it.
func (p *page) consumeOne() (int, error) {
	payload, err := p.peek()
	if err != nil {
		return 0, err
	}
	p.First += 4 + uint32(len(payload))
	p.Remaining--
	p.RemainingSize -= uint32(len(payload))
	p.Retry = 0
	return len(payload), nil
}

// validate walks the heap from First and checks the recorded counters
// against the actual undrained contents.
func (p *page) validate() error {
	var count, size uint32
	off := int(p.First)
	for off < len(p.Heap) {
		if off+4 > len(p.Heap) {
			return fmt.Errorf("%w: truncated length prefix at %d", errCorruptPage, off)
		}
		n := int(binary.BigEndian.Uint32(p.Heap[off : off+4]))
		if off+4+n > len(p.Heap) {
			return fmt.Errorf("%w: message of %d bytes overruns heap", errCorruptPage, n)
		}
		count++
		size += uint32(n)
		off += 4 + n
	}
	if count != p.Remaining || size != p.RemainingSize {
		return fmt.Errorf("%w: recorded %d/%dB, found %d/%dB",
			errCorruptPage, p.Remaining, p.RemainingSize, count, size)
	}
	return nil
}

// messages decodes every unprocessed payload in order. Round-trip
// helper for introspection and tests.
func (p *page) messages() ([][]byte, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	out := make([][]byte, 0, p.Remaining)
	off := int(p.First)
	for off < len(p.Heap) {
		n := int(binary.BigEndian.Uint32(p.Heap[off : off+4]))
		out = append(out, append([]byte(nil), p.Heap[off+4:off+4+n]...))
		off += 4 + n
	}
	return out, nil
}
