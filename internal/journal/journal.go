package journal

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/while-basic/celaya-parachain-sub004/internal/storage/pebble"
)

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - jr/m
// - jr/e/{seq_be8}

var (
	metaKey     = []byte("jr/m")
	entryPrefix = []byte("jr/e/")
)

func entryKey(seq uint64) []byte {
	k := make([]byte, 0, len(entryPrefix)+8)
	k = append(k, entryPrefix...)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return append(k, b[:]...)
}

// Entry is one recorded queue event.
type Entry struct {
	Seq    uint64 `json:"seq"`
	TimeMs int64  `json:"time_ms"`
	Kind   string `json:"kind"`
	Origin string `json:"origin,omitempty"`
	Handle string `json:"handle,omitempty"`
	Size   int    `json:"size,omitempty"`
	Page   uint32 `json:"page,omitempty"`
	Weight uint64 `json:"weight,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Event kinds recorded by the engine sink.
const (
	KindProcessed          = "processed"
	KindOverweight         = "overweight"
	KindOverweightExecuted = "overweight_executed"
	KindPageReaped         = "page_reaped"
)

// Value encoding: json | crc32c(json)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func encodeEntry(e Entry) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc32.Checksum(body, castagnoli))
	return append(body, crcb[:]...), nil
}

func decodeEntry(b []byte) (Entry, error) {
	if len(b) < 4 {
		return Entry{}, errors.New("journal: truncated entry")
	}
	body, crcb := b[:len(b)-4], b[len(b)-4:]
	if crc32.Checksum(body, castagnoli) != binary.BigEndian.Uint32(crcb) {
		return Entry{}, errors.New("journal: entry checksum mismatch")
	}
	var e Entry
	if err := json.Unmarshal(body, &e); err != nil {
		return Entry{}, fmt.Errorf("journal: decode entry: %w", err)
	}
	return e, nil
}

// Journal is an append-only, trimmable history of queue events.
type Journal struct {
	db *pebblestore.DB

	mu      sync.Mutex
	lastSeq uint64
}

// Open initializes a Journal and loads the last sequence from metadata
// (if any).
func Open(db *pebblestore.DB) (*Journal, error) {
	j := &Journal{db: db}
	meta, err := db.Get(metaKey)
	if err == nil && len(meta) >= 8 {
		j.lastSeq = binary.BigEndian.Uint64(meta[:8])
	} else if err != nil && !errors.Is(err, pebblestore.ErrKeyNotFound) {
		return nil, err
	}
	return j, nil
}

// Append records one event and returns its assigned sequence.
func (j *Journal) Append(ctx context.Context, e Entry) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.lastSeq++
	e.Seq = j.lastSeq
	if e.TimeMs == 0 {
		e.TimeMs = time.Now().UnixMilli()
	}
	val, err := encodeEntry(e)
	if err != nil {
		return 0, err
	}

	b := j.db.NewBatch()
	defer b.Close()
	if err := b.Set(entryKey(e.Seq), val, nil); err != nil {
		return 0, err
	}
	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], j.lastSeq)
	if err := b.Set(metaKey, meta[:], nil); err != nil {
		return 0, err
	}
	if err := j.db.CommitBatch(ctx, b); err != nil {
		return 0, err
	}
	return e.Seq, nil
}

// LastSeq returns the highest assigned sequence.
func (j *Journal) LastSeq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastSeq
}

// Read returns up to limit entries with Seq >= from, in order. limit <= 0
// reads everything.
func (j *Journal) Read(from uint64, limit int) ([]Entry, error) {
	_, hi := pebblestore.PrefixRange(entryPrefix)
	it, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: entryKey(from),
		UpperBound: hi,
	})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []Entry
	for ok := it.First(); ok; ok = it.Next() {
		e, err := decodeEntry(it.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// TrimBefore deletes entries with Seq < seq and reports how many were
// removed. The sequence counter never rewinds.
func (j *Journal) TrimBefore(ctx context.Context, seq uint64) (int, error) {
	lo, _ := pebblestore.PrefixRange(entryPrefix)
	it, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: lo,
		UpperBound: entryKey(seq),
	})
	if err != nil {
		return 0, err
	}

	b := j.db.NewBatch()
	defer b.Close()
	removed := 0
	for ok := it.First(); ok; ok = it.Next() {
		k := append([]byte(nil), it.Key()...)
		if err := b.Delete(k, nil); err != nil {
			it.Close()
			return 0, err
		}
		removed++
	}
	it.Close()
	if removed == 0 {
		return 0, nil
	}
	if err := j.db.CommitBatch(ctx, b); err != nil {
		return 0, err
	}
	return removed, nil
}
