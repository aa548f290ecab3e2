package mq

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/oklog/ulid/v2"

	pebblestore "github.com/while-basic/celaya-parachain-sub004/internal/storage/pebble"
)

// OverweightEntry describes one parked message.
type OverweightEntry struct {
	Handle string `json:"handle"`
	Origin string `json:"origin"`
	Size   int    `json:"size"`
}

func encodeOverweight(origin string, payload []byte) []byte {
	out := make([]byte, 0, 2+len(origin)+len(payload))
	out = appendString16(out, origin)
	return append(out, payload...)
}

func decodeOverweight(b []byte) (string, []byte, error) {
	origin, rest, err := readString16(b)
	if err != nil {
		return "", nil, fmt.Errorf("mq: corrupt overweight record: %w", err)
	}
	return origin, rest, nil
}

// newHandle mints a fresh, sortable overweight handle.
func newHandle() string {
	return ulid.Make().String()
}

// stageOverweight writes the entry and its per-origin index row into the
// batch. The queue-side consume commits in the same batch, so a message
// is never both queued and parked.
func stageOverweight(b *pebble.Batch, handle, origin string, payload []byte) error {
	if err := b.Set(owKey(handle), encodeOverweight(origin, payload), nil); err != nil {
		return err
	}
	var sb [4]byte
	binary.BigEndian.PutUint32(sb[:], uint32(len(payload)))
	return b.Set(owIndexKey(origin, handle), sb[:], nil)
}

// ListOverweight returns up to limit parked entries in handle order.
// limit <= 0 lists everything.
func (e *Engine) ListOverweight(limit int) ([]OverweightEntry, error) {
	var out []OverweightEntry
	err := e.db.ScanPrefix(owPrefix(), func(k, v []byte) (bool, error) {
		origin, payload, err := decodeOverweight(v)
		if err != nil {
			return false, err
		}
		out = append(out, OverweightEntry{
			Handle: string(k[len(owPrefix()):]),
			Origin: origin,
			Size:   len(payload),
		})
		return limit <= 0 || len(out) < limit, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DiscardOverweight drops a parked entry without executing it.
func (e *Engine) DiscardOverweight(handle string) error {
	raw, err := e.db.Get(owKey(handle))
	if errors.Is(err, pebblestore.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	origin, _, err := decodeOverweight(raw)
	if err != nil {
		return err
	}
	b := e.db.NewBatch()
	defer b.Close()
	if err := b.Delete(owKey(handle), nil); err != nil {
		return err
	}
	if err := b.Delete(owIndexKey(origin, handle), nil); err != nil {
		return err
	}
	return e.db.CommitBatch(context.Background(), b)
}
