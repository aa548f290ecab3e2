package mq

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/cockroachdb/pebble"
	pebblestore "github.com/while-basic/celaya-parachain-sub004/internal/storage/pebble"
)

// ringTxn stages mutations to books and the ready ring so one logical
// operation commits through a single batch. Books are cached by origin,
// which keeps aliased neighbours (rings of one or two members) correct.
type ringTxn struct {
	e       *Engine
	books   map[string]*book
	dirty   map[string]struct{}
	deleted map[string]struct{}

	head       string
	size       uint32
	ringLoaded bool
	ringDirty  bool
}

func (e *Engine) newTxn() *ringTxn {
	return &ringTxn{
		e:       e,
		books:   make(map[string]*book),
		dirty:   make(map[string]struct{}),
		deleted: make(map[string]struct{}),
	}
}

// book returns the cached or loaded ledger for origin. The second return
// reports existence.
func (t *ringTxn) book(origin string) (*book, bool, error) {
	if _, gone := t.deleted[origin]; gone {
		return nil, false, nil
	}
	if bk, ok := t.books[origin]; ok {
		return bk, true, nil
	}
	raw, err := t.e.db.Get(bookKey(origin))
	if errors.Is(err, pebblestore.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	bk, err := decodeBook(raw)
	if err != nil {
		return nil, false, err
	}
	t.books[origin] = bk
	return bk, true, nil
}

// create registers a fresh book for origin.
func (t *ringTxn) create(origin string) *book {
	bk := &book{}
	t.books[origin] = bk
	delete(t.deleted, origin)
	t.mark(origin)
	return bk
}

func (t *ringTxn) mark(origin string) {
	t.dirty[origin] = struct{}{}
}

// drop removes the book record entirely; used when an origin empties.
func (t *ringTxn) drop(origin string) {
	delete(t.books, origin)
	delete(t.dirty, origin)
	t.deleted[origin] = struct{}{}
}

func (t *ringTxn) loadRing() error {
	if t.ringLoaded {
		return nil
	}
	head, size, err := t.e.ringSnapshot()
	if err != nil {
		return err
	}
	t.head, t.size, t.ringLoaded = head, size, true
	return nil
}

// link inserts origin into the ready ring before the current head, or
// as the sole self-linked member of an empty ring.
func (t *ringTxn) link(origin string) error {
	if err := t.loadRing(); err != nil {
		return err
	}
	bk, ok, err := t.book(origin)
	if err != nil {
		return err
	}
	if !ok || bk.InRing {
		return nil
	}
	if t.size == 0 {
		bk.Prev, bk.Next = origin, origin
		t.head = origin
	} else {
		hb, ok, err := t.book(t.head)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("mq: ring head book missing")
		}
		tail := hb.Prev
		pb, ok, err := t.book(tail)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("mq: ring tail book missing")
		}
		// In a ring of one, pb aliases hb through the cache and both
		// link updates land on the same book.
		bk.Prev, bk.Next = tail, t.head
		pb.Next = origin
		hb.Prev = origin
		t.mark(tail)
		t.mark(t.head)
	}
	bk.InRing = true
	t.size++
	t.ringDirty = true
	t.mark(origin)
	return nil
}

// unlink removes origin from the ring, stitching its neighbours and
// reassigning the head when needed.
func (t *ringTxn) unlink(origin string) error {
	if err := t.loadRing(); err != nil {
		return err
	}
	bk, ok, err := t.book(origin)
	if err != nil {
		return err
	}
	if !ok || !bk.InRing {
		return nil
	}
	if t.size <= 1 {
		t.head = ""
		t.size = 0
	} else {
		pb, ok, err := t.book(bk.Prev)
		if err != nil {
			return err
		}
		nb, ok2, err := t.book(bk.Next)
		if err != nil {
			return err
		}
		if !ok || !ok2 {
			return errors.New("mq: ring neighbour book missing")
		}
		pb.Next = bk.Next
		nb.Prev = bk.Prev
		t.mark(bk.Prev)
		t.mark(bk.Next)
		if t.head == origin {
			t.head = bk.Next
		}
		t.size--
	}
	bk.InRing = false
	bk.Prev, bk.Next = "", ""
	t.ringDirty = true
	t.mark(origin)
	return nil
}

// advance rotates the head to its next neighbour, moving the serviced
// origin to the tail of the current pass.
func (t *ringTxn) advance() error {
	if err := t.loadRing(); err != nil {
		return err
	}
	if t.size == 0 || t.head == "" {
		return nil
	}
	hb, ok, err := t.book(t.head)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("mq: ring head book missing")
	}
	if hb.Next != "" && hb.Next != t.head {
		t.head = hb.Next
		t.ringDirty = true
	}
	return nil
}

// flush stages every dirty book and ring pointer into the batch.
func (t *ringTxn) flush(b *pebble.Batch) error {
	for origin := range t.dirty {
		bk, ok := t.books[origin]
		if !ok {
			continue
		}
		if err := b.Set(bookKey(origin), encodeBook(bk), nil); err != nil {
			return err
		}
	}
	for origin := range t.deleted {
		if err := b.Delete(bookKey(origin), nil); err != nil {
			return err
		}
	}
	if t.ringDirty {
		if t.head == "" {
			if err := b.Delete(ringHeadKey(), nil); err != nil {
				return err
			}
		} else if err := b.Set(ringHeadKey(), []byte(t.head), nil); err != nil {
			return err
		}
		var sb [4]byte
		binary.BigEndian.PutUint32(sb[:], t.size)
		if err := b.Set(ringSizeKey(), sb[:], nil); err != nil {
			return err
		}
	}
	return nil
}

// commit flushes the txn and commits the batch in one step.
func (t *ringTxn) commit(ctx context.Context, b *pebble.Batch) error {
	if err := t.flush(b); err != nil {
		return err
	}
	return t.e.db.CommitBatch(ctx, b)
}
