package mq

import (
	"bytes"
	"errors"
	"testing"
)

func TestPageAppendConsume(t *testing.T) {
	pg := &page{}
	pg.appendMessage([]byte("alpha"))
	pg.appendMessage([]byte("beta"))

	if pg.Remaining != 2 || pg.RemainingSize != 9 || pg.Used != 9 {
		t.Fatalf("counters = %d/%d/%d, want 2/9/9", pg.Remaining, pg.RemainingSize, pg.Used)
	}

	head, err := pg.peek()
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if !bytes.Equal(head, []byte("alpha")) {
		t.Fatalf("peek = %q, want alpha", head)
	}

	n, err := pg.consumeOne()
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if n != 5 || pg.Remaining != 1 || pg.RemainingSize != 4 {
		t.Fatalf("after consume: n=%d counters=%d/%d, want 5, 1/4", n, pg.Remaining, pg.RemainingSize)
	}
	// Used tracks lifetime appends, not the live residue.
	if pg.Used != 9 {
		t.Fatalf("used = %d, want 9", pg.Used)
	}

	head, err = pg.peek()
	if err != nil {
		t.Fatalf("peek after consume: %v", err)
	}
	if !bytes.Equal(head, []byte("beta")) {
		t.Fatalf("peek = %q, want beta", head)
	}
}

func TestPageConsumeResetsRetry(t *testing.T) {
	pg := &page{}
	pg.appendMessage([]byte("x"))
	pg.appendMessage([]byte("y"))
	pg.Retry = 2

	if _, err := pg.consumeOne(); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if pg.Retry != 0 {
		t.Fatalf("retry = %d after consume, want 0", pg.Retry)
	}
}

func TestPageEncodeDecode(t *testing.T) {
	pg := &page{}
	pg.appendMessage([]byte("hello"))
	pg.appendMessage([]byte("world!"))
	if _, err := pg.consumeOne(); err != nil {
		t.Fatalf("consume: %v", err)
	}
	pg.Retry = 1

	got, err := decodePage(encodePage(pg))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Remaining != pg.Remaining || got.RemainingSize != pg.RemainingSize ||
		got.First != pg.First || got.Used != pg.Used || got.Retry != pg.Retry {
		t.Fatalf("decoded header %+v differs from %+v", got, pg)
	}
	if !bytes.Equal(got.Heap, pg.Heap) {
		t.Fatalf("decoded heap differs")
	}
	if err := got.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestPageDecodeCorrupt(t *testing.T) {
	if _, err := decodePage([]byte{1, 2, 3}); !errors.Is(err, errCorruptPage) {
		t.Fatalf("truncated header: got %v, want corrupt page", err)
	}

	pg := &page{}
	pg.appendMessage([]byte("payload"))
	raw := encodePage(pg)

	// First offset beyond the heap.
	bad := append([]byte(nil), raw...)
	bad[8], bad[9], bad[10], bad[11] = 0xff, 0xff, 0xff, 0xff
	if _, err := decodePage(bad); !errors.Is(err, errCorruptPage) {
		t.Fatalf("bad first offset: got %v, want corrupt page", err)
	}

	// Truncated heap fails validation, not decoding.
	got, err := decodePage(raw[:len(raw)-2])
	if err != nil {
		t.Fatalf("decode truncated heap: %v", err)
	}
	if err := got.validate(); !errors.Is(err, errCorruptPage) {
		t.Fatalf("validate truncated heap: got %v, want corrupt page", err)
	}
}

func TestPageValidateCounterMismatch(t *testing.T) {
	pg := &page{}
	pg.appendMessage([]byte("a"))
	pg.appendMessage([]byte("bb"))
	pg.Remaining = 5

	if err := pg.validate(); !errors.Is(err, errCorruptPage) {
		t.Fatalf("counter mismatch: got %v, want corrupt page", err)
	}
}

func TestBookEncodeDecode(t *testing.T) {
	bk := &book{
		Begin:  3,
		End:    7,
		Count:  12,
		Size:   4096,
		InRing: true,
		Prev:   "para-2000",
		Next:   "para-3000",
	}
	got, err := decodeBook(encodeBook(bk))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *got != *bk {
		t.Fatalf("decoded book %+v, want %+v", got, bk)
	}

	if _, err := decodeBook([]byte{1, 2}); err == nil {
		t.Fatal("truncated book decoded without error")
	}
}
