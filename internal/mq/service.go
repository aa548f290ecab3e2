package mq

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	pebblestore "github.com/while-basic/celaya-parachain-sub004/internal/storage/pebble"
	"github.com/while-basic/celaya-parachain-sub004/pkg/log"
	"github.com/while-basic/celaya-parachain-sub004/pkg/weight"
)

// Report summarizes one Service invocation.
type Report struct {
	// Processed counts successfully consumed messages. Messages parked
	// overweight are reported via events, not here.
	Processed      uint64        `json:"processed"`
	WeightUsed     weight.Weight `json:"weight_used"`
	OriginsTouched int           `json:"origins_touched"`
}

func clamp(w, ceiling weight.Weight) weight.Weight {
	if w > ceiling {
		return ceiling
	}
	return w
}

// Service drains origins round-robin against the weight limit until the
// meter is exhausted, the ring empties, or a full fairness pass makes no
// progress. Everything consumed before the stop is durable; the next
// invocation resumes exactly where this one left off.
//
// Enqueue stays callable while Service runs: the engine lock is never
// held across a handler call, and every outcome is settled against
// freshly loaded state so concurrent appends survive the turn's commit.
func (e *Engine) Service(ctx context.Context, limit weight.Weight) (Report, error) {
	tok, err := e.acquire()
	if err != nil {
		return Report{}, err
	}
	defer tok.release()

	meter := weight.NewMeter(limit)
	rep := Report{}
	touched := make(map[string]struct{})
	attempted := false

	finish := func() Report {
		rep.WeightUsed = meter.Consumed()
		rep.OriginsTouched = len(touched)
		return rep
	}

	for {
		_, size, err := e.ringView()
		if err != nil {
			return finish(), err
		}
		if size == 0 {
			break
		}
		progressed := false
		// A pass is bounded by the ring size captured at its start, so
		// origins re-adding themselves cannot spin the loop forever.
		for i := uint32(0); i < size; i++ {
			head, _, err := e.ringView()
			if err != nil {
				return finish(), err
			}
			if head == "" {
				return finish(), nil
			}
			v, err := e.serviceOrigin(ctx, head, meter, &rep, !attempted)
			if err != nil {
				return finish(), err
			}
			if v.attempted {
				attempted = true
				touched[head] = struct{}{}
			}
			if v.progressed {
				progressed = true
			}
			if !v.unlinked {
				// unlink already moved the head; otherwise rotate the
				// serviced origin to the tail of the pass.
				if err := e.rotateHead(ctx); err != nil {
					return finish(), err
				}
			}
			if v.terminate || meter.Remaining() == 0 {
				return finish(), nil
			}
		}
		if !progressed {
			break
		}
	}
	return finish(), nil
}

// ringView reads the ring head and size under the engine lock so a
// concurrent enqueue cannot split the pair.
func (e *Engine) ringView() (string, uint32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ringSnapshot()
}

func (e *Engine) rotateHead(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.newTxn()
	if err := t.advance(); err != nil {
		return err
	}
	if !t.ringDirty {
		return nil
	}
	b := e.db.NewBatch()
	defer b.Close()
	return t.commit(ctx, b)
}

// visit reports what happened during one origin turn.
type visit struct {
	attempted  bool // at least one handler call was made
	progressed bool // at least one message left the queue
	unlinked   bool // the origin dropped out of the ring
	terminate  bool // budget cannot cover even the first message
}

// headView is the resolved front of an origin's queue, or the result of
// the housekeeping that resolving it required.
type headView struct {
	payload []byte
	index   uint32
	again   bool // window advanced past a bad page; look again
	settled bool // origin left the ring during housekeeping
}

func (e *Engine) serviceOrigin(ctx context.Context, origin string, meter *weight.Meter, rep *Report, firstOfInvocation bool) (visit, error) {
	v := visit{}
	served := 0
	for {
		hd, err := e.headState(ctx, origin)
		if err != nil {
			return v, err
		}
		if hd.settled {
			v.unlinked = true
			return v, nil
		}
		if hd.again {
			continue
		}

		wasFirstAttempt := firstOfInvocation && !v.attempted
		out := e.opts.Handler.Process(origin, hd.payload, meter.Remaining())
		v.attempted = true

		switch out.Kind {
		case InsufficientWeight:
			// Message stays at the front; the origin yields for this
			// pass. A budget too small for the very first message of
			// the invocation ends the invocation.
			if wasFirstAttempt {
				v.terminate = true
			}
			return v, nil

		case Success:
			_ = meter.Consume(clamp(out.Weight, meter.Remaining()))
			reaped, dropped, err := e.settleSuccess(ctx, origin, hd.index)
			if err != nil {
				return v, err
			}
			e.opts.Events.MessageProcessed(origin, len(hd.payload), out.Weight)
			if reaped {
				e.opts.Events.PageReaped(origin, hd.index)
			}
			rep.Processed++
			v.progressed = true
			served++
			if dropped {
				v.unlinked = true
				return v, nil
			}
			if reaped || (e.opts.TurnMessageCap > 0 && served >= e.opts.TurnMessageCap) {
				return v, nil
			}

		case TemporaryFailure:
			_ = meter.Consume(clamp(out.Weight, meter.Remaining()))
			res, err := e.settleTemporary(ctx, origin, hd.index, hd.payload)
			if err != nil {
				return v, err
			}
			if !res.escalated {
				e.logger.Warn("temporary failure, message retained for retry",
					log.Str("origin", origin),
					log.Uint64("page", uint64(hd.index)),
					log.Uint64("retry", uint64(res.retry)),
					log.Str("reason", out.Reason))
				return v, nil
			}
			v.progressed = true
			served++
			if res.dropped {
				v.unlinked = true
				return v, nil
			}
			if res.reaped || (e.opts.TurnMessageCap > 0 && served >= e.opts.TurnMessageCap) {
				return v, nil
			}

		case PermanentFailure:
			_ = meter.Consume(clamp(out.Weight, meter.Remaining()))
			reaped, dropped, err := e.settleEscalate(ctx, origin, hd.index, hd.payload, out.Reason)
			if err != nil {
				return v, err
			}
			v.progressed = true
			served++
			if dropped {
				v.unlinked = true
				return v, nil
			}
			if reaped || (e.opts.TurnMessageCap > 0 && served >= e.opts.TurnMessageCap) {
				return v, nil
			}

		default:
			return v, fmt.Errorf("mq: handler returned unknown outcome %d", out.Kind)
		}
	}
}

// headState resolves origin's front message under the engine lock,
// committing any housekeeping (stale ring entries, missing pages,
// corruption) on the spot.
func (e *Engine) headState(ctx context.Context, origin string) (headView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.newTxn()
	bk, ok, err := t.book(origin)
	if err != nil {
		return headView{}, err
	}
	if !ok || bk.Count == 0 || bk.Begin >= bk.End {
		// Stale ring entry; drop it so the pass can move on.
		if err := t.unlink(origin); err != nil {
			return headView{}, err
		}
		if ok {
			t.drop(origin)
		}
		b := e.db.NewBatch()
		err := t.commit(ctx, b)
		b.Close()
		if err != nil {
			return headView{}, err
		}
		return headView{settled: true}, nil
	}

	index := bk.Begin
	pg, raw, err := e.loadPage(origin, index)
	if errors.Is(err, pebblestore.ErrKeyNotFound) {
		dropped, serr := e.skipMissingPage(ctx, t, origin, bk, index)
		if serr != nil {
			return headView{}, serr
		}
		return headView{again: !dropped, settled: dropped}, nil
	}
	if err != nil && errors.Is(err, errCorruptPage) {
		dropped, qerr := e.quarantine(ctx, t, origin, bk, index, raw, err)
		if qerr != nil {
			return headView{}, qerr
		}
		return headView{again: !dropped, settled: dropped}, nil
	}
	if err != nil {
		return headView{}, err
	}
	if verr := pg.validate(); verr != nil {
		dropped, qerr := e.quarantine(ctx, t, origin, bk, index, raw, verr)
		if qerr != nil {
			return headView{}, qerr
		}
		return headView{again: !dropped, settled: dropped}, nil
	}
	payload, perr := pg.peek()
	if perr != nil {
		dropped, qerr := e.quarantine(ctx, t, origin, bk, index, raw, perr)
		if qerr != nil {
			return headView{}, qerr
		}
		return headView{again: !dropped, settled: dropped}, nil
	}
	return headView{payload: payload, index: index}, nil
}

// reloadHead fetches origin's book and page at index through the txn.
// Called after a handler returns: the page may have grown through a
// concurrent enqueue, so the pre-handler snapshot is never reused.
func (e *Engine) reloadHead(t *ringTxn, origin string, index uint32) (*book, *page, error) {
	bk, ok, err := t.book(origin)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, errors.New("mq: book vanished mid-turn")
	}
	pg, _, err := e.loadPage(origin, index)
	if err != nil {
		return nil, nil, err
	}
	return bk, pg, nil
}

// settleSuccess consumes origin's head message against fresh state.
func (e *Engine) settleSuccess(ctx context.Context, origin string, index uint32) (reaped, dropped bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.newTxn()
	bk, pg, err := e.reloadHead(t, origin, index)
	if err != nil {
		return false, false, err
	}
	return e.consumeFront(ctx, t, origin, bk, index, pg, nil)
}

// settleEscalate parks origin's head message overweight against fresh
// state.
func (e *Engine) settleEscalate(ctx context.Context, origin string, index uint32, payload []byte, reason string) (reaped, dropped bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.newTxn()
	bk, pg, err := e.reloadHead(t, origin, index)
	if err != nil {
		return false, false, err
	}
	return e.escalate(ctx, t, origin, bk, index, pg, payload, reason)
}

// temporaryResult reports how a temporary failure was settled.
type temporaryResult struct {
	escalated bool
	reaped    bool
	dropped   bool
	retry     uint32
}

// settleTemporary bumps the head message's retry counter against fresh
// state, force-escalating once the bound is crossed.
func (e *Engine) settleTemporary(ctx context.Context, origin string, index uint32, payload []byte) (temporaryResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.newTxn()
	bk, pg, err := e.reloadHead(t, origin, index)
	if err != nil {
		return temporaryResult{}, err
	}
	pg.Retry++
	if pg.Retry > e.opts.MaxTemporaryRetries {
		// Liveness bound: forced escalation to overweight.
		reaped, dropped, err := e.escalate(ctx, t, origin, bk, index, pg, payload,
			fmt.Sprintf("retry bound exceeded after %d temporary failures", pg.Retry-1))
		if err != nil {
			return temporaryResult{}, err
		}
		return temporaryResult{escalated: true, reaped: reaped, dropped: dropped, retry: pg.Retry}, nil
	}
	// Persist the bumped retry counter; message stays at the front and
	// the origin rotates to the tail.
	b := e.db.NewBatch()
	defer b.Close()
	if err := b.Set(pageKey(origin, index), encodePage(pg), nil); err != nil {
		return temporaryResult{}, err
	}
	if err := e.db.CommitBatch(ctx, b); err != nil {
		return temporaryResult{}, err
	}
	return temporaryResult{retry: pg.Retry}, nil
}

// consumeFront removes the head message of origin's oldest live page,
// updating page, book, and ring in one batch. stage, when set, adds
// extra writes to the same batch (overweight parking). Callers hold the
// engine lock.
func (e *Engine) consumeFront(ctx context.Context, t *ringTxn, origin string, bk *book, index uint32, pg *page, stage func(b *pebble.Batch) error) (reaped, dropped bool, err error) {
	n, err := pg.consumeOne()
	if err != nil {
		return false, false, err
	}
	bk.Count--
	if bk.Size >= uint64(n) {
		bk.Size -= uint64(n)
	} else {
		bk.Size = 0
	}
	t.mark(origin)

	b := e.db.NewBatch()
	defer b.Close()
	if pg.Remaining == 0 {
		if err := b.Delete(pageKey(origin, index), nil); err != nil {
			return false, false, err
		}
		if index == bk.Begin {
			bk.Begin++
		}
		reaped = true
	} else if err := b.Set(pageKey(origin, index), encodePage(pg), nil); err != nil {
		return false, false, err
	}
	if bk.Count == 0 {
		if err := t.unlink(origin); err != nil {
			return false, false, err
		}
		t.drop(origin)
		dropped = true
	}
	if stage != nil {
		if err := stage(b); err != nil {
			return false, false, err
		}
	}
	if err := t.commit(ctx, b); err != nil {
		return false, false, err
	}
	return reaped, dropped, nil
}

// escalate consumes the head message from the queue and parks it in the
// overweight store under a fresh handle, atomically.
func (e *Engine) escalate(ctx context.Context, t *ringTxn, origin string, bk *book, index uint32, pg *page, payload []byte, reason string) (bool, bool, error) {
	handle := newHandle()
	body := append([]byte(nil), payload...)
	reaped, dropped, err := e.consumeFront(ctx, t, origin, bk, index, pg, func(b *pebble.Batch) error {
		return stageOverweight(b, handle, origin, body)
	})
	if err != nil {
		return false, false, err
	}
	e.opts.Events.MessageOverweight(origin, handle, len(body), reason)
	if reaped {
		e.opts.Events.PageReaped(origin, index)
	}
	e.logger.Warn("message parked overweight",
		log.Str("origin", origin),
		log.Str("handle", handle),
		log.Int("size", len(body)),
		log.Str("reason", reason))
	return reaped, dropped, nil
}

// skipMissingPage advances the window past a page the book references
// but the store no longer holds. Aggregates for it are unknown, so only
// the window moves; an emptied window drops the book.
func (e *Engine) skipMissingPage(ctx context.Context, t *ringTxn, origin string, bk *book, index uint32) (bool, error) {
	e.logger.Error("live page missing from store",
		log.Str("origin", origin),
		log.Uint64("page", uint64(index)))
	bk.Begin = index + 1
	t.mark(origin)
	dropped := false
	if bk.Begin >= bk.End {
		if err := t.unlink(origin); err != nil {
			return false, err
		}
		t.drop(origin)
		dropped = true
	}
	b := e.db.NewBatch()
	err := t.commit(ctx, b)
	b.Close()
	return dropped, err
}

// quarantine parks a corrupt page out of the live window. The fault is
// fatal to that page only; the queue keeps serving.
func (e *Engine) quarantine(ctx context.Context, t *ringTxn, origin string, bk *book, index uint32, raw []byte, cause error) (bool, error) {
	b := e.db.NewBatch()
	defer b.Close()
	if err := b.Set(quarantineKey(origin, index), raw, nil); err != nil {
		return false, err
	}
	if err := b.Delete(pageKey(origin, index), nil); err != nil {
		return false, err
	}
	// Subtract the recorded aggregates when the header is readable.
	var rem, remSize uint32
	if len(raw) >= pageHeaderLen {
		rem = binary.BigEndian.Uint32(raw[0:4])
		remSize = binary.BigEndian.Uint32(raw[4:8])
	}
	if uint64(rem) >= bk.Count {
		bk.Count = 0
	} else {
		bk.Count -= uint64(rem)
	}
	if uint64(remSize) >= bk.Size {
		bk.Size = 0
	} else {
		bk.Size -= uint64(remSize)
	}
	bk.Begin = index + 1
	t.mark(origin)
	dropped := false
	if bk.Count == 0 || bk.Begin >= bk.End {
		if err := t.unlink(origin); err != nil {
			return false, err
		}
		t.drop(origin)
		dropped = true
	}
	if err := t.commit(ctx, b); err != nil {
		return false, err
	}
	e.logger.Error("page quarantined",
		log.Str("origin", origin),
		log.Uint64("page", uint64(index)),
		log.Err(cause))
	return dropped, nil
}

// ExecuteOverweight attempts one parked entry against its own budget,
// outside the ready ring. Success removes the entry; any failure leaves
// it untouched, and an unknown handle reports ErrNotFound.
func (e *Engine) ExecuteOverweight(ctx context.Context, handle string, limit weight.Weight) (weight.Weight, error) {
	tok, err := e.acquire()
	if err != nil {
		return 0, err
	}
	defer tok.release()

	raw, err := e.db.Get(owKey(handle))
	if errors.Is(err, pebblestore.ErrKeyNotFound) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	origin, payload, err := decodeOverweight(raw)
	if err != nil {
		return 0, err
	}

	meter := weight.NewMeter(limit)
	out := e.opts.Handler.Process(origin, payload, meter.Remaining())
	switch out.Kind {
	case Success:
		_ = meter.Consume(clamp(out.Weight, meter.Remaining()))
		b := e.db.NewBatch()
		defer b.Close()
		if err := b.Delete(owKey(handle), nil); err != nil {
			return 0, err
		}
		if err := b.Delete(owIndexKey(origin, handle), nil); err != nil {
			return 0, err
		}
		if err := e.db.CommitBatch(ctx, b); err != nil {
			return 0, err
		}
		e.opts.Events.OverweightExecuted(handle, true, meter.Consumed())
		return meter.Consumed(), nil
	case InsufficientWeight:
		return 0, ErrInsufficientWeight
	default:
		e.opts.Events.OverweightExecuted(handle, false, 0)
		if out.Reason != "" {
			return 0, fmt.Errorf("%w: %s", ErrExecuteFailed, out.Reason)
		}
		return 0, ErrExecuteFailed
	}
}
