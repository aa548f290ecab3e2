package mq

import (
	"context"
	"errors"
	"strings"
	"testing"

	pebblestore "github.com/while-basic/celaya-parachain-sub004/internal/storage/pebble"
	"github.com/while-basic/celaya-parachain-sub004/pkg/weight"
)

func TestServiceDrainsInOrder(t *testing.T) {
	var seen [][]byte
	rec := &recorder{}
	e := newTestEngine(t, Options{
		Handler: costHandler(1, &seen),
		Events:  rec,
	})

	want := []string{"m1", "m2", "m3", "m4", "m5", "m6"}
	mustEnqueue(t, e, "a", want...)

	rep, err := e.Service(context.Background(), weight.Max)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	if rep.Processed != 6 || rep.WeightUsed != 6 || rep.OriginsTouched != 1 {
		t.Fatalf("report = %+v, want 6 processed, 6 weight, 1 origin", rep)
	}
	for i := range want {
		if string(seen[i]) != want[i] {
			t.Fatalf("processed[%d] = %q, want %q", i, seen[i], want[i])
		}
	}

	// A drained origin leaves no trace: no footprint, no book record,
	// and an empty ring.
	fp, err := e.FootprintOf("a")
	if err != nil {
		t.Fatalf("footprint: %v", err)
	}
	if fp != (Footprint{}) {
		t.Fatalf("footprint after drain = %+v, want zeroes", fp)
	}
	if _, err := e.db.Get(bookKey("a")); !errors.Is(err, pebblestore.ErrKeyNotFound) {
		t.Fatalf("book record after drain: err=%v, want not found", err)
	}
	if head, size, _ := e.ringSnapshot(); head != "" || size != 0 {
		t.Fatalf("ring after drain = %q/%d, want empty", head, size)
	}
}

func TestServiceResumesAcrossInvocations(t *testing.T) {
	var seen [][]byte
	e := newTestEngine(t, Options{Handler: costHandler(1, &seen)})

	want := []string{"m1", "m2", "m3", "m4", "m5"}
	mustEnqueue(t, e, "a", want...)

	var total uint64
	for i := 0; total < 5; i++ {
		if i > 10 {
			t.Fatal("queue not draining under the per-call budget")
		}
		rep, err := e.Service(context.Background(), 2)
		if err != nil {
			t.Fatalf("service %d: %v", i, err)
		}
		if rep.WeightUsed > 2 {
			t.Fatalf("service %d used %d weight, limit was 2", i, rep.WeightUsed)
		}
		total += rep.Processed
	}
	if total != 5 {
		t.Fatalf("processed %d messages total, want 5", total)
	}
	for i := range want {
		if string(seen[i]) != want[i] {
			t.Fatalf("processed[%d] = %q, want %q across invocations", i, seen[i], want[i])
		}
	}
	if head, size, _ := e.ringSnapshot(); head != "" || size != 0 {
		t.Fatalf("ring = %q/%d after draining, want empty", head, size)
	}
}

func TestServiceRoundRobinFairness(t *testing.T) {
	var order []string
	h := HandlerFunc(func(origin string, payload []byte, ceiling weight.Weight) Outcome {
		if ceiling < 1 {
			return Outcome{Kind: InsufficientWeight, Weight: 1}
		}
		order = append(order, origin)
		return Outcome{Kind: Success, Weight: 1}
	})
	e := newTestEngine(t, Options{Handler: h, TurnMessageCap: 1})

	mustEnqueue(t, e, "a", "a1", "a2")
	mustEnqueue(t, e, "b", "b1", "b2")
	mustEnqueue(t, e, "c", "c1", "c2")

	// Budget for exactly one message per origin.
	rep, err := e.Service(context.Background(), 3)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	if rep.Processed != 3 || rep.OriginsTouched != 3 {
		t.Fatalf("report = %+v, want one message from each of 3 origins", rep)
	}
	if !sameOrder(order, []string{"a", "b", "c"}) {
		t.Fatalf("service order = %v, want [a b c]", order)
	}

	// The next invocation picks up the same rotation.
	order = order[:0]
	if _, err := e.Service(context.Background(), 3); err != nil {
		t.Fatalf("second service: %v", err)
	}
	if !sameOrder(order, []string{"a", "b", "c"}) {
		t.Fatalf("second service order = %v, want [a b c]", order)
	}
	if head, size, _ := e.ringSnapshot(); head != "" || size != 0 {
		t.Fatalf("ring = %q/%d after draining, want empty", head, size)
	}
}

func TestServiceInsufficientForFirstMessage(t *testing.T) {
	e := newTestEngine(t, Options{Handler: costHandler(10, nil)})
	mustEnqueue(t, e, "a", "heavy")

	rep, err := e.Service(context.Background(), 5)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	if rep.Processed != 0 || rep.WeightUsed != 0 {
		t.Fatalf("report = %+v, want nothing processed", rep)
	}

	// The message is retained, not parked.
	fp, err := e.FootprintOf("a")
	if err != nil {
		t.Fatalf("footprint: %v", err)
	}
	if fp.Messages != 1 || fp.OverweightMessages != 0 {
		t.Fatalf("footprint = %+v, want 1 queued, 0 parked", fp)
	}

	// A later invocation with enough budget drains it.
	rep, err = e.Service(context.Background(), 10)
	if err != nil {
		t.Fatalf("retry service: %v", err)
	}
	if rep.Processed != 1 || rep.WeightUsed != 10 {
		t.Fatalf("retry report = %+v, want the message drained at cost 10", rep)
	}
}

func TestServicePartialBudgetStopsCleanly(t *testing.T) {
	e := newTestEngine(t, Options{Handler: costHandler(2, nil)})
	mustEnqueue(t, e, "a", "a1")
	mustEnqueue(t, e, "b", "b1")

	// Budget covers one message and leaves a remainder too small for
	// the second; the second stays queued.
	rep, err := e.Service(context.Background(), 3)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	if rep.Processed != 1 || rep.WeightUsed != 2 {
		t.Fatalf("report = %+v, want 1 processed at weight 2", rep)
	}
	fp, err := e.FootprintOf("b")
	if err != nil {
		t.Fatalf("footprint: %v", err)
	}
	if fp.Messages != 1 {
		t.Fatalf("origin b footprint = %+v, want its message retained", fp)
	}
}

func TestServiceTemporaryFailureRetriesThenParks(t *testing.T) {
	rec := &recorder{}
	h := HandlerFunc(func(string, []byte, weight.Weight) Outcome {
		return Outcome{Kind: TemporaryFailure, Weight: 1, Reason: "downstream busy"}
	})
	e := newTestEngine(t, Options{
		Handler:             h,
		Events:              rec,
		MaxTemporaryRetries: 2,
	})
	mustEnqueue(t, e, "a", "stuck")

	// Two invocations retry in place.
	for i := 0; i < 2; i++ {
		rep, err := e.Service(context.Background(), weight.Max)
		if err != nil {
			t.Fatalf("service %d: %v", i, err)
		}
		if rep.Processed != 0 {
			t.Fatalf("service %d processed %d, want 0", i, rep.Processed)
		}
		if len(rec.overweight) != 0 {
			t.Fatalf("service %d parked the message early", i)
		}
	}

	// The third failure crosses the bound and the message is forced out
	// of the queue, keeping the origin live.
	if _, err := e.Service(context.Background(), weight.Max); err != nil {
		t.Fatalf("escalating service: %v", err)
	}
	if len(rec.overweight) != 1 {
		t.Fatalf("parked %d messages, want 1", len(rec.overweight))
	}
	if !strings.Contains(rec.reasons[0], "retry bound") {
		t.Fatalf("park reason = %q, want a retry bound note", rec.reasons[0])
	}

	fp, err := e.FootprintOf("a")
	if err != nil {
		t.Fatalf("footprint: %v", err)
	}
	if fp.Messages != 0 || fp.OverweightMessages != 1 || fp.OverweightSize != 5 {
		t.Fatalf("footprint = %+v, want the message parked", fp)
	}
	if head, size, _ := e.ringSnapshot(); head != "" || size != 0 {
		t.Fatalf("ring = %q/%d, want empty after parking", head, size)
	}
}

func TestPermanentFailureParksAndExecutes(t *testing.T) {
	rec := &recorder{}
	failing := true
	h := HandlerFunc(func(string, []byte, weight.Weight) Outcome {
		if failing {
			return Outcome{Kind: PermanentFailure, Weight: 1, Reason: "unroutable"}
		}
		return Outcome{Kind: Success, Weight: 4}
	})
	e := newTestEngine(t, Options{Handler: h, Events: rec})
	mustEnqueue(t, e, "a", "doomed")

	if _, err := e.Service(context.Background(), weight.Max); err != nil {
		t.Fatalf("service: %v", err)
	}
	entries, err := e.ListOverweight(0)
	if err != nil {
		t.Fatalf("list overweight: %v", err)
	}
	if len(entries) != 1 || entries[0].Origin != "a" || entries[0].Size != 6 {
		t.Fatalf("overweight entries = %+v, want one 6-byte entry from a", entries)
	}
	handle := entries[0].Handle
	if rec.reasons[0] != "unroutable" {
		t.Fatalf("park reason = %q, want the handler's reason", rec.reasons[0])
	}

	// Manual execution against a dedicated budget.
	failing = false
	used, err := e.ExecuteOverweight(context.Background(), handle, 10)
	if err != nil {
		t.Fatalf("execute overweight: %v", err)
	}
	if used != 4 {
		t.Fatalf("execute used %d weight, want 4", used)
	}
	if len(rec.executed) != 1 || rec.executed[0] != handle+"/true" {
		t.Fatalf("executed events = %v, want success for %s", rec.executed, handle)
	}

	// The handle is gone; retrying is a clean not-found.
	if _, err := e.ExecuteOverweight(context.Background(), handle, 10); !errors.Is(err, ErrNotFound) {
		t.Fatalf("re-execute: got %v, want ErrNotFound", err)
	}
	entries, err = e.ListOverweight(0)
	if err != nil {
		t.Fatalf("list after execute: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("overweight entries after execute = %+v, want none", entries)
	}
}

func TestExecuteOverweightFailuresKeepEntry(t *testing.T) {
	rec := &recorder{}
	mode := PermanentFailure
	h := HandlerFunc(func(_ string, _ []byte, ceiling weight.Weight) Outcome {
		switch mode {
		case InsufficientWeight:
			return Outcome{Kind: InsufficientWeight, Weight: 8}
		default:
			return Outcome{Kind: mode, Weight: 1, Reason: "still broken"}
		}
	})
	e := newTestEngine(t, Options{Handler: h, Events: rec})
	mustEnqueue(t, e, "a", "sticky")
	if _, err := e.Service(context.Background(), weight.Max); err != nil {
		t.Fatalf("service: %v", err)
	}
	entries, err := e.ListOverweight(0)
	if err != nil || len(entries) != 1 {
		t.Fatalf("list: entries=%v err=%v, want one entry", entries, err)
	}
	handle := entries[0].Handle

	mode = InsufficientWeight
	if _, err := e.ExecuteOverweight(context.Background(), handle, 4); !errors.Is(err, ErrInsufficientWeight) {
		t.Fatalf("underfunded execute: got %v, want ErrInsufficientWeight", err)
	}

	mode = PermanentFailure
	if _, err := e.ExecuteOverweight(context.Background(), handle, 10); !errors.Is(err, ErrExecuteFailed) {
		t.Fatalf("failing execute: got %v, want ErrExecuteFailed", err)
	}

	// Both failures leave the entry in place.
	entries, err = e.ListOverweight(0)
	if err != nil || len(entries) != 1 {
		t.Fatalf("entry lost after failed executions: entries=%v err=%v", entries, err)
	}

	// Operator gives up.
	if err := e.DiscardOverweight(handle); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if err := e.DiscardOverweight(handle); !errors.Is(err, ErrNotFound) {
		t.Fatalf("re-discard: got %v, want ErrNotFound", err)
	}
	fp, err := e.FootprintOf("a")
	if err != nil {
		t.Fatalf("footprint: %v", err)
	}
	if fp != (Footprint{}) {
		t.Fatalf("footprint after discard = %+v, want zeroes", fp)
	}
}

func TestServiceReapsEveryDrainedPage(t *testing.T) {
	rec := &recorder{}
	e := newTestEngine(t, Options{
		Handler:      costHandler(1, nil),
		Events:       rec,
		PageCapacity: 8,
	})

	// Four 4-byte messages across two pages.
	mustEnqueue(t, e, "a", "aaaa", "bbbb", "cccc", "dddd")
	fp, err := e.FootprintOf("a")
	if err != nil {
		t.Fatalf("footprint: %v", err)
	}
	if fp.Pages != 2 {
		t.Fatalf("setup produced %d pages, want 2", fp.Pages)
	}

	// Two invocations, each funded for one page's worth.
	rep, err := e.Service(context.Background(), 2)
	if err != nil {
		t.Fatalf("first service: %v", err)
	}
	if rep.Processed != 2 {
		t.Fatalf("first service processed %d, want 2", rep.Processed)
	}
	if !sameOrder(rec.reaped, []string{"a/0"}) {
		t.Fatalf("reaped after first service = %v, want [a/0]", rec.reaped)
	}

	rep, err = e.Service(context.Background(), 2)
	if err != nil {
		t.Fatalf("second service: %v", err)
	}
	if rep.Processed != 2 {
		t.Fatalf("second service processed %d, want 2", rep.Processed)
	}
	// The final page is reaped like any other; nothing lingers.
	if !sameOrder(rec.reaped, []string{"a/0", "a/1"}) {
		t.Fatalf("reaped = %v, want [a/0 a/1]", rec.reaped)
	}
	fp, err = e.FootprintOf("a")
	if err != nil {
		t.Fatalf("footprint after drain: %v", err)
	}
	if fp != (Footprint{}) {
		t.Fatalf("footprint after drain = %+v, want zeroes", fp)
	}
}

func TestServiceRejectsReentrantCalls(t *testing.T) {
	var e *Engine
	var inner error
	h := HandlerFunc(func(string, []byte, weight.Weight) Outcome {
		_, inner = e.Service(context.Background(), 1)
		return Outcome{Kind: Success, Weight: 1}
	})
	e = newTestEngine(t, Options{Handler: h})
	mustEnqueue(t, e, "a", "m1")

	if _, err := e.Service(context.Background(), weight.Max); err != nil {
		t.Fatalf("outer service: %v", err)
	}
	if !errors.Is(inner, ErrReentrant) {
		t.Fatalf("nested service: got %v, want ErrReentrant", inner)
	}
}

func TestServiceQuarantinesCorruptPage(t *testing.T) {
	e := newTestEngine(t, Options{Handler: costHandler(1, nil)})
	mustEnqueue(t, e, "a", "m1", "m2")

	// Clobber the live page under the engine.
	if err := e.db.Set(pageKey("a", 0), []byte("garbage")); err != nil {
		t.Fatalf("corrupt page: %v", err)
	}

	rep, err := e.Service(context.Background(), weight.Max)
	if err != nil {
		t.Fatalf("service over corrupt page: %v", err)
	}
	if rep.Processed != 0 {
		t.Fatalf("processed %d from a corrupt page, want 0", rep.Processed)
	}

	// The raw bytes are preserved for inspection and the live key is gone.
	raw, err := e.db.Get(quarantineKey("a", 0))
	if err != nil {
		t.Fatalf("quarantined page: %v", err)
	}
	if string(raw) != "garbage" {
		t.Fatalf("quarantined bytes = %q, want the original value", raw)
	}
	if _, err := e.db.Get(pageKey("a", 0)); !errors.Is(err, pebblestore.ErrKeyNotFound) {
		t.Fatalf("live page key: err=%v, want not found", err)
	}

	// The origin is retired rather than wedged.
	if head, size, _ := e.ringSnapshot(); head != "" || size != 0 {
		t.Fatalf("ring = %q/%d, want empty after quarantine", head, size)
	}

	// The engine keeps serving other traffic.
	mustEnqueue(t, e, "b", "fine")
	rep, err = e.Service(context.Background(), weight.Max)
	if err != nil {
		t.Fatalf("service after quarantine: %v", err)
	}
	if rep.Processed != 1 {
		t.Fatalf("processed %d after quarantine, want 1", rep.Processed)
	}
}

func TestEnqueueDuringHandlerSurvivesTurn(t *testing.T) {
	// A message appended while the handler for the previous one is
	// still running must not be lost when the turn commits.
	var e *Engine
	first := true
	e = newTestEngine(t, Options{
		Handler: HandlerFunc(func(origin string, payload []byte, ceiling weight.Weight) Outcome {
			if ceiling < 1 {
				return Outcome{Kind: InsufficientWeight, Weight: 1}
			}
			if first {
				first = false
				landed := make(chan error, 1)
				go func() {
					landed <- e.Enqueue(context.Background(), origin, []byte("late"))
				}()
				if err := <-landed; err != nil {
					t.Errorf("enqueue during handler: %v", err)
				}
			}
			return Outcome{Kind: Success, Weight: 1}
		}),
	})

	mustEnqueue(t, e, "a", "early")

	rep, err := e.Service(context.Background(), 1)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	if rep.Processed != 1 {
		t.Fatalf("processed %d, want 1", rep.Processed)
	}

	fp, err := e.FootprintOf("a")
	if err != nil {
		t.Fatalf("footprint: %v", err)
	}
	if fp.Messages != 1 || fp.TotalSize != 4 {
		t.Fatalf("footprint after turn = %+v, want the late message queued", fp)
	}
	msgs, err := e.Messages("a")
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 1 || string(msgs[0]) != "late" {
		t.Fatalf("queued = %q, want [late]", msgs)
	}

	rep, err = e.Service(context.Background(), weight.Max)
	if err != nil {
		t.Fatalf("second service: %v", err)
	}
	if rep.Processed != 1 {
		t.Fatalf("second pass processed %d, want 1", rep.Processed)
	}
	if fp, _ := e.FootprintOf("a"); fp != (Footprint{}) {
		t.Fatalf("footprint after drain = %+v, want zeroes", fp)
	}
}

func TestServiceConservesMessages(t *testing.T) {
	// Successes plus parked entries always account for every enqueued
	// message that is no longer queued.
	e := newTestEngine(t, Options{
		MaxTemporaryRetries: 10,
		Handler: HandlerFunc(func(origin string, payload []byte, ceiling weight.Weight) Outcome {
			switch {
			case strings.HasPrefix(string(payload), "ok"):
				return Outcome{Kind: Success, Weight: 1}
			case strings.HasPrefix(string(payload), "park"):
				return Outcome{Kind: PermanentFailure, Weight: 1, Reason: "unhandleable"}
			default:
				return Outcome{Kind: TemporaryFailure, Weight: 1, Reason: "later"}
			}
		}),
	})

	mustEnqueue(t, e, "a", "ok-1", "park-1", "ok-2")
	mustEnqueue(t, e, "b", "again-1", "ok-3")
	const enqueued = 5

	rep, err := e.Service(context.Background(), weight.Max)
	if err != nil {
		t.Fatalf("service: %v", err)
	}

	var queued uint64
	for _, origin := range []string{"a", "b"} {
		fp, err := e.FootprintOf(origin)
		if err != nil {
			t.Fatalf("footprint %s: %v", origin, err)
		}
		queued += fp.Messages
	}
	parked, err := e.ListOverweight(0)
	if err != nil {
		t.Fatalf("list overweight: %v", err)
	}

	// Origin b is blocked behind its retrying head; origin a drained.
	if rep.Processed != 2 || len(parked) != 1 || queued != 2 {
		t.Fatalf("processed=%d parked=%d queued=%d, want 2/1/2", rep.Processed, len(parked), queued)
	}
	if rep.Processed+uint64(len(parked))+queued != enqueued {
		t.Fatalf("ledger: %d processed + %d parked + %d queued != %d enqueued",
			rep.Processed, len(parked), queued, enqueued)
	}
}
