package journal

import (
	"context"

	"github.com/while-basic/celaya-parachain-sub004/pkg/log"
	"github.com/while-basic/celaya-parachain-sub004/pkg/weight"
)

// Sink adapts the Journal to the engine's event callbacks. Append
// failures are logged and dropped; the queue never blocks on its own
// audit trail.
type Sink struct {
	j      *Journal
	logger log.Logger
}

// NewSink builds an engine event sink writing into j.
func NewSink(j *Journal, logger log.Logger) *Sink {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Sink{j: j, logger: logger.With(log.Component("journal"))}
}

func (s *Sink) record(e Entry) {
	if _, err := s.j.Append(context.Background(), e); err != nil {
		s.logger.Error("journal append failed", log.Str("kind", e.Kind), log.Err(err))
	}
}

func (s *Sink) MessageProcessed(origin string, size int, used weight.Weight) {
	s.record(Entry{Kind: KindProcessed, Origin: origin, Size: size, Weight: uint64(used)})
}

func (s *Sink) MessageOverweight(origin, handle string, size int, reason string) {
	s.record(Entry{Kind: KindOverweight, Origin: origin, Handle: handle, Size: size, Reason: reason})
}

func (s *Sink) OverweightExecuted(handle string, ok bool, used weight.Weight) {
	e := Entry{Kind: KindOverweightExecuted, Handle: handle, Weight: uint64(used)}
	if !ok {
		e.Reason = "failed"
	}
	s.record(e)
}

func (s *Sink) PageReaped(origin string, index uint32) {
	s.record(Entry{Kind: KindPageReaped, Origin: origin, Page: index})
}
