package mq

import "github.com/while-basic/celaya-parachain-sub004/pkg/weight"

// EventSink receives engine observations. Implementations must be cheap
// and must not call back into the engine; they run inside the service
// loop.
type EventSink interface {
	// MessageProcessed fires after a successful consume.
	MessageProcessed(origin string, size int, used weight.Weight)
	// MessageOverweight fires when a message is parked under a handle,
	// either on permanent failure or after the retry bound.
	MessageOverweight(origin, handle string, size int, reason string)
	// OverweightExecuted fires after a manual execution attempt.
	OverweightExecuted(handle string, ok bool, used weight.Weight)
	// PageReaped fires when a fully drained page is deleted.
	PageReaped(origin string, index uint32)
}

// NoopSink discards every event.
type NoopSink struct{}

func (NoopSink) MessageProcessed(string, int, weight.Weight)      {}
func (NoopSink) MessageOverweight(string, string, int, string)    {}
func (NoopSink) OverweightExecuted(string, bool, weight.Weight)   {}
func (NoopSink) PageReaped(string, uint32)                        {}

// Sinks fans events out to several sinks in order.
func Sinks(sinks ...EventSink) EventSink {
	return multiSink(sinks)
}

type multiSink []EventSink

func (m multiSink) MessageProcessed(origin string, size int, used weight.Weight) {
	for _, s := range m {
		s.MessageProcessed(origin, size, used)
	}
}

func (m multiSink) MessageOverweight(origin, handle string, size int, reason string) {
	for _, s := range m {
		s.MessageOverweight(origin, handle, size, reason)
	}
}

func (m multiSink) OverweightExecuted(handle string, ok bool, used weight.Weight) {
	for _, s := range m {
		s.OverweightExecuted(handle, ok, used)
	}
}

func (m multiSink) PageReaped(origin string, index uint32) {
	for _, s := range m {
		s.PageReaped(origin, index)
	}
}
