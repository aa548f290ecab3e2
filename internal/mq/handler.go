package mq

import "github.com/while-basic/celaya-parachain-sub004/pkg/weight"

// OutcomeKind classifies one processing attempt.
type OutcomeKind uint8

const (
	// Success: the message was handled; consume it.
	Success OutcomeKind = iota
	// TemporaryFailure: leave the message at the queue front and retry
	// on a later pass, up to the configured bound.
	TemporaryFailure
	// PermanentFailure: the message can never be handled here; park it
	// in the overweight store.
	PermanentFailure
	// InsufficientWeight: the ceiling cannot cover this message. Not a
	// failure; the message stays and the origin yields for the pass.
	InsufficientWeight
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case TemporaryFailure:
		return "temporary-failure"
	case PermanentFailure:
		return "permanent-failure"
	case InsufficientWeight:
		return "insufficient-weight"
	default:
		return "unknown"
	}
}

// Outcome is the handler's report for one attempt: the classification,
// the weight actually spent, and an optional failure reason.
type Outcome struct {
	Kind   OutcomeKind
	Weight weight.Weight
	Reason string
}

// Handler is the injected processing capability. Process is called with
// the remaining weight ceiling and must report the weight it actually
// consumed; reporting more than the ceiling is clamped by the engine.
type Handler interface {
	Process(origin string, payload []byte, ceiling weight.Weight) Outcome
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(origin string, payload []byte, ceiling weight.Weight) Outcome

// Process implements Handler.
func (f HandlerFunc) Process(origin string, payload []byte, ceiling weight.Weight) Outcome {
	return f(origin, payload, ceiling)
}
