package mq

import "errors"

var (
	// ErrTooLarge reports a message whose payload alone exceeds the page
	// capacity. The caller decides whether to drop or shrink it.
	ErrTooLarge = errors.New("mq: message exceeds page capacity")

	// ErrInsufficientWeight is the invocation-level stop signal: the
	// given budget cannot cover even one message. Not a storage error.
	ErrInsufficientWeight = errors.New("mq: insufficient weight")

	// ErrReentrant rejects a Service or ExecuteOverweight call made
	// while another one is still running.
	ErrReentrant = errors.New("mq: service already in progress")

	// ErrNotFound reports an unknown overweight handle. A handle that
	// already executed successfully is gone, so re-execution is a no-op.
	ErrNotFound = errors.New("mq: overweight entry not found")

	// ErrExecuteFailed reports a failed manual overweight execution.
	// The entry is left untouched.
	ErrExecuteFailed = errors.New("mq: overweight execution failed")

	// ErrBadOrigin rejects empty, oversized, or malformed origin names.
	ErrBadOrigin = errors.New("mq: invalid origin")

	// errCorruptPage marks a page whose recorded counters disagree with
	// its heap. Such pages are quarantined, never served.
	errCorruptPage = errors.New("mq: page counters disagree with contents")
)
