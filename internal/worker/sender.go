package worker

import (
	"context"
	"errors"
)

// Sender delivers one envelope to a downstream receiver. A nil return is an
// acknowledged delivery. A *SendError return is a delivery failure; any other
// error is treated as a failure with no retry hint.
//
// Send must be idempotent with respect to Envelope.IdempotencyKey: the queue
// is at-least-once and the same envelope may be delivered again after a
// worker crash.
type Sender interface {
	Send(ctx context.Context, env Envelope) error
}

// SendError is a delivery failure with an optional receiver-supplied retry
// hint. HasRetryAfter marks the hint as present: a zero RetryAfterMs with
// the flag set means "retry as soon as allowed" and is clamped to the queue
// floor, not replaced with the worker default.
type SendError struct {
	Message       string
	RetryAfterMs  int64
	HasRetryAfter bool
}

func (e *SendError) Error() string { return e.Message }

// RetryHint extracts the retry delay from an error chain. ok is false when
// the chain carries no hint and the caller should use its own default.
func RetryHint(err error) (ms int64, ok bool) {
	var se *SendError
	if errors.As(err, &se) && se.HasRetryAfter {
		return se.RetryAfterMs, true
	}
	return 0, false
}

// LoopbackSender acknowledges every envelope without sending it anywhere.
// Used for local smoke runs and queue drain tooling.
type LoopbackSender struct{}

func (LoopbackSender) Send(context.Context, Envelope) error { return nil }
