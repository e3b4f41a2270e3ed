package schedule

import (
	"errors"
	"fmt"
)

// ErrContract marks malformed scheduling inputs, rejected before evaluation.
var ErrContract = errors.New("schedule: contract violation")

func validate(in Input) error {
	if !in.WaitIsPauseOnly {
		return fmt.Errorf("%w: wait_is_pause_only must be asserted", ErrContract)
	}
	if in.NowNs <= 0 || in.StepStartedAtNs <= 0 {
		return fmt.Errorf("%w: timestamps must be positive", ErrContract)
	}
	if in.TimeoutMs <= 0 {
		return fmt.Errorf("%w: timeout_ms must be positive", ErrContract)
	}
	if in.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must be non-negative", ErrContract)
	}
	if in.BackoffMs < 0 {
		return fmt.Errorf("%w: backoff_ms must be non-negative", ErrContract)
	}
	if in.AttemptIndex < 0 {
		return fmt.Errorf("%w: attempt_index must be non-negative", ErrContract)
	}
	return nil
}

// PolicyEvaluate derives scheduling facts from an attempt's timing and
// failure history. Timeout and failure-reason retryability are independent
// checks: a timed-out step is surfaced through the same machinery, never
// silently retried for free.
func PolicyEvaluate(in Input) (Facts, error) {
	if err := validate(in); err != nil {
		return Facts{}, err
	}

	f := Facts{
		TimeoutExceeded:   (in.NowNs - in.StepStartedAtNs) >= in.TimeoutMs*int64(1_000_000),
		MaxRetriesReached: in.AttemptIndex >= in.MaxRetries,
		NextAttemptIndex:  in.AttemptIndex,
	}
	f.RetryAllowed = in.HasFailureReason &&
		in.RetryableReasons.Contains(in.LastFailureReason) &&
		!f.MaxRetriesReached
	if f.RetryAllowed {
		f.NextAttemptIndex = in.AttemptIndex + 1
	}
	return f, nil
}
