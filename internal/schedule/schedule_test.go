package schedule

import (
	"errors"
	"testing"
)

const (
	reasonTransport = 10
	reasonThrottled = 11
	reasonCorrupt   = 99
)

func baseInput() Input {
	return Input{
		NowNs:           10_000_000,
		StepStartedAtNs: 1_000_000,
		TimeoutMs:       5_000,
		MaxRetries:      3,
		BackoffMs:       2_000,
		AttemptIndex:    1,
		RetryableReasons: NewReasonSet(
			reasonTransport,
			reasonThrottled,
		),
		WaitIsPauseOnly: true,
	}
}

func TestRetryAtAdvancesIndexAndSetsDueTime(t *testing.T) {
	in := baseInput()
	in.LastFailureReason = reasonTransport
	in.HasFailureReason = true

	facts, d, err := Evaluate(in)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !facts.RetryAllowed || facts.MaxRetriesReached {
		t.Fatalf("facts: %+v", facts)
	}
	if d.Action != ActionRetryAt {
		t.Fatalf("action: %s", d.Action)
	}
	if d.AttemptNextIndex != in.AttemptIndex+1 {
		t.Fatalf("attempt_next_index: %d", d.AttemptNextIndex)
	}
	if d.NextDueAtNs != in.NowNs+in.BackoffMs*1_000_000 {
		t.Fatalf("next_due_at: %d", d.NextDueAtNs)
	}
}

// Scenario: attempt_index=1, last_failure_reason=99 (not retryable),
// max_retries=3. Budget remains, so the step pauses without progress.
func TestNonRetryableReasonWithBudgetWaits(t *testing.T) {
	in := baseInput()
	in.LastFailureReason = reasonCorrupt
	in.HasFailureReason = true

	_, d, err := Evaluate(in)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Action != ActionWait {
		t.Fatalf("action: %s", d.Action)
	}
	if d.AttemptNextIndex != 1 {
		t.Fatalf("wait consumed an attempt: %+v", d)
	}
	if err := ValidateDecision(d); err != nil {
		t.Fatalf("valid wait rejected: %v", err)
	}
}

func TestRetryBudgetExhaustedFails(t *testing.T) {
	in := baseInput()
	in.AttemptIndex = 3 // == MaxRetries
	in.LastFailureReason = reasonTransport
	in.HasFailureReason = true

	facts, d, err := Evaluate(in)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if facts.RetryAllowed || !facts.MaxRetriesReached {
		t.Fatalf("facts: %+v", facts)
	}
	if d.Action != ActionFail {
		t.Fatalf("action: %s", d.Action)
	}
}

func TestNoFailureReasonWaits(t *testing.T) {
	in := baseInput()
	// HasFailureReason false: nothing to retry yet.
	_, d, err := Evaluate(in)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Action != ActionWait || d.AttemptNextIndex != d.AttemptIndex {
		t.Fatalf("decision: %+v", d)
	}
}

func TestTimeoutIsIndependentFact(t *testing.T) {
	in := baseInput()
	in.NowNs = in.StepStartedAtNs + in.TimeoutMs*1_000_000 // boundary counts as exceeded
	in.LastFailureReason = reasonTransport
	in.HasFailureReason = true

	facts, d, err := Evaluate(in)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !facts.TimeoutExceeded {
		t.Fatalf("boundary timeout not flagged: %+v", facts)
	}
	// Retryability is judged on the failure reason, not the timeout.
	if d.Action != ActionRetryAt {
		t.Fatalf("action: %s", d.Action)
	}
}

func TestValidateDecisionRejectsAdvancingWait(t *testing.T) {
	bad := Decision{Action: ActionWait, AttemptIndex: 1, AttemptNextIndex: 2}
	if err := ValidateDecision(bad); !errors.Is(err, ErrContract) {
		t.Fatalf("expected contract violation, got %v", err)
	}
}

func TestContractViolations(t *testing.T) {
	cases := []func(*Input){
		func(in *Input) { in.WaitIsPauseOnly = false },
		func(in *Input) { in.NowNs = 0 },
		func(in *Input) { in.StepStartedAtNs = -1 },
		func(in *Input) { in.TimeoutMs = 0 },
		func(in *Input) { in.MaxRetries = -1 },
		func(in *Input) { in.BackoffMs = -1 },
		func(in *Input) { in.AttemptIndex = -1 },
	}
	for i, mutate := range cases {
		in := baseInput()
		mutate(&in)
		if _, err := PolicyEvaluate(in); !errors.Is(err, ErrContract) {
			t.Fatalf("case %d: expected contract violation, got %v", i, err)
		}
	}
}
