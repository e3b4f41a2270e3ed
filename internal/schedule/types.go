package schedule

// Action is the scheduling outcome for a step attempt.
type Action int

const (
	// ActionRetryAt schedules the next attempt at NextDueAtNs.
	ActionRetryAt Action = iota
	// ActionWait pauses without progress: the attempt index does not move.
	ActionWait
	// ActionFail is terminal; no further attempts.
	ActionFail
)

// String returns the action name.
func (a Action) String() string {
	switch a {
	case ActionRetryAt:
		return "retry_at"
	case ActionWait:
		return "wait"
	case ActionFail:
		return "fail"
	default:
		return "unknown"
	}
}

// ReasonSet is the set of failure reason codes considered retryable.
type ReasonSet map[int]struct{}

// NewReasonSet builds a ReasonSet from codes.
func NewReasonSet(codes ...int) ReasonSet {
	s := make(ReasonSet, len(codes))
	for _, c := range codes {
		s[c] = struct{}{}
	}
	return s
}

// Contains reports membership.
func (s ReasonSet) Contains(code int) bool {
	_, ok := s[code]
	return ok
}

// Input is the transient attempt state a scheduling decision is computed
// from. It is recomputed per call and never persisted.
type Input struct {
	NowNs           int64
	StepStartedAtNs int64
	TimeoutMs       int64
	MaxRetries      int
	BackoffMs       int64
	AttemptIndex    int
	// LastFailureReason is the failure code of the attempt just finished;
	// HasFailureReason is false when the step has not failed.
	LastFailureReason int
	HasFailureReason  bool
	RetryableReasons  ReasonSet
	// WaitIsPauseOnly documents the contract that a Wait decision never
	// represents forward progress. It must be true.
	WaitIsPauseOnly bool
}

// Facts are the findings PolicyEvaluate derives from an Input.
type Facts struct {
	TimeoutExceeded   bool `json:"timeout_exceeded"`
	MaxRetriesReached bool `json:"max_retries_reached"`
	RetryAllowed      bool `json:"retry_allowed"`
	NextAttemptIndex  int  `json:"next_attempt_index"`
}

// Decision is the scheduling outcome. Invariant: Action == ActionWait
// implies AttemptNextIndex == AttemptIndex.
type Decision struct {
	Action           Action `json:"action"`
	AttemptIndex     int    `json:"attempt_index"`
	AttemptNextIndex int    `json:"attempt_next_index"`
	NextDueAtNs      int64  `json:"next_due_at_ns,omitempty"`
}
