package lease

import "fmt"

// Operation identifies the lease operation being requested.
type Operation int

const (
	OpAcquire Operation = iota
	OpRenew
	OpRelease
)

// String returns the operation name.
func (o Operation) String() string {
	switch o {
	case OpAcquire:
		return "acquire"
	case OpRenew:
		return "renew"
	case OpRelease:
		return "release"
	default:
		return "unknown"
	}
}

// ParseOperation parses an operation name.
func ParseOperation(s string) (Operation, error) {
	switch s {
	case "acquire":
		return OpAcquire, nil
	case "renew":
		return OpRenew, nil
	case "release":
		return OpRelease, nil
	default:
		return 0, fmt.Errorf("lease: unknown operation %q", s)
	}
}

// Action is the outcome of a lease decision.
type Action int

const (
	ActionGranted Action = iota
	ActionDenied
)

// String returns the action name.
func (a Action) String() string {
	if a == ActionGranted {
		return "granted"
	}
	return "denied"
}

// ReasonCode explains a denial. Empty on grants.
type ReasonCode string

const (
	ReasonNone           ReasonCode = ""
	ReasonTTLOutOfBounds ReasonCode = "TTL_OUT_OF_BOUNDS"
	ReasonHeldByOther    ReasonCode = "HELD_BY_OTHER"
	ReasonNotFound       ReasonCode = "NOT_FOUND"
	ReasonTokenInvalid   ReasonCode = "TOKEN_INVALID"
)

// WorkOrderRef identifies the unit of work a lease protects.
type WorkOrderRef struct {
	TenantID    string `json:"tenant_id"`
	WorkOrderID string `json:"work_order_id"`
}

// Snapshot is the caller-supplied view of the current lease row, if any.
// An expired row is logically absent but still informative for takeover.
type Snapshot struct {
	Exists      bool   `json:"exists"`
	OwnerID     string `json:"owner_id,omitempty"`
	Token       string `json:"token,omitempty"`
	ExpiresAtNs int64  `json:"expires_at_ns,omitempty"`
}

// Request carries one lease operation against a work order.
type Request struct {
	Ref     WorkOrderRef
	OwnerID string
	Op      Operation
	// TTLMs is the requested lease duration. Ignored for Release.
	TTLMs int64
	// NowNs is the caller's monotonic clock reading; the coordinator never
	// reads wall clocks itself.
	NowNs int64
	// Token is the presented lease token (Renew/Release) or, for Acquire,
	// an optional caller-chosen token to issue instead of a derived one.
	Token string
	// MaxTTLMs bounds grants; 0 means DefaultMaxTTLMs.
	MaxTTLMs int64
}

// Facts are the boolean findings PolicyEvaluate derives from a request and
// snapshot. DecisionCompute consumes them without re-reading the snapshot's
// authorization state.
type Facts struct {
	LeaseExists   bool `json:"lease_exists"`
	LeaseExpired  bool `json:"lease_expired"`
	OwnerMatch    bool `json:"owner_match"`
	TokenMatch    bool `json:"token_match"`
	TTLInBounds   bool `json:"ttl_in_bounds"`
	GrantEligible bool `json:"grant_eligible"`
}

// Decision is the emitted (never stored) outcome of a lease operation.
type Decision struct {
	Action Action     `json:"action"`
	Reason ReasonCode `json:"reason,omitempty"`
	// Token and ExpiresAtNs are set on granted Acquire/Renew. A granted
	// Release leaves both zero: the lease is cleared.
	Token       string `json:"token,omitempty"`
	ExpiresAtNs int64  `json:"expires_at_ns,omitempty"`
	// HeldByOwner/HeldUntilNs are populated on denials where the holder is
	// known, so callers can decide to wait or fail fast.
	HeldByOwner string `json:"held_by_owner,omitempty"`
	HeldUntilNs int64  `json:"held_until_ns,omitempty"`
	// ResumeFromLedger is set on an Acquire that takes over an expired
	// lease: the new owner must replay the work order's durable ledger
	// before resuming, because the previous owner may have crashed
	// mid-effect.
	ResumeFromLedger bool `json:"resume_from_ledger_required"`
}

// Granted reports whether the decision grants the operation.
func (d Decision) Granted() bool { return d.Action == ActionGranted }
