package lease

import (
	"errors"
	"fmt"
)

// DefaultMaxTTLMs bounds requested TTLs when the caller does not configure
// a limit.
const DefaultMaxTTLMs int64 = 600_000

// ErrContract marks malformed requests. They are rejected before any store
// state is consulted and must never be treated as contention.
var ErrContract = errors.New("lease: contract violation")

func validate(req Request) error {
	if req.Ref.TenantID == "" {
		return fmt.Errorf("%w: tenant_id is empty", ErrContract)
	}
	if req.Ref.WorkOrderID == "" {
		return fmt.Errorf("%w: work_order_id is empty", ErrContract)
	}
	if req.OwnerID == "" {
		return fmt.Errorf("%w: owner_id is empty", ErrContract)
	}
	switch req.Op {
	case OpAcquire, OpRenew:
		if req.TTLMs <= 0 {
			return fmt.Errorf("%w: requested_ttl_ms must be positive", ErrContract)
		}
	case OpRelease:
		// Release does not consult the TTL.
	default:
		return fmt.Errorf("%w: unknown operation %d", ErrContract, req.Op)
	}
	if req.NowNs <= 0 {
		return fmt.Errorf("%w: now must be positive", ErrContract)
	}
	return nil
}

// PolicyEvaluate derives boolean facts from a requested operation and the
// current lease snapshot. It is pure: no clocks, no store access.
func PolicyEvaluate(req Request, snap Snapshot) (Facts, error) {
	if err := validate(req); err != nil {
		return Facts{}, err
	}

	maxTTL := req.MaxTTLMs
	if maxTTL <= 0 {
		maxTTL = DefaultMaxTTLMs
	}

	f := Facts{
		LeaseExists: snap.Exists,
		TTLInBounds: req.TTLMs > 0 && req.TTLMs <= maxTTL,
	}
	if snap.Exists {
		f.LeaseExpired = snap.ExpiresAtNs <= req.NowNs
		f.OwnerMatch = snap.OwnerID == req.OwnerID
		f.TokenMatch = req.Token != "" && snap.Token == req.Token
	}

	switch req.Op {
	case OpAcquire:
		f.GrantEligible = f.TTLInBounds && (!f.LeaseExists || f.LeaseExpired || f.OwnerMatch)
	case OpRenew:
		f.GrantEligible = f.TTLInBounds && f.LeaseExists && !f.LeaseExpired && f.OwnerMatch && f.TokenMatch
	case OpRelease:
		f.GrantEligible = f.LeaseExists && !f.LeaseExpired && f.OwnerMatch && f.TokenMatch
	}
	return f, nil
}

// denialReason orders reason codes by precedence for an ineligible request.
func denialReason(f Facts, op Operation) ReasonCode {
	if (op == OpAcquire || op == OpRenew) && !f.TTLInBounds {
		return ReasonTTLOutOfBounds
	}
	if f.LeaseExists && !f.LeaseExpired && !f.OwnerMatch {
		return ReasonHeldByOther
	}
	if op != OpAcquire && (!f.LeaseExists || f.LeaseExpired) {
		return ReasonNotFound
	}
	return ReasonTokenInvalid
}
