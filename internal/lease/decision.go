package lease

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// DeriveToken produces the deterministic lease token for an Acquire grant
// when the caller does not supply one. Identical inputs replay to the same
// token, which keeps crash-replayed acquires idempotent. xxhash64 is stable
// across platforms and Go versions.
func DeriveToken(ref WorkOrderRef, ownerID string, nowNs, ttlMs int64) string {
	sum := xxhash.Sum64String(fmt.Sprintf("%s|%s|%s|%d|%d", ref.TenantID, ref.WorkOrderID, ownerID, nowNs, ttlMs))
	return fmt.Sprintf("tk%016x", sum)
}

// DecisionCompute turns evaluated facts into a grant or denial. Denials are
// ordinary outcomes carrying a reason code; contention is never an error.
func DecisionCompute(f Facts, req Request, snap Snapshot) Decision {
	if !f.GrantEligible {
		d := Decision{Action: ActionDenied, Reason: denialReason(f, req.Op)}
		if f.LeaseExists && !f.LeaseExpired {
			d.HeldByOwner = snap.OwnerID
			d.HeldUntilNs = snap.ExpiresAtNs
		}
		return d
	}

	switch req.Op {
	case OpAcquire:
		token := req.Token
		if token == "" {
			token = DeriveToken(req.Ref, req.OwnerID, req.NowNs, req.TTLMs)
		}
		return Decision{
			Action:      ActionGranted,
			Token:       token,
			ExpiresAtNs: req.NowNs + req.TTLMs*int64(1_000_000),
			// Taking over an expired lease: the previous owner may have
			// crashed mid-effect, so the ledger must be replayed first.
			ResumeFromLedger: f.LeaseExists && f.LeaseExpired,
		}
	case OpRenew:
		return Decision{
			Action:      ActionGranted,
			Token:       snap.Token,
			ExpiresAtNs: req.NowNs + req.TTLMs*int64(1_000_000),
		}
	default: // OpRelease
		return Decision{Action: ActionGranted}
	}
}

// Evaluate runs PolicyEvaluate and DecisionCompute as the pair callers use.
func Evaluate(req Request, snap Snapshot) (Facts, Decision, error) {
	facts, err := PolicyEvaluate(req, snap)
	if err != nil {
		return Facts{}, Decision{}, err
	}
	return facts, DecisionCompute(facts, req, snap), nil
}
