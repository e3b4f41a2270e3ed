package lease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	pebblestore "github.com/kestrelhq/keel/internal/storage/pebble"
)

// ErrRowHeld is returned by Apply when committing would overwrite a live
// lease owned by someone else. It means the decision was computed against
// a stale snapshot; the caller should re-evaluate.
var ErrRowHeld = errors.New("lease: row held by another owner")

// Registry persists lease rows in Pebble for callers that do not bring
// their own durable store. It holds no policy: callers evaluate a Request
// against Snapshot() and commit granted decisions with Apply(). A mutex
// serializes every read-evaluate-commit section, so two concurrent
// Evaluate calls for the same work order cannot both observe the row as
// free and both be granted.
//
// Keyspace: ls/{tenant}/{work_order}
type Registry struct {
	db *pebblestore.DB
	mu sync.Mutex
}

// row is the stored shape of an active lease.
type row struct {
	OwnerID     string `json:"owner_id"`
	Token       string `json:"token"`
	ExpiresAtNs int64  `json:"expires_at_ns"`
}

// NewRegistry creates a Registry over the given store.
func NewRegistry(db *pebblestore.DB) *Registry {
	return &Registry{db: db}
}

func leaseKey(ref WorkOrderRef) []byte {
	return []byte(fmt.Sprintf("ls/%s/%s", ref.TenantID, ref.WorkOrderID))
}

// Snapshot reads the current lease row for a work order. A missing row
// yields Snapshot{Exists: false}; expiry is judged by the caller's clock,
// not here.
func (r *Registry) Snapshot(ref WorkOrderRef) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot(ref)
}

func (r *Registry) snapshot(ref WorkOrderRef) (Snapshot, error) {
	data, err := r.db.Get(leaseKey(ref))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return Snapshot{}, nil
		}
		return Snapshot{}, fmt.Errorf("read lease row: %w", err)
	}
	var rw row
	if err := json.Unmarshal(data, &rw); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal lease row: %w", err)
	}
	return Snapshot{Exists: true, OwnerID: rw.OwnerID, Token: rw.Token, ExpiresAtNs: rw.ExpiresAtNs}, nil
}

// Apply commits a granted decision: Acquire/Renew write the row, Release
// deletes it. Denied decisions are rejected; they carry no state change.
// The row is re-read under the lock before writing: a decision computed
// against a snapshot another caller has since overtaken fails with
// ErrRowHeld instead of clobbering the live lease.
func (r *Registry) Apply(ctx context.Context, ref WorkOrderRef, ownerID string, op Operation, nowNs int64, d Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.apply(ctx, ref, ownerID, op, nowNs, d)
}

func (r *Registry) apply(ctx context.Context, ref WorkOrderRef, ownerID string, op Operation, nowNs int64, d Decision) error {
	if !d.Granted() {
		return fmt.Errorf("lease: cannot apply denied decision (%s)", d.Reason)
	}
	cur, err := r.snapshot(ref)
	if err != nil {
		return err
	}
	if cur.Exists && cur.OwnerID != ownerID && cur.ExpiresAtNs > nowNs {
		return fmt.Errorf("%w: %s holds %s/%s until %d", ErrRowHeld, cur.OwnerID, ref.TenantID, ref.WorkOrderID, cur.ExpiresAtNs)
	}
	key := leaseKey(ref)
	if op == OpRelease {
		return r.db.Delete(key)
	}
	data, err := json.Marshal(row{OwnerID: ownerID, Token: d.Token, ExpiresAtNs: d.ExpiresAtNs})
	if err != nil {
		return fmt.Errorf("marshal lease row: %w", err)
	}
	b := r.db.NewBatch()
	defer b.Close()
	if err := b.Set(key, data, nil); err != nil {
		return fmt.Errorf("write lease row: %w", err)
	}
	return r.db.CommitBatch(ctx, b)
}

// Evaluate reads the snapshot, runs the decision pair, and commits grants,
// all under the registry lock so the snapshot cannot go stale between the
// policy check and the write. It is the end-to-end operation the HTTP API
// and CLI drive.
func (r *Registry) Evaluate(ctx context.Context, req Request) (Facts, Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap, err := r.snapshot(req.Ref)
	if err != nil {
		return Facts{}, Decision{}, err
	}
	facts, decision, err := Evaluate(req, snap)
	if err != nil {
		return Facts{}, Decision{}, err
	}
	if decision.Granted() {
		if err := r.apply(ctx, req.Ref, req.OwnerID, req.Op, req.NowNs, decision); err != nil {
			return Facts{}, Decision{}, err
		}
	}
	return facts, decision, nil
}
