package syncqueue

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	pebblestore "github.com/kestrelhq/keel/internal/storage/pebble"
	"github.com/kestrelhq/keel/pkg/id"
	"github.com/kestrelhq/keel/pkg/log"
)

const (
	// DefaultBatchSize bounds DequeueBatch when maxItems <= 0.
	DefaultBatchSize = 16
	// DefaultLeaseMs is applied when DequeueBatch is called with leaseMs <= 0.
	DefaultLeaseMs = 30_000

	// FailCommit clamps the caller-supplied retry delay into this window.
	minRetryMs = 1_000
	maxRetryMs = 300_000

	// LastError is truncated to this many bytes before storage.
	maxErrorLen = 256
)

var (
	// ErrNotFound is returned when no row exists for the given job id.
	ErrNotFound = errors.New("syncqueue: job not found")
	// ErrWrongState is returned when an operation is applied to a row whose
	// state does not admit it (e.g. acking a row that is not in flight).
	ErrWrongState = errors.New("syncqueue: job in wrong state")
	// ErrLeaseLost is returned when a commit arrives from a worker that no
	// longer holds the row's lease: its lease expired and the row has since
	// been re-leased or rescheduled. The late worker's delivery still
	// happened, which is the at-least-once duplicate the idempotency key
	// exists for.
	ErrLeaseLost = errors.New("syncqueue: lease no longer held")
)

// Queue is the durable sync-job queue. All mutations go through a single
// process-wide Queue instance and commit one atomic Pebble batch each, so a
// crash between operations never leaves a row half-moved between states.
type Queue struct {
	db     *pebblestore.DB
	gen    *id.Generator
	logger log.Logger

	mu sync.Mutex
}

// Open initializes a Queue over the given store.
func Open(db *pebblestore.DB, logger log.Logger) *Queue {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &Queue{
		db:     db,
		gen:    id.NewGenerator(),
		logger: logger.WithComponent("syncqueue"),
	}
}

// Enqueue persists a new sync job in Queued state and returns its id.
// Kind, TenantID and DeviceID are required; an empty IdempotencyKey is
// replaced with a fresh UUID so downstream receivers can always dedupe.
func (q *Queue) Enqueue(ctx context.Context, item Item, nowMs int64) (id.ID, error) {
	if item.Kind == "" {
		return id.ID{}, errors.New("syncqueue: Kind is required")
	}
	if item.TenantID == "" {
		return id.ID{}, errors.New("syncqueue: TenantID is required")
	}
	if item.DeviceID == "" {
		return id.ID{}, errors.New("syncqueue: DeviceID is required")
	}
	if item.IdempotencyKey == "" {
		item.IdempotencyKey = uuid.NewString()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	jobID := q.gen.Next()
	item.SyncJobID = jobID.String()
	item.State = StateQueued
	item.AttemptCount = 0
	item.WorkerID = ""
	item.LeaseExpiresAtMs = 0
	item.LastError = ""
	item.AckedAtMs = 0
	if item.EnqueuedAtNs == 0 {
		item.EnqueuedAtNs = nowMs * 1_000_000
	}

	row, err := item.encode()
	if err != nil {
		return id.ID{}, fmt.Errorf("syncqueue: encode job: %w", err)
	}

	counts, err := q.readCounts()
	if err != nil {
		return id.ID{}, err
	}
	counts.Queued++

	b := q.db.NewBatch()
	defer b.Close()
	_ = b.Set(itemKey(jobID), row, nil)
	_ = b.Set(readyKey(jobID), nil, nil)
	_ = b.Set(metaKey(), counts.encode(), nil)
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return id.ID{}, err
	}

	q.logger.Debug("enqueued sync job",
		log.Str("sync_job_id", item.SyncJobID),
		log.Str("kind", item.Kind),
		log.Str("tenant_id", item.TenantID))
	return jobID, nil
}

// DequeueBatch atomically moves up to maxItems rows into InFlight state and
// returns them. Eligible rows are Queued rows (in enqueue order) followed by
// InFlight rows whose lease expired at or before nowMs. Each returned row
// carries the attempt number of the delivery about to run: AttemptCount is
// incremented here, not on failure commit.
func (q *Queue) DequeueBatch(ctx context.Context, nowMs int64, maxItems int, leaseMs int64, workerID string) ([]Item, error) {
	if workerID == "" {
		return nil, errors.New("syncqueue: workerID is required")
	}
	if maxItems <= 0 {
		maxItems = DefaultBatchSize
	}
	if leaseMs <= 0 {
		leaseMs = DefaultLeaseMs
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	ready, err := q.collectReady(maxItems)
	if err != nil {
		return nil, err
	}
	var expired []expiredLease
	if len(ready) < maxItems {
		expired, err = q.collectExpired(nowMs, maxItems-len(ready))
		if err != nil {
			return nil, err
		}
	}
	if len(ready) == 0 && len(expired) == 0 {
		return nil, nil
	}

	counts, err := q.readCounts()
	if err != nil {
		return nil, err
	}

	expiresMs := nowMs + leaseMs
	b := q.db.NewBatch()
	defer b.Close()

	out := make([]Item, 0, len(ready)+len(expired))
	for _, jobID := range ready {
		item, err := q.loadItem(jobID)
		if err != nil {
			return nil, err
		}
		item.State = StateInFlight
		item.WorkerID = workerID
		item.LeaseExpiresAtMs = expiresMs
		item.AttemptCount++
		row, err := item.encode()
		if err != nil {
			return nil, fmt.Errorf("syncqueue: encode job: %w", err)
		}
		_ = b.Set(itemKey(jobID), row, nil)
		_ = b.Delete(readyKey(jobID), nil)
		_ = b.Set(leaseKey(expiresMs, jobID), nil, nil)
		counts.Queued--
		counts.InFlight++
		out = append(out, item)
	}
	for _, lease := range expired {
		item, err := q.loadItem(lease.jobID)
		if err != nil {
			return nil, err
		}
		item.State = StateInFlight
		item.WorkerID = workerID
		item.LeaseExpiresAtMs = expiresMs
		item.AttemptCount++
		row, err := item.encode()
		if err != nil {
			return nil, fmt.Errorf("syncqueue: encode job: %w", err)
		}
		_ = b.Set(itemKey(lease.jobID), row, nil)
		_ = b.Delete(leaseKey(lease.expiresMs, lease.jobID), nil)
		_ = b.Set(leaseKey(expiresMs, lease.jobID), nil, nil)
		out = append(out, item)
	}
	_ = b.Set(metaKey(), counts.encode(), nil)

	if err := q.db.CommitBatch(ctx, b); err != nil {
		return nil, err
	}
	return out, nil
}

// AckCommit marks an in-flight row as Acked and releases its lease. The
// committing worker must still hold the lease it was stamped with; a row not
// in flight is rejected.
func (q *Queue) AckCommit(ctx context.Context, jobID id.ID, workerID string, nowMs int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, err := q.loadItem(jobID)
	if err != nil {
		return err
	}
	if item.State != StateInFlight {
		return fmt.Errorf("%w: ack on %s", ErrWrongState, item.State)
	}
	if item.WorkerID != workerID {
		return fmt.Errorf("%w: ack from %q, row leased to %q", ErrLeaseLost, workerID, item.WorkerID)
	}

	oldExpires := item.LeaseExpiresAtMs
	item.State = StateAcked
	item.WorkerID = ""
	item.LeaseExpiresAtMs = 0
	item.LastError = ""
	item.AckedAtMs = nowMs

	counts, err := q.readCounts()
	if err != nil {
		return err
	}
	counts.InFlight--
	counts.Acked++

	return q.commitItem(ctx, jobID, &item, counts, oldExpires, 0)
}

// FailCommit records a transient delivery failure. The row stays InFlight
// with its lease moved to nowMs plus the clamped retry delay, so the next
// dequeue pass at or after that time re-delivers it. lastErr is truncated.
func (q *Queue) FailCommit(ctx context.Context, jobID id.ID, workerID string, retryAfterMs int64, lastErr string, nowMs int64) error {
	if retryAfterMs < minRetryMs {
		retryAfterMs = minRetryMs
	}
	if retryAfterMs > maxRetryMs {
		retryAfterMs = maxRetryMs
	}
	if len(lastErr) > maxErrorLen {
		lastErr = lastErr[:maxErrorLen]
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	item, err := q.loadItem(jobID)
	if err != nil {
		return err
	}
	if item.State != StateInFlight {
		return fmt.Errorf("%w: fail on %s", ErrWrongState, item.State)
	}
	if item.WorkerID != workerID {
		return fmt.Errorf("%w: fail from %q, row leased to %q", ErrLeaseLost, workerID, item.WorkerID)
	}

	oldExpires := item.LeaseExpiresAtMs
	newExpires := nowMs + retryAfterMs
	item.LeaseExpiresAtMs = newExpires
	item.WorkerID = ""
	item.LastError = lastErr

	counts, err := q.readCounts()
	if err != nil {
		return err
	}

	return q.commitItem(ctx, jobID, &item, counts, oldExpires, newExpires)
}

// DeadLetterCommit parks an in-flight row in the dead-letter state. The row
// remains inspectable and can be returned to service with Requeue.
func (q *Queue) DeadLetterCommit(ctx context.Context, jobID id.ID, workerID string, lastErr string, nowMs int64) error {
	if len(lastErr) > maxErrorLen {
		lastErr = lastErr[:maxErrorLen]
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	item, err := q.loadItem(jobID)
	if err != nil {
		return err
	}
	if item.State != StateInFlight {
		return fmt.Errorf("%w: dead-letter on %s", ErrWrongState, item.State)
	}
	if item.WorkerID != workerID {
		return fmt.Errorf("%w: dead-letter from %q, row leased to %q", ErrLeaseLost, workerID, item.WorkerID)
	}

	oldExpires := item.LeaseExpiresAtMs
	item.State = StateDeadLetter
	item.WorkerID = ""
	item.LeaseExpiresAtMs = 0
	item.LastError = lastErr

	counts, err := q.readCounts()
	if err != nil {
		return err
	}
	counts.InFlight--
	counts.DeadLetter++

	q.logger.Warn("sync job dead-lettered",
		log.Str("sync_job_id", item.SyncJobID),
		log.Int("attempt_count", item.AttemptCount),
		log.Str("last_error", lastErr))
	return q.commitItem(ctx, jobID, &item, counts, oldExpires, 0)
}

// Requeue returns a dead-lettered row to Queued state with a fresh attempt
// budget. Admin-only operation.
func (q *Queue) Requeue(ctx context.Context, jobID id.ID, nowMs int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, err := q.loadItem(jobID)
	if err != nil {
		return err
	}
	if item.State != StateDeadLetter {
		return fmt.Errorf("%w: requeue on %s", ErrWrongState, item.State)
	}

	item.State = StateQueued
	item.AttemptCount = 0
	item.LastError = ""

	row, err := item.encode()
	if err != nil {
		return fmt.Errorf("syncqueue: encode job: %w", err)
	}

	counts, err := q.readCounts()
	if err != nil {
		return err
	}
	counts.DeadLetter--
	counts.Queued++

	b := q.db.NewBatch()
	defer b.Close()
	_ = b.Set(itemKey(jobID), row, nil)
	_ = b.Set(readyKey(jobID), nil, nil)
	_ = b.Set(metaKey(), counts.encode(), nil)
	return q.db.CommitBatch(ctx, b)
}

// Get returns the current row for a job id.
func (q *Queue) Get(jobID id.ID) (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.loadItem(jobID)
}

// Stats reports current state counts plus how many in-flight leases have
// already expired at nowMs (rows due for re-delivery).
func (q *Queue) Stats(nowMs int64) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	counts, err := q.readCounts()
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{
		Queued:     counts.Queued,
		InFlight:   counts.InFlight,
		Acked:      counts.Acked,
		DeadLetter: counts.DeadLetter,
	}

	lo, hi := keyRange(prefixLease)
	iter, err := q.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return Stats{}, err
	}
	defer iter.Close()
	for ok := iter.First(); ok; ok = iter.Next() {
		expires, _, valid := leaseKeyParts(iter.Key())
		if !valid {
			continue
		}
		if expires > nowMs {
			break
		}
		stats.ReplayDue++
	}
	return stats, nil
}

// List returns up to limit rows in the given state, in id order. An empty
// state matches all rows.
func (q *Queue) List(state State, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 100
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	lo, hi := keyRange(prefixItem)
	iter, err := q.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Item
	for ok := iter.First(); ok && len(out) < limit; ok = iter.Next() {
		item, err := decodeItem(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("syncqueue: decode job row: %w", err)
		}
		if state != "" && item.State != state {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

// ListDeadLetters returns up to limit dead-lettered rows.
func (q *Queue) ListDeadLetters(limit int) ([]Item, error) {
	return q.List(StateDeadLetter, limit)
}

type expiredLease struct {
	jobID     id.ID
	expiresMs int64
}

func (q *Queue) collectReady(max int) ([]id.ID, error) {
	lo, hi := keyRange(prefixReady)
	iter, err := q.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []id.ID
	for ok := iter.First(); ok && len(out) < max; ok = iter.Next() {
		jobID, valid := readyKeyID(iter.Key())
		if !valid {
			continue
		}
		out = append(out, jobID)
	}
	return out, nil
}

func (q *Queue) collectExpired(nowMs int64, max int) ([]expiredLease, error) {
	lo, hi := keyRange(prefixLease)
	iter, err := q.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []expiredLease
	for ok := iter.First(); ok && len(out) < max; ok = iter.Next() {
		expires, jobID, valid := leaseKeyParts(iter.Key())
		if !valid {
			continue
		}
		if expires > nowMs {
			break
		}
		out = append(out, expiredLease{jobID: jobID, expiresMs: expires})
	}
	return out, nil
}

func (q *Queue) loadItem(jobID id.ID) (Item, error) {
	raw, err := q.db.Get(itemKey(jobID))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return Item{}, ErrNotFound
		}
		return Item{}, err
	}
	return decodeItem(raw)
}

// commitItem writes the row, the meta counters, and the lease index move in
// one batch. oldExpires > 0 deletes the previous lease index entry;
// newExpires > 0 writes a new one.
func (q *Queue) commitItem(ctx context.Context, jobID id.ID, item *Item, counts stateCounts, oldExpires, newExpires int64) error {
	row, err := item.encode()
	if err != nil {
		return fmt.Errorf("syncqueue: encode job: %w", err)
	}
	b := q.db.NewBatch()
	defer b.Close()
	_ = b.Set(itemKey(jobID), row, nil)
	if oldExpires > 0 {
		_ = b.Delete(leaseKey(oldExpires, jobID), nil)
	}
	if newExpires > 0 {
		_ = b.Set(leaseKey(newExpires, jobID), nil, nil)
	}
	_ = b.Set(metaKey(), counts.encode(), nil)
	return q.db.CommitBatch(ctx, b)
}

// stateCounts is the persisted counter row: 4x uint64 big-endian.
type stateCounts struct {
	Queued     uint64
	InFlight   uint64
	Acked      uint64
	DeadLetter uint64
}

func (c stateCounts) encode() []byte {
	b := make([]byte, 32)
	binary.BigEndian.PutUint64(b[0:8], c.Queued)
	binary.BigEndian.PutUint64(b[8:16], c.InFlight)
	binary.BigEndian.PutUint64(b[16:24], c.Acked)
	binary.BigEndian.PutUint64(b[24:32], c.DeadLetter)
	return b
}

func (q *Queue) readCounts() (stateCounts, error) {
	raw, err := q.db.Get(metaKey())
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return stateCounts{}, nil
		}
		return stateCounts{}, err
	}
	if len(raw) < 32 {
		return stateCounts{}, nil
	}
	return stateCounts{
		Queued:     binary.BigEndian.Uint64(raw[0:8]),
		InFlight:   binary.BigEndian.Uint64(raw[8:16]),
		Acked:      binary.BigEndian.Uint64(raw[16:24]),
		DeadLetter: binary.BigEndian.Uint64(raw[24:32]),
	}, nil
}
