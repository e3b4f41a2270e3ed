package worker

import (
	"context"
	"testing"

	"github.com/kestrelhq/keel/internal/config"
	"github.com/kestrelhq/keel/internal/ledger"
	pebblestore "github.com/kestrelhq/keel/internal/storage/pebble"
	"github.com/kestrelhq/keel/internal/syncqueue"
	"github.com/kestrelhq/keel/pkg/id"
)

// failNSender fails the first n sends, then acks.
type failNSender struct {
	failures  int
	retryMs   int64
	sendCount int
	seen      []Envelope
}

func (s *failNSender) Send(_ context.Context, env Envelope) error {
	s.sendCount++
	s.seen = append(s.seen, env)
	if s.sendCount <= s.failures {
		return &SendError{Message: "receiver unavailable", RetryAfterMs: s.retryMs, HasRetryAfter: s.retryMs > 0}
	}
	return nil
}

func newTestWorker(t *testing.T, sender Sender, maxAttempts int) (*Worker, *syncqueue.Queue, *int64) {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	q := syncqueue.Open(db, nil)

	w := New(q, sender, ledger.Open(db),
		config.WorkerConfig{BatchSize: 16, LeaseMs: 30_000, MaxAttempts: maxAttempts},
		config.SenderConfig{DefaultRetryMs: 30_000}, nil)
	clock := int64(1_000)
	w.NowMs = func() int64 { return clock }
	return w, q, &clock
}

func enqueueOne(t *testing.T, q *syncqueue.Queue, nowMs int64) string {
	t.Helper()
	jobID, err := q.Enqueue(context.Background(), syncqueue.Item{
		Kind:              "artifact_upload",
		ReceiptRef:        "rcpt-9",
		ArtifactProfileID: "profile-3",
		TenantID:          "t1",
		UserID:            "u1",
		DeviceID:          "dev-1",
	}, nowMs)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return jobID.String()
}

func TestPassAcksSuccessfulDelivery(t *testing.T) {
	sender := &failNSender{}
	w, q, _ := newTestWorker(t, sender, 5)
	enqueueOne(t, q, 500)

	m, err := w.RunPass(context.Background())
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if m.Dequeued != 1 || m.Acked != 1 || m.RetryScheduled != 0 || m.DeadLettered != 0 {
		t.Fatalf("metrics = %+v", m)
	}
	if m.Queue.Acked != 1 || m.Queue.InFlight != 0 {
		t.Fatalf("queue stats = %+v", m.Queue)
	}
}

func TestEnvelopeShape(t *testing.T) {
	sender := &failNSender{}
	w, q, _ := newTestWorker(t, sender, 5)
	jobID := enqueueOne(t, q, 500)

	if _, err := w.RunPass(context.Background()); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if len(sender.seen) != 1 {
		t.Fatalf("sent %d envelopes, want 1", len(sender.seen))
	}
	env := sender.seen[0]
	if env.SchemaVersion != 1 {
		t.Fatalf("schema version = %d", env.SchemaVersion)
	}
	if env.SyncJobID != jobID || env.SyncKind != "artifact_upload" || env.ReceiptRef != "rcpt-9" {
		t.Fatalf("envelope = %+v", env)
	}
	if env.DeviceID != "dev-1" || env.AttemptCount != 1 || env.IdempotencyKey == "" {
		t.Fatalf("envelope = %+v", env)
	}
	if env.EnqueuedAtNs != 500*1_000_000 {
		t.Fatalf("enqueued_at_ns = %d", env.EnqueuedAtNs)
	}
}

// A single allowed attempt dead-letters on the first failure, and the row
// stays inspectable with its last error.
func TestSingleAttemptDeadLetters(t *testing.T) {
	sender := &failNSender{failures: 100}
	w, q, _ := newTestWorker(t, sender, 1)
	jobID := enqueueOne(t, q, 500)

	m, err := w.RunPass(context.Background())
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if m.Dequeued != 1 || m.DeadLettered != 1 || m.RetryScheduled != 0 {
		t.Fatalf("metrics = %+v", m)
	}

	dls, err := q.ListDeadLetters(10)
	if err != nil {
		t.Fatalf("list dead letters: %v", err)
	}
	if len(dls) != 1 || dls[0].SyncJobID != jobID {
		t.Fatalf("dead letters = %+v", dls)
	}
	if dls[0].LastError != "receiver unavailable" {
		t.Fatalf("last error = %q", dls[0].LastError)
	}

	// later passes see nothing
	m, err = w.RunPass(context.Background())
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if m.Dequeued != 0 {
		t.Fatalf("dead row redelivered: %+v", m)
	}
}

func TestRetriesThenDeadLetterAfterBudget(t *testing.T) {
	sender := &failNSender{failures: 100, retryMs: 2_000}
	w, q, clock := newTestWorker(t, sender, 3)
	enqueueOne(t, q, 500)

	for attempt := 1; attempt <= 2; attempt++ {
		m, err := w.RunPass(context.Background())
		if err != nil {
			t.Fatalf("pass %d: %v", attempt, err)
		}
		if m.Dequeued != 1 || m.RetryScheduled != 1 {
			t.Fatalf("pass %d metrics = %+v", attempt, m)
		}
		*clock += 2_000
	}

	m, err := w.RunPass(context.Background())
	if err != nil {
		t.Fatalf("final pass: %v", err)
	}
	if m.Dequeued != 1 || m.DeadLettered != 1 {
		t.Fatalf("final metrics = %+v", m)
	}
	if sender.sendCount != 3 {
		t.Fatalf("send count = %d, want 3", sender.sendCount)
	}

	stats, err := q.Stats(*clock)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.DeadLetter != 1 || stats.InFlight != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestRetryHonorsReceiverHint(t *testing.T) {
	sender := &failNSender{failures: 1, retryMs: 7_000}
	w, q, clock := newTestWorker(t, sender, 5)
	jobID := enqueueOne(t, q, 500)

	if _, err := w.RunPass(context.Background()); err != nil {
		t.Fatalf("pass: %v", err)
	}
	parsed, err := q.Get(mustID(t, jobID))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if parsed.LeaseExpiresAtMs != *clock+7_000 {
		t.Fatalf("retry due = %d, want %d", parsed.LeaseExpiresAtMs, *clock+7_000)
	}

	// before the hint elapses: nothing; at the hint: redelivered, acked
	*clock += 6_999
	m, _ := w.RunPass(context.Background())
	if m.Dequeued != 0 {
		t.Fatalf("early redelivery: %+v", m)
	}
	*clock += 1
	m, err = w.RunPass(context.Background())
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if m.Dequeued != 1 || m.Acked != 1 {
		t.Fatalf("metrics = %+v", m)
	}
}

func TestDefaultRetryWhenNoHint(t *testing.T) {
	sender := &failNSender{failures: 1}
	w, q, clock := newTestWorker(t, sender, 5)
	jobID := enqueueOne(t, q, 500)

	if _, err := w.RunPass(context.Background()); err != nil {
		t.Fatalf("pass: %v", err)
	}
	item, err := q.Get(mustID(t, jobID))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if item.LeaseExpiresAtMs != *clock+30_000 {
		t.Fatalf("retry due = %d, want default %d", item.LeaseExpiresAtMs, *clock+30_000)
	}
}

// zeroHintSender fails with an explicit Retry-After of zero seconds.
type zeroHintSender struct{}

func (zeroHintSender) Send(context.Context, Envelope) error {
	return &SendError{Message: "throttled", HasRetryAfter: true}
}

// A receiver hint of zero is still a hint: the retry lands at the queue's
// clamp floor, not at the worker's 30s default.
func TestZeroRetryHintUsesClampFloor(t *testing.T) {
	w, q, clock := newTestWorker(t, zeroHintSender{}, 5)
	jobID := enqueueOne(t, q, 500)

	if _, err := w.RunPass(context.Background()); err != nil {
		t.Fatalf("pass: %v", err)
	}
	item, err := q.Get(mustID(t, jobID))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if item.LeaseExpiresAtMs != *clock+1_000 {
		t.Fatalf("retry due = %d, want clamp floor %d", item.LeaseExpiresAtMs, *clock+1_000)
	}
}

// Crash-replay delivery: a pass that delivers but never commits results in
// a second delivery of the same envelope with the same idempotency key.
func TestReplayKeepsIdempotencyKey(t *testing.T) {
	sender := &failNSender{}
	w, q, clock := newTestWorker(t, sender, 5)
	enqueueOne(t, q, 500)

	// simulate a crashed pass: dequeue without committing any outcome
	if _, err := q.DequeueBatch(context.Background(), *clock, 16, 10_000, "crashed-worker"); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	*clock += 10_000
	m, err := w.RunPass(context.Background())
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if m.Dequeued != 1 || m.Acked != 1 {
		t.Fatalf("metrics = %+v", m)
	}
	if sender.seen[0].AttemptCount != 2 {
		t.Fatalf("replay attempt = %d, want 2", sender.seen[0].AttemptCount)
	}
	if sender.seen[0].IdempotencyKey == "" {
		t.Fatal("idempotency key lost on replay")
	}
}

// Terminal outcomes land in the job's ledger stream: one "delivered" entry
// per ack, one "dead_lettered" entry with the failure when the budget runs out.
func TestTerminalOutcomesRecorded(t *testing.T) {
	sender := &failNSender{failures: 100}
	w, q, _ := newTestWorker(t, sender, 1)
	deadID := enqueueOne(t, q, 500)

	okSender := &failNSender{}
	w2 := New(q, okSender, w.ledger,
		config.WorkerConfig{BatchSize: 16, LeaseMs: 30_000, MaxAttempts: 5},
		config.SenderConfig{}, nil)
	w2.NowMs = w.NowMs

	if _, err := w.RunPass(context.Background()); err != nil {
		t.Fatalf("pass: %v", err)
	}
	okID := enqueueOne(t, q, 600)
	if _, err := w2.RunPass(context.Background()); err != nil {
		t.Fatalf("pass: %v", err)
	}

	dead, err := w.ledger.Read("t1", deadID, 0, 0)
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	if len(dead) != 1 || dead[0].Event != "dead_lettered" || dead[0].AttemptIndex != 1 {
		t.Fatalf("dead-letter ledger = %+v", dead)
	}

	ok, err := w.ledger.Read("t1", okID, 0, 0)
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	if len(ok) != 1 || ok[0].Event != "delivered" || ok[0].StepID != "artifact_upload" {
		t.Fatalf("delivered ledger = %+v", ok)
	}
}

func mustID(t *testing.T, s string) id.ID {
	t.Helper()
	parsed, err := id.Parse(s)
	if err != nil {
		t.Fatalf("bad id %q: %v", s, err)
	}
	return parsed
}
