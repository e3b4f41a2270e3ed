package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kestrelhq/keel/internal/config"
	"github.com/kestrelhq/keel/internal/ledger"
	"github.com/kestrelhq/keel/internal/syncqueue"
	"github.com/kestrelhq/keel/pkg/id"
	"github.com/kestrelhq/keel/pkg/log"
)

// PassMetrics summarizes one worker pass.
type PassMetrics struct {
	Dequeued       int             `json:"dequeued"`
	Acked          int             `json:"acked"`
	RetryScheduled int             `json:"retry_scheduled"`
	DeadLettered   int             `json:"dead_lettered"`
	Queue          syncqueue.Stats `json:"queue"`
}

// Worker drains the sync queue one pass at a time. A pass dequeues a batch
// under lease, delivers each envelope through the Sender, and commits the
// outcome row by row. It holds no in-memory queue state, so any number of
// crashed or concurrent passes degrade to re-delivery, never loss.
type Worker struct {
	queue  *syncqueue.Queue
	sender Sender
	ledger *ledger.Ledger
	logger log.Logger

	workerID       string
	batchSize      int
	leaseMs        int64
	maxAttempts    int
	defaultRetryMs int64

	// NowMs is the pass clock. Overridable in tests.
	NowMs func() int64
}

// New builds a Worker from the worker and sender config sections. led may be
// nil; when set, each terminal outcome is appended to the job's ledger stream.
func New(queue *syncqueue.Queue, sender Sender, led *ledger.Ledger, cfg config.WorkerConfig, senderCfg config.SenderConfig, logger log.Logger) *Worker {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	w := &Worker{
		queue:          queue,
		sender:         sender,
		ledger:         led,
		logger:         logger.WithComponent("worker"),
		workerID:       fmt.Sprintf("worker-%s", id.NewGenerator().Next().String()[:16]),
		batchSize:      cfg.BatchSize,
		leaseMs:        cfg.LeaseMs,
		maxAttempts:    cfg.MaxAttempts,
		defaultRetryMs: senderCfg.DefaultRetryMs,
		NowMs:          func() int64 { return time.Now().UnixMilli() },
	}
	if w.batchSize <= 0 {
		w.batchSize = syncqueue.DefaultBatchSize
	}
	if w.leaseMs <= 0 {
		w.leaseMs = syncqueue.DefaultLeaseMs
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = 5
	}
	if w.defaultRetryMs <= 0 {
		w.defaultRetryMs = 30_000
	}
	return w
}

// WorkerID returns the stable identity this worker stamps on leases.
func (w *Worker) WorkerID() string { return w.workerID }

// RunPass executes one dequeue-deliver-commit pass and reports what it did.
// Commit failures on individual rows are logged and skipped; the row's lease
// simply expires and a later pass retries it.
func (w *Worker) RunPass(ctx context.Context) (PassMetrics, error) {
	nowMs := w.NowMs()
	var m PassMetrics

	items, err := w.queue.DequeueBatch(ctx, nowMs, w.batchSize, w.leaseMs, w.workerID)
	if err != nil {
		return m, fmt.Errorf("worker: dequeue: %w", err)
	}
	m.Dequeued = len(items)

	for _, item := range items {
		jobID, err := id.Parse(item.SyncJobID)
		if err != nil {
			w.logger.Error("unparseable job id in row", log.Str("sync_job_id", item.SyncJobID), log.Err(err))
			continue
		}

		sendErr := w.sender.Send(ctx, NewEnvelope(item))
		commitNow := w.NowMs()
		if sendErr == nil {
			if err := w.queue.AckCommit(ctx, jobID, w.workerID, commitNow); err != nil {
				if errors.Is(err, syncqueue.ErrLeaseLost) {
					w.logger.Warn("lease lost before ack, another worker owns the row", log.Str("sync_job_id", item.SyncJobID))
				} else {
					w.logger.Error("ack commit failed", log.Str("sync_job_id", item.SyncJobID), log.Err(err))
				}
				continue
			}
			m.Acked++
			w.recordOutcome(ctx, item, "delivered", commitNow, "")
			continue
		}

		if item.AttemptCount >= w.maxAttempts {
			if err := w.queue.DeadLetterCommit(ctx, jobID, w.workerID, sendErr.Error(), commitNow); err != nil {
				w.logger.Error("dead-letter commit failed", log.Str("sync_job_id", item.SyncJobID), log.Err(err))
				continue
			}
			m.DeadLettered++
			w.recordOutcome(ctx, item, "dead_lettered", commitNow, sendErr.Error())
			continue
		}

		retryMs, hinted := RetryHint(sendErr)
		if !hinted {
			retryMs = w.defaultRetryMs
		}
		if err := w.queue.FailCommit(ctx, jobID, w.workerID, retryMs, sendErr.Error(), commitNow); err != nil {
			w.logger.Error("fail commit failed", log.Str("sync_job_id", item.SyncJobID), log.Err(err))
			continue
		}
		m.RetryScheduled++
		w.logger.Warn("delivery failed, retry scheduled",
			log.Str("sync_job_id", item.SyncJobID),
			log.Int("attempt", item.AttemptCount),
			log.Int64("retry_after_ms", retryMs),
			log.Err(sendErr))
	}

	stats, err := w.queue.Stats(w.NowMs())
	if err != nil {
		return m, fmt.Errorf("worker: stats: %w", err)
	}
	m.Queue = stats
	return m, nil
}

// recordOutcome appends a terminal delivery event to the job's ledger stream.
// Append failures are logged; the queue commit already happened and stands.
func (w *Worker) recordOutcome(ctx context.Context, item syncqueue.Item, event string, nowMs int64, lastError string) {
	if w.ledger == nil {
		return
	}
	details, _ := json.Marshal(struct {
		ReceiptRef string `json:"receipt_ref"`
		WorkerID   string `json:"worker_id"`
		LastError  string `json:"last_error,omitempty"`
	}{item.ReceiptRef, w.workerID, lastError})
	_, err := w.ledger.Append(ctx, item.TenantID, item.SyncJobID, []ledger.Entry{{
		StepID:       item.Kind,
		AttemptIndex: item.AttemptCount,
		Event:        event,
		RecordedAtNs: nowMs * int64(time.Millisecond),
		Details:      details,
	}})
	if err != nil {
		w.logger.Error("ledger append failed", log.Str("sync_job_id", item.SyncJobID), log.Err(err))
	}
}

// Start runs passes on the configured cron interval (e.g. "@every 5s")
// until ctx is cancelled. Pass errors are logged, not fatal.
func (w *Worker) Start(ctx context.Context, passEvery string) error {
	if passEvery == "" {
		passEvery = "@every 5s"
	}
	c := cron.New()
	_, err := c.AddFunc(passEvery, func() {
		m, err := w.RunPass(ctx)
		if err != nil {
			w.logger.Error("worker pass failed", log.Err(err))
			return
		}
		if m.Dequeued > 0 {
			w.logger.Info("worker pass",
				log.Int("dequeued", m.Dequeued),
				log.Int("acked", m.Acked),
				log.Int("retry_scheduled", m.RetryScheduled),
				log.Int("dead_lettered", m.DeadLettered))
		}
	})
	if err != nil {
		return fmt.Errorf("worker: schedule %q: %w", passEvery, err)
	}
	c.Start()
	<-ctx.Done()
	stop := c.Stop()
	<-stop.Done()
	return ctx.Err()
}
