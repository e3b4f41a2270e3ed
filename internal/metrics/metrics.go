package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kestrelhq/keel/internal/lease"
	pebblestore "github.com/kestrelhq/keel/internal/storage/pebble"
	"github.com/kestrelhq/keel/internal/syncqueue"
	"github.com/kestrelhq/keel/internal/worker"
)

// Metrics owns the process Prometheus registry and the collectors for the
// lease coordinator, the sync queue, and the storage layer.
type Metrics struct {
	registry *prometheus.Registry

	leaseDecisions *prometheus.CounterVec

	workerDequeued     prometheus.Counter
	workerAcked        prometheus.Counter
	workerRetries      prometheus.Counter
	workerDeadLettered prometheus.Counter

	queueQueued     prometheus.Gauge
	queueInFlight   prometheus.Gauge
	queueDeadLetter prometheus.Gauge
	queueReplayDue  prometheus.Gauge

	storageWrite  prometheus.Histogram
	storageRead   prometheus.Histogram
	storageCommit prometheus.Histogram
}

// New builds a Metrics with a fresh registry including Go runtime collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		leaseDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keel_lease_decisions_total",
			Help: "Lease coordinator decisions by action and reason.",
		}, []string{"action", "reason"}),
		workerDequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keel_worker_dequeued_total",
			Help: "Sync jobs dequeued for delivery.",
		}),
		workerAcked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keel_worker_acked_total",
			Help: "Sync jobs acknowledged after successful delivery.",
		}),
		workerRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keel_worker_retries_total",
			Help: "Sync job deliveries that failed and were scheduled for retry.",
		}),
		workerDeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keel_worker_dead_lettered_total",
			Help: "Sync jobs parked in the dead-letter state.",
		}),
		queueQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "keel_queue_queued",
			Help: "Rows currently in QUEUED state.",
		}),
		queueInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "keel_queue_in_flight",
			Help: "Rows currently in IN_FLIGHT state.",
		}),
		queueDeadLetter: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "keel_queue_dead_letter",
			Help: "Rows currently in DEAD_LETTER state.",
		}),
		queueReplayDue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "keel_queue_replay_due",
			Help: "In-flight rows whose lease has expired and which will be re-delivered.",
		}),
		storageWrite: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "keel_storage_write_seconds",
			Help:    "Latency of single-key storage writes.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		storageRead: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "keel_storage_read_seconds",
			Help:    "Latency of storage reads.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		storageCommit: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "keel_storage_batch_commit_seconds",
			Help:    "Latency of batch commits.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
	}

	reg.MustRegister(
		m.leaseDecisions,
		m.workerDequeued, m.workerAcked, m.workerRetries, m.workerDeadLettered,
		m.queueQueued, m.queueInFlight, m.queueDeadLetter, m.queueReplayDue,
		m.storageWrite, m.storageRead, m.storageCommit,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Storage returns the hook wired into the Pebble wrapper.
func (m *Metrics) Storage() pebblestore.MetricsHook {
	return storageHook{m: m}
}

// ObserveLeaseDecision records the outcome of one coordinator evaluation.
func (m *Metrics) ObserveLeaseDecision(d lease.Decision) {
	m.leaseDecisions.WithLabelValues(d.Action.String(), string(d.Reason)).Inc()
}

// ObservePass folds one worker pass into the counters and refreshes the
// queue-depth gauges from the pass's stats snapshot.
func (m *Metrics) ObservePass(pm worker.PassMetrics) {
	m.workerDequeued.Add(float64(pm.Dequeued))
	m.workerAcked.Add(float64(pm.Acked))
	m.workerRetries.Add(float64(pm.RetryScheduled))
	m.workerDeadLettered.Add(float64(pm.DeadLettered))
	m.SetQueueStats(pm.Queue)
}

// SetQueueStats refreshes the queue-depth gauges.
func (m *Metrics) SetQueueStats(s syncqueue.Stats) {
	m.queueQueued.Set(float64(s.Queued))
	m.queueInFlight.Set(float64(s.InFlight))
	m.queueDeadLetter.Set(float64(s.DeadLetter))
	m.queueReplayDue.Set(float64(s.ReplayDue))
}

type storageHook struct{ m *Metrics }

func (h storageHook) ObserveWrite(elapsed time.Duration, _ int) {
	h.m.storageWrite.Observe(elapsed.Seconds())
}

func (h storageHook) ObserveRead(elapsed time.Duration, _ int) {
	h.m.storageRead.Observe(elapsed.Seconds())
}

func (h storageHook) ObserveBatchCommit(elapsed time.Duration, _ int, _ int) {
	h.m.storageCommit.Observe(elapsed.Seconds())
}
