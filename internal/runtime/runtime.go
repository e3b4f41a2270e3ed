package runtime

import (
	"context"
	"errors"
	"time"

	cfgpkg "github.com/kestrelhq/keel/internal/config"
	"github.com/kestrelhq/keel/internal/lease"
	"github.com/kestrelhq/keel/internal/ledger"
	"github.com/kestrelhq/keel/internal/metrics"
	pebblestore "github.com/kestrelhq/keel/internal/storage/pebble"
	"github.com/kestrelhq/keel/internal/syncqueue"
	"github.com/kestrelhq/keel/internal/worker"
	"github.com/kestrelhq/keel/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	DataDir       string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
	Logger        log.Logger
	Sender        worker.Sender
}

// Runtime wires storage, the lease registry, the sync queue, the step
// ledger, and the worker for a single-node instance.
type Runtime struct {
	db      *pebblestore.DB
	config  cfgpkg.Config
	logger  log.Logger
	metrics *metrics.Metrics

	leases *lease.Registry
	queue  *syncqueue.Queue
	ledger *ledger.Ledger
	worker *worker.Worker
}

// Open initializes storage and all facades. When opts.Sender is nil, the
// sender is picked from config: AMQP when an URL is set, HTTP when an
// endpoint is set, loopback otherwise.
func Open(opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	m := metrics.New()

	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       opts.DataDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
		Metrics:       m.Storage(),
	})
	if err != nil {
		return nil, err
	}

	sender := opts.Sender
	if sender == nil {
		sender, err = senderFromConfig(opts.Config, logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	queue := syncqueue.Open(db, logger)
	led := ledger.Open(db)
	rt := &Runtime{
		db:      db,
		config:  opts.Config,
		logger:  logger,
		metrics: m,
		leases:  lease.NewRegistry(db),
		queue:   queue,
		ledger:  led,
		worker:  worker.New(queue, sender, led, opts.Config.Worker, opts.Config.Sender, logger),
	}
	return rt, nil
}

func senderFromConfig(cfg cfgpkg.Config, logger log.Logger) (worker.Sender, error) {
	if cfg.AMQP.URL != "" {
		return worker.NewAMQPSender(cfg.AMQP, logger)
	}
	if cfg.Sender.Endpoint != "" {
		return worker.NewHTTPSender(cfg.Sender)
	}
	logger.Warn("no sender configured, using loopback ack")
	return worker.LoopbackSender{}, nil
}

// Close closes underlying resources.
func (r *Runtime) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth performs a simple storage health check.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	it.Close()
	return nil
}

// Leases returns the lease registry.
func (r *Runtime) Leases() *lease.Registry { return r.leases }

// Queue returns the sync-job queue.
func (r *Runtime) Queue() *syncqueue.Queue { return r.queue }

// Ledger returns the step-event ledger.
func (r *Runtime) Ledger() *ledger.Ledger { return r.ledger }

// Worker returns the delivery worker.
func (r *Runtime) Worker() *worker.Worker { return r.worker }

// Metrics returns the process metrics registry wrapper.
func (r *Runtime) Metrics() *metrics.Metrics { return r.metrics }

// RunWorkerPass executes one delivery pass and folds the result into the
// Prometheus counters.
func (r *Runtime) RunWorkerPass(ctx context.Context) (worker.PassMetrics, error) {
	pm, err := r.worker.RunPass(ctx)
	if err != nil {
		return pm, err
	}
	r.metrics.ObservePass(pm)
	return pm, nil
}

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
