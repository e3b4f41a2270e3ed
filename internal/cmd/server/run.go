package serverrun

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	cfgpkg "github.com/kestrelhq/keel/internal/config"
	"github.com/kestrelhq/keel/internal/runtime"
	httpserver "github.com/kestrelhq/keel/internal/server/http"
	pebblestore "github.com/kestrelhq/keel/internal/storage/pebble"
	logpkg "github.com/kestrelhq/keel/pkg/log"
)

type Options struct {
	DataDir       string
	HTTPAddr      string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
	// StartWorker runs the periodic delivery loop inside the server
	// process. Off when passes are driven externally.
	StartWorker bool
}

// Run starts the admin HTTP server (and optionally the worker loop) and
// blocks until ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.DataDir == "" {
		opts.DataDir = cfgpkg.DefaultDataDir()
	}
	storeDir := filepath.Join(opts.DataDir, "store")

	procLogger, err := logpkg.ApplyConfig(&logpkg.Config{
		Level:  opts.Config.Log.Level,
		Format: opts.Config.Log.Format,
	})
	if err != nil {
		return err
	}
	logpkg.RedirectStdLog(procLogger)

	rt, err := runtime.Open(runtime.Options{
		DataDir:       storeDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
		Config:        opts.Config,
		Logger:        procLogger,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	procLogger.Info("starting keel server",
		logpkg.Str("http", opts.HTTPAddr),
		logpkg.Str("data_dir", storeDir),
		logpkg.Bool("worker", opts.StartWorker))

	hsrv := httpserver.New(rt)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hsrv.ListenAndServe(sctx, opts.HTTPAddr); err != nil && sctx.Err() == nil {
			procLogger.Error("http server error", logpkg.Err(err))
		}
	}()

	if opts.StartWorker {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rt.Worker().Start(sctx, opts.Config.Worker.PassEvery); err != nil && sctx.Err() == nil {
				procLogger.Error("worker loop error", logpkg.Err(err))
			}
		}()
	}

	<-sctx.Done()
	hsrv.Close()
	wg.Wait()
	return nil
}
