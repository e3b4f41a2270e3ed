package serverrun

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	cfgpkg "github.com/kestrelhq/keel/internal/config"
	pebblestore "github.com/kestrelhq/keel/internal/storage/pebble"
)

func TestDataDirFallback(t *testing.T) {
	opts := Options{DataDir: ""}
	if opts.DataDir == "" {
		opts.DataDir = cfgpkg.DefaultDataDir()
	}
	if opts.DataDir == "" {
		t.Error("DataDir should be set after fallback")
	}

	opts = Options{DataDir: "/custom/data"}
	if filepath.Join(opts.DataDir, "store") != "/custom/data/store" {
		t.Errorf("store dir = %s", filepath.Join(opts.DataDir, "store"))
	}
}

// Run should start the HTTP server and shut down cleanly on cancellation.
func TestRunStartsAndStops(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping server startup test in short mode")
	}

	opts := Options{
		DataDir:  t.TempDir(),
		HTTPAddr: "127.0.0.1:0",
		Fsync:    pebblestore.FsyncModeNever,
		Config:   cfgpkg.Default(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := Run(ctx, opts); err != nil && err != context.DeadlineExceeded && err != context.Canceled {
		t.Errorf("run: %v", err)
	}
}
