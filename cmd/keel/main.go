package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	clientcmd "github.com/kestrelhq/keel/internal/cmd/client"
	serverrun "github.com/kestrelhq/keel/internal/cmd/server"
	cfgpkg "github.com/kestrelhq/keel/internal/config"
	pebblestore "github.com/kestrelhq/keel/internal/storage/pebble"
	logpkg "github.com/kestrelhq/keel/pkg/log"
)

func main() {
	// Respect KEEL_LOG_LEVEL for CLI output
	level := os.Getenv("KEEL_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)
	logpkg.SetDefaultLogger(logger)
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "keel",
		Short: "Keel orchestration kernel CLI",
		Long:  "Keel is a single-binary orchestration kernel: lease coordination, step scheduling decisions, and a durable sync-job queue. This CLI manages the server and basic operations.",
	}

	// server start
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start keel server (admin HTTP API, optional worker loop)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			dataDir, _ := cmd.Flags().GetString("data-dir")
			httpAddr, _ := cmd.Flags().GetString("http")
			fsyncMode, _ := cmd.Flags().GetString("fsync")
			fsyncIntervalMs, _ := cmd.Flags().GetInt("fsync-interval-ms")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")
			withWorker, _ := cmd.Flags().GetBool("worker")

			cfg, err := cfgpkg.Load(configPath)
			if err != nil {
				return err
			}
			cfgpkg.FromEnv(&cfg)
			if dataDir != "" {
				cfg.Server.DataDir = dataDir
			}
			if httpAddr != "" {
				cfg.Server.HTTPAddr = httpAddr
			}
			if fsyncMode != "" {
				cfg.Server.Fsync = fsyncMode
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if logFormat != "" {
				cfg.Log.Format = logFormat
			}

			var mode pebblestore.FsyncMode
			switch cfg.Server.Fsync {
			case "never":
				mode = pebblestore.FsyncModeNever
			case "interval":
				mode = pebblestore.FsyncModeInterval
			case "always", "":
				mode = pebblestore.FsyncModeAlways
			default:
				return fmt.Errorf("invalid --fsync; use always|interval|never")
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := serverrun.Run(ctx, serverrun.Options{
				DataDir:       cfg.Server.DataDir,
				HTTPAddr:      cfg.Server.HTTPAddr,
				Fsync:         mode,
				FsyncInterval: time.Duration(fsyncIntervalMs) * time.Millisecond,
				Config:        cfg,
				StartWorker:   withWorker,
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	serverStartCmd.Flags().String("config", "", "Config file (JSON or YAML)")
	serverStartCmd.Flags().String("data-dir", "", "Data directory (default: OS-specific application data directory)")
	serverStartCmd.Flags().String("http", "", "HTTP listen address (default 127.0.0.1:8480)")
	serverStartCmd.Flags().String("fsync", "", "Fsync mode: always|interval|never")
	serverStartCmd.Flags().Int("fsync-interval-ms", 5, "When --fsync=interval, group-commit window in ms (default 5)")
	serverStartCmd.Flags().String("log-level", os.Getenv("KEEL_LOG_LEVEL"), "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", os.Getenv("KEEL_LOG_FORMAT"), "Log format: text|json (default text)")
	serverStartCmd.Flags().Bool("worker", true, "Run the periodic delivery worker in-process")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	rootCmd.AddCommand(clientcmd.NewLeaseCommand(apiURL))
	rootCmd.AddCommand(clientcmd.NewScheduleCommand(apiURL))
	rootCmd.AddCommand(clientcmd.NewQueueCommand(apiURL))
	rootCmd.AddCommand(clientcmd.NewWorkerCommand(apiURL))
	rootCmd.AddCommand(clientcmd.NewLedgerCommand(apiURL))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func apiURL() string {
	if v := os.Getenv("KEEL_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8480"
}
