// Package log provides keel's structured logging facade and utilities.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// simple Field type for structured context. Internally it is backed by Go's
// standard library slog via a custom handler that preserves the
// formatter/outputs pipeline, so slog-speaking libraries share keel's output.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("worker"), log.Str("queue", "artifact-sync"))
//	l.Info("pass complete", log.Int("acked", 12))
//
// # Interop
//
// To capture standard library logs (Pebble uses them), call RedirectStdLog
// with the process logger.
package log
