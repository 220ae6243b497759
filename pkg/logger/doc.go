// Package logger provides a structured logging interface for postvault.
//
// It wraps the zerolog library behind a small Logger interface so that
// packages depend on the interface, not on zerolog directly:
//   - Multiple log levels (Debug, Info, Warn, Error, Fatal)
//   - Structured logging with fields, bound or per-call
//   - Pretty console output with colors, JSON for files
//   - Global logger instance for the CLI entry points
//
// Basic usage:
//
//	cfg := &config.LoggingConfig{Level: "info"}
//	err := logger.Initialize(cfg)
//
//	logger.Info("archive opened")
//	logger.WithField("platform", "instagram").Info("extraction started")
//	logger.WithError(err).Error("upsert failed")
//
// Components receive a logger.Logger at construction and should never reach
// for the global except at the very top of the program.
package logger
