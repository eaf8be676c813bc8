// Package logger provides the structured logging interface used across batchrun.
//
// It wraps zerolog behind a small Logger interface with:
//   - levelled methods (Debug, Info, Warn, Error) and their WithFields variants
//   - child loggers via WithField, WithFields and WithError
//   - coloured console output on stderr, JSON output, and optional file output
//   - a global logger for the CLI
//
// Batch diagnostics are emitted as named events:
//
//	logger.LogEvent(log, logger.SeverityWarn, "memory_paused", map[string]interface{}{
//	    "usage_mb": 2150.4,
//	    "limit_mb": 2000.0,
//	})
//
// The event name is written both as the message and under the "event" field,
// so JSON output can be filtered with a single key.
//
// Tests use NewTestLogger to capture messages and assert on events, or
// NewNopLogger to discard everything.
package logger
