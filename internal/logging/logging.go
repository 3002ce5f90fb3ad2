// Package logging provides structured logging for the veil daemon.
//
// Grounded on postalsys-Muti-Metroo/internal/logging, which builds an
// slog.Logger from a level/format pair and exposes a no-op logger for
// tests; this package keeps that exact shape and adds the attribute keys
// the tunnel/session layers need (session, peer, obfuscation fields).
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates a structured logger writing to stderr with the given
// level and format ("debug"|"info"|"warn"|"error", "text"|"json").
func NewLogger(level, format string) *slog.Logger {
	return NewLoggerWithWriter(level, format, os.Stderr)
}

// NewLoggerWithWriter creates a structured logger with a custom writer,
// used by tests that want to assert on emitted log lines.
func NewLoggerWithWriter(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NopLogger returns a logger that discards all output, for tests and
// library callers that have not configured logging.
func NopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Common attribute keys, kept consistent across the session, handshake,
// and tunnel packages so log lines can be correlated by field name alone.
const (
	KeySessionID  = "session_id"
	KeyPeerAddr   = "peer_addr"
	KeyLocalPort  = "local_port"
	KeySequence   = "sequence"
	KeyStreamID   = "stream_id"
	KeyState      = "state"
	KeyReason     = "reason"
	KeyMTU        = "mtu"
	KeyGeneration = "generation"
	KeyDuration   = "duration"
	KeyBytes      = "bytes"
	KeyAttempt    = "attempt"
	KeyConnID     = "conn_id"
	KeyCorrelationID = "correlation_id"
)
