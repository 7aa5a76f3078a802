// Package logging provides structured logging for the relay.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// NewLogger creates a new structured logger with the specified level and format.
// Supported levels: debug, info, warn, error
// Supported formats: text, json
func NewLogger(level, format string) *slog.Logger {
	return NewLoggerWithWriter(level, format, os.Stderr)
}

// NewLoggerWithWriter creates a new structured logger with a custom writer.
func NewLoggerWithWriter(level, format string, w io.Writer) *slog.Logger {
	lvl := parseLevel(level)

	opts := &slog.HandlerOptions{
		Level: lvl,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NopLogger returns a logger that discards all output.
func NopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Sampler rate-limits a log statement on a hot path. Per-datagram events
// such as drops go through a Sampler so a flood of junk traffic cannot
// flood the log as well.
type Sampler struct {
	s rate.Sometimes
}

// NewSampler creates a sampler that lets through at most one event per interval.
func NewSampler(interval time.Duration) *Sampler {
	return &Sampler{s: rate.Sometimes{Interval: interval}}
}

// Do runs fn if the sampler allows it.
func (s *Sampler) Do(fn func()) {
	s.s.Do(fn)
}

// Common attribute keys for consistent logging.
const (
	KeyWorker      = "worker"
	KeyIndex       = "index"
	KeySource      = "src"
	KeyDestination = "dest"
	KeyTarget      = "target"
	KeyMessageType = "msg_type"
	KeyReason      = "reason"
	KeyAddress     = "address"
	KeyError       = "error"
	KeyComponent   = "component"
	KeyLocalAddr   = "local_addr"
	KeyDuration    = "duration"
	KeyCount       = "count"
	KeyBytes       = "bytes"
)
