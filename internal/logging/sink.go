// ============================================================================
// Batchkit Logging - Structured Sink over slog
// ============================================================================
//
// Package: internal/logging
// File: sink.go
// Purpose: A thin, swappable structured-logging facade. The log sink is an
// external collaborator injected into the orchestrator and every
// EndpointManager; Sink is that collaborator's interface, backed by log/slog
// the way this codebase's packages log through a package-level *slog.Logger.
//
// ============================================================================

package logging

import (
	"context"
	"log/slog"
	"os"
)

// Sink is the structured-logging collaborator threaded through the
// orchestrator, the hotswap engine, and every EndpointManager. Call sites
// pass key/value pairs exactly as they would to slog.
type Sink interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With returns a Sink that prepends args to every subsequent call,
	// mirroring slog.Logger.With. Used to scope a sink to one batch, one
	// endpoint manager, or one hotswap generation.
	With(args ...any) Sink
}

// slogSink adapts *slog.Logger to Sink.
type slogSink struct {
	logger *slog.Logger
}

// NewSlogSink wraps an existing *slog.Logger. Pass nil to use slog.Default().
func NewSlogSink(logger *slog.Logger) Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &slogSink{logger: logger}
}

// NewTextSink builds a Sink writing leveled text lines to os.Stderr,
// matching the CLI's default logging setup.
func NewTextSink(level slog.Level) Sink {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return &slogSink{logger: slog.New(handler)}
}

func (s *slogSink) Debug(msg string, args ...any) { s.logger.Debug(msg, args...) }
func (s *slogSink) Info(msg string, args ...any)  { s.logger.Info(msg, args...) }
func (s *slogSink) Warn(msg string, args ...any)  { s.logger.Warn(msg, args...) }
func (s *slogSink) Error(msg string, args ...any) { s.logger.Error(msg, args...) }

func (s *slogSink) With(args ...any) Sink {
	return &slogSink{logger: s.logger.With(args...)}
}

// LogAttrs is a convenience matching slog's context-aware entry point: it
// routes msg to the sink method for level (any level other than Debug, Warn
// or Error goes to Info). ctx is not used.
func LogAttrs(ctx context.Context, sink Sink, level slog.Level, msg string, args ...any) {
	switch level {
	case slog.LevelDebug:
		sink.Debug(msg, args...)
	case slog.LevelWarn:
		sink.Warn(msg, args...)
	case slog.LevelError:
		sink.Error(msg, args...)
	default:
		sink.Info(msg, args...)
	}
}
