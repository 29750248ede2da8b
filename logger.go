package recallgraph

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with recallgraph-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// LogAdd logs a memory add operation.
func (l *Logger) LogAdd(ctx context.Context, count int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "add failed",
			"count", count,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "add completed",
			"count", count,
		)
	}
}

// LogRecall logs a recall operation.
func (l *Logger) LogRecall(ctx context.Context, queryID string, k, resultsFound int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "recall failed",
			"query_id", queryID,
			"k", k,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "recall completed",
			"query_id", queryID,
			"k", k,
			"results", resultsFound,
		)
	}
}

// LogRemove logs a remove operation.
func (l *Logger) LogRemove(ctx context.Context, id uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "remove failed",
			"id", id,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "remove completed",
			"id", id,
		)
	}
}

// LogBuild logs an index build.
func (l *Logger) LogBuild(ctx context.Context, size int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "index build failed",
			"size", size,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "index build completed",
			"size", size,
		)
	}
}

// LogSnapshot logs a snapshot operation.
func (l *Logger) LogSnapshot(ctx context.Context, name string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot failed",
			"name", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot saved",
			"name", name,
		)
	}
}

// LogExperiment logs an experiment lifecycle transition.
func (l *Logger) LogExperiment(ctx context.Context, experimentID, status string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "experiment transition failed",
			"experiment_id", experimentID,
			"status", status,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "experiment transition",
			"experiment_id", experimentID,
			"status", status,
		)
	}
}
