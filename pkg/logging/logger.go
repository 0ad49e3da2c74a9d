// Package logging is a thin slog wrapper with the field names the engine
// and CLI share.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"indexlab/pkg/monitor"
)

// Logger wraps slog.Logger with indexlab-specific helpers.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler.
// If handler is nil, uses a text handler to stderr at info level.
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

// NewJSONLogger creates a Logger that outputs JSON to w.
func NewJSONLogger(w io.Writer, level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that outputs human-readable text to w.
func NewTextLogger(w io.Writer, level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NoopLogger discards everything.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000),
	}))
}

// ParseLevel maps debug/info/warn/error; anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// New builds the logger described by a log config section.
func New(w io.Writer, level, format string) *Logger {
	if strings.EqualFold(format, "json") {
		return NewJSONLogger(w, ParseLevel(level))
	}
	return NewTextLogger(w, ParseLevel(level))
}

// WithTable adds a table field.
func (l *Logger) WithTable(table string) *Logger {
	return &Logger{Logger: l.Logger.With("table", table)}
}

// WithIndex adds the column and index kind fields.
func (l *Logger) WithIndex(column, kind string) *Logger {
	return &Logger{Logger: l.Logger.With("column", column, "kind", kind)}
}

// LogDispatch logs one finished plan with its I/O cost.
func (l *Logger) LogDispatch(ctx context.Context, op, table, column string, rows int, m monitor.Metrics, err error) {
	if err != nil {
		l.WarnContext(ctx, "dispatch failed",
			"op", op,
			"table", table,
			"column", column,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "dispatch completed",
		"op", op,
		"table", table,
		"column", column,
		"rows", rows,
		"reads", m.Reads,
		"writes", m.Writes,
		"ms", m.TotalTimeMs,
	)
}

// LogMaintenance logs a compaction, reorganize or rebuild.
func (l *Logger) LogMaintenance(ctx context.Context, table, column string, live int, m monitor.Metrics, err error) {
	if err != nil {
		l.ErrorContext(ctx, "maintenance failed",
			"table", table,
			"column", column,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "maintenance completed",
		"table", table,
		"column", column,
		"live", live,
		"reads", m.Reads,
		"writes", m.Writes,
	)
}
