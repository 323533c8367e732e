package tabletdb

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with tabletdb-specific context.
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
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithTablet adds the tablet ID to the logger.
func (l *Logger) WithTablet(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("tablet", id),
	}
}

// WithRowSet adds a rowset ID to the logger.
func (l *Logger) WithRowSet(id RowSetID) *Logger {
	return &Logger{
		Logger: l.Logger.With("rowset", uint64(id)),
	}
}

// LogInsert logs an insert operation.
func (l *Logger) LogInsert(ctx context.Context, key []byte, err error) {
	if err != nil {
		l.ErrorContext(ctx, "insert failed",
			"key", key,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "insert completed",
			"key", key,
		)
	}
}

// LogGet logs a point lookup. A missing key is not an error.
func (l *Logger) LogGet(ctx context.Context, key []byte, found bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "get failed",
			"key", key,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "get completed",
			"key", key,
			"found", found,
		)
	}
}

// LogScan logs a range scan.
func (l *Logger) LogScan(ctx context.Context, lower, upper []byte, rows int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "scan failed",
			"lower", lower,
			"upper", upper,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "scan completed",
			"lower", lower,
			"upper", upper,
			"rows", rows,
		)
	}
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(ctx context.Context, key []byte, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"key", key,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "delete completed",
			"key", key,
		)
	}
}

// LogFlush logs an explicit flush.
func (l *Logger) LogFlush(ctx context.Context, diskRowSets int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "flush failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "flush completed",
			"disk_rowsets", diskRowSets,
		)
	}
}

// LogCompaction logs a compaction of the given rowsets.
func (l *Logger) LogCompaction(ctx context.Context, inputs []RowSetID, err error) {
	if err != nil {
		l.ErrorContext(ctx, "compaction failed",
			"inputs", inputs,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "compaction completed",
			"inputs", inputs,
		)
	}
}
