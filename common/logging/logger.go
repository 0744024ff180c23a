// Package logging configures structured logging for the Driftline
// services. Output is slog JSON by default so every service's lines are
// machine-parseable; request-scoped logging picks the request ID out of
// the context automatically.
package logging

import (
	"context"
	"log/slog"
	"os"

	"github.com/driftline-systems/driftline-stack/common/middleware"
)

// Logger is a slog.Logger that knows how to pull request-scoped fields
// out of a context.
type Logger struct {
	*slog.Logger
}

// New builds a Logger writing to stdout. format is "text" or "json";
// anything else falls back to json.
func New(level slog.Level, format string) *Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return &Logger{Logger: slog.New(handler)}
}

// Default wraps the process-wide slog default.
func Default() *Logger {
	return &Logger{Logger: slog.Default()}
}

// SetDefault installs l as the process-wide default, for both slog and
// the legacy log package.
func SetDefault(l *Logger) {
	slog.SetDefault(l.Logger)
}

// WithContext returns an slog.Logger carrying the request ID from ctx,
// when one is present.
func (l *Logger) WithContext(ctx context.Context) *slog.Logger {
	if reqID := middleware.GetRequestID(ctx); reqID != "" {
		return l.Logger.With(slog.String("request_id", reqID))
	}
	return l.Logger
}

// InfoContext logs at Info level with request-scoped fields.
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).InfoContext(ctx, msg, args...)
}

// WarnContext logs at Warn level with request-scoped fields.
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).WarnContext(ctx, msg, args...)
}

// ErrorContext logs at Error level with request-scoped fields.
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).ErrorContext(ctx, msg, args...)
}

// With returns a logger carrying the given attributes on every line.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// ParseLevel maps a config string ("debug", "info", "warn"/"warning",
// "error") to an slog.Level. Unknown values mean info.
func ParseLevel(level string) slog.Level {
	switch level {
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
