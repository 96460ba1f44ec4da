package observability

import (
	"context"
	"log/slog"
)

// LogContext holds structured logging context information.
type LogContext struct {
	RunID        string
	ConnectionID string
	PipeName     string
	Generator    string
}

type logContextKeyType string

const logContextKey logContextKeyType = "log-context"

// WithRunID adds an engine run ID to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	lc := extractLogContext(ctx)
	lc.RunID = runID
	return context.WithValue(ctx, logContextKey, lc)
}

// WithConnectionID adds a connection ID to the context.
func WithConnectionID(ctx context.Context, id string) context.Context {
	lc := extractLogContext(ctx)
	lc.ConnectionID = id
	return context.WithValue(ctx, logContextKey, lc)
}

// WithPipeName adds the server pipe name to the context.
func WithPipeName(ctx context.Context, name string) context.Context {
	lc := extractLogContext(ctx)
	lc.PipeName = name
	return context.WithValue(ctx, logContextKey, lc)
}

// WithGenerator adds the executing generator name to the context.
func WithGenerator(ctx context.Context, name string) context.Context {
	lc := extractLogContext(ctx)
	lc.Generator = name
	return context.WithValue(ctx, logContextKey, lc)
}

func extractLogContext(ctx context.Context) LogContext {
	if ctx == nil {
		return LogContext{}
	}
	if lc, ok := ctx.Value(logContextKey).(LogContext); ok {
		return lc
	}
	return LogContext{}
}

func getLogAttrs(ctx context.Context) []slog.Attr {
	lc := extractLogContext(ctx)
	attrs := make([]slog.Attr, 0, 4)
	if lc.RunID != "" {
		attrs = append(attrs, slog.String("run_id", lc.RunID))
	}
	if lc.ConnectionID != "" {
		attrs = append(attrs, slog.String("connection_id", lc.ConnectionID))
	}
	if lc.PipeName != "" {
		attrs = append(attrs, slog.String("pipe_name", lc.PipeName))
	}
	if lc.Generator != "" {
		attrs = append(attrs, slog.String("generator", lc.Generator))
	}
	return attrs
}

// GetContext returns the structured log context from the provided context.
func GetContext(ctx context.Context) LogContext {
	return extractLogContext(ctx)
}

// Logger returns base enriched with the context attributes.
func Logger(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	attrs := getLogAttrs(ctx)
	if len(attrs) == 0 {
		return base
	}
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return base.With(args...)
}

// InfoContext logs an info message with context information.
func InfoContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAttrs(ctx, slog.LevelInfo, msg, attrs)
}

// WarnContext logs a warning message with context information.
func WarnContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAttrs(ctx, slog.LevelWarn, msg, attrs)
}

// ErrorContext logs an error message with context information.
func ErrorContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAttrs(ctx, slog.LevelError, msg, attrs)
}

// DebugContext logs a debug message with context information.
func DebugContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAttrs(ctx, slog.LevelDebug, msg, attrs)
}

func logAttrs(ctx context.Context, level slog.Level, msg string, attrs []slog.Attr) {
	all := append(getLogAttrs(ctx), attrs...)
	slog.LogAttrs(ctx, level, msg, all...)
}
