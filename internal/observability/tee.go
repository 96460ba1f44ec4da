package observability

import (
	"context"
	"errors"
	"log/slog"
)

// TeeHandler fans every record out to each handler that accepts its level.
func TeeHandler(handlers ...slog.Handler) slog.Handler {
	return &teeHandler{handlers: handlers}
}

type teeHandler struct {
	handlers []slog.Handler
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, next := range h.handlers {
		if next.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, next := range h.handlers {
		if !next.Enabled(ctx, r.Level) {
			continue
		}
		// Handlers may retain the record's attrs.
		if err := next.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	for i, next := range h.handlers {
		out[i] = next.WithAttrs(attrs)
	}
	return &teeHandler{handlers: out}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	out := make([]slog.Handler, len(h.handlers))
	for i, next := range h.handlers {
		out[i] = next.WithGroup(name)
	}
	return &teeHandler{handlers: out}
}
