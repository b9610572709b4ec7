package logging

import (
	"context"
	"log/slog"
)

// minLevelHandler raises the floor for one logger without touching the shared
// level variable the rest of the process logs under.
type minLevelHandler struct {
	next  slog.Handler
	floor slog.Level
}

// WithLevelOverride returns a logger that drops records below the given level
// while keeping the wrapped handler chain and any bound attributes intact.
func WithLevelOverride(logger *slog.Logger, level slog.Level) *slog.Logger {
	if logger == nil {
		return slog.New(NoopHandler{})
	}
	type refloorer interface {
		CloneWithLevel(slog.Level) slog.Handler
	}
	if existing, ok := logger.Handler().(refloorer); ok {
		return slog.New(existing.CloneWithLevel(level))
	}
	return slog.New(&minLevelHandler{next: logger.Handler(), floor: level})
}

func (h *minLevelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.floor && h.next.Enabled(ctx, level)
}

func (h *minLevelHandler) Handle(ctx context.Context, record slog.Record) error {
	if record.Level < h.floor {
		return nil
	}
	return h.next.Handle(ctx, record)
}

func (h *minLevelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &minLevelHandler{next: h.next.WithAttrs(attrs), floor: h.floor}
}

func (h *minLevelHandler) WithGroup(name string) slog.Handler {
	return &minLevelHandler{next: h.next.WithGroup(name), floor: h.floor}
}

func (h *minLevelHandler) CloneWithLevel(level slog.Level) slog.Handler {
	return &minLevelHandler{next: h.next, floor: level}
}
