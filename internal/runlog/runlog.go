// Package runlog builds the logger used during a course run: console output
// for progress plus an append-only per-course failure log that captures only
// errors, so a later run can be diagnosed from the course directory alone.
package runlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// New returns a logger that writes Info and above to w and Error and above
// to the failure log at courseLogPath, creating or appending as needed. The
// returned closer releases the failure log file.
func New(w io.Writer, courseLogPath string) (*slog.Logger, io.Closer, error) {
	console := slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})

	f, err := os.OpenFile(courseLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open failure log: %w", err)
	}
	failures := slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelError})

	return slog.New(&teeHandler{handlers: []slog.Handler{console, failures}}), f, nil
}

// teeHandler fans records out to every handler whose level admits them.
type teeHandler struct {
	handlers []slog.Handler
}

func (t *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t *teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, h := range t.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &teeHandler{handlers: next}
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		next[i] = h.WithGroup(name)
	}
	return &teeHandler{handlers: next}
}
