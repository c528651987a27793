// Package applog builds the dual-sink logger the daemon runs on: a
// custom handler that renders the on-disk Applog.txt line format, and
// a tint-backed console handler for the animated terminal stream,
// fanned out through a small multiHandler since log/slog ships no
// built-in way to write to two handlers at once.
package applog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Options configures New.
type Options struct {
	// File is the append-mode Applog.txt sink. May be nil to disable
	// the file sink entirely (e.g. in tests).
	File io.Writer
	// Console is the terminal sink. May be nil to disable it (e.g.
	// when stderr has been redirected away from a terminal).
	Console io.Writer
	Level   slog.Level
	// JSON switches the console sink to slog's JSON handler instead of
	// tint, for scriptable/non-interactive output.
	JSON bool
}

// New builds the combined logger. When both Options.File and
// Options.Console are nil, the returned logger discards every record.
func New(opts Options) *slog.Logger {
	var handlers []slog.Handler

	if opts.File != nil {
		handlers = append(handlers, &fileHandler{w: opts.File, level: opts.Level})
	}

	if opts.Console != nil {
		if opts.JSON {
			handlers = append(handlers, slog.NewJSONHandler(opts.Console, &slog.HandlerOptions{Level: opts.Level}))
		} else {
			handlers = append(handlers, tint.NewHandler(opts.Console, &tint.Options{
				Level:      opts.Level,
				TimeFormat: time.TimeOnly,
			}))
		}
	}

	switch len(handlers) {
	case 0:
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	case 1:
		return slog.New(handlers[0])
	default:
		return slog.New(&multiHandler{handlers: handlers})
	}
}

// multiHandler fans every record out to each wrapped handler in turn.
// log/slog has no built-in multi-handler; this is the minimal version
// that preserves per-handler level filtering and WithAttrs/WithGroup.
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}

	return false
}

func (m *multiHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []string

	for _, h := range m.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("multi-handler: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithAttrs(attrs)
	}

	return &multiHandler{handlers: next}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithGroup(name)
	}

	return &multiHandler{handlers: next}
}

// fileHandler renders the Applog.txt line format:
//
//	[yyyy-mm-dd HH:MM:SS.ffffff][SEVERITY]File: ... Line: ... Function: ... Message: ...
type fileHandler struct {
	w     io.Writer
	level slog.Level
	attrs []slog.Attr
	group string
}

func (h *fileHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *fileHandler) Handle(_ context.Context, record slog.Record) error {
	file, line, fn := "unknown", 0, "unknown"

	frames := runtime.CallersFrames([]uintptr{record.PC})
	if f, ok := frames.Next(); ok && f.PC != 0 {
		file, line, fn = f.File, f.Line, shortFuncName(f.Function)
	}

	var b strings.Builder

	fmt.Fprintf(&b, "[%s][%s]File: %s Line: %d Function: %s Message: %s",
		record.Time.Format("2006-01-02 15:04:05.000000"),
		strings.ToUpper(record.Level.String()),
		file, line, fn,
		renderMessage(record.Message, h.group, h.attrs, record),
	)
	b.WriteByte('\n')

	_, err := io.WriteString(h.w, b.String())
	if err != nil {
		return fmt.Errorf("write applog line: %w", err)
	}

	return nil
}

func renderMessage(msg, group string, base []slog.Attr, record slog.Record) string {
	var b strings.Builder
	b.WriteString(msg)

	prefix := ""
	if group != "" {
		prefix = group + "."
	}

	for _, a := range base {
		fmt.Fprintf(&b, " %s%s=%v", prefix, a.Key, a.Value)
	}

	record.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s%s=%v", prefix, a.Key, a.Value)

		return true
	})

	return b.String()
}

func shortFuncName(full string) string {
	if idx := strings.LastIndexByte(full, '/'); idx >= 0 {
		full = full[idx+1:]
	}

	return full
}

func (h *fileHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)

	return &next
}

func (h *fileHandler) WithGroup(name string) slog.Handler {
	next := *h
	if next.group != "" {
		next.group = next.group + "." + name
	} else {
		next.group = name
	}

	return &next
}
