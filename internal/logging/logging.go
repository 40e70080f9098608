// Package logging wires log/slog through context.Context and provides a
// compact handler for interactive terminals.
package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

type contextKey struct{}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a logger that discards
// everything when there is none.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && logger != nil {
			return logger
		}
	}
	return Discard()
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// Format selects the log output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Options configures New.
type Options struct {
	Level    slog.Level
	Format   Format
	UseColor bool
}

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// New builds a logger writing to w.
func New(w io.Writer, opts Options) (*slog.Logger, error) {
	handlerOpts := slog.HandlerOptions{Level: opts.Level}
	switch opts.Format {
	case FormatJSON:
		return slog.New(slog.NewJSONHandler(w, &handlerOpts)), nil
	case FormatText, "":
		return slog.New(LocalHandlerOptions{SlogOpts: handlerOpts, UseColor: opts.UseColor}.NewLocalHandler(w)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q (want text or json)", opts.Format)
	}
}

// LocalHandler prints "time LEVEL message key=value ..." lines, with the
// level coloured when UseColor is set.
type LocalHandler struct {
	opts            LocalHandlerOptions
	internalHandler slog.Handler

	mu *sync.Mutex
	w  io.Writer
}

type LocalHandlerOptions struct {
	SlogOpts slog.HandlerOptions
	UseColor bool
}

func (opts LocalHandlerOptions) NewLocalHandler(w io.Writer) *LocalHandler {
	internalOpts := opts.SlogOpts
	internalOpts.AddSource = false
	internalOpts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) == 0 && (a.Key == slog.TimeKey || a.Key == slog.LevelKey || a.Key == slog.MessageKey) {
			return slog.Attr{}
		}
		if rep := opts.SlogOpts.ReplaceAttr; rep != nil {
			return rep(groups, a)
		}
		return a
	}
	return &LocalHandler{
		opts:            opts,
		w:               w,
		mu:              &sync.Mutex{},
		internalHandler: slog.NewTextHandler(w, &internalOpts),
	}
}

func (h *LocalHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.internalHandler.Enabled(ctx, level)
}

func (h *LocalHandler) Handle(ctx context.Context, r slog.Record) error {
	var buf bytes.Buffer

	buf.WriteString(r.Time.Format(time.TimeOnly))
	buf.WriteString(" ")

	level := fmt.Sprintf("%-5s", r.Level.String())
	if h.opts.UseColor {
		level = levelColor(r.Level).Sprint(level)
	}
	buf.WriteString(level)
	buf.WriteString(" ")
	buf.WriteString(r.Message)
	buf.WriteString(" ")

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.w.Write(buf.Bytes()); err != nil {
		return err
	}
	return h.internalHandler.Handle(ctx, r)
}

func (h *LocalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LocalHandler{
		opts:            h.opts,
		w:               h.w,
		mu:              h.mu,
		internalHandler: h.internalHandler.WithAttrs(attrs),
	}
}

func (h *LocalHandler) WithGroup(name string) slog.Handler {
	return &LocalHandler{
		opts:            h.opts,
		w:               h.w,
		mu:              h.mu,
		internalHandler: h.internalHandler.WithGroup(name),
	}
}

func levelColor(level slog.Level) *color.Color {
	switch {
	case level < slog.LevelInfo:
		return color.New(color.FgMagenta)
	case level < slog.LevelWarn:
		return color.New(color.FgBlue)
	case level < slog.LevelError:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed, color.Bold)
	}
}
