// Package logging builds the slog.Logger this engine logs through: a
// single human outlet, colorized by default, with a WithError helper
// that call sites across the core use instead of repeating
// `"error", err` everywhere.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Options configures the logger New builds.
type Options struct {
	Level  string // "debug", "info", "warn", "error"
	Color  bool
	Output io.Writer // defaults to os.Stderr
}

// New builds a slog.Logger writing human-readable, optionally colorized
// lines to Options.Output.
func New(opts Options) *slog.Logger {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	color.NoColor = !opts.Color

	return slog.New(&handler{
		level: parseLevel(opts.Level),
		w:     opts.Output,
	})
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// handler is a minimal slog.Handler emitting one colorized line per
// record: "LEVEL message key=value ...". There is no JSON outlet; every
// zlinkd surface (daemon, CLI) wants the same human-readable line.
type handler struct {
	level  slog.Level
	w      io.Writer
	attrs  []slog.Attr
	groups []string
}

func (h *handler) Enabled(_ context.Context, level slog.Level) bool { return level >= h.level }

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	levelColor := levelColorFunc(r.Level)
	var b strings.Builder
	b.WriteString(levelColor(r.Level.String()))
	b.WriteByte(' ')
	b.WriteString(r.Message)

	for _, a := range h.attrs {
		writeAttr(&b, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, a)
		return true
	})
	b.WriteByte('\n')
	_, err := io.WriteString(h.w, b.String())
	return err
}

func writeAttr(b *strings.Builder, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	b.WriteByte(' ')
	b.WriteString(color.New(color.Faint).Sprintf("%s=%v", a.Key, a.Value))
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &cp
}

func (h *handler) WithGroup(name string) slog.Handler {
	cp := *h
	cp.groups = append(append([]string(nil), h.groups...), name)
	return &cp
}

func levelColorFunc(l slog.Level) func(string, ...any) string {
	switch {
	case l >= slog.LevelError:
		return color.New(color.FgRed, color.Bold).Sprintf
	case l >= slog.LevelWarn:
		return color.New(color.FgYellow).Sprintf
	case l >= slog.LevelInfo:
		return color.New(color.FgCyan).Sprintf
	default:
		return color.New(color.FgHiBlack).Sprintf
	}
}

// WithError logs msg with err (if non-nil) attached as an "error"
// attribute, at Error level when err is set and Info otherwise.
func WithError(log *slog.Logger, err error, msg string, args ...any) {
	if err == nil {
		log.Info(msg, args...)
		return
	}
	log.Error(msg, append(args, "error", err)...)
}
