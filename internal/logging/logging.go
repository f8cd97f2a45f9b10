// Package logging prints slog records as short "LEVEL: message key=value" lines
// on a terminal, colored by level.
package logging

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/fatih/color"
	"golang.org/x/term"
)

// ColorMode is the value of a --color flag.
type ColorMode string

const (
	ColorAuto ColorMode = "auto"
	ColorOn   ColorMode = "on"
	ColorOff  ColorMode = "off"
)

// ParseColorMode validates a --color value.
func ParseColorMode(s string) (ColorMode, error) {
	switch m := ColorMode(strings.ToLower(s)); m {
	case ColorAuto, ColorOn, ColorOff:
		return m, nil
	}
	return "", errors.Newf("invalid color mode %q (want auto, on or off)", s)
}

// Enabled reports whether output to w should be colored. Auto colors only
// terminals.
func (m ColorMode) Enabled(w io.Writer) bool {
	switch m {
	case ColorOn:
		return true
	case ColorOff:
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Options configure New.
type Options struct {
	Level slog.Leveler
	Color bool
}

// LevelFor maps the --quiet and --verbose flags to a level. Quiet wins.
func LevelFor(quiet, verbose bool) slog.Level {
	switch {
	case quiet:
		return slog.LevelWarn
	case verbose:
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// New returns a logger writing to w.
func New(w io.Writer, opts Options) *slog.Logger {
	return slog.New(NewHandler(w, opts))
}

// Handler is a slog.Handler for human readers. It drops record timestamps.
type Handler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Leveler
	colors map[slog.Level]*color.Color
	// attrs holds the preformatted attributes added through WithAttrs.
	attrs  string
	prefix string
}

func NewHandler(w io.Writer, opts Options) *Handler {
	level := opts.Level
	if level == nil {
		level = slog.LevelInfo
	}
	colors := map[slog.Level]*color.Color{
		slog.LevelDebug: color.New(color.Faint),
		slog.LevelInfo:  color.New(color.FgGreen),
		slog.LevelWarn:  color.New(color.FgYellow),
		slog.LevelError: color.New(color.FgRed, color.Bold),
	}
	for _, c := range colors {
		if opts.Color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return &Handler{mu: &sync.Mutex{}, w: w, level: level, colors: colors}
}

func (h *Handler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer
	buf.WriteString(h.levelColor(r.Level).Sprint(levelName(r.Level) + ":"))
	buf.WriteByte(' ')
	buf.WriteString(r.Message)
	buf.WriteString(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&buf, h.prefix, a)
		return true
	})
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	var buf bytes.Buffer
	for _, a := range attrs {
		appendAttr(&buf, h.prefix, a)
	}
	h2 := *h
	h2.attrs = h.attrs + buf.String()
	return &h2
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.prefix = h.prefix + name + "."
	return &h2
}

func (h *Handler) levelColor(l slog.Level) *color.Color {
	switch {
	case l >= slog.LevelError:
		return h.colors[slog.LevelError]
	case l >= slog.LevelWarn:
		return h.colors[slog.LevelWarn]
	case l >= slog.LevelInfo:
		return h.colors[slog.LevelInfo]
	}
	return h.colors[slog.LevelDebug]
}

func levelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "ERROR"
	case l >= slog.LevelWarn:
		return "WARN"
	case l >= slog.LevelInfo:
		return "INFO"
	}
	return "DEBUG"
}

func appendAttr(buf *bytes.Buffer, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			appendAttr(buf, prefix, ga)
		}
		return
	}
	buf.WriteByte(' ')
	buf.WriteString(prefix)
	buf.WriteString(a.Key)
	buf.WriteByte('=')
	buf.WriteString(quoteIfNeeded(a.Value.String()))
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
