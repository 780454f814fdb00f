package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	ansiReset  = "\x1b[0m"
	ansiBold   = "\x1b[1m"
	ansiDim    = "\x1b[2m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
	ansiPurple = "\x1b[35m"
	ansiCyan   = "\x1b[36m"
)

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(s string) string { return ansiPattern.ReplaceAllString(s, "") }

// keyColors paints values of well-known attributes. Keys not listed here,
// and the status/duration keys handled in colorFor, print plain.
var keyColors = map[string]string{
	"path":       ansiCyan,
	"repo":       ansiCyan,
	"flavor":     ansiCyan,
	"err":        ansiRed,
	"sid":        ansiDim,
	"sid_old":    ansiDim,
	"request_id": ansiDim,
}

// prettyHandler prints "15:04:05.000 LEVEL msg k=v ..." lines for terminals.
// Attributes bound with WithAttrs are rendered once, at bind time.
type prettyHandler struct {
	w     io.Writer
	mu    *sync.Mutex
	level slog.Leveler
	src   bool
	color bool

	bound  string // pre-rendered " k=v" pairs
	prefix string // dotted group path, "" or ending in '.'
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{w: w, mu: new(sync.Mutex), level: slog.LevelInfo, color: color}
	if opts != nil {
		if opts.Level != nil {
			h.level = opts.Level
		}
		h.src = opts.AddSource
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	for _, a := range attrs {
		h.write(&b, h.prefix, a)
	}
	cp := *h
	cp.bound += b.String()
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	if name = strings.TrimSpace(name); name == "" {
		return h
	}
	cp := *h
	cp.prefix += name + "."
	return &cp
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	when := r.Time
	if when.IsZero() {
		when = time.Now()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s%s",
		h.paint(ansiDim, when.Format("15:04:05.000")),
		h.levelTag(r.Level),
		h.paint(ansiBold, r.Message),
		h.bound)
	r.Attrs(func(a slog.Attr) bool {
		h.write(&b, h.prefix, a)
		return true
	})
	if h.src && r.PC != 0 {
		if f, _ := runtime.CallersFrames([]uintptr{r.PC}).Next(); f.File != "" {
			b.WriteString(" src=" + h.paint(ansiDim, filepath.Base(f.File)+":"+strconv.Itoa(f.Line)))
		}
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

// write appends " key=value" for a, flattening groups into dotted keys.
func (h *prettyHandler) write(b *strings.Builder, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	key := strings.TrimSpace(a.Key)
	if v.Kind() == slog.KindGroup {
		if key != "" {
			prefix += key + "."
		}
		for _, ga := range v.Group() {
			h.write(b, prefix, ga)
		}
		return
	}
	if key == "" {
		return
	}
	key = prefix + key

	text := render(v)
	if a.Key == "duration_ms" {
		text += "ms"
	}
	b.WriteString(" " + key + "=" + h.paint(colorFor(a.Key, v), quote(text)))
}

func colorFor(key string, v slog.Value) string {
	switch key {
	case "status":
		if n, err := strconv.Atoi(render(v)); err == nil {
			return classColor(statusClass(n))
		}
	case "class":
		return classColor(v.String())
	case "duration_ms":
		if ms, err := strconv.ParseInt(render(v), 10, 64); err == nil && ms >= 250 {
			if ms >= 1000 {
				return ansiRed
			}
			return ansiYellow
		}
	case "method":
		switch v.String() {
		case "GET", "HEAD":
			return ansiGreen
		case "DELETE":
			return ansiRed
		default:
			return ansiYellow
		}
	}
	return keyColors[key]
}

func classColor(class string) string {
	switch class {
	case "2xx":
		return ansiGreen
	case "3xx":
		return ansiCyan
	case "4xx":
		return ansiYellow
	case "5xx":
		return ansiRed
	}
	return ""
}

func (h *prettyHandler) levelTag(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return h.paint(ansiRed, "ERROR")
	case l >= slog.LevelWarn:
		return h.paint(ansiYellow, "WARN ")
	case l >= slog.LevelInfo:
		return h.paint(ansiBlue, "INFO ")
	}
	return h.paint(ansiPurple, "DEBUG")
}

func (h *prettyHandler) paint(color, s string) string {
	if !h.color || color == "" {
		return s
	}
	return color + s + ansiReset
}

func render(v slog.Value) string {
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
	}
	return v.String()
}

func quote(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
