/*
Package log provides leveled logging for propsort.

Text entries are written in the following format:

	timestamp hostname tag[pid]: SEVERITY Message key=value ...

The json format emits one slog JSON object per line instead.
*/
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

var (
	mu     sync.Mutex
	tag    = "propsort"
	level  = new(slog.LevelVar)
	format = "text"
	out    io.Writer = os.Stderr
	logger *slog.Logger
)

// Handler is a slog.Handler that writes the syslog-like text format.
type Handler struct {
	level    slog.Leveler
	hostname string
	tag      string
	w        io.Writer
	attrs    []slog.Attr
	group    string
}

// NewHandler returns a Handler writing to w.
func NewHandler(w io.Writer, tag string, level slog.Leveler) *Handler {
	hostname, _ := os.Hostname()
	return &Handler{level: level, hostname: hostname, tag: tag, w: w}
}

func (h *Handler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s[%d]: %s %s",
		r.Time.Format(time.RFC3339), h.hostname, h.tag, os.Getpid(),
		strings.ToUpper(r.Level.String()), r.Message)

	for _, a := range h.attrs {
		writeAttr(&b, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, h.group, a)
		return true
	})
	b.WriteByte('\n')

	_, err := io.WriteString(h.w, b.String())
	return err
}

func writeAttr(b *strings.Builder, group string, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if group != "" {
		key = group + "." + key
	}
	fmt.Fprintf(b, " %s=%v", key, a.Value.Resolve().Any())
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	nh.attrs = append(nh.attrs, h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		nh.attrs = append(nh.attrs, a)
	}
	return &nh
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	if h.group != "" {
		name = h.group + "." + name
	}
	nh.group = name
	return &nh
}

func init() {
	level.Set(slog.LevelInfo)
	rebuild()
}

// rebuild installs a new logger from the current settings. mu must be
// held or the package must be initializing.
func rebuild() {
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	} else {
		h = NewHandler(out, tag, level)
	}
	logger = slog.New(h)
	slog.SetDefault(logger)
}

// SetTag sets the tag that appears in every text entry.
func SetTag(t string) {
	mu.Lock()
	defer mu.Unlock()
	tag = t
	rebuild()
}

// SetOutput redirects all log output to w.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	rebuild()
}

// ParseLevel converts a level name to a slog.Level. "warning" is accepted
// as an alias for "warn".
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "fatal", "panic":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("not a valid level: %q", name)
}

// SetLevel sets the minimum level that is logged. An invalid level is
// fatal.
func SetLevel(name string) {
	l, err := ParseLevel(name)
	if err != nil {
		Fatal("%v", err)
		return
	}
	level.Set(l)
}

// Level returns the current minimum level.
func Level() slog.Level {
	return level.Level()
}

// SetFormat sets the log format. Valid formats are "text" and "json".
func SetFormat(f string) {
	if f != "text" && f != "json" {
		Fatal("not a valid log format: %q", f)
		return
	}
	mu.Lock()
	defer mu.Unlock()
	format = f
	rebuild()
}

func current() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

// Debug logs a message with severity DEBUG.
func Debug(format string, v ...any) {
	current().Debug(fmt.Sprintf(format, v...))
}

// Error logs a message with severity ERROR.
func Error(format string, v ...any) {
	current().Error(fmt.Sprintf(format, v...))
}

// Fatal logs a message with severity ERROR followed by a call to os.Exit().
func Fatal(format string, v ...any) {
	current().Error(fmt.Sprintf(format, v...))
	os.Exit(1)
}

// Info logs a message with severity INFO.
func Info(format string, v ...any) {
	current().Info(fmt.Sprintf(format, v...))
}

// Warning logs a message with severity WARN.
func Warning(format string, v ...any) {
	current().Warn(fmt.Sprintf(format, v...))
}

// DebugContext logs a structured message with severity DEBUG.
func DebugContext(ctx context.Context, msg string, args ...any) {
	current().DebugContext(ctx, msg, args...)
}

// InfoContext logs a structured message with severity INFO.
func InfoContext(ctx context.Context, msg string, args ...any) {
	current().InfoContext(ctx, msg, args...)
}

// WarnContext logs a structured message with severity WARN.
func WarnContext(ctx context.Context, msg string, args ...any) {
	current().WarnContext(ctx, msg, args...)
}

// ErrorContext logs a structured message with severity ERROR.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	current().ErrorContext(ctx, msg, args...)
}

// With returns a logger that adds args to every entry.
func With(args ...any) *slog.Logger {
	return current().With(args...)
}

// Logger returns the underlying slog.Logger.
func Logger() *slog.Logger {
	return current()
}
