// Package logging provides the leveled, subsystem-tagged logging used by the
// statline host, its producer plugins and the barlib. It is a thin line
// formatter over log/slog with two extra verbosity levels below debug.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Level aliases slog.Level so custom levels interoperate with slog tooling.
type Level = slog.Level

// Log levels, most to least severe. Verbose and trace sit below the standard
// slog levels.
const (
	LevelFatal   Level = 12
	LevelError   Level = slog.LevelError
	LevelWarning Level = slog.LevelWarn
	LevelInfo    Level = slog.LevelInfo
	LevelVerbose Level = -2
	LevelDebug   Level = slog.LevelDebug
	LevelTrace   Level = -12
)

var levelNames = []struct {
	level Level
	name  string
}{
	{LevelFatal, "fatal"},
	{LevelError, "error"},
	{LevelWarning, "warning"},
	{LevelInfo, "info"},
	{LevelVerbose, "verbose"},
	{LevelDebug, "debug"},
	{LevelTrace, "trace"},
}

// ParseLevel returns the level with the given name.
func ParseLevel(name string) (Level, error) {
	for _, ln := range levelNames {
		if ln.name == name {
			return ln.level, nil
		}
	}
	return LevelInfo, fmt.Errorf("unknown log level name %q", name)
}

// LevelName returns the canonical name of a level.
func LevelName(level Level) string {
	for _, ln := range levelNames {
		if ln.level == level {
			return ln.name
		}
	}
	return level.String()
}

// Sayf is the variadic logging function handed to plugins and barlibs via
// their context. The subsystem tag is baked in by the Logger that produced it.
type Sayf func(level Level, format string, args ...any)

// subsystemKey is the attr carrying the subsystem tag through slog.
const subsystemKey = "subsystem"

// lineHandler is a slog.Handler that writes one "statline: (subsystem)
// level: message" line per record. Writes are serialized: producer
// goroutines and the event watcher log concurrently.
type lineHandler struct {
	mu        *sync.Mutex
	w         io.Writer
	minLevel  Level
	subsystem string
}

// NewHandler creates a line handler writing to w, dropping records below
// minLevel.
func NewHandler(w io.Writer, minLevel Level) slog.Handler {
	return &lineHandler{
		mu:       &sync.Mutex{},
		w:        w,
		minLevel: minLevel,
	}
}

// Enabled reports whether the handler handles records at the given level.
func (h *lineHandler) Enabled(_ context.Context, level Level) bool {
	return level >= h.minLevel
}

// Handle writes the record as a single line.
func (h *lineHandler) Handle(_ context.Context, r slog.Record) error {
	subsystem := h.subsystem
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == subsystemKey {
			subsystem = a.Value.String()
			return false
		}
		return true
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	var err error
	if subsystem != "" {
		_, err = fmt.Fprintf(h.w, "statline: (%s) %s: %s\n", subsystem, LevelName(r.Level), r.Message)
	} else {
		_, err = fmt.Fprintf(h.w, "statline: %s: %s\n", LevelName(r.Level), r.Message)
	}
	return err
}

// WithAttrs returns a handler with the subsystem tag applied, if present.
// Other attributes are not carried: the line format has no place for them.
func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	for _, a := range attrs {
		if a.Key == subsystemKey {
			nh.subsystem = a.Value.String()
		}
	}
	return &nh
}

// WithGroup returns the handler unchanged; groups have no representation in
// the line format.
func (h *lineHandler) WithGroup(string) slog.Handler {
	return h
}

// Logger is the host logger. Sub derives subsystem-tagged loggers sharing
// the same writer, mutex and level gate.
type Logger struct {
	sl       *slog.Logger
	minLevel Level
}

// New creates a Logger writing to w at the given verbosity.
func New(w io.Writer, minLevel Level) *Logger {
	return &Logger{
		sl:       slog.New(NewHandler(w, minLevel)),
		minLevel: minLevel,
	}
}

// Sub returns a logger whose lines are tagged with the given subsystem
// (e.g. "timer@clock.lua" for a plugin, "barlib" for the sink).
func (l *Logger) Sub(subsystem string) *Logger {
	return &Logger{
		sl:       slog.New(l.sl.Handler().WithAttrs([]slog.Attr{slog.String(subsystemKey, subsystem)})),
		minLevel: l.minLevel,
	}
}

// MinLevel returns the verbosity the logger was created with.
func (l *Logger) MinLevel() Level {
	return l.minLevel
}

// Sayf logs a formatted message at the given level.
func (l *Logger) Sayf(level Level, format string, args ...any) {
	l.sl.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func (l *Logger) Fatalf(format string, args ...any)   { l.Sayf(LevelFatal, format, args...) }
func (l *Logger) Errorf(format string, args ...any)   { l.Sayf(LevelError, format, args...) }
func (l *Logger) Warnf(format string, args ...any)    { l.Sayf(LevelWarning, format, args...) }
func (l *Logger) Infof(format string, args ...any)    { l.Sayf(LevelInfo, format, args...) }
func (l *Logger) Verbosef(format string, args ...any) { l.Sayf(LevelVerbose, format, args...) }
func (l *Logger) Debugf(format string, args ...any)   { l.Sayf(LevelDebug, format, args...) }
func (l *Logger) Tracef(format string, args ...any)   { l.Sayf(LevelTrace, format, args...) }
