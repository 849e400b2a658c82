package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

// LevelFatal sits above slog.LevelError. The host pipeline reports
// unrecoverable script faults at this severity; logging at it never exits.
const LevelFatal = slog.Level(12)

type Options struct {
	Level string
	JSON  bool
	// Writer defaults to os.Stderr.
	Writer io.Writer
}

var def atomic.Value

func init() {
	def.Store(newLogger(os.Stderr, slog.LevelInfo, false))
}

func Configure(opts Options) {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	def.Store(newLogger(w, parseLevel(opts.Level), opts.JSON))
}

func newLogger(w io.Writer, lvl slog.Level, json bool) *slog.Logger {
	cfg := &slog.HandlerOptions{Level: lvl, ReplaceAttr: renameFatal}
	var h slog.Handler
	if json {
		h = slog.NewJSONHandler(w, cfg)
	} else {
		h = slog.NewTextHandler(w, cfg)
	}
	return slog.New(h)
}

func renameFatal(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= LevelFatal {
		a.Value = slog.StringValue("FATAL")
	}
	return a
}

func parseLevel(s string) slog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "fatal":
		return LevelFatal
	default:
		return slog.LevelInfo
	}
}

func L() *slog.Logger {
	l, _ := def.Load().(*slog.Logger)
	return l
}

// Fatal logs msg at LevelFatal on l (or the default logger when l is nil).
func Fatal(l *slog.Logger, msg string, args ...any) {
	if l == nil {
		l = L()
	}
	l.Log(context.Background(), LevelFatal, msg, args...)
}

func InitFromEnv() {
	lvl := os.Getenv("SCRIPTFILTER_LOG_LEVEL")
	jsonStr := os.Getenv("SCRIPTFILTER_LOG_JSON")
	json := false
	if b, err := strconv.ParseBool(strings.TrimSpace(jsonStr)); err == nil {
		json = b
	}
	Configure(Options{Level: lvl, JSON: json})
}
