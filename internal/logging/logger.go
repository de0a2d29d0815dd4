// Package logging builds the process-wide structured logger. Output is
// slog text lines on stderr, tagged with the application name and pid so
// concurrent restitch runs sharing a terminal stay distinguishable.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// New creates the logger for app at the named level. Unrecognized level
// names fall back to info and are reported on the returned logger rather
// than silently swallowed.
func New(app string, level string) *slog.Logger {
	return NewWithWriter(os.Stderr, app, level)
}

// NewWithWriter is New with an explicit output destination, for tests
// and for callers that redirect engine logging.
func NewWithWriter(w io.Writer, app string, level string) *slog.Logger {
	lvl, known := ParseLevel(level)
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
	logger := slog.New(handler).With(
		slog.String("app", app),
		slog.Int("pid", os.Getpid()),
	)
	if !known {
		logger.Warn("unknown log level, using info", slog.String("level", level))
	}
	return logger
}

// ParseLevel maps a config-level name to its slog level. The second
// return reports whether the name was recognized; unknown names map to
// info. The empty string means "use the default" and is recognized.
func ParseLevel(level string) (slog.Level, bool) {
	switch level {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}
