package app

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the process logger on stdout and installs it as the slog
// default. WEBUI_LOG_FORMAT=pretty (or text) selects the terminal handler,
// colored unless NO_COLOR is set or stdout is not a tty. Anything else is
// JSON.
func NewLogger(level, format string) *slog.Logger {
	return newLogger(os.Stdout, level, format, isTerminal(os.Stdout))
}

func newLogger(w io.Writer, level, format string, color bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level), AddSource: true}

	var log *slog.Logger
	if f := strings.ToLower(strings.TrimSpace(format)); f == "pretty" || f == "text" {
		log = slog.New(newPrettyHandler(w, opts, color))
	} else {
		log = slog.New(slog.NewJSONHandler(w, opts))
	}
	slog.SetDefault(log)
	return log
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func isTerminal(f *os.File) bool {
	if _, noColor := os.LookupEnv("NO_COLOR"); noColor {
		return false
	}
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}
