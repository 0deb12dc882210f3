// Package logging provides a configured slog logger with:
// - TTY detection for human-readable vs JSON output
// - LOG_FORMAT env var override (text/json)
// - LOG_LEVEL env var overriding the configured level
// - Source file:line info with shortened relative paths
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
)

// Options selects level and format. Empty fields fall back to env vars, then defaults.
type Options struct {
	Level  string // debug | info | warn | error
	Format string // text | json
	Writer io.Writer
}

// New creates a configured logger.
// Format is determined by:
// 1. LOG_FORMAT env var (text/json)
// 2. Options.Format
// 3. TTY detection (text for TTY, JSON otherwise)
// Level: LOG_LEVEL env var, then Options.Level, default info.
func New(o Options) *slog.Logger {
	w := o.Writer
	if w == nil {
		w = os.Stdout
	}

	format := strings.ToLower(firstSet(os.Getenv("LOG_FORMAT"), o.Format))
	useText := format == "text" || (format == "" && isTerminal(w))

	wd, _ := os.Getwd()
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(firstSet(os.Getenv("LOG_LEVEL"), o.Level)),
		AddSource: true,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				if src, ok := a.Value.Any().(*slog.Source); ok {
					if rel, err := filepath.Rel(wd, src.File); err == nil {
						src.File = rel
					} else {
						src.File = filepath.Base(src.File)
					}
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if useText {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// SetDefault creates a new logger and installs it as the slog default.
func SetDefault(o Options) *slog.Logger {
	logger := New(o)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel converts a string log level to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
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

// Error is the attribute used for errors across the service.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func firstSet(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
