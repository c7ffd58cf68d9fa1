// Package logging configures the process-wide slog logger for the
// message hub: colored terminal output via tint when attached to a
// TTY, JSON otherwise, with a runtime-adjustable level shared by the
// engine and the admin surface.
package logging

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Level is the global atomic log level, default INFO. The serve
// command lowers or raises it from its -log-level flag without
// rebuilding the handler.
var Level = new(slog.LevelVar)

// Setup installs the global slog handler. A TTY on stderr gets tint's
// colored output; anything else (systemd, container logs) gets JSON
// for structured aggregation.
func Setup() {
	var handler slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      Level,
			TimeFormat: time.TimeOnly,
		})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: Level,
		})
	}
	slog.SetDefault(slog.New(handler))
}

// SetLevel changes the global log level.
func SetLevel(l slog.Level) {
	Level.Set(l)
}

// GetLevel returns the current global log level.
func GetLevel() slog.Level {
	return Level.Level()
}

// ParseLevel converts "debug", "info", "warn" or "error" to the
// corresponding slog.Level, case-insensitively.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(strings.ToUpper(s)))
	return l, err
}
