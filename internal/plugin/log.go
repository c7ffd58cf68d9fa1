package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// LevelSilly is the trace level below slog's debug, matching the
// finest plugin log verbosity.
const LevelSilly = slog.LevelDebug - 4

// NonStringError reports a plugin passing a non-string argument to the
// strict logging facade.
type NonStringError struct {
	Index int
	Value any
}

func (e *NonStringError) Error() string {
	return fmt.Sprintf("plugin log: argument %d is %T, only strings are accepted", e.Index, e.Value)
}

// Log is the strict string-only logging facade handed to plugins. It
// forwards to slog; arguments are joined with spaces. An optional
// prefix is prepended to every line.
type Log struct {
	log    *slog.Logger
	prefix string
}

// NewLog creates a Log writing through logger.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{log: logger}
}

// WithPrefix returns a Log that prepends prefix to every message.
func (l *Log) WithPrefix(prefix string) *Log {
	return &Log{log: l.log, prefix: prefix}
}

func (l *Log) emit(level slog.Level, parts []any) error {
	msgs := make([]string, 0, len(parts))
	for i, p := range parts {
		s, ok := p.(string)
		if !ok {
			return &NonStringError{Index: i, Value: p}
		}
		msgs = append(msgs, s)
	}
	msg := strings.Join(msgs, " ")
	if l.prefix != "" {
		msg = l.prefix + " " + msg
	}
	l.log.Log(context.Background(), level, msg)
	return nil
}

// Silly logs at trace verbosity.
func (l *Log) Silly(parts ...any) error { return l.emit(LevelSilly, parts) }

// Debug logs at debug verbosity.
func (l *Log) Debug(parts ...any) error { return l.emit(slog.LevelDebug, parts) }

// Info logs at info verbosity.
func (l *Log) Info(parts ...any) error { return l.emit(slog.LevelInfo, parts) }

// Warn logs at warn verbosity.
func (l *Log) Warn(parts ...any) error { return l.emit(slog.LevelWarn, parts) }

// Error logs at error verbosity.
func (l *Log) Error(parts ...any) error { return l.emit(slog.LevelError, parts) }
