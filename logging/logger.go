// Package logging wraps github.com/charmbracelet/log behind a small,
// nil-safe Logger type so callers deep in the core can accept an optional
// logger without an interface per call site.
package logging

import (
	"os"

	"github.com/charmbracelet/log"
)

// Logger wraps a charmbracelet/log.Logger. A nil *Logger is valid and
// discards everything, so packages can accept one without forcing a
// logger on tests that don't care.
type Logger struct {
	base *log.Logger
}

// New creates a Logger writing to stderr. DEBUG=1 raises the level to
// debug and enables caller reporting; otherwise the level is info.
func New(prefix string) *Logger {
	base := log.New(os.Stderr)

	if os.Getenv("DEBUG") == "1" {
		base = log.NewWithOptions(os.Stderr, log.Options{
			ReportCaller:    true,
			ReportTimestamp: true,
			Prefix:          prefix,
		})
		base.SetLevel(log.DebugLevel)
	} else {
		base.SetPrefix(prefix)
		base.SetLevel(log.InfoLevel)
	}

	return &Logger{base: base}
}

func (l *Logger) Debug(msg interface{}, keyvals ...interface{}) {
	if l == nil {
		return
	}
	l.base.Debug(msg, keyvals...)
}

func (l *Logger) Info(msg interface{}, keyvals ...interface{}) {
	if l == nil {
		return
	}
	l.base.Info(msg, keyvals...)
}

func (l *Logger) Warn(msg interface{}, keyvals ...interface{}) {
	if l == nil {
		return
	}
	l.base.Warn(msg, keyvals...)
}

func (l *Logger) Error(msg interface{}, keyvals ...interface{}) {
	if l == nil {
		return
	}
	l.base.Error(msg, keyvals...)
}

func (l *Logger) Fatal(msg interface{}, keyvals ...interface{}) {
	if l == nil {
		os.Exit(1)
	}
	l.base.Fatal(msg, keyvals...)
}
