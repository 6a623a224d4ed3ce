package logging

import (
	"fmt"
	"io"
	"log"
	"sync/atomic"
)

// #region logger
// Logger is a leveled, component-prefixed wrapper over the standard logger.
type Logger struct {
	component string
	out       *log.Logger
	quiet     atomic.Bool
}

// New creates a logger writing through the standard logger's output.
func New(component string) *Logger {
	return &Logger{component: component, out: log.Default()}
}

// NewWithWriter creates a logger with its own destination, mainly for tests.
func NewWithWriter(component string, w io.Writer) *Logger {
	return &Logger{component: component, out: log.New(w, "", 0)}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewWithWriter("", io.Discard)
}

// With returns a logger for a sub-component sharing the same destination.
func (l *Logger) With(component string) *Logger {
	name := component
	if l.component != "" {
		name = l.component + "." + component
	}
	return &Logger{component: name, out: l.out}
}

// SetQuiet suppresses INFO lines. Warnings and errors are always written.
func (l *Logger) SetQuiet(q bool) { l.quiet.Store(q) }

func (l *Logger) line(level, f string, a ...any) {
	msg := fmt.Sprintf(f, a...)
	if l.component == "" {
		l.out.Printf("[%s] %s", level, msg)
		return
	}
	l.out.Printf("[%s] [%s] %s", level, l.component, msg)
}

func (l *Logger) Infof(f string, a ...any) {
	if l.quiet.Load() {
		return
	}
	l.line("INFO", f, a...)
}

func (l *Logger) Warnf(f string, a ...any) { l.line("WARN", f, a...) }
func (l *Logger) Errorf(f string, a ...any) { l.line("ERROR", f, a...) }

// #endregion logger
