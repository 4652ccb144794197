// Package klog is the kernel's leveled logger. Lines go to a hal.Logger with
// an ANSI colour per level.
package klog

import (
	"fmt"
	"strings"
	"sync/atomic"

	"taskos/hal"
)

// Level orders log verbosity. Off disables leveled output.
type Level uint8

const (
	Off Level = iota
	Error
	Warn
	Info
	Debug
	Trace
)

var levelNames = [...]string{"OFF", "ERROR", "WARN", "INFO", "DEBUG", "TRACE"}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return fmt.Sprintf("Level(%d)", uint8(l))
}

func (l Level) color() int {
	switch l {
	case Error:
		return 31
	case Warn:
		return 93
	case Info:
		return 34
	case Debug:
		return 32
	default:
		return 90
	}
}

// ParseLevel accepts a level name in any case. The empty string is Off.
func ParseLevel(s string) (Level, error) {
	if s == "" {
		return Off, nil
	}
	for i, name := range levelNames {
		if strings.EqualFold(s, name) {
			return Level(i), nil
		}
	}
	return Off, fmt.Errorf("klog: unknown level %q", s)
}

// Logger writes leveled and unconditional kernel messages.
type Logger struct {
	out   hal.Logger
	level atomic.Uint32
	plain bool
}

// New returns a logger writing to out at level. A nil out discards.
func New(out hal.Logger, level Level) *Logger {
	l := &Logger{out: out}
	l.level.Store(uint32(level))
	return l
}

// Plain disables colour escapes.
func (l *Logger) Plain() *Logger {
	l.plain = true
	return l
}

func (l *Logger) SetLevel(level Level) { l.level.Store(uint32(level)) }
func (l *Logger) Level() Level         { return Level(l.level.Load()) }

// Enabled reports whether messages at level are written.
func (l *Logger) Enabled(level Level) bool {
	return l != nil && l.out != nil && level != Off && level <= l.Level()
}

// Printf writes an unconditional kernel message.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil || l.out == nil {
		return
	}
	l.out.WriteLineString(fmt.Sprintf(format, args...))
}

func (l *Logger) logf(level Level, format string, args ...any) {
	if !l.Enabled(level) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if l.plain {
		l.out.WriteLineString(fmt.Sprintf("[%5s] %s", level, msg))
		return
	}
	l.out.WriteLineString(fmt.Sprintf("\x1b[%dm[%5s] %s\x1b[0m", level.color(), level, msg))
}

func (l *Logger) Errorf(format string, args ...any) { l.logf(Error, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.logf(Warn, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.logf(Info, format, args...) }
func (l *Logger) Debugf(format string, args ...any) { l.logf(Debug, format, args...) }
func (l *Logger) Tracef(format string, args ...any) { l.logf(Trace, format, args...) }
