// Package klog is the runtime's levelled logger.
//
// Lines go to a hal.Logger sink, prefixed with their level. Levels are a
// mask: enabling a level enables every less verbose level too.
package klog

import (
	"fmt"
	"strings"
	"sync/atomic"

	"spindle/hal"
)

type Level uint8

const (
	Nothing    Level = 0x0
	ErrorLevel Level = 0x1
	WarnLevel  Level = 0x2
	InfoLevel  Level = 0x4
	DebugLevel Level = 0x8
)

// Logger filters and formats lines for a sink. The zero value and a nil
// *Logger both discard everything.
type Logger struct {
	sink  hal.Logger
	mask  atomic.Uint32
	hooks []func(line string)
}

// New returns a logger writing to sink at the given level.
func New(sink hal.Logger, level Level) *Logger {
	l := &Logger{sink: sink}
	l.SetLevel(level)
	return l
}

// SetLevel enables level and everything less verbose. It returns the
// previous mask.
func (l *Logger) SetLevel(level Level) Level {
	var mask Level
	switch {
	case level&DebugLevel != 0:
		mask |= DebugLevel
		fallthrough
	case level&InfoLevel != 0:
		mask |= InfoLevel
		fallthrough
	case level&WarnLevel != 0:
		mask |= WarnLevel
		fallthrough
	case level&ErrorLevel != 0:
		mask |= ErrorLevel
	}
	return Level(l.mask.Swap(uint32(mask)))
}

// Enabled reports whether lines at level are written.
func (l *Logger) Enabled(level Level) bool {
	if l == nil {
		return false
	}
	return Level(l.mask.Load())&level != 0
}

// Tee registers fn to receive every formatted line that passes the filter.
// It must be called before the logger is shared.
func (l *Logger) Tee(fn func(line string)) {
	l.hooks = append(l.hooks, fn)
}

func (l *Logger) logf(level Level, prefix, format string, args ...any) {
	if !l.Enabled(level) {
		return
	}
	line := prefix + fmt.Sprintf(format, args...)
	if l.sink != nil {
		l.sink.WriteLineString(line)
	}
	for _, fn := range l.hooks {
		fn(line)
	}
}

func (l *Logger) Errorf(format string, args ...any) { l.logf(ErrorLevel, "ERROR: ", format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.logf(WarnLevel, " WARN: ", format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.logf(InfoLevel, " INFO: ", format, args...) }
func (l *Logger) Debugf(format string, args ...any) { l.logf(DebugLevel, "DEBUG: ", format, args...) }

// ParseLevel maps a level name to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return InfoLevel, nil
	case "none", "off":
		return Nothing, nil
	case "error":
		return ErrorLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "debug":
		return DebugLevel, nil
	}
	return Nothing, fmt.Errorf("unknown log level %q", s)
}

func (lv Level) String() string {
	switch {
	case lv&DebugLevel != 0:
		return "debug"
	case lv&InfoLevel != 0:
		return "info"
	case lv&WarnLevel != 0:
		return "warn"
	case lv&ErrorLevel != 0:
		return "error"
	}
	return "none"
}
