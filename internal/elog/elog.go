// Package elog wraps the standard library logger with leveled helpers, the
// same ad hoc log.Printf style the rest of the pack's non-test source uses
// rather than a structured-logging dependency.
package elog

import (
	"io"
	"log"
	"os"
)

// Level controls which leveled calls actually reach the underlying logger.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelSilent
)

// Logger is a leveled wrapper over *log.Logger.
type Logger struct {
	level Level
	l     *log.Logger
}

// Default logs to os.Stderr at LevelInfo.
var Default = New(os.Stderr, LevelInfo)

// New builds a Logger writing to w, filtering calls below level.
func New(w io.Writer, level Level) *Logger {
	return &Logger{level: level, l: log.New(w, "", log.LstdFlags)}
}

func (lg *Logger) Debugf(format string, args ...any) {
	if lg.level <= LevelDebug {
		lg.l.Printf("DEBUG "+format, args...)
	}
}

func (lg *Logger) Infof(format string, args ...any) {
	if lg.level <= LevelInfo {
		lg.l.Printf("INFO "+format, args...)
	}
}

func (lg *Logger) Warnf(format string, args ...any) {
	if lg.level <= LevelWarn {
		lg.l.Printf("WARN "+format, args...)
	}
}
