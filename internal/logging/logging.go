// Package logging provides the leveled logger shared by all components.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// Level represents severity.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[string]Level{
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
}

// ParseLevel maps a level name to a Level.
func ParseLevel(s string) (Level, error) {
	l, ok := levelNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Logger is the logging contract components depend on.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// StdLogger writes `[LEVEL] message` lines through a standard library logger.
type StdLogger struct {
	base  *log.Logger
	level int32
}

// New creates a logger writing to w at the given level.
func New(w io.Writer, level Level) *StdLogger {
	return &StdLogger{
		base:  log.New(w, "", log.Ldate|log.Ltime|log.Lmicroseconds),
		level: int32(level),
	}
}

// NewStderr creates a logger on stderr.
func NewStderr(level Level) *StdLogger { return New(os.Stderr, level) }

// SetLevel changes the minimum level at runtime.
func (l *StdLogger) SetLevel(level Level) { atomic.StoreInt32(&l.level, int32(level)) }

// Level returns the current minimum level.
func (l *StdLogger) Level() Level { return Level(atomic.LoadInt32(&l.level)) }

func (l *StdLogger) logf(level Level, format string, args ...interface{}) {
	if l.Level() > level {
		return
	}
	// Already formatted messages may contain literal % characters.
	if len(args) == 0 {
		l.output(level, format)
		return
	}
	l.output(level, fmt.Sprintf(format, args...))
}

// output writes msg verbatim
func (l *StdLogger) output(level Level, msg string) {
	l.base.Printf("[%s] %s", level, msg)
}

func (l *StdLogger) Debugf(format string, args ...interface{}) { l.logf(LevelDebug, format, args...) }
func (l *StdLogger) Infof(format string, args ...interface{})  { l.logf(LevelInfo, format, args...) }
func (l *StdLogger) Warnf(format string, args ...interface{})  { l.logf(LevelWarn, format, args...) }
func (l *StdLogger) Errorf(format string, args ...interface{}) { l.logf(LevelError, format, args...) }

// Discard is a Logger that drops everything.
var Discard Logger = New(io.Discard, LevelError+1)
