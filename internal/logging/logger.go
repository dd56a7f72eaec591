// Package logging provides the structured, level-gated logger used across
// the storage engine and the replication coordinator.
//
// It intentionally does not pull in a third-party structured logging
// library: it wraps the standard library's log.Logger with level gating
// and a name prefix, and has no raft subsystem or other consumer that
// would require implementing a foreign logger interface.
package logging

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
)

// Level is a logging severity level.
type Level int

const (
	// Debug is the most verbose level, off by default.
	Debug Level = iota
	// Info is the default level for lifecycle events.
	Info
	// Warning marks recoverable, noteworthy conditions.
	Warning
	// Error marks operations that failed.
	Error
)

// ParseLevel converts a string level to a Level, defaulting to Info for
// anything unrecognized.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug
	case "warn", "warning":
		return Warning
	case "error":
		return Error
	default:
		return Info
	}
}

// Logger is a small named, level-gated logger.
type Logger struct {
	name   string
	mu     sync.RWMutex
	level  Level
	logger *log.Logger
}

var registry sync.Map // name -> *Logger

// Get returns the named logger, creating it at Info level if it doesn't
// exist yet. Loggers are process-wide singletons keyed by name.
func Get(name string) *Logger {
	if l, ok := registry.Load(name); ok {
		return l.(*Logger)
	}
	l := &Logger{
		name:   name,
		level:  Info,
		logger: log.New(os.Stdout, "", log.Ldate|log.Ltime),
	}
	actual, _ := registry.LoadOrStore(name, l)
	return actual.(*Logger)
}

// SetLevel changes the minimum level this logger emits.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// SetGlobalLevel applies level to every logger created so far via Get,
// and to any created afterward falls back to Info; callers that set the
// level at startup, before spawning workers, see it applied uniformly.
func SetGlobalLevel(level Level) {
	registry.Range(func(_, v any) bool {
		v.(*Logger).SetLevel(level)
		return true
	})
}

func (l *Logger) enabled(level Level) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return level >= l.level
}

func (l *Logger) log(levelStr, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("%-5s | %-18s | %s", levelStr, l.name, message)
}

// Debugf logs at Debug level.
func (l *Logger) Debugf(format string, args ...interface{}) {
	if l.enabled(Debug) {
		l.log("DEBUG", format, args...)
	}
}

// Infof logs at Info level.
func (l *Logger) Infof(format string, args ...interface{}) {
	if l.enabled(Info) {
		l.log("INFO", format, args...)
	}
}

// Warnf logs at Warning level.
func (l *Logger) Warnf(format string, args ...interface{}) {
	if l.enabled(Warning) {
		l.log("WARN", format, args...)
	}
}

// Errorf logs at Error level.
func (l *Logger) Errorf(format string, args ...interface{}) {
	if l.enabled(Error) {
		l.log("ERROR", format, args...)
	}
}
