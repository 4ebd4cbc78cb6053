package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func levelToString(level Level) string {
	switch level {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a level name to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// core is shared by every logger derived from the same New call so derived
// component loggers serialize writes through one mutex.
type core struct {
	mu    sync.Mutex
	out   io.Writer
	level Level
}

// WriterLogger writes leveled, component-prefixed lines to an io.Writer.
type WriterLogger struct {
	core      *core
	component string
}

// New creates a leveled logger writing to out.
func New(out io.Writer, level Level) *WriterLogger {
	if out == nil {
		out = os.Stderr
	}
	return &WriterLogger{core: &core{out: out, level: level}}
}

// WithComponent returns a logger that prefixes every line with component,
// sharing the parent's output and level.
func (l *WriterLogger) WithComponent(component string) *WriterLogger {
	return &WriterLogger{core: l.core, component: component}
}

// SetLevel changes the minimum level for this logger and all loggers
// derived from the same New call.
func (l *WriterLogger) SetLevel(level Level) {
	l.core.mu.Lock()
	l.core.level = level
	l.core.mu.Unlock()
}

func (l *WriterLogger) log(level Level, format string, args ...any) {
	l.core.mu.Lock()
	defer l.core.mu.Unlock()

	if level < l.core.level {
		return
	}

	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	} else {
		file = "???"
		line = 0
	}

	component := l.component
	if component == "" {
		component = "DROVER"
	}

	// Format: 2025-09-30 12:34:56 [INFO] [component] file.go:123 - message
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	message := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.core.out, "%s [%s] [%s] %s:%d - %s\n",
		timestamp, levelToString(level), component, file, line, message)
}

func (l *WriterLogger) Debug(format string, args ...any) {
	l.log(LevelDebug, format, args...)
}

func (l *WriterLogger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

func (l *WriterLogger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

func (l *WriterLogger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

var (
	defaultLogger *WriterLogger
	defaultOnce   sync.Once
)

func defaultRoot() *WriterLogger {
	defaultOnce.Do(func() {
		level := LevelInfo
		if env := os.Getenv("DROVER_LOG_LEVEL"); env != "" {
			level = ParseLevel(env)
		}
		defaultLogger = New(os.Stderr, level)
	})
	return defaultLogger
}

// NewComponentLogger returns the default application logger scoped to a
// component. The default writes to stderr; DROVER_LOG_LEVEL overrides the
// minimum level.
func NewComponentLogger(component string) Logger {
	return defaultRoot().WithComponent(component)
}
