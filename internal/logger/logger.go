// Package logger provides structured, level-gated logging for the service.
//
// Each entry carries the emitting module and an action name next to the
// message. In console format a line looks like:
//
//	2006-01-02 15:04:05.000 INF message action=session_create module=SERVICE
//
// In json format each entry is one zerolog JSON object with the same fields.
//
// Levels (lowest to highest): debug, info, warn, error.
// Entries below the configured minimum level are silently dropped.
//
// Usage:
//
//	log := logger.New("API", cfg.LogLevel)
//	log.Info("sanitize", "session 6f1c created with 3 tokens")
//	log.Errorf("detector_call", "presidio: %v", err)
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Level represents a log severity.
type Level int

// Log severity constants, ordered lowest to highest.
const (
	LevelDebug Level = iota // fine-grained diagnostic output
	LevelInfo               // normal operational messages
	LevelWarn               // unexpected but recoverable conditions
	LevelError              // failures requiring attention
)

const timeFormat = "2006-01-02 15:04:05.000"

var (
	outputMu sync.RWMutex
	output   io.Writer = os.Stderr
	format             = "console"
)

// Configure sets the destination and format ("console" or "json") for
// loggers created afterwards. A nil writer keeps the current destination.
func Configure(w io.Writer, fmtName string) {
	outputMu.Lock()
	defer outputMu.Unlock()
	if w != nil {
		output = w
	}
	if strings.EqualFold(strings.TrimSpace(fmtName), "json") {
		format = "json"
	} else {
		format = "console"
	}
}

// Logger writes structured log lines for a single module.
type Logger struct {
	module string
	level  Level
	zl     zerolog.Logger
}

// New creates a Logger for the given module, gated at the given level string.
// Unrecognized level strings default to "info".
func New(module, levelStr string) *Logger {
	outputMu.RLock()
	w, f := output, format
	outputMu.RUnlock()
	return newWith(module, levelStr, w, f)
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return newWith("NOP", "error", io.Discard, "json")
}

func newWith(module, levelStr string, w io.Writer, fmtName string) *Logger {
	if fmtName != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: timeFormat, NoColor: true}
	}
	module = strings.ToUpper(module)
	return &Logger{
		module: module,
		level:  parseLevel(levelStr),
		zl:     zerolog.New(w).With().Timestamp().Str("module", module).Logger(),
	}
}

// SetLevel changes the minimum log level at runtime.
func (l *Logger) SetLevel(levelStr string) {
	l.level = parseLevel(levelStr)
}

// Debug logs at DEBUG level.
func (l *Logger) Debug(action, msg string) { l.write(LevelDebug, action, msg) }

// Info logs at INFO level.
func (l *Logger) Info(action, msg string) { l.write(LevelInfo, action, msg) }

// Warn logs at WARN level.
func (l *Logger) Warn(action, msg string) { l.write(LevelWarn, action, msg) }

// Error logs at ERROR level.
func (l *Logger) Error(action, msg string) { l.write(LevelError, action, msg) }

// Debugf logs a formatted message at DEBUG level.
func (l *Logger) Debugf(action, format string, args ...any) {
	l.Debug(action, fmt.Sprintf(format, args...))
}

// Infof logs a formatted message at INFO level.
func (l *Logger) Infof(action, format string, args ...any) {
	l.Info(action, fmt.Sprintf(format, args...))
}

// Warnf logs a formatted message at WARN level.
func (l *Logger) Warnf(action, format string, args ...any) {
	l.Warn(action, fmt.Sprintf(format, args...))
}

// Errorf logs a formatted message at ERROR level.
func (l *Logger) Errorf(action, format string, args ...any) {
	l.Error(action, fmt.Sprintf(format, args...))
}

// Fatal logs at ERROR level and then calls os.Exit(1).
func (l *Logger) Fatal(action, msg string) {
	l.Error(action, msg)
	os.Exit(1)
}

// Fatalf logs a formatted message at ERROR level and then calls os.Exit(1).
func (l *Logger) Fatalf(action, format string, args ...any) {
	l.Fatal(action, fmt.Sprintf(format, args...))
}

// write emits one entry if level >= l.level. A nil Logger drops everything.
func (l *Logger) write(level Level, action, msg string) {
	if l == nil || level < l.level {
		return
	}
	var ev *zerolog.Event
	switch level {
	case LevelDebug:
		ev = l.zl.Debug()
	case LevelInfo:
		ev = l.zl.Info()
	case LevelWarn:
		ev = l.zl.Warn()
	default:
		ev = l.zl.Error()
	}
	ev.Str("action", action).Msg(msg)
}

// parseLevel converts a string to a Level, defaulting to LevelInfo.
func parseLevel(s string) Level {
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

// ValidLevel reports whether s names a known level.
func ValidLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}
