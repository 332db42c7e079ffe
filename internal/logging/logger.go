// Package logging provides structured logging for EVA-Lite.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Level represents log level
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case DEBUG:
		return slog.LevelDebug
	case WARN:
		return slog.LevelWarn
	case ERROR:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel parses DEBUG, INFO, WARN/WARNING, ERROR/CRITICAL.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG, nil
	case "INFO", "":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR", "CRITICAL":
		return ERROR, nil
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

// Config selects level, format and destination.
type Config struct {
	Level  Level
	Format string // "text" or "json"
	Output io.Writer
}

// Logger is a structured logger
type Logger struct {
	slog *slog.Logger
}

var (
	mu       sync.RWMutex
	levelVar = new(slog.LevelVar)
	base     = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: levelVar}))
)

// Setup replaces the process-wide handler.
func Setup(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	levelVar.Set(cfg.Level.slogLevel())
	opts := &slog.HandlerOptions{Level: levelVar}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}

	mu.Lock()
	base = slog.New(h)
	mu.Unlock()
	slog.SetDefault(base)
}

// SetLevel sets the global log level
func SetLevel(level Level) {
	levelVar.Set(level.slogLevel())
}

// Slog exposes the underlying logger for libraries that take a *slog.Logger.
func Slog() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func root() *Logger {
	return &Logger{slog: Slog()}
}

// WithField returns a logger with a field added
func WithField(key string, value interface{}) *Logger {
	return root().WithField(key, value)
}

// WithFields returns a logger with multiple fields added
func WithFields(fields map[string]interface{}) *Logger {
	return root().WithFields(fields)
}

// WithError returns a logger with an error field added
func WithError(err error) *Logger {
	return root().WithError(err)
}

// WithField adds a field to the logger
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{slog: l.slog.With(key, value)}
}

// WithFields adds multiple fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{slog: l.slog.With(args...)}
}

// WithError attaches err under the "error" key.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

func (l *Logger) log(level Level, msg string, args ...interface{}) {
	formatted := msg
	if len(args) > 0 {
		formatted = fmt.Sprintf(msg, args...)
	}
	l.slog.Log(context.Background(), level.slogLevel(), formatted)
}

// Debug logs a debug message
func Debug(msg string, args ...interface{}) {
	root().log(DEBUG, msg, args...)
}

// Info logs an info message
func Info(msg string, args ...interface{}) {
	root().log(INFO, msg, args...)
}

// Warn logs a warning message
func Warn(msg string, args ...interface{}) {
	root().log(WARN, msg, args...)
}

// Error logs an error message
func Error(msg string, args ...interface{}) {
	root().log(ERROR, msg, args...)
}

// Logger methods
func (l *Logger) Debug(msg string, args ...interface{}) { l.log(DEBUG, msg, args...) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log(INFO, msg, args...) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log(WARN, msg, args...) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log(ERROR, msg, args...) }

type ctxKey struct{}

// WithRequestID stores a request id in ctx for FromContext.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns a logger carrying the request id, if any.
func FromContext(ctx context.Context) *Logger {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return WithField("request_id", id)
	}
	return root()
}
