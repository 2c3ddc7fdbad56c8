package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config selects level and encoding for a Logger.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json (default) or text
	Debug  bool   // forces debug level and source locations
	Output io.Writer
}

// Logger wraps a slog.Logger with helpers for legacy print-style logging.
type Logger struct {
	base *slog.Logger
}

// New creates a structured logger tagged with the given service name.
func New(service string, cfg Config) *Logger {
	level := parseLevel(cfg.Level)
	if cfg.Debug {
		level = slog.LevelDebug
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.Debug}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	return &Logger{base: slog.New(handler).With("service", service)}
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *Logger {
	return &Logger{base: slog.New(slog.NewJSONHandler(io.Discard, nil))}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// FromContext returns the run-scoped logger if present.
func FromContext(ctx context.Context, fallback *Logger) *Logger {
	if ctx == nil {
		return fallback
	}
	if l := ctx.Value(loggerKey{}); l != nil {
		if logger, ok := l.(*Logger); ok {
			return logger
		}
	}
	return fallback
}

// ContextWithLogger injects the logger into the context.
func ContextWithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

type loggerKey struct{}

// With appends structured attributes to the logger.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{base: l.base.With(args...)}
}

// WithRunID returns a logger annotated with a run identifier.
func (l *Logger) WithRunID(runID string) *Logger {
	if runID == "" {
		return l
	}
	return l.With("run_id", runID)
}

func (l *Logger) Debug(msg string, args ...any) { l.base.Debug(msg, args...) }

func (l *Logger) Info(msg string, args ...any) { l.base.Info(msg, args...) }

func (l *Logger) Infof(format string, args ...any) { l.base.Info(fmt.Sprintf(format, args...)) }

func (l *Logger) Warn(msg string, args ...any) { l.base.Warn(msg, args...) }

func (l *Logger) Error(msg string, args ...any) { l.base.Error(msg, args...) }

func (l *Logger) Errorf(format string, args ...any) { l.base.Error(fmt.Sprintf(format, args...)) }

// Printf logs at info level for backwards compatibility.
func (l *Logger) Printf(format string, args ...any) { l.base.Info(fmt.Sprintf(format, args...)) }

// Fatalf logs an error and exits.
func (l *Logger) Fatalf(format string, args ...any) {
	l.base.Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}
