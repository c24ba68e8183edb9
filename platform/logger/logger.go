// Package logger provides structured logging infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Context key types for storing values in context
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"
	// AccountIDKey is the context key for the account a call is scoped to
	AccountIDKey contextKey = "account_id"
	// RunIDKey is the context key for the workflow run being executed
	RunIDKey contextKey = "run_id"
)

// Logger wraps slog.Logger for structured logging
type Logger struct {
	*slog.Logger
}

// New creates a new logger based on environment
func New(env string) *Logger {
	return NewWithWriter(env, os.Stdout)
}

// NewWithWriter creates a logger writing to w. Tests pass io.Discard.
func NewWithWriter(env string, w io.Writer) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if strings.EqualFold(env, "development") || strings.EqualFold(env, "test") {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewWithWriter("test", io.Discard)
}

// WithContext returns a logger with context values extracted.
// Supports request_id, account_id, and run_id from context.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	newLogger := l

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		newLogger = newLogger.WithRequestID(requestID)
	}

	if accountID, ok := ctx.Value(AccountIDKey).(string); ok && accountID != "" {
		newLogger = newLogger.WithAccountID(accountID)
	}

	if runID, ok := ctx.Value(RunIDKey).(string); ok && runID != "" {
		newLogger = &Logger{
			Logger: newLogger.With(slog.String("run_id", runID)),
		}
	}

	return newLogger
}

// WithRequestID returns a logger with request ID
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("request_id", requestID)),
	}
}

// WithAccountID returns a logger with account ID
func (l *Logger) WithAccountID(accountID string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("account_id", accountID)),
	}
}

// WithRun returns a logger scoped to one function run.
func (l *Logger) WithRun(functionID, runID string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("function_id", functionID), slog.String("run_id", runID)),
	}
}

// HTTPRequest logs an HTTP request
func (l *Logger) HTTPRequest(method, path string, status int, latencyMs float64, clientIP string) {
	l.Info("http_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("latency_ms", latencyMs),
		slog.String("client_ip", clientIP),
	)
}

// DatabaseError logs database errors
func (l *Logger) DatabaseError(operation string, err error) {
	l.Error("database_error",
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}

// RateLimitExceeded logs HTTP rate limit events
func (l *Logger) RateLimitExceeded(clientIP, path string) {
	l.Warn("rate_limit_exceeded",
		slog.String("client_ip", clientIP),
		slog.String("path", path),
	)
}

// ThrottleExceeded logs a function run deferred by its throttle key.
func (l *Logger) ThrottleExceeded(functionID, key string, retryInMs int64) {
	l.Info("throttle_exceeded",
		slog.String("function_id", functionID),
		slog.String("key", key),
		slog.Int64("retry_in_ms", retryInMs),
	)
}

// StepFailed logs a failed step attempt.
func (l *Logger) StepFailed(step string, attempt int, err error) {
	l.Warn("step_failed",
		slog.String("step", step),
		slog.Int("attempt", attempt),
		slog.String("error", err.Error()),
	)
}
