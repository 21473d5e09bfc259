package logging

import (
	"context"
)

// contextKey is a type for context keys to avoid collisions.
type contextKey int

const (
	taskIDKey contextKey = iota
	loggerKey
)

// WithTaskCtx returns a new context carrying the task ID.
func WithTaskCtx(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, taskIDKey, id)
}

// TaskFromCtx extracts the task ID from the context.
func TaskFromCtx(ctx context.Context) string {
	if id, ok := ctx.Value(taskIDKey).(string); ok {
		return id
	}
	return ""
}

// WithLoggerCtx returns a new context with the logger attached.
func WithLoggerCtx(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromCtx returns a logger from the context. If none is attached, it falls
// back to the global logger bound to the context's task ID.
func FromCtx(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	l := Global()
	if id := TaskFromCtx(ctx); id != "" {
		l = l.WithTask(id)
	}
	return l
}
