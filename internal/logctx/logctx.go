package logctx

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	loggerKey    contextKey = "logger"
	referenceKey contextKey = "reference_id"
)

// WithLogger returns a new context with the provided slog.Logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext retrieves the slog.Logger from the context, or returns slog.Default() if not found.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
		return l
	}

	return slog.Default()
}

// WithReference tags ctx with the identity of the transfer being processed.
func WithReference(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, referenceKey, id)
}

// ReferenceFromContext returns the transfer identity stored in ctx, or "".
func ReferenceFromContext(ctx context.Context) string {
	id, _ := ctx.Value(referenceKey).(string)

	return id
}
