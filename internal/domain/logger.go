package domain

import (
	"context"
)

// Logger is the structured logging interface used across the application.
// Methods take a context.Context first so implementations can attach
// correlation fields (request id, user id, connection id) automatically.
// The variadic fields are alternating key/value pairs.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...any)
	Info(ctx context.Context, msg string, fields ...any)
	Warn(ctx context.Context, msg string, fields ...any)
	Error(ctx context.Context, msg string, fields ...any)

	// With creates a child logger with the provided structured context fields.
	With(fields ...any) Logger
}
