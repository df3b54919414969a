package reqid

import (
	"context"
	"log/slog"
)

// key types are unexported to avoid collisions in context values.
type (
	requestKey   struct{}
	operationKey struct{}
)

// With returns a new context with the provided request ID attached.
func With(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestKey{}, id)
}

// From extracts the request ID from the context, if present.
func From(ctx context.Context) (string, bool) {
	return value(ctx, requestKey{})
}

// WithOperation attaches the id of an install operation. All requests
// planned for one install share it.
func WithOperation(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, operationKey{}, id)
}

func Operation(ctx context.Context) (string, bool) {
	return value(ctx, operationKey{})
}

// Logger returns log annotated with whatever ids ctx carries.
func Logger(ctx context.Context, log *slog.Logger) *slog.Logger {
	if id, ok := From(ctx); ok {
		log = log.With("request_id", id)
	}
	if id, ok := Operation(ctx); ok {
		log = log.With("operation_id", id)
	}
	return log
}

func value(ctx context.Context, k any) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if s, ok := ctx.Value(k).(string); ok && s != "" {
		return s, true
	}
	return "", false
}
