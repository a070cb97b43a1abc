package middleware

import (
	"context"

	"github.com/angelmondragon/carousel-backend/pkg/enums"
)

// Caller is the identity Auth extracts from a verified service token.
type Caller struct {
	Subject string
	Role    enums.OperatorRole
}

type callerKey struct{}

type requestIDKey struct{}

// WithCaller stores c on ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFromContext returns the caller bound by Auth, or the zero Caller.
func CallerFromContext(ctx context.Context) Caller {
	c, _ := valueOf[Caller](ctx, callerKey{})
	return c
}

// SubjectFromContext is shorthand for CallerFromContext(ctx).Subject.
func SubjectFromContext(ctx context.Context) string {
	return CallerFromContext(ctx).Subject
}

// RequestIDFromContext returns the id RequestID assigned to the request.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := valueOf[string](ctx, requestIDKey{})
	return id
}

func valueOf[T any](ctx context.Context, key any) (T, bool) {
	var zero T
	if ctx == nil {
		return zero, false
	}
	v, ok := ctx.Value(key).(T)
	return v, ok
}
