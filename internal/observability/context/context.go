// Package context carries request-scoped correlation identifiers.
package context

import (
	"context"
	"strings"
)

type requestIDKey struct{}
type principalKey struct{}

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, strings.TrimSpace(requestID))
}

// RequestIDFromContext returns the request ID, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(requestIDKey{}).(string); ok {
		return value
	}
	return ""
}

// WithPrincipal stores the principal key (for log correlation only; services
// always receive the principal as an explicit parameter).
func WithPrincipal(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, principalKey{}, strings.TrimSpace(key))
}

// PrincipalFromContext returns the principal key, or "".
func PrincipalFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(principalKey{}).(string); ok {
		return value
	}
	return ""
}
