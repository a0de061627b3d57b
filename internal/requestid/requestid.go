// Package requestid generates and propagates per-request correlation ids so
// a failure can be traced across validation and commit log lines.
package requestid

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const contextKeyRequestID contextKey = "requestid"

// New returns a fresh correlation id.
func New() string {
	return uuid.NewString()
}

// WithContext stores a correlation id in the context.
func WithContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, id)
}

// FromContext extracts the correlation id, or "" when none was set.
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return id
	}
	return ""
}
