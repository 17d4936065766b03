// Package logging carries the per-request correlation id through contexts.
package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

type contextKey struct{}

// GenerateRequestID creates a "req-" prefixed 12-character hex id.
func GenerateRequestID() string {
	b := make([]byte, 6)
	rand.Read(b)
	return "req-" + hex.EncodeToString(b)
}

// WithRequestID injects a request id into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKey{}, requestID)
}

// GetRequestID retrieves the request id, or "" when none was attached.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(contextKey{}).(string); ok {
		return id
	}
	return ""
}
