// Package contextkeys provides centralized context key definitions
//
// All context keys shared between packages are defined here so that
// producers and consumers agree on the key and the stored type.
//
//	ctx = contextkeys.WithRequestID(ctx, id)
//	id := contextkeys.GetRequestID(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// AuthKey contains *auth.AuthContext
	// Set by: middleware.Authenticator (pkg/middleware/auth.go)
	// Required by: every /api/v1 handler, rbac middleware
	AuthKey Key = "auth_context"

	// RequestIDKey contains the request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: request logging, audit events
	RequestIDKey Key = "request_id"

	// LoggerKey contains *logrus.Entry scoped to the request
	// Set by: httputil.LoggingMiddleware
	// Used by: handlers via observability.FromContext
	LoggerKey Key = "logger"
)

// WithAuth adds authentication context to the context
func WithAuth(ctx context.Context, authCtx interface{}) context.Context {
	return context.WithValue(ctx, AuthKey, authCtx)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithLogger adds a request logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
