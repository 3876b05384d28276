package audit

import (
	"context"

	"github.com/platinummonkey/ga4access/pkg/contextkeys"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log writes an audit event and sets its ID when the sink assigns one
	Log(ctx context.Context, event *AuditEvent) error

	// Close flushes any buffered events
	Close() error
}

// contextKey is the type for context keys
type contextKey string

// AuditLoggerKey is the context key for the audit logger
const AuditLoggerKey contextKey = "audit_logger"

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, AuditLoggerKey, logger)
}

// FromContext retrieves the audit logger from context
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(AuditLoggerKey).(Logger); ok {
		return logger
	}
	return NoOpLogger{}
}

// WithRequestID attaches a request ID that Stamp copies onto events
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return contextkeys.WithRequestID(ctx, requestID)
}

// Stamp fills request-scoped fields on event from ctx
func Stamp(ctx context.Context, event *AuditEvent) {
	if event.RequestID == "" {
		event.RequestID = contextkeys.GetRequestID(ctx)
	}
}

// NoOpLogger discards events
type NoOpLogger struct{}

func (NoOpLogger) Log(ctx context.Context, event *AuditEvent) error { return nil }
func (NoOpLogger) Close() error                                      { return nil }
