package observability

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/ga4access/pkg/auth"
	"github.com/platinummonkey/ga4access/pkg/contextkeys"
)

// NewLogger creates a JSON logger at level ("debug", "info", "warn", "error")
func NewLogger(level string, output io.Writer) (*logrus.Logger, error) {
	if output == nil {
		output = os.Stdout
	}
	if level == "" {
		level = "info"
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	logger := logrus.New()
	logger.SetOutput(output)
	logger.SetLevel(lvl)
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	return logger, nil
}

var fallback = logrus.StandardLogger()

// FromContext returns the request-scoped entry, adding user and trace
// fields when present. Outside a request it returns an entry on the
// standard logger.
func FromContext(ctx context.Context) *logrus.Entry {
	entry, ok := ctx.Value(contextkeys.LoggerKey).(*logrus.Entry)
	if !ok {
		entry = logrus.NewEntry(fallback)
		if requestID := contextkeys.GetRequestID(ctx); requestID != "" {
			entry = entry.WithField("request_id", requestID)
		}
	}

	if ac := auth.FromContext(ctx); ac != nil && ac.User != nil {
		entry = entry.WithField("user_id", ac.User.ID)
	}

	return WithTraceContext(ctx, entry)
}

// WithTraceContext adds trace and span IDs of the active span
func WithTraceContext(ctx context.Context, entry *logrus.Entry) *logrus.Entry {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return entry
	}

	spanCtx := span.SpanContext()
	return entry.WithFields(logrus.Fields{
		"trace_id": spanCtx.TraceID().String(),
		"span_id":  spanCtx.SpanID().String(),
	})
}
