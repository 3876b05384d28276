package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/platinummonkey/ga4access/pkg/auth"
	"github.com/platinummonkey/ga4access/pkg/contextkeys"
	"github.com/platinummonkey/ga4access/pkg/users"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("warn", &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.WithField("grant_id", 7).Warn("shown")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "warning", line["level"])
	assert.Equal(t, float64(7), line["grant_id"])

	_, err = NewLogger("loud", nil)
	assert.Error(t, err)

	logger, err = NewLogger("", nil)
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}

func TestFromContext(t *testing.T) {
	logger, hook := test.NewNullLogger()
	entry := logger.WithField("request_id", "req-1")

	ctx := contextkeys.WithLogger(context.Background(), entry)
	ctx = auth.WithContext(ctx, &auth.AuthContext{User: &users.User{ID: 42}})

	FromContext(ctx).Info("handled")

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, "req-1", hook.LastEntry().Data["request_id"])
	assert.Equal(t, int64(42), hook.LastEntry().Data["user_id"])
}

func TestFromContext_NoRequestLogger(t *testing.T) {
	ctx := contextkeys.WithRequestID(context.Background(), "req-2")
	entry := FromContext(ctx)
	assert.Equal(t, "req-2", entry.Data["request_id"])
	assert.NotContains(t, entry.Data, "user_id")
}

func TestWithTraceContext(t *testing.T) {
	logger, _ := test.NewNullLogger()
	entry := logrus.NewEntry(logger)

	assert.NotContains(t, WithTraceContext(context.Background(), entry).Data, "trace_id")

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	got := WithTraceContext(ctx, entry)
	assert.Equal(t, span.SpanContext().TraceID().String(), got.Data["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), got.Data["span_id"])
}

func TestRecoverPanic(t *testing.T) {
	logger, hook := test.NewNullLogger()

	func() {
		defer RecoverPanic(logger, "worker")
		panic("boom")
	}()

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, "boom", hook.LastEntry().Data["panic"])
	assert.Equal(t, "worker", hook.LastEntry().Data["context"])

	assert.NoError(t, MustRecover(nil))
	assert.EqualError(t, MustRecover("bad"), "panic: bad")
}
