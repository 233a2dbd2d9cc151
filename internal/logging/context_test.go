package logging

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func fieldMap(fields []zap.Field) map[string]zap.Field {
	m := make(map[string]zap.Field, len(fields))
	for _, f := range fields {
		m[f.Key] = f
	}
	return m
}

func TestContextFields_Empty(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
}

func TestContextFields_All(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))
	ctx = WithRequestID(ctx, "req_123")
	ctx = WithOperation(ctx, "get-system-stats")

	fields := fieldMap(ContextFields(ctx))

	assert.Equal(t, traceID.String(), fields["trace_id"].String)
	assert.Equal(t, spanID.String(), fields["span_id"].String)
	assert.NotContains(t, fields, "trace_sampled")
	assert.Equal(t, "req_123", fields["request.id"].String)
	assert.Equal(t, "get-system-stats", fields["operation"].String)
}

func TestWithRequestID_PanicsOnInvalid(t *testing.T) {
	for _, id := range []string{"", "has space", strings.Repeat("a", maxIDLen+1)} {
		assert.Panics(t, func() { WithRequestID(context.Background(), id) }, id)
	}
}

func TestWithOperation_IgnoresInvalid(t *testing.T) {
	ctx := WithOperation(context.Background(), "bad name!")
	assert.Empty(t, OperationFromContext(ctx))
}

func TestFromContext(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)

	assert.Same(t, tl.Logger, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestValidID(t *testing.T) {
	assert.True(t, ValidID("req-123_abc.def"))
	assert.False(t, ValidID(""))
	assert.False(t, ValidID("has space"))
	assert.False(t, ValidID(strings.Repeat("a", maxIDLen+1)))
}
