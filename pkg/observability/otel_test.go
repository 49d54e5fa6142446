package observability

import (
	"bytes"
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitTracing_Disabled(t *testing.T) {
	tp, err := InitTracing(context.Background(), OTelConfig{Enabled: false}, NewLogger(logrus.InfoLevel, &bytes.Buffer{}))
	require.NoError(t, err)
	assert.Nil(t, tp)
}

func TestWithTraceContext(t *testing.T) {
	logger := NewLogger(logrus.InfoLevel, &bytes.Buffer{})
	entry := logrus.NewEntry(logger)

	plain := WithTraceContext(context.Background(), entry)
	assert.NotContains(t, plain.Data, "trace_id")

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer("test").Start(context.Background(), "check_post_access")
	defer span.End()

	traced := WithTraceContext(ctx, entry)
	assert.Equal(t, span.SpanContext().TraceID().String(), traced.Data["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), traced.Data["span_id"])
}
