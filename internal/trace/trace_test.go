package trace

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledIsNoop(t *testing.T) {
	require.NoError(t, InitWithConfig(Config{Enabled: false}))
	assert.False(t, Enabled())

	ctx, span := StartSpan(context.Background(), "broker.Positions")
	span.End()
	_, _, ok := GetTraceFields(ctx)
	assert.False(t, ok)
}

func TestSpansAreExported(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, InitWithConfig(Config{Enabled: true, SampleRatio: 1, Writer: &buf}))
	require.True(t, Enabled())

	ctx, span := StartSpan(context.Background(), "broker.PlaceOrder")
	traceID, spanID, ok := GetTraceFields(ctx)
	require.True(t, ok)
	assert.Len(t, traceID, 32)
	assert.Len(t, spanID, 16)
	span.End()

	require.NoError(t, Shutdown(context.Background()))
	assert.False(t, Enabled())
	assert.Contains(t, buf.String(), "broker.PlaceOrder")
	assert.Contains(t, buf.String(), traceID)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("LOG_TRACING_ENABLED", "false")
	t.Setenv("LOG_TRACE_SAMPLE_RATIO", "2.5")
	cfg := LoadConfigFromEnv()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 1.0, cfg.SampleRatio)

	t.Setenv("LOG_TRACING_ENABLED", "true")
	t.Setenv("LOG_TRACE_SAMPLE_RATIO", "0.25")
	cfg = LoadConfigFromEnv()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 0.25, cfg.SampleRatio)
}
