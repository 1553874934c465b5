package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider_NoneIsNoop(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Exporter: "none"})
	require.NoError(t, err)
	assert.False(t, p.Enabled())

	_, span := p.Tracer().Start(context.Background(), "x")
	span.End()
	assert.False(t, span.SpanContext().IsValid())
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProvider_StdoutWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	p, err := NewProvider(context.Background(), Config{Exporter: "stdout", Writer: &buf})
	require.NoError(t, err)
	assert.True(t, p.Enabled())

	_, span := p.Tracer().Start(context.Background(), "engine.process")
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), "engine.process")
}

func TestNewProvider_UnknownExporter(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{Exporter: "carrier-pigeon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported exporter")
}
