// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func restoreGlobal(t *testing.T) {
	t.Helper()
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
}

func TestDisabledInstallsNoop(t *testing.T) {
	restoreGlobal(t)

	for _, cfg := range []Config{
		{Enabled: false, ExporterType: ExporterGRPC},
		{Enabled: true, ExporterType: ExporterNoop},
	} {
		p, err := NewProvider(context.Background(), cfg)
		require.NoError(t, err)
		assert.False(t, p.Recording())
		assert.NoError(t, p.ForceFlush(context.Background()))
		assert.NoError(t, p.Shutdown(context.Background()))

		_, span := Tracer("test").Start(context.Background(), "op")
		assert.False(t, span.IsRecording())
		span.End()
	}
}

func TestUnsupportedExporter(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{Enabled: true, ExporterType: "zipkin"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"zipkin"`)
}

func TestSpansReachExporter(t *testing.T) {
	restoreGlobal(t)
	exp := tracetest.NewInMemoryExporter()

	p, err := NewProvider(context.Background(), Config{
		Enabled:        true,
		ServiceName:    "pipemgr",
		ServiceVersion: "test",
		ExporterType:   ExporterGRPC,
		SamplingRate:   1.0,
		exporter:       exp,
	})
	require.NoError(t, err)
	require.True(t, p.Recording())

	_, span := Tracer("pipemgr/pipeline").Start(context.Background(), "pipeline.create")
	span.SetAttributes(PipelineAttributes(4, "create")...)
	span.End()

	// The in-memory exporter forgets its spans on shutdown, so read them
	// after a flush.
	require.NoError(t, p.ForceFlush(context.Background()))
	spans := exp.GetSpans()
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	require.Len(t, spans, 1)
	assert.Equal(t, "pipeline.create", spans[0].Name)
	name, ok := spans[0].Resource.Set().Value(attribute.Key("service.name"))
	require.True(t, ok)
	assert.Equal(t, "pipemgr", name.AsString())
}

func TestZeroRateDropsRootSpans(t *testing.T) {
	restoreGlobal(t)
	exp := tracetest.NewInMemoryExporter()

	p, err := NewProvider(context.Background(), Config{
		Enabled:      true,
		ServiceName:  "pipemgr",
		ExporterType: ExporterHTTP,
		SamplingRate: 0,
		exporter:     exp,
	})
	require.NoError(t, err)

	_, span := Tracer("x").Start(context.Background(), "dropped")
	span.End()
	require.NoError(t, p.ForceFlush(context.Background()))
	assert.Empty(t, exp.GetSpans())
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestSamplerFor(t *testing.T) {
	assert.Equal(t, "AlwaysOnSampler", samplerFor(1.5).Description())
	assert.Equal(t, "AlwaysOffSampler", samplerFor(-1).Description())
	assert.Equal(t, "TraceIDRatioBased{0.25}", samplerFor(0.25).Description())
}
