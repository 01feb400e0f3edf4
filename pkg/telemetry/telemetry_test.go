// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitNoneIsNoop(t *testing.T) {
	shutdown, err := Init("kairos-ci", "test", Config{Exporter: "none"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitStdout(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Init("kairos-ci", "test", Config{Exporter: "stdout", Writer: &buf})
	require.NoError(t, err)

	_, span := Tracer().Start(context.Background(), "unit")
	span.End()
	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), `"Name": "unit"`)
}

func TestInitRejectsBadExporter(t *testing.T) {
	_, err := Init("kairos-ci", "test", Config{Exporter: "zipkin"})
	assert.Error(t, err)

	_, err = Init("kairos-ci", "test", Config{Exporter: "otlp"})
	assert.Error(t, err)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLogLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLogLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLogLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLogLevel("chatty"))
}

func TestSlogHandlerAddsTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewSlogHandler(&buf, "info", "json"))

	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	logger.InfoContext(ctx, "inside span")
	span.End()

	out := buf.String()
	assert.Contains(t, out, `"trace_id":"`+span.SpanContext().TraceID().String()+`"`)
	assert.Contains(t, out, `"span_id":"`)

	buf.Reset()
	logger.Info("outside span")
	assert.NotContains(t, buf.String(), "trace_id")
}
