package telemetry_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"

	"github.com/advantch/agentrun/telemetry"
)

func TestNoopLogger(_ *testing.T) {
	ctx := context.Background()
	logger := telemetry.NewNoopLogger()

	logger.Debug(ctx, "debug message", "key", "value")
	logger.Info(ctx, "info message", "key", "value")
	logger.Warn(ctx, "warn message", "key", "value")
	logger.Error(ctx, "error message", "key", "value")
}

func TestNoopMetrics(_ *testing.T) {
	metrics := telemetry.NewNoopMetrics()

	metrics.IncCounter("test.counter", 1.0, "env", "test")
	metrics.RecordTimer("test.timer", 100*time.Millisecond, "env", "test")
	metrics.RecordGauge("test.gauge", 42.0, "env", "test")
}

func TestNoopTracer(t *testing.T) {
	ctx := context.Background()
	tracer := telemetry.NewNoopTracer()

	newCtx, span := tracer.Start(ctx, "test.operation")
	require.Equal(t, ctx, newCtx)
	require.NotNil(t, span)

	span.AddEvent("test.event", "key", "value")
	span.SetStatus(codes.Ok, "completed")
	span.RecordError(errors.New("test error"))
	span.End()

	require.NotNil(t, tracer.Span(ctx))
}

func TestBundleNoopWiresAllThree(t *testing.T) {
	b := telemetry.Noop()
	require.NotNil(t, b.Log)
	require.NotNil(t, b.Metrics)
	require.NotNil(t, b.Tracer)
}

func TestSlogLoggerDoesNotPanic(_ *testing.T) {
	ctx := context.Background()
	logger := telemetry.NewSlogLogger(slog.Default())

	logger.Debug(ctx, "debug message", "key", "value")
	logger.Info(ctx, "info message", "key", "value")
	logger.Warn(ctx, "warn message", "key", "value")
	logger.Error(ctx, "error message", "key", "value")
}

func TestSlogLoggerDefaultsWhenNil(_ *testing.T) {
	logger := telemetry.NewSlogLogger(nil)
	logger.Info(context.Background(), "message")
}

func TestOtelAdaptersImplementInterfaces(t *testing.T) {
	var _ telemetry.Metrics = telemetry.NewOtelMetrics("test")
	var _ telemetry.Tracer = telemetry.NewOtelTracer("test")

	tracer := telemetry.NewOtelTracer("test")
	_, span := tracer.Start(context.Background(), "op")
	require.NotNil(t, span)
	span.End()
}
