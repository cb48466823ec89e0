// Package telemetry defines the logging, metrics, and tracing interfaces the
// orchestrator and its adapters use, plus a noop default and a slog/otel
// backed implementation. Callers wire a real provider (slog handler, otel
// SDK exporter) through the NewSlogLogger, NewOtelMetrics and NewOtelTracer
// constructors. NewSlogLogger falls back to slog.Default() when given nil,
// and the otel adapters use the global otel meter and tracer providers.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured logging used throughout the orchestrator.
// Implementations typically delegate to log/slog but the interface is
// intentionally small so tests can provide lightweight stubs.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter, timer, and gauge helpers for run/step/tool
// instrumentation.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation so orchestrator code stays agnostic of the
// underlying OpenTelemetry provider.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	Span(ctx context.Context) Span
}

// Span represents an in-flight tracing span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}

// RunTelemetry captures observability metadata for one run. Nothing in this
// module fills it in or copies it into Run.Metadata.
type RunTelemetry struct {
	// DurationMs is the wall-clock execution time in milliseconds.
	DurationMs int64
	// TokensUsed tracks the total tokens consumed across all model calls.
	TokensUsed int
	// Model identifies which model id served the run (e.g. "claude-sonnet-4").
	Model string
	// Extra holds run-specific metadata not captured by the common fields.
	Extra map[string]any
}

// Bundle groups a Logger, Metrics, and Tracer so callers can pass or store
// one value instead of three.
type Bundle struct {
	Log     Logger
	Metrics Metrics
	Tracer  Tracer
}

// Noop returns a Bundle whose members discard everything, suitable for
// tests and CLI demos that don't need observability wired up.
func Noop() Bundle {
	return Bundle{Log: NewNoopLogger(), Metrics: NewNoopMetrics(), Tracer: NewNoopTracer()}
}
