// Package telemetry defines the logging, metrics, and tracing ports the
// kernel's components use to report decisions. The kernel depends only on
// these narrow interfaces; NewNoopLogger/NewNoopMetrics/NewNoopTracer are
// the defaults when a driver wires no backend, and NewOTelLogger/
// NewOTelMetrics/NewOTelTracer wire a real OpenTelemetry provider.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured logging emitted by every kernel decision point
// (gate attempts, write denials, tool executions). Kept intentionally small
// so components can accept it without pulling in a concrete logging library.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter/timer/gauge recording for kernel instrumentation,
// e.g. "kernel.gate.denied", "kernel.write.denied", "kernel.tool.allowed".
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation so kernel code stays agnostic of the
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

// Ports bundles the three telemetry ports a component constructor accepts.
// Any field left nil is replaced by its Noop counterpart.
type Ports struct {
	Logger  Logger
	Metrics Metrics
	Tracer  Tracer
}

// WithDefaults fills unset fields with no-op implementations.
func (p Ports) WithDefaults() Ports {
	if p.Logger == nil {
		p.Logger = NewNoopLogger()
	}
	if p.Metrics == nil {
		p.Metrics = NewNoopMetrics()
	}
	if p.Tracer == nil {
		p.Tracer = NewNoopTracer()
	}
	return p
}
