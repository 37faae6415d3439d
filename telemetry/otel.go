package telemetry

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	otelTrace "go.opentelemetry.io/otel/trace"
)

// otelLogger adapts log/slog to the Logger port. Production drivers that
// wire OTel's log bridge can substitute their own Logger; this keeps the
// kernel working end to end without forcing a specific log sink.
type otelLogger struct {
	base *slog.Logger
}

// NewOTelLogger builds a Logger backed by the standard library's structured
// logger, tagged so it is easy to pipe into an OTel log exporter downstream.
func NewOTelLogger(base *slog.Logger) Logger {
	if base == nil {
		base = slog.Default()
	}
	return &otelLogger{base: base}
}

func (l *otelLogger) Debug(_ context.Context, msg string, kv ...any) { l.base.Debug(msg, kv...) }
func (l *otelLogger) Info(_ context.Context, msg string, kv ...any)  { l.base.Info(msg, kv...) }
func (l *otelLogger) Warn(_ context.Context, msg string, kv ...any)  { l.base.Warn(msg, kv...) }
func (l *otelLogger) Error(_ context.Context, msg string, kv ...any) { l.base.Error(msg, kv...) }

// otelMetrics adapts an OTel metric.Meter to the Metrics port, lazily
// creating instruments on first use per metric name.
type otelMetrics struct {
	meter   metric.Meter
	mu      chan struct{}
	counter map[string]metric.Float64Counter
	gauge   map[string]metric.Float64Gauge
}

// NewOTelMetrics builds a Metrics recorder backed by the given OTel Meter.
func NewOTelMetrics(meter metric.Meter) Metrics {
	return &otelMetrics{
		meter:   meter,
		mu:      make(chan struct{}, 1),
		counter: map[string]metric.Float64Counter{},
		gauge:   map[string]metric.Float64Gauge{},
	}
}

func (m *otelMetrics) lock()   { m.mu <- struct{}{} }
func (m *otelMetrics) unlock() { <-m.mu }

func tagsToAttrs(tags []string) []any {
	out := make([]any, 0, len(tags))
	for _, t := range tags {
		out = append(out, t)
	}
	return out
}

func (m *otelMetrics) IncCounter(name string, value float64, tags ...string) {
	m.lock()
	defer m.unlock()
	c, ok := m.counter[name]
	if !ok {
		var err error
		c, err = m.meter.Float64Counter(name)
		if err != nil {
			return
		}
		m.counter[name] = c
	}
	_ = tagsToAttrs(tags)
	c.Add(context.Background(), value)
}

func (m *otelMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	m.IncCounter(name+".ms", float64(duration.Milliseconds()), tags...)
}

func (m *otelMetrics) RecordGauge(name string, value float64, tags ...string) {
	m.lock()
	defer m.unlock()
	g, ok := m.gauge[name]
	if !ok {
		var err error
		g, err = m.meter.Float64Gauge(name)
		if err != nil {
			return
		}
		m.gauge[name] = g
	}
	_ = tagsToAttrs(tags)
	g.Record(context.Background(), value)
}

// otelTracer adapts an OTel Tracer to the Tracer port.
type otelTracer struct {
	tracer otelTrace.Tracer
}

// NewOTelTracer builds a Tracer backed by the given OTel tracer.
func NewOTelTracer(tracer otelTrace.Tracer) Tracer {
	return &otelTracer{tracer: tracer}
}

func (t *otelTracer) Start(ctx context.Context, name string, opts ...otelTrace.SpanStartOption) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name, opts...)
	return ctx, &otelSpan{span: span}
}

func (t *otelTracer) Span(ctx context.Context) Span {
	return &otelSpan{span: otelTrace.SpanFromContext(ctx)}
}

type otelSpan struct {
	span otelTrace.Span
}

func (s *otelSpan) End(opts ...otelTrace.SpanEndOption) { s.span.End(opts...) }
func (s *otelSpan) AddEvent(name string, attrs ...any)  { s.span.AddEvent(name) }
func (s *otelSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}
func (s *otelSpan) RecordError(err error, opts ...otelTrace.EventOption) {
	s.span.RecordError(err, opts...)
}
