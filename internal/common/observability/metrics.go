package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
)

// Observability bundles the otel meter and tracer used by the dispatcher.
type Observability struct {
	meterProvider  *metric.MeterProvider
	meter          otelmetric.Meter
	tracer         trace.Tracer
	eventCounter   otelmetric.Int64Counter
	eventDuration  otelmetric.Float64Histogram
	deliveryFailed otelmetric.Int64Counter
}

// New registers a prometheus-backed meter provider. On exporter failure the
// returned value still works and records nothing.
func New(serviceName string) (*Observability, error) {
	o := &Observability{tracer: otel.Tracer(serviceName)}

	exporter, err := prometheus.New()
	if err != nil {
		return o, err
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	o.meterProvider = provider
	o.meter = provider.Meter(serviceName)

	o.eventCounter, _ = o.meter.Int64Counter(
		"events.dispatched",
		otelmetric.WithDescription("Number of domain events dispatched"),
	)
	o.eventDuration, _ = o.meter.Float64Histogram(
		"events.duration",
		otelmetric.WithDescription("Event dispatch duration"),
		otelmetric.WithUnit("ms"),
	)
	o.deliveryFailed, _ = o.meter.Int64Counter(
		"deliveries.failed",
		otelmetric.WithDescription("Number of per-recipient deliveries that failed"),
	)

	return o, nil
}

// Noop returns an Observability that only carries the global tracer.
func Noop(serviceName string) *Observability {
	return &Observability{tracer: otel.Tracer(serviceName)}
}

// StartSpan starts a span named name on the service tracer.
func (o *Observability) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if o == nil || o.tracer == nil {
		return otel.Tracer("").Start(ctx, name, trace.WithAttributes(attrs...))
	}
	return o.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (o *Observability) RecordEventDispatched(ctx context.Context, kind, status string) {
	if o != nil && o.eventCounter != nil {
		o.eventCounter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		))
	}
}

func (o *Observability) RecordEventDuration(ctx context.Context, kind string, duration time.Duration) {
	if o != nil && o.eventDuration != nil {
		o.eventDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
			attribute.String("kind", kind),
		))
	}
}

func (o *Observability) RecordDeliveryFailed(ctx context.Context, notificationType string) {
	if o != nil && o.deliveryFailed != nil {
		o.deliveryFailed.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("type", notificationType),
		))
	}
}

func (o *Observability) Shutdown(ctx context.Context) error {
	if o == nil || o.meterProvider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return o.meterProvider.Shutdown(ctx)
}
