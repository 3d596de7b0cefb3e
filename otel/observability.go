package otel

import (
	"context"
	"fmt"
	"time"

	"github.com/jilio/tabsync"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/jilio/tabsync"

type publishStartKey struct{}

// Observability implements tabsync.Observability using OpenTelemetry
type Observability struct {
	tracer trace.Tracer
	meter  metric.Meter

	broadcastCounter  metric.Int64Counter
	suppressedCounter metric.Int64Counter
	publishCounter    metric.Int64Counter
	publishDuration   metric.Float64Histogram
	publishErrors     metric.Int64Counter
	applyCounter      metric.Int64Counter
	persistDuration   metric.Float64Histogram
	persistErrors     metric.Int64Counter
}

// Option configures the Observability
type Option func(*Observability)

// WithTracerProvider sets a custom tracer provider
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(o *Observability) {
		o.tracer = provider.Tracer(instrumentationName)
	}
}

// WithMeterProvider sets a custom meter provider
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(o *Observability) {
		o.meter = provider.Meter(instrumentationName)
	}
}

// New creates a new OpenTelemetry observability implementation
func New(opts ...Option) (*Observability, error) {
	obs := &Observability{
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}

	for _, opt := range opts {
		opt(obs)
	}

	counters := []struct {
		dest             *metric.Int64Counter
		name, desc, unit string
	}{
		{&obs.broadcastCounter, "tabsync.broadcast.count", "Number of local snapshots scheduled for publish", "{snapshot}"},
		{&obs.suppressedCounter, "tabsync.suppressed.count", "Number of snapshots dropped as echoes or duplicates", "{snapshot}"},
		{&obs.publishCounter, "tabsync.publish.count", "Number of messages published", "{message}"},
		{&obs.publishErrors, "tabsync.publish.errors", "Number of failed publishes", "{error}"},
		{&obs.applyCounter, "tabsync.apply.count", "Number of remote snapshots applied", "{snapshot}"},
		{&obs.persistErrors, "tabsync.persist.errors", "Number of persistence errors", "{error}"},
	}
	for _, c := range counters {
		counter, err := obs.meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("otel: create %s: %w", c.name, err)
		}
		*c.dest = counter
	}

	histograms := []struct {
		dest       *metric.Float64Histogram
		name, desc string
	}{
		{&obs.publishDuration, "tabsync.publish.duration", "Transport publish duration"},
		{&obs.persistDuration, "tabsync.persist.duration", "State persistence duration"},
	}
	for _, h := range histograms {
		histogram, err := obs.meter.Float64Histogram(h.name, metric.WithDescription(h.desc), metric.WithUnit("ms"))
		if err != nil {
			return nil, fmt.Errorf("otel: create %s: %w", h.name, err)
		}
		*h.dest = histogram
	}

	return obs, nil
}

// OnBroadcast counts a scheduled local snapshot
func (o *Observability) OnBroadcast(storeName string) {
	o.broadcastCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("store.name", storeName)),
	)
}

// OnSuppressed counts a dropped snapshot by reason
func (o *Observability) OnSuppressed(storeName string, reason tabsync.SuppressReason) {
	o.suppressedCounter.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("store.name", storeName),
			attribute.String("reason", string(reason)),
		),
	)
}

// OnPublishStart starts a publish span
func (o *Observability) OnPublishStart(ctx context.Context, storeName string) context.Context {
	ctx, _ = o.tracer.Start(ctx, "tabsync.publish: "+storeName,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("store.name", storeName),
		),
	)

	o.publishCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("store.name", storeName),
		),
	)

	return context.WithValue(ctx, publishStartKey{}, time.Now())
}

// OnPublishComplete records the publish duration and ends the span
func (o *Observability) OnPublishComplete(ctx context.Context, storeName string, err error) {
	span := trace.SpanFromContext(ctx)
	attrs := metric.WithAttributes(attribute.String("store.name", storeName))

	if start, ok := ctx.Value(publishStartKey{}).(time.Time); ok {
		o.publishDuration.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs)
	}

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		o.publishErrors.Add(ctx, 1, attrs)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

// OnApply counts an applied remote snapshot
func (o *Observability) OnApply(storeName string) {
	o.applyCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("store.name", storeName)),
	)
}

// OnPersistStart starts a persist span
func (o *Observability) OnPersistStart(ctx context.Context, key string) context.Context {
	ctx, _ = o.tracer.Start(ctx, "tabsync.persist: "+key,
		trace.WithAttributes(
			attribute.String("storage.key", key),
		),
	)
	return ctx
}

// OnPersistComplete records the persist duration and ends the span
func (o *Observability) OnPersistComplete(ctx context.Context, key string, duration time.Duration, err error) {
	span := trace.SpanFromContext(ctx)
	attrs := metric.WithAttributes(attribute.String("storage.key", key))

	o.persistDuration.Record(ctx, float64(duration.Microseconds())/1000, attrs)

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		o.persistErrors.Add(ctx, 1, attrs)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

// Ensure Observability implements tabsync.Observability
var _ tabsync.Observability = (*Observability)(nil)
