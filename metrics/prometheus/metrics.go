// Package prometheus exposes sync engine, store and sqlite transport
// activity as Prometheus collectors.
package prometheus

import (
	"context"
	"time"

	"github.com/jilio/tabsync"
	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "tabsync"

type publishStartKey struct{}

// Metrics implements tabsync.Observability and the sqlite store's
// MetricsHook with Prometheus collectors.
type Metrics struct {
	broadcasts      *prom.CounterVec
	suppressed      *prom.CounterVec
	publishes       *prom.CounterVec
	publishDuration *prom.HistogramVec
	applies         *prom.CounterVec
	persistDuration *prom.HistogramVec
	persistErrors   *prom.CounterVec
	storageOps      *prom.HistogramVec
	polled          prom.Counter
}

var _ tabsync.Observability = (*Metrics)(nil)

// New creates the collectors and registers them with reg.
func New(reg prom.Registerer) (*Metrics, error) {
	m := &Metrics{
		broadcasts: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Local snapshots scheduled for publish.",
		}, []string{"store"}),
		suppressed: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "suppressed_total",
			Help:      "Snapshots dropped as echoes or duplicates.",
		}, []string{"store", "reason"}),
		publishes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Messages handed to the transport, by result.",
		}, []string{"store", "result"}),
		publishDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "Transport publish latency.",
			Buckets:   prom.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"store"}),
		applies: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "applies_total",
			Help:      "Remote snapshots applied.",
		}, []string{"store"}),
		persistDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "persist_duration_seconds",
			Help:      "Durable storage write latency.",
			Buckets:   prom.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"key"}),
		persistErrors: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Failed durable storage writes.",
		}, []string{"key"}),
		storageOps: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sqlite",
			Name:      "operation_duration_seconds",
			Help:      "SQLite operation latency, by operation and result.",
			Buckets:   prom.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"op", "result"}),
		polled: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Subsystem: "sqlite",
			Name:      "polled_messages_total",
			Help:      "Messages read from the message log.",
		}),
	}

	collectors := []prom.Collector{
		m.broadcasts,
		m.suppressed,
		m.publishes,
		m.publishDuration,
		m.applies,
		m.persistDuration,
		m.persistErrors,
		m.storageOps,
		m.polled,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) OnBroadcast(storeName string) {
	m.broadcasts.WithLabelValues(storeName).Inc()
}

func (m *Metrics) OnSuppressed(storeName string, reason tabsync.SuppressReason) {
	m.suppressed.WithLabelValues(storeName, string(reason)).Inc()
}

func (m *Metrics) OnPublishStart(ctx context.Context, _ string) context.Context {
	return context.WithValue(ctx, publishStartKey{}, time.Now())
}

func (m *Metrics) OnPublishComplete(ctx context.Context, storeName string, err error) {
	m.publishes.WithLabelValues(storeName, result(err)).Inc()
	if start, ok := ctx.Value(publishStartKey{}).(time.Time); ok {
		m.publishDuration.WithLabelValues(storeName).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) OnApply(storeName string) {
	m.applies.WithLabelValues(storeName).Inc()
}

func (m *Metrics) OnPersistStart(ctx context.Context, _ string) context.Context {
	return ctx
}

func (m *Metrics) OnPersistComplete(_ context.Context, key string, duration time.Duration, err error) {
	m.persistDuration.WithLabelValues(key).Observe(duration.Seconds())
	if err != nil {
		m.persistErrors.WithLabelValues(key).Inc()
	}
}

// OnGetItem implements the sqlite MetricsHook
func (m *Metrics) OnGetItem(duration time.Duration, err error) {
	m.storageOps.WithLabelValues("get", result(err)).Observe(duration.Seconds())
}

// OnSetItem implements the sqlite MetricsHook
func (m *Metrics) OnSetItem(duration time.Duration, err error) {
	m.storageOps.WithLabelValues("set", result(err)).Observe(duration.Seconds())
}

// OnPublish implements the sqlite MetricsHook
func (m *Metrics) OnPublish(duration time.Duration, err error) {
	m.storageOps.WithLabelValues("publish", result(err)).Observe(duration.Seconds())
}

// OnPoll implements the sqlite MetricsHook
func (m *Metrics) OnPoll(duration time.Duration, count int, err error) {
	m.storageOps.WithLabelValues("poll", result(err)).Observe(duration.Seconds())
	m.polled.Add(float64(count))
}
