package tabsync

import (
	"context"
	"time"
)

// SuppressReason says why a snapshot was not published or applied.
type SuppressReason string

const (
	// SuppressEcho marks a Broadcast skipped while a remote snapshot was
	// being applied.
	SuppressEcho SuppressReason = "echo"
	// SuppressDuplicate marks a snapshot equal to the last one sent or
	// received.
	SuppressDuplicate SuppressReason = "duplicate"
)

// Observability receives engine and store lifecycle events.
// Implementations must not call back into the engine or store.
type Observability interface {
	// OnBroadcast is called when a local snapshot is scheduled for publish.
	OnBroadcast(storeName string)

	// OnSuppressed is called when a snapshot is dropped.
	OnSuppressed(storeName string, reason SuppressReason)

	// OnPublishStart is called before a debounced publish hits the transport.
	OnPublishStart(ctx context.Context, storeName string) context.Context

	// OnPublishComplete is called after the transport returns.
	OnPublishComplete(ctx context.Context, storeName string, err error)

	// OnApply is called when a remote snapshot is applied.
	OnApply(storeName string)

	// OnPersistStart is called before a store writes to durable storage.
	OnPersistStart(ctx context.Context, key string) context.Context

	// OnPersistComplete is called after the storage write returns.
	OnPersistComplete(ctx context.Context, key string, duration time.Duration, err error)
}

// NopObservability ignores every event.
type NopObservability struct{}

var _ Observability = NopObservability{}

func (NopObservability) OnBroadcast(string) {}
func (NopObservability) OnSuppressed(string, SuppressReason) {}
func (NopObservability) OnApply(string) {}
func (NopObservability) OnPublishComplete(context.Context, string, error) {}
func (NopObservability) OnPersistComplete(context.Context, string, time.Duration, error) {}

func (NopObservability) OnPublishStart(ctx context.Context, _ string) context.Context {
	return ctx
}

func (NopObservability) OnPersistStart(ctx context.Context, _ string) context.Context {
	return ctx
}

// Observers fans events out to each non-nil Observability in order.
func Observers(obs ...Observability) Observability {
	var out multiObservability
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return NopObservability{}
	}
	return out
}

type multiObservability []Observability

func (m multiObservability) OnBroadcast(storeName string) {
	for _, o := range m {
		o.OnBroadcast(storeName)
	}
}

func (m multiObservability) OnSuppressed(storeName string, reason SuppressReason) {
	for _, o := range m {
		o.OnSuppressed(storeName, reason)
	}
}

func (m multiObservability) OnPublishStart(ctx context.Context, storeName string) context.Context {
	for _, o := range m {
		ctx = o.OnPublishStart(ctx, storeName)
	}
	return ctx
}

func (m multiObservability) OnPublishComplete(ctx context.Context, storeName string, err error) {
	for _, o := range m {
		o.OnPublishComplete(ctx, storeName, err)
	}
}

func (m multiObservability) OnApply(storeName string) {
	for _, o := range m {
		o.OnApply(storeName)
	}
}

func (m multiObservability) OnPersistStart(ctx context.Context, key string) context.Context {
	for _, o := range m {
		ctx = o.OnPersistStart(ctx, key)
	}
	return ctx
}

func (m multiObservability) OnPersistComplete(ctx context.Context, key string, duration time.Duration, err error) {
	for _, o := range m {
		o.OnPersistComplete(ctx, key, duration, err)
	}
}
