package tabsync

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
)

// EngineConfig names the channel an engine syncs on and the store it
// speaks for.
type EngineConfig struct {
	// ChannelName is the transport channel, possibly shared with other
	// stores.
	ChannelName string
	// StoreName is the routing key carried in every message.
	StoreName string
}

// Engine synchronizes snapshots of type T for one logical store.
//
// Broadcast coalesces local changes into one trailing-edge publish per
// debounce window. Subscribe applies remote snapshots immediately and
// suppresses the re-broadcast that applying them would otherwise cause.
// T must marshal to plain JSON.
type Engine[T any] struct {
	transport   Transport
	channelName string
	storeName   string
	cfg         *engineConfig

	mu           sync.Mutex
	channel      Channel
	cancelListen func()
	listenGen    uint64
	lastSent     []byte
	pending      Timer
	pendingState []byte
	pendingGen   uint64
	suppressEcho bool
	echoReset    Timer
	applyGen     uint64
	// held is the latest local snapshot dropped during echo suppression
	held      []byte
	destroyed bool
}

// NewEngine creates an engine for cfg.StoreName on transport. A nil
// transport behaves like Unsupported.
func NewEngine[T any](transport Transport, cfg EngineConfig, opts ...EngineOption) *Engine[T] {
	c := defaultEngineConfig()
	for _, opt := range opts {
		opt(c)
	}
	if transport == nil {
		transport = Unsupported(c.logger)
	}
	return &Engine[T]{
		transport:   transport,
		channelName: cfg.ChannelName,
		storeName:   cfg.StoreName,
		cfg:         c,
	}
}

// StoreName returns the routing key of the engine.
func (e *Engine[T]) StoreName() string {
	return e.storeName
}

// Subscribe starts listening for remote snapshots of this store and calls
// onRemote for each one that differs from the last snapshot sent or
// received. onRemote runs synchronously on the delivery goroutine; any
// Broadcast it triggers is suppressed.
//
// A later Subscribe replaces the earlier listener. The returned function
// removes the listener and cancels a pending publish. Subscribe also
// re-arms an engine after Destroy.
func (e *Engine[T]) Subscribe(onRemote func(T)) (unsubscribe func()) {
	e.mu.Lock()
	e.destroyed = false
	ch := e.openLocked()
	if e.cancelListen != nil {
		e.cancelListen()
	}
	e.listenGen++
	gen := e.listenGen
	cancel := ch.Subscribe(func(data []byte) {
		e.receive(data, onRemote)
	})
	e.cancelListen = cancel
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			e.mu.Lock()
			defer e.mu.Unlock()
			if e.listenGen == gen {
				e.cancelListen = nil
			}
			e.stopPendingLocked()
		})
	}
}

// Broadcast schedules state for publishing to other tabs.
//
// It is a no-op after Destroy, and when state serializes to the last
// snapshot sent or received. While a remote snapshot is being applied the
// snapshot is held back; once suppression lifts it is scheduled if it still
// differs from the remote one. Otherwise the snapshot is recorded at once
// and the debounce timer restarts; when it fires, the latest recorded
// snapshot is published.
func (e *Engine[T]) Broadcast(state T) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return
	}

	data, err := json.Marshal(state)
	if err != nil {
		e.cfg.logger.Error("failed to serialize state", "store", e.storeName, "error", err)
		return
	}

	if e.suppressEcho {
		e.held = data
		e.cfg.observability.OnSuppressed(e.storeName, SuppressEcho)
		return
	}
	e.scheduleLocked(data)
}

// scheduleLocked restarts the debounce timer for data unless it repeats
// the last snapshot sent or received
func (e *Engine[T]) scheduleLocked(data []byte) {
	if bytes.Equal(data, e.lastSent) {
		e.cfg.observability.OnSuppressed(e.storeName, SuppressDuplicate)
		return
	}

	e.openLocked()
	e.stopPendingLocked()
	e.lastSent = data
	e.pendingState = data
	gen := e.pendingGen
	e.pending = e.cfg.scheduler.AfterFunc(e.cfg.debounce, func() {
		e.flush(gen)
	})
	e.cfg.observability.OnBroadcast(e.storeName)
}

// Destroy cancels any pending publish, detaches the listener, closes the
// channel and forgets all sync state. Broadcast does nothing afterwards
// until the next Subscribe. It is safe to call more than once.
func (e *Engine[T]) Destroy() {
	e.mu.Lock()
	cancel := e.cancelListen
	ch := e.channel

	e.stopPendingLocked()
	if e.echoReset != nil {
		e.echoReset.Stop()
		e.echoReset = nil
	}
	e.cancelListen = nil
	e.channel = nil
	e.lastSent = nil
	e.held = nil
	e.suppressEcho = false
	e.applyGen++
	e.destroyed = true
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ch != nil {
		if err := ch.Close(); err != nil {
			e.cfg.logger.Error("failed to close channel", "channel", e.channelName, "error", err)
		}
	}
}

// openLocked opens the channel on first use
func (e *Engine[T]) openLocked() Channel {
	if e.channel == nil {
		e.channel = e.transport.Open(e.channelName)
	}
	return e.channel
}

// stopPendingLocked cancels the debounce timer, if any
func (e *Engine[T]) stopPendingLocked() {
	if e.pending != nil {
		e.pending.Stop()
		e.pending = nil
	}
	e.pendingState = nil
	// Invalidates a timer whose callback is already running
	e.pendingGen++
}

// flush publishes the latest pending snapshot
func (e *Engine[T]) flush(gen uint64) {
	e.mu.Lock()
	if gen != e.pendingGen || e.pendingState == nil {
		e.mu.Unlock()
		return
	}
	ch := e.channel
	state := e.pendingState
	e.pending = nil
	e.pendingState = nil
	e.mu.Unlock()

	if ch == nil {
		return
	}

	msg, err := NewStateUpdate(e.storeName, json.RawMessage(state), e.cfg.now())
	if err != nil {
		e.cfg.logger.Error("failed to encode message", "store", e.storeName, "error", err)
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		e.cfg.logger.Error("failed to encode message", "store", e.storeName, "error", err)
		return
	}

	ctx := e.cfg.observability.OnPublishStart(context.Background(), e.storeName)
	err = ch.Publish(ctx, payload)
	e.cfg.observability.OnPublishComplete(ctx, e.storeName, err)
	if err != nil {
		e.cfg.logger.Error("failed to broadcast state", "store", e.storeName, "channel", e.channelName, "error", err)
	}
}

// receive handles one payload from the channel
func (e *Engine[T]) receive(data []byte, onRemote func(T)) {
	msg, err := DecodeMessage(data)
	if err != nil {
		e.cfg.logger.Debug("ignoring message", "store", e.storeName, "error", err)
		return
	}
	if !msg.IsStateUpdateFor(e.storeName) {
		return
	}

	var state T
	if err := json.Unmarshal(msg.State, &state); err != nil {
		e.cfg.logger.Debug("ignoring state update", "store", e.storeName, "error", err)
		return
	}
	// Re-encode so the comparison uses the same encoding as Broadcast
	canonical, err := json.Marshal(state)
	if err != nil {
		e.cfg.logger.Debug("ignoring state update", "store", e.storeName, "error", err)
		return
	}

	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	if bytes.Equal(canonical, e.lastSent) {
		e.mu.Unlock()
		e.cfg.observability.OnSuppressed(e.storeName, SuppressDuplicate)
		return
	}
	e.suppressEcho = true
	e.held = nil
	e.lastSent = canonical
	// The remote snapshot replaces the synced fields, so an unsent local
	// burst is stale.
	e.stopPendingLocked()
	if e.echoReset != nil {
		e.echoReset.Stop()
		e.echoReset = nil
	}
	e.applyGen++
	gen := e.applyGen
	e.mu.Unlock()

	defer e.scheduleEchoReset(gen)

	e.cfg.observability.OnApply(e.storeName)
	onRemote(state)
}

// scheduleEchoReset clears echo suppression one scheduler tick after an
// apply, unless another apply started in the meantime. A local snapshot
// held back in between is then scheduled; a pure echo of the remote
// snapshot is dropped as a duplicate.
func (e *Engine[T]) scheduleEchoReset(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if gen != e.applyGen {
		return
	}
	e.echoReset = e.cfg.scheduler.AfterFunc(0, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if gen != e.applyGen {
			return
		}
		e.suppressEcho = false
		e.echoReset = nil
		if held := e.held; held != nil {
			e.held = nil
			e.scheduleLocked(held)
		}
	})
}
