package tabsync

import (
	"bytes"
	"context"
	"sync"

	"github.com/google/uuid"
)

// PanicHandler is called when a channel listener panics
type PanicHandler func(channel string, data []byte, panicValue any)

// HubOption configures a Hub
type HubOption func(*Hub)

// WithPanicHandler sets a function to be called when a listener panics.
// Without one, panics are recovered and dropped.
func WithPanicHandler(handler PanicHandler) HubOption {
	return func(h *Hub) {
		h.panicHandler = handler
	}
}

// Hub is an in-process broadcast primitive. Every Tab taken from the same
// Hub is a separate execution context: a message published by one tab is
// delivered to all other tabs with a channel of the same name.
type Hub struct {
	channels     map[string][]*hubChannel
	panicHandler PanicHandler
	mu           sync.RWMutex
	wg           sync.WaitGroup
}

// NewHub creates a new Hub
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		channels: make(map[string][]*hubChannel),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Tab creates a new execution context on the hub.
func (h *Hub) Tab() *Tab {
	return &Tab{
		hub:  h,
		id:   uuid.NewString(),
		open: make(map[string]*hubChannel),
	}
}

// Wait blocks until every in-flight delivery has been handled
func (h *Hub) Wait() {
	h.wg.Wait()
}

func (h *Hub) attach(c *hubChannel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.channels[c.name] = append(h.channels[c.name], c)
}

func (h *Hub) detach(c *hubChannel) {
	h.mu.Lock()
	defer h.mu.Unlock()

	peers := h.channels[c.name]
	for i, p := range peers {
		if p == c {
			h.channels[c.name] = append(peers[:i:i], peers[i+1:]...)
			break
		}
	}
	if len(h.channels[c.name]) == 0 {
		delete(h.channels, c.name)
	}
}

// publish fans data out to every channel of the same name outside the
// sender's tab.
func (h *Hub) publish(from *hubChannel, data []byte) {
	h.mu.RLock()
	peers := h.channels[from.name]
	// Copy to avoid holding the lock during delivery
	targets := make([]*hubChannel, 0, len(peers))
	for _, p := range peers {
		if p.tab != from.tab {
			targets = append(targets, p)
		}
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	msg := bytes.Clone(data)
	for _, t := range targets {
		t.deliver(msg)
	}
}

// call runs a listener, recovering from panics
func (h *Hub) call(l *listener, channel string, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			if h.panicHandler != nil {
				h.panicHandler(channel, data, r)
			}
		}
	}()
	l.fn(data)
}

// Tab is one execution context on a Hub. It implements Transport.
type Tab struct {
	hub  *Hub
	id   string
	mu   sync.Mutex
	open map[string]*hubChannel
}

var _ Transport = (*Tab)(nil)

// ID returns the tab's unique identifier
func (t *Tab) ID() string {
	return t.id
}

// Open returns the tab's channel for name, creating it on first use.
func (t *Tab) Open(name string) Channel {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.open[name]; ok {
		c.refs++
		return c
	}

	c := &hubChannel{tab: t, name: name, refs: 1}
	t.open[name] = c
	t.hub.attach(c)
	return c
}

// Close force-closes every channel the tab holds, regardless of how many
// references are outstanding.
func (t *Tab) Close() error {
	t.mu.Lock()
	channels := make([]*hubChannel, 0, len(t.open))
	for _, c := range t.open {
		c.refs = 0
		channels = append(channels, c)
	}
	t.open = make(map[string]*hubChannel)
	t.mu.Unlock()

	for _, c := range channels {
		c.shutdown()
	}
	return nil
}

// hubChannel is a Tab's handle on one named channel
type hubChannel struct {
	tab  *Tab
	name string
	refs int // guarded by tab.mu

	mu        sync.RWMutex
	listeners []*listener
	closed    bool
}

func (c *hubChannel) Publish(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrChannelClosed
	}

	c.tab.hub.publish(c, data)
	return nil
}

func (c *hubChannel) Subscribe(fn func([]byte)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || fn == nil {
		return func() {}
	}

	l := &listener{fn: fn}
	c.listeners = append(c.listeners, l)

	var once sync.Once
	return func() {
		once.Do(func() { c.remove(l) })
	}
}

func (c *hubChannel) Close() error {
	t := c.tab
	t.mu.Lock()
	if c.refs == 0 {
		t.mu.Unlock()
		return nil
	}
	c.refs--
	if c.refs > 0 {
		t.mu.Unlock()
		return nil
	}
	delete(t.open, c.name)
	t.mu.Unlock()

	c.shutdown()
	return nil
}

func (c *hubChannel) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	listeners := c.listeners
	c.listeners = nil
	c.mu.Unlock()

	for _, l := range listeners {
		l.stop()
	}
	c.tab.hub.detach(c)
}

func (c *hubChannel) remove(l *listener) {
	c.mu.Lock()
	for i, existing := range c.listeners {
		if existing == l {
			c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	l.stop()
}

func (c *hubChannel) deliver(data []byte) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return
	}
	listeners := make([]*listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.RUnlock()

	for _, l := range listeners {
		l.enqueue(c.tab.hub, c.name, data)
	}
}

// listener queues messages and drains them on a single goroutine at a time,
// so each listener sees messages in publish order.
type listener struct {
	fn       func([]byte)
	mu       sync.Mutex
	queue    [][]byte
	draining bool
	stopped  bool
}

func (l *listener) enqueue(h *Hub, channel string, data []byte) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, data)
	if l.draining {
		l.mu.Unlock()
		return
	}
	l.draining = true
	l.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		l.drain(h, channel)
	}()
}

func (l *listener) drain(h *Hub, channel string) {
	for {
		l.mu.Lock()
		if l.stopped || len(l.queue) == 0 {
			l.queue = nil
			l.draining = false
			l.mu.Unlock()
			return
		}
		data := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()

		h.call(l, channel, data)
	}
}

func (l *listener) stop() {
	l.mu.Lock()
	l.stopped = true
	l.queue = nil
	l.mu.Unlock()
}
