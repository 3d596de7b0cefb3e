package sqlite

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jilio/tabsync"
)

// Tab is one process's view of the store's message log. It implements
// tabsync.Transport: messages published on a channel reach every other Tab
// polling the same database file, in this or another process.
type Tab struct {
	store  *Store
	origin string

	mu   sync.Mutex
	open map[string]*channel
}

var _ tabsync.Transport = (*Tab)(nil)

// Tab creates a transport with a fresh origin.
func (s *Store) Tab() *Tab {
	return &Tab{
		store:  s,
		origin: uuid.NewString(),
		open:   make(map[string]*channel),
	}
}

// Origin returns the identifier written with every message the tab publishes
func (t *Tab) Origin() string {
	return t.origin
}

// Open returns the tab's channel for name. The channel only sees messages
// published after it was opened. Listeners run on the channel's polling
// goroutine and must not close the channel. If the message log cannot be
// read the error is logged and a no-op channel is returned.
func (t *Tab) Open(name string) tabsync.Channel {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.open[name]; ok {
		c.refs++
		return c
	}

	var head int64
	if err := t.store.headMsg.QueryRow().Scan(&head); err != nil {
		if t.store.logger != nil {
			t.store.logger.Error("failed to open channel", "channel", name, "error", err)
		}
		return tabsync.NopChannel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &channel{
		tab:    t,
		name:   name,
		refs:   1,
		cursor: head,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	t.open[name] = c
	go c.run(ctx)

	if t.store.logger != nil {
		t.store.logger.Debug("opened channel", "channel", name, "origin", t.origin, "position", head)
	}
	return c
}

// Close stops every channel the tab holds
func (t *Tab) Close() error {
	t.mu.Lock()
	channels := make([]*channel, 0, len(t.open))
	for _, c := range t.open {
		c.refs = 0
		channels = append(channels, c)
	}
	t.open = make(map[string]*channel)
	t.mu.Unlock()

	for _, c := range channels {
		c.stop()
	}
	return nil
}

// message is one row of the log
type message struct {
	position int64
	origin   string
	data     []byte
}

// rowScanner abstracts sql.Rows for testing
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// channel polls the log for one channel name
type channel struct {
	tab    *Tab
	name   string
	refs   int // guarded by tab.mu
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	cursor    int64
	listeners map[uint64]func([]byte)
	nextID    uint64
	closed    bool
}

func (c *channel) Publish(ctx context.Context, data []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return tabsync.ErrChannelClosed
	}

	s := c.tab.store
	start := time.Now()

	_, err := s.appendMsg.ExecContext(ctx, c.name, c.tab.origin, data, start.UnixMilli())
	if s.metrics != nil {
		s.metrics.OnPublish(time.Since(start), err)
	}
	if err != nil {
		return fmt.Errorf("sqlite: publish: %w", err)
	}

	cutoff := start.Add(-s.cfg.retention).UnixMilli()
	if res, err := s.pruneMsgs.ExecContext(ctx, cutoff); err != nil {
		if s.logger != nil {
			s.logger.Error("failed to prune messages", "error", err)
		}
	} else if n, _ := res.RowsAffected(); n > 0 && s.logger != nil {
		s.logger.Debug("pruned messages", "count", n)
	}

	return nil
}

func (c *channel) Subscribe(fn func([]byte)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || fn == nil {
		return func() {}
	}
	if c.listeners == nil {
		c.listeners = make(map[uint64]func([]byte))
	}
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *channel) Close() error {
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

	c.stop()
	return nil
}

// stop ends polling and waits for an in-flight delivery to return
func (c *channel) stop() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.listeners = nil
	c.mu.Unlock()

	c.cancel()
	<-c.done
}

func (c *channel) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.tab.store.cfg.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.poll(ctx)
		}
	}
}

// poll delivers every message past the cursor that another tab published
func (c *channel) poll(ctx context.Context) {
	s := c.tab.store
	start := time.Now()

	c.mu.Lock()
	cursor := c.cursor
	c.mu.Unlock()

	msgs, err := c.fetch(ctx, cursor)
	if s.metrics != nil {
		s.metrics.OnPoll(time.Since(start), len(msgs), err)
	}
	if err != nil {
		if ctx.Err() == nil && s.logger != nil {
			s.logger.Error("failed to poll messages", "channel", c.name, "error", err)
		}
		return
	}

	for _, m := range msgs {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.cursor = m.position
		var listeners []func([]byte)
		if m.origin != c.tab.origin {
			listeners = make([]func([]byte), 0, len(c.listeners))
			for _, fn := range c.listeners {
				listeners = append(listeners, fn)
			}
		}
		c.mu.Unlock()

		for _, fn := range listeners {
			c.call(fn, m.data)
		}
	}
}

// fetch reads the rows past cursor; the rows are closed before delivery
func (c *channel) fetch(ctx context.Context, cursor int64) ([]message, error) {
	rows, err := c.tab.store.readMsgs.QueryContext(ctx, c.name, cursor)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// scanMessages scans rows into messages - extracted for testability
func scanMessages(rows rowScanner) ([]message, error) {
	defer rows.Close()

	var msgs []message
	for rows.Next() {
		var m message
		if err := rows.Scan(&m.position, &m.origin, &m.data); err != nil {
			return nil, fmt.Errorf("sqlite: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate messages: %w", err)
	}

	return msgs, nil
}

// call runs a listener, recovering from panics
func (c *channel) call(fn func([]byte), data []byte) {
	defer func() {
		if r := recover(); r != nil {
			if logger := c.tab.store.logger; logger != nil {
				logger.Error("listener panicked", "channel", c.name, "panic", r)
			}
		}
	}()
	fn(data)
}
