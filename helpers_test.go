package tabsync

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// Test snapshot type
type snapshot struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

var epoch = time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)

type logEntry struct {
	level string
	msg   string
	args  []any
}

// recordingLogger implements Logger for testing
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.add("debug", msg, args) }
func (l *recordingLogger) Info(msg string, args ...any) { l.add("info", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any) { l.add("warn", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.add("error", msg, args) }

func (l *recordingLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.level == level {
			n++
		}
	}
	return n
}

// recordingTransport wraps a Transport and records every publish
type recordingTransport struct {
	inner Transport

	mu         sync.Mutex
	published  [][]byte
	publishErr error
	opened     int
	closed     int
}

func (r *recordingTransport) Open(name string) Channel {
	r.mu.Lock()
	r.opened++
	r.mu.Unlock()

	var ch Channel = NopChannel()
	if r.inner != nil {
		ch = r.inner.Open(name)
	}
	return &recordingChannel{Channel: ch, t: r}
}

func (r *recordingTransport) publishes() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.published))
	copy(out, r.published)
	return out
}

func (r *recordingTransport) setPublishErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishErr = err
}

type recordingChannel struct {
	Channel
	t *recordingTransport
}

func (c *recordingChannel) Publish(ctx context.Context, data []byte) error {
	c.t.mu.Lock()
	c.t.published = append(c.t.published, bytes.Clone(data))
	err := c.t.publishErr
	c.t.mu.Unlock()

	if err != nil {
		return err
	}
	return c.Channel.Publish(ctx, data)
}

func (c *recordingChannel) Close() error {
	c.t.mu.Lock()
	c.t.closed++
	c.t.mu.Unlock()
	return c.Channel.Close()
}

// received collects remote snapshots delivered to an engine
type received struct {
	mu     sync.Mutex
	states []snapshot
}

func (r *received) add(s snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *received) all() []snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]snapshot, len(r.states))
	copy(out, r.states)
	return out
}

func decodeState(t *testing.T, payload []byte) (*Message, snapshot) {
	t.Helper()
	msg, err := DecodeMessage(payload)
	if err != nil {
		t.Fatalf("DecodeMessage() error = %v", err)
	}
	var s snapshot
	if err := json.Unmarshal(msg.State, &s); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	return msg, s
}
