package tabsync

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrChannelClosed is returned when publishing on a channel that has
	// been closed.
	ErrChannelClosed = errors.New("tabsync: channel closed")

	// ErrUnsupported reports that no broadcast primitive is available.
	ErrUnsupported = errors.New("tabsync: broadcast not supported")
)

// Transport opens named broadcast channels for one execution context.
//
// Open is idempotent per name: a tab holds at most one channel for a name
// and repeated calls return that channel with an extra reference. Open never
// fails; a transport that cannot provide a channel returns a no-op one.
type Transport interface {
	Open(name string) Channel
}

// Channel is an open handle on a named broadcast group.
type Channel interface {
	// Publish delivers data to every other tab that has the channel open.
	// Delivery is best-effort and at most once. The publishing tab never
	// receives its own message.
	Publish(ctx context.Context, data []byte) error

	// Subscribe registers fn to be called once per received message,
	// asynchronously relative to Publish. The returned function removes
	// the listener; calling it more than once is safe.
	Subscribe(fn func(data []byte)) (cancel func())

	// Close releases one reference to the channel. When the last reference
	// is released the channel detaches and later calls are no-ops.
	Close() error
}

// Logger is the logging interface used across the package.
// *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NopChannel returns a channel that drops everything.
func NopChannel() Channel {
	return nopChannel{}
}

type nopChannel struct{}

func (nopChannel) Publish(context.Context, []byte) error { return nil }
func (nopChannel) Subscribe(func([]byte)) func() { return func() {} }
func (nopChannel) Close() error { return nil }

type unsupportedTransport struct {
	logger Logger
	once   sync.Once
}

// Unsupported returns a Transport for platforms without a broadcast
// primitive. The first Open logs a warning; every channel it returns is a
// no-op, which degrades the caller to single-tab operation.
func Unsupported(logger Logger) Transport {
	return &unsupportedTransport{logger: logger}
}

func (u *unsupportedTransport) Open(name string) Channel {
	u.once.Do(func() {
		if u.logger != nil {
			u.logger.Warn("broadcast channel not supported, cross-tab sync disabled",
				"channel", name, "error", ErrUnsupported)
		}
	})
	return nopChannel{}
}
