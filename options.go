package tabsync

import (
	"log/slog"
	"time"
)

// DefaultDebounce is the quiet period before a local change is published.
const DefaultDebounce = 300 * time.Millisecond

// EngineOption configures an Engine.
type EngineOption func(*engineConfig)

type engineConfig struct {
	debounce      time.Duration
	logger        Logger
	scheduler     Scheduler
	observability Observability
	now           func() time.Time
}

func defaultEngineConfig() *engineConfig {
	return &engineConfig{
		debounce:      DefaultDebounce,
		logger:        slog.Default(),
		scheduler:     RealScheduler{},
		observability: NopObservability{},
		now:           time.Now,
	}
}

// WithDebounce sets the trailing-edge debounce window.
// Zero publishes on the next scheduler tick; negative values are ignored.
func WithDebounce(d time.Duration) EngineOption {
	return func(c *engineConfig) {
		if d >= 0 {
			c.debounce = d
		}
	}
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(logger Logger) EngineOption {
	return func(c *engineConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithScheduler sets the scheduler used for the debounce and echo-reset
// timers.
func WithScheduler(s Scheduler) EngineOption {
	return func(c *engineConfig) {
		if s != nil {
			c.scheduler = s
		}
	}
}

// WithObservability sets the observability hooks.
func WithObservability(obs Observability) EngineOption {
	return func(c *engineConfig) {
		if obs != nil {
			c.observability = obs
		}
	}
}

// WithClock sets the source of message timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(c *engineConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// StoreOption configures a Store.
type StoreOption func(*storeOptions)

type storeOptions struct {
	storage       Storage
	transport     Transport
	channelName   string
	logger        Logger
	observability Observability
	engineOpts    []EngineOption
	migrations    []Migration
}

func defaultStoreOptions() *storeOptions {
	return &storeOptions{
		logger:        slog.Default(),
		observability: NopObservability{},
	}
}

// WithStorage sets the durable storage. Without one the store keeps its
// state in memory only.
func WithStorage(storage Storage) StoreOption {
	return func(o *storeOptions) {
		o.storage = storage
	}
}

// WithTransport sets the broadcast transport. Without one the store runs
// single-tab.
func WithTransport(t Transport) StoreOption {
	return func(o *storeOptions) {
		o.transport = t
	}
}

// WithChannelName overrides the channel the store syncs on.
func WithChannelName(name string) StoreOption {
	return func(o *storeOptions) {
		o.channelName = name
	}
}

// WithStoreLogger sets the logger for the store and its engine.
func WithStoreLogger(logger Logger) StoreOption {
	return func(o *storeOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithStoreObservability sets observability hooks for the store and its
// engine.
func WithStoreObservability(obs Observability) StoreOption {
	return func(o *storeOptions) {
		if obs != nil {
			o.observability = obs
		}
	}
}

// WithEngineOptions passes options through to the store's engine.
// They are applied after the store's own logger and observability.
func WithEngineOptions(opts ...EngineOption) StoreOption {
	return func(o *storeOptions) {
		o.engineOpts = append(o.engineOpts, opts...)
	}
}

// WithMigrations registers upgrades for persisted state written by older
// versions of the store.
func WithMigrations(migrations ...Migration) StoreOption {
	return func(o *storeOptions) {
		o.migrations = append(o.migrations, migrations...)
	}
}
