package sqlite

import (
	"time"
)

// Logger receives store and transport diagnostics. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// MetricsHook observes storage and message-log operations after they finish.
type MetricsHook interface {
	OnGetItem(duration time.Duration, err error)
	OnSetItem(duration time.Duration, err error)
	OnPublish(duration time.Duration, err error)
	OnPoll(duration time.Duration, count int, err error)
}

// Option configures the Store
type Option func(*config)

type config struct {
	path         string
	busyTimeout  time.Duration
	autoMigrate  bool
	logger       Logger
	metricsHook  MetricsHook
	pollInterval time.Duration
	retention    time.Duration
}

func defaultConfig() *config {
	return &config{
		busyTimeout:  5 * time.Second,
		autoMigrate:  true,
		pollInterval: 50 * time.Millisecond,
		retention:    time.Minute,
	}
}

// WithBusyTimeout bounds how long a write waits on another process's lock.
// Default 5s.
func WithBusyTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.busyTimeout = timeout
	}
}

// WithAutoMigrate controls whether New migrates the schema. Default true.
func WithAutoMigrate(enabled bool) Option {
	return func(c *config) {
		c.autoMigrate = enabled
	}
}

// WithLogger sets the logger. Nil disables logging.
func WithLogger(logger Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithMetricsHook sets the metrics hook
func WithMetricsHook(hook MetricsHook) Option {
	return func(c *config) {
		c.metricsHook = hook
	}
}

// WithPollInterval sets how often open channels check for new messages.
// Default is 50ms. Non-positive values are ignored.
func WithPollInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithRetention sets how long published messages are kept before they are
// pruned. Default is one minute. Non-positive values are ignored.
func WithRetention(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.retention = d
		}
	}
}
