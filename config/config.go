// Package config loads settings for programs that run synced stores
// against a shared SQLite profile.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Sync      SyncConfig      `mapstructure:"sync"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// SyncConfig holds broadcast settings.
type SyncConfig struct {
	Channel      string        `mapstructure:"channel"`
	Debounce     time.Duration `mapstructure:"debounce"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Retention    time.Duration `mapstructure:"retention"`
}

// StorageConfig holds sqlite settings.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// TelemetryConfig switches the stdout exporters on. A non-empty
// MetricsAddr serves Prometheus metrics on that address.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// SlogLevel maps Level onto slog, falling back to info.
func (c LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Load reads configuration from file and env. Env var overrides use prefix TABSYNC_.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("sync.channel", "voltage-app-sync")
	v.SetDefault("sync.debounce", 300*time.Millisecond)
	v.SetDefault("sync.poll_interval", 50*time.Millisecond)
	v.SetDefault("sync.retention", time.Minute)
	v.SetDefault("storage.path", filepath.Join(os.Getenv("HOME"), ".local", "share", "tabsync", "profile.db"))
	v.SetDefault("log.level", "info")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.metrics_addr", "")

	v.SetConfigType("toml")

	cfgPath := os.Getenv("TABSYNC_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "tabsync"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("TABSYNC")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgPath != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if c.Sync.Debounce < 0 {
		return Config{}, fmt.Errorf("sync.debounce must not be negative, got %s", c.Sync.Debounce)
	}
	return c, nil
}
