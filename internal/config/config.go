// Package config loads and validates corkboard.yml, the single configuration
// file for the corkboard CLI and reference server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where Load looks when no path is given.
const DefaultPath = "corkboard.yml"

// Duration lets intervals be written as "250ms" or "10s" in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"250ms\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the top-level corkboard.yml structure.
type Config struct {
	Version string       `yaml:"version"`
	Remote  RemoteConfig `yaml:"remote"`
	Redis   *RedisConfig `yaml:"redis,omitempty"`
	Cache   CacheConfig  `yaml:"cache,omitempty"`
	Sync    SyncConfig   `yaml:"sync,omitempty"`
	Log     LogConfig    `yaml:"log,omitempty"`
}

// RemoteConfig points at the document store's HTTP API.
type RemoteConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout,omitempty"` // default 10s
}

// RedisConfig enables cross-session broadcast when present. Broadcast is an
// optimization; leaving the whole section out is a supported configuration.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace,omitempty"` // default "corkboard"
}

// CacheConfig locates the local SQLite cache.
type CacheConfig struct {
	Path string `yaml:"path,omitempty"` // default ~/.corkboard/cache.db
}

// SyncConfig tunes the engine's timers. Zero values take the engine defaults.
type SyncConfig struct {
	SaveDebounce Duration `yaml:"save_debounce,omitempty"`
	PushDebounce Duration `yaml:"push_debounce,omitempty"`
	PollInterval Duration `yaml:"poll_interval,omitempty"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level string `yaml:"level,omitempty"` // debug, info, warn, error; default info
}

// Validate performs strict validation and fills in defaults.
func (c *Config) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if c.Remote.Timeout < 0 {
		return fmt.Errorf("remote.timeout must be positive, got %s", c.Remote.Timeout.Std())
	}
	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = Duration(10 * time.Second)
	}

	if c.Redis != nil {
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when the redis section is present")
		}
		if c.Redis.Namespace == "" {
			c.Redis.Namespace = "corkboard"
		}
	}

	if c.Cache.Path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("cache.path not set and home directory unknown: %w", err)
		}
		c.Cache.Path = filepath.Join(home, ".corkboard", "cache.db")
	}

	if c.Sync.SaveDebounce < 0 || c.Sync.PushDebounce < 0 || c.Sync.PollInterval < 0 {
		return fmt.Errorf("sync intervals must be positive")
	}

	switch c.Log.Level {
	case "":
		c.Log.Level = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be 'debug', 'info', 'warn', or 'error')", c.Log.Level)
	}

	return nil
}

// Load reads and validates corkboard.yml from the specified path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
