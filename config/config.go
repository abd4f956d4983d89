// Package config provides TOML runtime configuration for the coordination
// core: bus buffering, monitor intervals and reconnect bounds, and log
// level. All fields have working defaults so an empty file is valid.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root runtime configuration.
type Config struct {
	Bus     BusConfig     `toml:"bus"`
	Monitor MonitorConfig `toml:"monitor"`
	Log     LogConfig     `toml:"log"`
}

// BusConfig configures the message bus.
type BusConfig struct {
	// BufferSize for subscription channels.
	BufferSize int `toml:"buffer_size"`
}

// MonitorConfig configures the health monitor.
type MonitorConfig struct {
	// IntervalSeconds between monitor ticks.
	IntervalSeconds int `toml:"interval_seconds"`

	// ReconnectThreshold multiplies the interval to get the silence
	// window after which an agent is considered unresponsive.
	ReconnectThreshold int `toml:"reconnect_threshold"`

	// MaxReconnectAttempts before an agent is marked offline.
	MaxReconnectAttempts int `toml:"max_reconnect_attempts"`
}

// LogConfig configures logging output.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level"`
}

// Default returns the configuration used when no file is provided.
func Default() Config {
	return Config{
		Bus: BusConfig{
			BufferSize: 256,
		},
		Monitor: MonitorConfig{
			IntervalSeconds:      30,
			ReconnectThreshold:   3,
			MaxReconnectAttempts: 2,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Interval returns the monitor tick interval as a duration.
func (m MonitorConfig) Interval() time.Duration {
	return time.Duration(m.IntervalSeconds) * time.Second
}

// Validate checks the configuration for out-of-range values.
func (c *Config) Validate() error {
	if c.Bus.BufferSize <= 0 {
		return fmt.Errorf("bus.buffer_size must be positive, got %d", c.Bus.BufferSize)
	}
	if c.Monitor.IntervalSeconds <= 0 {
		return fmt.Errorf("monitor.interval_seconds must be positive, got %d", c.Monitor.IntervalSeconds)
	}
	if c.Monitor.ReconnectThreshold <= 0 {
		return fmt.Errorf("monitor.reconnect_threshold must be positive, got %d", c.Monitor.ReconnectThreshold)
	}
	if c.Monitor.MaxReconnectAttempts < 0 {
		return fmt.Errorf("monitor.max_reconnect_attempts must not be negative, got %d", c.Monitor.MaxReconnectAttempts)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	return nil
}

// LoadFile loads configuration from a TOML file, applying defaults for
// absent fields.
func LoadFile(path string) (Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(string(content))
}

// Parse parses configuration from TOML content, applying defaults for
// absent fields.
func Parse(content string) (Config, error) {
	cfg := Default()
	if _, err := toml.Decode(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
