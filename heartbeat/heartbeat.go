// Package heartbeat provides the agent failure detector.
//
// The monitor keeps one health record per agent type registered in the
// directory. A heartbeat is recorded whenever an agent completes an
// interaction; on a fixed tick the monitor looks for busy agents that
// have gone silent past a threshold and drives a bounded reconnect
// protocol through an injected callback. When the attempts are exhausted
// the agent is marked offline, a terminal state that requires an
// external restart.
package heartbeat

import (
	"context"
	"errors"
	"time"

	"github.com/swarmlink/swarmlink/logging"
	"github.com/swarmlink/swarmlink/registry"
)

// Common errors.
var (
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrUnknownAgent   = errors.New("unknown agent type")
	ErrReconnectPanic = errors.New("reconnect callback panicked")
)

// ReconnectFunc attempts to re-establish contact with a silent agent.
// Returning true means the agent was successfully reconnected; returning
// false or an error counts as a failed attempt.
type ReconnectFunc func(ctx context.Context, agentType string) (bool, error)

// AgentHealth is the liveness record for one agent type.
type AgentHealth struct {
	AgentType         string
	LastPing          time.Time
	Status            registry.Status
	HeartbeatCount    int
	ReconnectAttempts int
}

// Config configures a Monitor.
type Config struct {
	// Directory is the externally-owned agent directory. Required.
	Directory registry.Directory

	// Interval between monitor ticks.
	// Default: 30 seconds
	Interval time.Duration

	// ReconnectThreshold multiplies Interval to get the silence window
	// after which an agent is considered unresponsive.
	// Default: 3
	ReconnectThreshold int

	// MaxReconnectAttempts before escalating to offline.
	// Default: 2
	MaxReconnectAttempts int

	// Reconnect is the host-injected reconnect callback. Optional;
	// without it a silent agent goes straight to offline.
	Reconnect ReconnectFunc

	// Logger for monitor events. Optional.
	Logger *logging.Logger
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Directory == nil {
		return ErrInvalidConfig
	}
	if c.MaxReconnectAttempts < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:             30 * time.Second,
		ReconnectThreshold:   3,
		MaxReconnectAttempts: 2,
	}
}
