// Package registry provides the agent directory: the externally-owned
// record of which agent types exist and what operational state each is in.
//
// The directory is populated once at process start. The health monitor
// reads and writes agent status through it; the task coordinator reads
// status through the monitor. Unknown agent types are lookup errors, not
// silent misses.
package registry

import (
	"errors"
	"time"
)

// Common errors.
var (
	ErrNotFound    = errors.New("agent not found")
	ErrClosed      = errors.New("registry closed")
	ErrInvalidID   = errors.New("invalid agent ID")
	ErrDuplicateID = errors.New("duplicate agent ID")
)

// Status represents an agent's operational state.
type Status string

const (
	// StatusAvailable means the agent is registered but not serving.
	StatusAvailable Status = "available"

	// StatusBusy means the agent is connected and serving work.
	StatusBusy Status = "busy"

	// StatusOffline is terminal: reconnection attempts were exhausted
	// and the agent needs an external restart.
	StatusOffline Status = "offline"
)

// Valid returns true if the status is a known value.
func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusBusy, StatusOffline:
		return true
	default:
		return false
	}
}

// AgentInfo describes a registered agent type.
type AgentInfo struct {
	// ID uniquely identifies the agent type (e.g. "inventory", "pricing").
	ID string

	// Name is a human-readable name.
	Name string

	// Capabilities lists what the agent can do.
	Capabilities []string

	// Status is the agent's current operational state.
	Status Status

	// Metadata contains additional key-value pairs.
	Metadata map[string]string

	// LastSeen is when the agent's entry was last written.
	LastSeen time.Time
}

// Clone returns a deep copy of the info.
func (a AgentInfo) Clone() AgentInfo {
	clone := a
	if a.Capabilities != nil {
		clone.Capabilities = append([]string(nil), a.Capabilities...)
	}
	if a.Metadata != nil {
		clone.Metadata = make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			clone.Metadata[k] = v
		}
	}
	return clone
}

// HasCapability checks if the agent lists a specific capability.
func (a AgentInfo) HasCapability(capability string) bool {
	for _, c := range a.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// Filter specifies criteria for listing agents.
type Filter struct {
	// Status filters by operational state. Empty means all.
	Status Status

	// Capability filters to agents with this capability.
	Capability string
}

// Matches checks if an agent matches the filter criteria.
func (f *Filter) Matches(info AgentInfo) bool {
	if f == nil {
		return true
	}
	if f.Status != "" && info.Status != f.Status {
		return false
	}
	if f.Capability != "" && !info.HasCapability(f.Capability) {
		return false
	}
	return true
}

// EventType represents the type of directory event.
type EventType string

const (
	EventRegistered    EventType = "registered"
	EventStatusChanged EventType = "status_changed"
)

// Event represents a change in the directory.
type Event struct {
	Type  EventType
	Agent AgentInfo
}

// Directory is the agent directory interface.
type Directory interface {
	// Register adds an agent type. Returns ErrDuplicateID if the ID
	// is already registered.
	Register(info AgentInfo) error

	// Get retrieves an agent by ID. Returns ErrNotFound if absent.
	Get(id string) (AgentInfo, error)

	// SetStatus updates an agent's operational state.
	SetStatus(id string, status Status) error

	// List returns all agents matching the optional filter.
	List(filter *Filter) ([]AgentInfo, error)

	// Watch returns a channel of directory events. The channel is
	// closed when the directory is closed.
	Watch() (<-chan Event, error)

	// Close shuts down the directory.
	Close() error
}

// ValidateAgentInfo checks if agent info is valid for registration.
func ValidateAgentInfo(info AgentInfo) error {
	if info.ID == "" {
		return ErrInvalidID
	}
	if info.Status != "" && !info.Status.Valid() {
		return errors.New("invalid agent status")
	}
	return nil
}
