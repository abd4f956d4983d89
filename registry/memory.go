package registry

import (
	"sort"
	"sync"
	"time"
)

// MemoryDirectory is the in-process implementation of Directory.
type MemoryDirectory struct {
	mu       sync.RWMutex
	agents   map[string]AgentInfo
	watchers []chan Event
	closed   bool
}

// NewMemoryDirectory creates an empty agent directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		agents: make(map[string]AgentInfo),
	}
}

// Register adds an agent type to the directory.
func (d *MemoryDirectory) Register(info AgentInfo) error {
	if err := ValidateAgentInfo(info); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if _, exists := d.agents[info.ID]; exists {
		return ErrDuplicateID
	}

	if info.Status == "" {
		info.Status = StatusAvailable
	}
	info.LastSeen = time.Now()
	d.agents[info.ID] = info

	d.notifyWatchers(Event{Type: EventRegistered, Agent: info.Clone()})
	return nil
}

// Get retrieves an agent by ID.
func (d *MemoryDirectory) Get(id string) (AgentInfo, error) {
	if id == "" {
		return AgentInfo{}, ErrInvalidID
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	info, ok := d.agents[id]
	if !ok {
		return AgentInfo{}, ErrNotFound
	}
	return info.Clone(), nil
}

// SetStatus updates an agent's operational state.
func (d *MemoryDirectory) SetStatus(id string, status Status) error {
	if id == "" {
		return ErrInvalidID
	}
	if !status.Valid() {
		return ErrInvalidStatus(status)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	info, ok := d.agents[id]
	if !ok {
		return ErrNotFound
	}

	if info.Status == status {
		// No transition, no event.
		return nil
	}

	info.Status = status
	info.LastSeen = time.Now()
	d.agents[id] = info

	d.notifyWatchers(Event{Type: EventStatusChanged, Agent: info.Clone()})
	return nil
}

// List returns all agents matching the optional filter, sorted by ID.
func (d *MemoryDirectory) List(filter *Filter) ([]AgentInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, ErrClosed
	}

	var out []AgentInfo
	for _, info := range d.agents {
		if filter.Matches(info) {
			out = append(out, info.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Watch returns a channel of directory events.
func (d *MemoryDirectory) Watch() (<-chan Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}

	ch := make(chan Event, 32)
	d.watchers = append(d.watchers, ch)
	return ch, nil
}

// Close shuts down the directory and closes all watcher channels.
func (d *MemoryDirectory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	for _, ch := range d.watchers {
		close(ch)
	}
	d.watchers = nil
	return nil
}

// notifyWatchers sends an event to all watchers. Caller holds d.mu.
func (d *MemoryDirectory) notifyWatchers(ev Event) {
	for _, ch := range d.watchers {
		select {
		case ch <- ev:
		default:
			// Watcher is slow, drop
		}
	}
}

// ErrInvalidStatus reports an unknown status value.
func ErrInvalidStatus(s Status) error {
	return &invalidStatusError{status: s}
}

type invalidStatusError struct {
	status Status
}

func (e *invalidStatusError) Error() string {
	return "invalid agent status: " + string(e.status)
}
