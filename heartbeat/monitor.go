package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/swarmlink/swarmlink/logging"
	"github.com/swarmlink/swarmlink/registry"
)

// Monitor is the heartbeat-driven failure detector.
type Monitor struct {
	directory   registry.Directory
	interval    time.Duration
	threshold   int
	maxAttempts int
	reconnect   ReconnectFunc
	logger      *logging.Logger

	mu     sync.RWMutex
	health map[string]*AgentHealth

	runMu  sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}

	now func() time.Time
}

// NewMonitor creates a monitor with one health record per agent type
// currently in the directory. Records are never deleted.
func NewMonitor(cfg Config) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.ReconnectThreshold <= 0 {
		cfg.ReconnectThreshold = def.ReconnectThreshold
	}
	if cfg.MaxReconnectAttempts == 0 {
		cfg.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	m := &Monitor{
		directory:   cfg.Directory,
		interval:    cfg.Interval,
		threshold:   cfg.ReconnectThreshold,
		maxAttempts: cfg.MaxReconnectAttempts,
		reconnect:   cfg.Reconnect,
		logger:      logger.WithComponent("heartbeat"),
		health:      make(map[string]*AgentHealth),
		now:         time.Now,
	}

	agents, err := cfg.Directory.List(nil)
	if err != nil {
		return nil, err
	}
	start := m.now()
	for _, info := range agents {
		m.health[info.ID] = &AgentHealth{
			AgentType: info.ID,
			LastPing:  start,
			Status:    info.Status,
		}
	}

	return m, nil
}

// RecordHeartbeat registers a liveness signal from an agent: the agent is
// connected and serving, and any reconnect budget already spent is
// forgiven.
func (m *Monitor) RecordHeartbeat(agentType string) error {
	m.mu.Lock()
	rec, ok := m.health[agentType]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownAgent
	}
	rec.LastPing = m.now()
	rec.Status = registry.StatusBusy
	rec.HeartbeatCount++
	rec.ReconnectAttempts = 0
	count := rec.HeartbeatCount
	m.mu.Unlock()

	if err := m.directory.SetStatus(agentType, registry.StatusBusy); err != nil {
		return err
	}

	m.logger.HeartbeatRecorded(agentType, count)
	return nil
}

// GetAgentHealth returns a copy of one agent's health record.
func (m *Monitor) GetAgentHealth(agentType string) (AgentHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.health[agentType]
	if !ok {
		return AgentHealth{}, false
	}
	return *rec, true
}

// GetAllAgentHealth returns a copy of every health record.
func (m *Monitor) GetAllAgentHealth() map[string]AgentHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]AgentHealth, len(m.health))
	for id, rec := range m.health {
		out[id] = *rec
	}
	return out
}

// StartMonitoring starts the periodic liveness check. Calling it again
// replaces the previous timer. The loop stops when ctx is canceled or
// StopMonitoring is called.
func (m *Monitor) StartMonitoring(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	m.stopLocked()

	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	m.stopCh = stopCh
	m.doneCh = doneCh

	go m.run(ctx, stopCh, doneCh)
}

// StopMonitoring stops the periodic check. Safe to call when not running.
func (m *Monitor) StopMonitoring() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	m.stopLocked()
}

// stopLocked stops any running loop. Caller holds m.runMu.
func (m *Monitor) stopLocked() {
	if m.stopCh == nil {
		return
	}
	close(m.stopCh)
	<-m.doneCh
	m.stopCh = nil
	m.doneCh = nil
}

// run drives the monitor tick.
func (m *Monitor) run(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckNow(ctx)
		}
	}
}

// CheckNow performs one liveness pass over every busy agent in the
// directory. Exposed so hosts and tests can drive ticks directly.
func (m *Monitor) CheckNow(ctx context.Context) {
	busy, err := m.directory.List(&registry.Filter{Status: registry.StatusBusy})
	if err != nil {
		m.logger.Error("directory_list_failed", map[string]interface{}{"error": err.Error()})
		return
	}

	silence := m.interval * time.Duration(m.threshold)
	for _, info := range busy {
		m.checkAgent(ctx, info.ID, silence)
	}
}

// checkAgent applies the reconnect protocol to one silent agent.
func (m *Monitor) checkAgent(ctx context.Context, agentType string, silence time.Duration) {
	m.mu.Lock()
	rec, ok := m.health[agentType]
	if !ok {
		// Agent registered after construction; adopt it.
		rec = &AgentHealth{AgentType: agentType, LastPing: m.now(), Status: registry.StatusBusy}
		m.health[agentType] = rec
		m.mu.Unlock()
		return
	}

	elapsed := m.now().Sub(rec.LastPing)
	if elapsed <= silence {
		m.mu.Unlock()
		return
	}

	if rec.ReconnectAttempts < m.maxAttempts && m.reconnect != nil {
		attempt := rec.ReconnectAttempts + 1
		// The agent is flipped to available before the attempt
		// resolves; new work can be assigned during the window.
		rec.Status = registry.StatusAvailable
		m.mu.Unlock()
		m.directory.SetStatus(agentType, registry.StatusAvailable)

		ok, err := m.attemptReconnect(ctx, agentType)

		m.mu.Lock()
		if ok && err == nil {
			rec.ReconnectAttempts = 0
			rec.LastPing = m.now()
			m.mu.Unlock()
			m.logger.ReconnectAttempt(agentType, attempt, true)
			return
		}
		rec.ReconnectAttempts++
		rec.Status = registry.StatusBusy
		m.mu.Unlock()
		// Back to busy so the next tick picks the agent up again;
		// the protocol runs until the budget is spent.
		m.directory.SetStatus(agentType, registry.StatusBusy)
		m.logger.ReconnectAttempt(agentType, attempt, false)
		return
	}

	attempts := rec.ReconnectAttempts
	rec.Status = registry.StatusOffline
	m.mu.Unlock()
	m.directory.SetStatus(agentType, registry.StatusOffline)
	m.logger.AgentOffline(agentType, attempts)
}

// attemptReconnect invokes the callback, converting a panic into a
// failed attempt.
func (m *Monitor) attemptReconnect(ctx context.Context, agentType string) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = ErrReconnectPanic
		}
	}()
	return m.reconnect(ctx, agentType)
}

// ResetReconnectAttempts clears the reconnect budget for an agent and
// marks it available again. This is the external reset required to bring
// an offline agent back under monitoring.
func (m *Monitor) ResetReconnectAttempts(agentType string) error {
	m.mu.Lock()
	rec, ok := m.health[agentType]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownAgent
	}
	rec.ReconnectAttempts = 0
	rec.Status = registry.StatusAvailable
	rec.LastPing = m.now()
	m.mu.Unlock()

	return m.directory.SetStatus(agentType, registry.StatusAvailable)
}
