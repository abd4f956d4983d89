package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swarmlink/swarmlink/errors"
	"github.com/swarmlink/swarmlink/logging"
	"github.com/swarmlink/swarmlink/registry"
)

// Coordinator owns the per-agent task queues and the interaction log.
// All cross-component communication happens through the Health accessor
// methods; no internal state is shared by reference.
type Coordinator struct {
	executor Executor
	health   Health
	recorder Recorder
	logger   *logging.Logger

	mu           sync.Mutex
	queues       map[string][]*QueueItem
	seq          uint64
	interactions map[string]*InteractionRecord
}

// NewCoordinator creates a task coordinator.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Coordinator{
		executor:     cfg.Executor,
		health:       cfg.Health,
		recorder:     cfg.Recorder,
		logger:       logger.WithComponent("tasks"),
		queues:       make(map[string][]*QueueItem),
		interactions: make(map[string]*InteractionRecord),
	}, nil
}

// Interact dispatches a task to an agent. The agent must be busy
// (connected and serving) in the health view; otherwise the call fails
// fast without queueing anything. Executor errors and panics come back
// as failed results.
func (c *Coordinator) Interact(ctx context.Context, agentType string, task Task, priority Priority) InteractionResult {
	if !priority.Valid() {
		priority = PriorityMedium
	}

	if err := task.Validate(); err != nil {
		return c.failure(agentType, "", 0, errors.Wrap(err, "invalid task", errors.WithAgent(agentType)))
	}

	rec, ok := c.health.GetAgentHealth(agentType)
	if !ok {
		return c.failure(agentType, "", 0,
			errors.Newf(errors.ErrCodeNotFound, "unknown agent type %q", agentType))
	}
	if rec.Status != registry.StatusBusy {
		code := errors.ErrCodeUnavailable
		if rec.Status == registry.StatusOffline {
			code = errors.ErrCodeAgentOffline
		}
		return c.failure(agentType, "", 0,
			errors.New(code, fmt.Sprintf("agent %s unavailable (status %s)", agentType, rec.Status),
				errors.WithAgent(agentType)))
	}

	c.enqueue(agentType, task, priority)

	interactionID := uuid.NewString()
	started := time.Now()
	c.beginInteraction(interactionID, agentType, task.Type, started)

	data, execErr := c.runExecutor(ctx, agentType, task, interactionID)
	duration := time.Since(started)

	// The agent answered, successfully or not; that is a liveness signal.
	if err := c.health.RecordHeartbeat(agentType); err != nil {
		c.logger.Warn("heartbeat_report_failed", map[string]interface{}{
			"agent": agentType,
			"error": err.Error(),
		})
	}

	c.finishInteraction(interactionID, duration, execErr)
	c.logger.InteractionComplete(interactionID, agentType, duration, execErr)

	if execErr != nil {
		code := errors.CodeOf(execErr)
		if code == errors.ErrCodeInternal {
			code = errors.ErrCodeTaskFailed
		}
		return c.failure(agentType, interactionID, duration,
			errors.WrapWithCode(execErr, code, "task execution failed",
				errors.WithAgent(agentType), errors.WithInteraction(interactionID)))
	}

	return InteractionResult{
		Success:       true,
		Data:          data,
		AgentType:     agentType,
		InteractionID: interactionID,
		Timestamp:     time.Now(),
		Duration:      duration,
	}
}

// runExecutor invokes the external executor, converting a panic into an
// error.
func (c *Coordinator) runExecutor(ctx context.Context, agentType string, task Task, interactionID string) (data json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			data = nil
			err = errors.Newf(errors.ErrCodePanic, "executor panicked: %v", r)
		}
	}()
	return c.executor.Run(ctx, agentType, task, interactionID)
}

// Broadcast fans a task out to every target agent concurrently. Each
// target is an isolated failure domain: one failure does not cancel or
// affect the others.
func (c *Coordinator) Broadcast(ctx context.Context, task Task, targets []string, priority Priority) map[string]InteractionResult {
	results := make(map[string]InteractionResult, len(targets))

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, target := range targets {
		wg.Add(1)
		go func(agentType string) {
			defer wg.Done()
			res := c.Interact(ctx, agentType, task, priority)
			mu.Lock()
			results[agentType] = res
			mu.Unlock()
		}(target)
	}
	wg.Wait()

	return results
}

// GetNextTask pops the head of an agent's queue.
func (c *Coordinator) GetNextTask(agentType string) (*QueueItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q := c.queues[agentType]
	if len(q) == 0 {
		return nil, false
	}
	item := q[0]
	c.queues[agentType] = q[1:]
	return item, true
}

// Workload returns the current queue length for an agent.
func (c *Coordinator) Workload(agentType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queues[agentType])
}

// HasPendingTasks reports whether any agent queue is non-empty.
func (c *Coordinator) HasPendingTasks() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, q := range c.queues {
		if len(q) > 0 {
			return true
		}
	}
	return false
}

// ClearQueues empties every queue. Administrative operation.
func (c *Coordinator) ClearQueues() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queues = make(map[string][]*QueueItem)
}

// Interactions returns a copy of the interaction log.
func (c *Coordinator) Interactions() map[string]InteractionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]InteractionRecord, len(c.interactions))
	for id, rec := range c.interactions {
		out[id] = *rec
	}
	return out
}

// enqueue inserts an item and re-sorts the agent's queue: priority
// weight descending, enqueue order ascending within a band.
func (c *Coordinator) enqueue(agentType string, task Task, priority Priority) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	item := &QueueItem{
		AgentType:  agentType,
		Task:       task,
		Priority:   priority,
		EnqueuedAt: time.Now(),
		seq:        c.seq,
	}

	q := append(c.queues[agentType], item)
	sort.Slice(q, func(i, j int) bool {
		if q[i].Priority.Weight() != q[j].Priority.Weight() {
			return q[i].Priority.Weight() > q[j].Priority.Weight()
		}
		return q[i].seq < q[j].seq
	})
	c.queues[agentType] = q
}

// beginInteraction records the start of an interaction.
func (c *Coordinator) beginInteraction(id, agentType, taskType string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interactions[id] = &InteractionRecord{
		ID:        id,
		AgentType: agentType,
		TaskType:  taskType,
		StartedAt: at,
	}
}

// finishInteraction completes the timing record and archives it.
func (c *Coordinator) finishInteraction(id string, duration time.Duration, execErr error) {
	c.mu.Lock()
	rec, ok := c.interactions[id]
	if ok {
		rec.CompletedAt = rec.StartedAt.Add(duration)
		rec.Duration = duration
		rec.Success = execErr == nil
		if execErr != nil {
			rec.Error = execErr.Error()
		}
	}
	var snapshot InteractionRecord
	if ok {
		snapshot = *rec
	}
	c.mu.Unlock()

	if ok && c.recorder != nil {
		if err := c.recorder.RecordInteraction(snapshot.ID, snapshot.AgentType, snapshot.TaskType,
			snapshot.Success, snapshot.Duration, snapshot.Error); err != nil {
			c.logger.Warn("archive_failed", map[string]interface{}{
				"interaction": snapshot.ID,
				"error":       err.Error(),
			})
		}
	}
}

// failure builds a failed InteractionResult and logs it.
func (c *Coordinator) failure(agentType, interactionID string, duration time.Duration, err *errors.Error) InteractionResult {
	c.logger.Debug("interaction_rejected", map[string]interface{}{
		"agent": agentType,
		"error": err.Error(),
	})
	return InteractionResult{
		Success:       false,
		Error:         err,
		AgentType:     agentType,
		InteractionID: interactionID,
		Timestamp:     time.Now(),
		Duration:      duration,
	}
}
