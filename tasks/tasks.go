package tasks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/swarmlink/swarmlink/errors"
	"github.com/swarmlink/swarmlink/heartbeat"
	"github.com/swarmlink/swarmlink/logging"
)

// Priority orders tasks within an agent's queue.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid returns true if the priority is a known value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}

// Weight returns the sort weight; higher drains first.
func (p Priority) Weight() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Task is a unit of work for an agent. Type selects the operation; the
// payload is opaque to the coordinator and interpreted by the executor.
type Task struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate checks the task for required fields.
func (t Task) Validate() error {
	if t.Type == "" {
		return errors.New(errors.ErrCodeInvalidInput, "task type is required")
	}
	return nil
}

// QueueItem is a pending task on an agent's queue.
type QueueItem struct {
	AgentType  string
	Task       Task
	Priority   Priority
	EnqueuedAt time.Time

	// seq breaks ties between items enqueued in the same instant.
	seq uint64
}

// InteractionResult is the outcome of one agent interaction. Failures
// are values, never panics.
type InteractionResult struct {
	Success       bool            `json:"success"`
	Data          json.RawMessage `json:"data,omitempty"`
	Error         *errors.Error   `json:"error,omitempty"`
	AgentType     string          `json:"agent_type"`
	InteractionID string          `json:"interaction_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Duration      time.Duration   `json:"duration"`
}

// InteractionRecord is the coordinator's timing log entry for one
// interaction.
type InteractionRecord struct {
	ID          string
	AgentType   string
	TaskType    string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Success     bool
	Error       string
}

// Executor runs the business logic for a task. It is an external
// collaborator: it may return an error or panic, and the coordinator
// converts both into failed results.
type Executor interface {
	Run(ctx context.Context, agentType string, task Task, correlationID string) (json.RawMessage, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, agentType string, task Task, correlationID string) (json.RawMessage, error)

// Run implements Executor.
func (f ExecutorFunc) Run(ctx context.Context, agentType string, task Task, correlationID string) (json.RawMessage, error) {
	return f(ctx, agentType, task, correlationID)
}

// Health is the liveness view the coordinator needs. Satisfied by
// *heartbeat.Monitor.
type Health interface {
	GetAgentHealth(agentType string) (heartbeat.AgentHealth, bool)
	RecordHeartbeat(agentType string) error
}

// Recorder archives completed interactions. Satisfied by
// *history.Archive. Optional.
type Recorder interface {
	RecordInteraction(id, agentType, taskType string, success bool, duration time.Duration, errMsg string) error
}

// Config configures a Coordinator.
type Config struct {
	// Executor runs task business logic. Required.
	Executor Executor

	// Health is the liveness view consulted before dispatch. Required.
	Health Health

	// Recorder archives completed interactions. Optional.
	Recorder Recorder

	// Logger for coordinator events. Optional.
	Logger *logging.Logger
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Executor == nil {
		return errors.New(errors.ErrCodeInvalidInput, "executor is required")
	}
	if c.Health == nil {
		return errors.New(errors.ErrCodeInvalidInput, "health monitor is required")
	}
	return nil
}
