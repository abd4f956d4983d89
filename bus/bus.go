package bus

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Common errors.
var (
	ErrClosed            = errors.New("bus closed")
	ErrTimeout           = errors.New("request timeout")
	ErrPipelineNotFound  = errors.New("pipeline not found")
	ErrPipelineNotActive = errors.New("pipeline not active")
	ErrNotParticipant    = errors.New("sender is not a participant")
	ErrUnknownRecipient  = errors.New("recipient is not a participant")
	ErrInvalidAgent      = errors.New("invalid agent ID")
	ErrInvalidType       = errors.New("invalid message type")
)

// Wildcard addresses every participant except the sender.
const Wildcard = "*"

// MessageType classifies a message.
type MessageType string

const (
	TypeRequest      MessageType = "request"
	TypeResponse     MessageType = "response"
	TypeNotification MessageType = "notification"
	TypeBroadcast    MessageType = "broadcast"
)

// Valid returns true if the type is a known value.
func (t MessageType) Valid() bool {
	switch t {
	case TypeRequest, TypeResponse, TypeNotification, TypeBroadcast:
		return true
	default:
		return false
	}
}

// Metadata keys used by the request/response protocol.
const (
	MetaResponseID      = "responseId"
	MetaExpectsResponse = "expectsResponse"
	MetaInResponseTo    = "inResponseTo"
)

// Message is an immutable routed message. The bus assigns ID and
// Timestamp at send time; receivers must not mutate a delivered message.
type Message struct {
	ID         string            `json:"id"`
	PipelineID string            `json:"pipeline_id"`
	From       string            `json:"from"`
	To         []string          `json:"to"`
	Type       MessageType       `json:"type"`
	Subject    string            `json:"subject"`
	Content    json.RawMessage   `json:"content,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// ExpectsResponse reports whether the message asked for a response.
func (m *Message) ExpectsResponse() bool {
	return m.Metadata[MetaExpectsResponse] == "true"
}

// Draft is the caller-supplied part of a message.
type Draft struct {
	From     string
	To       []string // recipient IDs, or []string{Wildcard}
	Type     MessageType
	Subject  string
	Content  json.RawMessage
	Metadata map[string]string
}

// Subscription represents an active subscription.
type Subscription interface {
	// Messages returns the channel for incoming messages.
	// Channel is closed when the subscription ends.
	Messages() <-chan *Message

	// Unsubscribe cancels the subscription.
	Unsubscribe() error
}

// MessageBus routes messages between pipeline participants.
type MessageBus interface {
	// CreatePipeline allocates a pipeline and wires every participant
	// into its delivery index.
	CreatePipeline(name, description string, participants, messageTypes []string) (*Pipeline, error)

	// Pipeline returns a snapshot of a pipeline.
	Pipeline(id string) (*Pipeline, error)

	// SendMessage validates and delivers a message. Validation failures
	// return a nil message and a sentinel error; nothing is delivered.
	SendMessage(pipelineID string, draft Draft) (*Message, error)

	// SubscribeToAgent subscribes to every message addressed to an agent.
	SubscribeToAgent(agentID string) (Subscription, error)

	// SubscribeToPipeline subscribes to every delivery involving a
	// participant of a pipeline.
	SubscribeToPipeline(pipelineID string) (Subscription, error)

	// AddParticipant adds an agent to a pipeline.
	AddParticipant(pipelineID, agentID string) error

	// RemoveParticipant removes an agent from a pipeline. Messages
	// already delivered are unaffected.
	RemoveParticipant(pipelineID, agentID string) error

	// PausePipeline suspends delivery; sends fail until resumed.
	PausePipeline(pipelineID string) error

	// ResumePipeline reactivates a paused pipeline.
	ResumePipeline(pipelineID string) error

	// ClosePipeline closes a pipeline and drops its pipeline-level
	// subscriptions. Agent subscriptions are untouched. Returns false
	// if the pipeline is unknown or already closed.
	ClosePipeline(pipelineID string) bool

	// Request sends a request-typed message and waits for the
	// correlated response, the timeout, or ctx cancellation.
	Request(ctx context.Context, pipelineID, from, to, subject string, content json.RawMessage, timeout time.Duration) (*Message, error)

	// Respond sends a response correlated to an earlier request.
	// Returns (nil, nil) if the original did not expect a response.
	Respond(pipelineID string, original *Message, content json.RawMessage) (*Message, error)

	// Stats returns a copy of a pipeline's delivery statistics.
	Stats(pipelineID string) (*PipelineStats, error)

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// Config holds bus configuration.
type Config struct {
	// BufferSize for subscription channels.
	// Default: 256
	BufferSize int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize: 256,
	}
}
