// Package errors provides structured errors for swarm coordination.
//
// Every failure surfaced by the coordinator carries an ErrorCode so
// callers can decide whether to retry without string matching. Errors
// serialize to JSON for inclusion in interaction results.
package errors

import (
	"encoding/json"
	"fmt"
	"time"
)

// Error is a structured coordination error.
type Error struct {
	code          ErrorCode
	message       string
	cause         error
	agentType     string
	interactionID string
	timestamp     time.Time
}

var (
	_ error            = (*Error)(nil)
	_ json.Marshaler   = (*Error)(nil)
	_ json.Unmarshaler = (*Error)(nil)
)

// Option configures an Error at construction.
type Option func(*Error)

// WithCause attaches an underlying error.
func WithCause(cause error) Option {
	return func(e *Error) { e.cause = cause }
}

// WithAgent records the agent type the error relates to.
func WithAgent(agentType string) Option {
	return func(e *Error) { e.agentType = agentType }
}

// WithInteraction records the related interaction ID.
func WithInteraction(id string) Option {
	return func(e *Error) { e.interactionID = id }
}

// New creates a structured error.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates a structured error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Error returns the error message, including the cause if present.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Category returns the error category derived from the code.
func (e *Error) Category() ErrorCategory {
	return CategoryOf(e.code)
}

// Retryable reports whether the operation may succeed on retry.
func (e *Error) Retryable() bool {
	return e.Category().IsRetryable()
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// AgentType returns the related agent type, if set.
func (e *Error) AgentType() string {
	return e.agentType
}

// InteractionID returns the related interaction ID, if set.
func (e *Error) InteractionID() string {
	return e.interactionID
}

// Timestamp returns when the error was created.
func (e *Error) Timestamp() time.Time {
	return e.timestamp
}

// errorJSON is the wire representation.
type errorJSON struct {
	Code          ErrorCode `json:"code"`
	Category      string    `json:"category"`
	Message       string    `json:"message"`
	Cause         string    `json:"cause,omitempty"`
	AgentType     string    `json:"agent_type,omitempty"`
	InteractionID string    `json:"interaction_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Retryable     bool      `json:"retryable"`
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	out := errorJSON{
		Code:          e.code,
		Category:      e.Category().String(),
		Message:       e.message,
		AgentType:     e.agentType,
		InteractionID: e.interactionID,
		Timestamp:     e.timestamp,
		Retryable:     e.Retryable(),
	}
	if e.cause != nil {
		out.Cause = e.cause.Error()
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler. The cause is restored as an
// opaque error value; the original chain cannot cross serialization.
func (e *Error) UnmarshalJSON(data []byte) error {
	var in errorJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	e.code = in.Code
	e.message = in.Message
	e.agentType = in.AgentType
	e.interactionID = in.InteractionID
	e.timestamp = in.Timestamp
	if in.Cause != "" {
		e.cause = fmt.Errorf("%s", in.Cause)
	}
	return nil
}
