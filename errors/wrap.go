package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context while preserving the chain.
// If err is nil, Wrap returns nil. If err is already an *Error, the code
// and identity fields carry through. Context cancellation and deadline
// errors map to their dedicated codes.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var coordErr *Error
	if errors.As(err, &coordErr) {
		wrapped := New(coordErr.code, message, WithCause(err))
		wrapped.agentType = coordErr.agentType
		wrapped.interactionID = coordErr.interactionID
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeTimeout, message, append(opts, WithCause(err))...)
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrCodeCanceled, message, append(opts, WithCause(err))...)
	}

	return New(ErrCodeInternal, message, append(opts, WithCause(err))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps an error under a specific code, overriding any code
// carried by the cause.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	return New(code, message, append(opts, WithCause(err))...)
}

// CodeOf extracts the ErrorCode from an error chain.
// Returns ErrCodeInternal for plain errors and "" for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var coordErr *Error
	if errors.As(err, &coordErr) {
		return coordErr.code
	}
	return ErrCodeInternal
}
