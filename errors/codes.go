package errors

// ErrorCategory classifies errors by their retry semantics.
type ErrorCategory string

const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	// Examples: request timeout, agent mid-reconnect.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: unknown agent type, malformed task.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryInternal indicates unexpected errors or recovered panics.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTransient
}

// ErrorCode identifies specific failure types within categories.
type ErrorCode string

const (
	// Transient errors
	ErrCodeTimeout     ErrorCode = "TIMEOUT"     // Request or reconnect timed out
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE" // Agent not currently serving
	ErrCodeCanceled    ErrorCode = "CANCELED"    // Caller canceled the operation

	// Permanent errors
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"     // Agent or pipeline does not exist
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT" // Malformed task or message
	ErrCodeAgentOffline ErrorCode = "AGENT_OFFLINE" // Agent escalated to terminal offline
	ErrCodeTaskFailed   ErrorCode = "TASK_FAILED"   // Executor reported failure

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL" // Unexpected internal error
	ErrCodePanic    ErrorCode = "PANIC"    // Recovered from executor panic
)

// codeCategories maps each code to its category.
var codeCategories = map[ErrorCode]ErrorCategory{
	ErrCodeTimeout:      CategoryTransient,
	ErrCodeUnavailable:  CategoryTransient,
	ErrCodeCanceled:     CategoryTransient,
	ErrCodeNotFound:     CategoryPermanent,
	ErrCodeInvalidInput: CategoryPermanent,
	ErrCodeAgentOffline: CategoryPermanent,
	ErrCodeTaskFailed:   CategoryPermanent,
	ErrCodeInternal:     CategoryInternal,
	ErrCodePanic:        CategoryInternal,
}

// CategoryOf returns the category for a code.
// Unknown codes default to CategoryInternal.
func CategoryOf(code ErrorCode) ErrorCategory {
	if cat, ok := codeCategories[code]; ok {
		return cat
	}
	return CategoryInternal
}
