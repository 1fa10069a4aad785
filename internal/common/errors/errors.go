// Package errors defines the application error taxonomy shared across the
// orchestrator. Every error that crosses an RPC or service boundary is an
// AppError with a stable code and a retryability flag.
package errors

import (
	"errors"
	"fmt"
)

// Error codes carried over the RPC surface.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeMemoryStore        = "MEMORY_STORE_ERROR"
	CodeMemoryRetrieve     = "MEMORY_RETRIEVE_ERROR"
	CodeGitRepositoryInval = "GIT_REPOSITORY_INVALID"
	CodeCircuitBreakerOpen = "CIRCUIT_BREAKER_OPEN"
	CodeToolExecution      = "TOOL_EXECUTION_ERROR"
	CodeUnexpected         = "UNEXPECTED_ERROR"
)

// AppError is a structured application error with a stable code,
// a human-readable message, a retryability flag and an optional cause.
type AppError struct {
	Code      string
	Message   string
	Retryable bool
	Err       error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Validation creates a non-retryable caller error.
func Validation(format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: fmt.Sprintf(format, args...),
	}
}

// MemoryStore wraps a failure while persisting a memory record.
func MemoryStore(err error) *AppError {
	return &AppError{
		Code:      CodeMemoryStore,
		Message:   "failed to store memory",
		Retryable: true,
		Err:       err,
	}
}

// MemoryRetrieve wraps a failure while querying memory records.
func MemoryRetrieve(err error) *AppError {
	return &AppError{
		Code:      CodeMemoryRetrieve,
		Message:   "failed to retrieve memories",
		Retryable: true,
		Err:       err,
	}
}

// GitRepositoryInvalid signals a missing or unusable git repository.
func GitRepositoryInvalid(path string, err error) *AppError {
	return &AppError{
		Code:    CodeGitRepositoryInval,
		Message: fmt.Sprintf("not a valid git repository: %s", path),
		Err:     err,
	}
}

// CircuitBreakerOpen signals that a protected dependency is currently
// short-circuited. Retryable: the breaker will close again.
func CircuitBreakerOpen(name string) *AppError {
	return &AppError{
		Code:      CodeCircuitBreakerOpen,
		Message:   fmt.Sprintf("circuit breaker open: %s", name),
		Retryable: true,
	}
}

// ToolExecution wraps a failure inside an RPC tool handler.
func ToolExecution(tool string, err error) *AppError {
	return &AppError{
		Code:    CodeToolExecution,
		Message: fmt.Sprintf("tool %s failed", tool),
		Err:     err,
	}
}

// Unexpected wraps an error that escaped every specific handler.
func Unexpected(err error) *AppError {
	return &AppError{
		Code:    CodeUnexpected,
		Message: "unexpected internal error",
		Err:     err,
	}
}

// Transient marks an arbitrary infrastructure failure as retryable without
// assigning it a more specific code.
func Transient(message string, err error) *AppError {
	return &AppError{
		Code:      CodeUnexpected,
		Message:   message,
		Retryable: true,
		Err:       err,
	}
}

// Wrap attaches a message to err, preserving its code and retryability when
// err is already an AppError.
func Wrap(err error, format string, args ...interface{}) *AppError {
	msg := fmt.Sprintf(format, args...)
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:      appErr.Code,
			Message:   msg + ": " + appErr.Message,
			Retryable: appErr.Retryable,
			Err:       err,
		}
	}
	return &AppError{
		Code:    CodeUnexpected,
		Message: msg,
		Err:     err,
	}
}

// CodeOf extracts the error code, defaulting to UNEXPECTED_ERROR.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnexpected
}

// IsRetryable reports whether the caller may retry the failed operation.
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// IsValidation reports whether err is a caller-input error.
func IsValidation(err error) bool {
	return CodeOf(err) == CodeValidation
}
