package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidation(t *testing.T) {
	err := Validation("agent_type is required")
	assert.Equal(t, CodeValidation, CodeOf(err))
	assert.False(t, IsRetryable(err))
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "agent_type is required")
}

func TestWrapPreservesCodeAndRetryability(t *testing.T) {
	inner := MemoryStore(errors.New("disk full"))
	wrapped := Wrap(inner, "storing specifications")

	assert.Equal(t, CodeMemoryStore, CodeOf(wrapped))
	assert.True(t, IsRetryable(wrapped))
	assert.Contains(t, wrapped.Error(), "storing specifications")
	assert.Contains(t, wrapped.Error(), "disk full")

	var appErr *AppError
	assert.True(t, errors.As(wrapped, &appErr))
	assert.ErrorIs(t, wrapped, inner)
}

func TestWrapPlainError(t *testing.T) {
	cause := errors.New("boom")
	wrapped := Wrap(cause, "launching %s", "test-writer")

	assert.Equal(t, CodeUnexpected, CodeOf(wrapped))
	assert.False(t, IsRetryable(wrapped))
	assert.ErrorIs(t, wrapped, cause)
}

func TestWrapThroughFmtChain(t *testing.T) {
	inner := CircuitBreakerOpen("memory-retrieve")
	chained := fmt.Errorf("retrieve failed: %w", inner)

	assert.Equal(t, CodeCircuitBreakerOpen, CodeOf(chained))
	assert.True(t, IsRetryable(chained))
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, CodeUnexpected, CodeOf(errors.New("boom")))
	assert.False(t, IsRetryable(errors.New("boom")))
	assert.False(t, IsValidation(nil))
}

func TestTransient(t *testing.T) {
	err := Transient("database unavailable", errors.New("connection refused"))
	assert.Equal(t, CodeUnexpected, CodeOf(err))
	assert.True(t, IsRetryable(err))
}
