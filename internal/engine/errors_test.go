package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuntimeError_Error(t *testing.T) {
	err := NewUnknownStreamError("run-1", "radar")
	assert.Equal(t, "UNKNOWN_STREAM: stream not in topology (stream=radar)", err.Error())

	err = NewStoppedError("run-1")
	assert.Equal(t, "ENGINE_STOPPED: engine is stopped", err.Error())

	cause := errors.New("disk full")
	err = NewPersistError("run-1", "arrival abc", cause)
	assert.Equal(t, "PERSIST_FAILED: write arrival abc: disk full", err.Error())
}

func TestRuntimeError_Predicates(t *testing.T) {
	cause := errors.New("disk full")
	wrapped := fmt.Errorf("process: %w", NewPersistError("r", "drop x", cause))

	assert.True(t, IsPersistError(wrapped))
	assert.False(t, IsUnknownStreamError(wrapped))
	assert.False(t, IsStoppedError(wrapped))
	assert.ErrorIs(t, wrapped, cause, "cause stays reachable through Unwrap")

	assert.True(t, IsUnknownStreamError(NewUnknownStreamError("r", "s")))
	assert.True(t, IsStoppedError(NewStoppedError("r")))
	assert.False(t, IsStoppedError(errors.New("plain")))
	assert.False(t, IsStoppedError(nil))
}
