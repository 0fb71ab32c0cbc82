package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents an error detected while the engine processes an
// arrival.
//
// Runtime errors include:
//   - Unknown stream: the arrival names a stream the topology lacks
//   - Engine stopped: the arrival was submitted after Stop
//   - Persist failure: the run log could not be written
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// RunID identifies the affected run.
	RunID string

	// Stream names the stream involved, if any.
	Stream string

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeUnknownStream indicates the arrival's stream is not in the topology.
	ErrCodeUnknownStream RuntimeErrorCode = "UNKNOWN_STREAM"

	// ErrCodeEngineStopped indicates the engine no longer accepts arrivals.
	ErrCodeEngineStopped RuntimeErrorCode = "ENGINE_STOPPED"

	// ErrCodePersist indicates a run log write failed.
	ErrCodePersist RuntimeErrorCode = "PERSIST_FAILED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Stream != "" {
		msg += fmt.Sprintf(" (stream=%s)", e.Stream)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// IsUnknownStreamError reports whether err is an unknown stream error.
// Uses errors.As to handle wrapped errors.
func IsUnknownStreamError(err error) bool {
	return hasCode(err, ErrCodeUnknownStream)
}

// IsStoppedError reports whether err is an engine stopped error.
func IsStoppedError(err error) bool {
	return hasCode(err, ErrCodeEngineStopped)
}

// IsPersistError reports whether err is a run log write failure.
func IsPersistError(err error) bool {
	return hasCode(err, ErrCodePersist)
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// NewUnknownStreamError creates a RuntimeError for an unresolvable stream.
func NewUnknownStreamError(runID, stream string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeUnknownStream,
		Message: "stream not in topology",
		RunID:   runID,
		Stream:  stream,
	}
}

// NewStoppedError creates a RuntimeError for a submission after Stop.
func NewStoppedError(runID string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeEngineStopped,
		Message: "engine is stopped",
		RunID:   runID,
	}
}

// NewPersistError wraps a store failure.
func NewPersistError(runID, what string, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodePersist,
		Message: "write " + what,
		RunID:   runID,
		Err:     err,
	}
}
