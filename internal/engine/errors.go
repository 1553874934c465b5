package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/namegraph/internal/entity"
	"github.com/roach88/namegraph/internal/heal"
)

// ProcessError reports an event the engine could not apply. None of the
// event's writes were committed.
//
// The engine never retries. Redelivering the event after the cause is
// fixed is safe because every write is an upsert.
type ProcessError struct {
	// Code identifies the error category.
	Code ErrorCode

	// EventID identifies the failed event.
	EventID string

	// Event is the event name, e.g. "NewOwner".
	Event string

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes processing errors.
type ErrorCode string

const (
	// ErrCodeDecodeFailed indicates missing or malformed event arguments.
	ErrCodeDecodeFailed ErrorCode = "DECODE_FAILED"

	// ErrCodeInvariantViolation indicates an update that the stored state
	// says cannot happen, e.g. renewing a registration that does not exist.
	ErrCodeInvariantViolation ErrorCode = "INVARIANT_VIOLATION"

	// ErrCodeHealingFailed indicates the label healing service failed.
	ErrCodeHealingFailed ErrorCode = "HEALING_FAILED"

	// ErrCodeStoreFailed indicates a storage error.
	ErrCodeStoreFailed ErrorCode = "STORE_FAILED"
)

// Error implements the error interface.
func (e *ProcessError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", e.Code, e.Event, e.EventID, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// newProcessError classifies err.
func newProcessError(eventID, event string, err error) *ProcessError {
	code := ErrCodeStoreFailed
	switch {
	case errors.Is(err, ErrDecode):
		code = ErrCodeDecodeFailed
	case errors.Is(err, entity.ErrInvariant):
		code = ErrCodeInvariantViolation
	case errors.Is(err, heal.ErrHealing):
		code = ErrCodeHealingFailed
	}
	return &ProcessError{Code: code, EventID: eventID, Event: event, Err: err}
}

// CodeOf returns the code of a ProcessError anywhere in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var pe *ProcessError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsInvariantError reports whether err is an invariant violation.
func IsInvariantError(err error) bool {
	return CodeOf(err) == ErrCodeInvariantViolation
}

// IsHealingError reports whether err is a healing failure.
func IsHealingError(err error) bool {
	return CodeOf(err) == ErrCodeHealingFailed
}
