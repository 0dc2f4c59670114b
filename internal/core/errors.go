package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // Invalid input or configuration
	ErrCatExecution  ErrorCategory = "execution"  // Runtime failure inside a step
	ErrCatTimeout    ErrorCategory = "timeout"    // Actuator operation timed out
	ErrCatSession    ErrorCategory = "session"    // Shared driver session unusable
	ErrCatState      ErrorCategory = "state"      // Illegal state transition
	ErrCatNotFound   ErrorCategory = "not_found"  // Resource not found
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
)

// DomainError is a structured error from the orchestration layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches on category and code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{Category: ErrCatValidation, Code: code, Message: message}
}

// ErrExecution creates a retryable execution error.
func ErrExecution(code, message string) *DomainError {
	return &DomainError{Category: ErrCatExecution, Code: code, Message: message, Retryable: true}
}

// ErrState creates a state transition error.
func ErrState(code, message string) *DomainError {
	return &DomainError{Category: ErrCatState, Code: code, Message: message}
}

// ErrNotFound creates a not-found error.
func ErrNotFound(code, message string) *DomainError {
	return &DomainError{Category: ErrCatNotFound, Code: code, Message: message}
}

// ErrSessionClosed marks the shared driver session as unusable. This is the
// one error class that crosses job boundaries: the scheduler reacts to it
// with StopAll, since every job shares the session.
func ErrSessionClosed(message string) *DomainError {
	return &DomainError{Category: ErrCatSession, Code: "SESSION_CLOSED", Message: message}
}

// ErrStepSkipped is the non-fatal skip signal a host step may return. The
// interpreter records it and continues with the next step.
var ErrStepSkipped = errors.New("step skipped")

// sessionFatalMarkers are message fragments the driver emits when the
// browser or session has gone away underneath us.
var sessionFatalMarkers = []string{
	"has been closed",
	"session closed",
	"closed by user",
	"target closed",
}

// IsSessionFatal reports whether err indicates the shared session is dead.
func IsSessionFatal(err error) bool {
	if err == nil {
		return false
	}
	var de *DomainError
	if errors.As(err, &de) && de.Category == ErrCatSession {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range sessionFatalMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}
