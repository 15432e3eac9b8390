package app

import (
	"errors"
	"fmt"
)

// Domain error sentinels for the run execution layer.
// These enable consistent HTTP status mapping via errors.Is().

var (
	// ErrNotFound indicates the requested thread, run, or graph does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates invalid input from the caller.
	ErrValidation = errors.New("validation error")

	// ErrConflict indicates a state conflict (e.g. a second run on a busy
	// thread under the reject strategy).
	ErrConflict = errors.New("conflict")

	// ErrExecutionFailure indicates the graph engine failed while executing
	// a run.
	ErrExecutionFailure = errors.New("execution failure")
)

// NotFoundError wraps ErrNotFound with a descriptive message.
func NotFoundError(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrNotFound)
}

// NotFoundErrorf wraps ErrNotFound with a formatted message.
func NotFoundErrorf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// ValidationError wraps ErrValidation with a descriptive message.
func ValidationError(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrValidation)
}

// ConflictError wraps ErrConflict with a descriptive message.
func ConflictError(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrConflict)
}

// ConflictErrorf wraps ErrConflict with a formatted message.
func ConflictErrorf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrConflict)
}

// ExecutionError wraps an engine failure so callers can map it distinctly
// from infrastructure errors.
func ExecutionError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrExecutionFailure, err)
}
