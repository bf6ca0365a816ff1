package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the referenced record does not exist in the expected store scope.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidState indicates an operation attempted from a status that does not permit it.
	ErrInvalidState = errors.New("operation not allowed in current state")
	// ErrConflict indicates a concurrent mutation invalidated the caller's assumed state.
	ErrConflict = errors.New("conflicting concurrent update")
	// ErrInsufficientQuantity indicates a withdrawal exceeding the remaining balance.
	ErrInsufficientQuantity = errors.New("insufficient remaining quantity")
)

// Validationf wraps ErrValidation with detail the UI can show.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// InvalidStatef wraps ErrInvalidState with the offending status.
func InvalidStatef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// Conflictf wraps ErrConflict with detail.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// NotFoundf wraps ErrNotFound with the missing reference.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// InsufficientQuantityError carries the limiting value so the caller can explain the fix.
type InsufficientQuantityError struct {
	Requested float64
	Remaining float64
}

func (e *InsufficientQuantityError) Error() string {
	return fmt.Sprintf("requested %.2f exceeds remaining %.2f", e.Requested, e.Remaining)
}

func (e *InsufficientQuantityError) Unwrap() error { return ErrInsufficientQuantity }

// AuditWarning marks a mutation that committed but whose audit append failed.
// It is surfaced to the caller as a warning, never as a hard failure.
type AuditWarning struct {
	Err error
}

func (w *AuditWarning) Error() string { return "audit write failed: " + w.Err.Error() }

func (w *AuditWarning) Unwrap() error { return w.Err }
