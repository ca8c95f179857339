package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned for malformed price, size or tick alignment.
	// Raised before any funds are locked.
	ErrValidation = errors.New("validation error")

	// ErrInsufficientFunds is returned when a lock or withdrawal exceeds the free balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrSelfTrade is returned when the AbortTransaction self-trade policy triggers.
	ErrSelfTrade = errors.New("self trade")

	// ErrInsufficientEvents is returned by the crank when fewer events than
	// the requested minimum are consumable.
	ErrInsufficientEvents = errors.New("insufficient events")

	// ErrInvariantViolation signals an accounting bug. Never a user error.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrUnauthorized is returned when the signer may not act on a record.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when creating a record twice.
	ErrAlreadyExists = errors.New("already exists")

	// ErrQueueFull is returned when the event queue has no room for a unit's events.
	ErrQueueFull = errors.New("event queue full")

	// ErrAccountInUse is returned when exclusive access to a record could not be obtained.
	ErrAccountInUse = errors.New("account in use")

	// ErrHalted is returned once the sequencer has stopped on a fatal error.
	ErrHalted = errors.New("sequencer halted")
)

// FatalError defines errors that must halt processing rather than be
// reported back to the caller.
type FatalError interface {
	error
	IsFatal() bool
}

// IsFatal checks if an error is fatal
func IsFatal(err error) bool {
	var fe FatalError
	if errors.As(err, &fe) {
		return fe.IsFatal()
	}
	return false
}

// ValidationError describes which field was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error [" + e.Field + "]: " + e.Reason
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidationError creates a new ValidationError with a formatted reason.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// InsufficientFundsError reports the shortfall.
type InsufficientFundsError struct {
	Asset Asset
	Need  uint64
	Have  uint64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: %s need %d, free %d", e.Asset, e.Need, e.Have)
}

func (e *InsufficientFundsError) Is(target error) bool { return target == ErrInsufficientFunds }

// InvariantError is raised when an accounting check fails.
type InvariantError struct {
	Op     string
	Detail string
}

func (e *InvariantError) Error() string {
	return "invariant violation in " + e.Op + ": " + e.Detail
}

func (e *InvariantError) Is(target error) bool { return target == ErrInvariantViolation }

func (e *InvariantError) IsFatal() bool { return true }

// NewInvariantError creates a new InvariantError.
func NewInvariantError(op, format string, args ...any) *InvariantError {
	return &InvariantError{Op: op, Detail: fmt.Sprintf(format, args...)}
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsFatal() bool {
	return true
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Kind maps an error onto the externally visible error taxonomy.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "ValidationError"
	case errors.Is(err, ErrInsufficientFunds):
		return "InsufficientFunds"
	case errors.Is(err, ErrSelfTrade):
		return "SelfTradeError"
	case errors.Is(err, ErrInsufficientEvents):
		return "InsufficientEvents"
	case errors.Is(err, ErrInvariantViolation):
		return "InvariantViolation"
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrAlreadyExists):
		return "AlreadyExists"
	case errors.Is(err, ErrQueueFull):
		return "QueueFull"
	case errors.Is(err, ErrAccountInUse):
		return "AccountInUse"
	case errors.Is(err, ErrHalted):
		return "Halted"
	default:
		return "Internal"
	}
}
