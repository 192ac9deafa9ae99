/*
errors.go - Centralized error types for the rental engine

PURPOSE:
  All error kinds in one place. Every failure a caller can see is one of
  these sentinels (possibly wrapped with context), so the HTTP layer can map
  them with errors.Is and never has to parse messages.

ERROR CATEGORIES:
  1. Caller errors     - NotAuthorized, InvalidState, PendingPaymentsExist,
                         InvalidScheduleRange, InvalidDueDay, InvalidContract
  2. Lookup errors     - NotFound
  3. Concurrency       - ConcurrentModification, DuplicatePeriod
  4. Store errors      - Storage

USAGE:
  if errors.Is(err, generic.ErrPendingPaymentsExist) {
      // tell the user to settle payments first
  }

SEE ALSO:
  - rental/: Returns these errors
  - api/handlers.go: Maps them to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotAuthorized is returned when the caller lacks the required
	// relationship to the contract or payment.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrInvalidState is returned when an operation is attempted from a state
	// that does not permit it.
	ErrInvalidState = errors.New("invalid state")

	// ErrPendingPaymentsExist blocks ending a rental while payments are unresolved.
	ErrPendingPaymentsExist = errors.New("pending payments exist")

	// ErrInvalidScheduleRange is returned when the schedule end is not after its start.
	ErrInvalidScheduleRange = errors.New("invalid schedule range")

	// ErrInvalidDueDay is returned when the payment due day is outside 1-31.
	ErrInvalidDueDay = errors.New("invalid due day")

	// ErrInvalidContract is returned for malformed contract terms
	// (non-positive rent, end date not after start date, ...).
	ErrInvalidContract = errors.New("invalid contract terms")

	// ErrNotFound is returned when a referenced contract, payment or end request doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicatePeriod is returned when a second payment is written for a
	// rental's billing period.
	ErrDuplicatePeriod = errors.New("payment already exists for period")

	// ErrStorage wraps persistence failures.
	ErrStorage = errors.New("storage error")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// StateError reports a transition attempted from the wrong state.
type StateError struct {
	Entity  string // "payment", "contract", "end request"
	ID      string
	Current string
	Action  string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s %s %s in status %s", e.Action, e.Entity, e.ID, e.Current)
}

func (e *StateError) Unwrap() error {
	return ErrInvalidState
}

// PendingPaymentsError lists how many payments block a termination.
type PendingPaymentsError struct {
	RentalID string
	Count    int
}

func (e *PendingPaymentsError) Error() string {
	return fmt.Sprintf("rental %s has %d unresolved payment(s)", e.RentalID, e.Count)
}

func (e *PendingPaymentsError) Unwrap() error {
	return ErrPendingPaymentsExist
}

// StorageError wraps a persistence failure with the operation that failed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

// Unwrap exposes both the generic storage sentinel and the driver error.
func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

// NewStorageError wraps err unless it is already one of our sentinels.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrDuplicatePeriod) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input or state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNotAuthorized) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrPendingPaymentsExist) ||
		errors.Is(err, ErrInvalidScheduleRange) ||
		errors.Is(err, ErrInvalidDueDay) ||
		errors.Is(err, ErrInvalidContract) ||
		errors.Is(err, ErrDuplicatePeriod)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
