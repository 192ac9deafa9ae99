/*
store.go - Storage port for contracts, payments and end requests

PURPOSE:
  Defines the interface between the rental engine and the database. The
  engine never talks to a driver directly; it is handed a TxStore at
  construction time, which lets tests run against the in-memory store and
  production against SQLite.

CONDITIONAL UPDATES:
  Every Update* method is a compare-and-swap on Version:
    UPDATE ... SET ..., version = version + 1 WHERE id = ? AND version = ?
  A mismatch returns generic.ErrConcurrentModification and leaves the row
  untouched. On success the passed record's Version is bumped in place.

ATOMIC BATCHES:
  WithTx() gives all-or-nothing semantics for transitions that touch more
  than one record (end request + contract, schedule generation + contract
  flag). If fn returns an error nothing is persisted.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - rental/store/memory.go: In-memory for testing

SEE ALSO:
  - service.go: Uses TxStore
*/
package rental

import (
	"context"
	"time"

	"github.com/warp/rental-engine/generic"
)

// =============================================================================
// STORE - Persistence port
// =============================================================================

// Store persists contracts, payments and end requests.
// Get* methods return generic.ErrNotFound for missing records.
type Store interface {
	// Contracts
	CreateContract(ctx context.Context, c *Contract) error
	GetContract(ctx context.Context, id string) (*Contract, error)
	UpdateContract(ctx context.Context, c *Contract) error
	ListContracts(ctx context.Context, filter ContractFilter) ([]Contract, error)

	// Payments
	// CreatePayment returns generic.ErrDuplicatePeriod if the rental already
	// has a payment for p.Period.
	CreatePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, id string) (*Payment, error)
	UpdatePayment(ctx context.Context, p *Payment) error
	DeletePayment(ctx context.Context, id string, version int64) error
	ListPayments(ctx context.Context, rentalID string) ([]Payment, error)
	ListPaymentsDueBetween(ctx context.Context, rentalID string, from, to generic.Date) ([]Payment, error)
	ListPaymentsByStatus(ctx context.Context, status PaymentStatus, dueBefore generic.Date) ([]Payment, error)
	CountUnresolvedPayments(ctx context.Context, rentalID string) (int, error)

	// End requests
	CreateEndRequest(ctx context.Context, r *EndRequest) error
	GetEndRequest(ctx context.Context, id string) (*EndRequest, error)
	// GetActiveEndRequest returns the rental's PENDING request or generic.ErrNotFound.
	GetActiveEndRequest(ctx context.Context, rentalID string) (*EndRequest, error)
	UpdateEndRequest(ctx context.Context, r *EndRequest) error
	ListEndRequests(ctx context.Context, rentalID string) ([]EndRequest, error)
	// ListDueEndRequests returns PENDING requests with AutoAcceptAt <= now.
	ListDueEndRequests(ctx context.Context, now time.Time) ([]EndRequest, error)

	// RecordReminder stores a dedupe key. Returns false if the key was
	// already recorded (the reminder has been sent before).
	RecordReminder(ctx context.Context, key string, at time.Time) (bool, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// ContractFilter selects contracts for the sweep. Zero fields don't filter.
type ContractFilter struct {
	Statuses []ContractStatus
	// EndFrom/EndTo bound ContractEndDate inclusively. Contracts without an
	// end date never match when either bound is set.
	EndFrom *generic.Date
	EndTo   *generic.Date
}

// =============================================================================
// SWEEP RUNS - Optional capability, like the audit log
// =============================================================================

// SweepRun records one sweep execution for display and audit.
type SweepRun struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Report     SweepReport
}

// SweepRunStore is implemented by stores that keep sweep history.
type SweepRunStore interface {
	SaveSweepRun(ctx context.Context, run SweepRun) error
	ListSweepRuns(ctx context.Context, limit int) ([]SweepRun, error)
}
