/*
Package rental implements the rental lifecycle and recurring payment engine.

PURPOSE:
  Everything that has real invariants in a landlord/tenant relationship:
  1. Rent schedule generation from contract dates and a monthly due day
  2. The payment verification state machine (submit -> verify)
  3. The end-of-rental negotiation with a 7-day auto-accept deadline
  4. The periodic sweep applying time-based transitions

STATE MACHINES:
  Payment:
    PENDING ──submit──▶ VERIFICATION ──approve──▶ PAID
       ▲                     │
       └──────reject─────────┘
    PENDING/OVERDUE ──mark paid──▶ PAID
    PENDING ──sweep (past due + grace)──▶ OVERDUE

  Rental end:
    ACTIVE ──request──▶ ENDING ──accept / auto-accept──▶ ENDED
                          │
                          └──cancel (requester)──▶ ACTIVE

CONCURRENCY:
  Every transition is a read-modify-write guarded by the record's Version.
  Human actions and the sweep race on the same rows; the loser gets
  generic.ErrConcurrentModification and the sweep treats that as
  "already handled".

SEE ALSO:
  - store.go:     Storage port
  - schedule.go:  Schedule generator
  - payment.go:   Payment state machine
  - endrequest.go: End-of-rental negotiation
  - sweep.go:     Periodic sweep
*/
package rental

import (
	"time"

	"github.com/warp/rental-engine/generic"
)

// =============================================================================
// CONTRACT
// =============================================================================

type ContractStatus string

const (
	ContractPending ContractStatus = "PENDING"
	ContractActive  ContractStatus = "ACTIVE"
	ContractEnding  ContractStatus = "ENDING"
	ContractEnded   ContractStatus = "ENDED"
)

// DefaultContractDurationMonths is used by auto-renewal when the contract
// doesn't specify its own duration.
const DefaultContractDurationMonths = 12

// Contract is the landlord-tenant agreement, identified by the rental
// relationship id.
type Contract struct {
	ID         string
	TenantID   string
	LandlordID string
	PropertyID string

	// PropertyTitle is only used to describe generated payments.
	PropertyTitle string

	MonthlyRent            generic.Money
	ContractStartDate      generic.Date
	ContractEndDate        *generic.Date // nil until the contract is set up
	PaymentDueDay          int           // 1-31
	GracePeriodDays        int
	ContractDurationMonths int // 0 = DefaultContractDurationMonths

	Status            ContractStatus
	AutoRenewal       bool
	PaymentsGenerated bool

	// BilledFrom is the lower bound of the first generated schedule.
	// Extensions never bill a due date on or before it.
	BilledFrom *generic.Date

	// Version is bumped by every successful update (optimistic locking).
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsParty reports whether userID is the tenant or landlord of the contract.
func (c *Contract) IsParty(userID string) bool {
	return userID != "" && (userID == c.TenantID || userID == c.LandlordID)
}

// OtherParty returns the counterpart of userID.
func (c *Contract) OtherParty(userID string) string {
	if userID == c.TenantID {
		return c.LandlordID
	}
	return c.TenantID
}

// RenewalMonths returns the auto-renewal extension length.
func (c *Contract) RenewalMonths() int {
	if c.ContractDurationMonths > 0 {
		return c.ContractDurationMonths
	}
	return DefaultContractDurationMonths
}

// =============================================================================
// PAYMENT
// =============================================================================

type PaymentStatus string

const (
	PaymentPending      PaymentStatus = "PENDING"
	PaymentVerification PaymentStatus = "VERIFICATION"
	PaymentPaid         PaymentStatus = "PAID"
	PaymentOverdue      PaymentStatus = "OVERDUE"
	PaymentCancelled    PaymentStatus = "CANCELLED"
)

// IsUnresolved reports whether the payment still blocks ending the rental.
func (s PaymentStatus) IsUnresolved() bool {
	return s == PaymentPending || s == PaymentOverdue || s == PaymentVerification
}

// Payment is one rent installment. Exactly one per (RentalID, Period).
type Payment struct {
	ID          string
	RentalID    string
	Amount      generic.Money
	DueDate     generic.Date
	Period      generic.BillingPeriod
	Status      PaymentStatus
	Description string

	// Evidence submitted by the tenant; cleared on rejection.
	PaidDate   *time.Time
	Method     string
	Reference  string
	ProofImage string

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// clearProof removes all submitted evidence.
func (p *Payment) clearProof() {
	p.PaidDate = nil
	p.Method = ""
	p.Reference = ""
	p.ProofImage = ""
}

// IsLate reports whether the payment is unpaid past its due date.
func (p *Payment) IsLate(today generic.Date) bool {
	return (p.Status == PaymentPending || p.Status == PaymentOverdue) && p.DueDate.Before(today)
}

// =============================================================================
// END REQUEST
// =============================================================================

type EndRequestStatus string

const (
	EndPending      EndRequestStatus = "PENDING"
	EndAccepted     EndRequestStatus = "ACCEPTED"
	EndAutoAccepted EndRequestStatus = "AUTO_ACCEPTED"
	EndCancelled    EndRequestStatus = "CANCELLED"
)

// AutoAcceptAfter is how long the other party has to respond to an end request.
const AutoAcceptAfter = 7 * 24 * time.Hour

// EndRequest is one party's request to terminate the rental.
type EndRequest struct {
	ID            string
	RentalID      string
	RequestedByID string
	Reason        string
	Status        EndRequestStatus
	AutoAcceptAt  time.Time
	RespondedAt   *time.Time

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsTerminal reports whether the request has been resolved.
func (r *EndRequest) IsTerminal() bool {
	return r.Status != EndPending
}
