package rental

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/warp/rental-engine/generic"
)

// =============================================================================
// CONTRACT LIFECYCLE - Creation, activation, setup, extension
// =============================================================================

// NewContract describes a landlord/tenant relationship created from an invite.
type NewContract struct {
	TenantID      string
	LandlordID    string
	PropertyID    string
	PropertyTitle string
}

// ContractTerms are the scheduling parameters set by the landlord.
type ContractTerms struct {
	MonthlyRent            generic.Money
	StartDate              generic.Date
	EndDate                generic.Date
	PaymentDueDay          int
	GracePeriodDays        int
	AutoRenewal            bool
	ContractDurationMonths int
}

func (t ContractTerms) validate() error {
	if t.PaymentDueDay < 1 || t.PaymentDueDay > 31 {
		return fmt.Errorf("due day %d: %w", t.PaymentDueDay, generic.ErrInvalidDueDay)
	}
	if !t.MonthlyRent.IsPositive() {
		return fmt.Errorf("monthly rent must be positive: %w", generic.ErrInvalidContract)
	}
	if t.StartDate.IsZero() || t.EndDate.IsZero() {
		return fmt.Errorf("start and end dates are required: %w", generic.ErrInvalidContract)
	}
	if !t.EndDate.After(t.StartDate) {
		return fmt.Errorf("end date %s must be after start date %s: %w", t.EndDate, t.StartDate, generic.ErrInvalidContract)
	}
	if t.GracePeriodDays < 0 || t.ContractDurationMonths < 0 {
		return fmt.Errorf("grace period and duration cannot be negative: %w", generic.ErrInvalidContract)
	}
	return nil
}

// SetupResult is returned by SetupContract.
type SetupResult struct {
	Contract *Contract
	Payments []Payment // payments created by this call
}

// CreateContract records a new PENDING relationship.
func (s *Service) CreateContract(ctx context.Context, in NewContract) (*Contract, error) {
	if in.TenantID == "" || in.LandlordID == "" || in.TenantID == in.LandlordID {
		return nil, fmt.Errorf("tenant and landlord must be distinct users: %w", generic.ErrInvalidContract)
	}
	now := s.now()
	c := &Contract{
		ID:            s.newID(),
		TenantID:      in.TenantID,
		LandlordID:    in.LandlordID,
		PropertyID:    in.PropertyID,
		PropertyTitle: in.PropertyTitle,
		Status:        ContractPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Store.CreateContract(ctx, c); err != nil {
		return nil, generic.NewStorageError("create contract", err)
	}
	s.Log.WithField("rental_id", c.ID).Info("contract created")
	return c, nil
}

// ActivateContract is the tenant accepting the invite: PENDING -> ACTIVE.
func (s *Service) ActivateContract(ctx context.Context, callerID, rentalID string) (*Contract, error) {
	var c *Contract
	err := s.inTx(ctx, "activate contract", func(st Store) error {
		var err error
		c, err = st.GetContract(ctx, rentalID)
		if err != nil {
			return err
		}
		if callerID == "" || callerID != c.TenantID {
			return generic.ErrNotAuthorized
		}
		if c.Status != ContractPending {
			return &generic.StateError{Entity: "contract", ID: c.ID, Current: string(c.Status), Action: "activate"}
		}
		c.Status = ContractActive
		c.UpdatedAt = s.now()
		return st.UpdateContract(ctx, c)
	})
	if err != nil {
		return nil, err
	}

	s.dispatch(ctx, contractNote(c.LandlordID, KindContractActivated, "Invite accepted", c,
		"Your tenant accepted the invite for %s.", propertyName(c)))
	return c, nil
}

// SetupContract sets the contract terms and generates the payment schedule.
// Only the landlord may call it. The first call generates from
// max(today, start) to the end date; later calls may only move the end date
// forward, which generates the extension.
func (s *Service) SetupContract(ctx context.Context, callerID, rentalID string, terms ContractTerms) (*SetupResult, error) {
	if err := terms.validate(); err != nil {
		return nil, err
	}

	var (
		c       *Contract
		created []Payment
	)
	err := s.inTx(ctx, "setup contract", func(st Store) error {
		var err error
		c, err = st.GetContract(ctx, rentalID)
		if err != nil {
			return err
		}
		if err := requireLandlord(c, callerID); err != nil {
			return err
		}
		if c.Status == ContractEnding || c.Status == ContractEnded {
			return &generic.StateError{Entity: "contract", ID: c.ID, Current: string(c.Status), Action: "set up"}
		}

		var oldEnd *generic.Date
		if c.ContractEndDate != nil {
			d := *c.ContractEndDate
			oldEnd = &d
		}
		if c.PaymentsGenerated && oldEnd != nil && terms.EndDate.Before(*oldEnd) {
			return fmt.Errorf("cannot shorten a contract with a generated schedule, request an end instead: %w", generic.ErrInvalidContract)
		}

		end := terms.EndDate
		c.MonthlyRent = terms.MonthlyRent
		c.ContractStartDate = terms.StartDate
		c.ContractEndDate = &end
		c.PaymentDueDay = terms.PaymentDueDay
		c.GracePeriodDays = terms.GracePeriodDays
		c.AutoRenewal = terms.AutoRenewal
		c.ContractDurationMonths = terms.ContractDurationMonths
		c.UpdatedAt = s.now()
		if err := st.UpdateContract(ctx, c); err != nil {
			return err
		}

		if c.PaymentsGenerated && oldEnd != nil {
			created, err = s.extendSchedule(ctx, st, c, *oldEnd, end)
			return err
		}

		from := s.today()
		if terms.StartDate.After(from) {
			from = terms.StartDate
		}
		created, err = s.generate(ctx, st, c, from, end)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.Log.WithFields(logrus.Fields{
		"rental_id": c.ID,
		"end_date":  c.ContractEndDate.String(),
		"payments":  len(created),
	}).Info("contract set up")

	s.dispatch(ctx, contractNote(c.TenantID, KindContractSetup, "Rental contract ready", c,
		"Your contract for %s runs until %s. Rent of %s is due on day %d of each month.",
		propertyName(c), c.ContractEndDate, c.MonthlyRent, c.PaymentDueDay))
	return &SetupResult{Contract: c, Payments: created}, nil
}

// ExtendContract moves the end date of an ACTIVE contract forward and bills
// the newly covered months.
func (s *Service) ExtendContract(ctx context.Context, callerID, rentalID string, newEnd generic.Date) (*SetupResult, error) {
	var (
		c       *Contract
		created []Payment
	)
	err := s.inTx(ctx, "extend contract", func(st Store) error {
		var err error
		c, err = st.GetContract(ctx, rentalID)
		if err != nil {
			return err
		}
		if err := requireLandlord(c, callerID); err != nil {
			return err
		}
		if c.Status != ContractActive || c.ContractEndDate == nil {
			return &generic.StateError{Entity: "contract", ID: c.ID, Current: string(c.Status), Action: "extend"}
		}
		oldEnd := *c.ContractEndDate
		if !newEnd.After(oldEnd) {
			return fmt.Errorf("new end date %s must be after %s: %w", newEnd, oldEnd, generic.ErrInvalidContract)
		}
		c.ContractEndDate = &newEnd
		c.UpdatedAt = s.now()
		if err := st.UpdateContract(ctx, c); err != nil {
			return err
		}
		created, err = s.extendSchedule(ctx, st, c, oldEnd, newEnd)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.dispatch(ctx, contractNote(c.TenantID, KindContractExtended, "Contract extended", c,
		"Your contract for %s now runs until %s.", propertyName(c), newEnd))
	return &SetupResult{Contract: c, Payments: created}, nil
}

// extendSchedule bills the months opened by moving the end from oldEnd to newEnd.
func (s *Service) extendSchedule(ctx context.Context, st Store, c *Contract, oldEnd, newEnd generic.Date) ([]Payment, error) {
	from := extensionStart(c, oldEnd)
	if !newEnd.After(from) {
		return nil, nil
	}
	return s.generate(ctx, st, c, from, newEnd)
}

func propertyName(c *Contract) string {
	if c.PropertyTitle != "" {
		return c.PropertyTitle
	}
	return "your rental"
}
