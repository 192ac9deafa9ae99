package rental

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/warp/rental-engine/generic"
)

// =============================================================================
// PAYMENT VERIFICATION STATE MACHINE
// =============================================================================

// ProofInput is the evidence a tenant submits for a payment.
type ProofInput struct {
	Method     string
	Reference  string
	ProofImage string
}

// SubmitProof moves a PENDING or OVERDUE payment to VERIFICATION and stamps
// PaidDate. Tenant or landlord may submit; the landlord is notified.
func (s *Service) SubmitProof(ctx context.Context, callerID, paymentID string, proof ProofInput) (*Payment, error) {
	var p *Payment
	var c *Contract
	err := s.inTx(ctx, "submit proof", func(st Store) error {
		var err error
		p, c, err = loadPayment(ctx, st, paymentID)
		if err != nil {
			return err
		}
		if err := requireParty(c, callerID); err != nil {
			return err
		}
		if p.Status != PaymentPending && p.Status != PaymentOverdue {
			return &generic.StateError{Entity: "payment", ID: p.ID, Current: string(p.Status), Action: "submit proof for"}
		}
		now := s.now()
		p.Status = PaymentVerification
		p.PaidDate = &now
		p.Method = proof.Method
		p.Reference = proof.Reference
		p.ProofImage = proof.ProofImage
		p.UpdatedAt = now
		return st.UpdatePayment(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	s.paymentLog(p).Info("payment proof submitted")
	s.dispatch(ctx, paymentNote(c.LandlordID, KindPaymentSubmitted, "Payment submitted", p,
		"A payment of %s for %s was submitted and awaits your verification.", p.Amount, p.Period))
	return p, nil
}

// Verify resolves a payment in VERIFICATION. Approval marks it PAID and keeps
// the evidence; rejection returns it to PENDING with all evidence cleared.
// Landlord only; the tenant is notified either way.
func (s *Service) Verify(ctx context.Context, callerID, paymentID string, approve bool) (*Payment, error) {
	var p *Payment
	var c *Contract
	err := s.inTx(ctx, "verify payment", func(st Store) error {
		var err error
		p, c, err = loadPayment(ctx, st, paymentID)
		if err != nil {
			return err
		}
		if err := requireLandlord(c, callerID); err != nil {
			return err
		}
		if p.Status != PaymentVerification {
			return &generic.StateError{Entity: "payment", ID: p.ID, Current: string(p.Status), Action: "verify"}
		}
		if approve {
			p.Status = PaymentPaid
		} else {
			p.Status = PaymentPending
			p.clearProof()
		}
		p.UpdatedAt = s.now()
		return st.UpdatePayment(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	if approve {
		s.paymentLog(p).Info("payment approved")
		s.dispatch(ctx, paymentNote(c.TenantID, KindPaymentApproved, "Payment confirmed", p,
			"Your payment of %s for %s was confirmed.", p.Amount, p.Period))
	} else {
		s.paymentLog(p).Info("payment rejected")
		s.dispatch(ctx, paymentNote(c.TenantID, KindPaymentRejected, "Payment rejected", p,
			"Your payment for %s could not be verified. Please submit new proof.", p.Period))
	}
	return p, nil
}

// MarkPaid is the landlord's trusted path: PENDING or OVERDUE straight to PAID.
func (s *Service) MarkPaid(ctx context.Context, callerID, paymentID, method, reference string) (*Payment, error) {
	var p *Payment
	var c *Contract
	err := s.inTx(ctx, "mark paid", func(st Store) error {
		var err error
		p, c, err = loadPayment(ctx, st, paymentID)
		if err != nil {
			return err
		}
		if err := requireLandlord(c, callerID); err != nil {
			return err
		}
		if p.Status != PaymentPending && p.Status != PaymentOverdue {
			return &generic.StateError{Entity: "payment", ID: p.ID, Current: string(p.Status), Action: "mark paid"}
		}
		now := s.now()
		p.Status = PaymentPaid
		p.PaidDate = &now
		if method != "" {
			p.Method = method
		}
		if reference != "" {
			p.Reference = reference
		}
		p.UpdatedAt = now
		return st.UpdatePayment(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	s.paymentLog(p).Info("payment marked paid")
	s.dispatch(ctx, paymentNote(c.TenantID, KindPaymentMarkedPaid, "Payment recorded", p,
		"Your landlord recorded your payment of %s for %s.", p.Amount, p.Period))
	return p, nil
}

// MarkNotReceived clears any evidence on an unpaid payment and asks the tenant
// to resubmit. The status is left as it is (PENDING or OVERDUE).
func (s *Service) MarkNotReceived(ctx context.Context, callerID, paymentID string) (*Payment, error) {
	var p *Payment
	var c *Contract
	err := s.inTx(ctx, "mark not received", func(st Store) error {
		var err error
		p, c, err = loadPayment(ctx, st, paymentID)
		if err != nil {
			return err
		}
		if err := requireLandlord(c, callerID); err != nil {
			return err
		}
		if p.Status != PaymentPending && p.Status != PaymentOverdue {
			return &generic.StateError{Entity: "payment", ID: p.ID, Current: string(p.Status), Action: "mark not received"}
		}
		p.clearProof()
		p.UpdatedAt = s.now()
		return st.UpdatePayment(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	s.paymentLog(p).Info("payment marked not received")
	s.dispatch(ctx, paymentNote(c.TenantID, KindPaymentNotReceived, "Payment not received", p,
		"Your landlord has not received the payment of %s for %s. Please submit proof of payment.", p.Amount, p.Period))
	return p, nil
}

// =============================================================================
// MANUAL PAYMENTS - Landlord-created and removed installments
// =============================================================================

// ManualPayment is a landlord-created payment for a specific billing period.
type ManualPayment struct {
	Amount      generic.Money
	DueDate     generic.Date
	Description string
}

// CreatePayment adds a payment outside the generated schedule. The
// one-payment-per-period invariant still applies.
func (s *Service) CreatePayment(ctx context.Context, callerID, rentalID string, in ManualPayment) (*Payment, error) {
	if !in.Amount.IsPositive() {
		return nil, fmt.Errorf("amount must be positive: %w", generic.ErrInvalidContract)
	}
	if in.DueDate.IsZero() {
		return nil, fmt.Errorf("due date is required: %w", generic.ErrInvalidContract)
	}

	var p *Payment
	var c *Contract
	err := s.inTx(ctx, "create payment", func(st Store) error {
		var err error
		c, err = st.GetContract(ctx, rentalID)
		if err != nil {
			return err
		}
		if err := requireLandlord(c, callerID); err != nil {
			return err
		}
		if c.Status == ContractEnded {
			return &generic.StateError{Entity: "contract", ID: c.ID, Current: string(c.Status), Action: "add payment to"}
		}
		period := generic.PeriodOf(in.DueDate)
		desc := in.Description
		if desc == "" {
			desc = describeRent(c, period)
		}
		now := s.now()
		p = &Payment{
			ID:          s.newID(),
			RentalID:    c.ID,
			Amount:      in.Amount,
			DueDate:     in.DueDate,
			Period:      period,
			Status:      PaymentPending,
			Description: desc,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return st.CreatePayment(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	s.paymentLog(p).Info("payment created")
	s.dispatch(ctx, paymentNote(c.TenantID, KindPaymentCreated, "New payment", p,
		"A payment of %s is due on %s.", p.Amount, p.DueDate))
	return p, nil
}

// DeletePayment hard-deletes a still-PENDING payment. Landlord only.
func (s *Service) DeletePayment(ctx context.Context, callerID, paymentID string) error {
	return s.inTx(ctx, "delete payment", func(st Store) error {
		p, c, err := loadPayment(ctx, st, paymentID)
		if err != nil {
			return err
		}
		if err := requireLandlord(c, callerID); err != nil {
			return err
		}
		if p.Status != PaymentPending {
			return &generic.StateError{Entity: "payment", ID: p.ID, Current: string(p.Status), Action: "delete"}
		}
		return st.DeletePayment(ctx, p.ID, p.Version)
	})
}

// CancelPayment waives an unpaid payment (PENDING or OVERDUE -> CANCELLED).
// Landlord only. Cancelled payments keep their period taken.
func (s *Service) CancelPayment(ctx context.Context, callerID, paymentID string) (*Payment, error) {
	var p *Payment
	err := s.inTx(ctx, "cancel payment", func(st Store) error {
		var (
			c   *Contract
			err error
		)
		p, c, err = loadPayment(ctx, st, paymentID)
		if err != nil {
			return err
		}
		if err := requireLandlord(c, callerID); err != nil {
			return err
		}
		if p.Status != PaymentPending && p.Status != PaymentOverdue {
			return &generic.StateError{Entity: "payment", ID: p.ID, Current: string(p.Status), Action: "cancel"}
		}
		p.Status = PaymentCancelled
		p.UpdatedAt = s.now()
		return st.UpdatePayment(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	s.paymentLog(p).Info("payment cancelled")
	return p, nil
}

// =============================================================================
// OVERDUE - Stored status set by the sweep
// =============================================================================

// markOverdue moves one PENDING payment past due date + grace to OVERDUE.
// Returns false when another writer got there first or it isn't due yet.
func (s *Service) markOverdue(ctx context.Context, paymentID string, today generic.Date) (bool, *Payment, *Contract, error) {
	var (
		p       *Payment
		c       *Contract
		changed bool
	)
	err := s.inTx(ctx, "mark overdue", func(st Store) error {
		var err error
		p, c, err = loadPayment(ctx, st, paymentID)
		if err != nil {
			return err
		}
		if p.Status != PaymentPending || !p.DueDate.AddDays(c.GracePeriodDays).Before(today) {
			return nil
		}
		p.Status = PaymentOverdue
		p.UpdatedAt = s.now()
		if err := st.UpdatePayment(ctx, p); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if errors.Is(err, generic.ErrConcurrentModification) {
		return false, nil, nil, nil
	}
	return changed, p, c, err
}

func (s *Service) paymentLog(p *Payment) logrus.FieldLogger {
	return s.Log.WithFields(logrus.Fields{
		"rental_id":  p.RentalID,
		"payment_id": p.ID,
		"period":     p.Period.Key(),
		"status":     p.Status,
	})
}
