/*
schedule.go - Rent schedule generation

PURPOSE:
  Turns a contract's dates and monthly due day into one PENDING payment
  per billing month.

RULES:
  1. First period: the month of `from`, unless that month's due date is
     on or before `from` (already passed), in which case the next month.
  2. Last period: the month before `to`'s month, and only while the due
     date is strictly before `to`. The month containing the end date is
     never billed by the range that ends there.
  3. Periods that already hold a payment are skipped. Generating the same
     range twice creates nothing the second time.
  4. PaymentsGenerated is set on the contract even if nothing was created.

EXAMPLE:
  due day 5, from 2025-01-15, to 2025-07-10
    Jan: due Jan 5 already passed  -> skipped
    Feb..Jun                        -> 5 payments
    Jul: end month                  -> excluded

EXTENSIONS:
  When the end date moves forward, the generator is re-entered from the
  old end month's billing boundary (the day before its due date) so the
  month excluded by rule 2 is billed as part of the extension. The
  re-entry point is raised to the contract start or the first run's
  `from` when either is later.
*/
package rental

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/warp/rental-engine/generic"
)

// GenerateSchedule creates the PENDING payments for [from, to) on a rental.
// Returns only the payments created by this call.
func (s *Service) GenerateSchedule(ctx context.Context, rentalID string, from, to generic.Date) ([]Payment, error) {
	var created []Payment
	err := s.inTx(ctx, "generate schedule", func(st Store) error {
		c, err := st.GetContract(ctx, rentalID)
		if err != nil {
			return err
		}
		created, err = s.generate(ctx, st, c, from, to)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.Log.WithFields(logrus.Fields{
		"rental_id": rentalID,
		"from":      from.String(),
		"to":        to.String(),
		"created":   len(created),
	}).Info("schedule generated")
	return created, nil
}

// SchedulePeriods lists the billing periods the generator would cover for
// [from, to) with the given due day. Pure; exported for previews and tests.
func SchedulePeriods(dueDay int, from, to generic.Date) ([]generic.BillingPeriod, error) {
	if dueDay < 1 || dueDay > 31 {
		return nil, fmt.Errorf("due day %d: %w", dueDay, generic.ErrInvalidDueDay)
	}
	if !to.After(from) {
		return nil, fmt.Errorf("schedule %s to %s: %w", from, to, generic.ErrInvalidScheduleRange)
	}

	p := generic.PeriodOf(from)
	if from.AfterOrEqual(p.DueDate(dueDay)) {
		p = p.Next()
	}
	last := generic.PeriodOf(to)

	var periods []generic.BillingPeriod
	for ; p.Before(last); p = p.Next() {
		if p.DueDate(dueDay).AfterOrEqual(to) {
			break
		}
		periods = append(periods, p)
	}
	return periods, nil
}

// generate runs inside the caller's transaction.
func (s *Service) generate(ctx context.Context, st Store, c *Contract, from, to generic.Date) ([]Payment, error) {
	periods, err := SchedulePeriods(c.PaymentDueDay, from, to)
	if err != nil {
		return nil, err
	}

	existing, err := st.ListPayments(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	taken := make(map[string]bool, len(existing))
	for _, p := range existing {
		taken[p.Period.Key()] = true
	}

	now := s.now()
	var created []Payment
	for _, period := range periods {
		if taken[period.Key()] {
			continue
		}
		p := Payment{
			ID:          s.newID(),
			RentalID:    c.ID,
			Amount:      c.MonthlyRent,
			DueDate:     period.DueDate(c.PaymentDueDay),
			Period:      period,
			Status:      PaymentPending,
			Description: describeRent(c, period),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := st.CreatePayment(ctx, &p); err != nil {
			return nil, fmt.Errorf("create payment for %s: %w", period.Key(), err)
		}
		taken[period.Key()] = true
		created = append(created, p)
	}

	if !c.PaymentsGenerated {
		c.PaymentsGenerated = true
		billed := from
		c.BilledFrom = &billed
		c.UpdatedAt = now
		if err := st.UpdateContract(ctx, c); err != nil {
			return nil, err
		}
	}
	return created, nil
}

// extensionStart is where the generator re-enters when the end date moves
// from oldEnd: the day before the old end month's due date, so that month
// becomes the first period considered. It never goes below the contract
// start or the first schedule's lower bound, so months the first run
// skipped as already passed stay unbilled.
func extensionStart(c *Contract, oldEnd generic.Date) generic.Date {
	from := generic.PeriodOf(oldEnd).DueDate(c.PaymentDueDay).AddDays(-1)
	if c.ContractStartDate.After(from) {
		from = c.ContractStartDate
	}
	if c.BilledFrom != nil && c.BilledFrom.After(from) {
		from = *c.BilledFrom
	}
	return from
}

func describeRent(c *Contract, period generic.BillingPeriod) string {
	property := c.PropertyTitle
	if property == "" {
		property = c.PropertyID
	}
	return fmt.Sprintf("Rent for %s - %s", property, period)
}
