/*
sweep.go - Periodic time-based transitions

PURPOSE:
  Applies every transition that happens because time passed rather than
  because someone clicked something. Runs on a fixed cadence (daily is
  enough); any scheduler can drive RunSweep.

STEPS (in order):
  0. Overdue:      PENDING payments past due date + grace -> OVERDUE
  1. Auto-accept:  PENDING end requests past AutoAcceptAt -> AUTO_ACCEPTED
                   (skipped while the payment guard fails)
  2. Reminders:    contracts ending in 90/60/30/14/7/1 days, once per threshold
  3. Expiry:       ACTIVE contracts at/past end date, no auto-renewal -> ENDED
  4. Renewal:      ACTIVE contracts at/past end date with auto-renewal ->
                   end date + duration, schedule extended

IDEMPOTENCE:
  Every per-record step re-reads the record inside its own transaction and
  re-checks the precondition before writing with a version guard. Two
  overlapping sweeps, or a sweep racing a human, apply each transition at
  most once; the loser sees the record already moved and skips it.

FAILURES:
  A failure on one record is recorded in the report and the sweep moves on.
  Nothing is cancelled midway; unprocessed records are picked up next run.
*/
package rental

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/rental-engine/generic"
)

// ReminderThresholds are the days-before-end at which both parties are reminded.
var ReminderThresholds = []int{90, 60, 30, 14, 7, 1}

// Sweep step names used in SweepError.
const (
	StepOverdue    = "overdue"
	StepAutoAccept = "auto_accept"
	StepReminders  = "reminders"
	StepExpiry     = "expiry"
	StepRenewal    = "renewal"
)

// SweepReport summarizes one sweep run.
type SweepReport struct {
	MarkedOverdue int `json:"marked_overdue"`
	AutoAccepted  int `json:"auto_accepted"`
	// Skipped counts due end requests left PENDING by the payment guard.
	Skipped       int          `json:"skipped"`
	RemindersSent int          `json:"reminders_sent"`
	Expired       int          `json:"expired"`
	Renewed       int          `json:"renewed"`
	Errors        []SweepError `json:"errors,omitempty"`
}

// SweepError is a per-record failure.
type SweepError struct {
	Step     string `json:"step"`
	RecordID string `json:"record_id,omitempty"`
	Err      string `json:"error"`
}

func (e SweepError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Step, e.RecordID, e.Err)
}

func (r *SweepReport) fail(step, id string, err error) {
	r.Errors = append(r.Errors, SweepError{Step: step, RecordID: id, Err: err.Error()})
}

// errSkip aborts a per-record transaction without counting it as a failure.
var errSkip = errors.New("skip")

// RunSweep executes one pass. It never returns an error; failures are in the report.
func (s *Service) RunSweep(ctx context.Context) SweepReport {
	started := s.now()
	today := generic.DateOf(started)
	log := s.Log.WithField("sweep_at", started.Format(time.RFC3339))

	var report SweepReport
	s.sweepOverdue(ctx, today, &report)
	s.sweepAutoAccept(ctx, started, &report)
	s.sweepReminders(ctx, today, &report)
	s.sweepExpiries(ctx, today, &report)

	log.WithFields(logrus.Fields{
		"marked_overdue": report.MarkedOverdue,
		"auto_accepted":  report.AutoAccepted,
		"skipped":        report.Skipped,
		"reminders_sent": report.RemindersSent,
		"expired":        report.Expired,
		"renewed":        report.Renewed,
		"errors":         len(report.Errors),
	}).Info("sweep completed")

	if runs, ok := s.Store.(SweepRunStore); ok {
		run := SweepRun{ID: s.newID(), StartedAt: started, FinishedAt: s.now(), Report: report}
		if err := runs.SaveSweepRun(ctx, run); err != nil {
			log.WithError(err).Warn("failed to record sweep run")
		}
	}
	return report
}

// =============================================================================
// STEP 0 - OVERDUE
// =============================================================================

func (s *Service) sweepOverdue(ctx context.Context, today generic.Date, report *SweepReport) {
	payments, err := s.Store.ListPaymentsByStatus(ctx, PaymentPending, today)
	if err != nil {
		report.fail(StepOverdue, "", err)
		return
	}
	for _, candidate := range payments {
		changed, p, c, err := s.markOverdue(ctx, candidate.ID, today)
		if err != nil {
			report.fail(StepOverdue, candidate.ID, err)
			continue
		}
		if !changed {
			continue
		}
		report.MarkedOverdue++
		s.paymentLog(p).Info("payment overdue")
		s.dispatch(ctx, paymentNote(c.TenantID, KindPaymentOverdue, "Payment overdue", p,
			"Your payment of %s for %s was due on %s and is now overdue.", p.Amount, p.Period, p.DueDate))
	}
}

// =============================================================================
// STEP 1 - AUTO-ACCEPT
// =============================================================================

func (s *Service) sweepAutoAccept(ctx context.Context, now time.Time, report *SweepReport) {
	due, err := s.Store.ListDueEndRequests(ctx, now)
	if err != nil {
		report.fail(StepAutoAccept, "", err)
		return
	}
	for _, candidate := range due {
		var (
			c   *Contract
			req *EndRequest
		)
		err := s.inTx(ctx, "auto-accept end", func(st Store) error {
			var err error
			req, err = st.GetEndRequest(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if !autoAcceptDue(req, now) {
				return errSkip
			}
			c, err = st.GetContract(ctx, req.RentalID)
			if err != nil {
				return err
			}
			return s.finalizeEnd(ctx, st, c, req, EndAutoAccepted)
		})

		switch {
		case err == nil:
			report.AutoAccepted++
			s.endLog(req).Info("end of rental auto-accepted")
			for _, userID := range []string{c.TenantID, c.LandlordID} {
				s.dispatch(ctx, contractNote(userID, KindEndAutoAccepted, "Rental ended", c,
					"The end request for %s was accepted automatically after 7 days without a response.", propertyName(c)))
			}
		case errors.Is(err, generic.ErrPendingPaymentsExist):
			report.Skipped++
			s.Log.WithFields(logrus.Fields{
				"rental_id":      candidate.RentalID,
				"end_request_id": candidate.ID,
			}).Info("auto-accept deferred: unresolved payments")
		case errors.Is(err, errSkip), errors.Is(err, generic.ErrConcurrentModification), errors.Is(err, generic.ErrInvalidState):
			// Resolved by someone else in the meantime.
		default:
			report.fail(StepAutoAccept, candidate.ID, err)
		}
	}
}

// =============================================================================
// STEP 2 - EXPIRY REMINDERS
// =============================================================================

// ReminderKey is the dedupe key for one threshold of one contract end date.
// Including the end date re-arms the thresholds after a renewal.
func ReminderKey(rentalID string, end generic.Date, daysBefore int) string {
	return fmt.Sprintf("%s:%s:%d", rentalID, end, daysBefore)
}

func (s *Service) sweepReminders(ctx context.Context, today generic.Date, report *SweepReport) {
	for _, days := range ReminderThresholds {
		target := today.AddDays(days)
		contracts, err := s.Store.ListContracts(ctx, ContractFilter{
			Statuses: []ContractStatus{ContractActive, ContractEnding},
			EndFrom:  &target,
			EndTo:    &target,
		})
		if err != nil {
			report.fail(StepReminders, "", err)
			continue
		}
		for i := range contracts {
			c := &contracts[i]
			if c.ContractEndDate == nil {
				continue
			}
			fresh, err := s.Store.RecordReminder(ctx, ReminderKey(c.ID, *c.ContractEndDate, days), s.now())
			if err != nil {
				report.fail(StepReminders, c.ID, generic.NewStorageError("record reminder", err))
				continue
			}
			if !fresh {
				continue
			}
			report.RemindersSent++
			body := "Your contract for %s ends in %d days, on %s."
			if days == 1 {
				body = "Your contract for %s ends in %d day, on %s."
			}
			if c.AutoRenewal {
				body += " It will renew automatically."
			}
			for _, userID := range []string{c.TenantID, c.LandlordID} {
				n := contractNote(userID, KindContractExpiring, "Contract ending soon", c, body,
					propertyName(c), days, c.ContractEndDate)
				n.Metadata["days_before"] = fmt.Sprint(days)
				s.dispatch(ctx, n)
			}
		}
	}
}

// =============================================================================
// STEPS 3 & 4 - EXPIRY AND RENEWAL
// =============================================================================

func (s *Service) sweepExpiries(ctx context.Context, today generic.Date, report *SweepReport) {
	contracts, err := s.Store.ListContracts(ctx, ContractFilter{
		Statuses: []ContractStatus{ContractActive},
		EndTo:    &today,
	})
	if err != nil {
		report.fail(StepExpiry, "", err)
		return
	}
	for _, candidate := range contracts {
		if candidate.AutoRenewal {
			s.renew(ctx, candidate.ID, today, report)
		} else {
			s.expire(ctx, candidate.ID, today, report)
		}
	}
}

func (s *Service) expire(ctx context.Context, rentalID string, today generic.Date, report *SweepReport) {
	var c *Contract
	err := s.inTx(ctx, "expire contract", func(st Store) error {
		var err error
		c, err = st.GetContract(ctx, rentalID)
		if err != nil {
			return err
		}
		if !reachedEnd(c, today) || c.AutoRenewal {
			return errSkip
		}
		c.Status = ContractEnded
		c.UpdatedAt = s.now()
		return st.UpdateContract(ctx, c)
	})
	if skipped(err) {
		return
	}
	if err != nil {
		report.fail(StepExpiry, rentalID, err)
		return
	}

	report.Expired++
	s.Log.WithField("rental_id", c.ID).Info("contract expired")
	for _, userID := range []string{c.TenantID, c.LandlordID} {
		s.dispatch(ctx, contractNote(userID, KindContractExpired, "Contract ended", c,
			"Your contract for %s ended on %s.", propertyName(c), c.ContractEndDate))
	}
}

func (s *Service) renew(ctx context.Context, rentalID string, today generic.Date, report *SweepReport) {
	var (
		c       *Contract
		created []Payment
	)
	err := s.inTx(ctx, "renew contract", func(st Store) error {
		var err error
		c, err = st.GetContract(ctx, rentalID)
		if err != nil {
			return err
		}
		if !reachedEnd(c, today) || !c.AutoRenewal {
			return errSkip
		}
		oldEnd := *c.ContractEndDate
		newEnd := generic.AddMonthsClamped(oldEnd, c.RenewalMonths())
		c.ContractEndDate = &newEnd
		c.UpdatedAt = s.now()
		if err := st.UpdateContract(ctx, c); err != nil {
			return err
		}
		created, err = s.extendSchedule(ctx, st, c, oldEnd, newEnd)
		return err
	})
	if skipped(err) {
		return
	}
	if err != nil {
		report.fail(StepRenewal, rentalID, err)
		return
	}

	report.Renewed++
	s.Log.WithFields(logrus.Fields{
		"rental_id": c.ID,
		"end_date":  c.ContractEndDate.String(),
		"payments":  len(created),
	}).Info("contract renewed")
	for _, userID := range []string{c.TenantID, c.LandlordID} {
		s.dispatch(ctx, contractNote(userID, KindContractRenewed, "Contract renewed", c,
			"Your contract for %s was renewed until %s.", propertyName(c), c.ContractEndDate))
	}
}

// reachedEnd reports whether an ACTIVE contract's end date is today or earlier.
func reachedEnd(c *Contract, today generic.Date) bool {
	return c.Status == ContractActive && c.ContractEndDate != nil && c.ContractEndDate.BeforeOrEqual(today)
}

func skipped(err error) bool {
	return errors.Is(err, errSkip) || errors.Is(err, generic.ErrConcurrentModification)
}
