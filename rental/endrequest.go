/*
endrequest.go - End-of-rental negotiation

PURPOSE:
  Either party may ask to end the rental. The other party accepts, the
  requester withdraws, or after 7 days the sweep accepts on the silent
  party's behalf.

STATES (contract / request):
  ACTIVE  / -        ──RequestEnd──▶  ENDING / PENDING
  ENDING  / PENDING  ──AcceptEnd───▶  ENDED  / ACCEPTED
  ENDING  / PENDING  ──sweep───────▶  ENDED  / AUTO_ACCEPTED
  ENDING  / PENDING  ──CancelEnd───▶  ACTIVE / CANCELLED

PAYMENT GUARD:
  Nothing ends while a payment is PENDING, OVERDUE or VERIFICATION. At
  request time this is only a warning; at acceptance (human or sweep) it
  blocks. The sweep leaves blocked requests PENDING and retries next run.

NO REJECT:
  The responder cannot decline. Only the requester may withdraw; a
  responder who disagrees has to negotiate outside the system before the
  deadline.
*/
package rental

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/rental-engine/generic"
)

// EndResult is returned by RequestEnd.
type EndResult struct {
	Request  *EndRequest
	Contract *Contract

	// UnresolvedPayments > 0 means acceptance will be blocked until they are settled.
	UnresolvedPayments int
	Warning            string
}

// RequestEnd opens an end request on an ACTIVE contract and moves it to ENDING.
func (s *Service) RequestEnd(ctx context.Context, requesterID, rentalID, reason string) (*EndResult, error) {
	res := &EndResult{}
	err := s.inTx(ctx, "request end", func(st Store) error {
		c, err := st.GetContract(ctx, rentalID)
		if err != nil {
			return err
		}
		if err := requireParty(c, requesterID); err != nil {
			return err
		}
		if c.Status != ContractActive {
			return &generic.StateError{Entity: "contract", ID: c.ID, Current: string(c.Status), Action: "request end of"}
		}
		if active, err := st.GetActiveEndRequest(ctx, c.ID); err == nil {
			return &generic.StateError{Entity: "end request", ID: active.ID, Current: string(active.Status), Action: "open another"}
		} else if !generic.IsNotFound(err) {
			return err
		}

		unresolved, err := st.CountUnresolvedPayments(ctx, c.ID)
		if err != nil {
			return err
		}

		now := s.now()
		req := &EndRequest{
			ID:            s.newID(),
			RentalID:      c.ID,
			RequestedByID: requesterID,
			Reason:        reason,
			Status:        EndPending,
			AutoAcceptAt:  now.Add(AutoAcceptAfter),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := st.CreateEndRequest(ctx, req); err != nil {
			return err
		}
		c.Status = ContractEnding
		c.UpdatedAt = now
		if err := st.UpdateContract(ctx, c); err != nil {
			return err
		}

		res.Request = req
		res.Contract = c
		res.UnresolvedPayments = unresolved
		if unresolved > 0 {
			res.Warning = fmt.Sprintf("%d unresolved payment(s) must be settled before the rental can end", unresolved)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c, req := res.Contract, res.Request
	s.endLog(req).WithField("unresolved_payments", res.UnresolvedPayments).Info("end of rental requested")
	s.dispatch(ctx, contractNote(c.OtherParty(requesterID), KindEndRequested, "End of rental requested", c,
		"An end of the rental for %s was requested. It will be accepted automatically on %s unless withdrawn.",
		propertyName(c), req.AutoAcceptAt.Format("2006-01-02")))
	return res, nil
}

// AcceptEnd is the non-requesting party agreeing to end the rental.
// Fails with ErrPendingPaymentsExist while any payment is unresolved.
func (s *Service) AcceptEnd(ctx context.Context, responderID, rentalID string) (*EndRequest, error) {
	var (
		c   *Contract
		req *EndRequest
	)
	err := s.inTx(ctx, "accept end", func(st Store) error {
		var err error
		c, err = st.GetContract(ctx, rentalID)
		if err != nil {
			return err
		}
		if err := requireParty(c, responderID); err != nil {
			return err
		}
		req, err = s.activeRequest(ctx, st, c)
		if err != nil {
			return err
		}
		// The payment guard answers before the requester check, so both
		// parties see why the end is blocked.
		if err := paymentGuard(ctx, st, c); err != nil {
			return err
		}
		if responderID == req.RequestedByID {
			return generic.ErrNotAuthorized
		}
		return s.finalizeEnd(ctx, st, c, req, EndAccepted)
	})
	if err != nil {
		return nil, err
	}

	s.endLog(req).Info("end of rental accepted")
	s.dispatch(ctx, contractNote(req.RequestedByID, KindEndAccepted, "End of rental accepted", c,
		"Your request to end the rental for %s was accepted.", propertyName(c)))
	return req, nil
}

// CancelEnd withdraws a PENDING request. Only the requester may do this;
// the contract goes back to ACTIVE.
func (s *Service) CancelEnd(ctx context.Context, cancellerID, rentalID string) (*EndRequest, error) {
	var (
		c   *Contract
		req *EndRequest
	)
	err := s.inTx(ctx, "cancel end", func(st Store) error {
		var err error
		c, err = st.GetContract(ctx, rentalID)
		if err != nil {
			return err
		}
		if err := requireParty(c, cancellerID); err != nil {
			return err
		}
		req, err = s.activeRequest(ctx, st, c)
		if err != nil {
			return err
		}
		if cancellerID != req.RequestedByID {
			return generic.ErrNotAuthorized
		}
		if c.Status != ContractEnding {
			return &generic.StateError{Entity: "contract", ID: c.ID, Current: string(c.Status), Action: "cancel end of"}
		}

		now := s.now()
		req.Status = EndCancelled
		req.RespondedAt = &now
		req.UpdatedAt = now
		if err := st.UpdateEndRequest(ctx, req); err != nil {
			return err
		}
		c.Status = ContractActive
		c.UpdatedAt = now
		return st.UpdateContract(ctx, c)
	})
	if err != nil {
		return nil, err
	}

	s.endLog(req).Info("end of rental withdrawn")
	s.dispatch(ctx, contractNote(c.OtherParty(cancellerID), KindEndCancelled, "End of rental withdrawn", c,
		"The request to end the rental for %s was withdrawn.", propertyName(c)))
	return req, nil
}

// activeRequest returns the PENDING request or an InvalidState error.
func (s *Service) activeRequest(ctx context.Context, st Store, c *Contract) (*EndRequest, error) {
	req, err := st.GetActiveEndRequest(ctx, c.ID)
	if generic.IsNotFound(err) {
		return nil, &generic.StateError{Entity: "contract", ID: c.ID, Current: string(c.Status), Action: "resolve end request of"}
	}
	return req, err
}

// finalizeEnd applies the terminal transition shared by AcceptEnd and the
// sweep: payment guard, request -> status, contract -> ENDED with today's end date.
func (s *Service) finalizeEnd(ctx context.Context, st Store, c *Contract, req *EndRequest, status EndRequestStatus) error {
	if c.Status != ContractEnding {
		return &generic.StateError{Entity: "contract", ID: c.ID, Current: string(c.Status), Action: "end"}
	}
	if err := paymentGuard(ctx, st, c); err != nil {
		return err
	}

	now := s.now()
	req.Status = status
	req.RespondedAt = &now
	req.UpdatedAt = now
	if err := st.UpdateEndRequest(ctx, req); err != nil {
		return err
	}

	end := generic.DateOf(now)
	if !end.After(c.ContractStartDate) {
		// Ended before it started; keep end strictly after start.
		end = c.ContractStartDate.AddDays(1)
	}
	c.Status = ContractEnded
	c.ContractEndDate = &end
	c.UpdatedAt = now
	return st.UpdateContract(ctx, c)
}

// paymentGuard fails while any payment is PENDING, OVERDUE or VERIFICATION.
func paymentGuard(ctx context.Context, st Store, c *Contract) error {
	unresolved, err := st.CountUnresolvedPayments(ctx, c.ID)
	if err != nil {
		return err
	}
	if unresolved > 0 {
		return &generic.PendingPaymentsError{RentalID: c.ID, Count: unresolved}
	}
	return nil
}

func (s *Service) endLog(req *EndRequest) logrus.FieldLogger {
	return s.Log.WithFields(logrus.Fields{
		"rental_id":      req.RentalID,
		"end_request_id": req.ID,
		"requested_by":   req.RequestedByID,
		"status":         req.Status,
	})
}

// autoAcceptDue reports whether the request's deadline has passed at now.
func autoAcceptDue(req *EndRequest, now time.Time) bool {
	return req.Status == EndPending && !req.AutoAcceptAt.After(now)
}
