package rental

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/warp/rental-engine/generic"
)

// =============================================================================
// SERVICE - Entry point for every caller-facing operation
// =============================================================================

// Service holds the engine's collaborators. All operations take the caller's
// user id and return either a result or one of the generic errors.
type Service struct {
	Store    TxStore
	Notifier Notifier
	Log      logrus.FieldLogger

	// Clock and NewID are replaceable in tests.
	Clock func() time.Time
	NewID func() string
}

// NewService wires a service with the real clock and uuid ids.
// A nil logger discards output.
func NewService(store TxStore, notifier Notifier, log logrus.FieldLogger) *Service {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Service{
		Store:    store,
		Notifier: notifier,
		Log:      log.WithField("component", "rental"),
		Clock:    time.Now,
		NewID:    func() string { return uuid.NewString() },
	}
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock().UTC()
}

func (s *Service) today() generic.Date {
	return generic.DateOf(s.now())
}

func (s *Service) newID() string {
	if s.NewID == nil {
		return uuid.NewString()
	}
	return s.NewID()
}

// inTx runs fn in a store transaction and wraps driver failures.
func (s *Service) inTx(ctx context.Context, op string, fn func(Store) error) error {
	err := s.Store.WithTx(ctx, fn)
	if err == nil {
		return nil
	}
	if isDomainError(err) {
		return err
	}
	return generic.NewStorageError(op, err)
}

func isDomainError(err error) bool {
	return errors.Is(err, errSkip) ||
		generic.IsClientError(err) ||
		generic.IsNotFound(err) ||
		errors.Is(err, generic.ErrConcurrentModification) ||
		errors.Is(err, generic.ErrStorage)
}

// loadPayment returns the payment and its owning contract.
func loadPayment(ctx context.Context, st Store, paymentID string) (*Payment, *Contract, error) {
	p, err := st.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, nil, err
	}
	c, err := st.GetContract(ctx, p.RentalID)
	if err != nil {
		return nil, nil, err
	}
	return p, c, nil
}

// requireLandlord returns ErrNotAuthorized unless userID is the landlord.
func requireLandlord(c *Contract, userID string) error {
	if userID == "" || userID != c.LandlordID {
		return generic.ErrNotAuthorized
	}
	return nil
}

// requireParty returns ErrNotAuthorized unless userID is tenant or landlord.
func requireParty(c *Contract, userID string) error {
	if !c.IsParty(userID) {
		return generic.ErrNotAuthorized
	}
	return nil
}

// =============================================================================
// READ OPERATIONS - Used by the HTTP layer
// =============================================================================

// GetContract returns a contract visible to the caller.
func (s *Service) GetContract(ctx context.Context, callerID, rentalID string) (*Contract, error) {
	c, err := s.Store.GetContract(ctx, rentalID)
	if err != nil {
		return nil, generic.NewStorageError("get contract", err)
	}
	if err := requireParty(c, callerID); err != nil {
		return nil, err
	}
	return c, nil
}

// ListPayments returns a rental's payments ordered by due date.
func (s *Service) ListPayments(ctx context.Context, callerID, rentalID string) ([]Payment, error) {
	if _, err := s.GetContract(ctx, callerID, rentalID); err != nil {
		return nil, err
	}
	ps, err := s.Store.ListPayments(ctx, rentalID)
	if err != nil {
		return nil, generic.NewStorageError("list payments", err)
	}
	return ps, nil
}

// ListEndRequests returns a rental's end requests, newest first.
func (s *Service) ListEndRequests(ctx context.Context, callerID, rentalID string) ([]EndRequest, error) {
	if _, err := s.GetContract(ctx, callerID, rentalID); err != nil {
		return nil, err
	}
	rs, err := s.Store.ListEndRequests(ctx, rentalID)
	if err != nil {
		return nil, generic.NewStorageError("list end requests", err)
	}
	return rs, nil
}

// Today exposes the service clock's current day.
func (s *Service) Today() generic.Date { return s.today() }
