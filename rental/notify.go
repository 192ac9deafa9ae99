package rental

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// =============================================================================
// NOTIFIER - Fire-and-forget delivery port
// =============================================================================

type NotificationKind string

const (
	KindPaymentSubmitted   NotificationKind = "payment_submitted"
	KindPaymentApproved    NotificationKind = "payment_approved"
	KindPaymentRejected    NotificationKind = "payment_rejected"
	KindPaymentMarkedPaid  NotificationKind = "payment_marked_paid"
	KindPaymentNotReceived NotificationKind = "payment_not_received"
	KindPaymentOverdue     NotificationKind = "payment_overdue"
	KindPaymentCreated     NotificationKind = "payment_created"
	KindContractActivated  NotificationKind = "contract_activated"
	KindContractSetup      NotificationKind = "contract_setup"
	KindContractExtended   NotificationKind = "contract_extended"
	KindContractExpiring   NotificationKind = "contract_expiring"
	KindContractExpired    NotificationKind = "contract_expired"
	KindContractRenewed    NotificationKind = "contract_renewed"
	KindEndRequested       NotificationKind = "end_requested"
	KindEndAccepted        NotificationKind = "end_accepted"
	KindEndAutoAccepted    NotificationKind = "end_auto_accepted"
	KindEndCancelled       NotificationKind = "end_cancelled"
)

// Notification is a message to a single user.
type Notification struct {
	UserID   string
	Kind     NotificationKind
	Title    string
	Body     string
	Metadata map[string]string
}

// Notifier delivers notifications. The return value reports delivery and is
// only ever logged; it never blocks or rolls back a transition.
type Notifier interface {
	Notify(ctx context.Context, n Notification) bool
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) bool

func (f NotifierFunc) Notify(ctx context.Context, n Notification) bool { return f(ctx, n) }

// dispatch sends notifications after the transition committed.
// Failures and panics are logged and swallowed.
func (s *Service) dispatch(ctx context.Context, ns ...Notification) {
	for _, n := range ns {
		if n.UserID == "" {
			continue
		}
		if ok := s.safeNotify(ctx, n); !ok {
			s.Log.WithFields(logrus.Fields{
				"user_id": n.UserID,
				"kind":    n.Kind,
			}).Warn("notification not delivered")
		}
	}
}

func (s *Service) safeNotify(ctx context.Context, n Notification) (ok bool) {
	if s.Notifier == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			s.Log.WithField("kind", n.Kind).Errorf("notifier panic: %v", r)
			ok = false
		}
	}()
	return s.Notifier.Notify(ctx, n)
}

func meta(kv ...string) map[string]string {
	m := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	return m
}

func paymentNote(userID string, kind NotificationKind, title string, p *Payment, body string, args ...any) Notification {
	return Notification{
		UserID:   userID,
		Kind:     kind,
		Title:    title,
		Body:     fmt.Sprintf(body, args...),
		Metadata: meta("rental_id", p.RentalID, "payment_id", p.ID, "period", p.Period.Key()),
	}
}

func contractNote(userID string, kind NotificationKind, title string, c *Contract, body string, args ...any) Notification {
	return Notification{
		UserID:   userID,
		Kind:     kind,
		Title:    title,
		Body:     fmt.Sprintf(body, args...),
		Metadata: meta("rental_id", c.ID, "property_id", c.PropertyID),
	}
}
