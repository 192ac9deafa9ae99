/*
Package notify provides rental.Notifier implementations.

PURPOSE:
  The rental engine only knows the rental.Notifier port. This package
  supplies the concrete channels and a fanout that combines them:

  Log:    writes every notification as a structured log line
  Inbox:  persists notifications per user so the API can list them
  Email:  sends notifications over SMTP (see email.go)
  Fanout: delivers to several notifiers, reporting success if any succeeded

DELIVERY:
  Notify never returns an error. A false return is logged by the caller and
  otherwise ignored; a transition is never rolled back because a message
  could not be delivered.
*/
package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/warp/rental-engine/rental"
)

// Record is a delivered notification as stored in a user's inbox.
type Record struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Kind      string            `json:"kind"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// InboxStore persists inbox records.
type InboxStore interface {
	SaveNotification(ctx context.Context, rec Record) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]Record, error)
}

// =============================================================================
// LOG
// =============================================================================

// Log writes notifications to a logger. Always succeeds.
type Log struct {
	Logger logrus.FieldLogger
}

func (l *Log) Notify(_ context.Context, n rental.Notification) bool {
	fields := logrus.Fields{
		"user_id": n.UserID,
		"kind":    n.Kind,
	}
	for k, v := range n.Metadata {
		fields[k] = v
	}
	l.Logger.WithFields(fields).Info(n.Title)
	return true
}

// =============================================================================
// INBOX
// =============================================================================

// Inbox stores every notification in an InboxStore.
type Inbox struct {
	Store InboxStore
	Clock func() time.Time
	Log   logrus.FieldLogger
}

// NewInbox creates an inbox notifier.
func NewInbox(store InboxStore, log logrus.FieldLogger) *Inbox {
	return &Inbox{Store: store, Clock: time.Now, Log: log}
}

func (i *Inbox) Notify(ctx context.Context, n rental.Notification) bool {
	clock := i.Clock
	if clock == nil {
		clock = time.Now
	}
	rec := Record{
		ID:        uuid.NewString(),
		UserID:    n.UserID,
		Kind:      string(n.Kind),
		Title:     n.Title,
		Body:      n.Body,
		Metadata:  n.Metadata,
		CreatedAt: clock().UTC(),
	}
	if err := i.Store.SaveNotification(ctx, rec); err != nil {
		if i.Log != nil {
			i.Log.WithError(err).WithField("user_id", n.UserID).Warn("failed to store notification")
		}
		return false
	}
	return true
}

// List returns a user's most recent notifications.
func (i *Inbox) List(ctx context.Context, userID string, limit int) ([]Record, error) {
	return i.Store.ListNotifications(ctx, userID, limit)
}

// MemoryInbox is an InboxStore kept in memory.
type MemoryInbox struct {
	mu      sync.Mutex
	records map[string][]Record
}

// NewMemoryInbox creates an empty in-memory inbox.
func NewMemoryInbox() *MemoryInbox {
	return &MemoryInbox{records: make(map[string][]Record)}
}

func (m *MemoryInbox) SaveNotification(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.UserID] = append(m.records[rec.UserID], rec)
	return nil
}

func (m *MemoryInbox) ListNotifications(_ context.Context, userID string, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Record, len(m.records[userID]))
	copy(out, m.records[userID])
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// =============================================================================
// FANOUT
// =============================================================================

// Fanout delivers to every notifier. It reports true if at least one did.
type Fanout []rental.Notifier

func (f Fanout) Notify(ctx context.Context, n rental.Notification) bool {
	delivered := false
	for _, target := range f {
		if target == nil {
			continue
		}
		if target.Notify(ctx, n) {
			delivered = true
		}
	}
	return delivered
}

// Recorder keeps notifications in memory. Used by tests.
type Recorder struct {
	mu   sync.Mutex
	sent []rental.Notification
}

func (r *Recorder) Notify(_ context.Context, n rental.Notification) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return true
}

// Sent returns a copy of everything delivered so far.
func (r *Recorder) Sent() []rental.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]rental.Notification, len(r.sent))
	copy(out, r.sent)
	return out
}

// ForUser returns notifications delivered to userID.
func (r *Recorder) ForUser(userID string) []rental.Notification {
	var out []rental.Notification
	for _, n := range r.Sent() {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

// Reset forgets everything recorded.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}
