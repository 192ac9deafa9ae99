package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rental-engine/rental"
)

func note(user string) rental.Notification {
	return rental.Notification{
		UserID:   user,
		Kind:     rental.KindPaymentOverdue,
		Title:    "Payment overdue",
		Body:     "Your payment is overdue.",
		Metadata: map[string]string{"rental_id": "r1", "payment_id": "p1"},
	}
}

type failingStore struct{}

func (failingStore) SaveNotification(context.Context, Record) error { return errors.New("disk full") }
func (failingStore) ListNotifications(context.Context, string, int) ([]Record, error) {
	return nil, nil
}

func TestLogWritesStructuredEntry(t *testing.T) {
	logger, hook := logtest.NewNullLogger()

	ok := (&Log{Logger: logger}).Notify(context.Background(), note("tenant-1"))

	require.True(t, ok)
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "Payment overdue", entry.Message)
	assert.Equal(t, "tenant-1", entry.Data["user_id"])
	assert.Equal(t, "p1", entry.Data["payment_id"])
}

func TestInboxStoresAndLists(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryInbox()
	inbox := NewInbox(mem, nil)
	now := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)
	inbox.Clock = func() time.Time {
		now = now.Add(time.Minute)
		return now
	}

	for _, title := range []string{"first", "second", "third"} {
		n := note("tenant-1")
		n.Title = title
		require.True(t, inbox.Notify(ctx, n))
	}
	require.True(t, inbox.Notify(ctx, note("landlord-1")))

	recs, err := inbox.List(ctx, "tenant-1", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "third", recs[0].Title)
	assert.Equal(t, "second", recs[1].Title)
	assert.Equal(t, string(rental.KindPaymentOverdue), recs[0].Kind)
	assert.NotEmpty(t, recs[0].ID)

	recs, err = inbox.List(ctx, "tenant-1", 0)
	require.NoError(t, err)
	assert.Len(t, recs, 3)

	recs, err = inbox.List(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestInboxReportsStoreFailure(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	inbox := NewInbox(failingStore{}, logger)

	assert.False(t, inbox.Notify(context.Background(), note("tenant-1")))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestFanoutSucceedsIfAnyTargetDoes(t *testing.T) {
	rec := &Recorder{}
	never := rental.NotifierFunc(func(context.Context, rental.Notification) bool { return false })

	assert.True(t, Fanout{never, nil, rec}.Notify(context.Background(), note("tenant-1")))
	assert.Len(t, rec.Sent(), 1)

	assert.False(t, Fanout{never}.Notify(context.Background(), note("tenant-1")))
	assert.False(t, Fanout{}.Notify(context.Background(), note("tenant-1")))
}

func TestRecorder(t *testing.T) {
	rec := &Recorder{}
	rec.Notify(context.Background(), note("tenant-1"))
	rec.Notify(context.Background(), note("landlord-1"))

	assert.Len(t, rec.Sent(), 2)
	assert.Len(t, rec.ForUser("tenant-1"), 1)

	rec.Reset()
	assert.Empty(t, rec.Sent())
}

// =============================================================================
// EMAIL
// =============================================================================

type sentMail struct {
	msg  *email.Email
	addr string
	auth smtp.Auth
}

func newTestEmail(cfg SMTPConfig, err error) (*Email, *[]sentMail) {
	logger, _ := logtest.NewNullLogger()
	var sent []sentMail
	e := NewEmail(cfg, logger)
	e.send = func(m *email.Email, addr string, auth smtp.Auth) error {
		sent = append(sent, sentMail{msg: m, addr: addr, auth: auth})
		return err
	}
	return e, &sent
}

func TestEmailSendsToResolvedAddress(t *testing.T) {
	e, sent := newTestEmail(SMTPConfig{
		Host:            "smtp.example.com",
		Port:            "587",
		Username:        "mailer",
		Password:        "secret",
		From:            "rentals@example.com",
		AddressTemplate: "%s@users.example.com",
	}, nil)

	ok := e.Notify(context.Background(), note("tenant-1"))

	require.True(t, ok)
	require.Len(t, *sent, 1)
	m := (*sent)[0]
	assert.Equal(t, "smtp.example.com:587", m.addr)
	assert.NotNil(t, m.auth)
	assert.Equal(t, []string{"tenant-1@users.example.com"}, m.msg.To)
	assert.Equal(t, "rentals@example.com", m.msg.From)
	assert.Equal(t, "Payment overdue", m.msg.Subject)
	body := string(m.msg.Text)
	assert.True(t, strings.HasPrefix(body, "Your payment is overdue."))
	assert.Contains(t, body, "Payment: p1")
}

func TestEmailWithoutCredentialsSkipsAuth(t *testing.T) {
	e, sent := newTestEmail(SMTPConfig{Host: "localhost", Port: "25", From: "a@b.c", AddressTemplate: "@example.com"}, nil)

	require.True(t, e.Notify(context.Background(), note("tenant-1")))
	assert.Nil(t, (*sent)[0].auth)
	assert.Equal(t, []string{"tenant-1@example.com"}, (*sent)[0].msg.To)
}

func TestEmailUndeliverable(t *testing.T) {
	// No way to resolve an address
	e, sent := newTestEmail(SMTPConfig{Host: "localhost", Port: "25", From: "a@b.c"}, nil)
	assert.False(t, e.Notify(context.Background(), note("tenant-1")))
	assert.Empty(t, *sent)

	// SMTP failure
	e, sent = newTestEmail(SMTPConfig{Host: "localhost", Port: "25", From: "a@b.c", AddressTemplate: "%s@x.io"}, errors.New("connection refused"))
	assert.False(t, e.Notify(context.Background(), note("tenant-1")))
	assert.Len(t, *sent, 1)

	// Custom resolver
	e, sent = newTestEmail(SMTPConfig{Host: "localhost", Port: "25", From: "a@b.c"}, nil)
	e.Resolve = func(userID string) (string, bool) { return "ops@example.com", userID == "landlord-1" }
	assert.False(t, e.Notify(context.Background(), note("tenant-1")))
	assert.True(t, e.Notify(context.Background(), note("landlord-1")))
	assert.Equal(t, []string{"ops@example.com"}, (*sent)[0].msg.To)
}

func TestSMTPConfigEnabled(t *testing.T) {
	assert.False(t, SMTPConfig{}.Enabled())
	assert.False(t, SMTPConfig{Host: "smtp"}.Enabled())
	assert.True(t, SMTPConfig{Host: "smtp", From: "a@b.c"}.Enabled())
}
