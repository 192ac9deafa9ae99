package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"

	"github.com/warp/rental-engine/rental"
)

// SMTPConfig holds the settings for outgoing mail.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string

	// AddressTemplate maps a user id to an address, e.g. "%s@mail.example.com".
	// Deployments with a user directory set Email.Resolve instead.
	AddressTemplate string
}

// Enabled reports whether enough is configured to send mail.
func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.From != ""
}

// sendFunc matches (*email.Email).Send so tests can intercept delivery.
type sendFunc func(e *email.Email, addr string, auth smtp.Auth) error

// Email sends notifications over SMTP.
type Email struct {
	cfg    SMTPConfig
	logger logrus.FieldLogger

	// Resolve returns the recipient address for a user id.
	Resolve func(userID string) (string, bool)

	send sendFunc
}

// NewEmail creates an SMTP notifier.
func NewEmail(cfg SMTPConfig, logger logrus.FieldLogger) *Email {
	e := &Email{
		cfg:    cfg,
		logger: logger,
		send: func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
	}
	e.Resolve = e.templateAddress
	return e
}

func (s *Email) templateAddress(userID string) (string, bool) {
	if s.cfg.AddressTemplate == "" || userID == "" {
		return "", false
	}
	if strings.Contains(s.cfg.AddressTemplate, "%s") {
		return fmt.Sprintf(s.cfg.AddressTemplate, userID), true
	}
	return userID + s.cfg.AddressTemplate, true
}

// Notify sends one message. Users without an address are reported undelivered.
func (s *Email) Notify(_ context.Context, n rental.Notification) bool {
	to, ok := s.Resolve(n.UserID)
	if !ok {
		return false
	}

	e := email.NewEmail()
	e.From = s.cfg.From
	e.To = []string{to}
	e.Subject = n.Title
	e.Text = []byte(s.body(n))

	addr := fmt.Sprintf("%s:%s", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	if err := s.send(e, addr, auth); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"to":   to,
			"kind": n.Kind,
		}).Error("failed to send email")
		return false
	}

	s.logger.WithFields(logrus.Fields{"to": to, "kind": n.Kind}).Debug("email sent")
	return true
}

func (s *Email) body(n rental.Notification) string {
	var b strings.Builder
	b.WriteString(n.Body)
	b.WriteString("\n")
	if id := n.Metadata["rental_id"]; id != "" {
		fmt.Fprintf(&b, "\nRental: %s", id)
	}
	if id := n.Metadata["payment_id"]; id != "" {
		fmt.Fprintf(&b, "\nPayment: %s", id)
	}
	b.WriteString("\n\nThis is an automated message.")
	return b.String()
}
