// Package notification is the email delivery contract. Sends are
// fire-and-forget: a delivery failure must never fail the surrounding ledger
// transaction, so callers log and swallow errors.
package notification

import (
	"context"
	"log/slog"
)

// Email is one outbound message.
type Email struct {
	To      string
	Subject string
	HTML    string
}

// Mailer delivers email to downstream providers.
type Mailer interface {
	Send(ctx context.Context, email Email) error
}

// LoggerMailer is a stub implementation that writes messages to the logger.
type LoggerMailer struct {
	logger *slog.Logger
}

// NewLoggerMailer constructs a logging mailer stub.
func NewLoggerMailer(logger *slog.Logger) *LoggerMailer {
	return &LoggerMailer{logger: logger}
}

// Send writes the message to the structured logger.
func (m *LoggerMailer) Send(_ context.Context, email Email) error {
	if m == nil || m.logger == nil {
		return nil
	}
	m.logger.Info("email", "to", email.To, "subject", email.Subject)
	return nil
}
