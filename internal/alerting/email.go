package alerting

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"
)

// EmailOptions parameterise the SMTP notifier.
type EmailOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

// EmailNotifier delivers alerts over SMTP with implicit TLS.
type EmailNotifier struct {
	opts   EmailOptions
	logger zerolog.Logger
}

// NewEmailNotifier constructs an SMTP notifier.
func NewEmailNotifier(opts EmailOptions, logger zerolog.Logger) *EmailNotifier {
	if opts.Port <= 0 {
		opts.Port = 465
	}
	if opts.Username == "" {
		opts.Username = opts.From
	}
	return &EmailNotifier{
		opts:   opts,
		logger: logger.With().Str("component", "alert_email").Logger(),
	}
}

// Notify sends the alert as a plain-text email.
func (n *EmailNotifier) Notify(ctx context.Context, note Notification) error {
	if n.opts.From == "" || n.opts.To == "" {
		return errors.New("email notifier requires sender and recipient addresses")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", n.opts.From)
	msg.SetHeader("To", n.opts.To)
	msg.SetHeader("Subject", subjectLine(note))
	msg.SetBody("text/plain", renderMessage(note))

	dialer := gomail.NewDialer(n.opts.Host, n.opts.Port, n.opts.Username, n.opts.Password)
	dialer.SSL = n.opts.Port == 465

	if err := dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send alert email: %w", err)
	}

	n.logger.Info().Str("input", note.Input).
		Str("to", n.opts.To).
		Str("change", note.Change.String()).
		Msg("alert sent (email)")
	return nil
}

var _ Notifier = (*EmailNotifier)(nil)
