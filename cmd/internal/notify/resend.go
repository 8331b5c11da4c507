package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/resend/resend-go/v2"
)

// emailAPI is the slice of the Resend client this package uses.
type emailAPI interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// Resend delivers notifications through the Resend API.
type Resend struct {
	emails  emailAPI
	from    string
	siteURL string
}

// NewResend builds a Resend notifier. cfg.APIKey must be set.
func NewResend(cfg Config) *Resend {
	cfg = cfg.withDefaults()
	client := resend.NewClient(cfg.APIKey)
	return &Resend{emails: client.Emails, from: cfg.From, siteURL: cfg.SiteURL}
}

// NotifyNewMessage renders and sends the email. An empty recipient is rejected.
func (r *Resend) NotifyNewMessage(ctx context.Context, msg NewMessage) error {
	to := strings.TrimSpace(msg.To)
	if to == "" {
		return errors.New("notify: empty recipient")
	}

	email, err := RenderNewMessage(r.siteURL, msg)
	if err != nil {
		return fmt.Errorf("notify: render: %w", err)
	}

	if _, err := r.emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    r.from,
		To:      []string{to},
		Subject: email.Subject,
		Html:    email.HTML,
	}); err != nil {
		return fmt.Errorf("notify: resend: %w", err)
	}
	return nil
}
