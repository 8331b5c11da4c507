// Package notify delivers the "you have a new message" email.
//
// Delivery is fire-and-forget from the caller's point of view: the messaging service
// logs and counts failures but never surfaces them to the sender.
package notify

import (
	"context"
	"log/slog"
	"strings"
)

// NewMessage is the canonical payload for a new-message notification.
type NewMessage struct {
	To             string
	SenderName     string
	Preview        string
	ConversationID string
}

// Notifier sends new-message notifications.
type Notifier interface {
	NotifyNewMessage(ctx context.Context, msg NewMessage) error
}

// Noop is the sender used when no email provider is configured.
type Noop struct{}

// NotifyNewMessage does nothing.
func (Noop) NotifyNewMessage(_ context.Context, _ NewMessage) error { return nil }

const (
	DefaultFrom    = "Picked <onboarding@resend.dev>"
	DefaultSiteURL = "https://getpicked.co"
)

// Config is the explicit provider configuration injected at startup.
type Config struct {
	APIKey  string
	From    string
	SiteURL string
}

func (c Config) withDefaults() Config {
	c.APIKey = strings.TrimSpace(c.APIKey)
	if strings.TrimSpace(c.From) == "" {
		c.From = DefaultFrom
	}
	c.SiteURL = strings.TrimRight(strings.TrimSpace(c.SiteURL), "/")
	if c.SiteURL == "" {
		c.SiteURL = DefaultSiteURL
	}
	return c
}

// New returns a Resend-backed Notifier, or Noop when no API key is configured.
func New(cfg Config, log *slog.Logger) Notifier {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	if cfg.APIKey == "" {
		log.Info("notify.disabled", "reason", "no_api_key")
		return Noop{}
	}
	return NewResend(cfg)
}
