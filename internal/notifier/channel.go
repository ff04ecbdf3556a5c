package notifier

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"
)

const (
	ChannelWebhook = "webhook"
	ChannelSlack   = "slack"

	userAgent = "agent-commander/v1"
)

// Message is a rendered alert.
type Message struct {
	Kind       Kind      `json:"kind"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	SessionID  string    `json:"sessionId,omitempty"`
	ApprovalID string    `json:"approvalId,omitempty"`
	HostID     string    `json:"hostId,omitempty"`
	Link       string    `json:"link,omitempty"`
	Actionable bool      `json:"actionable"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Channel delivers a rendered message to an external system.
type Channel interface {
	// Name returns the channel type, e.g. "webhook" or "slack".
	Name() string
	// Send performs one delivery attempt.
	Send(ctx context.Context, msg Message) error
}

// NewChannel builds the channel described by cfg.
func NewChannel(cfg ChannelConfig, logger *zap.Logger) (Channel, error) {
	if err := validateURL(cfg.URL); err != nil {
		return nil, err
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	switch cfg.Type {
	case ChannelWebhook:
		return NewWebhookChannel(logger, cfg.URL, cfg.Token, timeout), nil
	case ChannelSlack:
		return NewSlackChannel(logger, cfg.URL, timeout), nil
	default:
		return nil, fmt.Errorf("unsupported channel type %q", cfg.Type)
	}
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("channel URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid channel URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("channel URL must use http or https scheme, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("channel URL must include a host")
	}
	return nil
}

// RedactURL masks credentials in a URL for safe logging.
// It redacts userinfo passwords and query parameter values.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid-url>"
	}
	redacted := u.Redacted()
	if u.RawQuery == "" {
		return redacted
	}
	q := u.Query()
	for key := range q {
		q.Set(key, "REDACTED")
	}
	r, err := url.Parse(redacted)
	if err != nil {
		return redacted
	}
	r.RawQuery = q.Encode()
	return r.String()
}
