package notifier

import (
	"fmt"
	"strings"
	"time"
)

// Kind is a notification category a recipient can enable or disable.
type Kind string

const (
	KindApprovalRequested Kind = "approval_requested"
	KindAwaitingInput     Kind = "awaiting_input"
	KindSessionError      Kind = "session_error"
	KindSessionCompleted  Kind = "session_completed"
	KindSessionIdle       Kind = "session_idle"
)

// Kinds lists every notification kind.
var Kinds = []Kind{
	KindApprovalRequested, KindAwaitingInput, KindSessionError,
	KindSessionCompleted, KindSessionIdle,
}

// EnabledByDefault reports the built-in enablement used when a recipient
// does not configure the kind.
func (k Kind) EnabledByDefault() bool {
	switch k {
	case KindApprovalRequested, KindAwaitingInput, KindSessionError:
		return true
	default:
		return false
	}
}

const (
	DefaultMaxPerHour      = 20
	DefaultBatchDelay      = time.Second
	DefaultSessionCooldown = 10 * time.Minute
)

// ChannelConfig selects and addresses the external channel.
type ChannelConfig struct {
	// Type is "webhook" or "slack".
	Type string `json:"type"`
	URL  string `json:"url"`
	// Token is sent as a bearer token by the webhook channel.
	Token          string `json:"token,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"`
}

// RecipientConfig is the per-recipient notification configuration.
type RecipientConfig struct {
	ID      string        `json:"id"`
	Channel ChannelConfig `json:"channel"`

	// Kinds overrides per-kind enablement. Unset kinds use EnabledByDefault.
	Kinds          map[Kind]bool `json:"kinds,omitempty"`
	ActionableOnly bool          `json:"actionableOnly,omitempty"`
	// Providers restricts notifications to sessions of these providers.
	// Empty allows all.
	Providers []string `json:"providers,omitempty"`

	MaxPerHour        int   `json:"maxPerHour,omitempty"`
	BatchDelayMs      int64 `json:"batchDelayMs,omitempty"`
	SessionCooldownMs int64 `json:"sessionCooldownMs,omitempty"`
}

// KindEnabled reports whether k is enabled for this recipient.
func (c RecipientConfig) KindEnabled(k Kind) bool {
	if enabled, ok := c.Kinds[k]; ok {
		return enabled
	}
	return k.EnabledByDefault()
}

// ProviderAllowed reports whether notifications about provider may be sent.
// An unknown provider passes.
func (c RecipientConfig) ProviderAllowed(provider string) bool {
	if len(c.Providers) == 0 || provider == "" {
		return true
	}
	for _, p := range c.Providers {
		if strings.EqualFold(p, provider) {
			return true
		}
	}
	return false
}

func (c RecipientConfig) maxPerHour() int {
	if c.MaxPerHour > 0 {
		return c.MaxPerHour
	}
	return DefaultMaxPerHour
}

func (c RecipientConfig) batchDelay() time.Duration {
	if c.BatchDelayMs > 0 {
		return time.Duration(c.BatchDelayMs) * time.Millisecond
	}
	return DefaultBatchDelay
}

func (c RecipientConfig) sessionCooldown() time.Duration {
	if c.SessionCooldownMs > 0 {
		return time.Duration(c.SessionCooldownMs) * time.Millisecond
	}
	return DefaultSessionCooldown
}

// Validate checks the recipient for configuration errors.
func (c RecipientConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("recipient id is required")
	}
	for k := range c.Kinds {
		if !k.known() {
			return fmt.Errorf("recipient %s: unknown notification kind %q", c.ID, k)
		}
	}
	if c.MaxPerHour < 0 || c.BatchDelayMs < 0 || c.SessionCooldownMs < 0 {
		return fmt.Errorf("recipient %s: throttle settings must not be negative", c.ID)
	}
	switch c.Channel.Type {
	case ChannelWebhook, ChannelSlack:
	default:
		return fmt.Errorf("recipient %s: unsupported channel type %q", c.ID, c.Channel.Type)
	}
	if err := validateURL(c.Channel.URL); err != nil {
		return fmt.Errorf("recipient %s: %w", c.ID, err)
	}
	return nil
}

func (k Kind) known() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Recipient pairs a configuration with its constructed channel.
type Recipient struct {
	Config  RecipientConfig
	Channel Channel
}

// ID returns the recipient's configured id.
func (r Recipient) ID() string { return r.Config.ID }
