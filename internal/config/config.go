package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
	"sigs.k8s.io/yaml"

	"github.com/cvsloane/agent-commander/internal/auth"
	"github.com/cvsloane/agent-commander/internal/correlator"
	"github.com/cvsloane/agent-commander/internal/notifier"
	"github.com/cvsloane/agent-commander/internal/transport"
	"github.com/cvsloane/agent-commander/internal/types"
	"github.com/cvsloane/agent-commander/internal/util"
)

// EnvPrefix precedes every environment override.
const EnvPrefix = "COMMANDER_"

// Duration is a time.Duration that reads "10s" style strings or integer
// nanoseconds from YAML and JSON.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("duration must be a string like \"10s\" or integer nanoseconds: %s", b)
	}
	*d = Duration(n)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// Config is the full server configuration.
type Config struct {
	ListenAddr string `json:"listenAddr"`
	// PublicURL is the UI base used for links in alerts.
	PublicURL string `json:"publicUrl,omitempty"`
	LogLevel  string `json:"logLevel"`
	// LogFormat is "json" or "console".
	LogFormat string `json:"logFormat"`

	Tokens        []auth.Token        `json:"tokens,omitempty"`
	Transport     TransportConfig     `json:"transport"`
	Commands      CommandsConfig      `json:"commands"`
	Notifications NotificationsConfig `json:"notifications"`
}

// TransportConfig tunes the websocket endpoints.
type TransportConfig struct {
	SendBuffer     int      `json:"sendBuffer"`
	WriteTimeout   Duration `json:"writeTimeout"`
	PingInterval   Duration `json:"pingInterval"`
	ReadLimitBytes int64    `json:"readLimitBytes"`
	InboundRate    float64  `json:"inboundRate"`
	InboundBurst   int      `json:"inboundBurst"`
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`
}

// CommandsConfig tunes command dispatch.
type CommandsConfig struct {
	DefaultTimeout          Duration `json:"defaultTimeout"`
	MaxTimeout              Duration `json:"maxTimeout"`
	FailPendingOnDisconnect bool     `json:"failPendingOnDisconnect,omitempty"`
}

// NotificationsConfig tunes the alert pipeline and lists recipients.
type NotificationsConfig struct {
	DedupWindow   Duration                   `json:"dedupWindow"`
	Retention     Duration                   `json:"retention"`
	PruneInterval Duration                   `json:"pruneInterval"`
	SendTimeout   Duration                   `json:"sendTimeout"`
	Concurrency   int                        `json:"concurrency"`
	Recipients    []notifier.RecipientConfig `json:"recipients,omitempty"`
}

// Default returns a config with every default applied.
func Default() Config {
	t := transport.DefaultOptions()
	e := notifier.DefaultEngineOptions()
	return Config{
		ListenAddr: ":8080",
		LogLevel:   "info",
		LogFormat:  "json",
		Transport: TransportConfig{
			SendBuffer:     t.SendBuffer,
			WriteTimeout:   Duration(t.WriteTimeout),
			PingInterval:   Duration(t.PingInterval),
			ReadLimitBytes: t.ReadLimit,
			InboundRate:    float64(t.InboundRate),
			InboundBurst:   t.InboundBurst,
		},
		Commands: CommandsConfig{
			DefaultTimeout: Duration(correlator.DefaultTimeout),
			MaxTimeout:     Duration(t.MaxCommandTimeout),
		},
		Notifications: NotificationsConfig{
			DedupWindow:   Duration(e.DedupWindow),
			Retention:     Duration(e.Retention),
			PruneInterval: Duration(e.PruneInterval),
			SendTimeout:   Duration(10 * time.Second),
			Concurrency:   8,
		},
	}
}

// Load builds a config from defaults, then the YAML file at path (if any),
// then COMMANDER_* environment variables. Unknown YAML fields are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDotEnv loads environment variables from path. Missing files are ignored.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// ApplyEnv applies COMMANDER_* overrides read through lookup:
//
//	COMMANDER_LISTEN_ADDR, COMMANDER_PUBLIC_URL, COMMANDER_LOG_LEVEL,
//	COMMANDER_LOG_FORMAT, COMMANDER_COMMAND_TIMEOUT,
//	COMMANDER_FAIL_PENDING_ON_DISCONNECT, COMMANDER_ALLOWED_ORIGINS (csv),
//	COMMANDER_TOKENS (csv of token:subject:role, appended),
//	COMMANDER_WEBHOOK_URL and COMMANDER_WEBHOOK_TOKEN (adds a webhook recipient).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}

	if v, ok := get("LISTEN_ADDR"); ok {
		c.ListenAddr = v
	}
	if v, ok := get("PUBLIC_URL"); ok {
		c.PublicURL = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := get("LOG_FORMAT"); ok {
		c.LogFormat = v
	}
	if v, ok := get("COMMAND_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sCOMMAND_TIMEOUT: %w", EnvPrefix, err)
		}
		c.Commands.DefaultTimeout = Duration(d)
	}
	if v, ok := get("FAIL_PENDING_ON_DISCONNECT"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sFAIL_PENDING_ON_DISCONNECT: %w", EnvPrefix, err)
		}
		c.Commands.FailPendingOnDisconnect = b
	}
	if v, ok := get("ALLOWED_ORIGINS"); ok {
		c.Transport.AllowedOrigins = util.UniqueStrings(append(c.Transport.AllowedOrigins, util.SplitCSV(v)...))
	}
	if v, ok := get("TOKENS"); ok {
		tokens, err := ParseTokens(v)
		if err != nil {
			return fmt.Errorf("%sTOKENS: %w", EnvPrefix, err)
		}
		c.Tokens = append(c.Tokens, tokens...)
	}
	if v, ok := get("WEBHOOK_URL"); ok {
		token, _ := get("WEBHOOK_TOKEN")
		c.Notifications.Recipients = append(c.Notifications.Recipients, notifier.RecipientConfig{
			ID:      "env-webhook",
			Channel: notifier.ChannelConfig{Type: notifier.ChannelWebhook, URL: v, Token: token},
		})
	}
	return nil
}

// ParseTokens parses "token:subject:role" items separated by commas.
func ParseTokens(s string) ([]auth.Token, error) {
	var out []auth.Token
	for i, item := range util.SplitCSV(s) {
		parts := strings.Split(item, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("item %d: want token:subject:role", i)
		}
		out = append(out, auth.Token{
			Token:   parts[0],
			Subject: parts[1],
			Role:    types.Role(parts[2]),
		})
	}
	return out, nil
}

// Validate checks the whole config and reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ListenAddr) == "" {
		errs = append(errs, errors.New("listenAddr is required"))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("logLevel: %w", err))
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		errs = append(errs, fmt.Errorf("logFormat must be json or console, got %q", c.LogFormat))
	}
	if len(c.Tokens) == 0 {
		errs = append(errs, errors.New("at least one token is required"))
	} else if _, err := auth.NewStaticVerifier(c.Tokens); err != nil {
		errs = append(errs, err)
	}

	for name, d := range map[string]Duration{
		"transport.writeTimeout":      c.Transport.WriteTimeout,
		"transport.pingInterval":      c.Transport.PingInterval,
		"commands.defaultTimeout":     c.Commands.DefaultTimeout,
		"commands.maxTimeout":         c.Commands.MaxTimeout,
		"notifications.dedupWindow":   c.Notifications.DedupWindow,
		"notifications.retention":     c.Notifications.Retention,
		"notifications.pruneInterval": c.Notifications.PruneInterval,
		"notifications.sendTimeout":   c.Notifications.SendTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if c.Commands.MaxTimeout > 0 && c.Commands.DefaultTimeout > c.Commands.MaxTimeout {
		errs = append(errs, errors.New("commands.defaultTimeout exceeds commands.maxTimeout"))
	}

	seen := make(map[string]bool, len(c.Notifications.Recipients))
	for i, r := range c.Notifications.Recipients {
		if err := r.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("notifications.recipients[%d]: %w", i, err))
		}
		if seen[r.ID] {
			errs = append(errs, fmt.Errorf("notifications.recipients[%d]: duplicate id %q", i, r.ID))
		}
		seen[r.ID] = true
	}
	return errors.Join(errs...)
}

// TransportOptions converts the transport section.
func (c Config) TransportOptions() transport.Options {
	return transport.Options{
		SendBuffer:        c.Transport.SendBuffer,
		WriteTimeout:      c.Transport.WriteTimeout.D(),
		PingInterval:      c.Transport.PingInterval.D(),
		ReadLimit:         c.Transport.ReadLimitBytes,
		InboundRate:       rate.Limit(c.Transport.InboundRate),
		InboundBurst:      c.Transport.InboundBurst,
		MaxCommandTimeout: c.Commands.MaxTimeout.D(),
		OriginPatterns:    c.Transport.AllowedOrigins,
	}
}

// CorrelatorOptions converts the commands section.
func (c Config) CorrelatorOptions() correlator.Options {
	return correlator.Options{
		DefaultTimeout:          c.Commands.DefaultTimeout.D(),
		FailPendingOnDisconnect: c.Commands.FailPendingOnDisconnect,
	}
}

// EngineOptions converts the notification engine settings.
func (c Config) EngineOptions() notifier.EngineOptions {
	return notifier.EngineOptions{
		DedupWindow:   c.Notifications.DedupWindow.D(),
		Retention:     c.Notifications.Retention.D(),
		PruneInterval: c.Notifications.PruneInterval.D(),
	}
}

// BatcherOptions converts the notification send settings.
func (c Config) BatcherOptions() notifier.BatcherOptions {
	return notifier.BatcherOptions{
		SendTimeout: c.Notifications.SendTimeout.D(),
		Concurrency: c.Notifications.Concurrency,
	}
}

// Logger builds the process logger: production config with ISO8601 time.
func (c Config) Logger() (*zap.Logger, error) {
	logConfig := zap.NewProductionConfig()
	logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logConfig.Encoding = c.LogFormat
	level, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	logConfig.Level = level
	return logConfig.Build()
}
