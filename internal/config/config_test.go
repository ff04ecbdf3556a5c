package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvsloane/agent-commander/internal/auth"
	"github.com/cvsloane/agent-commander/internal/notifier"
	"github.com/cvsloane/agent-commander/internal/types"
)

const sampleYAML = `
listenAddr: ":9090"
publicUrl: https://commander.example.com
logLevel: debug
tokens:
  - token: viewer-secret
    subject: alice
    role: viewer
  - token: host-secret
    subject: host-1
    role: executor
transport:
  pingInterval: 15s
  inboundRate: 5
commands:
  defaultTimeout: 30s
  failPendingOnDisconnect: true
notifications:
  dedupWindow: 2m
  recipients:
    - id: ops
      channel:
        type: slack
        url: https://hooks.slack.com/services/T/B/X
      kinds:
        session_completed: true
      providers: [claude, codex]
      maxPerHour: 5
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 10*time.Second, cfg.Commands.DefaultTimeout.D())
	assert.Equal(t, 5*time.Minute, cfg.Notifications.DedupWindow.D())
	assert.Equal(t, time.Hour, cfg.Notifications.Retention.D())
	assert.False(t, cfg.Commands.FailPendingOnDisconnect)

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one token")
}

func TestLoad_YAML(t *testing.T) {
	t.Setenv("COMMANDER_LISTEN_ADDR", "")
	cfg, err := Load(writeFile(t, "commander.yaml", sampleYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "https://commander.example.com", cfg.PublicURL)
	assert.Equal(t, 15*time.Second, cfg.Transport.PingInterval.D())
	assert.Equal(t, 10*time.Second, cfg.Transport.WriteTimeout.D(), "unset fields keep defaults")
	assert.Equal(t, 30*time.Second, cfg.Commands.DefaultTimeout.D())
	assert.True(t, cfg.Commands.FailPendingOnDisconnect)
	assert.Equal(t, 2*time.Minute, cfg.Notifications.DedupWindow.D())

	require.Len(t, cfg.Tokens, 2)
	assert.Equal(t, types.RoleExecutor, cfg.Tokens[1].Role)

	require.Len(t, cfg.Notifications.Recipients, 1)
	r := cfg.Notifications.Recipients[0]
	assert.Equal(t, "ops", r.ID)
	assert.Equal(t, notifier.ChannelSlack, r.Channel.Type)
	assert.True(t, r.KindEnabled(notifier.KindSessionCompleted))
	assert.Equal(t, []string{"claude", "codex"}, r.Providers)
	assert.Equal(t, 5, r.MaxPerHour)

	opts := cfg.TransportOptions()
	assert.Equal(t, 15*time.Second, opts.PingInterval)
	assert.EqualValues(t, 5, opts.InboundRate)
	assert.True(t, cfg.CorrelatorOptions().FailPendingOnDisconnect)
	assert.Equal(t, 2*time.Minute, cfg.EngineOptions().DedupWindow)
	assert.Equal(t, 8, cfg.BatcherOptions().Concurrency)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")

	_, err = Load(writeFile(t, "bad.yaml", "listenAddr: [unclosed"))
	assert.ErrorContains(t, err, "parse config")

	_, err = Load(writeFile(t, "unknown.yaml", "listenAdress: \":1\"\n"))
	assert.ErrorContains(t, err, "parse config", "unknown fields are rejected")

	_, err = Load(writeFile(t, "dur.yaml", "commands:\n  defaultTimeout: soon\n"))
	assert.Error(t, err)
}

func TestDuration_IntegerNanoseconds(t *testing.T) {
	cfg, err := Load(writeFile(t, "ns.yaml", "commands:\n  defaultTimeout: 2000000000\n"))
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Commands.DefaultTimeout.D())

	out, err := Duration(90 * time.Second).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(out))
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	cfg.Tokens = []auth.Token{{Token: "file-token", Subject: "alice", Role: types.RoleViewer}}
	err := cfg.ApplyEnv(envMap(map[string]string{
		"COMMANDER_LISTEN_ADDR":                "127.0.0.1:7000",
		"COMMANDER_LOG_FORMAT":                 "console",
		"COMMANDER_COMMAND_TIMEOUT":            "3s",
		"COMMANDER_FAIL_PENDING_ON_DISCONNECT": "true",
		"COMMANDER_ALLOWED_ORIGINS":            "ui.example.com, ui.example.com ,*.internal",
		"COMMANDER_TOKENS":                     "svc-token:state-layer:service, host-token:host-2:executor",
		"COMMANDER_WEBHOOK_URL":                "https://hooks.example.com/alerts",
		"COMMANDER_WEBHOOK_TOKEN":              "hook-secret",
		"COMMANDER_PUBLIC_URL":                 "   ",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:7000", cfg.ListenAddr)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, 3*time.Second, cfg.Commands.DefaultTimeout.D())
	assert.True(t, cfg.Commands.FailPendingOnDisconnect)
	assert.Equal(t, []string{"ui.example.com", "*.internal"}, cfg.Transport.AllowedOrigins)
	assert.Empty(t, cfg.PublicURL, "blank values are ignored")

	require.Len(t, cfg.Tokens, 3, "env tokens are appended")
	assert.Equal(t, "host-2", cfg.Tokens[2].Subject)

	require.Len(t, cfg.Notifications.Recipients, 1)
	r := cfg.Notifications.Recipients[0]
	assert.Equal(t, notifier.ChannelWebhook, r.Channel.Type)
	assert.Equal(t, "hook-secret", r.Channel.Token)
}

func TestApplyEnv_Invalid(t *testing.T) {
	tests := []struct {
		key, value, want string
	}{
		{"COMMANDER_COMMAND_TIMEOUT", "fast", "COMMANDER_COMMAND_TIMEOUT"},
		{"COMMANDER_FAIL_PENDING_ON_DISCONNECT", "maybe", "COMMANDER_FAIL_PENDING_ON_DISCONNECT"},
		{"COMMANDER_TOKENS", "only-two:parts", "want token:subject:role"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			cfg := Default()
			err := cfg.ApplyEnv(envMap(map[string]string{tt.key: tt.value}))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.Tokens = []auth.Token{{Token: "t", Subject: "alice", Role: types.RoleViewer}}
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no listen", func(c *Config) { c.ListenAddr = " " }, "listenAddr is required"},
		{"bad level", func(c *Config) { c.LogLevel = "chatty" }, "logLevel"},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, "logFormat"},
		{"bad role", func(c *Config) { c.Tokens[0].Role = "root" }, "unknown role"},
		{"negative", func(c *Config) { c.Notifications.DedupWindow = -1 }, "notifications.dedupWindow must not be negative"},
		{"default over max", func(c *Config) { c.Commands.DefaultTimeout = Duration(2 * time.Minute) }, "exceeds"},
		{"bad recipient", func(c *Config) {
			c.Notifications.Recipients = []notifier.RecipientConfig{{ID: "x", Channel: notifier.ChannelConfig{Type: "pager"}}}
		}, "notifications.recipients[0]"},
		{"duplicate recipient", func(c *Config) {
			r := notifier.RecipientConfig{ID: "x", Channel: notifier.ChannelConfig{Type: "webhook", URL: "https://a.example.com"}}
			c.Notifications.Recipients = []notifier.RecipientConfig{r, r}
		}, "duplicate id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.ListenAddr = ""
	cfg.LogFormat = "xml"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listenAddr")
	assert.Contains(t, err.Error(), "logFormat")
	assert.Contains(t, err.Error(), "token")
}

func TestFlags_OnlyChangedApply(t *testing.T) {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flags := RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--log-level=debug", "--command-timeout=45s", "--allowed-origin=a.example.com", "--allowed-origin=b.example.com"}))

	cfg := Default()
	cfg.ListenAddr = ":9999" // from file
	flags.Apply(&cfg)

	assert.Equal(t, ":9999", cfg.ListenAddr, "unset flag keeps file value")
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 45*time.Second, cfg.Commands.DefaultTimeout.D())
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, cfg.Transport.AllowedOrigins)
}

func TestLoadDotEnv(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")))

	path := writeFile(t, ".env", "COMMANDER_TEST_DOTENV=loaded\n")
	t.Setenv("COMMANDER_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("COMMANDER_TEST_DOTENV"))
	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("COMMANDER_TEST_DOTENV"))
}

func TestLogger(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "debug"
	logger, err := cfg.Logger()
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))

	cfg.LogLevel = "loud"
	_, err = cfg.Logger()
	assert.Error(t, err)
}

func TestNoEnvHelper(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(noEnv))
	assert.Equal(t, Default(), cfg)
}
