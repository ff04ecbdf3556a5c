package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cvsloane/agent-commander/internal/api"
	"github.com/cvsloane/agent-commander/internal/auth"
	"github.com/cvsloane/agent-commander/internal/config"
	"github.com/cvsloane/agent-commander/internal/notifier"
	"github.com/cvsloane/agent-commander/internal/testutil"
	"github.com/cvsloane/agent-commander/internal/types"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Tokens = []auth.Token{
		{Token: "viewer-token", Subject: "alice", Role: types.RoleViewer},
		{Token: "service-token", Subject: "state", Role: types.RoleService},
	}
	cfg.Notifications.Recipients = []notifier.RecipientConfig{{
		ID:      "ops",
		Channel: notifier.ChannelConfig{Type: notifier.ChannelWebhook, URL: "https://hooks.example.com/a"},
	}}
	return cfg
}

func getJSON(t *testing.T, url, tok string, out any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestNewApp_Wiring(t *testing.T) {
	var hits atomic.Int32
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer sink.Close()

	cfg := testConfig()
	cfg.Notifications.Recipients[0].Channel.URL = sink.URL
	a, err := newApp(cfg, zap.NewNop())
	require.NoError(t, err)
	srv := httptest.NewServer(a.handler)
	defer srv.Close()

	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/healthz", "", nil))

	var status api.StatusResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/status", "viewer-token", &status))
	assert.Equal(t, 1, status.Notifications.Recipients)

	// The alerter is attached to the router.
	sessions := func(st types.SessionStatus) types.Event {
		return types.Event{Kind: types.KindSessionsUpdated, Payload: types.SessionsUpdated{
			Sessions: []types.Session{testutil.MakeSession("s1", "h1", st)},
		}}
	}
	a.router.Publish(context.Background(), sessions(types.SessionStatusRunning))
	a.router.Publish(context.Background(), sessions(types.SessionStatusError))
	assert.Equal(t, 1, a.batcher.Pending(), "error transition queued for the recipient")
	a.batcher.Close()
	assert.EqualValues(t, 1, hits.Load())
}

func TestNewApp_InvalidRecipients(t *testing.T) {
	cfg := testConfig()
	cfg.Notifications.Recipients[0].Channel.Type = "pager"
	_, err := newApp(cfg, zap.NewNop())
	assert.ErrorContains(t, err, "configure recipients")
}

func TestReloadRecipients(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	a, err := newApp(testConfig(), zap.New(core))
	require.NoError(t, err)

	assert.ErrorContains(t, a.reloadRecipients(""), "no config file")

	path := filepath.Join(t.TempDir(), "commander.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
notifications:
  recipients:
    - id: ops
      channel: {type: webhook, url: "https://hooks.example.com/a"}
    - id: chat
      channel: {type: slack, url: "https://hooks.slack.com/services/T/B/X"}
`), 0o600))
	require.NoError(t, a.reloadRecipients(path))
	assert.Equal(t, 2, a.recipients.Len())
	assert.Equal(t, 1, logs.FilterMessage("Reloaded notification recipients").Len())

	require.NoError(t, os.WriteFile(path, []byte(`
notifications:
  recipients:
    - id: broken
      channel: {type: webhook, url: "ftp://nope"}
`), 0o600))
	assert.Error(t, a.reloadRecipients(path))
	assert.Equal(t, 2, a.recipients.Len(), "previous set stays active")
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestRun_ServesUntilCanceled(t *testing.T) {
	cfg := testConfig()
	cfg.ListenAddr = freeAddr(t)
	a, err := newApp(cfg, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.run(ctx, "") }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.ListenAddr + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(shutdownTimeout):
		t.Fatal("run did not return after cancel")
	}
}

func TestServeCmd_InvalidConfig(t *testing.T) {
	cmd := serveCmd()
	cmd.SetArgs([]string{"--env-file", filepath.Join(t.TempDir(), "none.env"), "--log-format", "xml"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Contains(t, err.Error(), "logFormat")
}

func TestServeCmd_Flags(t *testing.T) {
	cmd := serveCmd()
	for _, name := range []string{"config", "env-file", "listen", "log-level", "log-format", "command-timeout", "allowed-origin"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
	assert.Equal(t, "c", cmd.Flags().Lookup("config").Shorthand)
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := versionCmd()
	cmd.SetOut(&out)
	require.NoError(t, cmd.Execute())
	assert.Equal(t, version, strings.TrimSpace(out.String()))
}
