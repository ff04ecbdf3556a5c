// Package testutil provides shared test helpers for the agent-commander project.
// Import this in test files to avoid duplicating fake connections, session builders, etc.
package testutil

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cvsloane/agent-commander/internal/types"
)

// ErrSendFailed is returned by a FakeConn configured to fail.
var ErrSendFailed = errors.New("fake send failed")

// FakeConn is an in-memory connection that records every envelope sent to it.
// It satisfies registry.Conn.
type FakeConn struct {
	mu       sync.Mutex
	sent     []types.Envelope
	closed   bool
	reason   string
	failSend bool
	notify   chan struct{}
}

// NewFakeConn creates a FakeConn that accepts every send.
func NewFakeConn() *FakeConn {
	return &FakeConn{notify: make(chan struct{}, 1024)}
}

// NewFailingConn creates a FakeConn whose Send always fails.
func NewFailingConn() *FakeConn {
	c := NewFakeConn()
	c.failSend = true
	return c
}

// Send records env unless the connection is closed or configured to fail.
func (c *FakeConn) Send(_ context.Context, env types.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend || c.closed {
		return ErrSendFailed
	}
	c.sent = append(c.sent, env)
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

// Close marks the connection closed. Safe to call repeatedly.
func (c *FakeConn) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.reason = reason
	}
	return nil
}

// Sent returns a copy of every envelope recorded so far.
func (c *FakeConn) Sent() []types.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Envelope, len(c.sent))
	copy(out, c.sent)
	return out
}

// Closed reports whether Close was called, and with which reason.
func (c *FakeConn) Closed() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.reason
}

// WaitForSent polls until at least n envelopes were recorded or timeout.
func (c *FakeConn) WaitForSent(t *testing.T, n int, timeout time.Duration) []types.Envelope {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if sent := c.Sent(); len(sent) >= n {
			return sent
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d envelopes: got %d", n, len(c.Sent()))
		case <-c.notify:
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// MakeSession creates a test Session with the given parameters.
// Use for building test data in filter, router, and notifier tests.
func MakeSession(id, hostID string, status types.SessionStatus) types.Session {
	return types.Session{
		ID:        id,
		HostID:    hostID,
		Title:     "Test session " + id,
		Status:    status,
		Provider:  "claude",
		UpdatedAt: time.Now().UTC(),
	}
}

// MakeApproval creates a pending test Approval for a session.
func MakeApproval(id, sessionID string) types.Approval {
	return types.Approval{
		ID:        id,
		SessionID: sessionID,
		HostID:    "host-1",
		Tool:      "bash",
		Summary:   "Run rm -rf build/",
		Status:    types.ApprovalStatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// SessionsPayload asserts env carries a SessionsUpdated payload and returns it.
func SessionsPayload(t *testing.T, env types.Envelope) types.SessionsUpdated {
	t.Helper()
	p, ok := env.Payload.(types.SessionsUpdated)
	require.True(t, ok, "payload is %T, want SessionsUpdated", env.Payload)
	return p
}
