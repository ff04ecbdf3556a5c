package router

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cvsloane/agent-commander/internal/registry"
	"github.com/cvsloane/agent-commander/internal/testutil"
	"github.com/cvsloane/agent-commander/internal/types"
)

func newTestRouter(t *testing.T, opts ...Option) (*Router, *registry.Registry) {
	t.Helper()
	reg := registry.New(nil)
	return New(reg, zap.NewNop(), opts...), reg
}

func subscribe(t *testing.T, reg *registry.Registry, subs ...types.Subscription) *testutil.FakeConn {
	t.Helper()
	conn := testutil.NewFakeConn()
	o := reg.RegisterObserver(conn, types.Identity{Subject: "tester", Role: types.RoleViewer})
	require.NoError(t, reg.SetSubscriptions(o.ID(), subs))
	return conn
}

func TestPublish_StatusFilterNarrowsBatch(t *testing.T) {
	r, reg := newTestRouter(t)
	conn := subscribe(t, reg, types.Subscription{
		Topic:  types.TopicSessions,
		Filter: map[string]any{"status": "ERROR"},
	})

	r.PublishSessions(context.Background(), []types.Session{
		testutil.MakeSession("s1", "h1", types.SessionStatusError),
		testutil.MakeSession("s2", "h1", types.SessionStatusRunning),
	}, nil)

	sent := conn.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, string(types.KindSessionsUpdated), sent[0].Type)
	assert.Equal(t, types.ProtocolVersion, sent[0].Version)
	p := testutil.SessionsPayload(t, sent[0])
	require.Len(t, p.Sessions, 1)
	assert.Equal(t, "s1", p.Sessions[0].ID)
}

func TestPublish_SuppressesEmptyNarrowing(t *testing.T) {
	r, reg := newTestRouter(t)
	conn := subscribe(t, reg, types.Subscription{
		Topic:  types.TopicSessions,
		Filter: map[string]any{"hostId": "other"},
	})

	r.PublishSessions(context.Background(), []types.Session{
		testutil.MakeSession("s1", "h1", types.SessionStatusRunning),
	}, nil)

	assert.Empty(t, conn.Sent())
}

func TestPublish_TopicMismatch(t *testing.T) {
	r, reg := newTestRouter(t)
	conn := subscribe(t, reg, types.Subscription{Topic: types.TopicApprovals})

	r.PublishUsage(context.Background(), types.UsageUpdate{SessionID: "s1", InputTokens: 10})
	assert.Empty(t, conn.Sent())

	r.PublishApprovalCreated(context.Background(), testutil.MakeApproval("a1", "s1"))
	require.Len(t, conn.Sent(), 1)
}

func TestPublish_SendFailureIsolated(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	reg := registry.New(nil)
	r := New(reg, zap.New(core))

	failing := testutil.NewFailingConn()
	o := reg.RegisterObserver(failing, types.Identity{})
	require.NoError(t, reg.SetSubscriptions(o.ID(), []types.Subscription{{Topic: types.TopicSessions}}))
	healthy := subscribe(t, reg, types.Subscription{Topic: types.TopicSessions})

	r.PublishSessions(context.Background(), []types.Session{
		testutil.MakeSession("s1", "h1", types.SessionStatusRunning),
	}, nil)

	require.Len(t, healthy.Sent(), 1)
	closed, reason := failing.Closed()
	assert.True(t, closed)
	assert.Equal(t, "send failed", reason)
	assert.Equal(t, 1, logs.FilterMessage("Observer send failed, closing connection").Len())
}

func TestPublish_PreservesOrderPerConnection(t *testing.T) {
	r, reg := newTestRouter(t)
	conn := subscribe(t, reg, types.Subscription{Topic: types.TopicConsole})

	for i := 0; i < 20; i++ {
		r.PublishConsole(context.Background(), types.ConsoleOutput{
			SessionID: "s1",
			Data:      fmt.Sprintf("line %d", i),
			Offset:    int64(i),
		})
	}

	sent := conn.Sent()
	require.Len(t, sent, 20)
	for i, env := range sent {
		out, ok := env.Payload.(types.ConsoleOutput)
		require.True(t, ok)
		assert.Equal(t, int64(i), out.Offset)
	}
}

func TestPublish_ResubscribeAppliesToNextEvent(t *testing.T) {
	r, reg := newTestRouter(t)
	conn := testutil.NewFakeConn()
	o := reg.RegisterObserver(conn, types.Identity{})
	require.NoError(t, reg.SetSubscriptions(o.ID(), []types.Subscription{
		{Topic: types.TopicTools, Filter: map[string]any{"sessionId": "s1"}},
	}))

	r.PublishToolActivity(context.Background(), types.ToolActivity{SessionID: "s2", Tool: "bash"})
	assert.Empty(t, conn.Sent())

	require.NoError(t, reg.SetSubscriptions(o.ID(), []types.Subscription{
		{Topic: types.TopicTools, Filter: map[string]any{"sessionId": "s2"}},
	}))
	r.PublishToolActivity(context.Background(), types.ToolActivity{SessionID: "s2", Tool: "bash"})
	assert.Len(t, conn.Sent(), 1, "no retroactive redelivery, only the new event")
}

func TestPublish_SharesEnvelopeWhenUnnarrowed(t *testing.T) {
	r, reg := newTestRouter(t)
	a := subscribe(t, reg, types.Subscription{Topic: types.TopicSessions})
	b := subscribe(t, reg, types.Subscription{Topic: types.TopicSessions, Filter: map[string]any{"sessionId": "s2"}})

	r.PublishSessions(context.Background(), []types.Session{
		testutil.MakeSession("s1", "h1", types.SessionStatusRunning),
		testutil.MakeSession("s2", "h1", types.SessionStatusRunning),
	}, []string{"s9"})

	pa := testutil.SessionsPayload(t, a.Sent()[0])
	pb := testutil.SessionsPayload(t, b.Sent()[0])
	assert.Len(t, pa.Sessions, 2)
	assert.Equal(t, []string{"s9"}, pa.Deleted)
	require.Len(t, pb.Sessions, 1)
	assert.Equal(t, "s2", pb.Sessions[0].ID)
	assert.Empty(t, pb.Deleted)
}

func TestPublishSessions_EmptyIsNoop(t *testing.T) {
	var calls int
	r, reg := newTestRouter(t, WithListener(ListenerFunc(func(context.Context, types.Event) { calls++ })))
	conn := subscribe(t, reg, types.Subscription{Topic: types.TopicSessions})

	r.PublishSessions(context.Background(), nil, nil)

	assert.Empty(t, conn.Sent())
	assert.Zero(t, calls)
}

func TestPublish_UnknownKindDropped(t *testing.T) {
	var calls int
	r, reg := newTestRouter(t, WithListener(ListenerFunc(func(context.Context, types.Event) { calls++ })))
	conn := subscribe(t, reg, types.Subscription{Topic: types.TopicSessions})

	r.Publish(context.Background(), types.Event{Kind: "bogus.kind"})

	assert.Empty(t, conn.Sent())
	assert.Zero(t, calls)
}

func TestPublish_ListenersSeeOriginalEvent(t *testing.T) {
	var mu sync.Mutex
	var seen []types.Event
	r, reg := newTestRouter(t)
	r.AddListener(ListenerFunc(func(_ context.Context, evt types.Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, evt)
	}))
	subscribe(t, reg, types.Subscription{Topic: types.TopicSessions, Filter: map[string]any{"sessionId": "s1"}})

	r.PublishSessions(context.Background(), []types.Session{
		testutil.MakeSession("s1", "h1", types.SessionStatusRunning),
		testutil.MakeSession("s2", "h1", types.SessionStatusRunning),
	}, nil)

	require.Len(t, seen, 1)
	p := seen[0].Payload.(types.SessionsUpdated)
	assert.Len(t, p.Sessions, 2, "listeners get the unfiltered event")
}

func TestPublish_NoObservers(t *testing.T) {
	r, _ := newTestRouter(t)
	assert.NotPanics(t, func() {
		r.PublishApprovalDecided(context.Background(), testutil.MakeApproval("a1", "s1"))
		r.PublishSessionEvent(context.Background(), types.SessionEvent{SessionID: "s1", Type: "note"})
		r.PublishSnapshot(context.Background(), types.SessionSnapshot{SessionID: "s1"})
	})
}

func TestPublish_ConcurrentPublishers(t *testing.T) {
	r, reg := newTestRouter(t)
	conn := subscribe(t, reg, types.Subscription{Topic: types.TopicUsage})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r.PublishUsage(context.Background(), types.UsageUpdate{SessionID: "s1", InputTokens: int64(n)})
		}(i)
	}
	wg.Wait()

	assert.Len(t, conn.Sent(), 10)
}
