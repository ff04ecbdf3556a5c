package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvsloane/agent-commander/internal/types"
)

func session(id string, status types.SessionStatus) types.Session {
	return types.Session{ID: id, HostID: "host-1", Status: status, Provider: "claude"}
}

func sessionsEvent(deleted []string, sessions ...types.Session) types.Event {
	return types.Event{
		Kind:    types.KindSessionsUpdated,
		Payload: types.SessionsUpdated{Sessions: sessions, Deleted: deleted},
	}
}

func sessionIDs(t *testing.T, evt types.Event) []string {
	t.Helper()
	p, ok := evt.Payload.(types.SessionsUpdated)
	require.True(t, ok, "payload should be SessionsUpdated")
	ids := make([]string, 0, len(p.Sessions))
	for _, s := range p.Sessions {
		ids = append(ids, s.ID)
	}
	return ids
}

func deletedIDs(t *testing.T, evt types.Event) []string {
	t.Helper()
	p, ok := evt.Payload.(types.SessionsUpdated)
	require.True(t, ok, "payload should be SessionsUpdated")
	return p.Deleted
}

func TestSessionStatusFilter_OnlyErrorDelivered(t *testing.T) {
	m := Compile(types.Subscription{
		Topic:  types.TopicSessions,
		Filter: map[string]any{"status": "ERROR"},
	})

	out, ok := m.Match(sessionsEvent(nil,
		session("s-err", types.SessionStatusError),
		session("s-run", types.SessionStatusRunning),
	))

	require.True(t, ok)
	assert.Equal(t, []string{"s-err"}, sessionIDs(t, out))
}

func TestSessionFilters(t *testing.T) {
	all := []types.Session{
		{ID: "a", HostID: "h1", Status: types.SessionStatusRunning, Provider: "claude", GroupID: "g1", Title: "Refactor parser"},
		{ID: "b", HostID: "h2", Status: types.SessionStatusAwaitingInput, Provider: "codex", Branch: "feature/login"},
		{ID: "c", HostID: "h1", Status: types.SessionStatusError, Provider: "claude", WorkingDir: "/srv/api"},
		{ID: "d", HostID: "h2", Status: types.SessionStatusDone, Provider: "claude", Archived: true, RepoRoot: "/repos/web"},
		{ID: "e", HostID: "h1", Status: types.SessionStatusAwaitingApproval, Provider: "gemini", GroupID: "g2"},
	}

	tests := []struct {
		name   string
		filter map[string]any
		want   []string
	}{
		{name: "empty filter hides archived", filter: nil, want: []string{"a", "b", "c", "e"}},
		{name: "host id", filter: map[string]any{"hostId": "h1"}, want: []string{"a", "c", "e"}},
		{name: "session id", filter: map[string]any{"sessionId": "b"}, want: []string{"b"}},
		{name: "session ids array", filter: map[string]any{"sessionIds": []any{"a", "c"}}, want: []string{"a", "c"}},
		{name: "session ids csv", filter: map[string]any{"sessionIds": "a, e"}, want: []string{"a", "e"}},
		{name: "status csv lower case", filter: map[string]any{"status": "running,error"}, want: []string{"a", "c"}},
		{name: "status array", filter: map[string]any{"status": []any{"AWAITING_INPUT"}}, want: []string{"b"}},
		{name: "provider case-insensitive", filter: map[string]any{"provider": "Claude"}, want: []string{"a", "c"}},
		{name: "group id", filter: map[string]any{"groupId": "g2"}, want: []string{"e"}},
		{name: "group sentinel", filter: map[string]any{"groupId": UngroupedSentinel}, want: []string{"b", "c"}},
		{name: "ungrouped bool", filter: map[string]any{"ungrouped": true}, want: []string{"b", "c"}},
		{name: "archived only", filter: map[string]any{"archived": "only"}, want: []string{"d"}},
		{name: "archived only bool", filter: map[string]any{"archivedOnly": true}, want: []string{"d"}},
		{name: "include archived", filter: map[string]any{"archived": "include"}, want: []string{"a", "b", "c", "d", "e"}},
		{name: "include archived bool", filter: map[string]any{"includeArchived": "true"}, want: []string{"a", "b", "c", "d", "e"}},
		{name: "needs attention", filter: map[string]any{"needsAttention": true}, want: []string{"b", "c", "e"}},
		{name: "query title", filter: map[string]any{"q": "PARSER"}, want: []string{"a"}},
		{name: "query branch", filter: map[string]any{"query": "login"}, want: []string{"b"}},
		{name: "query working dir", filter: map[string]any{"q": "/srv"}, want: []string{"c"}},
		{name: "query repo root needs include", filter: map[string]any{"q": "web", "archived": "include"}, want: []string{"d"}},
		{name: "combined", filter: map[string]any{"hostId": "h1", "provider": "claude", "status": "ERROR"}, want: []string{"c"}},
		{name: "unknown keys ignored", filter: map[string]any{"flavour": "mint", "hostId": "h2"}, want: []string{"b"}},
		{name: "wrong types ignored", filter: map[string]any{"hostId": 42, "status": 7}, want: []string{"a", "b", "c", "e"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Compile(types.Subscription{Topic: types.TopicSessions, Filter: tt.filter})
			out, ok := m.Match(sessionsEvent(nil, all...))
			require.True(t, ok)
			assert.Equal(t, tt.want, sessionIDs(t, out))
		})
	}
}

func TestSessionFilter_NoMatchSuppressed(t *testing.T) {
	m := Compile(types.Subscription{
		Topic:  types.TopicSessions,
		Filter: map[string]any{"status": "ERROR"},
	})

	_, ok := m.Match(sessionsEvent(nil, session("s-run", types.SessionStatusRunning)))
	assert.False(t, ok, "empty narrowed payload should be suppressed")
}

func TestDeletedNarrowing(t *testing.T) {
	tests := []struct {
		name        string
		filter      map[string]any
		deleted     []string
		wantOK      bool
		wantDeleted []string
	}{
		{
			name:        "no id filter forwards full list",
			filter:      map[string]any{"status": "ERROR"},
			deleted:     []string{"x", "y"},
			wantOK:      true,
			wantDeleted: []string{"x", "y"},
		},
		{
			name:        "id set narrows deletions",
			filter:      map[string]any{"sessionIds": []any{"y", "z"}},
			deleted:     []string{"x", "y"},
			wantOK:      true,
			wantDeleted: []string{"y"},
		},
		{
			name:    "id set with no overlap suppresses",
			filter:  map[string]any{"sessionId": "q"},
			deleted: []string{"x", "y"},
			wantOK:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Compile(types.Subscription{Topic: types.TopicSessions, Filter: tt.filter})
			out, ok := m.Match(sessionsEvent(tt.deleted))
			require.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.wantDeleted, deletedIDs(t, out))
				assert.Empty(t, sessionIDs(t, out))
			}
		})
	}
}

func TestMatchAll_UnionPreservesOrder(t *testing.T) {
	matchers := CompileAll([]types.Subscription{
		{Topic: types.TopicSessions, Filter: map[string]any{"status": "ERROR"}},
		{Topic: types.TopicSessions, Filter: map[string]any{"sessionId": "a"}},
		{Topic: types.TopicApprovals},
	})

	out, ok := MatchAll(matchers, sessionsEvent([]string{"a", "b"},
		session("a", types.SessionStatusRunning),
		session("b", types.SessionStatusError),
		session("c", types.SessionStatusIdle),
	))

	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, sessionIDs(t, out))
	// The status subscription has no id narrowing, so it admits every deletion.
	assert.Equal(t, []string{"a", "b"}, deletedIDs(t, out))
}

func TestMatchAll_NarrowingIsSubset(t *testing.T) {
	full := []types.Session{
		session("a", types.SessionStatusRunning),
		session("b", types.SessionStatusError),
		session("c", types.SessionStatusAwaitingInput),
	}
	filters := []map[string]any{
		nil,
		{"status": "ERROR"},
		{"needsAttention": true},
		{"sessionIds": "a,c"},
		{"hostId": "nope"},
	}

	fullIDs := map[string]bool{"a": true, "b": true, "c": true}
	for _, f := range filters {
		m := Compile(types.Subscription{Topic: types.TopicSessions, Filter: f})
		out, ok := m.Match(sessionsEvent(nil, full...))
		if !ok {
			continue
		}
		for _, id := range sessionIDs(t, out) {
			assert.True(t, fullIDs[id], "narrowed payload contains %q not in input", id)
		}
		if f == nil {
			assert.Len(t, sessionIDs(t, out), len(full))
		}
	}
}

func TestApprovalFilter(t *testing.T) {
	created := types.Event{Kind: types.KindApprovalCreated, Payload: types.ApprovalPayload{
		Approval: types.Approval{ID: "ap-1", SessionID: "s1", Status: types.ApprovalStatusPending},
	}}
	decided := types.Event{Kind: types.KindApprovalDecided, Payload: types.ApprovalPayload{
		Approval: types.Approval{ID: "ap-1", SessionID: "s1", Status: types.ApprovalStatusApproved},
	}}

	tests := []struct {
		name        string
		filter      map[string]any
		wantCreated bool
		wantDecided bool
	}{
		{name: "no status", filter: nil, wantCreated: true, wantDecided: true},
		{name: "pending", filter: map[string]any{"status": "pending"}, wantCreated: true, wantDecided: false},
		{name: "decided", filter: map[string]any{"status": "DECIDED"}, wantCreated: false, wantDecided: true},
		{name: "approved", filter: map[string]any{"status": "approved"}, wantCreated: false, wantDecided: true},
		{name: "denied", filter: map[string]any{"status": "denied"}, wantCreated: false, wantDecided: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Compile(types.Subscription{Topic: types.TopicApprovals, Filter: tt.filter})
			_, ok := m.Match(created)
			assert.Equal(t, tt.wantCreated, ok, "created")
			_, ok = m.Match(decided)
			assert.Equal(t, tt.wantDecided, ok, "decided")
		})
	}
}

func TestPerSessionTopics(t *testing.T) {
	events := []types.Event{
		{Kind: types.KindSessionEvent, Payload: types.SessionEvent{SessionID: "s1", EventID: "e1"}},
		{Kind: types.KindSessionSnapshot, Payload: types.SessionSnapshot{SessionID: "s1"}},
		{Kind: types.KindToolActivity, Payload: types.ToolActivity{SessionID: "s1", Tool: "bash"}},
		{Kind: types.KindUsageUpdated, Payload: types.UsageUpdate{SessionID: "s1"}},
		{Kind: types.KindConsoleOutput, Payload: types.ConsoleOutput{SessionID: "s1", SubscriptionID: "sub-1"}},
	}

	for _, evt := range events {
		t.Run(string(evt.Kind), func(t *testing.T) {
			topic := evt.Kind.Topic()

			wildcard := Compile(types.Subscription{Topic: topic})
			_, ok := wildcard.Match(evt)
			assert.True(t, ok, "absent session id is a wildcard")

			same := Compile(types.Subscription{Topic: topic, Filter: map[string]any{"sessionId": "s1"}})
			_, ok = same.Match(evt)
			assert.True(t, ok, "equal session id matches")

			other := Compile(types.Subscription{Topic: topic, Filter: map[string]any{"sessionId": "s2"}})
			_, ok = other.Match(evt)
			assert.False(t, ok, "different session id does not match")

			wrongTopic := Compile(types.Subscription{Topic: types.TopicApprovals})
			_, ok = wrongTopic.Match(evt)
			assert.False(t, ok, "other topic never matches")
		})
	}
}

func TestConsoleSubscriptionID(t *testing.T) {
	evt := types.Event{Kind: types.KindConsoleOutput, Payload: types.ConsoleOutput{SessionID: "s1", SubscriptionID: "sub-1"}}

	m := Compile(types.Subscription{Topic: types.TopicConsole, Filter: map[string]any{"subscriptionId": "sub-1"}})
	_, ok := m.Match(evt)
	assert.True(t, ok)

	m = Compile(types.Subscription{Topic: types.TopicConsole, Filter: map[string]any{"subscriptionId": "sub-2"}})
	_, ok = m.Match(evt)
	assert.False(t, ok)
}

func TestUnknownTopicNeverMatches(t *testing.T) {
	m := Compile(types.Subscription{Topic: "weather"})
	assert.Equal(t, types.Topic(""), m.Topic())
	_, ok := m.Match(sessionsEvent(nil, session("a", types.SessionStatusRunning)))
	assert.False(t, ok)
}

func TestMatchAll_NoSubscriptions(t *testing.T) {
	_, ok := MatchAll(nil, sessionsEvent(nil, session("a", types.SessionStatusRunning)))
	assert.False(t, ok)
}
