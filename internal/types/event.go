package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Topic is the coarse category an observer subscribes to.
type Topic string

const (
	TopicSessions  Topic = "sessions"
	TopicApprovals Topic = "approvals"
	TopicEvents    Topic = "events"
	TopicConsole   Topic = "console"
	TopicSnapshots Topic = "snapshots"
	TopicTools     Topic = "tools"
	TopicUsage     Topic = "usage"
)

// Topics lists every subscribable topic.
var Topics = []Topic{
	TopicSessions, TopicApprovals, TopicEvents, TopicConsole,
	TopicSnapshots, TopicTools, TopicUsage,
}

// Valid reports whether t is one of the known topics.
func (t Topic) Valid() bool {
	for _, known := range Topics {
		if t == known {
			return true
		}
	}
	return false
}

// EventKind identifies one of the fixed domain-event kinds. It doubles as the
// envelope "type" on the wire.
type EventKind string

const (
	KindSessionsUpdated EventKind = "sessions.updated"
	KindApprovalCreated EventKind = "approval.created"
	KindApprovalDecided EventKind = "approval.decided"
	KindSessionEvent    EventKind = "session.event"
	KindConsoleOutput   EventKind = "console.output"
	KindSessionSnapshot EventKind = "session.snapshot"
	KindToolActivity    EventKind = "tool.activity"
	KindUsageUpdated    EventKind = "usage.updated"
)

const maxEventKindNameSize = 64

// EventKinds lists every publishable kind.
var EventKinds = []EventKind{
	KindSessionsUpdated, KindApprovalCreated, KindApprovalDecided, KindSessionEvent,
	KindConsoleOutput, KindSessionSnapshot, KindToolActivity, KindUsageUpdated,
}

// Topic maps a kind to the topic observers subscribe to. Unknown kinds map
// to the empty topic, which no subscription matches.
func (k EventKind) Topic() Topic {
	switch k {
	case KindSessionsUpdated:
		return TopicSessions
	case KindApprovalCreated, KindApprovalDecided:
		return TopicApprovals
	case KindSessionEvent:
		return TopicEvents
	case KindConsoleOutput:
		return TopicConsole
	case KindSessionSnapshot:
		return TopicSnapshots
	case KindToolActivity:
		return TopicTools
	case KindUsageUpdated:
		return TopicUsage
	default:
		return ""
	}
}

// SessionsUpdated is the batch session-state payload. Deleted carries ids of
// sessions removed since the previous update.
type SessionsUpdated struct {
	Sessions []Session `json:"sessions"`
	Deleted  []string  `json:"deleted,omitempty"`
}

// Empty reports whether the batch carries nothing to deliver.
func (p SessionsUpdated) Empty() bool {
	return len(p.Sessions) == 0 && len(p.Deleted) == 0
}

// ApprovalPayload carries an approval for both creation and decision events.
type ApprovalPayload struct {
	Approval Approval `json:"approval"`
}

// SessionEvent is one entry of a session's event timeline.
type SessionEvent struct {
	SessionID string          `json:"sessionId"`
	EventID   string          `json:"eventId"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// ConsoleOutput is a chunk of terminal output. SubscriptionID correlates the
// chunk with the console stream an observer opened.
type ConsoleOutput struct {
	SessionID      string `json:"sessionId"`
	SubscriptionID string `json:"subscriptionId,omitempty"`
	Data           string `json:"data"`
	Offset         int64  `json:"offset,omitempty"`
}

// SessionSnapshot is a captured screen of a session's terminal.
type SessionSnapshot struct {
	SessionID  string    `json:"sessionId"`
	Content    string    `json:"content"`
	CapturedAt time.Time `json:"capturedAt"`
}

// ToolActivity reports a tool invocation inside a session.
type ToolActivity struct {
	SessionID  string    `json:"sessionId"`
	Tool       string    `json:"tool"`
	Phase      string    `json:"phase"` // started, finished, failed
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// UsageUpdate reports token and cost consumption for a session.
type UsageUpdate struct {
	SessionID    string  `json:"sessionId"`
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	CostUSD      float64 `json:"costUsd,omitempty"`
}

// Event is a domain event ready for fan-out. Payload holds the typed struct
// for Kind (SessionsUpdated for KindSessionsUpdated, and so on).
type Event struct {
	Kind    EventKind
	Payload any
}

// SessionID returns the session a per-session event belongs to, or "" for
// collection-shaped kinds.
func (e Event) SessionID() string {
	switch p := e.Payload.(type) {
	case ApprovalPayload:
		return p.Approval.SessionID
	case SessionEvent:
		return p.SessionID
	case ConsoleOutput:
		return p.SessionID
	case SessionSnapshot:
		return p.SessionID
	case ToolActivity:
		return p.SessionID
	case UsageUpdate:
		return p.SessionID
	default:
		return ""
	}
}

// DecodeEvent converts a kind and its raw JSON payload into a typed Event.
// Used by the ingest API where collaborators post events over HTTP.
func DecodeEvent(kind EventKind, raw json.RawMessage) (Event, error) {
	return DecodeEventWith(kind, func(v any) error {
		if len(raw) == 0 {
			return nil
		}
		return json.Unmarshal(raw, v)
	})
}

// DecodeEventWith is DecodeEvent for any wire format. unmarshal fills the
// pointer it is given from the encoded payload.
func DecodeEventWith(kind EventKind, unmarshal func(v any) error) (Event, error) {
	var payload any
	var err error
	switch kind {
	case KindSessionsUpdated:
		var p SessionsUpdated
		err = unmarshal(&p)
		payload = p
	case KindApprovalCreated, KindApprovalDecided:
		var p ApprovalPayload
		err = unmarshal(&p)
		payload = p
	case KindSessionEvent:
		var p SessionEvent
		err = unmarshal(&p)
		payload = p
	case KindConsoleOutput:
		var p ConsoleOutput
		err = unmarshal(&p)
		payload = p
	case KindSessionSnapshot:
		var p SessionSnapshot
		err = unmarshal(&p)
		payload = p
	case KindToolActivity:
		var p ToolActivity
		err = unmarshal(&p)
		payload = p
	case KindUsageUpdated:
		var p UsageUpdate
		err = unmarshal(&p)
		payload = p
	default:
		return Event{}, fmt.Errorf("unknown event kind %q", truncate(string(kind), maxEventKindNameSize))
	}
	if err != nil {
		return Event{}, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return Event{Kind: kind, Payload: payload}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
