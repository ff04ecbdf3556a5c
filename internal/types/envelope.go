package types

import "time"

// ProtocolVersion is stamped on every envelope the server writes.
const ProtocolVersion = 1

// Control message types exchanged on the websocket endpoints. Domain events
// use their EventKind as the type.
const (
	MsgWelcome        = "welcome"
	MsgHello          = "hello"
	MsgSubscribe      = "subscribe"
	MsgSubscribed     = "subscribed"
	MsgCommandRequest = "command.request"
	MsgCommand        = "command"
	MsgCommandResult  = "command.result"
	MsgAck            = "ack"
	MsgError          = "error"
	MsgPing           = "ping"
	MsgPong           = "pong"
)

// Envelope is the topic-agnostic wire frame.
type Envelope struct {
	Version       int       `json:"version"`
	Type          string    `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	Payload       any       `json:"payload,omitempty"`
	ID            string    `json:"id,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Seq           int64     `json:"seq,omitempty"`
}

// NewEnvelope builds an envelope stamped with the protocol version and now.
func NewEnvelope(msgType string, payload any) Envelope {
	return Envelope{
		Version:   ProtocolVersion,
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// EventEnvelope wraps a domain event for delivery to observers.
func EventEnvelope(evt Event) Envelope {
	return NewEnvelope(string(evt.Kind), evt.Payload)
}

// Subscription selects events of one topic, narrowed by a topic-specific
// filter. Filter values arrive loosely typed from JSON.
type Subscription struct {
	Topic  Topic          `json:"type"`
	Filter map[string]any `json:"filter,omitempty"`
}

// SubscribeRequest replaces an observer's subscriptions wholesale.
type SubscribeRequest struct {
	Subscriptions []Subscription `json:"subscriptions"`
}

// SubscribedAck confirms the active subscription set.
type SubscribedAck struct {
	Count int `json:"count"`
}

// Welcome is the first frame an observer receives.
type Welcome struct {
	ObserverID string `json:"observerId,omitempty"`
	HostID     string `json:"hostId,omitempty"`
	Codec      string `json:"codec"`
	// LastAckedSeq is set for executors; frames at or below it are
	// treated as replays.
	LastAckedSeq int64 `json:"lastAckedSeq,omitempty"`
}

// Hello is the optional first frame an executor sends.
type Hello struct {
	AgentVersion string   `json:"agentVersion,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// CommandRequest is an observer intent to run a command on a host.
type CommandRequest struct {
	HostID    string         `json:"hostId"`
	Command   string         `json:"command"`
	Args      map[string]any `json:"args,omitempty"`
	TimeoutMs int64          `json:"timeoutMs,omitempty"`
}

// Command is what the executor receives. The envelope's CorrelationID pairs
// it with the executor's CommandResult.
type Command struct {
	Command string         `json:"command"`
	Args    map[string]any `json:"args,omitempty"`
}

// CommandResult is the executor's reply to a Command.
type CommandResult struct {
	OK     bool           `json:"ok"`
	Result map[string]any `json:"result,omitempty"`
	Error  *ErrorInfo     `json:"error,omitempty"`
}

// ErrorInfo is a code plus human-readable message.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Ack acknowledges executor frames up to and including Seq.
type Ack struct {
	Seq int64 `json:"seq"`
}
