package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/cvsloane/agent-commander/internal/types"
)

// Codec names.
const (
	NameJSON    = "json"
	NameMsgpack = "msgpack"
	NameCBOR    = "cbor"
)

// SubprotocolPrefix precedes the codec name in a websocket subprotocol,
// e.g. "agent-commander.v1.msgpack".
const SubprotocolPrefix = "agent-commander.v1."

// ErrUnknownCodec is returned by Lookup for an unregistered name.
var ErrUnknownCodec = errors.New("unknown codec")

// Codec converts envelopes to and from websocket frames.
type Codec interface {
	Name() string
	MessageType() websocket.MessageType
	Encode(env types.Envelope) ([]byte, error)
	Decode(data []byte) (Frame, error)
}

// Frame is a decoded envelope whose payload stays encoded until the caller
// knows which type to decode it into.
type Frame struct {
	Version       int
	Type          string
	Timestamp     time.Time
	ID            string
	CorrelationID string
	Seq           int64

	payload   []byte
	unmarshal func(data []byte, v any) error
}

// HasPayload reports whether the frame carried a non-null payload.
func (f Frame) HasPayload() bool { return len(f.payload) > 0 }

// DecodePayload decodes the payload into v. A missing payload leaves v
// untouched.
func (f Frame) DecodePayload(v any) error {
	if !f.HasPayload() {
		return nil
	}
	if err := f.unmarshal(f.payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", f.Type, err)
	}
	return nil
}

// Event decodes the frame as a domain event of kind Type.
func (f Frame) Event() (types.Event, error) {
	return types.DecodeEventWith(types.EventKind(f.Type), f.DecodePayload)
}

var (
	jsonCodec    = JSON{}
	msgpackCodec = Msgpack{}
	cborCodec    = newCBOR()

	byName = map[string]Codec{
		NameJSON:    jsonCodec,
		NameMsgpack: msgpackCodec,
		NameCBOR:    cborCodec,
	}
)

// Default returns the JSON codec.
func Default() Codec { return jsonCodec }

// Lookup returns the codec registered under name.
func Lookup(name string) (Codec, error) {
	c, ok := byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownCodec, name)
	}
	return c, nil
}

// Subprotocols lists the websocket subprotocols the server accepts, in
// preference order.
func Subprotocols() []string {
	return []string{
		SubprotocolPrefix + NameMsgpack,
		SubprotocolPrefix + NameCBOR,
		SubprotocolPrefix + NameJSON,
	}
}

// ForSubprotocol maps a negotiated subprotocol to its codec. An empty or
// unrecognized subprotocol selects JSON.
func ForSubprotocol(subprotocol string) Codec {
	name, ok := strings.CutPrefix(subprotocol, SubprotocolPrefix)
	if !ok {
		return jsonCodec
	}
	if c, err := Lookup(name); err == nil {
		return c
	}
	return jsonCodec
}

type jsonFrame struct {
	Version       int             `json:"version"`
	Type          string          `json:"type"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	ID            string          `json:"id,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Seq           int64           `json:"seq,omitempty"`
}

// JSON is the default text codec.
type JSON struct{}

func (JSON) Name() string                       { return NameJSON }
func (JSON) MessageType() websocket.MessageType { return websocket.MessageText }

func (JSON) Encode(env types.Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func (JSON) Decode(data []byte) (Frame, error) {
	var w jsonFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return Frame{}, fmt.Errorf("decode json frame: %w", err)
	}
	payload := []byte(w.Payload)
	if bytes.Equal(bytes.TrimSpace(payload), []byte("null")) {
		payload = nil
	}
	return Frame{
		Version:       w.Version,
		Type:          w.Type,
		Timestamp:     w.Timestamp,
		ID:            w.ID,
		CorrelationID: w.CorrelationID,
		Seq:           w.Seq,
		payload:       payload,
		unmarshal:     json.Unmarshal,
	}, nil
}

type msgpackFrame struct {
	Version       int                `json:"version"`
	Type          string             `json:"type"`
	Timestamp     time.Time          `json:"timestamp"`
	Payload       msgpack.RawMessage `json:"payload,omitempty"`
	ID            string             `json:"id,omitempty"`
	CorrelationID string             `json:"correlationId,omitempty"`
	Seq           int64              `json:"seq,omitempty"`
}

// msgpackNil is the encoding of a nil value.
const msgpackNil = 0xc0

// Msgpack is the MessagePack binary codec. Field names follow the json
// struct tags so every codec shares one schema.
type Msgpack struct{}

func (Msgpack) Name() string                       { return NameMsgpack }
func (Msgpack) MessageType() websocket.MessageType { return websocket.MessageBinary }

func (Msgpack) Encode(env types.Envelope) ([]byte, error) {
	return msgpackMarshal(env)
}

func (Msgpack) Decode(data []byte) (Frame, error) {
	var w msgpackFrame
	if err := msgpackUnmarshal(data, &w); err != nil {
		return Frame{}, fmt.Errorf("decode msgpack frame: %w", err)
	}
	payload := []byte(w.Payload)
	if len(payload) == 1 && payload[0] == msgpackNil {
		payload = nil
	}
	return Frame{
		Version:       w.Version,
		Type:          w.Type,
		Timestamp:     w.Timestamp,
		ID:            w.ID,
		CorrelationID: w.CorrelationID,
		Seq:           w.Seq,
		payload:       payload,
		unmarshal:     msgpackUnmarshal,
	}, nil
}

func msgpackMarshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.UseCompactInts(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func msgpackUnmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

type cborFrame struct {
	Version       int             `json:"version"`
	Type          string          `json:"type"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       cbor.RawMessage `json:"payload,omitempty"`
	ID            string          `json:"id,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Seq           int64           `json:"seq,omitempty"`
}

// cborNull is the encoding of a nil value.
const cborNull = 0xf6

// CBOR is the CBOR binary codec. Timestamps are RFC 3339 text so they
// survive a round trip through loosely typed clients, and maps decoded
// into any come back as map[string]any.
type CBOR struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBOR() CBOR {
	enc, err := cbor.EncOptions{
		Sort: cbor.SortCoreDeterministic,
		Time: cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
	return CBOR{enc: enc, dec: dec}
}

func (CBOR) Name() string                       { return NameCBOR }
func (CBOR) MessageType() websocket.MessageType { return websocket.MessageBinary }

func (c CBOR) Encode(env types.Envelope) ([]byte, error) {
	return c.enc.Marshal(env)
}

func (c CBOR) Decode(data []byte) (Frame, error) {
	var w cborFrame
	if err := c.dec.Unmarshal(data, &w); err != nil {
		return Frame{}, fmt.Errorf("decode cbor frame: %w", err)
	}
	payload := []byte(w.Payload)
	if len(payload) == 1 && payload[0] == cborNull {
		payload = nil
	}
	return Frame{
		Version:       w.Version,
		Type:          w.Type,
		Timestamp:     w.Timestamp,
		ID:            w.ID,
		CorrelationID: w.CorrelationID,
		Seq:           w.Seq,
		payload:       payload,
		unmarshal:     c.dec.Unmarshal,
	}, nil
}
