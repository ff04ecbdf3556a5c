// Package codec encodes and decodes wire envelopes for the websocket
// endpoints.
//
// Three codecs share one schema, keyed by the json struct tags on the
// types package:
//
//   - json: text frames, the default for browsers and the CLI.
//   - msgpack: binary frames for executors and bandwidth-sensitive clients.
//   - cbor: binary frames with RFC 3339 timestamps.
//
// A client picks its codec with the websocket subprotocol
// "agent-commander.v1.<name>". A client that offers no known subprotocol
// gets JSON.
//
// Decoding is two-phase. Decode parses the envelope header and keeps the
// payload encoded; the caller inspects Frame.Type and then calls
// DecodePayload with the matching type:
//
//	frame, err := c.Decode(data)
//	switch frame.Type {
//	case types.MsgSubscribe:
//		var req types.SubscribeRequest
//		err = frame.DecodePayload(&req)
//	}
package codec
