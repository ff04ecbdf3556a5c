// Package transport serves the observer and executor websocket endpoints.
//
// Both endpoints authenticate the upgrade request with a bearer token and
// negotiate a codec by subprotocol. Every connection gets one writer
// goroutine fed by a bounded queue; a peer that stops reading fills its
// queue and is closed by the router on the next failed send.
//
// # Observer protocol
//
//	server -> welcome{observerId, codec}
//	client -> subscribe{subscriptions}     server -> subscribed{count}
//	client -> command.request{hostId, ...} server -> command.result
//	client -> ping                         server -> pong
//	server -> <event kind>{payload}        for every matching event
//
// Replies echo the request envelope's id. Observer frames pass through a
// token-bucket limiter; frames over the limit get an error reply.
//
// # Executor protocol
//
// The token subject is the host id. A second connection for the same host
// supersedes the first.
//
//	server -> welcome{hostId, codec, lastAckedSeq}
//	server -> command{command, args}, correlationId set
//	client -> command.result, same correlationId
//	client -> hello | ping | <event kind>
//	server -> ack{seq}                     for frames with seq > 0
//
// Frames whose seq is at or below the last acknowledged seq are replays:
// they are acknowledged again and otherwise ignored.
package transport
