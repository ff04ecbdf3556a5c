package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/cvsloane/agent-commander/internal/codec"
	"github.com/cvsloane/agent-commander/internal/types"
)

var (
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("connection closed")
	// ErrSendBufferFull is returned when a slow peer has not drained its
	// outbound queue. The router closes such connections.
	ErrSendBufferFull = errors.New("send buffer full")

	errBadFrame = errors.New("malformed frame")
)

// maxCloseReason is the websocket limit on close frame reason text.
const maxCloseReason = 123

// Conn adapts a websocket to registry.Conn. Sends are queued and written by
// a single writer goroutine, so Send never blocks on the network.
type Conn struct {
	ws     *websocket.Conn
	codec  codec.Codec
	logger *zap.Logger
	opts   Options

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	reason    string
}

func newConn(ws *websocket.Conn, c codec.Codec, logger *zap.Logger, opts Options) *Conn {
	return &Conn{
		ws:     ws,
		codec:  c,
		logger: logger,
		opts:   opts,
		out:    make(chan []byte, opts.SendBuffer),
		done:   make(chan struct{}),
	}
}

// Codec returns the negotiated codec.
func (c *Conn) Codec() codec.Codec { return c.codec }

// Send encodes env and queues it for the writer.
func (c *Conn) Send(_ context.Context, env types.Envelope) error {
	data, err := c.codec.Encode(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Type, err)
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.out <- data:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		sendOverflowTotal.Inc()
		return ErrSendBufferFull
	}
}

// Close stops the writer and closes the socket with reason. Safe to call
// more than once; only the first reason is kept. Close does not wait for
// the closing handshake.
func (c *Conn) Close(reason string) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		close(c.done)
		if len(reason) > maxCloseReason {
			reason = reason[:maxCloseReason]
		}
		go func() {
			_ = c.ws.Close(websocket.StatusNormalClosure, reason)
		}()
	})
	return nil
}

// CloseReason returns the reason passed to the first Close, or "".
func (c *Conn) CloseReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} { return c.done }

// writeLoop drains the send queue and keeps the peer alive with pings. It
// returns when the connection is closed or ctx ends.
func (c *Conn) writeLoop(ctx context.Context) {
	var ping <-chan time.Time
	if c.opts.PingInterval > 0 {
		ticker := time.NewTicker(c.opts.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case data := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
			err := c.ws.Write(wctx, c.codec.MessageType(), data)
			cancel()
			if err != nil {
				c.logger.Debug("Websocket write failed", zap.Error(err))
				_ = c.Close("write failed")
				return
			}
		case <-ping:
			pctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				c.logger.Debug("Websocket ping failed", zap.Error(err))
				_ = c.Close("ping timeout")
				return
			}
		}
	}
}

// read blocks for the next frame and decodes its header.
func (c *Conn) read(ctx context.Context) (codec.Frame, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return codec.Frame{}, err
	}
	frame, err := c.codec.Decode(data)
	if err != nil {
		return codec.Frame{}, fmt.Errorf("%w: %w", errBadFrame, err)
	}
	return frame, nil
}
