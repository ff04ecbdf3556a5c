package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cvsloane/agent-commander/internal/auth"
	"github.com/cvsloane/agent-commander/internal/codec"
	"github.com/cvsloane/agent-commander/internal/correlator"
	"github.com/cvsloane/agent-commander/internal/registry"
	"github.com/cvsloane/agent-commander/internal/router"
	"github.com/cvsloane/agent-commander/internal/types"
)

// Error codes sent in MsgError frames.
const (
	CodeBadFrame            = "bad_frame"
	CodeBadPayload          = "bad_payload"
	CodeInvalidSubscription = "invalid_subscription"
	CodeForbidden           = "forbidden"
	CodeRateLimited         = "rate_limited"
	CodeUnknownType         = "unknown_type"
)

// Options configures the websocket endpoints.
type Options struct {
	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int
	// WriteTimeout bounds one frame write or ping.
	WriteTimeout time.Duration
	// PingInterval is how often idle peers are pinged. Zero disables pings.
	PingInterval time.Duration
	// ReadLimit caps one inbound frame in bytes.
	ReadLimit int64
	// InboundRate and InboundBurst limit frames per observer.
	InboundRate  rate.Limit
	InboundBurst int
	// MaxCommandTimeout caps the timeout an observer may request.
	MaxCommandTimeout time.Duration
	// OriginPatterns lists extra origins allowed to open sockets.
	OriginPatterns []string
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		SendBuffer:        256,
		WriteTimeout:      10 * time.Second,
		PingInterval:      30 * time.Second,
		ReadLimit:         1 << 20,
		InboundRate:       20,
		InboundBurst:      40,
		MaxCommandTimeout: time.Minute,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SendBuffer <= 0 {
		o.SendBuffer = d.SendBuffer
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = d.ReadLimit
	}
	if o.InboundRate <= 0 {
		o.InboundRate = d.InboundRate
	}
	if o.InboundBurst <= 0 {
		o.InboundBurst = d.InboundBurst
	}
	if o.MaxCommandTimeout <= 0 {
		o.MaxCommandTimeout = d.MaxCommandTimeout
	}
	return o
}

// Server serves the observer and executor websocket endpoints.
type Server struct {
	reg      *registry.Registry
	router   *router.Router
	corr     *correlator.Correlator
	verifier auth.Verifier
	logger   *zap.Logger
	opts     Options
}

// New creates a Server. Zero option fields take their defaults.
func New(reg *registry.Registry, rt *router.Router, corr *correlator.Correlator, verifier auth.Verifier, logger *zap.Logger, opts Options) *Server {
	return &Server{
		reg:      reg,
		router:   rt,
		corr:     corr,
		verifier: verifier,
		logger:   logger.Named("transport"),
		opts:     opts.withDefaults(),
	}
}

// ObserverHandler accepts observer sockets.
func (s *Server) ObserverHandler() http.Handler { return http.HandlerFunc(s.serveObserver) }

// ExecutorHandler accepts executor sockets. The token subject is the host id.
func (s *Server) ExecutorHandler() http.Handler { return http.HandlerFunc(s.serveExecutor) }

func (s *Server) accept(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (*Conn, error) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   codec.Subprotocols(),
		OriginPatterns: s.opts.OriginPatterns,
	})
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(s.opts.ReadLimit)
	return newConn(ws, codec.ForSubprotocol(ws.Subprotocol()), logger, s.opts), nil
}

func (s *Server) serveObserver(w http.ResponseWriter, r *http.Request) {
	id, err := auth.Authenticate(r.Context(), s.verifier, r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if id.Role == types.RoleExecutor {
		http.Error(w, "executors connect on the executor endpoint", http.StatusForbidden)
		return
	}

	logger := s.logger.With(zap.String("subject", id.Subject))
	conn, err := s.accept(w, r, logger)
	if err != nil {
		logger.Debug("Websocket accept failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	var inflight sync.WaitGroup
	obs := s.reg.RegisterObserver(conn, id)
	logger = logger.With(zap.String("observer", obs.ID()), zap.String("codec", conn.Codec().Name()))
	connectionsGauge.WithLabelValues(roleObserver).Inc()
	logger.Info("Observer connected")

	defer func() {
		s.reg.UnregisterObserver(obs.ID())
		cancel()
		inflight.Wait()
		_ = conn.Close("connection closed")
		connectionsGauge.WithLabelValues(roleObserver).Dec()
		logger.Info("Observer disconnected", zap.String("reason", conn.CloseReason()))
	}()

	go conn.writeLoop(ctx)
	_ = conn.Send(ctx, types.NewEnvelope(types.MsgWelcome, types.Welcome{
		ObserverID: obs.ID(),
		Codec:      conn.Codec().Name(),
	}))

	limiter := rate.NewLimiter(s.opts.InboundRate, s.opts.InboundBurst)
	for {
		frame, err := conn.read(ctx)
		if errors.Is(err, errBadFrame) {
			sendError(ctx, conn, "", CodeBadFrame, err.Error())
			continue
		}
		if err != nil {
			logReadEnd(logger, err)
			return
		}
		framesReceivedTotal.WithLabelValues(roleObserver, frameLabel(frame.Type)).Inc()

		if !limiter.Allow() {
			rateLimitedTotal.Inc()
			sendError(ctx, conn, frame.ID, CodeRateLimited, "too many messages")
			continue
		}
		s.handleObserverFrame(ctx, &inflight, obs, conn, frame, logger)
	}
}

func (s *Server) handleObserverFrame(ctx context.Context, inflight *sync.WaitGroup, obs *registry.Observer, conn *Conn, frame codec.Frame, logger *zap.Logger) {
	switch frame.Type {
	case types.MsgSubscribe:
		var req types.SubscribeRequest
		if err := frame.DecodePayload(&req); err != nil {
			sendError(ctx, conn, frame.ID, CodeBadPayload, err.Error())
			return
		}
		if err := validateSubscriptions(req.Subscriptions); err != nil {
			sendError(ctx, conn, frame.ID, CodeInvalidSubscription, err.Error())
			return
		}
		if err := s.reg.SetSubscriptions(obs.ID(), req.Subscriptions); err != nil {
			sendError(ctx, conn, frame.ID, CodeInvalidSubscription, err.Error())
			return
		}
		logger.Debug("Subscriptions replaced", zap.Int("count", len(req.Subscriptions)))
		reply(ctx, conn, frame.ID, types.MsgSubscribed, types.SubscribedAck{Count: len(req.Subscriptions)})

	case types.MsgPing:
		reply(ctx, conn, frame.ID, types.MsgPong, nil)

	case types.MsgCommandRequest:
		if !obs.Identity().CanCommand() {
			sendError(ctx, conn, frame.ID, CodeForbidden, "role "+string(obs.Identity().Role)+" may not dispatch commands")
			return
		}
		var req types.CommandRequest
		if err := frame.DecodePayload(&req); err != nil {
			sendError(ctx, conn, frame.ID, CodeBadPayload, err.Error())
			return
		}
		if req.HostID == "" || req.Command == "" {
			sendError(ctx, conn, frame.ID, CodeBadPayload, "hostId and command are required")
			return
		}
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			s.runCommand(ctx, conn, frame.ID, req, logger)
		}()

	default:
		sendError(ctx, conn, frame.ID, CodeUnknownType, fmt.Sprintf("unsupported message type %q", frame.Type))
	}
}

// runCommand dispatches one observer command and replies with its result.
// The reply's id echoes the request id.
func (s *Server) runCommand(ctx context.Context, conn *Conn, requestID string, req types.CommandRequest, logger *zap.Logger) {
	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout > s.opts.MaxCommandTimeout {
		timeout = s.opts.MaxCommandTimeout
	}

	env := types.NewEnvelope(types.MsgCommand, types.Command{Command: req.Command, Args: req.Args})
	res, err := s.corr.Dispatch(ctx, req.HostID, env, "", timeout)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Debug("Command failed",
			zap.String("host", req.HostID),
			zap.String("command", req.Command),
			zap.Error(err))
		res.OK = false
		res.Error = correlator.ErrorInfo(err)
	}
	reply(ctx, conn, requestID, types.MsgCommandResult, res)
}

func (s *Server) serveExecutor(w http.ResponseWriter, r *http.Request) {
	id, err := auth.Authenticate(r.Context(), s.verifier, r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if id.Role != types.RoleExecutor {
		http.Error(w, "executor role required", http.StatusForbidden)
		return
	}
	hostID := id.Subject

	logger := s.logger.With(zap.String("host", hostID))
	conn, err := s.accept(w, r, logger)
	if err != nil {
		logger.Debug("Websocket accept failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	exec := s.reg.RegisterExecutor(hostID, conn)
	logger = logger.With(zap.String("codec", conn.Codec().Name()))
	connectionsGauge.WithLabelValues(roleExecutor).Inc()
	logger.Info("Executor connected")

	defer func() {
		cancel()
		_ = conn.Close("connection closed")
		if s.reg.ReleaseExecutor(exec) {
			if n := s.corr.HostDisconnected(hostID); n > 0 {
				logger.Info("Failed pending commands for disconnected host", zap.Int("count", n))
			}
		}
		connectionsGauge.WithLabelValues(roleExecutor).Dec()
		logger.Info("Executor disconnected", zap.String("reason", conn.CloseReason()))
	}()

	go conn.writeLoop(ctx)
	_ = conn.Send(ctx, types.NewEnvelope(types.MsgWelcome, types.Welcome{
		HostID:       hostID,
		Codec:        conn.Codec().Name(),
		LastAckedSeq: exec.LastAckedSeq(),
	}))

	for {
		frame, err := conn.read(ctx)
		if errors.Is(err, errBadFrame) {
			sendError(ctx, conn, "", CodeBadFrame, err.Error())
			continue
		}
		if err != nil {
			logReadEnd(logger, err)
			return
		}
		framesReceivedTotal.WithLabelValues(roleExecutor, frameLabel(frame.Type)).Inc()

		if frame.Seq > 0 && frame.Seq <= exec.LastAckedSeq() {
			replayedFramesTotal.Inc()
			reply(ctx, conn, "", types.MsgAck, types.Ack{Seq: exec.LastAckedSeq()})
			continue
		}
		// A rejected frame is still acknowledged: resending it cannot help.
		if code, err := s.handleExecutorFrame(ctx, hostID, conn, frame, logger); err != nil {
			sendError(ctx, conn, frame.ID, code, err.Error())
		}
		if frame.Seq > 0 && exec.Ack(frame.Seq) {
			reply(ctx, conn, "", types.MsgAck, types.Ack{Seq: frame.Seq})
		}
	}
}

func (s *Server) handleExecutorFrame(ctx context.Context, hostID string, conn *Conn, frame codec.Frame, logger *zap.Logger) (string, error) {
	switch {
	case frame.Type == types.MsgHello:
		var h types.Hello
		if err := frame.DecodePayload(&h); err != nil {
			return CodeBadPayload, err
		}
		logger.Info("Executor hello",
			zap.String("agentVersion", h.AgentVersion),
			zap.Strings("capabilities", h.Capabilities))

	case frame.Type == types.MsgCommandResult:
		if frame.CorrelationID == "" {
			return CodeBadPayload, errors.New("correlationId is required")
		}
		var res types.CommandResult
		if err := frame.DecodePayload(&res); err != nil {
			return CodeBadPayload, err
		}
		if !s.corr.Resolve(frame.CorrelationID, res) {
			logger.Debug("Ignoring result for unknown or settled command",
				zap.String("correlationId", frame.CorrelationID))
		}

	case frame.Type == types.MsgPing:
		reply(ctx, conn, frame.ID, types.MsgPong, nil)

	case types.EventKind(frame.Type).Topic() != "":
		evt, err := frame.Event()
		if err != nil {
			return CodeBadPayload, err
		}
		s.router.Publish(ctx, stampHost(evt, hostID))

	default:
		return CodeUnknownType, fmt.Errorf("unsupported message type %q", frame.Type)
	}
	return "", nil
}

// stampHost fills in the host id on sessions an executor reports without one.
func stampHost(evt types.Event, hostID string) types.Event {
	p, ok := evt.Payload.(types.SessionsUpdated)
	if !ok {
		return evt
	}
	sessions := make([]types.Session, len(p.Sessions))
	for i, sess := range p.Sessions {
		if sess.HostID == "" {
			sess.HostID = hostID
		}
		sessions[i] = sess
	}
	p.Sessions = sessions
	evt.Payload = p
	return evt
}

func validateSubscriptions(subs []types.Subscription) error {
	if len(subs) > registry.MaxSubscriptions {
		return fmt.Errorf("%w: %d > %d", registry.ErrTooManySubscriptions, len(subs), registry.MaxSubscriptions)
	}
	for i, sub := range subs {
		if !sub.Topic.Valid() {
			return fmt.Errorf("subscriptions[%d]: unknown topic %q", i, sub.Topic)
		}
	}
	return nil
}

func reply(ctx context.Context, conn *Conn, id, msgType string, payload any) {
	env := types.NewEnvelope(msgType, payload)
	env.ID = id
	_ = conn.Send(ctx, env)
}

func sendError(ctx context.Context, conn *Conn, id, code, message string) {
	reply(ctx, conn, id, types.MsgError, types.ErrorInfo{Code: code, Message: message})
}

func frameLabel(t string) string {
	switch t {
	case types.MsgSubscribe, types.MsgCommandRequest, types.MsgCommandResult,
		types.MsgHello, types.MsgPing, types.MsgAck:
		return t
	}
	if types.EventKind(t).Topic() != "" {
		return t
	}
	return "unknown"
}

func logReadEnd(logger *zap.Logger, err error) {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		logger.Debug("Peer closed connection")
		return
	}
	if errors.Is(err, context.Canceled) {
		logger.Debug("Connection context canceled")
		return
	}
	logger.Debug("Websocket read ended", zap.Error(err))
}
