package router

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cvsloane/agent-commander/internal/filter"
	"github.com/cvsloane/agent-commander/internal/registry"
	"github.com/cvsloane/agent-commander/internal/types"
)

// DefaultSendTimeout bounds a single observer send.
const DefaultSendTimeout = 5 * time.Second

// Listener observes every published event after fan-out. OnEvent runs on
// the publishing goroutine while publish order is held, so it must be quick
// and must not call Publish.
type Listener interface {
	OnEvent(ctx context.Context, evt types.Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, evt types.Event)

// OnEvent calls f.
func (f ListenerFunc) OnEvent(ctx context.Context, evt types.Event) { f(ctx, evt) }

// Option configures a Router.
type Option func(*Router)

// WithListener registers a listener. Listeners run in registration order.
func WithListener(l Listener) Option {
	return func(r *Router) { r.listeners = append(r.listeners, l) }
}

// WithSendTimeout overrides DefaultSendTimeout.
func WithSendTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.sendTimeout = d
		}
	}
}

// Router delivers domain events to subscribed observers.
type Router struct {
	registry    *registry.Registry
	logger      *zap.Logger
	listeners   []Listener
	sendTimeout time.Duration

	// mu serializes Publish so each connection sees publish order.
	mu sync.Mutex
}

// New creates a Router over reg.
func New(reg *registry.Registry, logger *zap.Logger, opts ...Option) *Router {
	r := &Router{
		registry:    reg,
		logger:      logger.Named("router"),
		sendTimeout: DefaultSendTimeout,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// AddListener registers a listener after construction.
func (r *Router) AddListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Publish fans evt out to every matching observer. It never fails; send
// errors close the affected connection and are logged.
func (r *Router) Publish(ctx context.Context, evt types.Event) {
	if evt.Kind.Topic() == "" {
		r.logger.Warn("Dropping event of unknown kind", zap.String("kind", string(evt.Kind)))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	kind := string(evt.Kind)
	publishedTotal.WithLabelValues(kind).Inc()

	full := types.EventEnvelope(evt)
	delivered := 0
	for _, o := range r.registry.Observers() {
		narrowed, ok := filter.MatchAll(o.Matchers(), evt)
		if !ok {
			deliveriesTotal.WithLabelValues(kind, resultSuppressed).Inc()
			r.logger.Debug("Delivery suppressed",
				zap.String("observer", o.ID()),
				zap.String("kind", kind))
			continue
		}

		env := full
		if !samePayload(evt, narrowed) {
			env.Payload = narrowed.Payload
		}

		if err := r.send(ctx, o.Conn(), env); err != nil {
			deliveriesTotal.WithLabelValues(kind, resultFailed).Inc()
			r.logger.Warn("Observer send failed, closing connection",
				zap.String("observer", o.ID()),
				zap.String("kind", kind),
				zap.Error(err))
			_ = o.Conn().Close("send failed")
			continue
		}
		deliveriesTotal.WithLabelValues(kind, resultDelivered).Inc()
		delivered++
	}
	publishDuration.Observe(time.Since(start).Seconds())

	r.logger.Debug("Published event",
		zap.String("kind", kind),
		zap.Int("delivered", delivered))

	for _, l := range r.listeners {
		l.OnEvent(ctx, evt)
	}
}

func (r *Router) send(ctx context.Context, conn registry.Conn, env types.Envelope) error {
	sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()
	return conn.Send(sendCtx, env)
}

// samePayload reports whether narrowing left the payload untouched, so the
// shared envelope can be reused. Narrowing only ever removes entries and
// keeps order, so equal lengths mean equal contents.
func samePayload(original, narrowed types.Event) bool {
	a, ok := original.Payload.(types.SessionsUpdated)
	if !ok {
		return true
	}
	b, ok := narrowed.Payload.(types.SessionsUpdated)
	if !ok {
		return false
	}
	return len(a.Sessions) == len(b.Sessions) && len(a.Deleted) == len(b.Deleted) && a.Sessions != nil
}
