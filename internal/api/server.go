package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cvsloane/agent-commander/internal/auth"
	"github.com/cvsloane/agent-commander/internal/correlator"
	"github.com/cvsloane/agent-commander/internal/notifier"
	"github.com/cvsloane/agent-commander/internal/registry"
	"github.com/cvsloane/agent-commander/internal/router"
	"github.com/cvsloane/agent-commander/internal/transport"
	"github.com/cvsloane/agent-commander/internal/types"
)

// Deps are the components the HTTP surface exposes. Transport and the
// notifier fields are optional.
type Deps struct {
	Registry   *registry.Registry
	Router     *router.Router
	Correlator *correlator.Correlator
	Verifier   auth.Verifier
	Transport  *transport.Server
	Recipients *notifier.RecipientStore
	Batcher    *notifier.Batcher
	Engine     *notifier.Engine
}

// NewHandler builds the full route table:
//
//	GET  /healthz                          unauthenticated
//	GET  /metrics                          unauthenticated
//	GET  /ws/observer, /ws/executor        websocket upgrade, token checked by transport
//	GET  /api/v1/status, /hosts, /observers any identity
//	POST /api/v1/events                    service or admin
//	POST /api/v1/hosts/{hostID}/commands   operator or admin
func NewHandler(deps Deps, logger *zap.Logger) http.Handler {
	logger = logger.Named("api")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Method(http.MethodGet, "/healthz", NewHealthHandler(deps.Registry, logger))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	if deps.Transport != nil {
		r.Method(http.MethodGet, "/ws/observer", deps.Transport.ObserverHandler())
		r.Method(http.MethodGet, "/ws/executor", deps.Transport.ExecutorHandler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(requireIdentity(deps.Verifier, logger, "", nil))
			r.Method(http.MethodGet, "/status", NewStatusHandler(deps, logger))
			r.Method(http.MethodGet, "/hosts", NewHostsHandler(deps.Registry, logger))
			r.Method(http.MethodGet, "/observers", NewObserversHandler(deps.Registry, logger))
		})
		r.Group(func(r chi.Router) {
			r.Use(requireIdentity(deps.Verifier, logger, "publish events", types.Identity.CanPublish))
			r.Method(http.MethodPost, "/events", NewEventsHandler(deps.Router, logger))
		})
		r.Group(func(r chi.Router) {
			r.Use(requireIdentity(deps.Verifier, logger, "dispatch commands", types.Identity.CanCommand))
			r.Method(http.MethodPost, "/hosts/{hostID}/commands", NewCommandsHandler(deps.Correlator, logger))
		})
	})
	return r
}

// requireIdentity verifies the bearer token and, when allowed is set,
// checks the identity's role. The identity is stored on the request context.
func requireIdentity(v auth.Verifier, logger *zap.Logger, action string, allowed func(types.Identity) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := auth.Authenticate(r.Context(), v, r)
			if err != nil {
				writeError(w, logger, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
				return
			}
			if allowed != nil && !allowed(id) {
				writeError(w, logger, http.StatusForbidden, "forbidden",
					"role "+string(id.Role)+" may not "+action)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("requestId", middleware.GetReqID(r.Context())))
		})
	}
}
