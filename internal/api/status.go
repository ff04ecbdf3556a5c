// Package api provides the HTTP surface of the commander server.
package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cvsloane/agent-commander/internal/codec"
	"github.com/cvsloane/agent-commander/internal/registry"
)

// StatusResponse is the response for GET /api/v1/status.
type StatusResponse struct {
	// Version is the API schema version. Currently "1".
	Version string `json:"version"`

	// Observers is the number of connected observers.
	Observers int `json:"observers"`

	// Executors is the number of connected hosts.
	Executors int `json:"executors"`

	// PendingCommands is the number of commands awaiting an executor reply.
	PendingCommands int `json:"pendingCommands"`

	// Notifications describes the alerting pipeline.
	Notifications NotificationStatus `json:"notifications"`

	// Codecs lists the websocket subprotocols the server accepts.
	Codecs []string `json:"codecs"`

	// UpSince is when the server started.
	UpSince string `json:"upSince"`
}

// NotificationStatus is the notification part of StatusResponse.
type NotificationStatus struct {
	Recipients int `json:"recipients"`
	Queued     int `json:"queued"`
	Tracked    int `json:"tracked"`
}

// HostsResponse is the response for GET /api/v1/hosts.
type HostsResponse struct {
	Hosts []registry.HostInfo `json:"hosts"`
}

// ObserversResponse is the response for GET /api/v1/observers.
type ObserversResponse struct {
	Observers []registry.ObserverInfo `json:"observers"`
}

// StatusHandler handles GET /api/v1/status.
type StatusHandler struct {
	logger    *zap.Logger
	deps      Deps
	startTime time.Time
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler(deps Deps, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{
		logger:    logger.Named("status"),
		deps:      deps,
		startTime: time.Now(),
	}
}

// ServeHTTP implements http.Handler.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, h.buildResponse())
}

func (h *StatusHandler) buildResponse() StatusResponse {
	resp := StatusResponse{
		Version:   "1",
		Observers: h.deps.Registry.ObserverCount(),
		Executors: len(h.deps.Registry.Hosts()),
		Codecs:    codec.Subprotocols(),
		UpSince:   h.startTime.UTC().Format(time.RFC3339),
	}
	if h.deps.Correlator != nil {
		resp.PendingCommands = h.deps.Correlator.Pending()
	}
	if h.deps.Recipients != nil {
		resp.Notifications.Recipients = h.deps.Recipients.Len()
	}
	if h.deps.Batcher != nil {
		resp.Notifications.Queued = h.deps.Batcher.Pending()
	}
	if h.deps.Engine != nil {
		resp.Notifications.Tracked = h.deps.Engine.Size()
	}
	return resp
}

// HostsHandler handles GET /api/v1/hosts.
type HostsHandler struct {
	logger *zap.Logger
	reg    *registry.Registry
}

// NewHostsHandler creates a new HostsHandler.
func NewHostsHandler(reg *registry.Registry, logger *zap.Logger) *HostsHandler {
	return &HostsHandler{
		logger: logger.Named("hosts"),
		reg:    reg,
	}
}

// ServeHTTP implements http.Handler.
func (h *HostsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, HostsResponse{Hosts: h.reg.Hosts()})
}

// ObserversHandler handles GET /api/v1/observers.
type ObserversHandler struct {
	logger *zap.Logger
	reg    *registry.Registry
}

// NewObserversHandler creates a new ObserversHandler.
func NewObserversHandler(reg *registry.Registry, logger *zap.Logger) *ObserversHandler {
	return &ObserversHandler{
		logger: logger.Named("observers"),
		reg:    reg,
	}
}

// ServeHTTP implements http.Handler.
func (h *ObserversHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, ObserversResponse{Observers: h.reg.ObserverInfos()})
}

// HealthResponse is the response for health endpoints.
type HealthResponse struct {
	Status    string `json:"status"` // healthy, unhealthy
	Timestamp string `json:"timestamp"`
}

// HealthHandler handles GET /healthz.
type HealthHandler struct {
	logger *zap.Logger
	reg    *registry.Registry
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(reg *registry.Registry, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		logger: logger.Named("health"),
		reg:    reg,
	}
}

// ServeHTTP implements http.Handler.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if h.reg == nil {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, h.logger, code, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
