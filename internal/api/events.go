package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/cvsloane/agent-commander/internal/router"
	"github.com/cvsloane/agent-commander/internal/types"
)

// MaxIngestBodyBytes caps one POST /api/v1/events body.
const MaxIngestBodyBytes = 4 << 20

// maxIngestBatch caps the number of events in one request.
const maxIngestBatch = 500

// IngestEvent is one domain event as posted by the state layer.
type IngestEvent struct {
	Type    types.EventKind `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// IngestRequest accepts either a single event or a batch.
type IngestRequest struct {
	IngestEvent
	Events []IngestEvent `json:"events,omitempty"`
}

// IngestResponse reports how many events were published.
type IngestResponse struct {
	Published int `json:"published"`
}

// EventsHandler handles POST /api/v1/events. Every event in a request is
// decoded before any is published, so a bad batch publishes nothing.
type EventsHandler struct {
	logger *zap.Logger
	router *router.Router
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(rt *router.Router, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{
		logger: logger.Named("events"),
		router: rt,
	}
}

// ServeHTTP implements http.Handler.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxIngestBodyBytes)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, h.logger, http.StatusRequestEntityTooLarge, "too_large", err.Error())
			return
		}
		writeError(w, h.logger, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	batch := req.Events
	if req.Type != "" {
		batch = append([]IngestEvent{req.IngestEvent}, batch...)
	}
	if len(batch) == 0 {
		writeError(w, h.logger, http.StatusBadRequest, "bad_request", "no events in request")
		return
	}
	if len(batch) > maxIngestBatch {
		writeError(w, h.logger, http.StatusBadRequest, "bad_request",
			fmt.Sprintf("batch of %d exceeds limit of %d", len(batch), maxIngestBatch))
		return
	}

	events := make([]types.Event, 0, len(batch))
	for i, in := range batch {
		evt, err := types.DecodeEvent(in.Type, in.Payload)
		if err != nil {
			writeError(w, h.logger, http.StatusBadRequest, "bad_event", fmt.Sprintf("events[%d]: %v", i, err))
			return
		}
		events = append(events, evt)
	}

	for _, evt := range events {
		h.router.Publish(r.Context(), evt)
	}
	h.logger.Debug("Ingested events", zap.Int("count", len(events)))
	writeJSON(w, h.logger, http.StatusAccepted, IngestResponse{Published: len(events)})
}
