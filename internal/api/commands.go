package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/cvsloane/agent-commander/internal/correlator"
	"github.com/cvsloane/agent-commander/internal/types"
)

// maxCommandTimeout caps the timeout a caller may request.
const maxCommandTimeout = 5 * time.Minute

// CommandBody is the body of POST /api/v1/hosts/{hostID}/commands.
type CommandBody struct {
	Command   string         `json:"command"`
	Args      map[string]any `json:"args,omitempty"`
	TimeoutMs int64          `json:"timeoutMs,omitempty"`
}

// CommandResponse wraps the executor's result with its correlation id.
type CommandResponse struct {
	CorrelationID string              `json:"correlationId"`
	Result        types.CommandResult `json:"result"`
}

// CommandsHandler handles POST /api/v1/hosts/{hostID}/commands. The call
// blocks until the executor replies or the command times out.
type CommandsHandler struct {
	logger *zap.Logger
	corr   *correlator.Correlator
}

// NewCommandsHandler creates a new CommandsHandler.
func NewCommandsHandler(corr *correlator.Correlator, logger *zap.Logger) *CommandsHandler {
	return &CommandsHandler{
		logger: logger.Named("commands"),
		corr:   corr,
	}
}

// ServeHTTP implements http.Handler.
func (h *CommandsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hostID := chi.URLParam(r, "hostID")
	var body CommandBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if body.Command == "" {
		writeError(w, h.logger, http.StatusBadRequest, "bad_request", "command is required")
		return
	}

	timeout := time.Duration(body.TimeoutMs) * time.Millisecond
	if timeout > maxCommandTimeout {
		timeout = maxCommandTimeout
	}

	correlationID := correlator.NewCorrelationID()
	env := types.NewEnvelope(types.MsgCommand, types.Command{Command: body.Command, Args: body.Args})
	res, err := h.corr.Dispatch(r.Context(), hostID, env, correlationID, timeout)
	if err != nil {
		res.OK = false
		res.Error = correlator.ErrorInfo(err)
		h.logger.Debug("Command failed",
			zap.String("host", hostID),
			zap.String("command", body.Command),
			zap.Error(err))
	}
	writeJSON(w, h.logger, dispatchStatus(err), CommandResponse{CorrelationID: correlationID, Result: res})
}

func dispatchStatus(err error) int {
	var remote *correlator.RemoteError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &remote):
		return http.StatusBadGateway
	case errors.Is(err, correlator.ErrNotConnected):
		return http.StatusNotFound
	case errors.Is(err, correlator.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, correlator.ErrHostDisconnected):
		return http.StatusBadGateway
	case errors.Is(err, correlator.ErrCanceled):
		return http.StatusServiceUnavailable
	case errors.Is(err, correlator.ErrDuplicateCorrelation):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
