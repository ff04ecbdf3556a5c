package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/cvsloane/agent-commander/internal/types"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error types.ErrorInfo `json:"error"`
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, logger *zap.Logger, status int, code, message string) {
	writeJSON(w, logger, status, ErrorResponse{Error: types.ErrorInfo{Code: code, Message: message}})
}
