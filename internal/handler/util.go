package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-relay/internal/llm"
	"github.com/capitalize-ai/chat-relay/internal/middleware"
	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/internal/service"
	"github.com/capitalize-ai/chat-relay/internal/store"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
)

const unexpectedErrorMessage = "Unexpected server error."

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, model.ErrorResponse{OK: false, Error: message})
}

// decodeJSON reads the request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeServiceError maps an error onto its HTTP status and client message.
func writeServiceError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	var vErr *service.ValidationError
	var upErr *llm.UpstreamError
	var tErr *llm.TransportError

	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusUnprocessableEntity, model.ErrorResponse{
			OK:     false,
			Error:  "validation failed",
			Fields: vErr.Fields,
		})
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	case errors.As(err, &upErr):
		status := upErr.Status
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		writeError(w, status, llm.MessageFor(err))
	case errors.As(err, &tErr):
		writeError(w, http.StatusBadGateway, llm.DefaultErrorMessage)
	default:
		log.Error("unexpected error",
			zap.String("path", r.URL.Path),
			zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, unexpectedErrorMessage)
	}
}
