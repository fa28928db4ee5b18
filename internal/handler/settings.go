package handler

import (
	"net/http"

	"github.com/capitalize-ai/chat-relay/internal/middleware"
	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/internal/service"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
)

// SettingsHandler handles prompt preference endpoints.
type SettingsHandler struct {
	service *service.SettingsService
	logger  *logger.Logger
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(svc *service.SettingsService, log *logger.Logger) *SettingsHandler {
	return &SettingsHandler{service: svc, logger: log}
}

// Get handles GET /api/v1/settings
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	prefs, err := h.service.Get(ctx, middleware.GetOwnerID(ctx))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, prefs)
}

// Save handles POST /api/v1/settings
func (h *SettingsHandler) Save(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.SavePreferencesRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	prefs, err := h.service.Save(ctx, middleware.GetOwnerID(ctx), &req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, prefs)
}
