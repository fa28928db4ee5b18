package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-relay/internal/middleware"
	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/internal/service"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
	"github.com/capitalize-ai/chat-relay/pkg/metrics"
)

// ChatHandler handles the chat endpoints.
type ChatHandler struct {
	chat   *service.ChatService
	logger *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(chat *service.ChatService, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		chat:   chat,
		logger: log,
	}
}

// Send handles POST /api/v1/chat/send
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID := middleware.GetOwnerID(ctx)

	var req model.SendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.chat.Send(ctx, ownerID, &req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Stream handles POST /api/v1/chat/stream
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID := middleware.GetOwnerID(ctx)

	var req model.SendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sink, ok := newSSESink(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	defer sink.finish()

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	res, err := h.chat.Stream(ctx, ownerID, &req, sink)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	h.logger.Debug("stream finished",
		zap.String("state", res.State.String()),
		zap.Int("fragments", res.Fragments),
		zap.Bool("client_gone", res.Disconnected != nil),
	)
}

// Models handles GET /api/v1/chat/models
func (h *ChatHandler) Models(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.ModelsResponse{Models: h.chat.Models(r.Context())})
}
