package handlers

import (
	"net/http"

	"github.com/kindred/backend/internal/logging"
	"github.com/kindred/backend/internal/messages"
	"github.com/kindred/backend/internal/models"
)

// MessageHandler exposes chat endpoints scoped to a connection.
type MessageHandler struct {
	Messages MessageService
}

type sendMessageRequest struct {
	Content     string `json:"content" validate:"required,max=4000"`
	MessageType string `json:"messageType" validate:"required,oneof=text image location meetingRequest"`
}

// Send handles POST /api/v1/messages/{connectionID}.
func (h MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	callerID, ok := h.ready(w, r)
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondError(ctx, w, err)
		return
	}

	msg, err := h.Messages.Send(ctx, callerID, r.PathValue("connectionID"), messages.Draft{
		Type:    models.MessageType(req.MessageType),
		Content: req.Content,
	})
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	respondJSON(ctx, w, http.StatusCreated, newMessageResponse(msg))
}

// List handles GET /api/v1/messages/{connectionID}.
func (h MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	callerID, ok := h.ready(w, r)
	if !ok {
		return
	}

	msgs, err := h.Messages.List(ctx, callerID, r.PathValue("connectionID"))
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{"messages": newMessageList(msgs)})
}

// MarkRead handles PUT /api/v1/messages/read/{connectionID}.
func (h MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	callerID, ok := h.ready(w, r)
	if !ok {
		return
	}

	updated, err := h.Messages.MarkRead(ctx, callerID, r.PathValue("connectionID"))
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{"updated": updated})
}

func (h MessageHandler) ready(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.Messages == nil {
		logging.FromContext(r.Context()).Error("message service unavailable")
		respondJSON(r.Context(), w, http.StatusInternalServerError, errorResponse{Error: "internal", Message: "message service unavailable"})
		return "", false
	}
	return requireCaller(w, r)
}
