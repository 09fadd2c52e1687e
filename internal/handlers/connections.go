package handlers

import (
	"context"
	"net/http"

	"github.com/kindred/backend/internal/logging"
	"github.com/kindred/backend/internal/models"
)

// ConnectionHandler exposes the connection lifecycle endpoints.
type ConnectionHandler struct {
	Connections ConnectionService
}

// Request handles POST /api/v1/connections/request/{userID}.
func (h ConnectionHandler) Request(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	callerID, ok := h.ready(w, r)
	if !ok {
		return
	}

	conn, err := h.Connections.RequestConnection(ctx, callerID, r.PathValue("userID"))
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	respondJSON(ctx, w, http.StatusCreated, newConnectionResponse(conn))
}

// Accept handles PUT /api/v1/connections/{connectionID}/accept.
func (h ConnectionHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, callerID, connectionID string) (models.Connection, error) {
		return h.Connections.AcceptConnection(ctx, callerID, connectionID)
	})
}

// Reject handles PUT /api/v1/connections/{connectionID}/reject.
func (h ConnectionHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, callerID, connectionID string) (models.Connection, error) {
		return h.Connections.RejectConnection(ctx, callerID, connectionID)
	})
}

// Block handles PUT /api/v1/connections/{connectionID}/block.
func (h ConnectionHandler) Block(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, callerID, connectionID string) (models.Connection, error) {
		return h.Connections.BlockConnection(ctx, callerID, connectionID)
	})
}

// List handles GET /api/v1/connections.
func (h ConnectionHandler) List(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, func(ctx context.Context, callerID string) ([]models.Connection, error) {
		return h.Connections.ListConnections(ctx, callerID)
	})
}

// ListActive handles GET /api/v1/connections/active.
func (h ConnectionHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, func(ctx context.Context, callerID string) ([]models.Connection, error) {
		return h.Connections.ListActiveConnections(ctx, callerID)
	})
}

func (h ConnectionHandler) transition(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, callerID, connectionID string) (models.Connection, error)) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	callerID, ok := h.ready(w, r)
	if !ok {
		return
	}

	conn, err := action(ctx, callerID, r.PathValue("connectionID"))
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, newConnectionResponse(conn))
}

func (h ConnectionHandler) list(w http.ResponseWriter, r *http.Request, fetch func(ctx context.Context, callerID string) ([]models.Connection, error)) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	callerID, ok := h.ready(w, r)
	if !ok {
		return
	}

	conns, err := fetch(ctx, callerID)
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{"connections": newConnectionList(conns)})
}

func (h ConnectionHandler) ready(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.Connections == nil {
		logging.FromContext(r.Context()).Error("connection service unavailable")
		respondJSON(r.Context(), w, http.StatusInternalServerError, errorResponse{Error: "internal", Message: "connection service unavailable"})
		return "", false
	}
	return requireCaller(w, r)
}
