package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/kindred/backend/internal/logging"
	"github.com/kindred/backend/internal/meetings"
	"github.com/kindred/backend/internal/models"
)

// MeetingHandler exposes meeting proposal and acceptance endpoints.
type MeetingHandler struct {
	Meetings MeetingService
}

type proposeMeetingRequest struct {
	DateTime time.Time `json:"dateTime" validate:"required"`
	Location string    `json:"location" validate:"required,max=256"`
	Details  string    `json:"details" validate:"max=2000"`
}

// Propose handles POST /api/v1/meetings/{connectionID}.
func (h MeetingHandler) Propose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	callerID, ok := h.ready(w, r)
	if !ok {
		return
	}

	var req proposeMeetingRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondError(ctx, w, err)
		return
	}

	meeting, err := h.Meetings.ProposeMeeting(ctx, callerID, r.PathValue("connectionID"), meetings.Proposal{
		DateTime: req.DateTime,
		Location: req.Location,
		Details:  req.Details,
	})
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	respondJSON(ctx, w, http.StatusCreated, newMeetingResponse(meeting))
}

// Accept handles PUT /api/v1/meetings/{meetingID}/accept.
func (h MeetingHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, callerID, meetingID string) (models.Meeting, error) {
		return h.Meetings.AcceptMeeting(ctx, callerID, meetingID)
	})
}

// Cancel handles PUT /api/v1/meetings/{meetingID}/cancel.
func (h MeetingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, callerID, meetingID string) (models.Meeting, error) {
		return h.Meetings.CancelMeeting(ctx, callerID, meetingID)
	})
}

// Complete handles PUT /api/v1/meetings/{meetingID}/complete.
func (h MeetingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, callerID, meetingID string) (models.Meeting, error) {
		return h.Meetings.CompleteMeeting(ctx, callerID, meetingID)
	})
}

// ListForConnection handles GET /api/v1/meetings/connection/{connectionID}.
func (h MeetingHandler) ListForConnection(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, func(ctx context.Context, callerID string) ([]models.Meeting, error) {
		return h.Meetings.ListMeetingsForConnection(ctx, callerID, r.PathValue("connectionID"))
	})
}

// ListForUser handles GET /api/v1/meetings/user.
func (h MeetingHandler) ListForUser(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, func(ctx context.Context, callerID string) ([]models.Meeting, error) {
		return h.Meetings.ListMeetingsForUser(ctx, callerID)
	})
}

func (h MeetingHandler) transition(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, callerID, meetingID string) (models.Meeting, error)) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	callerID, ok := h.ready(w, r)
	if !ok {
		return
	}

	meeting, err := action(ctx, callerID, r.PathValue("meetingID"))
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, newMeetingResponse(meeting))
}

func (h MeetingHandler) list(w http.ResponseWriter, r *http.Request, fetch func(ctx context.Context, callerID string) ([]models.Meeting, error)) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	callerID, ok := h.ready(w, r)
	if !ok {
		return
	}

	ms, err := fetch(ctx, callerID)
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{"meetings": newMeetingList(ms)})
}

func (h MeetingHandler) ready(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.Meetings == nil {
		logging.FromContext(r.Context()).Error("meeting service unavailable")
		respondJSON(r.Context(), w, http.StatusInternalServerError, errorResponse{Error: "internal", Message: "meeting service unavailable"})
		return "", false
	}
	return requireCaller(w, r)
}
