package handlers

import (
	"net/http"

	"github.com/kindred/backend/internal/logging"
	"github.com/kindred/backend/internal/reviews"
)

// ReviewHandler exposes post-meeting review endpoints.
type ReviewHandler struct {
	Reviews ReviewService
}

type submitReviewRequest struct {
	Rating    int    `json:"rating" validate:"required,min=1,max=5"`
	Feedback  string `json:"feedback" validate:"max=500"`
	MeetingID string `json:"meetingId" validate:"max=64"`
	IsPublic  *bool  `json:"isPublic"`
}

type userReviewsResponse struct {
	Reviews       []reviewResponse `json:"reviews"`
	AverageRating float64          `json:"averageRating"`
	ReviewCount   int              `json:"reviewCount"`
}

// Submit handles POST /api/v1/reviews/{userID}.
func (h ReviewHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	callerID, ok := h.ready(w, r)
	if !ok {
		return
	}

	var req submitReviewRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondError(ctx, w, err)
		return
	}

	review, err := h.Reviews.Submit(ctx, callerID, r.PathValue("userID"), reviews.Submission{
		Rating:    req.Rating,
		Feedback:  req.Feedback,
		MeetingID: req.MeetingID,
		Public:    req.IsPublic,
	})
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	respondJSON(ctx, w, http.StatusCreated, newReviewResponse(review))
}

// ListForUser handles GET /api/v1/reviews/user/{userID}.
func (h ReviewHandler) ListForUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	if _, ok := h.ready(w, r); !ok {
		return
	}

	public, summary, err := h.Reviews.ListAbout(ctx, r.PathValue("userID"))
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, userReviewsResponse{
		Reviews:       newReviewList(public),
		AverageRating: summary.Average,
		ReviewCount:   summary.Count,
	})
}

// ListMine handles GET /api/v1/reviews/my-reviews.
func (h ReviewHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	callerID, ok := h.ready(w, r)
	if !ok {
		return
	}

	written, err := h.Reviews.ListWritten(ctx, callerID)
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{"reviews": newReviewList(written)})
}

func (h ReviewHandler) ready(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.Reviews == nil {
		logging.FromContext(r.Context()).Error("review service unavailable")
		respondJSON(r.Context(), w, http.StatusInternalServerError, errorResponse{Error: "internal", Message: "review service unavailable"})
		return "", false
	}
	return requireCaller(w, r)
}
