// Package reviews lets users rate each other once they have met. A review needs
// a completed meeting between the reviewer and the reviewed user.
package reviews

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kindred/backend/internal/apperr"
	"github.com/kindred/backend/internal/logging"
	"github.com/kindred/backend/internal/models"
	"github.com/kindred/backend/internal/notify"
	"github.com/kindred/backend/internal/repositories"
)

const (
	MinRating         = 1
	MaxRating         = 5
	MaxFeedbackLength = 500
)

// ConnectionReader resolves the connection between two users.
type ConnectionReader interface {
	FindByID(ctx context.Context, id string) (models.Connection, error)
	FindByPair(ctx context.Context, a, b string) (models.Connection, error)
}

// MeetingReader resolves the meetings that qualify a review.
type MeetingReader interface {
	FindByID(ctx context.Context, id string) (models.Meeting, error)
	ListByConnections(ctx context.Context, connectionIDs []string) ([]models.Meeting, error)
}

// Submission is the caller-supplied content of a review. A nil Public defaults
// to a public review.
type Submission struct {
	Rating    int
	Feedback  string
	MeetingID string
	Public    *bool
}

// Service authorizes and stores reviews.
type Service struct {
	store       repositories.ReviewRepository
	connections ConnectionReader
	meetings    MeetingReader
	notifier    notify.Notifier
	clock       func() time.Time
	newID       func() string
}

// NewService constructs a Service. A nil notifier discards events; nil clock and
// newID default to time.Now and uuid.NewString.
func NewService(store repositories.ReviewRepository, connections ConnectionReader, meetings MeetingReader, notifier notify.Notifier, clock func() time.Time, newID func() string) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if clock == nil {
		clock = time.Now
	}
	if newID == nil {
		newID = uuid.NewString
	}
	return &Service{
		store:       store,
		connections: connections,
		meetings:    meetings,
		notifier:    notifier,
		clock:       clock,
		newID:       newID,
	}
}

// Submit records callerID's review of reviewedID. With a meeting id the meeting
// must be completed and both users must be parties to it; without one the pair
// needs an accepted connection with at least one completed meeting.
func (s *Service) Submit(ctx context.Context, callerID, reviewedID string, sub Submission) (models.Review, error) {
	ctx, span := logging.StartSpan(ctx, "reviews.submit", "target_id", reviewedID)
	defer span.End()

	reviewedID = strings.TrimSpace(reviewedID)
	feedback := strings.TrimSpace(sub.Feedback)
	switch {
	case reviewedID == "":
		return models.Review{}, apperr.Validation("reviewed user is required")
	case reviewedID == callerID:
		return models.Review{}, apperr.Validation("cannot review yourself")
	case sub.Rating < MinRating || sub.Rating > MaxRating:
		return models.Review{}, apperr.Validation(fmt.Sprintf("rating must be between %d and %d", MinRating, MaxRating))
	case utf8.RuneCountInString(feedback) > MaxFeedbackLength:
		return models.Review{}, apperr.Validation(fmt.Sprintf("feedback must be at most %d characters", MaxFeedbackLength))
	}

	meetingID := strings.TrimSpace(sub.MeetingID)
	if meetingID != "" {
		if err := s.checkMeeting(ctx, callerID, reviewedID, meetingID); err != nil {
			return models.Review{}, err
		}
	} else if err := s.checkHistory(ctx, callerID, reviewedID); err != nil {
		return models.Review{}, err
	}

	public := true
	if sub.Public != nil {
		public = *sub.Public
	}

	review := models.Review{
		ID:         s.newID(),
		ReviewerID: callerID,
		ReviewedID: reviewedID,
		MeetingID:  meetingID,
		Rating:     sub.Rating,
		Feedback:   feedback,
		Public:     public,
		CreatedAt:  s.clock().UTC(),
	}
	if err := s.store.Create(ctx, review); err != nil {
		switch {
		case errors.Is(err, repositories.ErrConflict):
			return models.Review{}, apperr.AlreadyExists("you have already reviewed this user")
		case errors.Is(err, repositories.ErrNotFound):
			return models.Review{}, apperr.NotFound("user not found")
		default:
			return models.Review{}, fmt.Errorf("create review: %w", err)
		}
	}

	logging.FromContext(ctx).Info("review submitted", "reviewId", review.ID, "rating", review.Rating)
	s.notifier.Notify(ctx, notify.Event{
		Kind:        notify.KindReviewReceived,
		RecipientID: reviewedID,
		ActorID:     callerID,
		SubjectID:   review.ID,
		OccurredAt:  review.CreatedAt,
	})

	return review, nil
}

// ListAbout returns the public reviews of userID, newest first, with a summary
// computed over every review the user received.
func (s *Service) ListAbout(ctx context.Context, userID string) ([]models.Review, models.RatingSummary, error) {
	all, err := s.store.ListByReviewed(ctx, userID)
	if err != nil {
		return nil, models.RatingSummary{}, fmt.Errorf("list reviews: %w", err)
	}

	public := make([]models.Review, 0, len(all))
	for _, review := range all {
		if review.Public {
			public = append(public, review)
		}
	}
	return public, models.Summarize(all), nil
}

// ListWritten returns every review callerID has written, newest first.
func (s *Service) ListWritten(ctx context.Context, callerID string) ([]models.Review, error) {
	reviews, err := s.store.ListByReviewer(ctx, callerID)
	if err != nil {
		return nil, fmt.Errorf("list written reviews: %w", err)
	}
	return reviews, nil
}

func (s *Service) checkMeeting(ctx context.Context, callerID, reviewedID, meetingID string) error {
	meeting, err := s.meetings.FindByID(ctx, meetingID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return apperr.NotFound("meeting not found")
		}
		return fmt.Errorf("find meeting: %w", err)
	}
	if meeting.Status != models.MeetingCompleted {
		return apperr.InvalidState("meeting is not completed")
	}

	conn, err := s.connections.FindByID(ctx, meeting.ConnectionID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return apperr.NotFound("connection not found")
		}
		return fmt.Errorf("find connection: %w", err)
	}
	if !conn.HasParty(callerID) || !conn.HasParty(reviewedID) {
		return apperr.Forbidden("not authorized to review this user")
	}
	return nil
}

func (s *Service) checkHistory(ctx context.Context, callerID, reviewedID string) error {
	conn, err := s.connections.FindByPair(ctx, callerID, reviewedID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return apperr.InvalidState("no connection with this user")
		}
		return fmt.Errorf("find connection by pair: %w", err)
	}
	if conn.Status != models.ConnectionAccepted {
		return apperr.InvalidState("no connection with this user")
	}

	meetings, err := s.meetings.ListByConnections(ctx, []string{conn.ID})
	if err != nil {
		return fmt.Errorf("list meetings: %w", err)
	}
	for _, meeting := range meetings {
		if meeting.Status == models.MeetingCompleted {
			return nil
		}
	}
	return apperr.InvalidState("no completed meeting with this user")
}
