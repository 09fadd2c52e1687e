package repositories

import (
	"context"
	"time"

	"github.com/kindred/backend/internal/models"
)

// MeetingRepository defines data access for meeting proposals and their acceptances.
//
// AddAcceptance appends atomically: ErrConflict when the user already accepted,
// ErrPreconditionFailed when the meeting status is not in allowed. It returns
// the meeting as persisted after the write. TransitionStatus with a nil from
// slice writes unconditionally.
type MeetingRepository interface {
	Create(ctx context.Context, meeting models.Meeting) error
	FindByID(ctx context.Context, id string) (models.Meeting, error)
	AddAcceptance(ctx context.Context, meetingID string, acceptance models.Acceptance, allowed []models.MeetingStatus) (models.Meeting, error)
	TransitionStatus(ctx context.Context, id string, from []models.MeetingStatus, to models.MeetingStatus, at time.Time) (models.Meeting, error)
	ListByConnections(ctx context.Context, connectionIDs []string) ([]models.Meeting, error)
}
