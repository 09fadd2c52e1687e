package handlers

import (
	"context"
	"time"

	"github.com/kindred/backend/internal/meetings"
	"github.com/kindred/backend/internal/messages"
	"github.com/kindred/backend/internal/models"
	"github.com/kindred/backend/internal/reviews"
)

// UserStore captures the persistence operations required by the auth handlers.
type UserStore interface {
	Create(ctx context.Context, user models.User) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
	FindByID(ctx context.Context, id string) (models.User, error)
}

// SessionManager issues and refreshes authentication tokens for users.
type SessionManager interface {
	Issue(ctx context.Context, userID string) (models.SessionTokens, error)
	Refresh(ctx context.Context, refreshToken string) (models.SessionTokens, error)
}

// TokenVerifier validates bearer access tokens.
type TokenVerifier interface {
	Verify(accessToken string) (string, error)
}

// ConnectionService is the connection lifecycle exposed over HTTP.
type ConnectionService interface {
	RequestConnection(ctx context.Context, callerID, targetID string) (models.Connection, error)
	AcceptConnection(ctx context.Context, callerID, connectionID string) (models.Connection, error)
	RejectConnection(ctx context.Context, callerID, connectionID string) (models.Connection, error)
	BlockConnection(ctx context.Context, callerID, connectionID string) (models.Connection, error)
	ListConnections(ctx context.Context, callerID string) ([]models.Connection, error)
	ListActiveConnections(ctx context.Context, callerID string) ([]models.Connection, error)
}

// MeetingService is the meeting coordinator exposed over HTTP.
type MeetingService interface {
	ProposeMeeting(ctx context.Context, callerID, connectionID string, proposal meetings.Proposal) (models.Meeting, error)
	AcceptMeeting(ctx context.Context, callerID, meetingID string) (models.Meeting, error)
	CancelMeeting(ctx context.Context, callerID, meetingID string) (models.Meeting, error)
	CompleteMeeting(ctx context.Context, callerID, meetingID string) (models.Meeting, error)
	ListMeetingsForConnection(ctx context.Context, callerID, connectionID string) ([]models.Meeting, error)
	ListMeetingsForUser(ctx context.Context, callerID string) ([]models.Meeting, error)
}

// MessageService is the connection chat exposed over HTTP.
type MessageService interface {
	Send(ctx context.Context, callerID, connectionID string, draft messages.Draft) (models.Message, error)
	List(ctx context.Context, callerID, connectionID string) ([]models.Message, error)
	MarkRead(ctx context.Context, callerID, connectionID string) (int64, error)
}

// ReviewService is the post-meeting review flow exposed over HTTP.
type ReviewService interface {
	Submit(ctx context.Context, callerID, reviewedID string, sub reviews.Submission) (models.Review, error)
	ListAbout(ctx context.Context, userID string) ([]models.Review, models.RatingSummary, error)
	ListWritten(ctx context.Context, callerID string) ([]models.Review, error)
}

// HealthChecker reports whether a backing dependency is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

// Ping implements HealthChecker.
func (f HealthCheckFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

type connectionResponse struct {
	ID        string    `json:"id"`
	Requester string    `json:"requester"`
	Recipient string    `json:"recipient"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func newConnectionResponse(c models.Connection) connectionResponse {
	return connectionResponse{
		ID:        c.ID,
		Requester: c.Requester,
		Recipient: c.Recipient,
		Status:    string(c.Status),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func newConnectionList(conns []models.Connection) []connectionResponse {
	out := make([]connectionResponse, 0, len(conns))
	for _, c := range conns {
		out = append(out, newConnectionResponse(c))
	}
	return out
}

type acceptanceResponse struct {
	User       string    `json:"user"`
	AcceptedAt time.Time `json:"acceptedAt"`
}

type meetingResponse struct {
	ID           string               `json:"id"`
	ConnectionID string               `json:"connectionId"`
	ProposedBy   string               `json:"proposedBy"`
	DateTime     time.Time            `json:"dateTime"`
	Location     string               `json:"location"`
	Details      string               `json:"details,omitempty"`
	Status       string               `json:"status"`
	AcceptedBy   []acceptanceResponse `json:"acceptedBy"`
	CreatedAt    time.Time            `json:"createdAt"`
	UpdatedAt    time.Time            `json:"updatedAt"`
}

func newMeetingResponse(m models.Meeting) meetingResponse {
	accepted := make([]acceptanceResponse, 0, m.AcceptedBy.Len())
	for _, a := range m.AcceptedBy.Entries() {
		accepted = append(accepted, acceptanceResponse{User: a.UserID, AcceptedAt: a.AcceptedAt})
	}
	return meetingResponse{
		ID:           m.ID,
		ConnectionID: m.ConnectionID,
		ProposedBy:   m.ProposedBy,
		DateTime:     m.DateTime,
		Location:     m.Location,
		Details:      m.Details,
		Status:       string(m.Status),
		AcceptedBy:   accepted,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func newMeetingList(ms []models.Meeting) []meetingResponse {
	out := make([]meetingResponse, 0, len(ms))
	for _, m := range ms {
		out = append(out, newMeetingResponse(m))
	}
	return out
}

type messageResponse struct {
	ID           string    `json:"id"`
	ConnectionID string    `json:"connectionId"`
	Sender       string    `json:"sender"`
	MessageType  string    `json:"messageType"`
	Content      string    `json:"content"`
	IsRead       bool      `json:"isRead"`
	CreatedAt    time.Time `json:"createdAt"`
}

func newMessageResponse(m models.Message) messageResponse {
	return messageResponse{
		ID:           m.ID,
		ConnectionID: m.ConnectionID,
		Sender:       m.SenderID,
		MessageType:  string(m.Type),
		Content:      m.Content,
		IsRead:       m.Read,
		CreatedAt:    m.CreatedAt,
	}
}

func newMessageList(ms []models.Message) []messageResponse {
	out := make([]messageResponse, 0, len(ms))
	for _, m := range ms {
		out = append(out, newMessageResponse(m))
	}
	return out
}

type reviewResponse struct {
	ID        string    `json:"id"`
	Reviewer  string    `json:"reviewer"`
	Reviewed  string    `json:"reviewed"`
	MeetingID string    `json:"meetingId,omitempty"`
	Rating    int       `json:"rating"`
	Feedback  string    `json:"feedback,omitempty"`
	IsPublic  bool      `json:"isPublic"`
	CreatedAt time.Time `json:"createdAt"`
}

func newReviewResponse(r models.Review) reviewResponse {
	return reviewResponse{
		ID:        r.ID,
		Reviewer:  r.ReviewerID,
		Reviewed:  r.ReviewedID,
		MeetingID: r.MeetingID,
		Rating:    r.Rating,
		Feedback:  r.Feedback,
		IsPublic:  r.Public,
		CreatedAt: r.CreatedAt,
	}
}

func newReviewList(rs []models.Review) []reviewResponse {
	out := make([]reviewResponse, 0, len(rs))
	for _, r := range rs {
		out = append(out, newReviewResponse(r))
	}
	return out
}
