// Package meetings coordinates meeting proposals between the two parties of an
// accepted connection.
//
// A meeting starts proposed, with the proposer counted as having accepted. Once
// every party is in the effective acceptance set it is promoted to accepted.
// Cancel applies to proposed and accepted meetings; complete is unconditional.
package meetings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kindred/backend/internal/apperr"
	"github.com/kindred/backend/internal/logging"
	"github.com/kindred/backend/internal/models"
	"github.com/kindred/backend/internal/notify"
	"github.com/kindred/backend/internal/repositories"
)

// ConnectionReader is the read side of the connection store used to authorize
// meeting operations.
type ConnectionReader interface {
	FindByID(ctx context.Context, id string) (models.Connection, error)
	ListForUser(ctx context.Context, userID string, statuses ...models.ConnectionStatus) ([]models.Connection, error)
}

// Proposal carries the caller-supplied details of a new meeting.
type Proposal struct {
	DateTime time.Time
	Location string
	Details  string
}

var (
	acceptableStatuses = []models.MeetingStatus{models.MeetingProposed}
	cancelableStatuses = []models.MeetingStatus{models.MeetingProposed, models.MeetingAccepted}
)

// Coordinator enforces meeting transitions and the two-party acceptance rule.
type Coordinator struct {
	meetings    repositories.MeetingRepository
	connections ConnectionReader
	notifier    notify.Notifier
	clock       func() time.Time
	newID       func() string
}

// NewCoordinator constructs a Coordinator. A nil notifier discards events; nil
// clock and newID default to time.Now and uuid.NewString.
func NewCoordinator(meetings repositories.MeetingRepository, connections ConnectionReader, notifier notify.Notifier, clock func() time.Time, newID func() string) *Coordinator {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if clock == nil {
		clock = time.Now
	}
	if newID == nil {
		newID = uuid.NewString
	}
	return &Coordinator{
		meetings:    meetings,
		connections: connections,
		notifier:    notifier,
		clock:       clock,
		newID:       newID,
	}
}

// ProposeMeeting creates a proposed meeting on an accepted connection.
func (c *Coordinator) ProposeMeeting(ctx context.Context, callerID, connectionID string, proposal Proposal) (models.Meeting, error) {
	ctx, span := logging.StartSpan(ctx, "meetings.propose", "connection_id", connectionID)
	defer span.End()

	if proposal.DateTime.IsZero() {
		return models.Meeting{}, apperr.Validation("dateTime is required")
	}
	location := strings.TrimSpace(proposal.Location)
	if location == "" {
		return models.Meeting{}, apperr.Validation("location is required")
	}

	conn, err := c.loadConnection(ctx, connectionID)
	if err != nil {
		return models.Meeting{}, err
	}
	if !conn.HasParty(callerID) {
		return models.Meeting{}, apperr.Forbidden("not a party to this connection")
	}
	if conn.Status != models.ConnectionAccepted {
		return models.Meeting{}, apperr.InvalidState("meetings can only be proposed on accepted connections")
	}

	now := c.clock().UTC()
	meeting := models.Meeting{
		ID:           c.newID(),
		ConnectionID: conn.ID,
		ProposedBy:   callerID,
		DateTime:     proposal.DateTime.UTC(),
		Location:     location,
		Details:      strings.TrimSpace(proposal.Details),
		Status:       models.MeetingProposed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := c.meetings.Create(ctx, meeting); err != nil {
		return models.Meeting{}, fmt.Errorf("create meeting: %w", err)
	}

	logging.FromContext(ctx).Info("meeting proposed", "meetingId", meeting.ID, "connectionId", conn.ID)
	c.notifier.Notify(ctx, notify.Event{
		Kind:        notify.KindMeetingProposed,
		RecipientID: conn.Counterpart(callerID),
		ActorID:     callerID,
		SubjectID:   meeting.ID,
		OccurredAt:  now,
		Payload:     map[string]string{"connectionId": conn.ID},
	})

	return meeting, nil
}

// AcceptMeeting records the caller's acceptance and promotes the meeting to
// accepted once both parties are effective acceptors.
func (c *Coordinator) AcceptMeeting(ctx context.Context, callerID, meetingID string) (models.Meeting, error) {
	ctx, span := logging.StartSpan(ctx, "meetings.accept", "meeting_id", meetingID)
	defer span.End()

	meeting, conn, err := c.loadForParty(ctx, callerID, meetingID)
	if err != nil {
		return models.Meeting{}, err
	}

	if meeting.ProposedBy == callerID {
		return models.Meeting{}, apperr.InvalidOperation("the proposer cannot accept their own meeting")
	}
	if meeting.AcceptedBy.Has(callerID) {
		return models.Meeting{}, apperr.AlreadyAccepted("meeting already accepted")
	}
	if meeting.Status != models.MeetingProposed {
		return models.Meeting{}, apperr.InvalidState(fmt.Sprintf("meeting is %s", meeting.Status))
	}

	now := c.clock().UTC()
	updated, err := c.meetings.AddAcceptance(ctx, meeting.ID, models.Acceptance{UserID: callerID, AcceptedAt: now}, acceptableStatuses)
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrConflict):
			return models.Meeting{}, apperr.AlreadyAccepted("meeting already accepted")
		case errors.Is(err, repositories.ErrPreconditionFailed):
			return models.Meeting{}, apperr.InvalidState("meeting is no longer proposed")
		case errors.Is(err, repositories.ErrNotFound):
			return models.Meeting{}, apperr.NotFound("meeting not found")
		default:
			return models.Meeting{}, fmt.Errorf("add meeting acceptance: %w", err)
		}
	}

	logger := logging.FromContext(ctx)
	logger.Info("meeting accepted", "meetingId", updated.ID, "acceptances", updated.AcceptedBy.Len())
	c.notifier.Notify(ctx, notify.Event{
		Kind:        notify.KindMeetingAccepted,
		RecipientID: updated.ProposedBy,
		ActorID:     callerID,
		SubjectID:   updated.ID,
		OccurredAt:  now,
	})

	if !updated.AcceptedByAll(conn.Parties()) {
		return updated, nil
	}

	promoted, err := c.meetings.TransitionStatus(ctx, updated.ID, acceptableStatuses, models.MeetingAccepted, now)
	if err != nil {
		if !errors.Is(err, repositories.ErrPreconditionFailed) {
			return models.Meeting{}, fmt.Errorf("promote meeting: %w", err)
		}
		// Another request promoted or canceled it first.
		current, err := c.meetings.FindByID(ctx, updated.ID)
		if err != nil {
			return models.Meeting{}, fmt.Errorf("reload meeting: %w", err)
		}
		return current, nil
	}

	logger.Info("meeting confirmed", "meetingId", promoted.ID)
	for _, party := range conn.Parties() {
		c.notifier.Notify(ctx, notify.Event{
			Kind:        notify.KindMeetingConfirmed,
			RecipientID: party,
			ActorID:     callerID,
			SubjectID:   promoted.ID,
			OccurredAt:  now,
		})
	}

	return promoted, nil
}

// CancelMeeting cancels a proposed or accepted meeting.
func (c *Coordinator) CancelMeeting(ctx context.Context, callerID, meetingID string) (models.Meeting, error) {
	ctx, span := logging.StartSpan(ctx, "meetings.cancel", "meeting_id", meetingID)
	defer span.End()

	meeting, conn, err := c.loadForParty(ctx, callerID, meetingID)
	if err != nil {
		return models.Meeting{}, err
	}
	if meeting.Status.Terminal() {
		return models.Meeting{}, apperr.InvalidState(fmt.Sprintf("meeting is already %s", meeting.Status))
	}

	updated, err := c.meetings.TransitionStatus(ctx, meeting.ID, cancelableStatuses, models.MeetingCanceled, c.clock().UTC())
	if err != nil {
		return models.Meeting{}, c.transitionError(err)
	}

	logging.FromContext(ctx).Info("meeting canceled", "meetingId", updated.ID)
	c.notifier.Notify(ctx, notify.Event{
		Kind:        notify.KindMeetingCanceled,
		RecipientID: conn.Counterpart(callerID),
		ActorID:     callerID,
		SubjectID:   updated.ID,
		OccurredAt:  updated.UpdatedAt,
	})

	return updated, nil
}

// CompleteMeeting marks the meeting completed whatever its current status.
func (c *Coordinator) CompleteMeeting(ctx context.Context, callerID, meetingID string) (models.Meeting, error) {
	ctx, span := logging.StartSpan(ctx, "meetings.complete", "meeting_id", meetingID)
	defer span.End()

	meeting, conn, err := c.loadForParty(ctx, callerID, meetingID)
	if err != nil {
		return models.Meeting{}, err
	}

	updated, err := c.meetings.TransitionStatus(ctx, meeting.ID, nil, models.MeetingCompleted, c.clock().UTC())
	if err != nil {
		return models.Meeting{}, c.transitionError(err)
	}

	logging.FromContext(ctx).Info("meeting completed", "meetingId", updated.ID, "previousStatus", string(meeting.Status))
	c.notifier.Notify(ctx, notify.Event{
		Kind:        notify.KindMeetingCompleted,
		RecipientID: conn.Counterpart(callerID),
		ActorID:     callerID,
		SubjectID:   updated.ID,
		OccurredAt:  updated.UpdatedAt,
	})

	return updated, nil
}

// ListMeetingsForConnection returns the connection's meetings by date ascending.
func (c *Coordinator) ListMeetingsForConnection(ctx context.Context, callerID, connectionID string) ([]models.Meeting, error) {
	conn, err := c.loadConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if !conn.HasParty(callerID) {
		return nil, apperr.Forbidden("not a party to this connection")
	}

	meetings, err := c.meetings.ListByConnections(ctx, []string{conn.ID})
	if err != nil {
		return nil, fmt.Errorf("list meetings: %w", err)
	}
	return meetings, nil
}

// ListMeetingsForUser returns meetings across the caller's accepted connections
// by date ascending.
func (c *Coordinator) ListMeetingsForUser(ctx context.Context, callerID string) ([]models.Meeting, error) {
	conns, err := c.connections.ListForUser(ctx, callerID, models.ConnectionAccepted)
	if err != nil {
		return nil, fmt.Errorf("list active connections: %w", err)
	}
	if len(conns) == 0 {
		return []models.Meeting{}, nil
	}

	ids := make([]string, 0, len(conns))
	for _, conn := range conns {
		ids = append(ids, conn.ID)
	}

	meetings, err := c.meetings.ListByConnections(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list meetings: %w", err)
	}
	return meetings, nil
}

func (c *Coordinator) loadConnection(ctx context.Context, connectionID string) (models.Connection, error) {
	conn, err := c.connections.FindByID(ctx, connectionID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.Connection{}, apperr.NotFound("connection not found")
		}
		return models.Connection{}, fmt.Errorf("find connection: %w", err)
	}
	return conn, nil
}

// loadForParty loads the meeting and its connection, requiring callerID to be a party.
func (c *Coordinator) loadForParty(ctx context.Context, callerID, meetingID string) (models.Meeting, models.Connection, error) {
	meeting, err := c.meetings.FindByID(ctx, meetingID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.Meeting{}, models.Connection{}, apperr.NotFound("meeting not found")
		}
		return models.Meeting{}, models.Connection{}, fmt.Errorf("find meeting: %w", err)
	}

	conn, err := c.loadConnection(ctx, meeting.ConnectionID)
	if err != nil {
		return models.Meeting{}, models.Connection{}, err
	}
	if !conn.HasParty(callerID) {
		return models.Meeting{}, models.Connection{}, apperr.Forbidden("not a party to this meeting")
	}

	return meeting, conn, nil
}

func (c *Coordinator) transitionError(err error) error {
	switch {
	case errors.Is(err, repositories.ErrPreconditionFailed):
		return apperr.InvalidState("meeting status changed concurrently")
	case errors.Is(err, repositories.ErrNotFound):
		return apperr.NotFound("meeting not found")
	default:
		return fmt.Errorf("update meeting status: %w", err)
	}
}
