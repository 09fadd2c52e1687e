// Package messages carries chat between the two parties of a connection.
// Sending requires an accepted connection; reading history does not.
package messages

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

// MaxContentLength bounds a single message, counted in runes.
const MaxContentLength = 4000

// ConnectionReader loads the connection a message belongs to.
type ConnectionReader interface {
	FindByID(ctx context.Context, id string) (models.Connection, error)
}

// Draft is the caller-supplied content of a new message.
type Draft struct {
	Type    models.MessageType
	Content string
}

// Service authorizes and stores messages.
type Service struct {
	store       repositories.MessageRepository
	connections ConnectionReader
	notifier    notify.Notifier
	clock       func() time.Time
	newID       func() string
}

// NewService constructs a Service. A nil notifier discards events; nil clock and
// newID default to time.Now and uuid.NewString.
func NewService(store repositories.MessageRepository, connections ConnectionReader, notifier notify.Notifier, clock func() time.Time, newID func() string) *Service {
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
		notifier:    notifier,
		clock:       clock,
		newID:       newID,
	}
}

// Send stores a message from callerID on an accepted connection and notifies
// the other party.
func (s *Service) Send(ctx context.Context, callerID, connectionID string, draft Draft) (models.Message, error) {
	ctx, span := logging.StartSpan(ctx, "messages.send", "connection_id", connectionID)
	defer span.End()

	content := strings.TrimSpace(draft.Content)
	if content == "" {
		return models.Message{}, apperr.Validation("content is required")
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return models.Message{}, apperr.Validation(fmt.Sprintf("content must be at most %d characters", MaxContentLength))
	}
	if !draft.Type.Valid() {
		return models.Message{}, apperr.Validation(fmt.Sprintf("unknown message type %q", draft.Type))
	}

	conn, err := s.loadForParty(ctx, callerID, connectionID)
	if err != nil {
		return models.Message{}, err
	}
	if conn.Status != models.ConnectionAccepted {
		return models.Message{}, apperr.InvalidState("connection is not active")
	}

	msg := models.Message{
		ID:           s.newID(),
		ConnectionID: conn.ID,
		SenderID:     callerID,
		Type:         draft.Type,
		Content:      content,
		CreatedAt:    s.clock().UTC(),
	}
	if err := s.store.Create(ctx, msg); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.Message{}, apperr.NotFound("connection not found")
		}
		return models.Message{}, fmt.Errorf("create message: %w", err)
	}

	logging.FromContext(ctx).Info("message sent", "messageId", msg.ID, "messageType", string(msg.Type))
	s.notifier.Notify(ctx, notify.Event{
		Kind:        notify.KindMessageSent,
		RecipientID: conn.Counterpart(callerID),
		ActorID:     callerID,
		SubjectID:   msg.ID,
		OccurredAt:  msg.CreatedAt,
		Payload: map[string]string{
			"connectionId": conn.ID,
			"messageType":  string(msg.Type),
		},
	})

	return msg, nil
}

// List returns the connection's messages oldest first.
func (s *Service) List(ctx context.Context, callerID, connectionID string) ([]models.Message, error) {
	conn, err := s.loadForParty(ctx, callerID, connectionID)
	if err != nil {
		return nil, err
	}

	msgs, err := s.store.ListByConnection(ctx, conn.ID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// MarkRead marks every message the other party sent on the connection as read.
func (s *Service) MarkRead(ctx context.Context, callerID, connectionID string) (int64, error) {
	ctx, span := logging.StartSpan(ctx, "messages.mark_read", "connection_id", connectionID)
	defer span.End()

	conn, err := s.loadForParty(ctx, callerID, connectionID)
	if err != nil {
		return 0, err
	}

	updated, err := s.store.MarkRead(ctx, conn.ID, callerID)
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}

	logging.FromContext(ctx).Debug("messages marked read", "updated", updated)
	return updated, nil
}

func (s *Service) loadForParty(ctx context.Context, callerID, connectionID string) (models.Connection, error) {
	conn, err := s.connections.FindByID(ctx, connectionID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.Connection{}, apperr.NotFound("connection not found")
		}
		return models.Connection{}, fmt.Errorf("find connection: %w", err)
	}
	if !conn.HasParty(callerID) {
		return models.Connection{}, apperr.Forbidden("not a party to this connection")
	}
	return conn, nil
}
