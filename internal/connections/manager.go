// Package connections implements the pairwise connection lifecycle:
// pending -> accepted | rejected, and any non-blocked status -> blocked.
package connections

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

// UserLookup resolves user existence for connection targets.
type UserLookup interface {
	FindByID(ctx context.Context, id string) (models.User, error)
}

var blockableStatuses = []models.ConnectionStatus{
	models.ConnectionPending,
	models.ConnectionAccepted,
	models.ConnectionRejected,
}

// Manager enforces connection state transitions and authorization.
type Manager struct {
	store    repositories.ConnectionRepository
	users    UserLookup
	notifier notify.Notifier
	clock    func() time.Time
	newID    func() string
}

// NewManager constructs a Manager. A nil notifier discards events; nil clock and
// newID default to time.Now and uuid.NewString.
func NewManager(store repositories.ConnectionRepository, users UserLookup, notifier notify.Notifier, clock func() time.Time, newID func() string) *Manager {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if clock == nil {
		clock = time.Now
	}
	if newID == nil {
		newID = uuid.NewString
	}
	return &Manager{
		store:    store,
		users:    users,
		notifier: notifier,
		clock:    clock,
		newID:    newID,
	}
}

// RequestConnection creates a pending connection from callerID to targetID.
func (m *Manager) RequestConnection(ctx context.Context, callerID, targetID string) (models.Connection, error) {
	ctx, span := logging.StartSpan(ctx, "connections.request", "target_id", targetID)
	defer span.End()

	callerID = strings.TrimSpace(callerID)
	targetID = strings.TrimSpace(targetID)
	if callerID == "" || targetID == "" {
		return models.Connection{}, apperr.Validation("caller and target are required")
	}
	if callerID == targetID {
		return models.Connection{}, apperr.Validation("cannot connect with yourself")
	}

	if _, err := m.users.FindByID(ctx, targetID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.Connection{}, apperr.NotFound("user not found")
		}
		return models.Connection{}, fmt.Errorf("find target user: %w", err)
	}

	if _, err := m.store.FindByPair(ctx, callerID, targetID); err == nil {
		return models.Connection{}, apperr.AlreadyExists("connection already exists")
	} else if !errors.Is(err, repositories.ErrNotFound) {
		return models.Connection{}, fmt.Errorf("find connection by pair: %w", err)
	}

	now := m.clock().UTC()
	conn := models.Connection{
		ID:        m.newID(),
		Requester: callerID,
		Recipient: targetID,
		Status:    models.ConnectionPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := m.store.Create(ctx, conn); err != nil {
		switch {
		case errors.Is(err, repositories.ErrConflict):
			return models.Connection{}, apperr.AlreadyExists("connection already exists")
		case errors.Is(err, repositories.ErrNotFound):
			return models.Connection{}, apperr.NotFound("user not found")
		default:
			return models.Connection{}, fmt.Errorf("create connection: %w", err)
		}
	}

	logging.FromContext(ctx).Info("connection requested", "connectionId", conn.ID)
	m.notifier.Notify(ctx, notify.Event{
		Kind:        notify.KindConnectionRequested,
		RecipientID: targetID,
		ActorID:     callerID,
		SubjectID:   conn.ID,
		OccurredAt:  now,
	})

	return conn, nil
}

// AcceptConnection moves a pending connection to accepted. Only the recipient may accept.
func (m *Manager) AcceptConnection(ctx context.Context, callerID, connectionID string) (models.Connection, error) {
	ctx, span := logging.StartSpan(ctx, "connections.accept", "connection_id", connectionID)
	defer span.End()

	return m.respond(ctx, callerID, connectionID, models.ConnectionAccepted, notify.KindConnectionAccepted)
}

// RejectConnection moves a pending connection to rejected. Only the recipient may reject.
func (m *Manager) RejectConnection(ctx context.Context, callerID, connectionID string) (models.Connection, error) {
	ctx, span := logging.StartSpan(ctx, "connections.reject", "connection_id", connectionID)
	defer span.End()

	return m.respond(ctx, callerID, connectionID, models.ConnectionRejected, notify.KindConnectionRejected)
}

func (m *Manager) respond(ctx context.Context, callerID, connectionID string, to models.ConnectionStatus, kind notify.Kind) (models.Connection, error) {
	conn, err := m.load(ctx, connectionID)
	if err != nil {
		return models.Connection{}, err
	}

	if conn.Recipient != callerID {
		return models.Connection{}, apperr.Forbidden("only the recipient can respond to a connection request")
	}
	if conn.Status != models.ConnectionPending {
		return models.Connection{}, apperr.InvalidState(fmt.Sprintf("connection is %s", conn.Status))
	}

	updated, err := m.transition(ctx, conn.ID, []models.ConnectionStatus{models.ConnectionPending}, to)
	if err != nil {
		return models.Connection{}, err
	}

	logging.FromContext(ctx).Info("connection status changed", "connectionId", updated.ID, "status", string(updated.Status))
	m.notifier.Notify(ctx, notify.Event{
		Kind:        kind,
		RecipientID: updated.Requester,
		ActorID:     callerID,
		SubjectID:   updated.ID,
		OccurredAt:  updated.UpdatedAt,
	})

	return updated, nil
}

// BlockConnection moves any non-blocked connection to blocked. Either party may block.
func (m *Manager) BlockConnection(ctx context.Context, callerID, connectionID string) (models.Connection, error) {
	ctx, span := logging.StartSpan(ctx, "connections.block", "connection_id", connectionID)
	defer span.End()

	conn, err := m.load(ctx, connectionID)
	if err != nil {
		return models.Connection{}, err
	}

	if !conn.HasParty(callerID) {
		return models.Connection{}, apperr.Forbidden("not a party to this connection")
	}
	if conn.Status == models.ConnectionBlocked {
		return models.Connection{}, apperr.InvalidState("connection is already blocked")
	}

	updated, err := m.transition(ctx, conn.ID, blockableStatuses, models.ConnectionBlocked)
	if err != nil {
		return models.Connection{}, err
	}

	logging.FromContext(ctx).Info("connection blocked", "connectionId", updated.ID)
	m.notifier.Notify(ctx, notify.Event{
		Kind:        notify.KindConnectionBlocked,
		RecipientID: updated.Counterpart(callerID),
		ActorID:     callerID,
		SubjectID:   updated.ID,
		OccurredAt:  updated.UpdatedAt,
	})

	return updated, nil
}

// ListConnections returns every connection the caller is a party to, newest first.
func (m *Manager) ListConnections(ctx context.Context, callerID string) ([]models.Connection, error) {
	conns, err := m.store.ListForUser(ctx, callerID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	return conns, nil
}

// ListActiveConnections returns the caller's accepted connections, newest first.
func (m *Manager) ListActiveConnections(ctx context.Context, callerID string) ([]models.Connection, error) {
	conns, err := m.store.ListForUser(ctx, callerID, models.ConnectionAccepted)
	if err != nil {
		return nil, fmt.Errorf("list active connections: %w", err)
	}
	return conns, nil
}

func (m *Manager) load(ctx context.Context, connectionID string) (models.Connection, error) {
	conn, err := m.store.FindByID(ctx, connectionID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.Connection{}, apperr.NotFound("connection not found")
		}
		return models.Connection{}, fmt.Errorf("find connection: %w", err)
	}
	return conn, nil
}

// transition applies the compare-and-set; losing a race reads as InvalidState.
func (m *Manager) transition(ctx context.Context, id string, from []models.ConnectionStatus, to models.ConnectionStatus) (models.Connection, error) {
	updated, err := m.store.TransitionStatus(ctx, id, from, to, m.clock().UTC())
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrPreconditionFailed):
			return models.Connection{}, apperr.InvalidState("connection status changed concurrently")
		case errors.Is(err, repositories.ErrNotFound):
			return models.Connection{}, apperr.NotFound("connection not found")
		default:
			return models.Connection{}, fmt.Errorf("update connection status: %w", err)
		}
	}
	return updated, nil
}
