package repositories

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kindred/backend/internal/models"
)

// MemoryUserStore implements UserRepository for tests and local development.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]models.User
}

// NewMemoryUserStore returns an empty in-memory user store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]models.User)}
}

// Create stores the user, rejecting duplicate ids, emails and usernames.
func (s *MemoryUserStore) Create(_ context.Context, user models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; ok {
		return ErrConflict
	}
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, user.Email) || (user.Username != "" && existing.Username == user.Username) {
			return ErrConflict
		}
	}
	s.users[user.ID] = user
	return nil
}

// FindByEmail looks a user up by email address.
func (s *MemoryUserStore) FindByEmail(_ context.Context, email string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return models.User{}, ErrNotFound
}

// FindByID looks a user up by identifier.
func (s *MemoryUserStore) FindByID(_ context.Context, id string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return user, nil
}

// Update replaces an existing user.
func (s *MemoryUserStore) Update(_ context.Context, user models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; !ok {
		return ErrNotFound
	}
	s.users[user.ID] = user
	return nil
}

// MemoryConnectionStore implements ConnectionRepository with a mutex-guarded map.
type MemoryConnectionStore struct {
	mu     sync.Mutex
	byID   map[string]models.Connection
	byPair map[string]string
}

// NewMemoryConnectionStore returns an empty in-memory connection store.
func NewMemoryConnectionStore() *MemoryConnectionStore {
	return &MemoryConnectionStore{
		byID:   make(map[string]models.Connection),
		byPair: make(map[string]string),
	}
}

// Create stores the connection unless a record for the pair already exists.
func (s *MemoryConnectionStore) Create(_ context.Context, conn models.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := models.PairKey(conn.Requester, conn.Recipient)
	if _, ok := s.byPair[key]; ok {
		return ErrConflict
	}
	if _, ok := s.byID[conn.ID]; ok {
		return ErrConflict
	}
	s.byID[conn.ID] = conn
	s.byPair[key] = conn.ID
	return nil
}

// FindByID loads a connection by identifier.
func (s *MemoryConnectionStore) FindByID(_ context.Context, id string) (models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.byID[id]
	if !ok {
		return models.Connection{}, ErrNotFound
	}
	return conn, nil
}

// FindByPair loads the connection between a and b in either direction.
func (s *MemoryConnectionStore) FindByPair(_ context.Context, a, b string) (models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byPair[models.PairKey(a, b)]
	if !ok {
		return models.Connection{}, ErrNotFound
	}
	return s.byID[id], nil
}

// ListForUser returns the user's connections, optionally filtered by status, newest first.
func (s *MemoryConnectionStore) ListForUser(_ context.Context, userID string, statuses ...models.ConnectionStatus) ([]models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Connection
	for _, conn := range s.byID {
		if !conn.HasParty(userID) {
			continue
		}
		if len(statuses) > 0 && !containsConnectionStatus(statuses, conn.Status) {
			continue
		}
		out = append(out, conn)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// TransitionStatus performs a compare-and-set on the connection status.
func (s *MemoryConnectionStore) TransitionStatus(_ context.Context, id string, from []models.ConnectionStatus, to models.ConnectionStatus, at time.Time) (models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.byID[id]
	if !ok {
		return models.Connection{}, ErrNotFound
	}
	if from != nil && !containsConnectionStatus(from, conn.Status) {
		return models.Connection{}, ErrPreconditionFailed
	}

	conn.Status = to
	conn.UpdatedAt = at
	s.byID[id] = conn
	return conn, nil
}

// MemoryMeetingStore implements MeetingRepository with a mutex-guarded map.
type MemoryMeetingStore struct {
	mu       sync.Mutex
	meetings map[string]models.Meeting
}

// NewMemoryMeetingStore returns an empty in-memory meeting store.
func NewMemoryMeetingStore() *MemoryMeetingStore {
	return &MemoryMeetingStore{meetings: make(map[string]models.Meeting)}
}

// Create stores a new meeting.
func (s *MemoryMeetingStore) Create(_ context.Context, meeting models.Meeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.meetings[meeting.ID]; ok {
		return ErrConflict
	}
	s.meetings[meeting.ID] = cloneMeeting(meeting)
	return nil
}

// FindByID loads a meeting by identifier.
func (s *MemoryMeetingStore) FindByID(_ context.Context, id string) (models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meeting, ok := s.meetings[id]
	if !ok {
		return models.Meeting{}, ErrNotFound
	}
	return cloneMeeting(meeting), nil
}

// AddAcceptance appends the acceptance under the store lock. A duplicate user is
// reported before the status check so repeated accepts stay distinguishable.
func (s *MemoryMeetingStore) AddAcceptance(_ context.Context, meetingID string, acceptance models.Acceptance, allowed []models.MeetingStatus) (models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meeting, ok := s.meetings[meetingID]
	if !ok {
		return models.Meeting{}, ErrNotFound
	}
	if meeting.AcceptedBy.Has(acceptance.UserID) {
		return models.Meeting{}, ErrConflict
	}
	if !meetingStatusAllowed(meeting.Status, allowed) {
		return models.Meeting{}, ErrPreconditionFailed
	}

	meeting = cloneMeeting(meeting)
	meeting.AcceptedBy.Add(acceptance)
	meeting.UpdatedAt = acceptance.AcceptedAt
	s.meetings[meetingID] = meeting
	return cloneMeeting(meeting), nil
}

// TransitionStatus moves the meeting to `to`, guarded by from unless from is nil.
func (s *MemoryMeetingStore) TransitionStatus(_ context.Context, id string, from []models.MeetingStatus, to models.MeetingStatus, at time.Time) (models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meeting, ok := s.meetings[id]
	if !ok {
		return models.Meeting{}, ErrNotFound
	}
	if !meetingStatusAllowed(meeting.Status, from) {
		return models.Meeting{}, ErrPreconditionFailed
	}

	meeting.Status = to
	meeting.UpdatedAt = at
	s.meetings[id] = meeting
	return cloneMeeting(meeting), nil
}

// ListByConnections returns meetings on the given connections ordered by date.
func (s *MemoryMeetingStore) ListByConnections(_ context.Context, connectionIDs []string) ([]models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]struct{}, len(connectionIDs))
	for _, id := range connectionIDs {
		wanted[id] = struct{}{}
	}

	var out []models.Meeting
	for _, meeting := range s.meetings {
		if _, ok := wanted[meeting.ConnectionID]; ok {
			out = append(out, cloneMeeting(meeting))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].DateTime.Equal(out[j].DateTime) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].DateTime.Before(out[j].DateTime)
	})
	return out, nil
}

// MemoryMessageStore implements MessageRepository with a mutex-guarded slice.
type MemoryMessageStore struct {
	mu       sync.Mutex
	messages []models.Message
}

// NewMemoryMessageStore returns an empty in-memory message store.
func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{}
}

// Create appends the message.
func (s *MemoryMessageStore) Create(_ context.Context, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.messages {
		if existing.ID == msg.ID {
			return ErrConflict
		}
	}
	s.messages = append(s.messages, msg)
	return nil
}

// ListByConnection returns the connection's messages oldest first.
func (s *MemoryMessageStore) ListByConnection(_ context.Context, connectionID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Message
	for _, msg := range s.messages {
		if msg.ConnectionID == connectionID {
			out = append(out, msg)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// MarkRead flags unread messages from the other party as read.
func (s *MemoryMessageStore) MarkRead(_ context.Context, connectionID, readerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var updated int64
	for i, msg := range s.messages {
		if msg.ConnectionID != connectionID || msg.SenderID == readerID || msg.Read {
			continue
		}
		s.messages[i].Read = true
		updated++
	}
	return updated, nil
}

// MemoryReviewStore implements ReviewRepository with a mutex-guarded slice.
type MemoryReviewStore struct {
	mu      sync.Mutex
	reviews []models.Review
}

// NewMemoryReviewStore returns an empty in-memory review store.
func NewMemoryReviewStore() *MemoryReviewStore {
	return &MemoryReviewStore{}
}

// Create stores the review unless the reviewer already reviewed that user.
func (s *MemoryReviewStore) Create(_ context.Context, review models.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.reviews {
		if existing.ID == review.ID || (existing.ReviewerID == review.ReviewerID && existing.ReviewedID == review.ReviewedID) {
			return ErrConflict
		}
	}
	s.reviews = append(s.reviews, review)
	return nil
}

// ListByReviewed returns reviews about userID, newest first.
func (s *MemoryReviewStore) ListByReviewed(_ context.Context, userID string) ([]models.Review, error) {
	return s.filter(func(r models.Review) bool { return r.ReviewedID == userID }), nil
}

// ListByReviewer returns reviews written by userID, newest first.
func (s *MemoryReviewStore) ListByReviewer(_ context.Context, userID string) ([]models.Review, error) {
	return s.filter(func(r models.Review) bool { return r.ReviewerID == userID }), nil
}

func (s *MemoryReviewStore) filter(keep func(models.Review) bool) []models.Review {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Review
	for _, review := range s.reviews {
		if keep(review) {
			out = append(out, review)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func cloneMeeting(m models.Meeting) models.Meeting {
	m.AcceptedBy = models.NewAcceptanceSet(m.AcceptedBy.Entries()...)
	return m
}

func containsConnectionStatus(statuses []models.ConnectionStatus, status models.ConnectionStatus) bool {
	for _, candidate := range statuses {
		if candidate == status {
			return true
		}
	}
	return false
}

var _ UserRepository = (*MemoryUserStore)(nil)
var _ ConnectionRepository = (*MemoryConnectionStore)(nil)
var _ MeetingRepository = (*MemoryMeetingStore)(nil)
var _ MessageRepository = (*MemoryMessageStore)(nil)
var _ ReviewRepository = (*MemoryReviewStore)(nil)
