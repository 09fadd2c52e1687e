package models

import (
	"sort"
	"time"
)

// User represents an account within the Kindred platform.
type User struct {
	ID          string
	Email       string
	Username    string
	AccountType string
	Password    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Account types accepted at signup.
const (
	AccountTypeCouple = "Couple"
	AccountTypeBull   = "Bull"
)

// ConnectionStatus is the lifecycle state of a Connection.
type ConnectionStatus string

const (
	ConnectionPending  ConnectionStatus = "pending"
	ConnectionAccepted ConnectionStatus = "accepted"
	ConnectionRejected ConnectionStatus = "rejected"
	ConnectionBlocked  ConnectionStatus = "blocked"
)

// Connection is the pairwise relationship record between two users.
type Connection struct {
	ID        string
	Requester string
	Recipient string
	Status    ConnectionStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasParty reports whether userID is the requester or the recipient.
func (c Connection) HasParty(userID string) bool {
	return userID != "" && (c.Requester == userID || c.Recipient == userID)
}

// Parties returns both participants of the connection.
func (c Connection) Parties() []string {
	return []string{c.Requester, c.Recipient}
}

// Counterpart returns the other party, or "" when userID is not a party.
func (c Connection) Counterpart(userID string) string {
	switch userID {
	case c.Requester:
		return c.Recipient
	case c.Recipient:
		return c.Requester
	default:
		return ""
	}
}

// PairKey returns an order-independent key for the unordered pair {a, b}.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// MeetingStatus is the lifecycle state of a Meeting.
type MeetingStatus string

const (
	MeetingProposed  MeetingStatus = "proposed"
	MeetingAccepted  MeetingStatus = "accepted"
	MeetingCompleted MeetingStatus = "completed"
	MeetingCanceled  MeetingStatus = "canceled"
)

// Terminal reports whether no further lifecycle transitions are expected.
func (s MeetingStatus) Terminal() bool {
	return s == MeetingCompleted || s == MeetingCanceled
}

// Acceptance records a single party agreeing to a meeting.
type Acceptance struct {
	UserID     string
	AcceptedAt time.Time
}

// AcceptanceSet holds at most one Acceptance per user.
type AcceptanceSet struct {
	entries []Acceptance
}

// NewAcceptanceSet builds a set from entries, keeping the first acceptance seen per user.
func NewAcceptanceSet(entries ...Acceptance) AcceptanceSet {
	var set AcceptanceSet
	for _, entry := range entries {
		set.Add(entry)
	}
	return set
}

// Add appends the acceptance unless the user is already present. It reports
// whether the set changed.
func (s *AcceptanceSet) Add(a Acceptance) bool {
	if a.UserID == "" || s.Has(a.UserID) {
		return false
	}
	s.entries = append(s.entries, a)
	return true
}

// Has reports whether userID has accepted.
func (s AcceptanceSet) Has(userID string) bool {
	for _, entry := range s.entries {
		if entry.UserID == userID {
			return true
		}
	}
	return false
}

// Len returns the number of distinct acceptances.
func (s AcceptanceSet) Len() int {
	return len(s.entries)
}

// Users returns the accepting user ids in acceptance order.
func (s AcceptanceSet) Users() []string {
	users := make([]string, 0, len(s.entries))
	for _, entry := range s.entries {
		users = append(users, entry.UserID)
	}
	return users
}

// Entries returns a copy of the acceptances ordered by acceptance time.
func (s AcceptanceSet) Entries() []Acceptance {
	out := make([]Acceptance, len(s.entries))
	copy(out, s.entries)
	sort.SliceStable(out, func(i, j int) bool { return out[i].AcceptedAt.Before(out[j].AcceptedAt) })
	return out
}

// Meeting is a proposed real-world encounter tied to an accepted Connection.
type Meeting struct {
	ID           string
	ConnectionID string
	ProposedBy   string
	DateTime     time.Time
	Location     string
	Details      string
	Status       MeetingStatus
	AcceptedBy   AcceptanceSet
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EffectiveAcceptors is the explicit acceptance set plus the implicit proposer.
func (m Meeting) EffectiveAcceptors() []string {
	users := m.AcceptedBy.Users()
	if m.ProposedBy != "" && !m.AcceptedBy.Has(m.ProposedBy) {
		users = append([]string{m.ProposedBy}, users...)
	}
	return users
}

// AcceptedByAll reports whether every required user is an effective acceptor.
func (m Meeting) AcceptedByAll(required []string) bool {
	effective := make(map[string]struct{}, m.AcceptedBy.Len()+1)
	for _, user := range m.EffectiveAcceptors() {
		effective[user] = struct{}{}
	}
	for _, user := range required {
		if _, ok := effective[user]; !ok {
			return false
		}
	}
	return true
}

// MessageType classifies the content of a Message.
type MessageType string

const (
	MessageText           MessageType = "text"
	MessageImage          MessageType = "image"
	MessageLocation       MessageType = "location"
	MessageMeetingRequest MessageType = "meetingRequest"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageLocation, MessageMeetingRequest:
		return true
	default:
		return false
	}
}

// Message is a chat entry exchanged between the two parties of a connection.
type Message struct {
	ID           string
	ConnectionID string
	SenderID     string
	Type         MessageType
	Content      string
	Read         bool
	CreatedAt    time.Time
}

// Review is one user's rating of another after meeting them.
type Review struct {
	ID         string
	ReviewerID string
	ReviewedID string
	MeetingID  string
	Rating     int
	Feedback   string
	Public     bool
	CreatedAt  time.Time
}

// RatingSummary aggregates the ratings a user has received.
type RatingSummary struct {
	Count   int
	Average float64
}

// Summarize averages the ratings of reviews. Private reviews count too.
func Summarize(reviews []Review) RatingSummary {
	if len(reviews) == 0 {
		return RatingSummary{}
	}
	total := 0
	for _, r := range reviews {
		total += r.Rating
	}
	return RatingSummary{Count: len(reviews), Average: float64(total) / float64(len(reviews))}
}

// SessionTokens groups the bearer credentials issued to authenticated users.
type SessionTokens struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}
