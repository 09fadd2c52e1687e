package notify

import (
	"context"
	"time"
)

// Kind names the relationship event being announced.
type Kind string

const (
	KindConnectionRequested Kind = "connection.requested"
	KindConnectionAccepted  Kind = "connection.accepted"
	KindConnectionRejected  Kind = "connection.rejected"
	KindConnectionBlocked   Kind = "connection.blocked"
	KindMeetingProposed     Kind = "meeting.proposed"
	KindMeetingAccepted     Kind = "meeting.accepted"
	KindMeetingConfirmed    Kind = "meeting.confirmed"
	KindMeetingCanceled     Kind = "meeting.canceled"
	KindMeetingCompleted    Kind = "meeting.completed"
	KindMessageSent         Kind = "message.sent"
	KindReviewReceived      Kind = "review.received"
)

// Event is a single notification addressed to one user.
type Event struct {
	Kind        Kind              `json:"kind"`
	RecipientID string            `json:"recipientId"`
	ActorID     string            `json:"actorId"`
	SubjectID   string            `json:"subjectId"`
	OccurredAt  time.Time         `json:"occurredAt"`
	Payload     map[string]string `json:"payload,omitempty"`
}

// Notifier accepts events without blocking the caller. Delivery failures never
// surface to the operation that produced the event.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// Nop discards every event.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Event) {}

var _ Notifier = Nop{}
