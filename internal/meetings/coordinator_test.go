package meetings

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kindred/backend/internal/apperr"
	"github.com/kindred/backend/internal/connections"
	"github.com/kindred/backend/internal/models"
	"github.com/kindred/backend/internal/notify"
	"github.com/kindred/backend/internal/repositories"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(_ context.Context, event notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) kinds() []notify.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.Kind, 0, len(n.events))
	for _, event := range n.events {
		out = append(out, event.Kind)
	}
	return out
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	n.events = nil
	n.mu.Unlock()
}

var meetingTime = time.Date(2024, time.June, 1, 19, 30, 0, 0, time.UTC)

type fixture struct {
	connections *connections.Manager
	coordinator *Coordinator
	meetings    *repositories.MemoryMeetingStore
	notifier    *recordingNotifier
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	users := repositories.NewMemoryUserStore()
	for _, id := range []string{"A", "B", "C"} {
		if err := users.Create(context.Background(), models.User{ID: id, Email: id + "@example.com", Username: "user-" + id}); err != nil {
			t.Fatalf("seed user %s: %v", id, err)
		}
	}

	var seq atomic.Int64
	newID := func() string { return fmt.Sprintf("id-%d", seq.Add(1)) }
	clock := func() time.Time { return time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC) }

	connStore := repositories.NewMemoryConnectionStore()
	meetingStore := repositories.NewMemoryMeetingStore()
	notifier := &recordingNotifier{}

	return fixture{
		connections: connections.NewManager(connStore, users, nil, clock, newID),
		coordinator: NewCoordinator(meetingStore, connStore, notifier, clock, newID),
		meetings:    meetingStore,
		notifier:    notifier,
	}
}

// acceptedConnection creates a connection from A to B and has B accept it.
func (f fixture) acceptedConnection(t *testing.T) models.Connection {
	t.Helper()
	ctx := context.Background()

	conn, err := f.connections.RequestConnection(ctx, "A", "B")
	if err != nil {
		t.Fatalf("request connection: %v", err)
	}
	conn, err = f.connections.AcceptConnection(ctx, "B", conn.ID)
	if err != nil {
		t.Fatalf("accept connection: %v", err)
	}
	return conn
}

func (f fixture) propose(t *testing.T, connectionID, caller string) models.Meeting {
	t.Helper()
	meeting, err := f.coordinator.ProposeMeeting(context.Background(), caller, connectionID, Proposal{DateTime: meetingTime, Location: "Rooftop bar"})
	if err != nil {
		t.Fatalf("propose meeting: %v", err)
	}
	return meeting
}

func TestMeetingAcceptedAfterSingleExplicitAcceptance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conn := f.acceptedConnection(t)
	if conn.Status != models.ConnectionAccepted {
		t.Fatalf("expected accepted connection got %s", conn.Status)
	}

	meeting := f.propose(t, conn.ID, "A")
	if meeting.Status != models.MeetingProposed || meeting.AcceptedBy.Len() != 0 {
		t.Fatalf("expected fresh proposal with no explicit acceptances, got %+v", meeting)
	}
	if !meeting.DateTime.Equal(meetingTime) || meeting.Location != "Rooftop bar" {
		t.Fatalf("unexpected meeting details %+v", meeting)
	}

	accepted, err := f.coordinator.AcceptMeeting(ctx, "B", meeting.ID)
	if err != nil {
		t.Fatalf("accept meeting: %v", err)
	}
	if accepted.Status != models.MeetingAccepted {
		t.Fatalf("expected accepted meeting got %s", accepted.Status)
	}
	if got := accepted.EffectiveAcceptors(); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Fatalf("unexpected effective acceptors %v", got)
	}
	if accepted.AcceptedBy.Has("A") {
		t.Fatal("proposer must not appear in explicit acceptances")
	}

	want := []notify.Kind{notify.KindMeetingProposed, notify.KindMeetingAccepted, notify.KindMeetingConfirmed, notify.KindMeetingConfirmed}
	if got := f.notifier.kinds(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected notifications %v", got)
	}
}

func TestProposerCannotAcceptOwnMeeting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conn := f.acceptedConnection(t)
	meeting := f.propose(t, conn.ID, "A")

	if _, err := f.coordinator.AcceptMeeting(ctx, "A", meeting.ID); !apperr.IsKind(err, apperr.KindInvalidOperation) {
		t.Fatalf("expected InvalidOperation got %v", err)
	}

	stored, err := f.meetings.FindByID(ctx, meeting.ID)
	if err != nil {
		t.Fatalf("find meeting: %v", err)
	}
	if stored.Status != models.MeetingProposed || stored.AcceptedBy.Len() != 0 {
		t.Fatalf("expected meeting untouched, got %+v", stored)
	}
}

func TestAcceptMeetingTwiceFailsWithAlreadyAccepted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conn := f.acceptedConnection(t)
	meeting := f.propose(t, conn.ID, "B")

	if _, err := f.coordinator.AcceptMeeting(ctx, "A", meeting.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.coordinator.AcceptMeeting(ctx, "A", meeting.ID); !apperr.IsKind(err, apperr.KindAlreadyAccepted) {
		t.Fatalf("expected AlreadyAccepted got %v", err)
	}

	stored, err := f.meetings.FindByID(ctx, meeting.ID)
	if err != nil {
		t.Fatalf("find meeting: %v", err)
	}
	if stored.AcceptedBy.Len() != 1 {
		t.Fatalf("expected acceptance set to stay at one entry, got %d", stored.AcceptedBy.Len())
	}
}

func TestConcurrentAcceptsStoreOneAcceptance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conn := f.acceptedConnection(t)
	meeting := f.propose(t, conn.ID, "A")

	const attempts = 32
	var (
		wg        sync.WaitGroup
		successes atomic.Int64
		already   atomic.Int64
		other     atomic.Int64
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.coordinator.AcceptMeeting(ctx, "B", meeting.ID)
			switch {
			case err == nil:
				successes.Add(1)
			case apperr.IsKind(err, apperr.KindAlreadyAccepted):
				already.Add(1)
			default:
				other.Add(1)
			}
		}()
	}
	wg.Wait()

	if successes.Load() != 1 || already.Load() != attempts-1 || other.Load() != 0 {
		t.Fatalf("expected 1 success and %d AlreadyAccepted, got %d/%d/%d", attempts-1, successes.Load(), already.Load(), other.Load())
	}

	stored, err := f.meetings.FindByID(ctx, meeting.ID)
	if err != nil {
		t.Fatalf("find meeting: %v", err)
	}
	if stored.AcceptedBy.Len() != 1 || stored.Status != models.MeetingAccepted {
		t.Fatalf("expected one stored acceptance and accepted status, got %+v", stored)
	}
}

func TestProposeMeetingRequiresAcceptedConnection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending, err := f.connections.RequestConnection(ctx, "A", "B")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	rejected, err := f.connections.RequestConnection(ctx, "C", "A")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := f.connections.RejectConnection(ctx, "A", rejected.ID); err != nil {
		t.Fatalf("reject: %v", err)
	}
	blocked, err := f.connections.RequestConnection(ctx, "B", "C")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := f.connections.BlockConnection(ctx, "C", blocked.ID); err != nil {
		t.Fatalf("block: %v", err)
	}

	for name, tc := range map[string]struct {
		caller string
		connID string
	}{
		"pending":  {caller: "A", connID: pending.ID},
		"rejected": {caller: "C", connID: rejected.ID},
		"blocked":  {caller: "B", connID: blocked.ID},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.coordinator.ProposeMeeting(ctx, tc.caller, tc.connID, Proposal{DateTime: meetingTime, Location: "Cafe"})
			if !apperr.IsKind(err, apperr.KindInvalidState) {
				t.Fatalf("expected InvalidState got %v", err)
			}
		})
	}
}

func TestProposeMeetingValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conn := f.acceptedConnection(t)

	cases := []struct {
		name     string
		caller   string
		connID   string
		proposal Proposal
		kind     apperr.Kind
	}{
		{name: "zeroTime", caller: "A", connID: conn.ID, proposal: Proposal{Location: "Cafe"}, kind: apperr.KindValidation},
		{name: "blankLocation", caller: "A", connID: conn.ID, proposal: Proposal{DateTime: meetingTime, Location: "  "}, kind: apperr.KindValidation},
		{name: "unknownConnection", caller: "A", connID: "missing", proposal: Proposal{DateTime: meetingTime, Location: "Cafe"}, kind: apperr.KindNotFound},
		{name: "outsider", caller: "C", connID: conn.ID, proposal: Proposal{DateTime: meetingTime, Location: "Cafe"}, kind: apperr.KindForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.coordinator.ProposeMeeting(ctx, tc.caller, tc.connID, tc.proposal)
			if !apperr.IsKind(err, tc.kind) {
				t.Fatalf("expected %s got %v", tc.kind, err)
			}
		})
	}
}

func TestAcceptMeetingErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conn := f.acceptedConnection(t)
	meeting := f.propose(t, conn.ID, "A")

	if _, err := f.coordinator.AcceptMeeting(ctx, "B", "missing"); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("expected NotFound got %v", err)
	}
	if _, err := f.coordinator.AcceptMeeting(ctx, "C", meeting.ID); !apperr.IsKind(err, apperr.KindForbidden) {
		t.Fatalf("expected Forbidden got %v", err)
	}

	if _, err := f.coordinator.CancelMeeting(ctx, "A", meeting.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.coordinator.AcceptMeeting(ctx, "B", meeting.ID); !apperr.IsKind(err, apperr.KindInvalidState) {
		t.Fatalf("expected InvalidState for canceled meeting got %v", err)
	}
}

func TestCancelMeeting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conn := f.acceptedConnection(t)

	proposed := f.propose(t, conn.ID, "A")
	confirmed := f.propose(t, conn.ID, "A")
	if _, err := f.coordinator.AcceptMeeting(ctx, "B", confirmed.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	if _, err := f.coordinator.CancelMeeting(ctx, "C", proposed.ID); !apperr.IsKind(err, apperr.KindForbidden) {
		t.Fatalf("expected Forbidden got %v", err)
	}

	for _, id := range []string{proposed.ID, confirmed.ID} {
		f.notifier.reset()
		canceled, err := f.coordinator.CancelMeeting(ctx, "B", id)
		if err != nil {
			t.Fatalf("cancel %s: %v", id, err)
		}
		if canceled.Status != models.MeetingCanceled {
			t.Fatalf("expected canceled got %s", canceled.Status)
		}
		if got := f.notifier.kinds(); !reflect.DeepEqual(got, []notify.Kind{notify.KindMeetingCanceled}) {
			t.Fatalf("unexpected notifications %v", got)
		}

		if _, err := f.coordinator.CancelMeeting(ctx, "A", id); !apperr.IsKind(err, apperr.KindInvalidState) {
			t.Fatalf("expected InvalidState on second cancel got %v", err)
		}
	}
}

func TestCompleteMeetingHasNoStatusGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conn := f.acceptedConnection(t)

	proposed := f.propose(t, conn.ID, "A")
	canceled := f.propose(t, conn.ID, "A")
	if _, err := f.coordinator.CancelMeeting(ctx, "A", canceled.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	for _, id := range []string{proposed.ID, canceled.ID} {
		completed, err := f.coordinator.CompleteMeeting(ctx, "B", id)
		if err != nil {
			t.Fatalf("complete %s: %v", id, err)
		}
		if completed.Status != models.MeetingCompleted {
			t.Fatalf("expected completed got %s", completed.Status)
		}
	}

	if _, err := f.coordinator.CompleteMeeting(ctx, "C", proposed.ID); !apperr.IsKind(err, apperr.KindForbidden) {
		t.Fatalf("expected Forbidden got %v", err)
	}
	if _, err := f.coordinator.CompleteMeeting(ctx, "A", "missing"); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("expected NotFound got %v", err)
	}
}

func TestBlockingConnectionLeavesMeetingsUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conn := f.acceptedConnection(t)
	meeting := f.propose(t, conn.ID, "A")

	if _, err := f.connections.BlockConnection(ctx, "B", conn.ID); err != nil {
		t.Fatalf("block: %v", err)
	}

	accepted, err := f.coordinator.AcceptMeeting(ctx, "B", meeting.ID)
	if err != nil {
		t.Fatalf("accept after block: %v", err)
	}
	if accepted.Status != models.MeetingAccepted {
		t.Fatalf("expected accepted meeting got %s", accepted.Status)
	}
}

func TestListMeetings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conn := f.acceptedConnection(t)

	later, err := f.coordinator.ProposeMeeting(ctx, "A", conn.ID, Proposal{DateTime: meetingTime.Add(48 * time.Hour), Location: "Park"})
	if err != nil {
		t.Fatalf("propose later: %v", err)
	}
	sooner, err := f.coordinator.ProposeMeeting(ctx, "B", conn.ID, Proposal{DateTime: meetingTime, Location: "Cafe", Details: " Coffee "})
	if err != nil {
		t.Fatalf("propose sooner: %v", err)
	}
	if sooner.Details != "Coffee" {
		t.Fatalf("expected trimmed details got %q", sooner.Details)
	}

	byConn, err := f.coordinator.ListMeetingsForConnection(ctx, "A", conn.ID)
	if err != nil {
		t.Fatalf("list for connection: %v", err)
	}
	if len(byConn) != 2 || byConn[0].ID != sooner.ID || byConn[1].ID != later.ID {
		t.Fatalf("expected date ascending, got %+v", byConn)
	}

	if _, err := f.coordinator.ListMeetingsForConnection(ctx, "C", conn.ID); !apperr.IsKind(err, apperr.KindForbidden) {
		t.Fatalf("expected Forbidden got %v", err)
	}
	if _, err := f.coordinator.ListMeetingsForConnection(ctx, "A", "missing"); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("expected NotFound got %v", err)
	}

	forUser, err := f.coordinator.ListMeetingsForUser(ctx, "B")
	if err != nil {
		t.Fatalf("list for user: %v", err)
	}
	if len(forUser) != 2 || forUser[0].ID != sooner.ID {
		t.Fatalf("unexpected meetings for user %+v", forUser)
	}

	none, err := f.coordinator.ListMeetingsForUser(ctx, "C")
	if err != nil || len(none) != 0 {
		t.Fatalf("expected no meetings for C, got %+v %v", none, err)
	}

	if _, err := f.connections.BlockConnection(ctx, "A", conn.ID); err != nil {
		t.Fatalf("block: %v", err)
	}
	afterBlock, err := f.coordinator.ListMeetingsForUser(ctx, "B")
	if err != nil || len(afterBlock) != 0 {
		t.Fatalf("expected meetings on blocked connections to drop out, got %+v %v", afterBlock, err)
	}
}

// cancelAfterAppend cancels the meeting right after an acceptance lands, the
// window in which the other party's cancel can win the race.
type cancelAfterAppend struct {
	*repositories.MemoryMeetingStore
}

func (s cancelAfterAppend) AddAcceptance(ctx context.Context, meetingID string, acceptance models.Acceptance, allowed []models.MeetingStatus) (models.Meeting, error) {
	updated, err := s.MemoryMeetingStore.AddAcceptance(ctx, meetingID, acceptance, allowed)
	if err != nil {
		return models.Meeting{}, err
	}
	if _, err := s.MemoryMeetingStore.TransitionStatus(ctx, meetingID, cancelableStatuses, models.MeetingCanceled, acceptance.AcceptedAt); err != nil {
		return models.Meeting{}, err
	}
	return updated, nil
}

func TestAcceptLosingToCancelReturnsCanceledMeeting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conn := f.acceptedConnection(t)
	meeting := f.propose(t, conn.ID, "A")
	f.coordinator.meetings = cancelAfterAppend{MemoryMeetingStore: f.meetings}
	f.notifier.reset()

	got, err := f.coordinator.AcceptMeeting(ctx, "B", meeting.ID)
	if err != nil {
		t.Fatalf("expected accept to report the stored meeting, got %v", err)
	}
	if got.Status != models.MeetingCanceled {
		t.Fatalf("expected canceled meeting, got %s", got.Status)
	}
	if got.AcceptedBy.Len() != 1 || !got.AcceptedBy.Has("B") {
		t.Fatalf("expected B's acceptance to be kept, got %+v", got.AcceptedBy.Entries())
	}

	for _, kind := range f.notifier.kinds() {
		if kind == notify.KindMeetingConfirmed {
			t.Fatal("a canceled meeting must not be announced as confirmed")
		}
	}

	stored, err := f.meetings.FindByID(ctx, meeting.ID)
	if err != nil {
		t.Fatalf("find meeting: %v", err)
	}
	if stored.Status != models.MeetingCanceled {
		t.Fatalf("expected stored meeting to stay canceled, got %s", stored.Status)
	}
}

func TestAcceptRacingCancel(t *testing.T) {
	for round := 0; round < 50; round++ {
		f := newFixture(t)
		ctx := context.Background()

		conn := f.acceptedConnection(t)
		meeting := f.propose(t, conn.ID, "A")

		var (
			wg                   sync.WaitGroup
			acceptErr, cancelErr error
		)
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, acceptErr = f.coordinator.AcceptMeeting(ctx, "B", meeting.ID)
		}()
		go func() {
			defer wg.Done()
			<-start
			_, cancelErr = f.coordinator.CancelMeeting(ctx, "A", meeting.ID)
		}()
		close(start)
		wg.Wait()

		stored, err := f.meetings.FindByID(ctx, meeting.ID)
		if err != nil {
			t.Fatalf("round %d: find meeting: %v", round, err)
		}
		if stored.Status != models.MeetingCanceled {
			t.Fatalf("round %d: expected canceled after both requests, got %s (accept=%v cancel=%v)", round, stored.Status, acceptErr, cancelErr)
		}
		if cancelErr != nil {
			t.Fatalf("round %d: cancel of a proposed or accepted meeting failed: %v", round, cancelErr)
		}
		if acceptErr != nil && !apperr.IsKind(acceptErr, apperr.KindInvalidState) {
			t.Fatalf("round %d: unexpected accept error %v", round, acceptErr)
		}
		if stored.AcceptedBy.Len() > 1 {
			t.Fatalf("round %d: expected at most one acceptance, got %+v", round, stored.AcceptedBy.Entries())
		}
	}
}
