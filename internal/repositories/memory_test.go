package repositories

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kindred/backend/internal/models"
)

func TestMemoryConnectionStoreRejectsEitherDirection(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryConnectionStore()
	now := time.Now().UTC()

	if err := store.Create(ctx, models.Connection{ID: "c1", Requester: "a", Recipient: "b", Status: models.ConnectionPending, CreatedAt: now}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, models.Connection{ID: "c2", Requester: "b", Recipient: "a", Status: models.ConnectionPending, CreatedAt: now}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for reversed pair, got %v", err)
	}

	found, err := store.FindByPair(ctx, "b", "a")
	if err != nil || found.ID != "c1" {
		t.Fatalf("expected c1 by pair, got %+v %v", found, err)
	}
}

func TestMemoryConnectionStoreTransitionStatus(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryConnectionStore()
	now := time.Now().UTC()

	if err := store.Create(ctx, models.Connection{ID: "c1", Requester: "a", Recipient: "b", Status: models.ConnectionPending, CreatedAt: now}); err != nil {
		t.Fatalf("create: %v", err)
	}

	pending := []models.ConnectionStatus{models.ConnectionPending}
	updated, err := store.TransitionStatus(ctx, "c1", pending, models.ConnectionAccepted, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if updated.Status != models.ConnectionAccepted || !updated.UpdatedAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("unexpected connection %+v", updated)
	}

	if _, err := store.TransitionStatus(ctx, "c1", pending, models.ConnectionRejected, now); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}
	if _, err := store.TransitionStatus(ctx, "missing", pending, models.ConnectionRejected, now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryConnectionStoreListForUser(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryConnectionStore()
	base := time.Now().UTC()

	records := []models.Connection{
		{ID: "old", Requester: "a", Recipient: "b", Status: models.ConnectionAccepted, CreatedAt: base},
		{ID: "new", Requester: "c", Recipient: "a", Status: models.ConnectionPending, CreatedAt: base.Add(time.Hour)},
		{ID: "other", Requester: "c", Recipient: "b", Status: models.ConnectionAccepted, CreatedAt: base},
	}
	for _, record := range records {
		if err := store.Create(ctx, record); err != nil {
			t.Fatalf("create %s: %v", record.ID, err)
		}
	}

	all, err := store.ListForUser(ctx, "a")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[0].ID != "new" || all[1].ID != "old" {
		t.Fatalf("unexpected list %+v", all)
	}

	active, err := store.ListForUser(ctx, "a", models.ConnectionAccepted)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].ID != "old" {
		t.Fatalf("unexpected active list %+v", active)
	}
}

func TestMemoryMeetingStoreAddAcceptance(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryMeetingStore()
	now := time.Now().UTC()

	meeting := models.Meeting{ID: "m1", ConnectionID: "c1", ProposedBy: "a", DateTime: now.Add(time.Hour), Location: "Cafe", Status: models.MeetingProposed}
	if err := store.Create(ctx, meeting); err != nil {
		t.Fatalf("create: %v", err)
	}

	proposed := []models.MeetingStatus{models.MeetingProposed}
	updated, err := store.AddAcceptance(ctx, "m1", models.Acceptance{UserID: "b", AcceptedAt: now}, proposed)
	if err != nil {
		t.Fatalf("add acceptance: %v", err)
	}
	if !updated.AcceptedBy.Has("b") {
		t.Fatalf("expected b to be recorded: %+v", updated.AcceptedBy.Entries())
	}

	if _, err := store.TransitionStatus(ctx, "m1", proposed, models.MeetingAccepted, now); err != nil {
		t.Fatalf("transition: %v", err)
	}

	if _, err := store.AddAcceptance(ctx, "m1", models.Acceptance{UserID: "b", AcceptedAt: now}, proposed); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected repeated acceptance to conflict before status check, got %v", err)
	}
	if _, err := store.AddAcceptance(ctx, "m1", models.Acceptance{UserID: "c", AcceptedAt: now}, proposed); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed for non-proposed meeting, got %v", err)
	}
	if _, err := store.AddAcceptance(ctx, "missing", models.Acceptance{UserID: "b", AcceptedAt: now}, proposed); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryMeetingStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryMeetingStore()

	if err := store.Create(ctx, models.Meeting{ID: "m1", Status: models.MeetingProposed}); err != nil {
		t.Fatalf("create: %v", err)
	}

	loaded, err := store.FindByID(ctx, "m1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	loaded.AcceptedBy.Add(models.Acceptance{UserID: "intruder", AcceptedAt: time.Now()})

	again, err := store.FindByID(ctx, "m1")
	if err != nil {
		t.Fatalf("find again: %v", err)
	}
	if again.AcceptedBy.Has("intruder") {
		t.Fatal("expected caller mutations not to leak into the store")
	}
}

func TestMemoryMeetingStoreConcurrentAcceptance(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryMeetingStore()

	if err := store.Create(ctx, models.Meeting{ID: "m1", ProposedBy: "a", Status: models.MeetingProposed}); err != nil {
		t.Fatalf("create: %v", err)
	}

	const attempts = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.AddAcceptance(ctx, "m1", models.Acceptance{UserID: "b", AcceptedAt: time.Now()}, []models.MeetingStatus{models.MeetingProposed})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	if successes != 1 || conflicts != attempts-1 {
		t.Fatalf("expected 1 success and %d conflicts, got %d and %d", attempts-1, successes, conflicts)
	}
}

func TestMemoryMeetingStoreListByConnections(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryMeetingStore()
	base := time.Now().UTC()

	for _, m := range []models.Meeting{
		{ID: "late", ConnectionID: "c1", DateTime: base.Add(2 * time.Hour)},
		{ID: "early", ConnectionID: "c2", DateTime: base.Add(time.Hour)},
		{ID: "elsewhere", ConnectionID: "c3", DateTime: base},
	} {
		if err := store.Create(ctx, m); err != nil {
			t.Fatalf("create %s: %v", m.ID, err)
		}
	}

	listed, err := store.ListByConnections(ctx, []string{"c1", "c2"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 2 || listed[0].ID != "early" || listed[1].ID != "late" {
		t.Fatalf("unexpected meetings %+v", listed)
	}
}

func TestMemoryUserStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryUserStore()

	user := models.User{ID: "u1", Email: "a@example.com", Username: "user-00000001"}
	if err := store.Create(ctx, user); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, models.User{ID: "u2", Email: "A@example.com", Username: "user-00000002"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected email conflict, got %v", err)
	}
	if _, err := store.FindByEmail(ctx, "a@example.com"); err != nil {
		t.Fatalf("find by email: %v", err)
	}
	if _, err := store.FindByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Update(ctx, models.User{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}
}

func TestMemoryMessageStoreListAndMarkRead(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryMessageStore()
	base := time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)

	seed := []models.Message{
		{ID: "m2", ConnectionID: "c1", SenderID: "b", Type: models.MessageText, Content: "second", CreatedAt: base.Add(time.Minute)},
		{ID: "m1", ConnectionID: "c1", SenderID: "a", Type: models.MessageText, Content: "first", CreatedAt: base},
		{ID: "m3", ConnectionID: "c1", SenderID: "b", Type: models.MessageText, Content: "third", CreatedAt: base.Add(2 * time.Minute)},
		{ID: "m4", ConnectionID: "c2", SenderID: "b", Type: models.MessageText, Content: "elsewhere", CreatedAt: base},
	}
	for _, msg := range seed {
		if err := store.Create(ctx, msg); err != nil {
			t.Fatalf("create %s: %v", msg.ID, err)
		}
	}
	if err := store.Create(ctx, seed[0]); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate id, got %v", err)
	}

	listed, err := store.ListByConnection(ctx, "c1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 3 || listed[0].ID != "m1" || listed[2].ID != "m3" {
		t.Fatalf("expected c1 messages oldest first, got %+v", listed)
	}

	updated, err := store.MarkRead(ctx, "c1", "a")
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if updated != 2 {
		t.Fatalf("expected 2 messages from b marked read, got %d", updated)
	}
	if again, _ := store.MarkRead(ctx, "c1", "a"); again != 0 {
		t.Fatalf("expected second mark read to change nothing, got %d", again)
	}

	listed, _ = store.ListByConnection(ctx, "c1")
	for _, msg := range listed {
		if want := msg.SenderID == "b"; msg.Read != want {
			t.Fatalf("message %s read=%v, want %v", msg.ID, msg.Read, want)
		}
	}
	other, _ := store.ListByConnection(ctx, "c2")
	if other[0].Read {
		t.Fatal("expected messages on other connections to stay unread")
	}
}

func TestMemoryReviewStoreOnePerReviewerAndTarget(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryReviewStore()
	base := time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)

	if err := store.Create(ctx, models.Review{ID: "r1", ReviewerID: "a", ReviewedID: "b", Rating: 4, CreatedAt: base}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, models.Review{ID: "r2", ReviewerID: "a", ReviewedID: "b", Rating: 5, CreatedAt: base}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for second review of b by a, got %v", err)
	}
	if err := store.Create(ctx, models.Review{ID: "r3", ReviewerID: "c", ReviewedID: "b", Rating: 2, CreatedAt: base.Add(time.Hour)}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, models.Review{ID: "r4", ReviewerID: "b", ReviewedID: "a", Rating: 5, CreatedAt: base}); err != nil {
		t.Fatalf("expected reverse review to be allowed: %v", err)
	}

	about, err := store.ListByReviewed(ctx, "b")
	if err != nil {
		t.Fatalf("list by reviewed: %v", err)
	}
	if len(about) != 2 || about[0].ID != "r3" || about[1].ID != "r1" {
		t.Fatalf("expected reviews of b newest first, got %+v", about)
	}

	written, err := store.ListByReviewer(ctx, "a")
	if err != nil {
		t.Fatalf("list by reviewer: %v", err)
	}
	if len(written) != 1 || written[0].ID != "r1" {
		t.Fatalf("expected a to have written r1 only, got %+v", written)
	}
}
