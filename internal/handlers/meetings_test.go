package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kindred/backend/internal/meetings"
	"github.com/kindred/backend/internal/models"
	"github.com/kindred/backend/internal/repositories"
)

func newTestMeetingHandler(t *testing.T) MeetingHandler {
	t.Helper()
	conns := repositories.NewMemoryConnectionStore()
	seed := []models.Connection{
		{ID: "c-accepted", Requester: "alice", Recipient: "bob", Status: models.ConnectionAccepted},
		{ID: "c-pending", Requester: "alice", Recipient: "carol", Status: models.ConnectionPending},
	}
	for _, c := range seed {
		if err := conns.Create(context.Background(), c); err != nil {
			t.Fatalf("seed connection: %v", err)
		}
	}
	coordinator := meetings.NewCoordinator(repositories.NewMemoryMeetingStore(), conns, nil, nil, nil)
	return MeetingHandler{Meetings: coordinator}
}

func proposeRequest(t *testing.T, caller, connectionID string, body any) *http.Request {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := asCaller(httptest.NewRequest(http.MethodPost, "/api/v1/meetings/"+connectionID, bytes.NewReader(payload)), caller)
	req.SetPathValue("connectionID", connectionID)
	return req
}

func meetingAction(caller, meetingID, action string) *http.Request {
	req := asCaller(httptest.NewRequest(http.MethodPut, "/api/v1/meetings/"+meetingID+"/"+action, nil), caller)
	req.SetPathValue("meetingID", meetingID)
	return req
}

func TestMeetingHandlerProposeAndAccept(t *testing.T) {
	handler := newTestMeetingHandler(t)
	when := time.Date(2030, 5, 1, 19, 30, 0, 0, time.UTC)

	rec := httptest.NewRecorder()
	handler.Propose(rec, proposeRequest(t, "alice", "c-accepted", proposeMeetingRequest{DateTime: when, Location: " Cafe ", Details: "Corner table"}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}

	var proposed meetingResponse
	if err := json.NewDecoder(rec.Body).Decode(&proposed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if proposed.Status != string(models.MeetingProposed) || proposed.Location != "Cafe" || !proposed.DateTime.Equal(when) {
		t.Fatalf("unexpected meeting %+v", proposed)
	}
	if len(proposed.AcceptedBy) != 0 {
		t.Fatalf("expected no stored acceptances, got %+v", proposed.AcceptedBy)
	}

	rec = httptest.NewRecorder()
	handler.Accept(rec, meetingAction("alice", proposed.ID, "accept"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected proposer accept to be rejected got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Error != "invalid_operation" {
		t.Fatalf("expected invalid_operation, got %+v", resp)
	}

	rec = httptest.NewRecorder()
	handler.Accept(rec, meetingAction("bob", proposed.ID, "accept"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	var accepted meetingResponse
	if err := json.NewDecoder(rec.Body).Decode(&accepted); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if accepted.Status != string(models.MeetingAccepted) {
		t.Fatalf("expected meeting to be accepted, got %s", accepted.Status)
	}
	if len(accepted.AcceptedBy) != 1 || accepted.AcceptedBy[0].User != "bob" {
		t.Fatalf("expected bob as the only stored acceptor, got %+v", accepted.AcceptedBy)
	}

	rec = httptest.NewRecorder()
	handler.Accept(rec, meetingAction("bob", proposed.ID, "accept"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected repeated accept to fail got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Error != "already_accepted" {
		t.Fatalf("expected already_accepted, got %+v", resp)
	}

	rec = httptest.NewRecorder()
	handler.Complete(rec, meetingAction("alice", proposed.ID, "complete"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected complete to succeed got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.Cancel(rec, meetingAction("alice", proposed.ID, "cancel"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected cancel of completed meeting to fail got %d", rec.Code)
	}
}

func TestMeetingHandlerProposeErrors(t *testing.T) {
	handler := newTestMeetingHandler(t)
	when := time.Date(2030, 5, 1, 19, 30, 0, 0, time.UTC)

	tests := []struct {
		name         string
		caller       string
		connectionID string
		body         string
		wantStatus   int
		wantError    string
	}{
		{name: "missing location", caller: "alice", connectionID: "c-accepted", body: `{"dateTime":"2030-05-01T19:30:00Z"}`, wantStatus: http.StatusBadRequest, wantError: "validation"},
		{name: "bad timestamp", caller: "alice", connectionID: "c-accepted", body: `{"dateTime":"tomorrow","location":"Cafe"}`, wantStatus: http.StatusBadRequest, wantError: "validation"},
		{name: "missing dateTime", caller: "alice", connectionID: "c-accepted", body: `{"location":"Cafe"}`, wantStatus: http.StatusBadRequest, wantError: "validation"},
		{name: "pending connection", caller: "alice", connectionID: "c-pending", body: `{"dateTime":"` + when.Format(time.RFC3339) + `","location":"Cafe"}`, wantStatus: http.StatusBadRequest, wantError: "invalid_state"},
		{name: "stranger", caller: "mallory", connectionID: "c-accepted", body: `{"dateTime":"` + when.Format(time.RFC3339) + `","location":"Cafe"}`, wantStatus: http.StatusUnauthorized, wantError: "forbidden"},
		{name: "unknown connection", caller: "alice", connectionID: "nope", body: `{"dateTime":"` + when.Format(time.RFC3339) + `","location":"Cafe"}`, wantStatus: http.StatusNotFound, wantError: "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := asCaller(httptest.NewRequest(http.MethodPost, "/api/v1/meetings/"+tt.connectionID, strings.NewReader(tt.body)), tt.caller)
			req.SetPathValue("connectionID", tt.connectionID)
			rec := httptest.NewRecorder()

			handler.Propose(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if resp := decodeError(t, rec); resp.Error != tt.wantError {
				t.Fatalf("expected %s, got %+v", tt.wantError, resp)
			}
		})
	}
}

func TestMeetingHandlerLists(t *testing.T) {
	handler := newTestMeetingHandler(t)
	early := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	late := early.Add(48 * time.Hour)

	for _, when := range []time.Time{late, early} {
		rec := httptest.NewRecorder()
		handler.Propose(rec, proposeRequest(t, "bob", "c-accepted", proposeMeetingRequest{DateTime: when, Location: "Park"}))
		if rec.Code != http.StatusCreated {
			t.Fatalf("propose failed: %d", rec.Code)
		}
	}

	req := asCaller(httptest.NewRequest(http.MethodGet, "/api/v1/meetings/connection/c-accepted", nil), "alice")
	req.SetPathValue("connectionID", "c-accepted")
	rec := httptest.NewRecorder()
	handler.ListForConnection(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}

	var listed struct {
		Meetings []meetingResponse `json:"meetings"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&listed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listed.Meetings) != 2 || !listed.Meetings[0].DateTime.Equal(early) {
		t.Fatalf("expected two meetings ordered by date, got %+v", listed.Meetings)
	}

	rec = httptest.NewRecorder()
	handler.ListForUser(rec, asCaller(httptest.NewRequest(http.MethodGet, "/api/v1/meetings/user", nil), "carol"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	listed.Meetings = nil
	if err := json.NewDecoder(rec.Body).Decode(&listed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if listed.Meetings == nil || len(listed.Meetings) != 0 {
		t.Fatalf("expected an empty list for a user without accepted connections, got %+v", listed.Meetings)
	}
}
