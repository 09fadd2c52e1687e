package handlers

import (
	"net/http"

	"github.com/kindred/backend/internal/middleware"
)

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{Checks: deps.HealthChecks}
	auth := AuthHandler{Users: deps.Users, Sessions: deps.Sessions}
	connections := ConnectionHandler{Connections: deps.Connections}
	meetings := MeetingHandler{Meetings: deps.Meetings}
	messages := MessageHandler{Messages: deps.Messages}
	reviews := ReviewHandler{Reviews: deps.Reviews}

	authenticated := func(h http.HandlerFunc) http.Handler {
		if deps.Tokens == nil {
			return h
		}
		return middleware.Authenticate(deps.Tokens)(h)
	}
	limited := func(scope string, h http.Handler) http.Handler {
		return middleware.RateLimit(deps.RateLimiter, scope)(h)
	}

	mux.HandleFunc("GET /healthz", health.Handle)

	mux.Handle("POST /api/v1/auth/signup", limited("signup", http.HandlerFunc(auth.SignUp)))
	mux.Handle("POST /api/v1/auth/login", limited("login", http.HandlerFunc(auth.Login)))
	mux.HandleFunc("POST /api/v1/auth/refresh", auth.Refresh)
	mux.Handle("GET /api/v1/auth/me", authenticated(auth.Me))

	mux.Handle("POST /api/v1/connections/request/{userID}", limited("connection_request", authenticated(connections.Request)))
	mux.Handle("PUT /api/v1/connections/{connectionID}/accept", authenticated(connections.Accept))
	mux.Handle("PUT /api/v1/connections/{connectionID}/reject", authenticated(connections.Reject))
	mux.Handle("PUT /api/v1/connections/{connectionID}/block", authenticated(connections.Block))
	mux.Handle("GET /api/v1/connections", authenticated(connections.List))
	mux.Handle("GET /api/v1/connections/active", authenticated(connections.ListActive))

	mux.Handle("POST /api/v1/meetings/{connectionID}", authenticated(meetings.Propose))
	mux.Handle("PUT /api/v1/meetings/{meetingID}/accept", authenticated(meetings.Accept))
	mux.Handle("PUT /api/v1/meetings/{meetingID}/cancel", authenticated(meetings.Cancel))
	mux.Handle("PUT /api/v1/meetings/{meetingID}/complete", authenticated(meetings.Complete))
	mux.Handle("GET /api/v1/meetings/connection/{connectionID}", authenticated(meetings.ListForConnection))
	mux.Handle("GET /api/v1/meetings/user", authenticated(meetings.ListForUser))

	mux.Handle("POST /api/v1/messages/{connectionID}", limited("message_send", authenticated(messages.Send)))
	mux.Handle("GET /api/v1/messages/{connectionID}", authenticated(messages.List))
	mux.Handle("PUT /api/v1/messages/read/{connectionID}", authenticated(messages.MarkRead))

	mux.Handle("POST /api/v1/reviews/{userID}", authenticated(reviews.Submit))
	mux.Handle("GET /api/v1/reviews/user/{userID}", authenticated(reviews.ListForUser))
	mux.Handle("GET /api/v1/reviews/my-reviews", authenticated(reviews.ListMine))
}

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Users        UserStore
	Sessions     SessionManager
	Tokens       TokenVerifier
	Connections  ConnectionService
	Meetings     MeetingService
	Messages     MessageService
	Reviews      ReviewService
	RateLimiter  middleware.RateLimiter
	HealthChecks map[string]HealthChecker
}
