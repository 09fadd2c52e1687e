package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/kindred/backend/internal/auth"
	"github.com/kindred/backend/internal/logging"
	"github.com/kindred/backend/internal/models"
	"github.com/kindred/backend/internal/repositories"
)

// AuthHandler implements user authentication endpoints.
type AuthHandler struct {
	Users    UserStore
	Sessions SessionManager
	NowFunc  func() time.Time
}

// Login handles POST /api/v1/auth/login requests.
func (h AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Users == nil || h.Sessions == nil {
		logger.Error("authentication dependencies unavailable", "hasUsers", h.Users != nil, "hasSessions", h.Sessions != nil)
		respondJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "internal", Message: "authentication services unavailable"})
		return
	}

	var req loginRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondError(ctx, w, err)
		return
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))
	user, err := h.Users.FindByEmail(ctx, email)
	if err != nil {
		logger.Warn("login user lookup failed", "email", email, "error", err)
		respondJSON(ctx, w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: "invalid credentials"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		logger.Warn("login password mismatch", "userId", user.ID)
		respondJSON(ctx, w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: "invalid credentials"})
		return
	}

	tokens, err := h.Sessions.Issue(ctx, user.ID)
	if err != nil {
		logger.Error("failed to issue session", "error", err, "userId", user.ID)
		respondJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "internal", Message: "failed to create session"})
		return
	}

	respondJSON(ctx, w, http.StatusOK, authResponse{User: newUserResponse(user), Tokens: tokens})
}

// SignUp handles POST /api/v1/auth/signup requests.
func (h AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Users == nil || h.Sessions == nil {
		logger.Error("authentication dependencies unavailable", "hasUsers", h.Users != nil, "hasSessions", h.Sessions != nil)
		respondJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "internal", Message: "authentication services unavailable"})
		return
	}

	var req signUpRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondError(ctx, w, err)
		return
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))
	if _, err := h.Users.FindByEmail(ctx, email); err == nil {
		logger.Warn("signup existing account", "email", email)
		respondJSON(ctx, w, http.StatusConflict, errorResponse{Error: "conflict", Message: "account already exists"})
		return
	} else if !errors.Is(err, repositories.ErrNotFound) {
		logger.Error("signup user lookup failed", "error", err, "email", email)
		respondJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "internal", Message: "unable to verify existing accounts"})
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		logger.Error("signup failed to hash password", "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "internal", Message: "failed to secure password"})
		return
	}

	now := h.now()
	id := uuid.NewString()
	user := models.User{
		ID:          id,
		Email:       email,
		Username:    "user-" + strings.ReplaceAll(id, "-", "")[:8],
		AccountType: req.AccountType,
		Password:    string(hashed),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.Users.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			logger.Warn("signup conflict", "email", email)
			respondJSON(ctx, w, http.StatusConflict, errorResponse{Error: "conflict", Message: "account already exists"})
			return
		}
		logger.Error("signup failed to create user", "error", err, "email", email)
		respondJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "internal", Message: "failed to create account"})
		return
	}

	tokens, err := h.Sessions.Issue(ctx, user.ID)
	if err != nil {
		logger.Error("signup failed to issue session", "error", err, "userId", user.ID)
		respondJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "internal", Message: "failed to create session"})
		return
	}

	logger.Info("account created", "userId", user.ID, "accountType", user.AccountType)
	respondJSON(ctx, w, http.StatusCreated, authResponse{User: newUserResponse(user), Tokens: tokens})
}

// Refresh exchanges a refresh token for a new session.
func (h AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Sessions == nil {
		logger.Error("session manager unavailable")
		respondJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "internal", Message: "session service unavailable"})
		return
	}

	var req refreshRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondError(ctx, w, err)
		return
	}

	tokens, err := h.Sessions.Refresh(ctx, strings.TrimSpace(req.RefreshToken))
	if err != nil {
		if errors.Is(err, auth.ErrRefreshTokenExpired) || errors.Is(err, auth.ErrSessionNotFound) {
			logger.Warn("refresh rejected", "error", err)
			respondJSON(ctx, w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: "unable to refresh session"})
			return
		}
		logger.Error("refresh failed", "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "internal", Message: "unable to refresh session"})
		return
	}

	respondJSON(ctx, w, http.StatusOK, tokenResponse{Tokens: tokens})
}

// Me handles GET /api/v1/auth/me and returns the caller's profile.
func (h AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	callerID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	if h.Users == nil {
		logging.FromContext(ctx).Error("user store unavailable")
		respondJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "internal", Message: "authentication services unavailable"})
		return
	}

	user, err := h.Users.FindByID(ctx, callerID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondJSON(ctx, w, http.StatusNotFound, errorResponse{Error: "not_found", Message: "user not found"})
			return
		}
		respondError(ctx, w, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, newUserResponse(user))
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type signUpRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	AccountType string `json:"accountType" validate:"required,oneof=Couple Bull"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type userResponse struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Username    string    `json:"username"`
	AccountType string    `json:"accountType"`
	CreatedAt   time.Time `json:"createdAt"`
}

func newUserResponse(u models.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Email:       u.Email,
		Username:    u.Username,
		AccountType: u.AccountType,
		CreatedAt:   u.CreatedAt,
	}
}

type authResponse struct {
	User   userResponse         `json:"user"`
	Tokens models.SessionTokens `json:"tokens"`
}

type tokenResponse struct {
	Tokens models.SessionTokens `json:"tokens"`
}

func (h AuthHandler) now() time.Time {
	if h.NowFunc != nil {
		return h.NowFunc()
	}
	return time.Now().UTC()
}
