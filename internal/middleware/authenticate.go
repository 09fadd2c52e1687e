package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kindred/backend/internal/auth"
	"github.com/kindred/backend/internal/logging"
)

// TokenVerifier resolves a bearer access token to a user id.
type TokenVerifier interface {
	Verify(accessToken string) (string, error)
}

// Authenticate requires a valid "Authorization: Bearer <token>" header and
// stores the caller's user id on the request context.
func Authenticate(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := logging.FromContext(r.Context())

			if verifier == nil {
				logger.Error("authenticate middleware missing verifier")
				writeJSONError(w, http.StatusInternalServerError, "internal", "internal server error")
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}

			userID, err := verifier.Verify(token)
			if err != nil {
				logger.Warn("rejected access token", "error", err)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
				return
			}

			ctx := auth.WithUserID(r.Context(), userID)
			ctx = logging.With(ctx, slog.String("user_id", userID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
