package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kindred/backend/internal/apperr"
	"github.com/kindred/backend/internal/auth"
	"github.com/kindred/backend/internal/logging"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx).Error("encode response body", "status", status, "error", err)
		return
	}

	logger := logging.FromContext(ctx)
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "status", status, "response", payload)
	case status >= http.StatusBadRequest:
		logger.Warn("request returned client error", "status", status, "response", payload)
	}
}

// respondError maps taxonomy errors to their status code. Anything outside the
// taxonomy is logged and reported as a generic 500.
func respondError(ctx context.Context, w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)

	if kind == apperr.KindInternal {
		logging.FromContext(ctx).Error("unhandled service error", "error", err)
		respondJSON(ctx, w, status, errorResponse{Error: string(apperr.KindInternal), Message: "internal server error"})
		return
	}

	var appErr *apperr.Error
	message := err.Error()
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	respondJSON(ctx, w, status, errorResponse{Error: string(kind), Message: message})
}

// decodeAndValidate reads a JSON body into dst and applies its validate tags.
func decodeAndValidate(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return apperr.Wrap(apperr.KindValidation, "invalid request body", err)
	}

	if err := validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			return apperr.Validation(describeValidation(fieldErrs))
		}
		return apperr.Wrap(apperr.KindValidation, "invalid request", err)
	}
	return nil
}

func describeValidation(errs validator.ValidationErrors) string {
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		field := fe.Field()
		if field != "" {
			field = strings.ToLower(field[:1]) + field[1:]
		}
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

// requireCaller returns the authenticated user id or writes a 401.
func requireCaller(w http.ResponseWriter, r *http.Request) (string, bool) {
	callerID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		respondJSON(r.Context(), w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: "authentication required"})
		return "", false
	}
	return callerID, true
}
