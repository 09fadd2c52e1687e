// Package apperr defines the caller-visible error taxonomy shared by the
// connection and meeting services.
package apperr

import (
	"errors"
	"net/http"
)

// Kind is a stable, machine-checkable error category.
type Kind string

const (
	// KindInternal covers every error outside the taxonomy.
	KindInternal         Kind = "internal"
	KindNotFound         Kind = "not_found"
	KindForbidden        Kind = "forbidden"
	KindInvalidState     Kind = "invalid_state"
	KindInvalidOperation Kind = "invalid_operation"
	KindAlreadyExists    Kind = "already_exists"
	KindAlreadyAccepted  Kind = "already_accepted"
	KindValidation       Kind = "validation"
)

// Error is a taxonomy error with a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so errors.Is(err, apperr.NotFound(""))
// style checks work regardless of message.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind that keeps cause on the chain.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func NotFound(message string) *Error         { return New(KindNotFound, message) }
func Forbidden(message string) *Error        { return New(KindForbidden, message) }
func InvalidState(message string) *Error     { return New(KindInvalidState, message) }
func InvalidOperation(message string) *Error { return New(KindInvalidOperation, message) }
func AlreadyExists(message string) *Error    { return New(KindAlreadyExists, message) }
func AlreadyAccepted(message string) *Error  { return New(KindAlreadyAccepted, message) }
func Validation(message string) *Error       { return New(KindValidation, message) }

// KindOf extracts the taxonomy kind, returning KindInternal for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a kind to the status code returned by the REST API.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindInvalidState, KindInvalidOperation, KindAlreadyExists, KindAlreadyAccepted:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
