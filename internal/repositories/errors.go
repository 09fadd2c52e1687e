package repositories

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates the attempted write would violate a uniqueness constraint.
	ErrConflict = errors.New("record conflict")
	// ErrPreconditionFailed indicates a conditional write found the record in an unexpected state.
	ErrPreconditionFailed = errors.New("record precondition failed")
)
