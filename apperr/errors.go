// Package apperr defines the error kinds every workflow operation reports.
// Package-level sentinels elsewhere wrap one of these so callers can match
// either the specific error or its kind with errors.Is.
package apperr

import (
	"errors"
	"net/http"
)

var (
	// ErrAuthorizationDenied signals the actor's role lacks the capability.
	ErrAuthorizationDenied = errors.New("authorization denied")
	// ErrInvalidTransition signals the aggregate's state does not admit the operation.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrPreconditionFailed signals a required field or cross-entity gate is unmet.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrConcurrentModification signals another writer committed first.
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrNotFound signals the referenced entity does not exist.
	ErrNotFound = errors.New("not found")
)

// Kind returns the taxonomy sentinel err wraps, or nil for infrastructure errors.
func Kind(err error) error {
	for _, kind := range []error{
		ErrAuthorizationDenied,
		ErrNotFound,
		ErrConcurrentModification,
		ErrInvalidTransition,
		ErrPreconditionFailed,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// HTTPStatus maps err onto the response code the API reports for it.
func HTTPStatus(err error) int {
	switch Kind(err) {
	case ErrAuthorizationDenied:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConcurrentModification, ErrInvalidTransition:
		return http.StatusConflict
	case ErrPreconditionFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
