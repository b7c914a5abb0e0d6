package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrSessionNotFound is returned when a play-through does not exist or belongs to another subject.
	ErrSessionNotFound = errors.New("activity session not found")
	// ErrActivityNotFound indicates the activity could not be loaded.
	ErrActivityNotFound = errors.New("activity not found")
	// ErrLessonNotFound indicates the lesson could not be loaded.
	ErrLessonNotFound = errors.New("lesson not found")
	// ErrUnknownVariant is returned for activities whose content names no playable game.
	ErrUnknownVariant = errors.New("unknown activity variant")
	// ErrInvalidTransition is returned when submit/advance is called outside its valid phase.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrMissingIdentifier means a subject or activity identifier was absent when reporting.
	ErrMissingIdentifier = errors.New("missing subject or activity identifier")
	// ErrDeliveryFailure wraps remote errors raised while submitting a completion.
	ErrDeliveryFailure = errors.New("completion delivery failed")
	// ErrAlreadyCompleted is returned when the subject has already completed the activity or lesson.
	ErrAlreadyCompleted = errors.New("already completed")
	// ErrForbidden is returned when the caller's role may not perform the operation.
	ErrForbidden = errors.New("forbidden for role")
)

// RemoteError reports a non-2xx answer from the LMS API.
type RemoteError struct {
	Op         string
	StatusCode int
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %d %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode))
}

// Permanent reports whether retrying the same request cannot succeed.
func (e *RemoteError) Permanent() bool {
	if e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusTooManyRequests {
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// IsPermanent reports whether err carries a permanent remote failure.
func IsPermanent(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Permanent()
}

// StatusOf returns the remote status code carried by err, or 0.
func StatusOf(err error) int {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.StatusCode
	}
	return 0
}
