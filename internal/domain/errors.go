package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrCalendarNotFound is returned when no calendar subscription exists
	// for the requested user.
	ErrCalendarNotFound = errors.New("calendar not found")

	// ErrRefreshCooldown is returned when an interactive refresh is attempted
	// within the cooldown window after the last successful update.
	ErrRefreshCooldown = errors.New("calendar was refreshed recently")
)

// FetchError reports a failed calendar download for one user. It never aborts
// sibling fetches in the same pass.
type FetchError struct {
	UserID     uuid.UUID
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch calendar for user %s: %v", e.UserID, e.Err)
	}
	return fmt.Sprintf("fetch calendar for user %s: status %d", e.UserID, e.StatusCode)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ParseError reports malformed calendar text for one user. The previously
// cached record for that user, if any, is left untouched.
type ParseError struct {
	UserID uuid.UUID
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse calendar for user %s: %v", e.UserID, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
