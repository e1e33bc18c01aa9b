package domain

import (
	"time"

	"github.com/google/uuid"
)

// Calendar is a user's calendar subscription: a remote ICS URL plus the
// bookkeeping timestamps the refresh cooldown relies on.
type Calendar struct {
	UserID uuid.UUID
	// ExternalID is set when the subscription was provisioned by an external
	// system rather than by the user directly.
	ExternalID string
	URL        string
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// External reports whether the calendar came from an external source.
func (c *Calendar) External() bool {
	return c.ExternalID != ""
}
