package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	// MinNotifyMinutes and MaxNotifyMinutes bound the per-user lead time.
	MinNotifyMinutes = 2
	MaxNotifyMinutes = 1440

	DefaultNotifyMinutes = 30
)

// User is a registered Telegram user.
type User struct {
	ID        uuid.UUID
	ChatID    int64
	Username  string
	Firstname string
	Lastname  string
	// TimeZone is the GMT offset in hours (+3 Moscow, -5 New York).
	TimeZone int
	Culture  string
	// NotifyMinutes is how many minutes before an event's start the user
	// wants to be notified.
	NotifyMinutes int
	CreatedAt     time.Time
}

// InUserZone shifts a UTC time into the user's timezone offset.
func (u *User) InUserZone(t time.Time) time.Time {
	return t.Add(time.Duration(u.TimeZone) * time.Hour)
}

// ValidNotifyMinutes reports whether m is an acceptable lead time.
func ValidNotifyMinutes(m int) bool {
	return m >= MinNotifyMinutes && m <= MaxNotifyMinutes
}

// SupportedCultures are the interface languages a user can pick.
var SupportedCultures = []string{"en", "ru"}

// ValidCulture reports whether c is a supported interface language.
func ValidCulture(c string) bool {
	for _, s := range SupportedCultures {
		if c == s {
			return true
		}
	}
	return false
}
