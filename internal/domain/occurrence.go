package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Occurrence is one concrete instance of a calendar event after recurrence
// expansion. Fields other than Delivered are immutable once the occurrence
// is placed in a user's set.
type Occurrence struct {
	Summary     string
	Description string
	Status      string
	Location    string

	StartTime time.Time // UTC
	EndTime   time.Time // UTC
	Duration  time.Duration

	// SemanticHash identifies the occurrence by its user-visible content.
	// Providers regenerate UIDs on every download, so UIDs cannot serve as
	// identity; two occurrences with equal hashes are the same event.
	SemanticHash string

	// Delivered transitions monotonically false -> true when a notification
	// for this occurrence has been sent.
	Delivered bool
}

// NewOccurrence builds an occurrence and computes its semantic hash.
// Start and end are normalized to UTC.
func NewOccurrence(summary, description, status, location string, start, end time.Time) *Occurrence {
	o := &Occurrence{
		Summary:     summary,
		Description: description,
		Status:      status,
		Location:    location,
		StartTime:   start.UTC(),
		EndTime:     end.UTC(),
		Duration:    end.Sub(start),
	}
	o.SemanticHash = o.computeSemanticHash()
	return o
}

func (o *Occurrence) computeSemanticHash() string {
	h := sha256.New()
	for _, field := range []string{
		o.Summary,
		o.Description,
		o.Status,
		o.Location,
		o.StartTime.Format(time.RFC3339),
		o.EndTime.Format(time.RFC3339),
		strconv.FormatInt(int64(o.Duration), 10),
	} {
		h.Write([]byte(field))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
