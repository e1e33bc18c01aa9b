package service

import (
	"crypto/sha256"
	"encoding/hex"
	"log"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/calnotify/calnotify/internal/domain"
	"github.com/calnotify/calnotify/internal/ics"
)

// Clock supplies the reference time for horizon and window computations.
type Clock interface {
	Now() time.Time
}

// UpsertOutcome tells the caller whether an Upsert actually changed the
// cached calendar.
type UpsertOutcome int

const (
	// OutcomeUnchanged means the fingerprint matched and nothing was re-parsed.
	OutcomeUnchanged UpsertOutcome = iota
	// OutcomeChanged means the record was replaced with freshly parsed data.
	OutcomeChanged
)

// uidLine matches the volatile per-event unique-identifier lines. The
// provider regenerates every UID on each download, so they must not feed
// the change-detection fingerprint.
var uidLine = regexp.MustCompile(`UID:.+`)

// record is one user's cached calendar. Records are replaced wholesale;
// only the delivered bookkeeping survives a replacement.
type record struct {
	fingerprint string
	calendar    *ics.Calendar
	occurrences []*domain.Occurrence
	// delivered keeps semantic hashes of already-notified occurrences so a
	// recompute does not resurrect notifications for events it re-creates.
	delivered map[string]struct{}
}

// CalendarService owns the in-memory calendar cache: parsed calendars with
// change-detection fingerprints and their expanded occurrence sets.
type CalendarService struct {
	clock Clock
	loc   *time.Location

	mu      sync.RWMutex
	records map[uuid.UUID]*record
}

// NewCalendarService creates an empty cache. loc determines where "start of
// today" falls when the expansion horizon is computed; nil means UTC.
func NewCalendarService(clock Clock, loc *time.Location) *CalendarService {
	if loc == nil {
		loc = time.UTC
	}
	return &CalendarService{
		clock:   clock,
		loc:     loc,
		records: make(map[uuid.UUID]*record),
	}
}

// Fingerprint hashes raw calendar text with UID lines stripped.
func Fingerprint(raw string) string {
	sum := sha256.Sum256([]byte(uidLine.ReplaceAllString(raw, "")))
	return hex.EncodeToString(sum[:])
}

// Upsert caches the calendar for userID. An unchanged fingerprint is a no-op.
// A parse failure returns a *domain.ParseError and leaves any previously
// cached record in place. On success the record is replaced in full and its
// occurrence set stays empty until the next Recompute.
func (s *CalendarService) Upsert(userID uuid.UUID, raw string) (UpsertOutcome, error) {
	fingerprint := Fingerprint(raw)

	s.mu.RLock()
	existing, ok := s.records[userID]
	s.mu.RUnlock()
	if ok && existing.fingerprint == fingerprint {
		return OutcomeUnchanged, nil
	}

	cal, err := ics.Parse(raw)
	if err != nil {
		return OutcomeUnchanged, &domain.ParseError{UserID: userID, Err: err}
	}

	fresh := &record{
		fingerprint: fingerprint,
		calendar:    cal,
		delivered:   make(map[string]struct{}),
	}

	s.mu.Lock()
	if prev, ok := s.records[userID]; ok {
		fresh.delivered = prev.delivered
	}
	s.records[userID] = fresh
	s.mu.Unlock()

	log.Printf("Cached new calendar for user %s", userID)
	return OutcomeChanged, nil
}

// UpsertBatch caches a batch of calendars and returns per-user errors for
// the entries that failed; absence from the map means success. Occurrence
// sets of all changed users are recomputed before returning.
func (s *CalendarService) UpsertBatch(calendars map[uuid.UUID]string) map[uuid.UUID]error {
	errs := make(map[uuid.UUID]error)
	var changed []uuid.UUID

	for userID, raw := range calendars {
		outcome, err := s.Upsert(userID, raw)
		if err != nil {
			log.Printf("Error caching calendar for user %s: %v", userID, err)
			errs[userID] = err
			continue
		}
		if outcome == OutcomeChanged {
			changed = append(changed, userID)
		}
	}

	if len(changed) > 0 {
		s.Recompute(changed)
	}
	return errs
}

// Exists reports whether a calendar is cached for userID.
func (s *CalendarService) Exists(userID uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[userID]
	return ok
}

// Recompute expands recurrence rules into concrete occurrences for the given
// users, or for every cached user when userIDs is nil. The horizon is start
// of today through two days later minus one second, evaluated once for the
// whole pass. Each user's occurrence set is replaced in full; occurrences
// whose semantic hash was delivered before stay marked delivered.
func (s *CalendarService) Recompute(userIDs []uuid.UUID) {
	now := s.clock.Now().In(s.loc)
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	to := from.AddDate(0, 0, 2).Add(-time.Second)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, userID := range s.selectUsers(userIDs) {
		rec := s.records[userID]
		rec.occurrences = dedupe(ics.Expand(rec.calendar, from, to))

		seen := make(map[string]struct{}, len(rec.occurrences))
		for _, occ := range rec.occurrences {
			seen[occ.SemanticHash] = struct{}{}
			if _, ok := rec.delivered[occ.SemanticHash]; ok {
				occ.Delivered = true
			}
		}
		// Drop delivered hashes that fell out of the horizon.
		for hash := range rec.delivered {
			if _, ok := seen[hash]; !ok {
				delete(rec.delivered, hash)
			}
		}
	}
}

func (s *CalendarService) selectUsers(userIDs []uuid.UUID) []uuid.UUID {
	if userIDs == nil {
		userIDs = make([]uuid.UUID, 0, len(s.records))
		for userID := range s.records {
			userIDs = append(userIDs, userID)
		}
		return userIDs
	}
	selected := userIDs[:0:0]
	for _, userID := range userIDs {
		if _, ok := s.records[userID]; ok {
			selected = append(selected, userID)
		}
	}
	return selected
}

// dedupe collapses occurrences that share a semantic hash and orders the
// result by start time. Providers have been seen emitting the same event
// twice under different UIDs.
func dedupe(occurrences []*domain.Occurrence) []*domain.Occurrence {
	seen := make(map[string]struct{}, len(occurrences))
	out := occurrences[:0:0]
	for _, occ := range occurrences {
		if _, ok := seen[occ.SemanticHash]; ok {
			continue
		}
		seen[occ.SemanticHash] = struct{}{}
		out = append(out, occ)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].SemanticHash < out[j].SemanticHash
	})
	return out
}

// TodayEvents returns the user's full cached occurrence set, delivered or
// not. An absent record yields an empty slice. The occurrences are value
// snapshots: MarkDelivered mutates the live set under the lock, and callers
// read the result outside it.
func (s *CalendarService) TodayEvents(userID uuid.UUID) []domain.Occurrence {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[userID]
	if !ok {
		return nil
	}
	out := make([]domain.Occurrence, len(rec.occurrences))
	for i, occ := range rec.occurrences {
		out[i] = *occ
	}
	return out
}

// Due returns, per selected user, the occurrences starting between now and
// to (inclusive) that have not been delivered yet.
func (s *CalendarService) Due(userIDs []uuid.UUID, now, to time.Time) map[uuid.UUID][]*domain.Occurrence {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[uuid.UUID][]*domain.Occurrence)
	for _, userID := range userIDs {
		rec, ok := s.records[userID]
		if !ok {
			continue
		}
		var due []*domain.Occurrence
		for _, occ := range rec.occurrences {
			if occ.Delivered || occ.StartTime.Before(now) || occ.StartTime.After(to) {
				continue
			}
			due = append(due, occ)
		}
		result[userID] = due
	}
	return result
}

// DueForUser is the single-user form of Due with "now" from the clock.
func (s *CalendarService) DueForUser(userID uuid.UUID, to time.Time) []*domain.Occurrence {
	return s.Due([]uuid.UUID{userID}, s.clock.Now().UTC(), to)[userID]
}

// DueForEveryone queries every cached user at once.
func (s *CalendarService) DueForEveryone(to time.Time) map[uuid.UUID][]*domain.Occurrence {
	s.mu.RLock()
	userIDs := make([]uuid.UUID, 0, len(s.records))
	for userID := range s.records {
		userIDs = append(userIDs, userID)
	}
	s.mu.RUnlock()

	return s.Due(userIDs, s.clock.Now().UTC(), to)
}

// MarkDelivered flips the delivered flag for the occurrence with the given
// semantic hash and remembers the hash so recomputes keep it delivered.
func (s *CalendarService) MarkDelivered(userID uuid.UUID, semanticHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		return
	}
	for _, occ := range rec.occurrences {
		if occ.SemanticHash == semanticHash {
			occ.Delivered = true
			rec.delivered[semanticHash] = struct{}{}
			return
		}
	}
}
