package service

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/calnotify/calnotify/internal/domain"
)

const (
	// fetchConcurrency caps simultaneous outbound calendar downloads to keep
	// load on remote calendar servers bounded.
	fetchConcurrency = 3

	// refreshCooldown guards against a user re-submitting the same calendar
	// link over and over.
	refreshCooldown = 5 * time.Minute
)

// CalendarRepository is the durable-storage collaborator for calendar
// subscriptions. Implemented by storage.Storage.
type CalendarRepository interface {
	ListCalendars(ctx context.Context, withoutExternal bool) ([]*domain.Calendar, error)
	ListCalendarsByUserIDs(ctx context.Context, userIDs []uuid.UUID) ([]*domain.Calendar, error)
	ListCalendarsByExternalIDs(ctx context.Context, externalIDs []string) ([]*domain.Calendar, error)
	GetCalendarByUserID(ctx context.Context, userID uuid.UUID) (*domain.Calendar, error)
	TouchCalendar(ctx context.Context, userID uuid.UUID, modifiedAt time.Time) error
}

// RefreshCommand selects which calendars a refresh pass targets. Force wins
// over both id lists; with nothing set, all non-external calendars are taken.
type RefreshCommand struct {
	// Force selects every calendar unconditionally (startup warm-up).
	Force bool
	// UserIDs selects an explicit set of users.
	UserIDs []uuid.UUID
	// ExternalIDs selects calendars provisioned by an external system.
	ExternalIDs []string
}

// RefreshService downloads calendar documents and feeds them into the
// calendar cache.
type RefreshService struct {
	repo      CalendarRepository
	calendars *CalendarService
	client    *http.Client
	clock     Clock
}

// NewRefreshService wires the fetcher to its collaborators. A nil client
// falls back to a default with a sane timeout.
func NewRefreshService(repo CalendarRepository, calendars *CalendarService, client *http.Client, clock Clock) *RefreshService {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &RefreshService{
		repo:      repo,
		calendars: calendars,
		client:    client,
		clock:     clock,
	}
}

// RefreshAll runs one batch refresh pass: select targets, download each with
// bounded parallelism, hand the successful bodies to the cache as one batch,
// then persist modification timestamps for the users that updated cleanly.
// Per-item failures never abort the pass; they come back in the error map,
// keyed by user, and callers infer success by absence from it.
func (s *RefreshService) RefreshAll(ctx context.Context, cmd RefreshCommand) (map[uuid.UUID]error, error) {
	targets, err := s.selectCalendars(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("select calendars: %w", err)
	}
	if len(targets) == 0 {
		return nil, nil
	}

	bodies, errs := s.fetchAll(ctx, targets)
	for userID, err := range s.calendars.UpsertBatch(bodies) {
		errs[userID] = err
	}

	now := s.clock.Now().UTC()
	for _, cal := range targets {
		if _, fetched := bodies[cal.UserID]; !fetched {
			continue
		}
		if errs[cal.UserID] != nil {
			continue
		}
		// Best effort; the cache is already consistent.
		if err := s.repo.TouchCalendar(ctx, cal.UserID, now); err != nil {
			log.Printf("Error updating modification time for user %s: %v", cal.UserID, err)
		}
	}

	log.Printf("Refresh pass done: %d targets, %d fetched, %d failed",
		len(targets), len(bodies), len(errs))
	return errs, nil
}

// RefreshUser refreshes a single user's calendar on demand. A missing
// subscription yields domain.ErrCalendarNotFound; a refresh within the
// cooldown window while the calendar is already cached yields
// domain.ErrRefreshCooldown. The cooldown guards interactive /refresh spam
// only; force skips it so a just-replaced URL is fetched immediately
// (UpsertCalendar bumps modified_at, which would otherwise trip the cooldown
// on the subscription's own first download).
func (s *RefreshService) RefreshUser(ctx context.Context, userID uuid.UUID, force bool) error {
	cal, err := s.repo.GetCalendarByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("load calendar for user %s: %w", userID, err)
	}
	if cal == nil {
		return domain.ErrCalendarNotFound
	}

	if !force && s.calendars.Exists(userID) && s.clock.Now().Sub(cal.ModifiedAt) < refreshCooldown {
		log.Printf("Refresh for user %s rejected: last update %s ago", userID, s.clock.Now().Sub(cal.ModifiedAt))
		return domain.ErrRefreshCooldown
	}

	body, err := s.fetchOne(ctx, cal)
	if err != nil {
		return err
	}

	if err := s.calendars.UpsertBatch(map[uuid.UUID]string{userID: body})[userID]; err != nil {
		return err
	}

	if err := s.repo.TouchCalendar(ctx, userID, s.clock.Now().UTC()); err != nil {
		log.Printf("Error updating modification time for user %s: %v", userID, err)
	}
	return nil
}

func (s *RefreshService) selectCalendars(ctx context.Context, cmd RefreshCommand) ([]*domain.Calendar, error) {
	switch {
	case cmd.Force:
		return s.repo.ListCalendars(ctx, false)
	case cmd.UserIDs != nil:
		return s.repo.ListCalendarsByUserIDs(ctx, cmd.UserIDs)
	case cmd.ExternalIDs != nil:
		return s.repo.ListCalendarsByExternalIDs(ctx, cmd.ExternalIDs)
	default:
		return s.repo.ListCalendars(ctx, true)
	}
}

// fetchAll downloads calendar text for every target with at most
// fetchConcurrency requests in flight. Failed downloads are logged and left
// out of the returned map.
func (s *RefreshService) fetchAll(ctx context.Context, targets []*domain.Calendar) (map[uuid.UUID]string, map[uuid.UUID]error) {
	bodies := make(map[uuid.UUID]string, len(targets))
	errs := make(map[uuid.UUID]error)

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		tokens = make(chan struct{}, fetchConcurrency)
	)

	for _, cal := range targets {
		wg.Add(1)
		go func(cal *domain.Calendar) {
			defer wg.Done()
			tokens <- struct{}{}
			defer func() { <-tokens }()

			body, err := s.fetchOne(ctx, cal)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Printf("Error fetching calendar for user %s: %v", cal.UserID, err)
				errs[cal.UserID] = err
				return
			}
			bodies[cal.UserID] = body
		}(cal)
	}

	wg.Wait()
	return bodies, errs
}

func (s *RefreshService) fetchOne(ctx context.Context, cal *domain.Calendar) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cal.URL, nil)
	if err != nil {
		return "", &domain.FetchError{UserID: cal.UserID, URL: cal.URL, Err: err}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", &domain.FetchError{UserID: cal.UserID, URL: cal.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &domain.FetchError{UserID: cal.UserID, URL: cal.URL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &domain.FetchError{UserID: cal.UserID, URL: cal.URL, Err: err}
	}
	return string(body), nil
}
