package bot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/calnotify/calnotify/internal/domain"
	"github.com/calnotify/calnotify/internal/service"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type fakeCalendarRepo struct {
	calendars map[string]*domain.Calendar // by external id
	touched   int
}

func (r *fakeCalendarRepo) ListCalendars(context.Context, bool) ([]*domain.Calendar, error) {
	return nil, nil
}

func (r *fakeCalendarRepo) ListCalendarsByUserIDs(context.Context, []uuid.UUID) ([]*domain.Calendar, error) {
	return nil, nil
}

func (r *fakeCalendarRepo) ListCalendarsByExternalIDs(_ context.Context, ids []string) ([]*domain.Calendar, error) {
	var out []*domain.Calendar
	for _, id := range ids {
		if cal, ok := r.calendars[id]; ok {
			out = append(out, cal)
		}
	}
	return out, nil
}

func (r *fakeCalendarRepo) GetCalendarByUserID(context.Context, uuid.UUID) (*domain.Calendar, error) {
	return nil, nil
}

func (r *fakeCalendarRepo) TouchCalendar(context.Context, uuid.UUID, time.Time) error {
	r.touched++
	return nil
}

func apiFixture(t *testing.T) (*Bot, *service.CalendarService, *fakeCalendarRepo) {
	t.Helper()

	clock := &fakeClock{now: time.Date(2025, 2, 21, 0, 0, 0, 0, time.UTC)}
	calendars := service.NewCalendarService(clock, time.UTC)
	repo := &fakeCalendarRepo{calendars: make(map[string]*domain.Calendar)}
	refresh := service.NewRefreshService(repo, calendars, nil, clock)

	b := &Bot{
		calendars:   calendars,
		refresh:     refresh,
		awaitingURL: make(map[int64]bool),
	}
	return b, calendars, repo
}

func TestAPIHealth(t *testing.T) {
	b, _, _ := apiFixture(t)
	rec := httptest.NewRecorder()
	b.apiMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "ok")
	}
}

func TestAPITodayEvents(t *testing.T) {
	b, calendars, _ := apiFixture(t)
	userID := uuid.New()

	raw := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"PRODID:-//Test//Test//EN",
		"VERSION:2.0",
		"BEGIN:VEVENT",
		"UID:ev-1",
		"DTSTART:20250221T110000Z",
		"DTEND:20250221T120000Z",
		"SUMMARY:Planning",
		"LOCATION:Room 4",
		"END:VEVENT",
		"END:VCALENDAR",
	}, "\r\n") + "\r\n"
	if errs := calendars.UpsertBatch(map[uuid.UUID]string{userID: raw}); len(errs) != 0 {
		t.Fatalf("UpsertBatch() errors = %v", errs)
	}

	rec := httptest.NewRecorder()
	b.apiMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/calendar/todayEvents/"+userID.String(), nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Success bool                 `json:"success"`
		Data    []OccurrenceResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success {
		t.Error("success = false")
	}
	if len(resp.Data) != 1 {
		t.Fatalf("got %d occurrences, want 1", len(resp.Data))
	}
	occ := resp.Data[0]
	if occ.Summary != "Planning" || occ.Location != "Room 4" || occ.DurationMin != 60 {
		t.Errorf("occurrence = %+v", occ)
	}
	if occ.StartTime != "2025-02-21T11:00:00Z" {
		t.Errorf("start_time = %q", occ.StartTime)
	}
}

func TestAPITodayEventsBadUserID(t *testing.T) {
	b, _, _ := apiFixture(t)
	rec := httptest.NewRecorder()
	b.apiMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/calendar/todayEvents/not-a-uuid", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAPIRefreshExternalUser(t *testing.T) {
	b, calendars, repo := apiFixture(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(strings.Join([]string{
			"BEGIN:VCALENDAR",
			"PRODID:-//Test//Test//EN",
			"VERSION:2.0",
			"BEGIN:VEVENT",
			"UID:ext-1",
			"DTSTART:20250221T110000Z",
			"DTEND:20250221T120000Z",
			"SUMMARY:External event",
			"END:VEVENT",
			"END:VCALENDAR",
		}, "\r\n") + "\r\n"))
	}))
	t.Cleanup(srv.Close)

	userID := uuid.New()
	repo.calendars["crm-77"] = &domain.Calendar{UserID: userID, ExternalID: "crm-77", URL: srv.URL}

	rec := httptest.NewRecorder()
	b.apiMux().ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/api/calendar/update/externalUser/crm-77", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	if !calendars.Exists(userID) {
		t.Error("calendar not cached after API refresh")
	}
	if repo.touched != 1 {
		t.Errorf("touched = %d, want 1", repo.touched)
	}
}

func TestAPIRefreshExternalUsersValidation(t *testing.T) {
	b, _, _ := apiFixture(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/api/calendar/update/forExternalUsers", strings.NewReader(`{"external_user_ids":[]}`))
	b.apiMux().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status for empty id list = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPatch, "/api/calendar/update/forExternalUsers", strings.NewReader("not json"))
	b.apiMux().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status for bad json = %d, want 400", rec.Code)
	}
}
