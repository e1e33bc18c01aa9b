package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/calnotify/calnotify/internal/domain"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestUser(t *testing.T, s *Storage, chatID int64) *domain.User {
	t.Helper()
	u := &domain.User{
		ChatID:        chatID,
		Username:      "tester",
		Firstname:     "Test",
		TimeZone:      3,
		Culture:       "en",
		NotifyMinutes: 30,
	}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	return u
}

func TestCreateAndGetUser(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	u := createTestUser(t, s, 100)
	if u.ID == uuid.Nil {
		t.Fatal("CreateUser did not assign an id")
	}

	got, err := s.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUserByID() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetUserByID() = nil for existing user")
	}
	if got.ChatID != 100 || got.Username != "tester" || got.TimeZone != 3 || got.NotifyMinutes != 30 {
		t.Errorf("GetUserByID() = %+v", got)
	}

	byChat, err := s.GetUserByChatID(ctx, 100)
	if err != nil {
		t.Fatalf("GetUserByChatID() error = %v", err)
	}
	if byChat == nil || byChat.ID != u.ID {
		t.Errorf("GetUserByChatID() = %+v, want id %v", byChat, u.ID)
	}
}

func TestGetUserMissing(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	got, err := s.GetUserByID(ctx, uuid.New())
	if err != nil {
		t.Fatalf("GetUserByID() error = %v", err)
	}
	if got != nil {
		t.Errorf("GetUserByID() = %+v, want nil", got)
	}

	got, err = s.GetUserByChatID(ctx, 999)
	if err != nil {
		t.Fatalf("GetUserByChatID() error = %v", err)
	}
	if got != nil {
		t.Errorf("GetUserByChatID() = %+v, want nil", got)
	}
}

func TestUpdateUserSettings(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	u := createTestUser(t, s, 100)

	if err := s.UpdateUserTimeZone(ctx, u.ID, -5); err != nil {
		t.Fatalf("UpdateUserTimeZone() error = %v", err)
	}
	if err := s.UpdateUserNotifyMinutes(ctx, u.ID, 120); err != nil {
		t.Fatalf("UpdateUserNotifyMinutes() error = %v", err)
	}
	if err := s.UpdateUserCulture(ctx, u.ID, "ru"); err != nil {
		t.Fatalf("UpdateUserCulture() error = %v", err)
	}
	if err := s.UpdateUserDetails(ctx, u.ID, 101, "renamed", "New", "Name"); err != nil {
		t.Fatalf("UpdateUserDetails() error = %v", err)
	}

	got, err := s.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUserByID() error = %v", err)
	}
	if got.TimeZone != -5 || got.NotifyMinutes != 120 || got.Culture != "ru" {
		t.Errorf("settings not persisted: %+v", got)
	}
	if got.ChatID != 101 || got.Username != "renamed" || got.Firstname != "New" || got.Lastname != "Name" {
		t.Errorf("details not persisted: %+v", got)
	}
}

func TestUpsertCalendar(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	u := createTestUser(t, s, 100)

	cal := &domain.Calendar{UserID: u.ID, URL: "https://example.com/a.ics"}
	if err := s.UpsertCalendar(ctx, cal); err != nil {
		t.Fatalf("UpsertCalendar() error = %v", err)
	}

	got, err := s.GetCalendarByUserID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetCalendarByUserID() error = %v", err)
	}
	if got == nil || got.URL != "https://example.com/a.ics" {
		t.Fatalf("GetCalendarByUserID() = %+v", got)
	}
	firstCreated := got.CreatedAt

	// Second upsert replaces the URL but keeps created_at.
	if err := s.UpsertCalendar(ctx, &domain.Calendar{UserID: u.ID, URL: "https://example.com/b.ics"}); err != nil {
		t.Fatalf("UpsertCalendar() replace error = %v", err)
	}
	got, err = s.GetCalendarByUserID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetCalendarByUserID() error = %v", err)
	}
	if got.URL != "https://example.com/b.ics" {
		t.Errorf("URL = %q, want replaced", got.URL)
	}
	if !got.CreatedAt.Equal(firstCreated) {
		t.Errorf("CreatedAt changed on upsert: %v != %v", got.CreatedAt, firstCreated)
	}
}

func TestGetCalendarMissing(t *testing.T) {
	s := newTestStorage(t)
	got, err := s.GetCalendarByUserID(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("GetCalendarByUserID() error = %v", err)
	}
	if got != nil {
		t.Errorf("GetCalendarByUserID() = %+v, want nil", got)
	}
}

func TestListCalendarsFiltersExternal(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	regular := createTestUser(t, s, 100)
	external := createTestUser(t, s, 200)
	if err := s.UpsertCalendar(ctx, &domain.Calendar{UserID: regular.ID, URL: "https://example.com/r.ics"}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertCalendar(ctx, &domain.Calendar{UserID: external.ID, ExternalID: "crm-77", URL: "https://example.com/e.ics"}); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListCalendars(ctx, false)
	if err != nil {
		t.Fatalf("ListCalendars(false) error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("ListCalendars(false) = %d calendars, want 2", len(all))
	}

	internal, err := s.ListCalendars(ctx, true)
	if err != nil {
		t.Fatalf("ListCalendars(true) error = %v", err)
	}
	if len(internal) != 1 || internal[0].UserID != regular.ID {
		t.Errorf("ListCalendars(true) = %+v, want only regular user", internal)
	}
}

func TestListCalendarsByIDs(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	a := createTestUser(t, s, 100)
	b := createTestUser(t, s, 200)
	for i, u := range []*domain.User{a, b} {
		extID := ""
		if i == 1 {
			extID = "crm-88"
		}
		if err := s.UpsertCalendar(ctx, &domain.Calendar{UserID: u.ID, ExternalID: extID, URL: "https://example.com/x.ics"}); err != nil {
			t.Fatal(err)
		}
	}

	byUser, err := s.ListCalendarsByUserIDs(ctx, []uuid.UUID{a.ID})
	if err != nil {
		t.Fatalf("ListCalendarsByUserIDs() error = %v", err)
	}
	if len(byUser) != 1 || byUser[0].UserID != a.ID {
		t.Errorf("ListCalendarsByUserIDs() = %+v", byUser)
	}

	byExt, err := s.ListCalendarsByExternalIDs(ctx, []string{"crm-88"})
	if err != nil {
		t.Fatalf("ListCalendarsByExternalIDs() error = %v", err)
	}
	if len(byExt) != 1 || byExt[0].UserID != b.ID {
		t.Errorf("ListCalendarsByExternalIDs() = %+v", byExt)
	}

	empty, err := s.ListCalendarsByUserIDs(ctx, nil)
	if err != nil {
		t.Fatalf("ListCalendarsByUserIDs(nil) error = %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("ListCalendarsByUserIDs(nil) = %+v, want empty", empty)
	}
}

func TestTouchCalendar(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	u := createTestUser(t, s, 100)
	if err := s.UpsertCalendar(ctx, &domain.Calendar{UserID: u.ID, URL: "https://example.com/a.ics"}); err != nil {
		t.Fatal(err)
	}

	stamp := time.Date(2025, 2, 21, 12, 0, 0, 0, time.UTC)
	if err := s.TouchCalendar(ctx, u.ID, stamp); err != nil {
		t.Fatalf("TouchCalendar() error = %v", err)
	}

	got, err := s.GetCalendarByUserID(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.ModifiedAt.Equal(stamp) {
		t.Errorf("ModifiedAt = %v, want %v", got.ModifiedAt, stamp)
	}
}

func TestListUsersWithCalendar(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	withCal := createTestUser(t, s, 100)
	createTestUser(t, s, 200) // no calendar
	if err := s.UpsertCalendar(ctx, &domain.Calendar{UserID: withCal.ID, URL: "https://example.com/a.ics"}); err != nil {
		t.Fatal(err)
	}

	users, err := s.ListUsersWithCalendar(ctx)
	if err != nil {
		t.Fatalf("ListUsersWithCalendar() error = %v", err)
	}
	if len(users) != 1 || users[0].ID != withCal.ID {
		t.Errorf("ListUsersWithCalendar() = %+v, want only the subscribed user", users)
	}
}

func TestDeleteCalendarAndUser(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	u := createTestUser(t, s, 100)
	if err := s.UpsertCalendar(ctx, &domain.Calendar{UserID: u.ID, URL: "https://example.com/a.ics"}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteCalendar(ctx, u.ID); err != nil {
		t.Fatalf("DeleteCalendar() error = %v", err)
	}
	if got, _ := s.GetCalendarByUserID(ctx, u.ID); got != nil {
		t.Error("calendar still present after delete")
	}

	if err := s.DeleteUser(ctx, u.ID); err != nil {
		t.Fatalf("DeleteUser() error = %v", err)
	}
	if got, _ := s.GetUserByID(ctx, u.ID); got != nil {
		t.Error("user still present after delete")
	}
}
