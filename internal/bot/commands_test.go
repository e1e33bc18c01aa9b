package bot

import (
	"context"
	"path/filepath"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/calnotify/calnotify/internal/domain"
	"github.com/calnotify/calnotify/internal/storage"
)

func TestExternalIDFromURL(t *testing.T) {
	cases := []struct {
		name string
		url  string
		want string
	}{
		{"provider link", "https://portal.example.com/company/personal/user/123/calendar/?action=export", "123"},
		{"long id", "https://portal.example.com/user/87654321/calendar/feed.ics", "87654321"},
		{"plain ics link", "https://calendar.google.com/calendar/ical/someone/basic.ics", ""},
		{"user segment without calendar", "https://example.com/user/123/events", ""},
		{"id too long", "https://example.com/user/123456789/calendar", ""},
		{"empty", "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := externalIDFromURL(tc.url); got != tc.want {
				t.Errorf("externalIDFromURL(%q) = %q, want %q", tc.url, got, tc.want)
			}
		})
	}
}

func TestSyncUserDetails(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	user := &domain.User{ChatID: 100, Username: "old", Firstname: "Old", Lastname: "Name"}
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	b := &Bot{storage: store}
	b.syncUserDetails(ctx, user, &tgbotapi.User{UserName: "renamed", FirstName: "New", LastName: "Name"})

	if user.Username != "renamed" || user.Firstname != "New" {
		t.Errorf("in-memory user not updated: %+v", user)
	}
	stored, err := store.GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUserByID() error = %v", err)
	}
	if stored.Username != "renamed" || stored.Firstname != "New" || stored.Lastname != "Name" {
		t.Errorf("stored user not updated: %+v", stored)
	}
	if stored.ChatID != 100 {
		t.Errorf("ChatID changed: %d", stored.ChatID)
	}
}

func TestSyncUserDetailsNoChange(t *testing.T) {
	// Unchanged details must not touch storage; a nil Bot.storage would
	// panic if the update ran.
	b := &Bot{}
	user := &domain.User{Username: "same", Firstname: "Same", Lastname: "Same"}

	b.syncUserDetails(context.Background(), user, &tgbotapi.User{UserName: "same", FirstName: "Same", LastName: "Same"})
	b.syncUserDetails(context.Background(), user, nil)
}
