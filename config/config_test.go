package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.TelegramToken != "123:abc" {
		t.Errorf("TelegramToken = %q", cfg.TelegramToken)
	}
	if cfg.DatabasePath != "./data/calnotify.db" {
		t.Errorf("DatabasePath = %q", cfg.DatabasePath)
	}
	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q", cfg.ServerPort)
	}
	if cfg.RefreshCron != "*/30 * * * *" || cfg.RecomputeCron != "*/10 * * * *" || cfg.NotifyCron != "* * * * *" {
		t.Errorf("cron defaults = %q %q %q", cfg.RefreshCron, cfg.RecomputeCron, cfg.NotifyCron)
	}
	if cfg.Timezone == nil || cfg.Timezone.String() != "Europe/Moscow" {
		t.Errorf("Timezone = %v", cfg.Timezone)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("NOTIFY_CRON", "*/5 * * * *")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Timezone.String() != "UTC" {
		t.Errorf("Timezone = %v, want UTC", cfg.Timezone)
	}
	if cfg.NotifyCron != "*/5 * * * *" {
		t.Errorf("NotifyCron = %q", cfg.NotifyCron)
	}
}

func TestLoadMissingToken(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")

	if _, err := Load(); err == nil {
		t.Fatal("Load() without token succeeded, want error")
	}
}

func TestLoadBadTimezone(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TIMEZONE", "Mars/Olympus")

	if _, err := Load(); err == nil {
		t.Fatal("Load() with unknown timezone succeeded, want error")
	}
}
