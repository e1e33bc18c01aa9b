package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is loaded from environment variables.
type Config struct {
	TelegramToken string `env:"TELEGRAM_BOT_TOKEN,required,notEmpty"`
	DatabasePath  string `env:"DATABASE_PATH" envDefault:"./data/calnotify.db"`
	ServerPort    string `env:"SERVER_PORT" envDefault:"8080"`

	// TimezoneName is the zone used to anchor "start of today" for the
	// occurrence expansion horizon.
	TimezoneName string `env:"TIMEZONE" envDefault:"Europe/Moscow"`

	// Cron expressions for the three background jobs.
	RefreshCron   string `env:"REFRESH_CRON" envDefault:"*/30 * * * *"`
	RecomputeCron string `env:"RECOMPUTE_CRON" envDefault:"*/10 * * * *"`
	NotifyCron    string `env:"NOTIFY_CRON" envDefault:"* * * * *"`

	Timezone *time.Location `env:"-"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	tz, err := time.LoadLocation(cfg.TimezoneName)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.TimezoneName, err)
	}
	cfg.Timezone = tz

	return cfg, nil
}
