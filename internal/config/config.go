package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	BotToken       string        `envconfig:"BOT_TOKEN" required:"true"`
	DBPath         string        `envconfig:"DB_PATH" default:"./data/medical.db"`
	DefaultTZ      string        `envconfig:"DEFAULT_TZ" default:"Europe/Moscow"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info"`            // debug|info|warn|error
	HTTPAddr       string        `envconfig:"HTTP_ADDR" default:":8080"`           // healthz
	TickInterval   time.Duration `envconfig:"TICK_INTERVAL" default:"60s"`         // scheduler period
	RemindInterval time.Duration `envconfig:"REMIND_INTERVAL" default:"1h"`        // repeat for unconfirmed reminders
}

// Load reads environment variables into Config.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
