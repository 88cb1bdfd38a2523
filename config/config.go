package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env      string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	Port     string `env:"PORT" envDefault:"8080" validate:"required"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"sqlite" validate:"oneof=memory file sqlite postgres"`
	StorePath   string `env:"STORE_PATH" envDefault:"data/scheduler.db" validate:"required_if=StoreDriver file,required_if=StoreDriver sqlite"`
	DatabaseURL string `env:"DATABASE_URL" validate:"required_if=StoreDriver postgres"`

	ExactAlarmsAllowed bool          `env:"EXACT_ALARMS_ALLOWED" envDefault:"true"`
	InexactWindow      time.Duration `env:"INEXACT_WINDOW" envDefault:"1m" validate:"min=1s"`
	MaxSleep           time.Duration `env:"MAX_SLEEP" envDefault:"60s" validate:"min=1s,max=1h"`
	DefaultZone        string        `env:"DEFAULT_ZONE" envDefault:"UTC" validate:"timezone"`

	// Empty disables bearer auth on the API.
	JWTSecret string `env:"JWT_SECRET" validate:"omitempty,min=32"`

	Renderer      string   `env:"RENDERER" envDefault:"log" validate:"oneof=log email"`
	ResendAPIKey  string   `env:"RESEND_API_KEY" validate:"required_if=Renderer email"`
	ResendFrom    string   `env:"RESEND_FROM" validate:"required_if=Renderer email"`
	NotifyEmailTo []string `env:"NOTIFY_EMAIL_TO" envSeparator:"," validate:"required_if=Renderer email,dive,email"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
