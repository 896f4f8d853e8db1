// Package config reads process settings from the environment (optionally a
// .env file) and the engine policy file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/adaptivestudy/internal/scheduler"
)

// Config holds the process settings
type Config struct {
	// "sqlite" or "postgres"
	DBType string
	// SQLite database file
	DBPath string
	// Postgres connection string
	DatabaseURL string
	// YAML file with the blueprint and engine policies
	EngineConfigPath string
	LogLevel         string
	LogDevelopment   bool
	// Time between review sweeps
	SweepInterval time.Duration
	// Sweeps only notify inside [start, end] (hours, UTC)
	NotificationStartHour int
	NotificationEndHour   int
	// Default session length used for retention budgets
	SessionMinutes float64
	// Telemetry events buffered before new ones are dropped
	TelemetryBuffer int
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		DBType:                "sqlite",
		DBPath:                "data/adaptivestudy.db",
		EngineConfigPath:      "engine.yaml",
		LogLevel:              "info",
		SweepInterval:         time.Hour,
		NotificationStartHour: scheduler.DefaultNotificationStartHour,
		NotificationEndHour:   scheduler.DefaultNotificationEndHour,
		SessionMinutes:        30,
		TelemetryBuffer:       1024,
	}
}

// Load reads envFile (if present) into the environment and then builds the
// configuration from it. Variables already set take precedence over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}
	return FromEnv()
}

// FromEnv overlays environment variables on DefaultConfig
func FromEnv() (*Config, error) {
	cfg := DefaultConfig()

	if v, ok := os.LookupEnv("DB_TYPE"); ok && v != "" {
		cfg.DBType = v
	}
	if v, ok := os.LookupEnv("DB_PATH"); ok && v != "" {
		cfg.DBPath = v
	}
	if v, ok := os.LookupEnv("DATABASE_URL"); ok {
		cfg.DatabaseURL = v
	}
	if v, ok := os.LookupEnv("ENGINE_CONFIG"); ok && v != "" {
		cfg.EngineConfigPath = v
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok && v != "" {
		cfg.LogLevel = v
	}
	if v, ok := os.LookupEnv("LOG_DEVELOPMENT"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("LOG_DEVELOPMENT: %w", err)
		}
		cfg.LogDevelopment = b
	}
	if v, ok := os.LookupEnv("SWEEP_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("SWEEP_INTERVAL: invalid duration %q", v)
		}
		cfg.SweepInterval = d
	}
	if v, ok := os.LookupEnv("NOTIFICATION_START_HOUR"); ok && v != "" {
		h, err := parseHour(v)
		if err != nil {
			return nil, fmt.Errorf("NOTIFICATION_START_HOUR: %w", err)
		}
		cfg.NotificationStartHour = h
	}
	if v, ok := os.LookupEnv("NOTIFICATION_END_HOUR"); ok && v != "" {
		h, err := parseHour(v)
		if err != nil {
			return nil, fmt.Errorf("NOTIFICATION_END_HOUR: %w", err)
		}
		cfg.NotificationEndHour = h
	}
	if v, ok := os.LookupEnv("SESSION_MINUTES"); ok && v != "" {
		m, err := strconv.ParseFloat(v, 64)
		if err != nil || m <= 0 {
			return nil, fmt.Errorf("SESSION_MINUTES: invalid value %q", v)
		}
		cfg.SessionMinutes = m
	}
	if v, ok := os.LookupEnv("TELEMETRY_BUFFER"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("TELEMETRY_BUFFER: invalid value %q", v)
		}
		cfg.TelemetryBuffer = n
	}
	return cfg, nil
}

func parseHour(v string) (int, error) {
	h, err := strconv.Atoi(v)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour %q", v)
	}
	return h, nil
}
