// Package config loads runtime settings from the environment. An optional
// .env file in the working directory is read first; real environment
// variables win over it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTP struct {
		Port int
	}
	Database struct {
		Driver string
		DSN    string
	}
	Redis struct {
		Addr     string
		Password string
		DB       int
	}
	SMTP struct {
		Host     string
		Port     int
		User     string
		Password string
		From     string
	}
	Scheduler struct {
		Enabled       bool
		Interval      time.Duration
		SendTimeout   time.Duration
		LookaheadDays int
	}
	Log struct {
		Level  string
		Format string
	}
	Location          *time.Location
	RenewalConfigFile string
	DemoScenarios     bool
}

// Load reads .env (if present) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the process environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	var err error

	if cfg.HTTP.Port, err = parseInt("HTTP_PORT", getEnv("HTTP_PORT", "8080")); err != nil {
		return nil, err
	}

	cfg.Database.Driver = getEnv("DB_DRIVER", "sqlite3")
	cfg.Database.DSN = getEnv("DB_DSN", "./data/renewals.db")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	if cfg.Redis.DB, err = parseInt("REDIS_DB", getEnv("REDIS_DB", "0")); err != nil {
		return nil, err
	}

	cfg.SMTP.Host = getEnv("SMTP_HOST", "")
	if cfg.SMTP.Port, err = parseInt("SMTP_PORT", getEnv("SMTP_PORT", "587")); err != nil {
		return nil, err
	}
	cfg.SMTP.User = getEnv("SMTP_USER", "")
	cfg.SMTP.Password = getEnv("SMTP_PASSWORD", "")
	cfg.SMTP.From = getEnv("SMTP_FROM", "")

	cfg.Scheduler.Enabled = getEnv("SCHEDULER_ENABLED", "true") == "true"
	if cfg.Scheduler.Interval, err = parseDuration("SCHEDULER_INTERVAL", getEnv("SCHEDULER_INTERVAL", "24h")); err != nil {
		return nil, err
	}
	if cfg.Scheduler.SendTimeout, err = parseDuration("REMINDER_SEND_TIMEOUT", getEnv("REMINDER_SEND_TIMEOUT", "30s")); err != nil {
		return nil, err
	}
	if cfg.Scheduler.LookaheadDays, err = parseInt("REMINDER_LOOKAHEAD_DAYS", getEnv("REMINDER_LOOKAHEAD_DAYS", "30")); err != nil {
		return nil, err
	}

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	tz := getEnv("TIMEZONE", "UTC")
	if cfg.Location, err = time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("TIMEZONE: %w", err)
	}

	cfg.RenewalConfigFile = getEnv("RENEWAL_CONFIG_FILE", "")
	cfg.DemoScenarios = getEnv("DEMO_SCENARIOS", "false") == "true"
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func parseInt(key, s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not an integer", key, s)
	}
	return v, nil
}

func parseDuration(key, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive", key)
	}
	return d, nil
}
