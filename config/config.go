/*
Package config loads runtime settings.

SOURCES (later wins):
  1. Defaults below
  2. .env file in the working directory, if present
  3. Process environment
  4. Command-line flags (bound in cmd/server)

VARIABLES:
  PORT             HTTP port (default 8080)
  DB_PATH          SQLite path, ":memory:" for ephemeral (default rental.db)
  LOG_LEVEL        logrus level (default info)
  LOG_FORMAT       "text" or "json" (default text)
  SWEEP_ENABLED    run the sweep in-process (default true)
  SWEEP_SCHEDULE   cron expression for the sweep (default "@every 1h")
  CORS_ORIGINS     comma-separated allowed origins
  OPERATOR_IDS     comma-separated user ids allowed to use /api/sweep
  SMTP_HOST, SMTP_PORT, SMTP_USERNAME, SMTP_PASSWORD
  SMTP_ADDRESS_TEMPLATE  e.g. "%s@mail.example.com"
  NOTIFY_FROM      sender address; email is disabled when empty
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/warp/rental-engine/notify"
)

// Config is the full runtime configuration.
type Config struct {
	Port          int
	DBPath        string
	LogLevel      string
	LogFormat     string
	SweepEnabled  bool
	SweepSchedule string
	CORSOrigins   []string
	OperatorIDs   []string
	SMTP          notify.SMTPConfig
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Port:          8080,
		DBPath:        "rental.db",
		LogLevel:      "info",
		LogFormat:     "text",
		SweepEnabled:  true,
		SweepSchedule: "@every 1h",
		CORSOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		SMTP:          notify.SMTPConfig{Port: "587"},
	}
}

// Load reads the optional env files, then the environment.
// A missing .env is not an error.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		_ = godotenv.Load()
	} else if err := godotenv.Load(envFiles...); err != nil {
		return Config{}, fmt.Errorf("failed to load env file: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a config from a lookup function over Default().
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Default()

	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Port = port
	}
	if v := getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := getenv("SWEEP_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid SWEEP_ENABLED %q: %w", v, err)
		}
		cfg.SweepEnabled = enabled
	}
	if v := getenv("SWEEP_SCHEDULE"); v != "" {
		cfg.SweepSchedule = v
	}
	if v := getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}
	if v := getenv("OPERATOR_IDS"); v != "" {
		cfg.OperatorIDs = splitList(v)
	}

	cfg.SMTP.Host = getenv("SMTP_HOST")
	if v := getenv("SMTP_PORT"); v != "" {
		cfg.SMTP.Port = v
	}
	cfg.SMTP.Username = getenv("SMTP_USERNAME")
	cfg.SMTP.Password = getenv("SMTP_PASSWORD")
	cfg.SMTP.AddressTemplate = getenv("SMTP_ADDRESS_TEMPLATE")
	cfg.SMTP.From = getenv("NOTIFY_FROM")

	return cfg, cfg.Validate()
}

// Validate checks values that would otherwise fail late at startup.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("database path is required")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q (want text or json)", c.LogFormat)
	}
	if c.SweepEnabled {
		if _, err := cron.ParseStandard(c.SweepSchedule); err != nil {
			return fmt.Errorf("invalid sweep schedule %q: %w", c.SweepSchedule, err)
		}
	}
	return nil
}

// NewLogger builds the process logger from the config.
func (c Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if level, err := logrus.ParseLevel(c.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
