package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rental-engine/config"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := config.FromEnv(env(nil))

	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
	assert.False(t, cfg.SMTP.Enabled())
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := config.FromEnv(env(map[string]string{
		"PORT":                  "9090",
		"DB_PATH":               ":memory:",
		"LOG_LEVEL":             "debug",
		"LOG_FORMAT":            "json",
		"SWEEP_ENABLED":         "true",
		"SWEEP_SCHEDULE":        "0 3 * * *",
		"CORS_ORIGINS":          "https://app.example.com, https://admin.example.com,",
		"OPERATOR_IDS":          "ops-1,ops-2",
		"SMTP_HOST":             "smtp.example.com",
		"SMTP_PORT":             "2525",
		"SMTP_USERNAME":         "mailer",
		"SMTP_PASSWORD":         "secret",
		"SMTP_ADDRESS_TEMPLATE": "%s@users.example.com",
		"NOTIFY_FROM":           "rentals@example.com",
	}))

	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, ":memory:", cfg.DBPath)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "0 3 * * *", cfg.SweepSchedule)
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.CORSOrigins)
	assert.Equal(t, []string{"ops-1", "ops-2"}, cfg.OperatorIDs)
	assert.Equal(t, "2525", cfg.SMTP.Port)
	assert.True(t, cfg.SMTP.Enabled())

	logger := cfg.NewLogger()
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
	}{
		{"port not a number", map[string]string{"PORT": "http"}},
		{"port out of range", map[string]string{"PORT": "70000"}},
		{"bad log level", map[string]string{"LOG_LEVEL": "loud"}},
		{"bad log format", map[string]string{"LOG_FORMAT": "xml"}},
		{"bad sweep flag", map[string]string{"SWEEP_ENABLED": "sometimes"}},
		{"bad schedule", map[string]string{"SWEEP_SCHEDULE": "every day"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.FromEnv(env(tt.vars))
			assert.Error(t, err)
		})
	}
}

func TestFromEnv_ScheduleIgnoredWhenSweepDisabled(t *testing.T) {
	cfg, err := config.FromEnv(env(map[string]string{
		"SWEEP_ENABLED":  "false",
		"SWEEP_SCHEDULE": "never",
	}))

	require.NoError(t, err)
	assert.False(t, cfg.SweepEnabled)
}

func TestLoad_ReadsEnvFile(t *testing.T) {
	for _, k := range []string{"PORT", "DB_PATH", "LOG_FORMAT"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=7070\nDB_PATH=/tmp/rental-test.db\n"), 0o600))

	cfg, err := config.Load(path)

	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, "/tmp/rental-test.db", cfg.DBPath)
	assert.Equal(t, "text", cfg.LogFormat)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
