package config

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) *Config {
	t.Helper()

	cfg := New()
	cfg.Database = DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "fieldsync.db"),
		BusyTimeout:  5000,
		ConnMaxLife:  time.Minute,
		QueryTimeout: time.Second,
	}
	cfg.Logging = LoggingConfig{Level: "info", Format: "text"}
	cfg.Sync = SyncConfig{MaxRetries: 3, Interval: 30 * time.Second}
	cfg.Quota = QuotaConfig{
		BudgetBytes:  512 * 1024 * 1024,
		WarningPct:   60,
		CriticalPct:  80,
		DangerPct:    95,
		NotifyWindow: 24 * time.Hour,
	}
	return cfg
}

func TestValidate(t *testing.T) {
	assert.NoError(t, validConfig(t).Validate())
}

func TestValidate_QuotaThresholds(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"warning above critical", func(c *Config) { c.Quota.WarningPct = 90 }, true},
		{"danger above 100", func(c *Config) { c.Quota.DangerPct = 120 }, true},
		{"zero warning", func(c *Config) { c.Quota.WarningPct = 0 }, true},
		{"equal thresholds", func(c *Config) { c.Quota.CriticalPct = 95 }, true},
		{"zero budget", func(c *Config) { c.Quota.BudgetBytes = 0 }, true},
		{"valid ordering", func(c *Config) { c.Quota.WarningPct = 50 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_Sync(t *testing.T) {
	cfg := validConfig(t)
	cfg.Sync.MaxRetries = 0
	assert.Error(t, cfg.Validate())

	cfg = validConfig(t)
	cfg.Sync.Interval = 0
	assert.Error(t, cfg.Validate())
}

func TestValidate_Logging(t *testing.T) {
	cfg := validConfig(t)
	cfg.Logging.Level = "chatty"
	assert.Error(t, cfg.Validate())

	cfg = validConfig(t)
	cfg.Logging.Format = "yaml"
	assert.Error(t, cfg.Validate())
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadFromEnv(dir, filepath.Join(dir, ".env"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "fieldsync.db"), cfg.Database.Path)
	assert.Equal(t, "WAL", cfg.Database.JournalMode)
	assert.Equal(t, 3, cfg.Sync.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Sync.Interval)
	assert.Equal(t, 2*time.Second, cfg.Sync.DrainDelay)
	assert.Equal(t, int64(512*1024*1024), cfg.Quota.BudgetBytes)
	assert.Equal(t, 60, cfg.Quota.WarningPct)
	assert.Equal(t, 95, cfg.Quota.DangerPct)
	assert.NotEmpty(t, cfg.Server.DeviceName)
	assert.Equal(t, dir, cfg.ConfigDir())
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	dir := t.TempDir()

	t.Setenv("FIELDSYNC_SYNC_MAX_RETRIES", "5")
	t.Setenv("FIELDSYNC_SYNC_INTERVAL", "1m")
	t.Setenv("FIELDSYNC_QUOTA_BUDGET_BYTES", "1024")
	t.Setenv("FIELDSYNC_DEVICE_NAME", "site-tablet-1")
	t.Setenv("FIELDSYNC_SERVER_URL", "https://sync.example.com")

	cfg, err := LoadFromEnv(dir, filepath.Join(dir, ".env"))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Sync.MaxRetries)
	assert.Equal(t, time.Minute, cfg.Sync.Interval)
	assert.Equal(t, int64(1024), cfg.Quota.BudgetBytes)
	assert.Equal(t, "site-tablet-1", cfg.Server.DeviceName)
	assert.Equal(t, "https://sync.example.com", cfg.Server.URL)
}

func TestGlobalConfig(t *testing.T) {
	Set(nil)
	_, err := Get()
	assert.Error(t, err)

	cfg := validConfig(t)
	Set(cfg)

	got, err := Get()
	require.NoError(t, err)
	assert.Same(t, cfg, got)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLogLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLogLevel("anything"))
	assert.Equal(t, slog.Level(9999), ParseLogLevel("none"))
}
