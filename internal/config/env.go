package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goombaio/namegenerator"
	"github.com/joho/godotenv"
)

// LoadFromEnv loads configuration from environment variables
// Parameters:
// - configDir: Directory containing config files (or empty for default)
// - configFilePath: Path to .env file (or empty for default)
func LoadFromEnv(configDir string, configFilePath string) (*Config, error) {
	cfg := New()

	// If configDir is empty, use the default
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".fieldsync")

		if err := os.MkdirAll(configDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	cfg.configDir = configDir

	// Default database and log paths live in the config directory
	cfg.Database.Path = filepath.Join(configDir, "fieldsync.db")
	defaultLogPath := filepath.Join(configDir, "fieldsync.log")

	// Use provided config file path or default
	if configFilePath == "" {
		configFilePath = filepath.Join(configDir, ".env")
	}

	// Check if ENV_FILE_PATH is set to load from a custom .env file
	envFilePath := getEnvString("ENV_FILE_PATH", "")
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			return nil, fmt.Errorf("failed to load env file from %s: %w", envFilePath, err)
		}
	} else {
		// Try the config directory first, then the current directory
		if err := godotenv.Load(configFilePath); err != nil {
			_ = godotenv.Load() // Ignore errors if file doesn't exist
		}
	}

	cfg.Database = DatabaseConfig{
		Path:            getEnvString("FIELDSYNC_DB_PATH", cfg.Database.Path),
		JournalMode:     getEnvString("FIELDSYNC_DB_JOURNAL_MODE", "WAL"),
		SynchronousMode: getEnvString("FIELDSYNC_DB_SYNCHRONOUS", "NORMAL"),
		BusyTimeout:     getEnvInt("FIELDSYNC_DB_BUSY_TIMEOUT", 5000),
		CacheSize:       getEnvInt("FIELDSYNC_DB_CACHE_SIZE", -2000),
		ForeignKeys:     getEnvBool("FIELDSYNC_DB_FOREIGN_KEYS", true),
		ConnMaxLife:     getEnvDuration("FIELDSYNC_DB_CONN_MAX_LIFE", 5*time.Minute),
		QueryTimeout:    getEnvDuration("FIELDSYNC_DB_QUERY_TIMEOUT", 30*time.Second),
	}

	cfg.Logging = LoggingConfig{
		Level:      getEnvString("FIELDSYNC_LOG_LEVEL", "info"),
		Format:     getEnvString("FIELDSYNC_LOG_FORMAT", "text"),
		Output:     getEnvString("FIELDSYNC_LOG_OUTPUT", defaultLogPath),
		AddSource:  getEnvBool("FIELDSYNC_LOG_ADD_SOURCE", false),
		TimeFormat: getEnvString("FIELDSYNC_LOG_TIME_FORMAT", time.RFC3339),
	}

	cfg.Server = ServerConfig{
		URL:        getEnvString("FIELDSYNC_SERVER_URL", ""),
		Token:      getEnvString("FIELDSYNC_SERVER_TOKEN", ""),
		Timeout:    getEnvDuration("FIELDSYNC_SERVER_TIMEOUT", 30*time.Second),
		DeviceName: getEnvString("FIELDSYNC_DEVICE_NAME", defaultDeviceName()),
		DeviceID:   getEnvString("FIELDSYNC_DEVICE_ID", ""),
	}

	cfg.Sync = SyncConfig{
		MaxRetries: getEnvInt("FIELDSYNC_SYNC_MAX_RETRIES", 3),
		Interval:   getEnvDuration("FIELDSYNC_SYNC_INTERVAL", 30*time.Second),
		DrainDelay: getEnvDuration("FIELDSYNC_SYNC_DRAIN_DELAY", 2*time.Second),
		ProbeURL:   getEnvString("FIELDSYNC_SYNC_PROBE_URL", ""),
	}

	cfg.Quota = QuotaConfig{
		BudgetBytes:  getEnvInt64("FIELDSYNC_QUOTA_BUDGET_BYTES", 512*1024*1024),
		WarningPct:   getEnvInt("FIELDSYNC_QUOTA_WARNING_PCT", 60),
		CriticalPct:  getEnvInt("FIELDSYNC_QUOTA_CRITICAL_PCT", 80),
		DangerPct:    getEnvInt("FIELDSYNC_QUOTA_DANGER_PCT", 95),
		NotifyWindow: getEnvDuration("FIELDSYNC_QUOTA_NOTIFY_WINDOW", 24*time.Hour),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultDeviceName generates a memorable device name (e.g. "wispy-dust")
// for installations that never configured one.
func defaultDeviceName() string {
	seed := time.Now().UTC().UnixNano()
	name := namegenerator.NewNameGenerator(seed).Generate()
	return strings.ReplaceAll(name, "_", "-")
}

func getEnvString(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
