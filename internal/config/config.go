// Package config provides configuration management for the FieldSync engine
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var (
	// Global configuration instance
	globalConfig *Config
	configMutex  sync.RWMutex
)

// Get returns the global configuration instance
// If the configuration has not been initialized, it will return an error
func Get() (*Config, error) {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if globalConfig == nil {
		return nil, fmt.Errorf("configuration not initialized")
	}

	return globalConfig, nil
}

// Set sets the global configuration instance
func Set(cfg *Config) {
	configMutex.Lock()
	defer configMutex.Unlock()

	globalConfig = cfg
}

// Config represents the complete application configuration
type Config struct {
	Database  DatabaseConfig
	Logging   LoggingConfig
	Server    ServerConfig
	Sync      SyncConfig
	Quota     QuotaConfig
	configDir string // Internal: Directory where config was loaded from
}

// DatabaseConfig represents local SQLite configuration
type DatabaseConfig struct {
	Path            string        // Path to the SQLite database file
	JournalMode     string        // Journal mode (WAL recommended)
	SynchronousMode string        // Synchronous mode
	BusyTimeout     int           // Busy timeout in milliseconds
	CacheSize       int           // Cache size in KiB
	ForeignKeys     bool          // Whether to enforce foreign key constraints
	ConnMaxLife     time.Duration // Maximum connection lifetime
	QueryTimeout    time.Duration // Query timeout
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string // debug, info, warn, error
	Format     string // text or json
	Output     string // stdout, stderr, or file path
	AddSource  bool   // Include source code position in logs
	TimeFormat string // Time format for logs (empty uses RFC3339)
}

// ServerConfig holds configuration for the remote authority
type ServerConfig struct {
	URL        string        // Remote authority base URL
	Token      string        // Authentication token
	Timeout    time.Duration // Request timeout
	DeviceName string        // Device name for identification
	DeviceID   string        // Stable device identifier
}

// SyncConfig holds configuration for the sync queue and triggers
type SyncConfig struct {
	MaxRetries int           // Attempts before a mutation is dropped as permanently failed
	Interval   time.Duration // Periodic drain interval while online
	DrainDelay time.Duration // Inter-item delay when draining ordered queues
	ProbeURL   string        // Endpoint used by the network monitor to probe connectivity
}

// QuotaConfig holds configuration for the storage quota monitor
type QuotaConfig struct {
	BudgetBytes  int64         // Local storage budget in bytes
	WarningPct   int           // Usage percentage at which to warn
	CriticalPct  int           // Usage percentage considered critical
	DangerPct    int           // Usage percentage at which dirty writes are refused
	NotifyWindow time.Duration // Minimum time between notifications per severity level
}

// New returns a new empty Config
func New() *Config {
	return &Config{
		Database: DatabaseConfig{},
		Logging:  LoggingConfig{},
		Server:   ServerConfig{},
		Sync:     SyncConfig{},
		Quota:    QuotaConfig{},
	}
}

// ConfigDir returns the directory the configuration was loaded from
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.validateDatabase(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}

	if err := c.validateLogging(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.validateSync(); err != nil {
		return fmt.Errorf("sync config: %w", err)
	}

	if err := c.validateQuota(); err != nil {
		return fmt.Errorf("quota config: %w", err)
	}

	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	// Create the directory if it doesn't exist
	dir := filepath.Dir(c.Database.Path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory for database: %w", err)
		}
	}

	if c.Database.BusyTimeout <= 0 {
		return fmt.Errorf("busy timeout must be positive")
	}

	if c.Database.ConnMaxLife <= 0 {
		return fmt.Errorf("connection max life must be positive")
	}

	if c.Database.QueryTimeout <= 0 {
		return fmt.Errorf("query timeout must be positive")
	}

	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error", "none":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.MaxRetries <= 0 {
		return fmt.Errorf("max retries must be positive")
	}

	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync interval must be positive")
	}

	if c.Sync.DrainDelay < 0 {
		return fmt.Errorf("drain delay cannot be negative")
	}

	return nil
}

func (c *Config) validateQuota() error {
	if c.Quota.BudgetBytes <= 0 {
		return fmt.Errorf("budget bytes must be positive")
	}

	w, cr, d := c.Quota.WarningPct, c.Quota.CriticalPct, c.Quota.DangerPct
	if w <= 0 || cr <= w || d <= cr || d > 100 {
		return fmt.Errorf("quota thresholds must satisfy 0 < warning < critical < danger <= 100, got %d/%d/%d", w, cr, d)
	}

	if c.Quota.NotifyWindow <= 0 {
		return fmt.Errorf("notify window must be positive")
	}

	return nil
}

// ParseLogLevel parses a log level string to a slog.Level
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "none":
		// Set to a very high level that won't be triggered
		return slog.Level(9999)
	default:
		return slog.LevelInfo
	}
}
