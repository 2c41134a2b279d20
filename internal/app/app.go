// Package app provides the application initialization and lifecycle management
package app

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/fieldsync/fieldsync/internal/config"
	"github.com/fieldsync/fieldsync/internal/conflict"
	"github.com/fieldsync/fieldsync/internal/database"
	"github.com/fieldsync/fieldsync/internal/entity"
	"github.com/fieldsync/fieldsync/internal/loggy"
	"github.com/fieldsync/fieldsync/internal/netmon"
	"github.com/fieldsync/fieldsync/internal/queue"
	"github.com/fieldsync/fieldsync/internal/quota"
	"github.com/fieldsync/fieldsync/internal/remote"
	"github.com/fieldsync/fieldsync/internal/store"
	"github.com/fieldsync/fieldsync/internal/sync"
)

// App represents the application instance with its dependencies
type App struct {
	Config   *config.Config
	Registry *entity.Registry
	Records  *store.Service
	Queue    queue.Repository
	Quota    *quota.Monitor
	Monitor  *netmon.Monitor
	SyncLogs sync.Repository
	Engine   *sync.Engine
}

// New initializes a new application instance with all its dependencies
func New() (*App, error) {
	cfg, err := initConfig()
	if err != nil {
		return nil, err
	}

	if err := initLogger(cfg); err != nil {
		return nil, err
	}

	loggy.Info("Application initializing",
		"version", os.Getenv("VERSION"),
		"log_level", cfg.Logging.Level,
	)

	if err := database.InitDB(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := database.RunMigrations(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	db, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	app, err := initServices(cfg, db)
	if err != nil {
		return nil, err
	}

	loggy.Info("Application initialized successfully")
	return app, nil
}

// initConfig loads and sets up the application configuration
func initConfig() (*config.Config, error) {
	cfg, err := config.LoadFromEnv("", "")
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	config.Set(cfg)
	return cfg, nil
}

// initLogger initializes the logging system
func initLogger(cfg *config.Config) error {
	err := loggy.Init(loggy.Config{
		Level:      config.ParseLogLevel(cfg.Logging.Level),
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// initServices initializes all application services
func initServices(cfg *config.Config, db *sql.DB) (*App, error) {
	logger := loggy.GetGlobalLogger()

	registry := entity.Default()

	// The store and quota monitor reference each other (usage feeds the gate,
	// the gate guards writes), so the gated service is built second.
	ungated := store.NewService(store.NewSQLRepository(db, logger), registry, nil, logger)
	quotaMonitor := quota.NewMonitor(ungated, cfg.Quota, nil, logger)
	records := store.NewService(store.NewSQLRepository(db, logger), registry, quotaMonitor, logger)

	authority := remote.NewClient(cfg.Server.URL, cfg.Server.Token, cfg.Server.Timeout, logger,
		remote.WithDeviceName(cfg.Server.DeviceName))

	detector := conflict.NewDetector(authority, logger)

	queueRepo := queue.NewSQLRepository(db, logger)
	drainer := queue.NewDrainer(queueRepo, records, authority, detector, registry,
		cfg.Sync.MaxRetries, cfg.Sync.DrainDelay, logger)

	probeURL := cfg.Sync.ProbeURL
	if probeURL == "" {
		probeURL = cfg.Server.URL
	}
	monitor := netmon.NewMonitor(netmon.NewHTTPProbe(probeURL, cfg.Server.Timeout), cfg.Sync.Interval, logger)

	syncLogs := sync.NewSQLRepository(db, logger)
	engine := sync.NewEngine(records, queueRepo, drainer, detector, authority, monitor,
		syncLogs, registry, cfg.Sync.Interval, logger)

	return &App{
		Config:   cfg,
		Registry: registry,
		Records:  records,
		Queue:    queueRepo,
		Quota:    quotaMonitor,
		Monitor:  monitor,
		SyncLogs: syncLogs,
		Engine:   engine,
	}, nil
}

// Scope builds the write scope from configuration and flags.
func (app *App) Scope(projectID string) sync.Scope {
	return sync.Scope{
		ProjectID: projectID,
		DeviceID:  app.Config.Server.DeviceID,
	}
}

// Shutdown gracefully shuts down the application
func (app *App) Shutdown() error {
	loggy.Info("Shutting down application")

	if err := database.CloseDB(); err != nil {
		loggy.Error("Error closing database connection", "error", err)
	}

	return nil
}

// FromContext retrieves the App instance from the CLI context
func FromContext(c *cli.Context) (*App, error) {
	if c.App.Metadata == nil {
		return nil, fmt.Errorf("app metadata not found in context")
	}

	app, ok := c.App.Metadata["app"].(*App)
	if !ok {
		return nil, fmt.Errorf("app instance not found in context")
	}

	return app, nil
}
