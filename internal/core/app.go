package core

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/watson-creative/tracking-injector/internal/config"
	"github.com/watson-creative/tracking-injector/internal/db"
	"github.com/watson-creative/tracking-injector/internal/jobs"
	"github.com/watson-creative/tracking-injector/internal/logger"
	"github.com/watson-creative/tracking-injector/internal/plugins"
	"github.com/watson-creative/tracking-injector/internal/store"
	"github.com/watson-creative/tracking-injector/internal/telemetry"
	"github.com/watson-creative/tracking-injector/internal/updater"
	"github.com/watson-creative/tracking-injector/internal/upgrader"
	"github.com/watson-creative/tracking-injector/internal/websocket"
)

// ServiceName identifies the process in logs and traces.
const ServiceName = "tracking-injector"

// App holds the core components of the application that are shared
// between the server and the CLI.
type App struct {
	config     *config.Config
	db         *sql.DB
	log        *logrus.Entry
	store      *store.Store
	wsHub      *websocket.Hub
	jobManager *jobs.JobManager
	registry   *plugins.Registry
	checker    *updater.Checker
	upgrader   *upgrader.Upgrader
	Version    string

	shutdownTelemetry func(context.Context) error
}

// New sets up and returns a new App instance. It handles loading the
// configuration, logging, tracing, the database connection and migrations.
func New(ctx context.Context, version string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxAge:     cfg.Log.MaxAge,
		MaxBackups: cfg.Log.MaxBackups,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	shutdown, err := telemetry.Initialize(ctx, telemetry.Config{
		ServiceName:    ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Environment,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	database, err := db.InitDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := db.RunMigrations(database, db.Migrations); err != nil {
		// We can't proceed without a valid database schema.
		database.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	app := NewWithDB(cfg, database, version)
	app.shutdownTelemetry = shutdown
	app.log.Info("Core application setup complete.")
	return app, nil
}

// NewWithDB wires every component around an open, migrated database.
func NewWithDB(cfg *config.Config, database *sql.DB, version string) *App {
	app := &App{
		config:  cfg,
		db:      database,
		log:     logger.New("core"),
		store:   store.New(database),
		wsHub:   websocket.NewHub().WithLogger(logger.New("websocket")),
		Version: version,
	}
	go app.wsHub.Run()

	app.registry = plugins.NewRegistry(afero.NewOsFs(), cfg.Plugins.Path, app.store, logger.New("plugins"))

	checker, err := updater.New(updater.SettingsFromConfig(cfg.Updater), app.registry, updater.Options{
		Cache:       app.store.Transients(),
		ForceUpdate: cfg.Updater.ForceUpdate,
		Debug:       cfg.Debug,
		Policy: updater.FetchPolicy{
			DataTTL:         cfg.Updater.DataTTL,
			RateLimit:       cfg.Updater.RateLimit,
			RateLimitWindow: cfg.Updater.RateLimitWindow,
			Timeout:         cfg.Updater.APITimeout,
		},
		VersionTTL:  cfg.Updater.VersionTTL,
		HTTPTimeout: cfg.Updater.HTTPTimeout,
		HostVersion: cfg.HostVersion,
		PluginsDir:  cfg.Plugins.Path,
		Backup:      cfg.Updater.Backup,
		Log:         logger.New("updater"),
	})
	if err != nil {
		// Without a checker the plugin simply receives no updates.
		app.log.Errorf("GitHub updater disabled: %v", err)
	} else {
		app.checker = checker
		app.upgrader = upgrader.New(checker, upgrader.Options{
			PluginsDir: cfg.Plugins.Path,
			History:    app.store,
			Notifier:   app.wsHub,
			Log:        logger.New("upgrader"),
		})
	}

	app.jobManager = jobs.NewManager(app)
	jobs.RegisterDefaultJobs(app.jobManager)
	return app
}

func (a *App) Config() *config.Config       { return a.config }
func (a *App) DB() *sql.DB                  { return a.db }
func (a *App) Store() *store.Store          { return a.store }
func (a *App) WsHub() *websocket.Hub        { return a.wsHub }
func (a *App) JobManager() *jobs.JobManager { return a.jobManager }
func (a *App) Registry() *plugins.Registry  { return a.registry }
func (a *App) Logger() *logrus.Entry        { return a.log }

// Checker is nil when the updater configuration is incomplete.
func (a *App) Checker() *updater.Checker { return a.checker }

// Upgrader is nil whenever Checker is.
func (a *App) Upgrader() *upgrader.Upgrader { return a.upgrader }

// Close gracefully closes the application's resources, like the DB connection.
func (a *App) Close() {
	if a.shutdownTelemetry != nil {
		if err := a.shutdownTelemetry(context.Background()); err != nil {
			a.log.Warnf("Failed to flush traces: %v", err)
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}
