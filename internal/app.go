// Package internal contains core application wiring.
package internal

import (
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	json "github.com/goccy/go-json"

	"pixelry/internal/config"
	"pixelry/internal/database"
	"pixelry/internal/geo"
	httpapi "pixelry/internal/http"
	"pixelry/internal/jobs"
	"pixelry/internal/logging"
	"pixelry/internal/privacy"
	"pixelry/internal/visits"
)

// Application owns the assembled collector: HTTP surface, ingestion pipeline,
// storage, and background jobs. Everything is constructed here and injected
// downward; no package keeps global state.
type Application struct {
	Config    *config.Config
	Logger    *slog.Logger
	DBManager *database.DBManager
	Fiber     *fiber.App

	geoResolver *geo.MaxMindResolver
	scheduler   *jobs.Scheduler
}

// NewApp builds the application from the given configuration.
func NewApp(cfg *config.Config) (*Application, error) {
	logger := logging.New(cfg)

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := dbManager.MigrateDatabase(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	geoResolver, err := geo.NewMaxMindResolver(cfg.GeoDBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open geo database: %w", err)
	}

	protector := privacy.NewProtector(cfg.ServerSecret)
	normalizer := visits.NewNormalizer(geoResolver, protector, logger)
	pipeline := visits.NewPipeline(normalizer, dbManager, logger)
	summarizer := visits.NewSummarizer(dbManager, logger)

	scheduler, err := jobs.NewScheduler(cfg, dbManager, summarizer, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize jobs: %w", err)
	}

	fiberApp := fiber.New(fiber.Config{
		AppName:               cfg.AppName,
		DisableStartupMessage: !cfg.IsDevelopment(),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		// Log shipments can bundle hours of traffic in one POST.
		BodyLimit: 50 * 1024 * 1024,
	})

	handler := httpapi.NewHandler(cfg, pipeline, dbManager, logger)
	httpapi.RegisterRoutes(fiberApp, handler)
	if cfg.PublicDirectory != "" {
		// Serves the rotated database snapshot alongside the pixel.
		fiberApp.Static("/", cfg.PublicDirectory)
	}

	return &Application{
		Config:      cfg,
		Logger:      logger,
		DBManager:   dbManager,
		Fiber:       fiberApp,
		geoResolver: geoResolver,
		scheduler:   scheduler,
	}, nil
}

// Run starts background jobs and blocks serving HTTP until Shutdown.
func (a *Application) Run() error {
	if err := a.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start background jobs: %w", err)
	}

	addr := ":" + a.Config.AppPort
	a.Logger.Info("Collector listening",
		slog.String("addr", addr),
		slog.String("environment", a.Config.Environment))
	return a.Fiber.Listen(addr)
}

// Shutdown stops jobs, drains the HTTP server, and releases resources.
func (a *Application) Shutdown() error {
	a.Logger.Info("Shutting down...")

	a.scheduler.Stop()

	err := a.Fiber.Shutdown()

	a.geoResolver.Close()

	if db := a.DBManager.GetConnection(); db != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
	}

	a.Logger.Info("Shutdown complete")
	return err
}

// Scheduler exposes the job scheduler for manual triggering.
func (a *Application) Scheduler() *jobs.Scheduler {
	return a.scheduler
}
