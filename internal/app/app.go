package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/segmentry/internal/api"
	"github.com/foxzi/segmentry/internal/campaign"
	"github.com/foxzi/segmentry/internal/config"
	"github.com/foxzi/segmentry/internal/db"
	"github.com/foxzi/segmentry/internal/metrics"
	"github.com/foxzi/segmentry/internal/repository"
	"github.com/foxzi/segmentry/internal/resolver"
	"github.com/foxzi/segmentry/internal/segment"
	"github.com/foxzi/segmentry/internal/snapshot"
)

// App is the main application
type App struct {
	config        *config.Config
	database      *db.DB
	boltDB        *bolt.DB
	apiServer     *api.Server
	metricsServer *http.Server
	metrics       *metrics.Metrics
	segments      *segment.Service
	campaigns     *campaign.Service
	logger        *slog.Logger
}

// New creates a new application
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	boltDB, err := bolt.Open(cfg.Database.SnapshotsPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}

	snapshots, err := snapshot.New(boltDB)
	if err != nil {
		boltDB.Close()
		database.Close()
		return nil, fmt.Errorf("failed to create snapshot storage: %w", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	facts := repository.NewFactRepository(database.DB)
	res := resolver.New(facts, logger, m)

	segments := segment.NewService(
		repository.NewSegmentRepository(database.DB),
		res,
		snapshots,
		logger,
		m,
		segment.Config{
			Concurrency: cfg.Segments.Workers,
			StaleAfter:  cfg.Segments.StaleAfter,
		},
	)

	campaigns := campaign.NewService(
		repository.NewCampaignRepository(database.DB),
		repository.NewSegmentRepository(database.DB),
		snapshots,
		logger,
		m,
	)

	apiServer := api.NewServer(segments, campaigns, &cfg.API, m, logger.With("component", "api"))

	return &App{
		config:    cfg,
		database:  database,
		boltDB:    boltDB,
		apiServer: apiServer,
		metrics:   m,
		segments:  segments,
		campaigns: campaigns,
		logger:    logger,
	}, nil
}

// Segments exposes the segment service for offline commands.
func (a *App) Segments() *segment.Service {
	return a.segments
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting segmentry",
		"hostname", a.config.Server.Hostname,
		"api_addr", a.config.API.ListenAddr,
		"database", a.config.Database.Path,
	)

	// Create context that listens for signals
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 2)

	// Start API server
	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	// Start metrics server if enabled
	if a.metrics != nil {
		mux := http.NewServeMux()
		mux.Handle(a.config.Metrics.Path, a.metrics.Handler())
		a.metricsServer = &http.Server{
			Addr:    a.config.Metrics.ListenAddr,
			Handler: mux,
		}
		go func() {
			a.logger.Info("starting metrics server", "addr", a.config.Metrics.ListenAddr, "path", a.config.Metrics.Path)
			if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	// Graceful shutdown
	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	if err := a.boltDB.Close(); err != nil {
		a.logger.Error("snapshot store close error", "error", err)
	}
	if err := a.database.Close(); err != nil {
		a.logger.Error("database close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// Close releases resources without the graceful server shutdown; offline
// commands use it instead of Run.
func (a *App) Close() {
	a.boltDB.Close()
	a.database.Close()
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
