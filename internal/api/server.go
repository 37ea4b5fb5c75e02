package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/segmentry/internal/campaign"
	"github.com/foxzi/segmentry/internal/config"
	"github.com/foxzi/segmentry/internal/metrics"
	"github.com/foxzi/segmentry/internal/segment"
)

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	segments   *segment.Service
	campaigns  *campaign.Service
	config     *config.APIConfig
	metrics    *metrics.Metrics
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(segments *segment.Service, campaigns *campaign.Service, cfg *config.APIConfig, m *metrics.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		segments:  segments,
		campaigns: campaigns,
		config:    cfg,
		metrics:   m,
		logger:    logger,
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	// API v1 routes (auth required)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/catalog", s.handleCatalog)

		r.Route("/segments", func(r chi.Router) {
			r.Post("/", s.handleCreateSegment)
			r.Get("/", s.handleListSegments)
			r.Post("/resolve", s.handleResolve)
			r.Post("/recalculate-all", s.handleRecalculateAll)
			r.Get("/{id}", s.handleGetSegment)
			r.Put("/{id}", s.handleUpdateSegment)
			r.Delete("/{id}", s.handleDeleteSegment)
			r.Post("/{id}/recalculate", s.handleRecalculateSegment)
			r.Get("/{id}/members", s.handleSegmentMembers)
		})

		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", s.handleCreateCampaign)
			r.Get("/", s.handleListCampaigns)
			r.Get("/{id}", s.handleGetCampaign)
			r.Put("/{id}", s.handleUpdateCampaign)
			r.Delete("/{id}", s.handleDeleteCampaign)

			r.Post("/{id}/activate", s.handleActivateCampaign)
			r.Post("/{id}/resume", s.handleActivateCampaign)
			r.Post("/{id}/pause", s.handlePauseCampaign)
			r.Post("/{id}/complete", s.handleCompleteCampaign)
			r.Post("/{id}/archive", s.handleArchiveCampaign)

			r.Post("/{id}/steps", s.handleAddStep)
			r.Post("/{id}/audiences", s.handleAttachAudience)
			r.Get("/{id}/schedule", s.handleCampaignSchedule)
			r.Get("/{id}/reach", s.handleCampaignReach)
		})

		r.Put("/steps/{id}", s.handleUpdateStep)
		r.Delete("/steps/{id}", s.handleDeleteStep)
		r.Delete("/audiences/{id}", s.handleDetachAudience)
	})
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddr,
		Handler:        s.router,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
