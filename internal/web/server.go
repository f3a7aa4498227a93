package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/kozaktomas/meter-lab/internal/ai"
	"github.com/kozaktomas/meter-lab/internal/batch"
	"github.com/kozaktomas/meter-lab/internal/config"
	"github.com/kozaktomas/meter-lab/internal/database"
	"github.com/kozaktomas/meter-lab/internal/objectstore"
	"github.com/kozaktomas/meter-lab/internal/promotion"
	"github.com/kozaktomas/meter-lab/internal/recognition"
	"github.com/kozaktomas/meter-lab/internal/web/handlers"
	"github.com/kozaktomas/meter-lab/internal/web/middleware"
)

// Engine holds the collaborators the API drives.
type Engine struct {
	Store    database.Store
	Provider ai.Provider
	Objects  objectstore.Store
}

// Server represents the web server
type Server struct {
	config       *config.Config
	router       *chi.Mux
	httpServer   *http.Server
	jobManager   *handlers.JobManager
	store        database.Store
	provider     ai.Provider
	objects      objectstore.Store
	resolver     *batch.Resolver
	orchestrator *batch.Orchestrator
	ingester     *batch.Ingester
	gate         *promotion.Gate
	log          zerolog.Logger
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, engine Engine, log zerolog.Logger) *Server {
	r := chi.NewRouter()

	runner := recognition.NewRunner(engine.Provider, engine.Objects, log.With().Str("component", "runner").Logger())
	gate := promotion.NewGate(engine.Store, promotion.Policy{
		MinPhotosRequired: cfg.Recognition.MinPhotosRequired,
		AccuracyFloor:     cfg.Recognition.PromotionAccuracyFloor,
	}, log.With().Str("component", "promotion").Logger())

	s := &Server{
		config:       cfg,
		router:       r,
		jobManager:   handlers.NewJobManager(),
		store:        engine.Store,
		provider:     engine.Provider,
		objects:      engine.Objects,
		resolver:     batch.NewResolver(engine.Store, nil),
		orchestrator: batch.New(engine.Store, runner, log.With().Str("component", "batch").Logger()),
		ingester:     batch.NewIngester(engine.Store, engine.Objects, log.With().Str("component", "ingest").Logger()),
		gate:         gate,
		log:          log,
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(hlog.NewHandler(log.With().Str("component", "web").Logger()))
	r.Use(middleware.CORS(cfg.Web.AllowedOrigins))
	r.Use(middleware.SecurityHeaders())

	// Set up routes
	s.setupRoutes()

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE streams stay open for the whole batch
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("starting web server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and aborts running batch jobs. Aborted
// batches stay running in the store and can be resumed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down web server")

	s.jobManager.AbortAll()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
