package web

import (
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/meter-lab/internal/constants"
	"github.com/kozaktomas/meter-lab/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	// Create handlers
	configHandler := handlers.NewConfigHandler(s.store, s.resolver)
	foldersHandler := handlers.NewFoldersHandler(s.store, s.ingester, s.gate)
	duplicatesHandler := handlers.NewDuplicatesHandler(s.store, s.provider, s.objects, s.config.Recognition.DuplicateBatchSize, s.log.With().Str("component", "duplicate").Logger())
	runsHandler := handlers.NewRunsHandler(s.store, s.resolver, s.orchestrator, s.gate, s.log)
	batchesHandler := handlers.NewBatchesHandler(s.store, s.resolver, s.orchestrator, s.gate, s.jobManager, s.log)
	statsHandler := handlers.NewStatsHandler(s.store, s.config.Recognition.MaterialityThreshold)

	// Health check
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Batch progress streams are exempt from the request timeout.
		r.Get("/batches/{id}/events", batchesHandler.Events)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(constants.RequestTimeout))

			// Configuration layers
			r.Post("/compose", configHandler.Compose)
			r.Get("/layers", configHandler.ListLayers)
			r.Post("/layers", configHandler.SaveLayer)
			r.Put("/universal/{id}/activate", configHandler.ActivateUniversal)

			// Fingerprints and duplicate models
			r.Post("/fingerprint", handlers.Fingerprint)
			r.Post("/duplicates/check", duplicatesHandler.Check)

			// Folders and promotion
			r.Post("/folders", foldersHandler.Create)
			r.Get("/folders/{id}", foldersHandler.Get)
			r.Post("/folders/{id}/photos", foldersHandler.UploadPhoto)
			r.Post("/folders/{id}/testing", foldersHandler.StartTesting)
			r.Get("/folders/{id}/eligibility", foldersHandler.Eligibility)
			r.Post("/folders/{id}/promote", foldersHandler.Promote)

			// Runs
			r.Post("/runs", runsHandler.Create)
			r.Put("/runs/{id}/evaluation", runsHandler.Evaluate)

			// Batches (long-running, executed in the background)
			r.Post("/batches", batchesHandler.Start)
			r.Get("/batches/{id}", batchesHandler.Get)
			r.Post("/batches/{id}/resume", batchesHandler.Resume)
			r.Delete("/batches/{id}", batchesHandler.Cancel)

			// Metrics
			r.Get("/stats", statsHandler.Get)
			r.Post("/comparisons", statsHandler.Compare)
		})
	})
}
