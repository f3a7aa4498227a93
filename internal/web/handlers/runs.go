package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/kozaktomas/meter-lab/internal/batch"
	"github.com/kozaktomas/meter-lab/internal/database"
	"github.com/kozaktomas/meter-lab/internal/layers"
	"github.com/kozaktomas/meter-lab/internal/promotion"
	"github.com/kozaktomas/meter-lab/internal/recognition"
)

// RunsHandler handles single runs and their evaluation.
type RunsHandler struct {
	store        database.Store
	resolver     *batch.Resolver
	orchestrator *batch.Orchestrator
	gate         *promotion.Gate
	log          zerolog.Logger
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(store database.Store, resolver *batch.Resolver, orchestrator *batch.Orchestrator, gate *promotion.Gate, log zerolog.Logger) *RunsHandler {
	return &RunsHandler{
		store:        store,
		resolver:     resolver,
		orchestrator: orchestrator,
		gate:         gate,
		log:          log,
	}
}

// CreateRunRequest runs one photo through its folder's config.
type CreateRunRequest struct {
	PhotoID       string `json:"photo_id" validate:"required"`
	UniversalOnly bool   `json:"universal_only"`
}

// Create executes a single run outside any batch. Photos without a folder
// run against the active universal layer.
func (h *RunsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := bindJSON(w, r, &req); err != nil {
		respondFailure(w, r, err)
		return
	}

	photo, err := h.store.GetPhoto(r.Context(), req.PhotoID)
	if err != nil {
		respondFailure(w, r, err)
		return
	}

	var cfg layers.EffectiveConfig
	if photo.FolderID == "" {
		cfg, err = h.resolver.Resolve(r.Context(), layers.Key{}, true)
	} else {
		var folder *database.Folder
		if folder, err = h.store.GetFolder(r.Context(), photo.FolderID); err == nil {
			cfg, err = h.resolver.ForFolder(r.Context(), folder, req.UniversalOnly)
		}
	}
	if err != nil {
		respondFailure(w, r, err)
		return
	}

	run, err := h.orchestrator.RunSingle(r.Context(), photo.ID, cfg)
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, run)
}

// EvaluationResponse is an evaluated run and, for batch runs, the batch with
// refreshed counters.
type EvaluationResponse struct {
	Run   *database.RunResult `json:"run"`
	Batch *database.Batch     `json:"batch,omitempty"`
}

// Evaluate records a human verdict on a completed run.
func (h *RunsHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var verdict recognition.Verdict
	if err := bindJSON(w, r, &verdict); err != nil {
		respondFailure(w, r, err)
		return
	}

	run, err := recognition.Evaluate(r.Context(), h.store, chi.URLParam(r, "id"), verdict, time.Now().UTC())
	if err != nil {
		respondFailure(w, r, err)
		return
	}

	resp := EvaluationResponse{Run: run}
	if run.BatchID != "" {
		b, err := h.orchestrator.Refresh(r.Context(), run.BatchID)
		if err != nil {
			respondFailure(w, r, err)
			return
		}
		resp.Batch = b
		advanceFolder(r.Context(), h.gate, b, h.log)
	}
	respondJSON(w, http.StatusOK, resp)
}

// advanceFolder moves a testing folder to ready after one of its batches
// completes. Failures only get logged; the batch result stands.
func advanceFolder(ctx context.Context, gate *promotion.Gate, b *database.Batch, log zerolog.Logger) {
	if b == nil || b.FolderID == "" || b.Status != database.BatchCompleted {
		return
	}
	moved, err := gate.MarkReady(ctx, b.FolderID)
	if err != nil {
		log.Warn().Err(err).Str("folder_id", b.FolderID).Msg("checking folder readiness failed")
		return
	}
	if moved {
		log.Info().Str("folder_id", b.FolderID).Str("batch_id", b.ID).Msg("folder ready for promotion")
	}
}
