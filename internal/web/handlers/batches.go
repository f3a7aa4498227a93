package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/kozaktomas/meter-lab/internal/batch"
	"github.com/kozaktomas/meter-lab/internal/database"
	"github.com/kozaktomas/meter-lab/internal/layers"
	"github.com/kozaktomas/meter-lab/internal/promotion"
)

// BatchesHandler starts batches in the background and reports on them.
type BatchesHandler struct {
	store        database.Store
	resolver     *batch.Resolver
	orchestrator *batch.Orchestrator
	gate         *promotion.Gate
	jobManager   *JobManager
	log          zerolog.Logger
}

// NewBatchesHandler creates a new batches handler.
func NewBatchesHandler(store database.Store, resolver *batch.Resolver, orchestrator *batch.Orchestrator, gate *promotion.Gate, jm *JobManager, log zerolog.Logger) *BatchesHandler {
	return &BatchesHandler{
		store:        store,
		resolver:     resolver,
		orchestrator: orchestrator,
		gate:         gate,
		jobManager:   jm,
		log:          log,
	}
}

// StartBatchRequest tests a folder's photos against its config.
type StartBatchRequest struct {
	Name          string   `json:"name" validate:"max=200"`
	FolderID      string   `json:"folder_id" validate:"required"`
	PhotoIDs      []string `json:"photo_ids" validate:"omitempty,dive,required"`
	UniversalOnly bool     `json:"universal_only"`
}

// BatchResponse is a stored batch with its in-process job, if any.
type BatchResponse struct {
	Batch *database.Batch `json:"batch"`
	Job   *JobView        `json:"job,omitempty"`
}

// Start creates a batch over the folder's photos, or the listed subset in
// the given order, and executes it in the background.
func (h *BatchesHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartBatchRequest
	if err := bindJSON(w, r, &req); err != nil {
		respondFailure(w, r, err)
		return
	}

	folder, err := h.store.GetFolder(r.Context(), req.FolderID)
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	photos, err := h.selectPhotos(r.Context(), folder.ID, req.PhotoIDs)
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	cfg, err := h.resolver.ForFolder(r.Context(), folder, req.UniversalOnly)
	if err != nil {
		respondFailure(w, r, err)
		return
	}

	name := req.Name
	if name == "" {
		name = folder.Name + " " + batch.ConfigIDOf(cfg)
	}
	b, err := h.orchestrator.Create(r.Context(), batch.Request{
		Name:     name,
		FolderID: folder.ID,
		Photos:   photos,
		Config:   cfg,
	})
	if err != nil {
		respondFailure(w, r, err)
		return
	}

	job, _ := h.startJob(b, cfg)
	view := job.View()
	respondJSON(w, http.StatusAccepted, BatchResponse{Batch: b, Job: &view})
}

// selectPhotos returns the folder's photos, or the requested ones in request
// order.
func (h *BatchesHandler) selectPhotos(ctx context.Context, folderID string, ids []string) ([]database.Photo, error) {
	all, err := h.store.ListPhotosByFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return all, nil
	}

	byID := make(map[string]database.Photo, len(all))
	for _, p := range all {
		byID[p.ID] = p
	}
	photos := make([]database.Photo, 0, len(ids))
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			return nil, &bindError{msg: "photo " + id + " is not in folder " + folderID}
		}
		photos = append(photos, p)
	}
	return photos, nil
}

// Get returns the stored batch and its job, if one ran in this process.
func (h *BatchesHandler) Get(w http.ResponseWriter, r *http.Request) {
	b, err := h.store.GetBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondFailure(w, r, err)
		return
	}

	resp := BatchResponse{Batch: b}
	if job := h.jobManager.GetJob(b.ID); job != nil {
		view := job.View()
		resp.Job = &view
	}
	respondJSON(w, http.StatusOK, resp)
}

// Events streams batch progress via SSE
func (h *BatchesHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamSSEEvents(w, r,
		func(id string) SSEJob {
			job := h.jobManager.GetJob(id)
			if job == nil {
				return nil
			}
			return job
		},
		func(job SSEJob) any {
			return job.(*BatchJob).View()
		},
	)
}

// Resume re-executes the pending and failed runs of a stopped batch with the
// config it was created with.
func (h *BatchesHandler) Resume(w http.ResponseWriter, r *http.Request) {
	b, err := h.store.GetBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	if b.Status.IsTerminal() {
		respondFailure(w, r, batch.ErrBatchClosed)
		return
	}

	cfg, err := h.resolver.Resolve(r.Context(), b.ConfigKey, b.UniversalOnly)
	if err != nil {
		respondFailure(w, r, err)
		return
	}

	job, ok := h.startJob(b, cfg)
	if !ok {
		respondError(w, http.StatusConflict, "batch is already running")
		return
	}
	view := job.View()
	respondJSON(w, http.StatusAccepted, BatchResponse{Batch: b, Job: &view})
}

// Cancel stops submission of further runs. A run already in flight
// finishes and is stored. With ?purge=true a stopped batch is deleted
// instead, together with its runs.
func (h *BatchesHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("purge") == "true" {
		h.purge(w, r)
		return
	}

	b, err := h.orchestrator.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondFailure(w, r, err)
		return
	}

	resp := BatchResponse{Batch: b}
	if job := h.jobManager.GetJob(b.ID); job != nil {
		view := job.View()
		resp.Job = &view
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *BatchesHandler) purge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if job := h.jobManager.GetJob(id); job != nil {
		switch job.GetStatus() {
		case JobStatusPending, JobStatusRunning:
			// A cancelled job may still be storing its in-flight run.
			respondFailure(w, r, batch.ErrBatchRunning)
			return
		}
	}
	if err := h.orchestrator.Delete(r.Context(), id); err != nil {
		respondFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// startJob executes the batch in the background. It returns false with the
// existing job when the batch is already executing here.
func (h *BatchesHandler) startJob(b *database.Batch, cfg layers.EffectiveConfig) (*BatchJob, bool) {
	ctx, cancel := context.WithCancel(context.Background())
	job, ok := h.jobManager.StartJob(b.ID, b.Total, cancel)
	if !ok {
		cancel()
		return job, false
	}
	go h.runBatchJob(ctx, job, b.ID, cfg)
	return job, true
}

// runBatchJob runs the batch in the background
func (h *BatchesHandler) runBatchJob(ctx context.Context, job *BatchJob, batchID string, cfg layers.EffectiveConfig) {
	defer job.Abort()

	job.setRunning()
	b, err := h.orchestrator.Observe(job.progress).Execute(ctx, batchID, cfg)
	if errors.Is(err, batch.ErrBatchClosed) && b != nil {
		// Cancelled or completed before this job got to it.
		err = nil
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		h.log.Error().Err(err).Str("batch_id", batchID).Msg("batch job failed")
	}
	job.finish(b, err)
	advanceFolder(context.Background(), h.gate, b, h.log)
}
