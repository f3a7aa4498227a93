package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/meter-lab/internal/batch"
	"github.com/kozaktomas/meter-lab/internal/database"
	"github.com/kozaktomas/meter-lab/internal/promotion"
)

// FoldersHandler handles folder, upload and promotion endpoints.
type FoldersHandler struct {
	store    database.Store
	ingester *batch.Ingester
	gate     *promotion.Gate
}

// NewFoldersHandler creates a new folders handler.
func NewFoldersHandler(store database.Store, ingester *batch.Ingester, gate *promotion.Gate) *FoldersHandler {
	return &FoldersHandler{
		store:    store,
		ingester: ingester,
		gate:     gate,
	}
}

// CreateFolderRequest creates a draft folder for one meter model.
type CreateFolderRequest struct {
	Name              string `json:"name" validate:"required,max=200"`
	TypeConfigID      string `json:"type_config_id"`
	ModelConfigID     string `json:"model_config_id"`
	MinPhotosRequired int    `json:"min_photos_required" validate:"gte=0"`
}

// Create stores a new draft folder.
func (h *FoldersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateFolderRequest
	if err := bindJSON(w, r, &req); err != nil {
		respondFailure(w, r, err)
		return
	}

	folder := &database.Folder{
		Name:              req.Name,
		TypeConfigID:      req.TypeConfigID,
		ModelConfigID:     req.ModelConfigID,
		Status:            database.FolderDraft,
		MinPhotosRequired: req.MinPhotosRequired,
	}
	if err := h.store.CreateFolder(r.Context(), folder); err != nil {
		respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, folder)
}

// Get returns a folder.
func (h *FoldersHandler) Get(w http.ResponseWriter, r *http.Request) {
	folder, err := h.store.GetFolder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, folder)
}

// UploadPhoto ingests one photo into the folder. The multipart form carries
// the image in "file" and optional JSON ground truth in "ground_truth". A
// byte-identical upload returns the stored photo with 200 instead of 201.
func (h *FoldersHandler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	folderID := chi.URLParam(r, "id")
	if _, err := h.store.GetFolder(r.Context(), folderID); err != nil {
		respondFailure(w, r, err)
		return
	}

	data, err := readUpload(w, r, "file")
	if err != nil {
		respondFailure(w, r, err)
		return
	}

	var groundTruth json.RawMessage
	if raw := r.FormValue("ground_truth"); raw != "" {
		if !json.Valid([]byte(raw)) {
			respondError(w, http.StatusBadRequest, "ground_truth must be valid JSON")
			return
		}
		groundTruth = json.RawMessage(raw)
	}

	result, err := h.ingester.Ingest(r.Context(), batch.IngestRequest{
		FolderID:    folderID,
		Data:        data,
		GroundTruth: groundTruth,
	})
	if err != nil {
		respondFailure(w, r, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	respondJSON(w, status, result)
}

// StartTesting moves the folder into testing once it holds enough photos.
func (h *FoldersHandler) StartTesting(w http.ResponseWriter, r *http.Request) {
	folder, err := h.gate.StartTesting(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, folder)
}

// Eligibility reports which promotion conditions the folder meets.
func (h *FoldersHandler) Eligibility(w http.ResponseWriter, r *http.Request) {
	e, err := h.gate.Eligibility(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, e)
}

// PromoteRequest names the production model.
type PromoteRequest struct {
	Name string `json:"name" validate:"max=200"`
}

// Promote turns the folder's best completed test into a production model.
func (h *FoldersHandler) Promote(w http.ResponseWriter, r *http.Request) {
	var req PromoteRequest
	if r.ContentLength != 0 {
		if err := bindJSON(w, r, &req); err != nil {
			respondFailure(w, r, err)
			return
		}
	}

	result, err := h.gate.Promote(r.Context(), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		respondFailure(w, r, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	respondJSON(w, status, result)
}
