package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/meter-lab/internal/batch"
	"github.com/kozaktomas/meter-lab/internal/database"
	"github.com/kozaktomas/meter-lab/internal/layers"
	"github.com/kozaktomas/meter-lab/internal/optional"
	"github.com/kozaktomas/meter-lab/internal/preprocess"
	"github.com/kozaktomas/meter-lab/internal/promotion"
)

// ConfigHandler handles configuration layer endpoints.
type ConfigHandler struct {
	store    database.LayerStore
	resolver *batch.Resolver
}

// NewConfigHandler creates a new config handler.
func NewConfigHandler(store database.LayerStore, resolver *batch.Resolver) *ConfigHandler {
	return &ConfigHandler{
		store:    store,
		resolver: resolver,
	}
}

// ComposeRequest selects the layers to compose. A zero universal version
// means the active universal layer.
type ComposeRequest struct {
	UniversalVersion int    `json:"universal_version" validate:"gte=0"`
	TypeConfigID     string `json:"type_config_id"`
	ModelConfigID    string `json:"model_config_id"`
	UniversalOnly    bool   `json:"universal_only"`
}

// ComposeResponse is the composed configuration.
type ComposeResponse struct {
	ConfigID string                 `json:"config_id"`
	Config   layers.EffectiveConfig `json:"config"`
	Params   preprocess.Params      `json:"params"`
	Steps    []preprocess.Step      `json:"steps"`
	Warning  string                 `json:"warning,omitempty"`
}

// Compose resolves and merges a layer chain.
func (h *ConfigHandler) Compose(w http.ResponseWriter, r *http.Request) {
	var req ComposeRequest
	if err := bindJSON(w, r, &req); err != nil {
		respondFailure(w, r, err)
		return
	}

	cfg, err := h.resolver.Resolve(r.Context(), layers.Key{
		UniversalVersion: req.UniversalVersion,
		TypeConfigID:     req.TypeConfigID,
		ModelConfigID:    req.ModelConfigID,
	}, req.UniversalOnly)
	if err != nil {
		respondFailure(w, r, err)
		return
	}

	params := cfg.Params()
	resp := ComposeResponse{
		ConfigID: batch.ConfigIDOf(cfg),
		Config:   cfg,
		Params:   params,
		Steps:    params.Steps(),
	}
	if err := params.Validate(); err != nil {
		resp.Warning = err.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}

// SaveLayerRequest creates or replaces a configuration layer.
type SaveLayerRequest struct {
	ID            string                  `json:"id"`
	Kind          layers.Kind             `json:"kind" validate:"required,oneof=universal type model"`
	Name          string                  `json:"name" validate:"required,max=200"`
	Version       int                     `json:"version" validate:"gte=0"`
	Prompt        optional.Value[string]  `json:"prompt"`
	Preprocessing preprocess.Overrides    `json:"preprocessing"`
	MinConfidence optional.Value[float64] `json:"min_confidence"`
	MultiPass     optional.Value[int]     `json:"multi_pass"`
}

// SaveLayer creates or replaces a layer and drops every composed config.
// Universal layers need a positive version.
func (h *ConfigHandler) SaveLayer(w http.ResponseWriter, r *http.Request) {
	var req SaveLayerRequest
	if err := bindJSON(w, r, &req); err != nil {
		respondFailure(w, r, err)
		return
	}
	if req.Kind == layers.KindUniversal && req.Version <= 0 {
		respondError(w, http.StatusBadRequest, "universal layers need a positive version")
		return
	}
	if err := req.Preprocessing.Resolve().Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if v, ok := req.MultiPass.Get(); ok && v < 1 {
		respondError(w, http.StatusBadRequest, "multi_pass must be at least 1")
		return
	}
	if v, ok := req.MinConfidence.Get(); ok && (v < 0 || v > 1) {
		respondError(w, http.StatusBadRequest, "min_confidence must be between 0 and 1")
		return
	}

	layer := &database.ConfigLayer{
		Layer: layers.Layer{
			Kind:          req.Kind,
			ID:            req.ID,
			Version:       req.Version,
			Prompt:        req.Prompt,
			Preprocessing: req.Preprocessing,
			MinConfidence: req.MinConfidence,
			MultiPass:     req.MultiPass,
		},
		Name: req.Name,
	}
	status := http.StatusCreated
	if req.ID != "" {
		existing, err := h.store.GetLayer(r.Context(), req.ID)
		switch {
		case err == nil:
			if existing.Kind != req.Kind {
				respondError(w, http.StatusBadRequest, fmt.Sprintf("layer %s is a %s layer", req.ID, existing.Kind))
				return
			}
			status = http.StatusOK
		case !errors.Is(err, database.ErrNotFound):
			respondFailure(w, r, err)
			return
		}
	}

	if err := h.store.SaveLayer(r.Context(), layer); err != nil {
		respondFailure(w, r, err)
		return
	}
	h.resolver.Cache().Invalidate()

	respondJSON(w, status, layer)
}

// ListLayers returns the layers of one kind, or all of them.
func (h *ConfigHandler) ListLayers(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	switch layers.Kind(kind) {
	case "", layers.KindUniversal, layers.KindType, layers.KindModel:
	default:
		respondError(w, http.StatusBadRequest, "kind must be universal, type or model")
		return
	}

	list, err := h.store.ListLayers(r.Context(), kind)
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	if list == nil {
		list = []database.ConfigLayer{}
	}
	respondJSON(w, http.StatusOK, list)
}

// ActivateUniversal makes one universal layer the active version.
func (h *ConfigHandler) ActivateUniversal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing layer ID")
		return
	}

	layer, err := promotion.ActivateUniversal(r.Context(), h.store, h.resolver.Cache(), id)
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, layer)
}
