package handlers

import (
	"net/http"
	"time"

	"github.com/kozaktomas/meter-lab/internal/database"
	"github.com/kozaktomas/meter-lab/internal/metrics"
)

// StatsHandler handles accuracy statistics and A/B comparisons.
type StatsHandler struct {
	store     database.Store
	threshold float64
}

// NewStatsHandler creates a new stats handler. threshold is the default
// materiality threshold for comparisons.
func NewStatsHandler(store database.Store, threshold float64) *StatsHandler {
	return &StatsHandler{
		store:     store,
		threshold: threshold,
	}
}

// Get aggregates the runs selected by the batch_id, folder_id, config_id,
// from and to query parameters. Times are RFC 3339. baseline names the
// config a config_id scope is compared against.
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope := metrics.Scope{
		BatchID:          q.Get("batch_id"),
		FolderID:         q.Get("folder_id"),
		ConfigID:         q.Get("config_id"),
		BaselineConfigID: q.Get("baseline"),
	}

	var err error
	if scope.From, err = parseTimeParam(q.Get("from")); err != nil {
		respondError(w, http.StatusBadRequest, "invalid from: "+err.Error())
		return
	}
	if scope.To, err = parseTimeParam(q.Get("to")); err != nil {
		respondError(w, http.StatusBadRequest, "invalid to: "+err.Error())
		return
	}
	if !scope.From.IsZero() && !scope.To.IsZero() && scope.To.Before(scope.From) {
		respondError(w, http.StatusBadRequest, "to is before from")
		return
	}

	stats, err := metrics.ForScope(r.Context(), h.store, scope)
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func parseTimeParam(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

// CompareRequest selects the two configs to compare.
type CompareRequest struct {
	ConfigA   string     `json:"config_a" validate:"required"`
	ConfigB   string     `json:"config_b" validate:"required,nefield=ConfigA"`
	From      *time.Time `json:"from"`
	To        *time.Time `json:"to"`
	Threshold *float64   `json:"threshold" validate:"omitempty,gte=0,lte=1"`
}

// CompareResponse is the stored comparison with both sides' stats.
type CompareResponse struct {
	Comparison *database.Comparison    `json:"comparison"`
	Stats      metrics.ComparisonStats `json:"stats"`
}

// Compare runs an A/B comparison between two configs and stores the outcome.
func (h *StatsHandler) Compare(w http.ResponseWriter, r *http.Request) {
	var req CompareRequest
	if err := bindJSON(w, r, &req); err != nil {
		respondFailure(w, r, err)
		return
	}

	var window metrics.Window
	if req.From != nil {
		window.From = *req.From
	}
	if req.To != nil {
		window.To = *req.To
	}
	threshold := h.threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	comparison, stats, err := metrics.Compare(r.Context(), h.store, req.ConfigA, req.ConfigB, window, threshold)
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, CompareResponse{Comparison: comparison, Stats: stats})
}
