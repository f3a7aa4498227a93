package database

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/meter-lab/internal/layers"
)

// ConfigLayer is a stored universal, type or model layer. Only one universal
// layer is active at a time.
type ConfigLayer struct {
	layers.Layer
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Photo is one uploaded meter photo. ExactHash is the dedup key;
// PerceptualHash is empty when the bytes could not be decoded.
type Photo struct {
	ID             string          `json:"id"`
	FolderID       string          `json:"folder_id"`
	Ref            string          `json:"ref"`
	ExactHash      string          `json:"exact_hash"`
	PerceptualHash string          `json:"perceptual_hash,omitempty"`
	GroundTruth    json.RawMessage `json:"ground_truth,omitempty"`
	Status         PhotoStatus     `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
}

// HasGroundTruth reports whether an expected result is attached.
func (p *Photo) HasGroundTruth() bool {
	return len(p.GroundTruth) > 0 && string(p.GroundTruth) != "null"
}

// NearDuplicate is an existing photo whose perceptual hash is close to a new one.
type NearDuplicate struct {
	PhotoID  string `json:"photo_id"`
	Ref      string `json:"ref"`
	Distance int    `json:"distance"`
}

// Folder is a named collection of photos for one meter model under test.
type Folder struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	TypeConfigID      string       `json:"type_config_id,omitempty"`
	ModelConfigID     string       `json:"model_config_id,omitempty"`
	Status            FolderStatus `json:"status"`
	MinPhotosRequired int          `json:"min_photos_required"`
	ProductionModelID string       `json:"production_model_id,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// ProductionModel is a promoted configuration in production use.
type ProductionModel struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	FolderID         string    `json:"folder_id"`
	UniversalVersion int       `json:"universal_version"`
	TypeConfigID     string    `json:"type_config_id,omitempty"`
	ModelConfigID    string    `json:"model_config_id,omitempty"`
	SourceBatchID    string    `json:"source_batch_id,omitempty"`
	Accuracy         float64   `json:"accuracy"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Batch groups the runs created together under one EffectiveConfig. The
// counters are denormalized and recomputed from the runs.
type Batch struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	FolderID      string      `json:"folder_id,omitempty"`
	ConfigKey     layers.Key  `json:"config_key"`
	UniversalOnly bool        `json:"universal_only"`
	Status        BatchStatus `json:"status"`
	Total         int         `json:"total"`
	Completed     int         `json:"completed"`
	Evaluated     int         `json:"evaluated"`
	Correct       int         `json:"correct"`
	Failed        int         `json:"failed"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
}

// ConfigID identifies the batch's configuration.
func (b *Batch) ConfigID() string {
	return ConfigID(b.ConfigKey)
}

// ConfigID renders the identity of a composed configuration. Universal-only
// (baseline) configs carry a "/baseline" suffix.
func ConfigID(key layers.Key) string {
	if key.UniversalOnly() {
		return key.String() + "/baseline"
	}
	return key.String()
}

// BaselineConfigID returns the baseline config id sharing configID's
// universal version. ok is false when configID is malformed.
func BaselineConfigID(configID string) (string, bool) {
	prefix, _, found := strings.Cut(configID, "/")
	if !found || len(prefix) < 2 || prefix[0] != 'u' {
		return "", false
	}
	version, err := strconv.Atoi(prefix[1:])
	if err != nil {
		return "", false
	}
	return ConfigID(layers.Key{UniversalVersion: version}), true
}

// RunResult is the outcome of one EffectiveConfig against one Photo.
type RunResult struct {
	ID           string          `json:"id"`
	BatchID      string          `json:"batch_id,omitempty"`
	Seq          int             `json:"seq"`
	PhotoID      string          `json:"photo_id"`
	FolderID     string          `json:"folder_id,omitempty"`
	ConfigID     string          `json:"config_id"`
	Status       RunStatus       `json:"status"`
	Actual       json.RawMessage `json:"actual,omitempty"`
	Reading      string          `json:"reading,omitempty"`
	Confidence   *float64        `json:"confidence,omitempty"`
	Correct      *bool           `json:"correct,omitempty"`
	ModelMatched bool            `json:"model_matched"`
	NeedsReview  bool            `json:"needs_review"`
	LatencyMS    int64           `json:"latency_ms"`
	InputTokens  int             `json:"input_tokens"`
	OutputTokens int             `json:"output_tokens"`
	Cost         float64         `json:"cost"`
	Model        string          `json:"model,omitempty"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	EvaluatedAt  *time.Time      `json:"evaluated_at,omitempty"`
}

// IsTerminal reports whether the run has finished executing.
func (r *RunResult) IsTerminal() bool {
	return r.Status == RunCompleted || r.Status == RunFailed || r.Status == RunEvaluated
}

// Correction is a human error classification attached to an incorrect run.
type Correction struct {
	ID            string    `json:"id"`
	RunID         string    `json:"run_id"`
	ConfigID      string    `json:"config_id"`
	ErrorCategory string    `json:"error_category"`
	Details       string    `json:"details,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Comparison is an immutable record of an A/B evaluation.
type Comparison struct {
	ID        string          `json:"id"`
	ConfigA   string          `json:"config_a"`
	ConfigB   string          `json:"config_b"`
	Winner    string          `json:"winner"`
	Delta     *float64        `json:"accuracy_delta"`
	Threshold float64         `json:"threshold"`
	Stats     json.RawMessage `json:"stats"`
	CreatedAt time.Time       `json:"created_at"`
}

// RunFilter selects runs. Zero-valued fields do not filter.
type RunFilter struct {
	BatchID  string
	FolderID string
	ConfigID string
	From     time.Time
	To       time.Time
	Statuses []RunStatus
}
