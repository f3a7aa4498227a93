package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kozaktomas/meter-lab/internal/database"
)

// Reader is the persistence needed to aggregate stored runs.
type Reader interface {
	ListRuns(ctx context.Context, filter database.RunFilter) ([]database.RunResult, error)
	ListCorrections(ctx context.Context, configID string) ([]database.Correction, error)
}

// Scope selects the runs to aggregate. Empty fields do not filter.
// BaselineConfigID flags the config a ConfigID scope is compared against;
// when empty the universal-only config of the same version is used.
type Scope struct {
	BatchID          string    `json:"batch_id,omitempty"`
	FolderID         string    `json:"folder_id,omitempty"`
	ConfigID         string    `json:"config_id,omitempty"`
	BaselineConfigID string    `json:"baseline_config_id,omitempty"`
	From             time.Time `json:"from,omitzero"`
	To               time.Time `json:"to,omitzero"`
}

func (s Scope) filter() database.RunFilter {
	return database.RunFilter{
		BatchID:  s.BatchID,
		FolderID: s.FolderID,
		ConfigID: s.ConfigID,
		From:     s.From,
		To:       s.To,
	}
}

// ForScope aggregates the stored runs of scope, attaching error patterns
// and, for a config scope, the baseline comparison.
func ForScope(ctx context.Context, store Reader, scope Scope) (Stats, error) {
	runs, err := store.ListRuns(ctx, scope.filter())
	if err != nil {
		return Stats{}, fmt.Errorf("listing runs: %w", err)
	}
	window := Window{From: scope.From, To: scope.To}
	s := Aggregate(runs, window)

	corrections, err := store.ListCorrections(ctx, scope.ConfigID)
	if err != nil {
		return Stats{}, fmt.Errorf("listing corrections: %w", err)
	}
	s.ErrorPatterns = ErrorPatterns(inScope(corrections, runs))

	if scope.ConfigID == "" {
		return s, nil
	}
	baselineID, ok := scope.baseline()
	if !ok || baselineID == scope.ConfigID {
		return s, nil
	}
	baselineRuns, err := store.ListRuns(ctx, database.RunFilter{ConfigID: baselineID, From: scope.From, To: scope.To})
	if err != nil {
		return Stats{}, fmt.Errorf("listing baseline runs: %w", err)
	}
	s.Baseline = CompareBaseline(s, scope.ConfigID, Aggregate(baselineRuns, window), baselineID)
	return s, nil
}

func (s Scope) baseline() (string, bool) {
	if s.BaselineConfigID != "" {
		return s.BaselineConfigID, true
	}
	return database.BaselineConfigID(s.ConfigID)
}

// inScope keeps corrections whose run is among runs.
func inScope(corrections []database.Correction, runs []database.RunResult) []database.Correction {
	ids := make(map[string]struct{}, len(runs))
	for i := range runs {
		ids[runs[i].ID] = struct{}{}
	}
	var out []database.Correction
	for _, c := range corrections {
		if _, ok := ids[c.RunID]; ok {
			out = append(out, c)
		}
	}
	return out
}

// ComparisonStats is the payload stored with a comparison record.
type ComparisonStats struct {
	A Stats `json:"a"`
	B Stats `json:"b"`
}

// ComparisonStore is the persistence needed to record comparisons.
type ComparisonStore interface {
	Reader
	CreateComparison(ctx context.Context, c *database.Comparison) error
}

// Compare aggregates two configs over the same window, decides the winner
// and stores the comparison record.
func Compare(ctx context.Context, store ComparisonStore, configA, configB string, window Window, threshold float64) (*database.Comparison, ComparisonStats, error) {
	var stats ComparisonStats
	var err error
	if stats.A, err = ForScope(ctx, store, Scope{ConfigID: configA, From: window.From, To: window.To}); err != nil {
		return nil, stats, fmt.Errorf("config A: %w", err)
	}
	if stats.B, err = ForScope(ctx, store, Scope{ConfigID: configB, From: window.From, To: window.To}); err != nil {
		return nil, stats, fmt.Errorf("config B: %w", err)
	}

	winner, delta := DecideWinner(stats.A.AccuracyRate, stats.B.AccuracyRate, threshold)
	payload, err := json.Marshal(stats)
	if err != nil {
		return nil, stats, fmt.Errorf("encoding stats: %w", err)
	}

	c := &database.Comparison{
		ConfigA:   configA,
		ConfigB:   configB,
		Winner:    string(winner),
		Delta:     delta,
		Threshold: threshold,
		Stats:     payload,
	}
	if err := store.CreateComparison(ctx, c); err != nil {
		return nil, stats, fmt.Errorf("saving comparison: %w", err)
	}
	return c, stats, nil
}
