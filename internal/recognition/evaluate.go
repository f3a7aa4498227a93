package recognition

import (
	"context"
	"fmt"
	"time"

	"github.com/kozaktomas/meter-lab/internal/database"
)

// UncategorizedError is the category recorded for incorrect runs without one.
const UncategorizedError = "uncategorized"

// Verdict is a human correctness judgment for one run.
type Verdict struct {
	Correct       bool   `json:"correct"`
	ErrorCategory string `json:"error_category,omitempty"`
	Details       string `json:"details,omitempty"`
}

// EvaluationStore is the persistence needed to record verdicts.
type EvaluationStore interface {
	GetRun(ctx context.Context, id string) (*database.RunResult, error)
	UpdateRun(ctx context.Context, run *database.RunResult) error
	SaveCorrection(ctx context.Context, c *database.Correction) error
	DeleteCorrection(ctx context.Context, runID string) error
}

// Evaluate attaches a verdict to a completed (or already evaluated) run. An
// incorrect run keeps exactly one correction for error-pattern analysis; a
// run re-judged correct loses its correction.
func Evaluate(ctx context.Context, store EvaluationStore, runID string, v Verdict, now time.Time) (*database.RunResult, error) {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if err := Transition(run, database.RunEvaluated); err != nil {
		return nil, err
	}

	correct := v.Correct
	run.Correct = &correct
	evaluatedAt := now.UTC()
	run.EvaluatedAt = &evaluatedAt

	if err := store.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to save verdict: %w", err)
	}

	if v.Correct {
		if err := store.DeleteCorrection(ctx, run.ID); err != nil {
			return nil, fmt.Errorf("failed to clear correction: %w", err)
		}
		return run, nil
	}

	category := v.ErrorCategory
	if category == "" {
		category = UncategorizedError
	}
	err = store.SaveCorrection(ctx, &database.Correction{
		RunID:         run.ID,
		ConfigID:      run.ConfigID,
		ErrorCategory: category,
		Details:       v.Details,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save correction: %w", err)
	}
	return run, nil
}
