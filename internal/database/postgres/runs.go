package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/kozaktomas/meter-lab/internal/database"
)

// RunRepository provides PostgreSQL-backed run result storage
type RunRepository struct {
	pool *Pool
}

// NewRunRepository creates a new PostgreSQL run repository
func NewRunRepository(pool *Pool) *RunRepository {
	return &RunRepository{pool: pool}
}

const runColumns = `id, COALESCE(batch_id::text, ''), seq, photo_id, COALESCE(folder_id::text, ''), config_id, status,
	actual, reading, confidence, correct, model_matched, needs_review, latency_ms, input_tokens, output_tokens,
	cost, model, error, created_at, updated_at, evaluated_at`

func scanRun(row rowScanner) (*database.RunResult, error) {
	var (
		run    database.RunResult
		actual []byte
	)
	err := row.Scan(
		&run.ID,
		&run.BatchID,
		&run.Seq,
		&run.PhotoID,
		&run.FolderID,
		&run.ConfigID,
		&run.Status,
		&actual,
		&run.Reading,
		&run.Confidence,
		&run.Correct,
		&run.ModelMatched,
		&run.NeedsReview,
		&run.LatencyMS,
		&run.InputTokens,
		&run.OutputTokens,
		&run.Cost,
		&run.Model,
		&run.Error,
		&run.CreatedAt,
		&run.UpdatedAt,
		&run.EvaluatedAt,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with query context
	}
	if len(actual) > 0 {
		run.Actual = actual
	}
	return &run, nil
}

// CreateRuns inserts all runs in one transaction, in slice order
func (r *RunRepository) CreateRuns(ctx context.Context, runs []*database.RunResult) error {
	if len(runs) == 0 {
		return nil
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_results (id, batch_id, seq, photo_id, folder_id, config_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`)
	if err != nil {
		return fmt.Errorf("prepare run insert: %w", err)
	}
	defer stmt.Close()

	for _, run := range runs {
		if run.ID == "" {
			run.ID = uuid.NewString()
		}
		if run.Status == "" {
			run.Status = database.RunPending
		}
		err := stmt.QueryRowContext(ctx,
			run.ID, nullString(run.BatchID), run.Seq, run.PhotoID, nullString(run.FolderID), run.ConfigID, run.Status,
		).Scan(&run.CreatedAt, &run.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert run for photo %s: %w", run.PhotoID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit runs: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID
func (r *RunRepository) GetRun(ctx context.Context, id string) (*database.RunResult, error) {
	run, err := scanRun(r.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM run_results WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// UpdateRun persists the run's outcome fields
func (r *RunRepository) UpdateRun(ctx context.Context, run *database.RunResult) error {
	query := `
		UPDATE run_results SET
			status = $2,
			actual = $3,
			reading = $4,
			confidence = $5,
			correct = $6,
			model_matched = $7,
			needs_review = $8,
			latency_ms = $9,
			input_tokens = $10,
			output_tokens = $11,
			cost = $12,
			model = $13,
			error = $14,
			evaluated_at = $15,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		run.ID, run.Status, nullJSON(run.Actual), run.Reading, run.Confidence, run.Correct,
		run.ModelMatched, run.NeedsReview, run.LatencyMS, run.InputTokens, run.OutputTokens,
		run.Cost, run.Model, run.Error, run.EvaluatedAt,
	).Scan(&run.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("run %s: %w", run.ID, database.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// ListRuns returns runs matching filter, ordered by creation time then batch sequence
func (r *RunRepository) ListRuns(ctx context.Context, filter database.RunFilter) ([]database.RunResult, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.BatchID != "" {
		add("batch_id = $%d", filter.BatchID)
	}
	if filter.FolderID != "" {
		add("folder_id = $%d", filter.FolderID)
	}
	if filter.ConfigID != "" {
		add("config_id = $%d", filter.ConfigID)
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at < $%d", filter.To)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY($%d)", pq.Array(statuses))
	}

	query := `SELECT ` + runColumns + ` FROM run_results`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at, batch_id, seq`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var result []database.RunResult
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		result = append(result, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return result, nil
}
