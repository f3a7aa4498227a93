package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/meter-lab/internal/database"
)

// BatchRepository provides PostgreSQL-backed batch storage
type BatchRepository struct {
	pool *Pool
}

// NewBatchRepository creates a new PostgreSQL batch repository
func NewBatchRepository(pool *Pool) *BatchRepository {
	return &BatchRepository{pool: pool}
}

const batchColumns = `id, name, COALESCE(folder_id::text, ''), universal_version, type_config_id, model_config_id,
	universal_only, status, total, completed, evaluated, correct, failed, created_at, updated_at, completed_at`

func scanBatch(row rowScanner) (*database.Batch, error) {
	var b database.Batch
	err := row.Scan(
		&b.ID,
		&b.Name,
		&b.FolderID,
		&b.ConfigKey.UniversalVersion,
		&b.ConfigKey.TypeConfigID,
		&b.ConfigKey.ModelConfigID,
		&b.UniversalOnly,
		&b.Status,
		&b.Total,
		&b.Completed,
		&b.Evaluated,
		&b.Correct,
		&b.Failed,
		&b.CreatedAt,
		&b.UpdatedAt,
		&b.CompletedAt,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with query context
	}
	return &b, nil
}

// CreateBatch inserts a new batch
func (r *BatchRepository) CreateBatch(ctx context.Context, batch *database.Batch) error {
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	if batch.Status == "" {
		batch.Status = database.BatchDraft
	}

	query := `
		INSERT INTO batches (id, name, folder_id, universal_version, type_config_id, model_config_id,
			universal_only, status, total, completed, evaluated, correct, failed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		batch.ID, batch.Name, nullString(batch.FolderID),
		batch.ConfigKey.UniversalVersion, batch.ConfigKey.TypeConfigID, batch.ConfigKey.ModelConfigID,
		batch.UniversalOnly, batch.Status,
		batch.Total, batch.Completed, batch.Evaluated, batch.Correct, batch.Failed,
	).Scan(&batch.CreatedAt, &batch.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create batch: %w", err)
	}
	return nil
}

// GetBatch retrieves a batch by ID
func (r *BatchRepository) GetBatch(ctx context.Context, id string) (*database.Batch, error) {
	b, err := scanBatch(r.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch %s: %w", id, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return b, nil
}

// UpdateBatchCounters persists the run counters. Status is owned by
// SetBatchStatus so a concurrent cancel is never overwritten.
func (r *BatchRepository) UpdateBatchCounters(ctx context.Context, batch *database.Batch) error {
	query := `
		UPDATE batches SET
			total = $2,
			completed = $3,
			evaluated = $4,
			correct = $5,
			failed = $6,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		batch.ID, batch.Total, batch.Completed, batch.Evaluated, batch.Correct, batch.Failed,
	).Scan(&batch.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("batch %s: %w", batch.ID, database.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update batch counters: %w", err)
	}
	return nil
}

// SetBatchStatus moves a batch that is not completed or cancelled to status
func (r *BatchRepository) SetBatchStatus(ctx context.Context, id string, status database.BatchStatus, completedAt *time.Time) (bool, error) {
	query := `
		UPDATE batches SET
			status = $2,
			completed_at = COALESCE($3, completed_at),
			updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('completed', 'cancelled')
	`

	res, err := r.pool.Exec(ctx, query, id, status, completedAt)
	if err != nil {
		return false, fmt.Errorf("set batch status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set batch status: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	// Nothing changed: either the batch is closed or it does not exist.
	if _, err := r.GetBatch(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// ListBatchesByFolder returns a folder's batches, newest first
func (r *BatchRepository) ListBatchesByFolder(ctx context.Context, folderID string) ([]database.Batch, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE folder_id = $1 ORDER BY created_at DESC`, folderID)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var result []database.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		result = append(result, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return result, nil
}

// DeleteBatch removes a batch; its runs and their corrections cascade
func (r *BatchRepository) DeleteBatch(ctx context.Context, id string) error {
	res, err := r.pool.Exec(ctx, "DELETE FROM batches WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	return expectOne(res, "batch "+id)
}
