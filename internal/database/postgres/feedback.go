package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kozaktomas/meter-lab/internal/database"
)

// FeedbackRepository stores human corrections and A/B comparison records
type FeedbackRepository struct {
	pool *Pool
}

// NewFeedbackRepository creates a new PostgreSQL feedback repository
func NewFeedbackRepository(pool *Pool) *FeedbackRepository {
	return &FeedbackRepository{pool: pool}
}

// SaveCorrection upserts the correction of an incorrect run. A run has at
// most one correction; the latest verdict replaces the previous one.
func (r *FeedbackRepository) SaveCorrection(ctx context.Context, c *database.Correction) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	query := `
		INSERT INTO corrections (id, run_id, config_id, error_category, details)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id) DO UPDATE SET
			config_id = EXCLUDED.config_id,
			error_category = EXCLUDED.error_category,
			details = EXCLUDED.details,
			created_at = NOW()
		RETURNING id, created_at
	`

	err := r.pool.QueryRow(ctx, query, c.ID, c.RunID, c.ConfigID, c.ErrorCategory, c.Details).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("save correction: %w", err)
	}
	return nil
}

// DeleteCorrection removes the correction of a run that was re-judged correct
func (r *FeedbackRepository) DeleteCorrection(ctx context.Context, runID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM corrections WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("delete correction: %w", err)
	}
	return nil
}

// ListCorrections returns corrections for a config, or all when configID is
// empty, oldest first
func (r *FeedbackRepository) ListCorrections(ctx context.Context, configID string) ([]database.Correction, error) {
	query := `
		SELECT id, run_id, config_id, error_category, details, created_at
		FROM corrections
		WHERE ($1 = '' OR config_id = $1)
		ORDER BY created_at, id
	`

	rows, err := r.pool.Query(ctx, query, configID)
	if err != nil {
		return nil, fmt.Errorf("list corrections: %w", err)
	}
	defer rows.Close()

	var result []database.Correction
	for rows.Next() {
		var c database.Correction
		if err := rows.Scan(&c.ID, &c.RunID, &c.ConfigID, &c.ErrorCategory, &c.Details, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan correction: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate corrections: %w", err)
	}
	return result, nil
}

// CreateComparison inserts an immutable comparison record
func (r *FeedbackRepository) CreateComparison(ctx context.Context, c *database.Comparison) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	query := `
		INSERT INTO comparisons (id, config_a, config_b, winner, accuracy_delta, threshold, stats)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`

	err := r.pool.QueryRow(ctx, query,
		c.ID, c.ConfigA, c.ConfigB, c.Winner, c.Delta, c.Threshold, string(c.Stats),
	).Scan(&c.CreatedAt)
	if err != nil {
		return fmt.Errorf("create comparison: %w", err)
	}
	return nil
}

// GetComparison retrieves a comparison by ID
func (r *FeedbackRepository) GetComparison(ctx context.Context, id string) (*database.Comparison, error) {
	query := `
		SELECT id, config_a, config_b, winner, accuracy_delta, threshold, stats, created_at
		FROM comparisons
		WHERE id = $1
	`

	var (
		c     database.Comparison
		stats []byte
	)
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&c.ID,
		&c.ConfigA,
		&c.ConfigB,
		&c.Winner,
		&c.Delta,
		&c.Threshold,
		&stats,
		&c.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("comparison %s: %w", id, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get comparison: %w", err)
	}
	c.Stats = stats
	return &c, nil
}
