package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kozaktomas/meter-lab/internal/database"
	"github.com/kozaktomas/meter-lab/internal/optional"
)

// LayerRepository provides PostgreSQL-backed configuration layer storage
type LayerRepository struct {
	pool *Pool
}

// NewLayerRepository creates a new PostgreSQL layer repository
func NewLayerRepository(pool *Pool) *LayerRepository {
	return &LayerRepository{pool: pool}
}

const layerColumns = `id, kind, name, version, prompt, preprocessing, min_confidence, multi_pass, active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLayer(row rowScanner) (*database.ConfigLayer, error) {
	var (
		l             database.ConfigLayer
		prompt        sql.NullString
		preprocessing []byte
		minConfidence sql.NullFloat64
		multiPass     sql.NullInt64
	)
	err := row.Scan(
		&l.ID,
		&l.Kind,
		&l.Name,
		&l.Version,
		&prompt,
		&preprocessing,
		&minConfidence,
		&multiPass,
		&l.Active,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with query context
	}

	if prompt.Valid {
		l.Prompt = optional.Some(prompt.String)
	}
	if minConfidence.Valid {
		l.MinConfidence = optional.Some(minConfidence.Float64)
	}
	if multiPass.Valid {
		l.MultiPass = optional.Some(int(multiPass.Int64))
	}
	if len(preprocessing) > 0 {
		if err := json.Unmarshal(preprocessing, &l.Preprocessing); err != nil {
			return nil, fmt.Errorf("decode preprocessing for layer %s: %w", l.ID, err)
		}
	}
	return &l, nil
}

func (r *LayerRepository) getOne(ctx context.Context, what, query string, args ...any) (*database.ConfigLayer, error) {
	l, err := scanLayer(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", what, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", what, err)
	}
	return l, nil
}

// GetLayer retrieves a layer by ID
func (r *LayerRepository) GetLayer(ctx context.Context, id string) (*database.ConfigLayer, error) {
	return r.getOne(ctx, "layer "+id,
		`SELECT `+layerColumns+` FROM config_layers WHERE id = $1`, id)
}

// GetUniversalByVersion retrieves the universal layer with the given version
func (r *LayerRepository) GetUniversalByVersion(ctx context.Context, version int) (*database.ConfigLayer, error) {
	return r.getOne(ctx, fmt.Sprintf("universal layer v%d", version),
		`SELECT `+layerColumns+` FROM config_layers WHERE kind = 'universal' AND version = $1`, version)
}

// GetActiveUniversal retrieves the active universal layer
func (r *LayerRepository) GetActiveUniversal(ctx context.Context) (*database.ConfigLayer, error) {
	return r.getOne(ctx, "active universal layer",
		`SELECT `+layerColumns+` FROM config_layers WHERE kind = 'universal' AND active`)
}

// ListLayers returns layers of one kind, or all layers when kind is empty
func (r *LayerRepository) ListLayers(ctx context.Context, kind string) ([]database.ConfigLayer, error) {
	query := `SELECT ` + layerColumns + ` FROM config_layers WHERE ($1 = '' OR kind = $1) ORDER BY kind, version, name`

	rows, err := r.pool.Query(ctx, query, kind)
	if err != nil {
		return nil, fmt.Errorf("list layers: %w", err)
	}
	defer rows.Close()

	var result []database.ConfigLayer
	for rows.Next() {
		l, err := scanLayer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan layer: %w", err)
		}
		result = append(result, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate layers: %w", err)
	}
	return result, nil
}

// SaveLayer inserts a new layer or updates an existing one
func (r *LayerRepository) SaveLayer(ctx context.Context, layer *database.ConfigLayer) error {
	if layer.ID == "" {
		layer.ID = uuid.NewString()
	}

	preprocessing, err := json.Marshal(layer.Preprocessing)
	if err != nil {
		return fmt.Errorf("encode preprocessing: %w", err)
	}

	var (
		prompt        sql.NullString
		minConfidence sql.NullFloat64
		multiPass     sql.NullInt64
	)
	if v, ok := layer.Prompt.Get(); ok {
		prompt = sql.NullString{String: v, Valid: true}
	}
	if v, ok := layer.MinConfidence.Get(); ok {
		minConfidence = sql.NullFloat64{Float64: v, Valid: true}
	}
	if v, ok := layer.MultiPass.Get(); ok {
		multiPass = sql.NullInt64{Int64: int64(v), Valid: true}
	}

	query := `
		INSERT INTO config_layers (id, kind, name, version, prompt, preprocessing, min_confidence, multi_pass)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			version = EXCLUDED.version,
			prompt = EXCLUDED.prompt,
			preprocessing = EXCLUDED.preprocessing,
			min_confidence = EXCLUDED.min_confidence,
			multi_pass = EXCLUDED.multi_pass,
			updated_at = NOW()
		RETURNING active, created_at, updated_at
	`

	err = r.pool.QueryRow(ctx, query,
		layer.ID, layer.Kind, layer.Name, layer.Version,
		prompt, string(preprocessing), minConfidence, multiPass,
	).Scan(&layer.Active, &layer.CreatedAt, &layer.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save layer: %w", err)
	}
	return nil
}

// SetActiveUniversal deactivates every universal layer and activates id in
// one transaction.
func (r *LayerRepository) SetActiveUniversal(ctx context.Context, id string) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE config_layers SET active = FALSE, updated_at = NOW() WHERE kind = 'universal' AND active`); err != nil {
		return fmt.Errorf("clear active universal: %w", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE config_layers SET active = TRUE, updated_at = NOW() WHERE id = $1 AND kind = 'universal'`, id)
	if err != nil {
		return fmt.Errorf("activate universal %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("universal layer %s: %w", id, database.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit activation: %w", err)
	}
	return nil
}
