package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kozaktomas/meter-lab/internal/database"
)

// FolderRepository provides PostgreSQL-backed folder storage
type FolderRepository struct {
	pool *Pool
}

// NewFolderRepository creates a new PostgreSQL folder repository
func NewFolderRepository(pool *Pool) *FolderRepository {
	return &FolderRepository{pool: pool}
}

// CreateFolder inserts a new folder
func (r *FolderRepository) CreateFolder(ctx context.Context, folder *database.Folder) error {
	if folder.ID == "" {
		folder.ID = uuid.NewString()
	}
	if folder.Status == "" {
		folder.Status = database.FolderDraft
	}
	if folder.MinPhotosRequired <= 0 {
		folder.MinPhotosRequired = database.DefaultMinPhotosRequired
	}

	query := `
		INSERT INTO folders (id, name, type_config_id, model_config_id, status, min_photos_required, production_model_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		folder.ID, folder.Name, nullString(folder.TypeConfigID), nullString(folder.ModelConfigID),
		folder.Status, folder.MinPhotosRequired, nullString(folder.ProductionModelID),
	).Scan(&folder.CreatedAt, &folder.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create folder: %w", err)
	}
	return nil
}

// GetFolder retrieves a folder by ID
func (r *FolderRepository) GetFolder(ctx context.Context, id string) (*database.Folder, error) {
	query := `
		SELECT id, name, COALESCE(type_config_id::text, ''), COALESCE(model_config_id::text, ''),
			status, min_photos_required, COALESCE(production_model_id::text, ''), created_at, updated_at
		FROM folders
		WHERE id = $1
	`

	var f database.Folder
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&f.ID,
		&f.Name,
		&f.TypeConfigID,
		&f.ModelConfigID,
		&f.Status,
		&f.MinPhotosRequired,
		&f.ProductionModelID,
		&f.CreatedAt,
		&f.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("folder %s: %w", id, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get folder: %w", err)
	}
	return &f, nil
}

// UpdateFolder persists the folder's mutable fields
func (r *FolderRepository) UpdateFolder(ctx context.Context, folder *database.Folder) error {
	query := `
		UPDATE folders SET
			name = $2,
			type_config_id = $3,
			model_config_id = $4,
			status = $5,
			min_photos_required = $6,
			production_model_id = $7,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		folder.ID, folder.Name, nullString(folder.TypeConfigID), nullString(folder.ModelConfigID),
		folder.Status, folder.MinPhotosRequired, nullString(folder.ProductionModelID),
	).Scan(&folder.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("folder %s: %w", folder.ID, database.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update folder: %w", err)
	}
	return nil
}

// ModelRepository provides PostgreSQL-backed production model storage
type ModelRepository struct {
	pool *Pool
}

// NewModelRepository creates a new PostgreSQL production model repository
func NewModelRepository(pool *Pool) *ModelRepository {
	return &ModelRepository{pool: pool}
}

// CreateProductionModel inserts a new production model
func (r *ModelRepository) CreateProductionModel(ctx context.Context, model *database.ProductionModel) error {
	if model.ID == "" {
		model.ID = uuid.NewString()
	}

	query := `
		INSERT INTO production_models (id, name, folder_id, universal_version, type_config_id, model_config_id, source_batch_id, accuracy)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		model.ID, model.Name, model.FolderID, model.UniversalVersion,
		nullString(model.TypeConfigID), nullString(model.ModelConfigID), nullString(model.SourceBatchID), model.Accuracy,
	).Scan(&model.CreatedAt, &model.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create production model: %w", err)
	}
	return nil
}

// UpdateProductionModel repoints an existing production model at a new configuration
func (r *ModelRepository) UpdateProductionModel(ctx context.Context, model *database.ProductionModel) error {
	query := `
		UPDATE production_models SET
			name = $2,
			universal_version = $3,
			type_config_id = $4,
			model_config_id = $5,
			source_batch_id = $6,
			accuracy = $7,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		model.ID, model.Name, model.UniversalVersion,
		nullString(model.TypeConfigID), nullString(model.ModelConfigID), nullString(model.SourceBatchID), model.Accuracy,
	).Scan(&model.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("production model %s: %w", model.ID, database.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update production model: %w", err)
	}
	return nil
}

// GetProductionModel retrieves a production model by ID
func (r *ModelRepository) GetProductionModel(ctx context.Context, id string) (*database.ProductionModel, error) {
	query := `
		SELECT id, name, folder_id, universal_version, COALESCE(type_config_id::text, ''),
			COALESCE(model_config_id::text, ''), COALESCE(source_batch_id::text, ''), accuracy, created_at, updated_at
		FROM production_models
		WHERE id = $1
	`

	var m database.ProductionModel
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&m.ID,
		&m.Name,
		&m.FolderID,
		&m.UniversalVersion,
		&m.TypeConfigID,
		&m.ModelConfigID,
		&m.SourceBatchID,
		&m.Accuracy,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("production model %s: %w", id, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get production model: %w", err)
	}
	return &m, nil
}
