package database

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned (wrapped) when a record does not exist.
var ErrNotFound = errors.New("not found")

// LayerStore provides access to configuration layers.
type LayerStore interface {
	GetLayer(ctx context.Context, id string) (*ConfigLayer, error)
	// GetUniversalByVersion returns the universal layer with the given version.
	GetUniversalByVersion(ctx context.Context, version int) (*ConfigLayer, error)
	// GetActiveUniversal returns the single active universal layer.
	GetActiveUniversal(ctx context.Context) (*ConfigLayer, error)
	ListLayers(ctx context.Context, kind string) ([]ConfigLayer, error)
	// SaveLayer inserts a new layer (empty ID) or updates an existing one.
	SaveLayer(ctx context.Context, layer *ConfigLayer) error
	// SetActiveUniversal clears every active flag and sets it on id in one
	// transaction.
	SetActiveUniversal(ctx context.Context, id string) error
}

// PhotoStore provides access to photos.
type PhotoStore interface {
	CreatePhoto(ctx context.Context, photo *Photo) error
	GetPhoto(ctx context.Context, id string) (*Photo, error)
	// FindPhotoByExactHash returns nil, nil when no photo has the hash.
	FindPhotoByExactHash(ctx context.Context, hash string) (*Photo, error)
	ListPhotosByFolder(ctx context.Context, folderID string) ([]Photo, error)
	// ListReferencePhotos returns every photo with status reference,
	// optionally excluding one folder.
	ListReferencePhotos(ctx context.Context, excludeFolderID string) ([]Photo, error)
	// FindNearDuplicates returns photos in the folder whose perceptual hash is
	// within maxDistance bits, closest first.
	FindNearDuplicates(ctx context.Context, folderID, perceptualHash string, maxDistance int) ([]NearDuplicate, error)
	UpdatePhotoStatus(ctx context.Context, id string, status PhotoStatus) error
	CountPhotos(ctx context.Context, folderID string) (int, error)
}

// FolderStore provides access to folders.
type FolderStore interface {
	CreateFolder(ctx context.Context, folder *Folder) error
	GetFolder(ctx context.Context, id string) (*Folder, error)
	UpdateFolder(ctx context.Context, folder *Folder) error
}

// ModelStore provides access to production models.
type ModelStore interface {
	CreateProductionModel(ctx context.Context, model *ProductionModel) error
	UpdateProductionModel(ctx context.Context, model *ProductionModel) error
	GetProductionModel(ctx context.Context, id string) (*ProductionModel, error)
}

// BatchStore provides access to batches.
type BatchStore interface {
	CreateBatch(ctx context.Context, batch *Batch) error
	GetBatch(ctx context.Context, id string) (*Batch, error)
	// UpdateBatchCounters persists the run counters and never touches status.
	UpdateBatchCounters(ctx context.Context, batch *Batch) error
	// SetBatchStatus moves a non-terminal batch to status and reports whether
	// it changed. A completed or cancelled batch is left as it is.
	SetBatchStatus(ctx context.Context, id string, status BatchStatus, completedAt *time.Time) (bool, error)
	ListBatchesByFolder(ctx context.Context, folderID string) ([]Batch, error)
	// DeleteBatch removes the batch and cascades to its runs.
	DeleteBatch(ctx context.Context, id string) error
}

// RunStore provides access to run results.
type RunStore interface {
	// CreateRuns inserts all runs in one transaction, preserving order.
	CreateRuns(ctx context.Context, runs []*RunResult) error
	GetRun(ctx context.Context, id string) (*RunResult, error)
	UpdateRun(ctx context.Context, run *RunResult) error
	// ListRuns returns matching runs ordered by creation time, then batch sequence.
	ListRuns(ctx context.Context, filter RunFilter) ([]RunResult, error)
}

// CorrectionStore provides access to correction records.
type CorrectionStore interface {
	// SaveCorrection stores the run's correction, replacing any earlier one.
	SaveCorrection(ctx context.Context, c *Correction) error
	// DeleteCorrection removes the run's correction; a missing one is not an error.
	DeleteCorrection(ctx context.Context, runID string) error
	ListCorrections(ctx context.Context, configID string) ([]Correction, error)
}

// ComparisonStore provides access to A/B comparison records.
type ComparisonStore interface {
	CreateComparison(ctx context.Context, c *Comparison) error
	GetComparison(ctx context.Context, id string) (*Comparison, error)
}

// Store is the full persistence surface used by the engine.
type Store interface {
	LayerStore
	PhotoStore
	FolderStore
	ModelStore
	BatchStore
	RunStore
	CorrectionStore
	ComparisonStore
}
