package postgres

import "github.com/kozaktomas/meter-lab/internal/database"

// Store combines every repository into one database.Store.
type Store struct {
	*LayerRepository
	*PhotoRepository
	*FolderRepository
	*ModelRepository
	*BatchRepository
	*RunRepository
	*FeedbackRepository
}

var _ database.Store = (*Store)(nil)

// NewStore creates a Store backed by pool.
func NewStore(pool *Pool) *Store {
	return &Store{
		LayerRepository:    NewLayerRepository(pool),
		PhotoRepository:    NewPhotoRepository(pool),
		FolderRepository:   NewFolderRepository(pool),
		ModelRepository:    NewModelRepository(pool),
		BatchRepository:    NewBatchRepository(pool),
		RunRepository:      NewRunRepository(pool),
		FeedbackRepository: NewFeedbackRepository(pool),
	}
}
