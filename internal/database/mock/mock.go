// Package mock provides an in-memory implementation of database.Store for testing.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/meter-lab/internal/database"
	"github.com/kozaktomas/meter-lab/internal/fingerprint"
)

// MockStore is an in-memory database.Store. Records are copied on the way in
// and out so callers never share memory with the store.
type MockStore struct {
	mu          sync.RWMutex
	layers      map[string]*database.ConfigLayer
	photos      map[string]*database.Photo
	photoOrder  []string
	folders     map[string]*database.Folder
	models      map[string]*database.ProductionModel
	batches     map[string]*database.Batch
	runs        map[string]*database.RunResult
	runOrder    []string
	corrections []database.Correction
	comparisons map[string]*database.Comparison
	now         func() time.Time

	// Error injection
	GetLayerError     error
	SaveLayerError    error
	CreatePhotoError  error
	GetPhotoError     error
	FindHashError     error
	NearDupError      error
	GetFolderError    error
	UpdateFolderError error
	CreateModelError  error
	UpdateModelError  error
	CreateBatchError  error
	UpdateBatchError  error
	CreateRunsError   error
	UpdateRunError    error
	ListRunsError     error

	// Call counters
	UpdateRunCalls   int
	UpdateBatchCalls int
}

var _ database.Store = (*MockStore)(nil)

// NewMockStore creates an empty in-memory store
func NewMockStore() *MockStore {
	return &MockStore{
		layers:      make(map[string]*database.ConfigLayer),
		photos:      make(map[string]*database.Photo),
		folders:     make(map[string]*database.Folder),
		models:      make(map[string]*database.ProductionModel),
		batches:     make(map[string]*database.Batch),
		runs:        make(map[string]*database.RunResult),
		comparisons: make(map[string]*database.Comparison),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the timestamp source
func (m *MockStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func notFound(what, id string) error {
	return fmt.Errorf("%s %s: %w", what, id, database.ErrNotFound)
}

// Layers

// GetLayer retrieves a layer by ID
func (m *MockStore) GetLayer(_ context.Context, id string) (*database.ConfigLayer, error) {
	if m.GetLayerError != nil {
		return nil, m.GetLayerError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.layers[id]
	if !ok {
		return nil, notFound("layer", id)
	}
	c := *l
	return &c, nil
}

// GetUniversalByVersion retrieves a universal layer by version
func (m *MockStore) GetUniversalByVersion(_ context.Context, version int) (*database.ConfigLayer, error) {
	if m.GetLayerError != nil {
		return nil, m.GetLayerError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.layers {
		if l.Kind == "universal" && l.Version == version {
			c := *l
			return &c, nil
		}
	}
	return nil, notFound("universal layer", fmt.Sprintf("v%d", version))
}

// GetActiveUniversal retrieves the active universal layer
func (m *MockStore) GetActiveUniversal(_ context.Context) (*database.ConfigLayer, error) {
	if m.GetLayerError != nil {
		return nil, m.GetLayerError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.layers {
		if l.Kind == "universal" && l.Active {
			c := *l
			return &c, nil
		}
	}
	return nil, notFound("active universal layer", "")
}

// ListLayers returns layers of a kind, or all when kind is empty
func (m *MockStore) ListLayers(_ context.Context, kind string) ([]database.ConfigLayer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []database.ConfigLayer
	for _, l := range m.layers {
		if kind == "" || string(l.Kind) == kind {
			result = append(result, *l)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Kind != result[j].Kind {
			return result[i].Kind < result[j].Kind
		}
		if result[i].Version != result[j].Version {
			return result[i].Version < result[j].Version
		}
		return result[i].Name < result[j].Name
	})
	return result, nil
}

// SaveLayer inserts or updates a layer
func (m *MockStore) SaveLayer(_ context.Context, layer *database.ConfigLayer) error {
	if m.SaveLayerError != nil {
		return m.SaveLayerError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if layer.ID == "" {
		layer.ID = uuid.NewString()
	}
	now := m.now()
	if existing, ok := m.layers[layer.ID]; ok {
		layer.CreatedAt = existing.CreatedAt
		layer.Active = existing.Active
	} else {
		layer.CreatedAt = now
	}
	layer.UpdatedAt = now
	c := *layer
	m.layers[layer.ID] = &c
	return nil
}

// SetActiveUniversal clears every active flag and sets it on id
func (m *MockStore) SetActiveUniversal(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.layers[id]
	if !ok || target.Kind != "universal" {
		return notFound("universal layer", id)
	}
	for _, l := range m.layers {
		if l.Kind == "universal" {
			l.Active = false
		}
	}
	target.Active = true
	return nil
}

// Photos

// AddPhoto stores a photo as-is
func (m *MockStore) AddPhoto(photo database.Photo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.photos[photo.ID]; !ok {
		m.photoOrder = append(m.photoOrder, photo.ID)
	}
	m.photos[photo.ID] = &photo
}

// CreatePhoto inserts a new photo
func (m *MockStore) CreatePhoto(_ context.Context, photo *database.Photo) error {
	if m.CreatePhotoError != nil {
		return m.CreatePhotoError
	}
	if photo.ID == "" {
		photo.ID = uuid.NewString()
	}
	if photo.Status == "" {
		photo.Status = database.PhotoPending
	}
	m.mu.Lock()
	photo.CreatedAt = m.now()
	m.mu.Unlock()
	m.AddPhoto(*photo)
	return nil
}

// GetPhoto retrieves a photo by ID
func (m *MockStore) GetPhoto(_ context.Context, id string) (*database.Photo, error) {
	if m.GetPhotoError != nil {
		return nil, m.GetPhotoError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.photos[id]
	if !ok {
		return nil, notFound("photo", id)
	}
	c := *p
	return &c, nil
}

// FindPhotoByExactHash returns the first photo with the hash, nil if none
func (m *MockStore) FindPhotoByExactHash(_ context.Context, hash string) (*database.Photo, error) {
	if m.FindHashError != nil {
		return nil, m.FindHashError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.photoOrder {
		if p := m.photos[id]; p.ExactHash == hash {
			c := *p
			return &c, nil
		}
	}
	return nil, nil
}

func (m *MockStore) filterPhotos(keep func(*database.Photo) bool) []database.Photo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []database.Photo
	for _, id := range m.photoOrder {
		if p := m.photos[id]; keep(p) {
			result = append(result, *p)
		}
	}
	return result
}

// ListPhotosByFolder returns a folder's photos in insertion order
func (m *MockStore) ListPhotosByFolder(_ context.Context, folderID string) ([]database.Photo, error) {
	return m.filterPhotos(func(p *database.Photo) bool { return p.FolderID == folderID }), nil
}

// ListReferencePhotos returns reference photos outside excludeFolderID
func (m *MockStore) ListReferencePhotos(_ context.Context, excludeFolderID string) ([]database.Photo, error) {
	return m.filterPhotos(func(p *database.Photo) bool {
		return p.Status == database.PhotoReference && (excludeFolderID == "" || p.FolderID != excludeFolderID)
	}), nil
}

// FindNearDuplicates returns folder photos within maxDistance bits, closest first
func (m *MockStore) FindNearDuplicates(_ context.Context, folderID, perceptualHash string, maxDistance int) ([]database.NearDuplicate, error) {
	if m.NearDupError != nil {
		return nil, m.NearDupError
	}
	candidates := m.filterPhotos(func(p *database.Photo) bool {
		return p.FolderID == folderID && p.PerceptualHash != ""
	})
	var result []database.NearDuplicate
	for _, p := range candidates {
		d, err := fingerprint.HammingDistance(perceptualHash, p.PerceptualHash)
		if err != nil {
			return nil, fmt.Errorf("compare with photo %s: %w", p.ID, err)
		}
		if d <= maxDistance {
			result = append(result, database.NearDuplicate{PhotoID: p.ID, Ref: p.Ref, Distance: d})
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Distance < result[j].Distance })
	return result, nil
}

// UpdatePhotoStatus sets a photo's status
func (m *MockStore) UpdatePhotoStatus(_ context.Context, id string, status database.PhotoStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.photos[id]
	if !ok {
		return notFound("photo", id)
	}
	p.Status = status
	return nil
}

// CountPhotos returns the number of photos in a folder
func (m *MockStore) CountPhotos(_ context.Context, folderID string) (int, error) {
	return len(m.filterPhotos(func(p *database.Photo) bool { return p.FolderID == folderID })), nil
}

// Folders and production models

// CreateFolder inserts a new folder
func (m *MockStore) CreateFolder(_ context.Context, folder *database.Folder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if folder.ID == "" {
		folder.ID = uuid.NewString()
	}
	if folder.Status == "" {
		folder.Status = database.FolderDraft
	}
	if folder.MinPhotosRequired <= 0 {
		folder.MinPhotosRequired = database.DefaultMinPhotosRequired
	}
	folder.CreatedAt = m.now()
	folder.UpdatedAt = folder.CreatedAt
	c := *folder
	m.folders[folder.ID] = &c
	return nil
}

// GetFolder retrieves a folder by ID
func (m *MockStore) GetFolder(_ context.Context, id string) (*database.Folder, error) {
	if m.GetFolderError != nil {
		return nil, m.GetFolderError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.folders[id]
	if !ok {
		return nil, notFound("folder", id)
	}
	c := *f
	return &c, nil
}

// UpdateFolder replaces a folder
func (m *MockStore) UpdateFolder(_ context.Context, folder *database.Folder) error {
	if m.UpdateFolderError != nil {
		return m.UpdateFolderError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.folders[folder.ID]; !ok {
		return notFound("folder", folder.ID)
	}
	folder.UpdatedAt = m.now()
	c := *folder
	m.folders[folder.ID] = &c
	return nil
}

// CreateProductionModel inserts a production model
func (m *MockStore) CreateProductionModel(_ context.Context, model *database.ProductionModel) error {
	if m.CreateModelError != nil {
		return m.CreateModelError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if model.ID == "" {
		model.ID = uuid.NewString()
	}
	model.CreatedAt = m.now()
	model.UpdatedAt = model.CreatedAt
	c := *model
	m.models[model.ID] = &c
	return nil
}

// UpdateProductionModel replaces a production model
func (m *MockStore) UpdateProductionModel(_ context.Context, model *database.ProductionModel) error {
	if m.UpdateModelError != nil {
		return m.UpdateModelError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.models[model.ID]
	if !ok {
		return notFound("production model", model.ID)
	}
	model.CreatedAt = existing.CreatedAt
	model.UpdatedAt = m.now()
	c := *model
	m.models[model.ID] = &c
	return nil
}

// GetProductionModel retrieves a production model by ID
func (m *MockStore) GetProductionModel(_ context.Context, id string) (*database.ProductionModel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pm, ok := m.models[id]
	if !ok {
		return nil, notFound("production model", id)
	}
	c := *pm
	return &c, nil
}

// ProductionModelCount returns the number of stored production models
func (m *MockStore) ProductionModelCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.models)
}

// Batches and runs

// CreateBatch inserts a batch
func (m *MockStore) CreateBatch(_ context.Context, batch *database.Batch) error {
	if m.CreateBatchError != nil {
		return m.CreateBatchError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	if batch.Status == "" {
		batch.Status = database.BatchDraft
	}
	batch.CreatedAt = m.now()
	batch.UpdatedAt = batch.CreatedAt
	c := *batch
	m.batches[batch.ID] = &c
	return nil
}

// GetBatch retrieves a batch by ID
func (m *MockStore) GetBatch(_ context.Context, id string) (*database.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, notFound("batch", id)
	}
	c := *b
	return &c, nil
}

// UpdateBatchCounters copies the run counters onto the stored batch
func (m *MockStore) UpdateBatchCounters(_ context.Context, batch *database.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateBatchCalls++
	if m.UpdateBatchError != nil {
		return m.UpdateBatchError
	}
	stored, ok := m.batches[batch.ID]
	if !ok {
		return notFound("batch", batch.ID)
	}
	stored.Total = batch.Total
	stored.Completed = batch.Completed
	stored.Evaluated = batch.Evaluated
	stored.Correct = batch.Correct
	stored.Failed = batch.Failed
	stored.UpdatedAt = m.now()
	batch.UpdatedAt = stored.UpdatedAt
	return nil
}

// SetBatchStatus changes the status of a batch that is not completed or cancelled
func (m *MockStore) SetBatchStatus(_ context.Context, id string, status database.BatchStatus, completedAt *time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateBatchCalls++
	if m.UpdateBatchError != nil {
		return false, m.UpdateBatchError
	}
	stored, ok := m.batches[id]
	if !ok {
		return false, notFound("batch", id)
	}
	if stored.Status.IsTerminal() {
		return false, nil
	}
	stored.Status = status
	if completedAt != nil {
		t := *completedAt
		stored.CompletedAt = &t
	}
	stored.UpdatedAt = m.now()
	return true, nil
}

// ListBatchesByFolder returns a folder's batches, newest first
func (m *MockStore) ListBatchesByFolder(_ context.Context, folderID string) ([]database.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []database.Batch
	for _, b := range m.batches {
		if b.FolderID == folderID {
			result = append(result, *b)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

// DeleteBatch removes a batch, its runs and their corrections
func (m *MockStore) DeleteBatch(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.batches[id]; !ok {
		return notFound("batch", id)
	}
	delete(m.batches, id)

	deleted := make(map[string]bool)
	kept := m.runOrder[:0]
	for _, runID := range m.runOrder {
		if m.runs[runID].BatchID == id {
			deleted[runID] = true
			delete(m.runs, runID)
			continue
		}
		kept = append(kept, runID)
	}
	m.runOrder = kept

	corrections := m.corrections[:0]
	for _, c := range m.corrections {
		if !deleted[c.RunID] {
			corrections = append(corrections, c)
		}
	}
	m.corrections = corrections
	return nil
}

// CreateRuns inserts runs in slice order
func (m *MockStore) CreateRuns(_ context.Context, runs []*database.RunResult) error {
	if m.CreateRunsError != nil {
		return m.CreateRunsError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, run := range runs {
		if run.ID == "" {
			run.ID = uuid.NewString()
		}
		if run.Status == "" {
			run.Status = database.RunPending
		}
		run.CreatedAt = now
		run.UpdatedAt = now
		c := *run
		m.runs[run.ID] = &c
		m.runOrder = append(m.runOrder, run.ID)
	}
	return nil
}

// GetRun retrieves a run by ID
func (m *MockStore) GetRun(_ context.Context, id string) (*database.RunResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, notFound("run", id)
	}
	c := *r
	return &c, nil
}

// UpdateRun replaces a run
func (m *MockStore) UpdateRun(_ context.Context, run *database.RunResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateRunCalls++
	if m.UpdateRunError != nil {
		return m.UpdateRunError
	}
	existing, ok := m.runs[run.ID]
	if !ok {
		return notFound("run", run.ID)
	}
	run.CreatedAt = existing.CreatedAt
	run.UpdatedAt = m.now()
	c := *run
	m.runs[run.ID] = &c
	return nil
}

// PutRun stores a run as-is, keeping its timestamps
func (m *MockStore) PutRun(run database.RunResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if _, ok := m.runs[run.ID]; !ok {
		m.runOrder = append(m.runOrder, run.ID)
	}
	m.runs[run.ID] = &run
}

// ListRuns returns runs matching filter in creation order
func (m *MockStore) ListRuns(_ context.Context, filter database.RunFilter) ([]database.RunResult, error) {
	if m.ListRunsError != nil {
		return nil, m.ListRunsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make(map[database.RunStatus]bool, len(filter.Statuses))
	for _, s := range filter.Statuses {
		statuses[s] = true
	}

	var result []database.RunResult
	for _, id := range m.runOrder {
		r := m.runs[id]
		switch {
		case filter.BatchID != "" && r.BatchID != filter.BatchID,
			filter.FolderID != "" && r.FolderID != filter.FolderID,
			filter.ConfigID != "" && r.ConfigID != filter.ConfigID,
			!filter.From.IsZero() && r.CreatedAt.Before(filter.From),
			!filter.To.IsZero() && !r.CreatedAt.Before(filter.To),
			len(statuses) > 0 && !statuses[r.Status]:
			continue
		}
		result = append(result, *r)
	}
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		if result[i].BatchID != result[j].BatchID {
			return result[i].BatchID < result[j].BatchID
		}
		return result[i].Seq < result[j].Seq
	})
	return result, nil
}

// Corrections and comparisons

// SaveCorrection stores one correction per run, replacing an earlier one in place
func (m *MockStore) SaveCorrection(_ context.Context, c *database.Correction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.CreatedAt = m.now()
	for i := range m.corrections {
		if m.corrections[i].RunID == c.RunID {
			c.ID = m.corrections[i].ID
			m.corrections[i] = *c
			return nil
		}
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	m.corrections = append(m.corrections, *c)
	return nil
}

// DeleteCorrection removes the correction of a run
func (m *MockStore) DeleteCorrection(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.corrections[:0]
	for _, c := range m.corrections {
		if c.RunID != runID {
			kept = append(kept, c)
		}
	}
	m.corrections = kept
	return nil
}

// ListCorrections returns corrections for a config, or all when empty
func (m *MockStore) ListCorrections(_ context.Context, configID string) ([]database.Correction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []database.Correction
	for _, c := range m.corrections {
		if configID == "" || c.ConfigID == configID {
			result = append(result, c)
		}
	}
	return result, nil
}

// CreateComparison stores a comparison
func (m *MockStore) CreateComparison(_ context.Context, c *database.Comparison) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = m.now()
	cc := *c
	m.comparisons[c.ID] = &cc
	return nil
}

// GetComparison retrieves a comparison by ID
func (m *MockStore) GetComparison(_ context.Context, id string) (*database.Comparison, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.comparisons[id]
	if !ok {
		return nil, notFound("comparison", id)
	}
	cc := *c
	return &cc, nil
}
