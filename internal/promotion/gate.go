// Package promotion gates a folder's configuration through testing into
// production use.
package promotion

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kozaktomas/meter-lab/internal/database"
	"github.com/kozaktomas/meter-lab/internal/layers"
	"github.com/kozaktomas/meter-lab/internal/metrics"
)

// DefaultAccuracyFloor is the best-test accuracy required for promotion.
const DefaultAccuracyFloor = 0.70

// transitions lists the allowed folder status changes. ignored and
// cancelled are absorbing; promoted may be promoted again or retested.
var transitions = map[database.FolderStatus][]database.FolderStatus{
	database.FolderDraft:     {database.FolderTesting, database.FolderIgnored, database.FolderCancelled},
	database.FolderTesting:   {database.FolderReady, database.FolderValidated, database.FolderIgnored, database.FolderCancelled},
	database.FolderReady:     {database.FolderValidated, database.FolderPromoted, database.FolderTesting},
	database.FolderValidated: {database.FolderPromoted, database.FolderTesting},
	database.FolderPromoted:  {database.FolderPromoted, database.FolderTesting},
}

// CanTransition reports whether a folder may move from one status to another.
func CanTransition(from, to database.FolderStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Policy holds the tunable gate thresholds.
type Policy struct {
	MinPhotosRequired int
	AccuracyFloor     float64
}

// DefaultPolicy returns the standard thresholds.
func DefaultPolicy() Policy {
	return Policy{
		MinPhotosRequired: database.DefaultMinPhotosRequired,
		AccuracyFloor:     DefaultAccuracyFloor,
	}
}

// Reasons are the three independent promotion conditions.
type Reasons struct {
	HasEnoughPhotos  bool `json:"has_enough_photos"`
	HasCompletedTest bool `json:"has_completed_test"`
	MeetsAccuracy    bool `json:"meets_accuracy"`
}

// Eligibility is the full promotion check for a folder.
type Eligibility struct {
	CanPromote     bool     `json:"can_promote"`
	Reasons        Reasons  `json:"reasons"`
	PhotoCount     int      `json:"photo_count"`
	MinPhotos      int      `json:"min_photos"`
	CompletedTests int      `json:"completed_tests"`
	BestAccuracy   *float64 `json:"best_accuracy"`
	BestBatchID    string   `json:"best_batch_id,omitempty"`
	AccuracyFloor  float64  `json:"accuracy_floor"`
}

// Unmet names the conditions that are not satisfied.
func (e Eligibility) Unmet() []string {
	var out []string
	if !e.Reasons.HasEnoughPhotos {
		out = append(out, "has_enough_photos")
	}
	if !e.Reasons.HasCompletedTest {
		out = append(out, "has_completed_test")
	}
	if !e.Reasons.MeetsAccuracy {
		out = append(out, "meets_accuracy")
	}
	return out
}

// Gate applies the folder lifecycle and promotion rules.
type Gate struct {
	store  database.Store
	policy Policy
	log    zerolog.Logger
}

// NewGate creates a Gate. Zero policy fields fall back to the defaults.
func NewGate(store database.Store, policy Policy, log zerolog.Logger) *Gate {
	def := DefaultPolicy()
	if policy.MinPhotosRequired <= 0 {
		policy.MinPhotosRequired = def.MinPhotosRequired
	}
	if policy.AccuracyFloor <= 0 {
		policy.AccuracyFloor = def.AccuracyFloor
	}
	return &Gate{store: store, policy: policy, log: log}
}

func (g *Gate) minPhotos(f *database.Folder) int {
	if f.MinPhotosRequired > 0 {
		return f.MinPhotosRequired
	}
	return g.policy.MinPhotosRequired
}

// Transition moves a folder to status, enforcing the lifecycle.
func (g *Gate) Transition(ctx context.Context, folderID string, to database.FolderStatus) (*database.Folder, error) {
	if to == database.FolderTesting {
		return g.StartTesting(ctx, folderID)
	}
	if to == database.FolderPromoted {
		return nil, errors.New("use Promote to promote a folder")
	}

	f, err := g.store.GetFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	return f, g.move(ctx, f, to)
}

// StartTesting moves a folder into testing. Folders below the photo
// threshold fail with *InsufficientSamplesError and keep their status. A
// folder whose tests already qualify moves on to ready.
func (g *Gate) StartTesting(ctx context.Context, folderID string) (*database.Folder, error) {
	f, err := g.store.GetFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(f.Status, database.FolderTesting) {
		return nil, &TransitionError{FolderID: f.ID, From: f.Status, To: database.FolderTesting}
	}

	count, err := g.store.CountPhotos(ctx, folderID)
	if err != nil {
		return nil, fmt.Errorf("counting photos: %w", err)
	}
	if need := g.minPhotos(f); count < need {
		return nil, &InsufficientSamplesError{FolderID: f.ID, Have: count, Need: need}
	}

	if err := g.move(ctx, f, database.FolderTesting); err != nil {
		return f, err
	}

	// Batches that completed while the folder was a draft did not advance it.
	ready, err := g.MarkReady(ctx, f.ID)
	if err != nil {
		g.log.Warn().Err(err).Str("folder_id", f.ID).Msg("failed to check readiness")
		return f, nil
	}
	if ready {
		f.Status = database.FolderReady
	}
	return f, nil
}

func (g *Gate) move(ctx context.Context, f *database.Folder, to database.FolderStatus) error {
	if !CanTransition(f.Status, to) {
		return &TransitionError{FolderID: f.ID, From: f.Status, To: to}
	}
	from := f.Status
	f.Status = to
	if err := g.store.UpdateFolder(ctx, f); err != nil {
		f.Status = from
		return fmt.Errorf("updating folder: %w", err)
	}
	g.log.Info().Str("folder_id", f.ID).Str("from", string(from)).Str("to", string(to)).Msg("folder status changed")
	return nil
}

// Eligibility evaluates the three promotion conditions for a folder.
func (g *Gate) Eligibility(ctx context.Context, folderID string) (Eligibility, error) {
	f, err := g.store.GetFolder(ctx, folderID)
	if err != nil {
		return Eligibility{}, err
	}
	e, _, err := g.eligibility(ctx, f)
	return e, err
}

func (g *Gate) eligibility(ctx context.Context, f *database.Folder) (Eligibility, *database.Batch, error) {
	e := Eligibility{MinPhotos: g.minPhotos(f), AccuracyFloor: g.policy.AccuracyFloor}

	count, err := g.store.CountPhotos(ctx, f.ID)
	if err != nil {
		return e, nil, fmt.Errorf("counting photos: %w", err)
	}
	e.PhotoCount = count
	e.Reasons.HasEnoughPhotos = count >= e.MinPhotos

	batches, err := g.store.ListBatchesByFolder(ctx, f.ID)
	if err != nil {
		return e, nil, fmt.Errorf("listing batches: %w", err)
	}

	var best *database.Batch
	for i := range batches {
		b := &batches[i]
		if b.Status != database.BatchCompleted {
			continue
		}
		e.CompletedTests++

		runs, err := g.store.ListRuns(ctx, database.RunFilter{BatchID: b.ID})
		if err != nil {
			return e, nil, fmt.Errorf("listing runs of batch %s: %w", b.ID, err)
		}
		acc := metrics.Aggregate(runs, metrics.Window{}).AccuracyRate
		if acc != nil && (e.BestAccuracy == nil || *acc > *e.BestAccuracy) {
			e.BestAccuracy = acc
			best = b
		}
	}
	if best != nil {
		e.BestBatchID = best.ID
	}

	e.Reasons.HasCompletedTest = e.CompletedTests > 0
	e.Reasons.MeetsAccuracy = e.BestAccuracy != nil && *e.BestAccuracy >= e.AccuracyFloor
	e.CanPromote = e.Reasons.HasEnoughPhotos && e.Reasons.HasCompletedTest && e.Reasons.MeetsAccuracy
	return e, best, nil
}

// MarkReady moves a testing folder to ready once it is eligible. It reports
// whether the folder moved.
func (g *Gate) MarkReady(ctx context.Context, folderID string) (bool, error) {
	f, err := g.store.GetFolder(ctx, folderID)
	if err != nil {
		return false, err
	}
	if f.Status != database.FolderTesting {
		return false, nil
	}
	e, _, err := g.eligibility(ctx, f)
	if err != nil {
		return false, err
	}
	if !e.CanPromote {
		return false, nil
	}
	return true, g.move(ctx, f, database.FolderReady)
}

// Result describes a promotion.
type Result struct {
	Folder  *database.Folder          `json:"folder"`
	Model   *database.ProductionModel `json:"model"`
	Created bool                      `json:"created"`
}

// Promote links the folder's best completed test to a production model. A
// folder already linked to an existing model updates that model; otherwise a
// new model is created. The folder's photos become references.
func (g *Gate) Promote(ctx context.Context, folderID, name string) (*Result, error) {
	f, err := g.store.GetFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(f.Status, database.FolderPromoted) {
		return nil, &TransitionError{FolderID: f.ID, From: f.Status, To: database.FolderPromoted}
	}

	e, best, err := g.eligibility(ctx, f)
	if err != nil {
		return nil, err
	}
	if !e.CanPromote {
		return nil, &NotEligibleError{FolderID: f.ID, Eligibility: e}
	}

	model, created, err := g.upsertModel(ctx, f, best, *e.BestAccuracy, name)
	if err != nil {
		return nil, err
	}

	f.ProductionModelID = model.ID
	if err := g.move(ctx, f, database.FolderPromoted); err != nil {
		return nil, err
	}
	g.markReferences(ctx, f.ID)

	g.log.Info().
		Str("folder_id", f.ID).
		Str("model_id", model.ID).
		Bool("created", created).
		Float64("accuracy", model.Accuracy).
		Msg("folder promoted")
	return &Result{Folder: f, Model: model, Created: created}, nil
}

func (g *Gate) upsertModel(ctx context.Context, f *database.Folder, best *database.Batch, accuracy float64, name string) (*database.ProductionModel, bool, error) {
	if name == "" {
		name = f.Name
	}
	apply := func(m *database.ProductionModel) {
		m.Name = name
		m.FolderID = f.ID
		m.UniversalVersion = best.ConfigKey.UniversalVersion
		m.TypeConfigID = best.ConfigKey.TypeConfigID
		m.ModelConfigID = best.ConfigKey.ModelConfigID
		m.SourceBatchID = best.ID
		m.Accuracy = accuracy
	}

	if f.ProductionModelID != "" {
		existing, err := g.store.GetProductionModel(ctx, f.ProductionModelID)
		switch {
		case err == nil:
			apply(existing)
			if err := g.store.UpdateProductionModel(ctx, existing); err != nil {
				return nil, false, fmt.Errorf("updating production model: %w", err)
			}
			return existing, false, nil
		case !errors.Is(err, database.ErrNotFound):
			return nil, false, fmt.Errorf("loading production model: %w", err)
		}
		g.log.Warn().Str("model_id", f.ProductionModelID).Msg("linked production model missing, creating a new one")
	}

	m := &database.ProductionModel{}
	apply(m)
	if err := g.store.CreateProductionModel(ctx, m); err != nil {
		return nil, false, fmt.Errorf("creating production model: %w", err)
	}
	return m, true, nil
}

func (g *Gate) markReferences(ctx context.Context, folderID string) {
	photos, err := g.store.ListPhotosByFolder(ctx, folderID)
	if err != nil {
		g.log.Warn().Err(err).Str("folder_id", folderID).Msg("failed to list photos for reference marking")
		return
	}
	for _, p := range photos {
		if p.Status != database.PhotoTested {
			continue
		}
		if err := g.store.UpdatePhotoStatus(ctx, p.ID, database.PhotoReference); err != nil {
			g.log.Warn().Err(err).Str("photo_id", p.ID).Msg("failed to mark reference photo")
		}
	}
}

// ActivateUniversal makes the universal layer id the only active one and
// drops composed configs cached for the previous version.
func ActivateUniversal(ctx context.Context, store database.LayerStore, cache *layers.Cache, id string) (*database.ConfigLayer, error) {
	l, err := store.GetLayer(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.Kind != layers.KindUniversal {
		return nil, fmt.Errorf("layer %s is a %s layer: %w", id, l.Kind, ErrNotUniversal)
	}
	if err := store.SetActiveUniversal(ctx, id); err != nil {
		return nil, fmt.Errorf("activating universal layer: %w", err)
	}
	if cache != nil {
		cache.Invalidate()
	}
	l.Active = true
	return l, nil
}
