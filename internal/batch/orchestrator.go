// Package batch drives photos through the recognition runner one at a time,
// persisting every run so a batch can be resumed or cancelled.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/kozaktomas/meter-lab/internal/database"
	"github.com/kozaktomas/meter-lab/internal/layers"
	"github.com/kozaktomas/meter-lab/internal/metrics"
	"github.com/kozaktomas/meter-lab/internal/recognition"
)

// ErrBatchClosed is returned when a completed or cancelled batch is asked
// to run again.
var ErrBatchClosed = errors.New("batch is completed or cancelled")

// ErrBatchRunning is returned when a running batch is asked to be deleted.
var ErrBatchRunning = errors.New("batch is running, cancel it first")

// ErrNoPhotos is returned for a batch request without photos.
var ErrNoPhotos = errors.New("batch has no photos")

// Progress is reported after every run reaches a terminal state.
type Progress struct {
	BatchID string               `json:"batch_id"`
	Done    int                  `json:"done"`
	Total   int                  `json:"total"`
	Run     *database.RunResult  `json:"run,omitempty"`
	Status  database.BatchStatus `json:"status"`
}

// Request describes a new batch.
type Request struct {
	Name     string
	FolderID string
	Photos   []database.Photo
	Config   layers.EffectiveConfig
}

// Orchestrator owns the batches it creates. It is safe to run different
// batches from different goroutines, but a single batch must have one
// writer.
type Orchestrator struct {
	store      database.Store
	runner     *recognition.Runner
	log        zerolog.Logger
	now        func() time.Time
	onProgress func(Progress)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithProgress registers a callback invoked after each run.
func WithProgress(fn func(Progress)) Option {
	return func(o *Orchestrator) {
		o.onProgress = fn
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New creates an Orchestrator.
func New(store database.Store, runner *recognition.Runner, log zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:  store,
		runner: runner,
		log:    log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Observe returns a copy of o that reports progress to fn.
func (o *Orchestrator) Observe(fn func(Progress)) *Orchestrator {
	c := *o
	c.onProgress = fn
	return &c
}

// Create stores a draft batch and one pending run per photo, in photo order,
// before any inference happens.
func (o *Orchestrator) Create(ctx context.Context, req Request) (*database.Batch, error) {
	if len(req.Photos) == 0 {
		return nil, ErrNoPhotos
	}

	b := &database.Batch{
		Name:          req.Name,
		FolderID:      req.FolderID,
		ConfigKey:     req.Config.Key,
		UniversalOnly: req.Config.Key.UniversalOnly(),
		Status:        database.BatchDraft,
		Total:         len(req.Photos),
	}
	if err := o.store.CreateBatch(ctx, b); err != nil {
		return nil, fmt.Errorf("creating batch: %w", err)
	}

	runs := make([]*database.RunResult, 0, len(req.Photos))
	for i, p := range req.Photos {
		runs = append(runs, &database.RunResult{
			BatchID:  b.ID,
			Seq:      i,
			PhotoID:  p.ID,
			FolderID: p.FolderID,
			ConfigID: b.ConfigID(),
			Status:   database.RunPending,
		})
	}
	if err := o.store.CreateRuns(ctx, runs); err != nil {
		return nil, fmt.Errorf("creating runs: %w", err)
	}

	o.log.Info().Str("batch_id", b.ID).Str("config_id", b.ConfigID()).Int("total", b.Total).Msg("batch created")
	return b, nil
}

// RunBatch creates a batch and executes it to the end, a cancel, or a
// context error.
func (o *Orchestrator) RunBatch(ctx context.Context, req Request) (*database.Batch, error) {
	b, err := o.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	return o.Execute(ctx, b.ID, req.Config)
}

// Resume re-executes the batch's pending and failed runs in their original
// order.
func (o *Orchestrator) Resume(ctx context.Context, batchID string, cfg layers.EffectiveConfig) (*database.Batch, error) {
	return o.Execute(ctx, batchID, cfg)
}

// Execute runs every pending or failed run of the batch sequentially. A
// failing run never aborts the batch. The batch becomes completed only when
// every run is completed or evaluated; otherwise it stays running.
func (o *Orchestrator) Execute(ctx context.Context, batchID string, cfg layers.EffectiveConfig) (*database.Batch, error) {
	b, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if b.Status.IsTerminal() {
		return b, ErrBatchClosed
	}
	if ConfigIDOf(cfg) != b.ConfigID() {
		return nil, fmt.Errorf("config %s does not match batch config %s", ConfigIDOf(cfg), b.ConfigID())
	}

	started, err := o.store.SetBatchStatus(ctx, batchID, database.BatchRunning, nil)
	if err != nil {
		return nil, fmt.Errorf("starting batch: %w", err)
	}
	if !started {
		// Closed between the read above and the status write.
		closed, err := o.store.GetBatch(ctx, batchID)
		if err != nil {
			return nil, err
		}
		return closed, ErrBatchClosed
	}

	runs, err := o.store.ListRuns(ctx, database.RunFilter{
		BatchID:  batchID,
		Statuses: []database.RunStatus{database.RunPending, database.RunFailed},
	})
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	log := o.log.With().Str("batch_id", batchID).Logger()
	log.Info().Int("remaining", len(runs)).Int("total", b.Total).Msg("executing batch")

	done := b.Total - len(runs)
	var stopErr error
	for i := range runs {
		if err := ctx.Err(); err != nil {
			stopErr = err
			break
		}
		cancelled, err := o.isCancelled(ctx, batchID)
		if err != nil {
			stopErr = err
			break
		}
		if cancelled {
			log.Info().Int("done", done).Msg("batch cancelled, stopping submission")
			break
		}

		run := &runs[i]
		if err := o.runOne(ctx, run, cfg, log); err != nil {
			stopErr = err
			break
		}
		done++
		o.report(Progress{BatchID: batchID, Done: done, Total: b.Total, Run: run, Status: database.BatchRunning})
	}

	// Counters are refreshed even after an interruption so the stored batch
	// reflects every persisted run.
	refreshed, err := o.Refresh(context.WithoutCancel(ctx), batchID)
	if err != nil {
		return nil, errors.Join(stopErr, err)
	}
	o.report(Progress{BatchID: batchID, Done: done, Total: refreshed.Total, Status: refreshed.Status})
	if stopErr != nil {
		return refreshed, fmt.Errorf("batch %s interrupted: %w", batchID, stopErr)
	}
	return refreshed, nil
}

// runOne persists the running state, executes the run and persists its
// terminal state. Only storage errors are returned.
func (o *Orchestrator) runOne(ctx context.Context, run *database.RunResult, cfg layers.EffectiveConfig, log zerolog.Logger) error {
	if err := recognition.Transition(run, database.RunRunning); err != nil {
		return err
	}
	if err := o.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("marking run %s running: %w", run.ID, err)
	}

	photo, err := o.store.GetPhoto(ctx, run.PhotoID)
	if err != nil {
		recognition.Fail(run, fmt.Errorf("loading photo: %w", err))
		log.Warn().Err(err).Str("run_id", run.ID).Str("photo_id", run.PhotoID).Msg("photo unavailable")
	} else if err := o.runner.Execute(ctx, run, photo, cfg); err != nil {
		return err
	}

	// The terminal state is written even when the caller's context ended
	// during inference.
	if err := o.store.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		return fmt.Errorf("saving run %s: %w", run.ID, err)
	}

	if photo != nil && photo.Status == database.PhotoPending && run.Status != database.RunFailed {
		if err := o.store.UpdatePhotoStatus(ctx, photo.ID, database.PhotoTested); err != nil {
			log.Warn().Err(err).Str("photo_id", photo.ID).Msg("failed to mark photo tested")
		}
	}
	return nil
}

// RunSingle executes cfg against one photo outside any batch and stores the
// run.
func (o *Orchestrator) RunSingle(ctx context.Context, photoID string, cfg layers.EffectiveConfig) (*database.RunResult, error) {
	photo, err := o.store.GetPhoto(ctx, photoID)
	if err != nil {
		return nil, err
	}

	run := &database.RunResult{
		PhotoID:  photo.ID,
		FolderID: photo.FolderID,
		ConfigID: ConfigIDOf(cfg),
		Status:   database.RunPending,
	}
	if err := o.store.CreateRuns(ctx, []*database.RunResult{run}); err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}
	if err := o.runOne(ctx, run, cfg, o.log); err != nil {
		return nil, err
	}
	return run, nil
}

// Cancel stops further submissions for a non-terminal batch. A run already
// in flight finishes normally.
func (o *Orchestrator) Cancel(ctx context.Context, batchID string) (*database.Batch, error) {
	b, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if b.Status.IsTerminal() {
		return b, ErrBatchClosed
	}
	cancelled, err := o.store.SetBatchStatus(ctx, batchID, database.BatchCancelled, nil)
	if err != nil {
		return nil, fmt.Errorf("cancelling batch: %w", err)
	}
	b, err = o.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if !cancelled {
		return b, ErrBatchClosed
	}
	o.log.Info().Str("batch_id", batchID).Msg("batch cancelled")
	return b, nil
}

// Delete removes a batch that is not running together with its runs and
// their corrections.
func (o *Orchestrator) Delete(ctx context.Context, batchID string) error {
	b, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if b.Status == database.BatchRunning {
		return ErrBatchRunning
	}
	if err := o.store.DeleteBatch(ctx, batchID); err != nil {
		return fmt.Errorf("deleting batch: %w", err)
	}
	o.log.Info().Str("batch_id", batchID).Str("status", string(b.Status)).Msg("batch deleted")
	return nil
}

// Refresh recomputes the batch counters from its runs and completes a
// running batch once every run is completed or evaluated. Counters and
// status are written separately so a cancel landing in between survives.
func (o *Orchestrator) Refresh(ctx context.Context, batchID string) (*database.Batch, error) {
	b, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	runs, err := o.store.ListRuns(ctx, database.RunFilter{BatchID: batchID})
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	c := metrics.Count(runs)
	b.Total = c.Total
	b.Completed = c.Completed
	b.Evaluated = c.Evaluated
	b.Correct = c.Correct
	b.Failed = c.Failed

	if err := o.store.UpdateBatchCounters(ctx, b); err != nil {
		return nil, fmt.Errorf("saving batch counters: %w", err)
	}

	if b.Status == database.BatchRunning && b.Total > 0 && b.Completed >= b.Total {
		now := o.now().UTC()
		completed, err := o.store.SetBatchStatus(ctx, batchID, database.BatchCompleted, &now)
		if err != nil {
			return nil, fmt.Errorf("completing batch: %w", err)
		}
		if completed {
			o.log.Info().
				Str("batch_id", batchID).
				Int("total", b.Total).
				Int("correct", b.Correct).
				Int("evaluated", b.Evaluated).
				Msg("batch completed")
		}
	}

	return o.store.GetBatch(ctx, batchID)
}

func (o *Orchestrator) isCancelled(ctx context.Context, batchID string) (bool, error) {
	b, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		return false, err
	}
	return b.Status == database.BatchCancelled, nil
}

func (o *Orchestrator) report(p Progress) {
	if o.onProgress != nil {
		o.onProgress(p)
	}
}

// ConfigIDOf returns the run config id for an effective config.
func ConfigIDOf(cfg layers.EffectiveConfig) string {
	return database.ConfigID(cfg.Key)
}
