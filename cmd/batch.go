package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/meter-lab/internal/batch"
	"github.com/kozaktomas/meter-lab/internal/database"
	"github.com/kozaktomas/meter-lab/internal/layers"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run and resume recognition batches",
}

var batchRunCmd = &cobra.Command{
	Use:   "run <folder-id>",
	Short: "Test a folder's photos against its config",
	Long: `Create a batch over the folder's photos and run every photo through
the folder's effective config. Interrupting with Ctrl+C leaves the batch
running so it can be continued with "batch resume".`,
	Args: cobra.ExactArgs(1),
	RunE: runBatchRun,
}

var batchResumeCmd = &cobra.Command{
	Use:   "resume <batch-id>",
	Short: "Re-run the pending and failed runs of a batch",
	Args:  cobra.ExactArgs(1),
	RunE:  runBatchResume,
}

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.AddCommand(batchRunCmd)
	batchCmd.AddCommand(batchResumeCmd)

	batchCmd.PersistentFlags().String("provider", "", "Vision provider: openai, gemini, ollama, llamacpp (default VISION_PROVIDER)")
	batchCmd.PersistentFlags().Bool("json", false, "Output the finished batch as JSON")

	batchRunCmd.Flags().String("name", "", "Batch name (default folder name and config id)")
	batchRunCmd.Flags().StringSlice("photos", nil, "Photo ids to test, in order (default all photos of the folder)")
	batchRunCmd.Flags().Bool("universal-only", false, "Run the baseline config from the universal layer alone")
}

// signalContext is cancelled on the first SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runBatchRun(cmd *cobra.Command, args []string) error {
	folderID := args[0]
	ctx, stop := signalContext()
	defer stop()

	e, err := openEngine(ctx, mustGetString(cmd, "provider"))
	if err != nil {
		return err
	}

	folder, err := e.store.GetFolder(ctx, folderID)
	if err != nil {
		return err
	}
	photos, err := selectFolderPhotos(ctx, e.store, folder.ID, mustGetStringSlice(cmd, "photos"))
	if err != nil {
		return err
	}
	resolver := e.resolver()
	cfg, err := resolver.ForFolder(ctx, folder, mustGetBool(cmd, "universal-only"))
	if err != nil {
		return err
	}

	name := mustGetString(cmd, "name")
	if name == "" {
		name = folder.Name + " " + batch.ConfigIDOf(cfg)
	}
	b, err := e.orchestrator().Create(ctx, batch.Request{
		Name:     name,
		FolderID: folder.ID,
		Photos:   photos,
		Config:   cfg,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Created batch %s (%s) with %d photos\n", b.ID, b.ConfigID(), b.Total)

	return executeBatch(ctx, cmd, e, b, cfg)
}

func runBatchResume(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	e, err := openEngine(ctx, mustGetString(cmd, "provider"))
	if err != nil {
		return err
	}

	b, err := e.store.GetBatch(ctx, args[0])
	if err != nil {
		return err
	}
	if b.Status.IsTerminal() {
		return fmt.Errorf("batch %s is %s: %w", b.ID, b.Status, batch.ErrBatchClosed)
	}
	cfg, err := e.resolver().Resolve(ctx, b.ConfigKey, b.UniversalOnly)
	if err != nil {
		return err
	}
	fmt.Printf("Resuming batch %s (%s): %d of %d runs done\n", b.ID, b.ConfigID(), b.Completed+b.Evaluated, b.Total)

	return executeBatch(ctx, cmd, e, b, cfg)
}

// executeBatch runs the batch with a progress bar and advances its folder
// once it completes.
func executeBatch(ctx context.Context, cmd *cobra.Command, e *engine, b *database.Batch, cfg layers.EffectiveConfig) error {
	jsonOutput := mustGetBool(cmd, "json")

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		bar = progressbar.NewOptions(b.Total,
			progressbar.OptionSetDescription("Recognizing"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("photos"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}

	orchestrator := e.orchestrator().Observe(func(p batch.Progress) {
		if bar != nil {
			_ = bar.Set(p.Done)
		}
	})
	done, err := orchestrator.Execute(ctx, b.ID, cfg)
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}
	if errors.Is(err, context.Canceled) {
		fmt.Printf("Interrupted. Continue with: meter-lab batch resume %s\n", b.ID)
		return nil
	}
	if err != nil {
		return err
	}

	if done.Status == database.BatchCompleted && done.FolderID != "" {
		moved, err := newGate(e.store, e.cfg).MarkReady(ctx, done.FolderID)
		if err != nil {
			fmt.Printf("Warning: checking folder readiness failed: %v\n", err)
		} else if moved && !jsonOutput {
			fmt.Printf("Folder %s is ready for promotion\n", done.FolderID)
		}
	}

	if jsonOutput {
		return outputJSON(done)
	}
	printBatch(done)
	return nil
}

func printBatch(b *database.Batch) {
	fmt.Printf("Batch:     %s (%s)\n", b.Name, b.ID)
	fmt.Printf("Config:    %s\n", b.ConfigID())
	fmt.Printf("Status:    %s\n", b.Status)
	fmt.Printf("Runs:      %d total, %d completed, %d evaluated, %d failed\n", b.Total, b.Completed, b.Evaluated, b.Failed)
	if b.Evaluated > 0 {
		fmt.Printf("Correct:   %d/%d (%.1f%%)\n", b.Correct, b.Evaluated, float64(b.Correct)/float64(b.Evaluated)*100)
	}
	if b.Status == database.BatchRunning {
		fmt.Printf("Continue with: meter-lab batch resume %s\n", b.ID)
	}
}

// selectFolderPhotos returns the folder's photos, or the requested ones in
// the given order.
func selectFolderPhotos(ctx context.Context, store database.Store, folderID string, ids []string) ([]database.Photo, error) {
	all, err := store.ListPhotosByFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return all, nil
	}
	byID := make(map[string]database.Photo, len(all))
	for _, p := range all {
		byID[p.ID] = p
	}
	photos := make([]database.Photo, 0, len(ids))
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("photo %s is not in folder %s", id, folderID)
		}
		photos = append(photos, p)
	}
	return photos, nil
}
