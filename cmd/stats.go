package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/meter-lab/internal/config"
	"github.com/kozaktomas/meter-lab/internal/metrics"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show accuracy statistics",
	Long: `Aggregate stored runs into accuracy, confidence, latency and cost
statistics. Narrow the scope with --batch, --folder, --config and the
--from/--to window (RFC 3339). A --config scope also compares against the
config named by --baseline, or the universal-only baseline of the same
universal version.`,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().String("batch", "", "Batch id")
	statsCmd.Flags().String("folder", "", "Folder id")
	statsCmd.Flags().String("config", "", "Config id, e.g. u3/<type>/<model>")
	statsCmd.Flags().String("baseline", "", "Baseline config id to compare --config against")
	statsCmd.Flags().String("from", "", "Window start (RFC 3339)")
	statsCmd.Flags().String("to", "", "Window end (RFC 3339)")
	statsCmd.Flags().Bool("json", false, "Output as JSON")
}

func runStats(cmd *cobra.Command, _ []string) error {
	scope := metrics.Scope{
		BatchID:          mustGetString(cmd, "batch"),
		FolderID:         mustGetString(cmd, "folder"),
		ConfigID:         mustGetString(cmd, "config"),
		BaselineConfigID: mustGetString(cmd, "baseline"),
	}
	var err error
	if scope.From, err = getTime(cmd, "from"); err != nil {
		return err
	}
	if scope.To, err = getTime(cmd, "to"); err != nil {
		return err
	}
	if !scope.From.IsZero() && !scope.To.IsZero() && scope.To.Before(scope.From) {
		return errors.New("--to is before --from")
	}

	ctx := context.Background()
	store, err := openStore(ctx, config.Load())
	if err != nil {
		return err
	}
	stats, err := metrics.ForScope(ctx, store, scope)
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(stats)
	}
	printStats(stats)
	return nil
}

func printStats(s metrics.Stats) {
	fmt.Printf("Runs:        %d total, %d completed, %d evaluated, %d failed\n", s.Total, s.Completed, s.Evaluated, s.Failed)
	fmt.Printf("Accuracy:    %s (%d correct)\n", percent(s.AccuracyRate), s.Correct)
	fmt.Printf("Model match: %s\n", percent(s.MatchRate))
	fmt.Printf("Confidence:  %s mean, high %d / medium %d / low %d / very low %d\n",
		percent(s.MeanConfidence), s.Confidence.High, s.Confidence.Medium, s.Confidence.Low, s.Confidence.VeryLow)
	fmt.Printf("Needs review: %d\n", s.NeedsReview)
	fmt.Printf("Latency:     mean %.0fms, p50 %.0fms, p90 %.0fms, max %.0fms\n", s.Latency.Mean, s.Latency.P50, s.Latency.P90, s.Latency.Max)
	fmt.Printf("Tokens:      %d in, %d out, $%.4f\n", s.InputTokens, s.OutputTokens, s.TotalCost)

	if len(s.Timeline) > 0 {
		fmt.Println("\nTimeline:")
		for _, d := range s.Timeline {
			fmt.Printf("  %s  %4d runs  %4d evaluated  %s\n", d.Date, d.Runs, d.Evaluated, percent(d.Accuracy))
		}
	}
	if len(s.ErrorPatterns) > 0 {
		fmt.Println("\nError patterns:")
		for _, p := range s.ErrorPatterns {
			fmt.Printf("  %-20s %d\n", p.Category, p.Count)
			for _, ex := range p.Examples {
				fmt.Printf("    - %s\n", ex)
			}
		}
	}
	if b := s.Baseline; b != nil {
		fmt.Printf("\nBaseline %s: %s over %d evaluated runs (delta %s)\n",
			b.ConfigID, percent(b.Accuracy), b.EvaluatedRuns, signedPercent(b.AccuracyDelta))
	}
}

func signedPercent(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%+.1f%%", *v*100)
}
