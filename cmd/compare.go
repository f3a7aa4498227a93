package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/meter-lab/internal/config"
	"github.com/kozaktomas/meter-lab/internal/metrics"
)

var compareCmd = &cobra.Command{
	Use:   "compare <config-a> <config-b>",
	Short: "A/B compare the accuracy of two configs",
	Long: `Compare two configs over the same time window and record the result.
B wins when its accuracy exceeds A's by more than the threshold, A wins in
the opposite case, and anything closer is a tie.`,
	Args: cobra.ExactArgs(2),
	RunE: runCompare,
}

func init() {
	rootCmd.AddCommand(compareCmd)

	compareCmd.Flags().Float64("threshold", -1, "Materiality threshold (default AB_MATERIALITY_THRESHOLD)")
	compareCmd.Flags().String("from", "", "Window start (RFC 3339)")
	compareCmd.Flags().String("to", "", "Window end (RFC 3339)")
	compareCmd.Flags().Bool("json", false, "Output as JSON")
}

func runCompare(cmd *cobra.Command, args []string) error {
	if args[0] == args[1] {
		return errors.New("configs to compare must differ")
	}
	cfg := config.Load()

	threshold := mustGetFloat64(cmd, "threshold")
	if threshold < 0 {
		threshold = cfg.Recognition.MaterialityThreshold
	}
	if threshold > 1 {
		return fmt.Errorf("threshold %v is above 1", threshold)
	}
	var window metrics.Window
	var err error
	if window.From, err = getTime(cmd, "from"); err != nil {
		return err
	}
	if window.To, err = getTime(cmd, "to"); err != nil {
		return err
	}

	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	comparison, stats, err := metrics.Compare(ctx, store, args[0], args[1], window, threshold)
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(struct {
			Comparison any                     `json:"comparison"`
			Stats      metrics.ComparisonStats `json:"stats"`
		}{comparison, stats})
	}
	fmt.Printf("A %-30s %s over %d evaluated runs\n", comparison.ConfigA, percent(stats.A.AccuracyRate), stats.A.Evaluated)
	fmt.Printf("B %-30s %s over %d evaluated runs\n", comparison.ConfigB, percent(stats.B.AccuracyRate), stats.B.Evaluated)
	fmt.Printf("Delta (B-A): %s, threshold %.1f%%\n", signedPercent(comparison.Delta), comparison.Threshold*100)
	fmt.Printf("Winner: %s (comparison %s)\n", comparison.Winner, comparison.ID)
	return nil
}
