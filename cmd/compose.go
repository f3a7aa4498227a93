package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/meter-lab/internal/batch"
	"github.com/kozaktomas/meter-lab/internal/config"
	"github.com/kozaktomas/meter-lab/internal/layers"
)

var composeCmd = &cobra.Command{
	Use:   "compose",
	Short: "Print the effective config for a layer chain",
	Long: `Compose the universal, type and model layers into the effective
configuration a run would use and print it as JSON.
Without --universal-version the active universal layer is used.`,
	RunE: runCompose,
}

func init() {
	rootCmd.AddCommand(composeCmd)

	composeCmd.Flags().Int("universal-version", 0, "Universal layer version (0 = active)")
	composeCmd.Flags().String("type", "", "Type layer id")
	composeCmd.Flags().String("model", "", "Model layer id")
	composeCmd.Flags().Bool("universal-only", false, "Compose the baseline from the universal layer alone")
}

func runCompose(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	store, err := openStore(ctx, config.Load())
	if err != nil {
		return err
	}

	cfg, err := batch.NewResolver(store, nil).Resolve(ctx, layers.Key{
		UniversalVersion: mustGetInt(cmd, "universal-version"),
		TypeConfigID:     mustGetString(cmd, "type"),
		ModelConfigID:    mustGetString(cmd, "model"),
	}, mustGetBool(cmd, "universal-only"))
	if err != nil {
		return err
	}
	return outputJSON(cfg)
}
