package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/meter-lab/internal/config"
	"github.com/kozaktomas/meter-lab/internal/promotion"
)

var promoteCmd = &cobra.Command{
	Use:   "promote <folder-id>",
	Short: "Promote a tested folder to a production model",
	Args:  cobra.ExactArgs(1),
	RunE:  runPromote,
}

func init() {
	rootCmd.AddCommand(promoteCmd)

	promoteCmd.Flags().String("name", "", "Production model name (default folder name)")
	promoteCmd.Flags().Bool("json", false, "Output as JSON")
}

func runPromote(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	res, err := newGate(store, cfg).Promote(ctx, args[0], mustGetString(cmd, "name"))
	var notEligible *promotion.NotEligibleError
	if errors.As(err, &notEligible) {
		return fmt.Errorf("%w: unmet %s", err, strings.Join(notEligible.Eligibility.Unmet(), ", "))
	}
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(res)
	}
	verb := "Updated"
	if res.Created {
		verb = "Created"
	}
	fmt.Printf("%s production model %s (%s)\n", verb, res.Model.Name, res.Model.ID)
	fmt.Printf("Accuracy: %.1f%% from batch %s\n", res.Model.Accuracy*100, res.Model.SourceBatchID)
	fmt.Printf("Folder %s is now %s\n", res.Folder.ID, res.Folder.Status)
	return nil
}
