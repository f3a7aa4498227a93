package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/meter-lab/internal/config"
	"github.com/kozaktomas/meter-lab/internal/promotion"
)

var universalCmd = &cobra.Command{
	Use:   "universal",
	Short: "Manage universal layers",
}

var universalActivateCmd = &cobra.Command{
	Use:   "activate <layer-id>",
	Short: "Make a universal layer the active one",
	Args:  cobra.ExactArgs(1),
	RunE:  runUniversalActivate,
}

func init() {
	rootCmd.AddCommand(universalCmd)
	universalCmd.AddCommand(universalActivateCmd)
}

func runUniversalActivate(_ *cobra.Command, args []string) error {
	ctx := context.Background()
	store, err := openStore(ctx, config.Load())
	if err != nil {
		return err
	}

	// Composed configs are cached by universal version, so a running server
	// picks up the new layer without an invalidation.
	l, err := promotion.ActivateUniversal(ctx, store, nil, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Universal layer %s (version %d) is now active\n", l.ID, l.Version)
	return nil
}
