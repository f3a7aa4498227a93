package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/meter-lab/internal/config"
)

var folderCmd = &cobra.Command{
	Use:   "folder",
	Short: "Manage test folders",
}

var folderTestCmd = &cobra.Command{
	Use:   "test <folder-id>",
	Short: "Move a draft folder into testing",
	Long: `Move a draft folder into testing. The folder needs at least its
minimum number of photos.`,
	Args: cobra.ExactArgs(1),
	RunE: runFolderTest,
}

func init() {
	rootCmd.AddCommand(folderCmd)
	folderCmd.AddCommand(folderTestCmd)
}

func runFolderTest(_ *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	folder, err := newGate(store, cfg).StartTesting(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Folder %s (%s) is now %s\n", folder.Name, folder.ID, folder.Status)
	fmt.Printf("Start a test with: meter-lab batch run %s\n", folder.ID)
	return nil
}
