package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/meter-lab/internal/fingerprint"
)

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint <file>...",
	Short: "Compute exact and perceptual hashes of image files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runFingerprint,
}

func init() {
	rootCmd.AddCommand(fingerprintCmd)

	fingerprintCmd.Flags().Bool("json", false, "Output as JSON")
}

// FingerprintOutput is one file's hashes.
type FingerprintOutput struct {
	File string `json:"file"`
	fingerprint.Result
	Warning string `json:"warning,omitempty"`
}

func runFingerprint(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	results := make([]FingerprintOutput, 0, len(args))
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		res, err := fingerprint.Compute(data)
		out := FingerprintOutput{File: path, Result: res}
		var decodeErr *fingerprint.DecodeError
		if errors.As(err, &decodeErr) {
			out.Warning = err.Error()
		} else if err != nil {
			return fmt.Errorf("fingerprinting %s: %w", path, err)
		}
		results = append(results, out)
	}

	if jsonOutput {
		return outputJSON(results)
	}
	for _, r := range results {
		fmt.Printf("%s\n", r.File)
		fmt.Printf("  exact:      %s\n", r.Exact)
		if r.Perceptual != "" {
			fmt.Printf("  perceptual: %s\n", r.Perceptual)
		}
		if r.Warning != "" {
			fmt.Printf("  warning:    %s\n", r.Warning)
		}
	}
	return nil
}
