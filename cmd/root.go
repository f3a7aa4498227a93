package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/meter-lab/internal/config"
	"github.com/kozaktomas/meter-lab/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "meter-lab",
	Short: "Test and promote meter-reading prompt configurations",
	Long: `Meter Lab runs photos of utility meters through a vision model using
layered prompt configurations, scores the readings against ground truth,
compares configurations and promotes the best one for each meter model.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
	logger.Init(logger.FromConfig(config.Load().Log))
}
