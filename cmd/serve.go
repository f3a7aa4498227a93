package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/meter-lab/internal/config"
	"github.com/kozaktomas/meter-lab/internal/constants"
	"github.com/kozaktomas/meter-lab/internal/logger"
	"github.com/kozaktomas/meter-lab/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Start the meter-lab HTTP API.
The API manages config layers, test folders, batches, evaluations,
accuracy statistics and promotion of folders to production models.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
	serveCmd.Flags().String("provider", "", "Vision provider: openai, gemini, ollama, llamacpp (default VISION_PROVIDER)")
}

// applyServeFlags lets explicit flags win over the environment.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	fmt.Printf("Connecting to PostgreSQL database...\n")
	e, err := openEngine(ctx, mustGetString(cmd, "provider"))
	if err != nil {
		return err
	}
	applyServeFlags(cmd, e.cfg)

	server := web.NewServer(e.cfg, web.Engine{
		Store:    e.store,
		Provider: e.provider,
		Objects:  e.objects,
	}, logger.Named("web"))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, constants.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting meter-lab API on http://%s:%d (provider %s)\n", e.cfg.Web.Host, e.cfg.Web.Port, e.provider.Name())
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
