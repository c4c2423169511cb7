package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/speedrun-hq/speedrun-router/pkg/config"
	"github.com/speedrun-hq/speedrun-router/pkg/service"
)

// NewServeCommand creates the serve command.
func NewServeCommand(_ *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API, health server and intent orchestrator",
		Long: `Run the router service. Configuration comes from the environment and an
optional .env file in the working directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			log := newLogger(cfg)

			// Cancel on SIGINT/SIGTERM for graceful shutdown
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := service.NewService(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("failed to create router service: %w", err)
			}
			defer svc.Close()

			log.Info("Starting the router service...")
			if err := svc.Start(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			log.Info("Router service stopped")
			return nil
		},
	}
}

