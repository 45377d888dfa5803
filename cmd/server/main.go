package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/harrylevesque/memberhub/internal/app"
	"github.com/harrylevesque/memberhub/internal/config"
	"github.com/harrylevesque/memberhub/internal/utils"
)

func main() {
	var configPath string
	cmd := &cobra.Command{
		Use:           "server",
		Short:         "Run the memberhub HTTP server",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			utils.InitLogger(cfg.Log.Level, cfg.Log.Format)
			return app.Run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "memberhub.yaml", "path to the YAML config file")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("server stopped")
		stop()
		os.Exit(1)
	}
	log.Info().Msg("server stopped")
}
