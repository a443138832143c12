package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gridwatch/hotspotd/internal/config"
	"github.com/gridwatch/hotspotd/internal/worker"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP worker service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := config.EnsureDataDir(); err != nil {
				return err
			}

			log.Info().
				Str("version", Version).
				Float64("threshold", cfg.SimilarityThreshold).
				Msg("Starting hotspotd worker")

			svc, err := worker.NewService(Version, cfg)
			if err != nil {
				return err
			}
			if err := svc.Start(); err != nil {
				return err
			}

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit
			log.Info().Msg("Received shutdown signal")

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return svc.Shutdown(ctx)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
	return cmd
}
