package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-hub/internal/api"
	"github.com/nerrad567/gray-logic-hub/internal/auth"
	"github.com/nerrad567/gray-logic-hub/internal/hub"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/logging"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the hub and its API until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.Default()
			cfg, path, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			log.Info("configuration loaded", "path", path)
			return run(cmd.Context(), cfg)
		},
	}
}

// run starts the hub and API, then blocks until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config) error {
	log := logging.New(cfg.Logging, version)
	log.Info("starting Gray Logic Hub",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	validator, err := auth.NewValidator(cfg.Security.JWT.Secret, cfg.Security.Tokens)
	if err != nil {
		return fmt.Errorf("loading access tokens: %w", err)
	}

	h, err := hub.New(ctx, hub.Options{Config: cfg, Logger: log, Version: version})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := h.Close(); closeErr != nil {
			log.Error("error stopping hub", "error", closeErr)
		}
	}()

	if err := h.Start(ctx); err != nil {
		return fmt.Errorf("starting hub: %w", err)
	}

	server, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Site:        cfg.Site,
		Logger:      log.Component("api"),
		Auth:        validator,
		States:      h.States,
		Bus:         h.Bus,
		Services:    h.Services,
		Renderer:    h.Renderer,
		Automations: h.Automations,
		Scenes:      h.Scenes,
		Recorder:    h.Recorder,
		Logbook:     h.Logbook,
		Metrics:     h.Metrics.Handler(),
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	h.Metrics.AddGauge("websocket_clients", "Authenticated WebSocket connections.", func() float64 {
		return float64(server.Hub().ClientCount())
	})
	h.Metrics.AddCounter("websocket_dropped_events_total", "Events dropped for slow WebSocket clients.", func() float64 {
		return float64(server.Hub().Dropped())
	})

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}

	if err := h.HealthCheck(ctx); err != nil {
		server.Close()
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal",
		"address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, cleaning up")
		return server.Close()
	})
	return g.Wait()
}
