package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(c *cli) *cobra.Command {
	var withoutScheduler bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API together with the background scheduler.
Ctrl+C (or SIGTERM) drains in-flight requests before exiting.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx, !withoutScheduler)
		},
	}
	cmd.Flags().BoolVar(&withoutScheduler, "no-scheduler", false, "serve the API without running scheduled jobs")
	return cmd
}

func (c *cli) serve(ctx context.Context, withScheduler bool) error {
	log := c.log
	log.Info().
		Str("version", c.cfg.App.Version).
		Str("environment", string(c.cfg.App.Environment)).
		Str("database", c.cfg.Database.Driver).
		Str("leaderboard", c.cfg.Leaderboard.Backend).
		Str("events", c.cfg.Events.Backend).
		Msg("starting truthrank")

	app, err := NewApp(ctx, c.cfg, log, nil)
	if err != nil {
		return err
	}
	defer app.Close()

	if withScheduler {
		if err := app.Scheduler.Start(ctx); err != nil {
			return err
		}
	}

	server := app.HTTPServer()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Dur("timeout", c.cfg.App.ShutdownTimeout).Msg("starting graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.App.ShutdownTimeout)
		defer cancel()
		if withScheduler {
			if err := app.Scheduler.Stop(); err != nil {
				log.Warn().Err(err).Msg("scheduler stop")
			}
		}
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("shutdown with error")
		return err
	}
	log.Info().Msg("shutdown completed")
	return nil
}
