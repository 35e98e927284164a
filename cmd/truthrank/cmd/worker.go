package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newWorkerCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the background scheduler without the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return c.work(ctx)
		},
	}
}

func (c *cli) work(ctx context.Context) error {
	app, err := NewApp(ctx, c.cfg, c.log, nil)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Scheduler.Start(ctx); err != nil {
		return err
	}
	for _, job := range app.Scheduler.ListJobs() {
		c.log.Info().Str("job", job.Name).Str("schedule", job.Schedule).Time("next_run", job.NextRun).Msg("job scheduled")
	}

	<-ctx.Done()
	c.log.Info().Msg("received shutdown signal")
	return app.Scheduler.Stop()
}
