package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newRunJobCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "run-job <name>",
		Short: "Run one scheduled job now and print its result",
		Long: `Run one scheduled job immediately, outside its schedule, and print the
result as JSON. Exits non-zero when the job fails.

Jobs:
  recalculate_ranks       batch rank recalculation
  detect_inactive         dormancy detection
  refresh_leaderboards    rebuild leaderboard snapshots`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApp(cmd.Context(), c.cfg, c.log, nil)
			if err != nil {
				return err
			}
			defer app.Close()

			result, runErr := app.Scheduler.RunNow(cmd.Context(), args[0])
			if result == nil {
				if runErr != nil {
					var names []string
					for _, j := range app.Scheduler.ListJobs() {
						names = append(names, j.Name)
					}
					return fmt.Errorf("%w (known jobs: %s)", runErr, strings.Join(names, ", "))
				}
				return nil
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
			if runErr != nil {
				return fmt.Errorf("job %s failed: %w", args[0], runErr)
			}
			return nil
		},
	}
}
