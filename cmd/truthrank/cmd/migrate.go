package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/truthrank/truthrank/config"
	"github.com/truthrank/truthrank/internal/infrastructure/persistence/postgres"
)

func newMigrateCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
		Long: `Manage the Postgres schema with the embedded migrations.

Examples:
  truthrank migrate up        # apply pending migrations
  truthrank migrate down      # roll back the latest migration
  truthrank migrate status    # list migrations and their state`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				m, err := c.migrator()
				if err != nil {
					return err
				}
				applied, err := m.Up(cmd.Context())
				if err != nil {
					return err
				}
				if len(applied) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				}
				for _, v := range applied {
					fmt.Fprintf(cmd.OutOrStdout(), "applied %05d\n", v)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			RunE: func(cmd *cobra.Command, _ []string) error {
				m, err := c.migrator()
				if err != nil {
					return err
				}
				v, err := m.Down(cmd.Context())
				if err != nil {
					return err
				}
				if v == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "nothing to roll back")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %05d\n", v)
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List embedded migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				m, err := c.migrator()
				if err != nil {
					return err
				}
				statuses, err := m.Status(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED AT")
				for _, s := range statuses {
					at := "pending"
					if s.Applied {
						at = s.AppliedAt.UTC().Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%05d\t%s\t%s\n", s.Version, s.Name, at)
				}
				return w.Flush()
			},
		},
	)
	return cmd
}

func (c *cli) migrator() (*postgres.Migrator, error) {
	if c.cfg.Database.Driver != config.BackendPostgres {
		return nil, errors.New("migrate needs database.driver=postgres")
	}
	return postgres.NewMigrator(c.cfg.Database.DSN()), nil
}
