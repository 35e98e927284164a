// Package cmd holds the truthrank command line.
package cmd

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/truthrank/truthrank/config"
	"github.com/truthrank/truthrank/pkg/logger"
)

// Build information, set with -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// cli carries what the persistent pre-run resolved for the subcommands.
type cli struct {
	cfgFile string
	envFile string
	verbose bool

	cfg *config.Config
	log zerolog.Logger
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "truthrank",
		Short: "TruthRank reputation engine",
		Long: `TruthRank scores forecasting accuracy and promotes users through rank tiers.

Commands:
    serve       HTTP API with the background scheduler
    worker      background scheduler only
    migrate     database schema management
    run-job     run one scheduled job and print its result`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd)
		},
	}

	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (default $"+config.PathEnv+")")
	root.PersistentFlags().StringVar(&c.envFile, "env-file", "", "dotenv file to load before reading the environment (default .env when present)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newServeCmd(c),
		newWorkerCmd(c),
		newMigrateCmd(c),
		newRunJobCmd(c),
		newVersionCmd(),
	)
	return root
}

func (c *cli) init(cmd *cobra.Command) error {
	if c.envFile != "" {
		if err := godotenv.Load(c.envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.Load(c.cfgFile)
	if err != nil {
		return err
	}
	if cfg.App.Version == "" {
		cfg.App.Version = Version
	}

	lc := cfg.Logger()
	if c.verbose {
		lc.Level = "debug"
	}
	lc.Output = cmd.ErrOrStderr()
	log, err := logger.Init(lc)
	if err != nil {
		return err
	}

	c.cfg = cfg
	c.log = log
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		// Skip config loading.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "truthrank %s (built %s)\n", Version, BuildTime)
		},
	}
}
