package main

import (
	"fmt"
	"os"

	"github.com/bwise1/pothole_watch/config"
	"github.com/bwise1/pothole_watch/internal/store"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for potholectl.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "potholectl",
		Short: "Operator tool for the pothole report store",
		Long: `potholectl works directly against the report database configured for the
server (DB_DRIVER and DSN, overridable with --driver and --dsn).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("driver", "", "database driver (postgres or sqlite); defaults to DB_DRIVER")
	cmd.PersistentFlags().String("dsn", "", "postgres DSN or sqlite directory; defaults to DSN")

	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewGroupsCmd())
	cmd.AddCommand(NewDistanceCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openStore resolves the backend from flags, falling back to the environment.
func openStore(cmd *cobra.Command) (store.Store, error) {
	cfg, err := config.Parse()
	if err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	driver, _ := cmd.Flags().GetString("driver")
	dsn, _ := cmd.Flags().GetString("dsn")
	if driver == "" {
		driver = cfg.DBDriver
	}
	if dsn == "" {
		dsn = cfg.Dsn
	}
	return store.Open(driver, dsn)
}
