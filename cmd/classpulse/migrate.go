package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"classpulse/internal/app"
	"classpulse/internal/store"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(*configPath, func(st *store.Manager, logger *zap.Logger) error {
				if err := store.Migrate(st.DB()); err != nil {
					return err
				}
				return printVersion(cmd, st)
			})
		},
	}

	down := &cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("steps must be a positive integer, got %q", args[0])
				}
				steps = n
			}
			return withStore(*configPath, func(st *store.Manager, logger *zap.Logger) error {
				if err := store.MigrateDown(st.DB(), steps); err != nil {
					return err
				}
				logger.Info("migrations rolled back", zap.Int("steps", steps))
				return printVersion(cmd, st)
			})
		},
	}

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(*configPath, func(st *store.Manager, logger *zap.Logger) error {
				return printVersion(cmd, st)
			})
		},
	}

	migrateCmd.AddCommand(up, down, version)
	return migrateCmd
}

// withStore opens the database without auto-migration so the migrate
// commands control the schema themselves.
func withStore(configPath string, fn func(*store.Manager, *zap.Logger) error) error {
	cfg, logger, err := loadRuntime(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	sc := app.StoreConfig(cfg)
	sc.AutoMigrate = false
	st, err := store.Open(sc, logger.Named("store"))
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st, logger)
}

func printVersion(cmd *cobra.Command, st *store.Manager) error {
	v, dirty, err := store.MigrationVersion(st.DB())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", v, dirty)
	return nil
}
