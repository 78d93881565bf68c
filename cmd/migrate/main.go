package main

import (
	"CarbonLedger/internal/config"
	"CarbonLedger/internal/observability"
	"CarbonLedger/internal/persistence"
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configFile string

func main() {
	root := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the call log and projection schema",
		Long: `Migrations are embedded in the binary. The Postgres DSN is read from
postgres.dsn in --config or from CARBON_POSTGRES_DSN.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "config file (yaml, toml or json)")

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd, (*persistence.Migrator).Up, "all migrations applied")
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd, (*persistence.Migrator).Down, "last migration rolled back")
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List the embedded up migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				names, err := persistence.ListMigrations(persistence.Migrations(), ".up.sql")
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Fprintln(cmd.OutOrStdout(), n)
				}
				return nil
			},
		},
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, step func(*persistence.Migrator, context.Context) error, done string) error {
	cfg, err := config.Load(viper.New(), configFile)
	if err != nil {
		return err
	}
	logger := observability.NewLoggerWithLevel("migrate", observability.ParseLogLevel(cfg.Log.Level))

	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	migrator := persistence.NewMigrator(db, persistence.Migrations(), logger)
	if err := step(migrator, cmd.Context()); err != nil {
		logger.Error().Err(err).Msg("migration failed")
		return err
	}
	logger.Info().Msg(done)
	return nil
}
