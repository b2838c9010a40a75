package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fastygo/planner/internal/config"
	pgInfra "github.com/fastygo/planner/internal/infrastructure/postgres"
	"github.com/fastygo/planner/pkg/logger"
)

func newMigrateCmd() *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Move the mirror database schema",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{string(pgInfra.Up), string(pgInfra.Down)},
		RunE: func(cmd *cobra.Command, args []string) error {
			direction := pgInfra.Up
			if len(args) == 1 {
				direction = pgInfra.Direction(args[0])
			}
			if direction != pgInfra.Up && direction != pgInfra.Down {
				return fmt.Errorf("unknown direction %q, want up or down", args[0])
			}
			if steps < 0 {
				return fmt.Errorf("--steps must not be negative")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cfg.Database.Enabled {
				return fmt.Errorf("postgres mirror is disabled (DB_ENABLED=false)")
			}
			zapLogger, err := logger.New(logger.Config{Level: cfg.Logger.Level, Encoding: cfg.Logger.Encoding})
			if err != nil {
				return err
			}
			defer zapLogger.Sync()

			return pgInfra.Migrate(cfg, direction, steps, zapLogger)
		},
	}

	cmd.Flags().IntVar(&steps, "steps", 0, "Number of versions to move (default: all)")
	return cmd
}
