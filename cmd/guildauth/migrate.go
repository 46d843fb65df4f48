package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/smallbiznis/guildauth/internal/bootstrap"
)

func newMigrateCommand() *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back the database schema",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(bootstrap.Up), string(bootstrap.Down)},
		RunE: func(cmd *cobra.Command, args []string) error {
			direction := bootstrap.Up
			if len(args) == 1 {
				direction = bootstrap.Direction(args[0])
			}
			if databaseURL == "" {
				databaseURL = os.Getenv("DATABASE_URL")
			}
			if databaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}

			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			return bootstrap.Migrate(databaseURL, direction, logger)
		},
	}
	cmd.Flags().StringVar(&databaseURL, "database-url", "", "postgres connection string (defaults to $DATABASE_URL)")

	cobra.OnInitialize(func() { _ = godotenv.Load() })
	return cmd
}
