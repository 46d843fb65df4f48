package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/guildauth/internal/config"
	"github.com/smallbiznis/guildauth/migrations"
)

// Direction selects which way Migrate moves the schema.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Migrate applies the embedded migrations to databaseURL.
func Migrate(databaseURL string, direction Direction, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.L()
	}
	m, err := newMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.Warn("close migrator", zap.NamedError("source", srcErr), zap.NamedError("database", dbErr))
		}
	}()

	switch direction {
	case Up:
		err = m.Up()
	case Down:
		err = m.Down()
	default:
		return fmt.Errorf("unknown migration direction %q", direction)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("no migrations to apply", zap.String("direction", string(direction)))
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", direction, err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read schema version: %w", err)
	}
	logger.Info("migrations applied",
		zap.String("direction", string(direction)),
		zap.Uint("version", version),
		zap.Bool("dirty", dirty),
	)
	return nil
}

func newMigrator(databaseURL string) (*migrate.Migrate, error) {
	if databaseURL == "" {
		return nil, errors.New("migrate: DATABASE_URL is required")
	}
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

// AutoMigrate applies pending migrations on start when AUTO_MIGRATE is set.
func AutoMigrate(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) {
	if !cfg.AutoMigrate {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return Migrate(cfg.DatabaseURL, Up, logger)
		},
	})
}
