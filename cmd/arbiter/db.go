package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/robalyx/arbiter/internal/database"
	"github.com/robalyx/arbiter/internal/database/migrations"
	"github.com/robalyx/arbiter/internal/setup/config"
	"github.com/uptrace/bun/migrate"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

var ErrNameRequired = errors.New("NAME argument required")

// migrationFunc runs against a connected migrator.
type migrationFunc func(ctx context.Context, c *cli.Command, migrator *migrate.Migrator, logger *zap.Logger) error

func dbCommand() *cli.Command {
	return &cli.Command{
		Name:  "db",
		Usage: "Database management",
		Commands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "Initialize migration tables",
				Action: withMigrator(initMigrations),
			},
			{
				Name:   "migrate",
				Usage:  "Run pending migrations",
				Action: withMigrator(runMigrations),
			},
			{
				Name:   "rollback",
				Usage:  "Rollback the last migration group",
				Action: withMigrator(rollbackMigrations),
			},
			{
				Name:   "status",
				Usage:  "Show migration status",
				Action: withMigrator(migrationStatus),
			},
			{
				Name:      "create",
				Usage:     "Create a new Go migration file",
				ArgsUsage: "NAME",
				Action:    withMigrator(createMigration),
			},
		},
	}
}

func initMigrations(ctx context.Context, _ *cli.Command, migrator *migrate.Migrator, logger *zap.Logger) error {
	if err := migrator.Init(ctx); err != nil {
		return err
	}

	logger.Info("Initialized migration tables")
	return nil
}

func runMigrations(ctx context.Context, _ *cli.Command, migrator *migrate.Migrator, logger *zap.Logger) error {
	if err := migrator.Init(ctx); err != nil {
		return err
	}

	if err := migrator.Lock(ctx); err != nil {
		return err
	}
	defer migrator.Unlock(ctx) //nolint:errcheck

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return err
	}

	if group.IsZero() {
		logger.Info("No new migrations to run (database is up to date)")
		return nil
	}

	logger.Info("Successfully migrated",
		zap.String("group", group.String()),
	)
	return nil
}

func rollbackMigrations(ctx context.Context, _ *cli.Command, migrator *migrate.Migrator, logger *zap.Logger) error {
	if err := migrator.Lock(ctx); err != nil {
		return err
	}
	defer migrator.Unlock(ctx) //nolint:errcheck

	group, err := migrator.Rollback(ctx)
	if err != nil {
		return err
	}

	if group.IsZero() {
		logger.Info("No groups to roll back")
		return nil
	}

	logger.Info("Successfully rolled back",
		zap.String("group", group.String()),
	)
	return nil
}

func migrationStatus(ctx context.Context, _ *cli.Command, migrator *migrate.Migrator, logger *zap.Logger) error {
	ms, err := migrator.MigrationsWithStatus(ctx)
	if err != nil {
		return err
	}

	logger.Info("Migration status",
		zap.String("migrations", ms.String()),
		zap.String("unapplied", ms.Unapplied().String()),
		zap.String("last_group", ms.LastGroup().String()),
	)
	return nil
}

func createMigration(ctx context.Context, c *cli.Command, migrator *migrate.Migrator, logger *zap.Logger) error {
	if c.Args().Len() != 1 {
		return ErrNameRequired
	}

	mf, err := migrator.CreateGoMigration(ctx, c.Args().First())
	if err != nil {
		return err
	}

	logger.Info("Created Go migration",
		zap.String("name", mf.Name),
		zap.String("path", mf.Path),
	)
	return nil
}

// withMigrator connects to the database for the duration of one command.
func withMigrator(fn migrationFunc) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		cfg, _, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logger, err := zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		defer logger.Sync() //nolint:errcheck

		db, err := database.NewConnection(ctx, &cfg.Common.PostgreSQL, nil, logger, false)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		return fn(ctx, c, migrate.NewMigrator(db.DB(), migrations.Migrations), logger)
	}
}
