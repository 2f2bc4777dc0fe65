package setup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/robalyx/arbiter/internal/appeal"
	"github.com/robalyx/arbiter/internal/appeal/history"
	"github.com/robalyx/arbiter/internal/appeal/notify"
	"github.com/robalyx/arbiter/internal/database"
	"github.com/robalyx/arbiter/internal/database/dbretry"
	"github.com/robalyx/arbiter/internal/database/migrations"
	"github.com/robalyx/arbiter/internal/discord"
	"github.com/robalyx/arbiter/internal/queue"
	"github.com/robalyx/arbiter/internal/redis"
	"github.com/robalyx/arbiter/internal/setup/config"
	"github.com/robalyx/arbiter/internal/setup/telemetry"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"
)

// Version is stamped into traces.
var Version = "dev"

// statsCacheTTL bounds how stale cached user stats may get.
const statsCacheTTL = 10 * time.Minute

var (
	// ErrPendingMigrations is returned when the schema is behind and auto-migrate is off.
	ErrPendingMigrations = errors.New("database migrations are pending")
	// ErrMissingDiscordToken is returned when the worker has no bot token.
	ErrMissingDiscordToken = errors.New("discord token is required to run the worker")
)

// App bundles all core dependencies and services needed by the application.
type App struct {
	Config       *config.Config     // Application configuration
	ConfigDir    string             // Directory the config was loaded from
	Settings     *config.Source     // Hot-reloadable appeal parameter sets
	Logger       *zap.Logger        // Main application logger
	DBLogger     *zap.Logger        // Database-specific logger
	DB           database.Client    // Database connection pool
	RedisManager *redis.Manager     // Redis connection manager
	Engine       *appeal.Engine     // Appeal lifecycle engine
	Notifier     *notify.Manager    // Notification dispatcher
	Mirror       *queue.Mirror      // Redis copy of the review lanes
	QueueReader  *queue.Reader      // Reads the mirrored lanes
	LogManager   *telemetry.Manager // Log management system

	shutdownTracing func(context.Context) error
}

// InitializeApp bootstraps all application dependencies in the correct order,
// ensuring each component has its required dependencies available.
func InitializeApp(
	ctx context.Context, serviceType telemetry.ServiceType, logDir string, autoMigrate bool,
) (*App, error) {
	// Load app configuration
	cfg, configDir, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	// Logging system is initialized next to capture setup issues
	tracing := cfg.Common.Telemetry.UptraceDSN != ""
	shutdownTracing := telemetry.SetupTracing(&cfg.Common.Telemetry, "arbiter", Version)

	logManager := telemetry.NewManager(serviceType, logDir, &cfg.Common.Debug, tracing)

	logger, dbLogger, err := logManager.GetLoggers()
	if err != nil {
		return nil, err
	}

	if serviceType == telemetry.ServiceWorker && cfg.Common.Discord.Token == "" {
		return nil, ErrMissingDiscordToken
	}

	dbretry.Configure(cfg.Common.Retry)

	// Discord REST backs reversals, escalations and direct messages
	api := discord.NewRest(cfg.Common.Discord.Token)
	platform := discord.NewClient(api, cfg.Common.Discord.ModLogChannelID, logger)

	// Initialize database with migration check
	db, err := checkAndRunMigrations(ctx, &cfg.Common.PostgreSQL, platform, dbLogger, autoMigrate)
	if err != nil {
		return nil, err
	}

	// Redis manager provides connection pools for various subsystems
	redisManager := redis.NewManager(&cfg.Common.Redis, logger)

	cacheClient, err := redisManager.GetClient(redis.CacheDBIndex)
	if err != nil {
		return nil, err
	}

	queueClient, err := redisManager.GetClient(redis.QueueDBIndex)
	if err != nil {
		return nil, err
	}

	// Appeal parameter sets reload when appeal.toml changes
	settings := config.NewSource(cfg.Appeal, logger)
	if err := settings.Watch(filepath.Join(configDir, "appeal.toml")); err != nil {
		logger.Warn("Appeal config hot reload disabled", zap.Error(err))
	}

	// Discord is the primary transport and the webhook gets a copy
	var transport notify.Transport = discord.NewTransport(api, logger)
	if url := cfg.Common.Discord.WebhookURL; url != "" {
		transport = notify.NewMultiTransport(transport, logger, notify.NewWebhookTransport(url, logger))
	}
	notifier := notify.NewManager(transport, settings, logger)

	mirror := queue.NewMirror(queueClient, logger)

	engine := appeal.New(
		db.Model().Appeal(),
		db.Service().Action(),
		settings,
		logger,
		appeal.WithNotifier(notifier),
		appeal.WithMirror(mirror),
		appeal.WithHistoryCache(history.NewRedisCache(cacheClient, statsCacheTTL, logger)),
		appeal.WithModLogChannel(cfg.Common.Discord.ModLogChannelID),
	)

	// Bundle all initialized components
	return &App{
		Config:          cfg,
		ConfigDir:       configDir,
		Settings:        settings,
		Logger:          logger,
		DBLogger:        dbLogger.Named("database"),
		DB:              db,
		RedisManager:    redisManager,
		Engine:          engine,
		Notifier:        notifier,
		Mirror:          mirror,
		QueueReader:     queue.NewReader(queueClient),
		LogManager:      logManager,
		shutdownTracing: shutdownTracing,
	}, nil
}

// Cleanup ensures graceful shutdown of all components in reverse initialization order.
// Logs but does not fail on cleanup errors to ensure all components get cleanup attempts.
func (s *App) Cleanup(ctx context.Context) {
	// Stop producing work before the sinks close
	s.Engine.Stop()
	s.Notifier.Close()
	s.Mirror.Close()

	if err := s.Settings.Close(); err != nil {
		s.Logger.Warn("Failed to stop config watcher", zap.Error(err))
	}

	if err := s.shutdownTracing(ctx); err != nil {
		s.Logger.Warn("Failed to flush traces", zap.Error(err))
	}

	// Sync buffered logs before shutdown
	if err := s.Logger.Sync(); err != nil {
		log.Printf("Failed to sync logger: %v", err)
	}

	if err := s.DBLogger.Sync(); err != nil {
		log.Printf("Failed to sync DB logger: %v", err)
	}

	// Close database connections
	if err := s.DB.Close(); err != nil {
		log.Printf("Failed to close database connection: %v", err)
	}

	// Close Redis connections last as other components might need it during cleanup
	s.RedisManager.Close()

	s.LogManager.Close()
}

// checkAndRunMigrations connects to the database and applies pending
// migrations when allowed to.
func checkAndRunMigrations(
	ctx context.Context, cfg *config.PostgreSQL, platform *discord.Client, dbLogger *zap.Logger, autoMigrate bool,
) (database.Client, error) {
	db, err := database.NewConnection(ctx, cfg, platform, dbLogger, false)
	if err != nil {
		return nil, err
	}

	migrator := migrate.NewMigrator(db.DB(), migrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize migrations: %w", err)
	}

	ms, err := migrator.MigrationsWithStatus(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to check migration status: %w", err)
	}

	unapplied := ms.Unapplied()
	if len(unapplied) == 0 {
		return db, nil
	}

	if !autoMigrate {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %s (run `arbiter db migrate`)", ErrPendingMigrations, unapplied.String())
	}

	if err := migrator.Lock(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to lock migrations: %w", err)
	}
	defer migrator.Unlock(ctx) //nolint:errcheck

	group, err := migrator.Migrate(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	dbLogger.Info("Applied pending migrations", zap.String("group", group.String()))

	return db, nil
}
