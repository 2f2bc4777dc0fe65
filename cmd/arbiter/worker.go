package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robalyx/arbiter/internal/setup"
	"github.com/robalyx/arbiter/internal/setup/telemetry"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

const (
	// WorkerLogDir specifies where worker log files are stored.
	WorkerLogDir = "logs/worker_logs"

	restartDelay    = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

func workerCommand() *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Start the appeal engine",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "auto-migrate",
				Usage: "Apply pending database migrations on startup",
			},
			&cli.DurationFlag{
				Name:  "report-interval",
				Value: time.Minute,
				Usage: "How often the queue is reported and its mirror refreshed",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return runEngine(ctx, c.Bool("auto-migrate"), c.Duration("report-interval"))
		},
	}
}

// runEngine starts the engine and blocks until the process is signalled.
func runEngine(ctx context.Context, autoMigrate bool, interval time.Duration) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := setup.InitializeApp(ctx, telemetry.ServiceWorker, WorkerLogDir, autoMigrate)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		app.Cleanup(cleanupCtx)
	}()

	logger := app.LogManager.GetWorkerLogger("appeal_worker")

	app.Mirror.Start(ctx)

	restored, err := app.Engine.Restore(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore open appeals: %w", err)
	}

	app.Engine.Start(ctx)
	logger.Info("Appeal engine started", zap.Int("restored", restored))

	if port := app.Config.Common.Telemetry.MetricsPort; port > 0 {
		srv := serveMetrics(port, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Failed to stop metrics server", zap.Error(err))
			}
		}()
	}

	runWorker(ctx, &queueReporter{app: app, interval: interval, logger: logger}, logger)

	logger.Info("Appeal engine stopping")
	return nil
}

// serveMetrics exposes the prometheus registry on the given port.
func serveMetrics(port int, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Serving metrics", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return srv
}

// queueReporter logs the lane sizes and republishes the current snapshot so
// mirrored positions do not expire while appeals wait.
type queueReporter struct {
	app      *setup.App
	interval time.Duration
	logger   *zap.Logger
}

// Start blocks until ctx is cancelled.
func (r *queueReporter) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := r.app.Engine.QueueSnapshot()
			r.app.Mirror.Publish(snap)

			r.logger.Info("Review queue",
				zap.Uint64("version", snap.Version),
				zap.Int("priority", len(snap.Priority)),
				zap.Int("regular", len(snap.Regular)),
				zap.Int("underReview", snap.UnderReview))
		}
	}
}

// runWorker runs a single worker in a loop with error recovery.
func runWorker(ctx context.Context, w interface{ Start(ctx context.Context) }, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("Context cancelled, stopping worker")
			return
		default:
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Worker execution failed",
						zap.String("worker_type", fmt.Sprintf("%T", w)),
						zap.Any("panic", r),
					)
				}
			}()

			logger.Info("Starting worker")
			w.Start(ctx)
		}()

		if ctx.Err() != nil {
			continue
		}

		logger.Warn("Worker stopped unexpectedly, restarting",
			zap.String("worker_type", fmt.Sprintf("%T", w)),
			zap.Duration("delay", restartDelay),
		)

		select {
		case <-ctx.Done():
		case <-time.After(restartDelay):
		}
	}
}
