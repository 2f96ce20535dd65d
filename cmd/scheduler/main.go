package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/example/paratransit-scheduler/internal/application"
	"github.com/example/paratransit-scheduler/internal/config"
	"github.com/example/paratransit-scheduler/internal/persistence/sqlite"
	"github.com/example/paratransit-scheduler/internal/recurrence"
	"github.com/example/paratransit-scheduler/internal/scheduler"
)

func main() {
	// A missing .env file is fine; the environment wins either way.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogFile)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := sqlite.NewConnectionPool(cfg.SQLiteDSN)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := pool.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	if err := pool.Migrate(context.Background()); err != nil {
		logger.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}

	store := sqlite.NewStore(pool, cfg.Timezone)
	idGenerator := uuid.NewString
	now := time.Now

	hours := scheduler.BusinessHours{StartHour: cfg.BusinessHoursStart, EndHour: cfg.BusinessHoursEnd}
	engine := recurrence.NewEngine(cfg.Timezone)
	series := application.NewSeriesManager(engine, cfg.AdvanceDays, cfg.Timezone, idGenerator, now, logger)
	// Binds the series manager to the trip save pipeline so materialized
	// instances get runs assigned the same way dispatcher-booked trips do.
	_ = application.NewTripServiceWithLogger(store, series, hours, cfg.Timezone, idGenerator, now, logger)

	logger.Info("scheduler started",
		"dsn", cfg.SQLiteDSN,
		"advance_days", cfg.AdvanceDays,
		"maintenance_interval", cfg.MaintenanceInterval.String())

	runMaterializer(ctx, logger, series, store, cfg.MaintenanceInterval)

	logger.Info("scheduler stopped")
}

// runMaterializer tops up recurring series on startup and then on every
// tick until the context is cancelled.
func runMaterializer(ctx context.Context, logger *slog.Logger, series *application.SeriesManager, store *sqlite.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	materialized := series.MaterializeDueSeries(ctx, store)
	logger.Info("series materialization sweep finished", "materialized", materialized)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			materialized := series.MaterializeDueSeries(ctx, store)
			logger.Info("series materialization sweep finished", "materialized", materialized)
		}
	}
}

// newLogger writes JSON records to stdout, or to a size-rotated file when
// one is configured.
func newLogger(logFile string) *slog.Logger {
	var sink io.Writer = os.Stdout
	if logFile != "" {
		sink = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
	}
	return slog.New(slog.NewJSONHandler(sink, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
