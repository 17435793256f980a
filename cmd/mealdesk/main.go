package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mealdesk/mealdesk-api/config"
	"github.com/mealdesk/mealdesk-api/internal/bootstrap"
)

func main() {
	logger := bootstrap.InitLogger()
	if err := run(logger); err != nil {
		logger.Error("fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(logger *slog.Logger) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting mealdesk service",
		"db_host", cfg.Postgres.Host,
		"db_name", cfg.Postgres.Name,
		"scheduler_mode", cfg.Scheduler.Mode,
		"queue_enabled", cfg.Queue.Enabled,
	)

	db, err := bootstrap.ConnectDB(cfg.Postgres, logger)
	if err != nil {
		return err
	}
	defer closeQuietly(db.Close, "database", logger)

	hrStore, err := bootstrap.ConnectHRStore(cfg.HRStore, logger)
	if err != nil {
		return err
	}
	defer closeQuietly(hrStore.Close, "hr store", logger)

	redisClient := bootstrap.ConnectRedis(cfg.Redis, logger)
	defer closeQuietly(redisClient.Close, "redis", logger)

	services, err := bootstrap.NewServices(&bootstrap.ServiceDeps{
		Config:      &cfg,
		DB:          db,
		HRStore:     hrStore,
		RedisClient: redisClient,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	if cfg.Scheduler.Mode == config.SchedulerDisabled {
		logger.Info("scheduler disabled, waiting for shutdown signal")
		<-ctx.Done()
		return nil
	}

	return bootstrap.RunScheduler(ctx, &services, cfg.Scheduler, logger)
}

func closeQuietly(closeFn func() error, name string, logger *slog.Logger) {
	if err := closeFn(); err != nil {
		logger.Error("close "+name+" failed", "error", err)
	}
}
