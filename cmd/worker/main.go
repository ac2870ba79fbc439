package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/helixdesk/helixdesk/internal/app"
	"github.com/helixdesk/helixdesk/internal/permissions"
	"github.com/helixdesk/helixdesk/internal/platform/cache"
	"github.com/helixdesk/helixdesk/internal/platform/db"
	"github.com/helixdesk/helixdesk/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	ttls := permissions.TTLConfig{
		Catalog: cfg.CatalogTTL,
		Role:    cfg.RoleTTL,
		User:    cfg.UserTTL,
	}
	var decisionCache permissions.Cache
	if cfg.CacheBackend == "redis" {
		redisClient, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Error("connect redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		decisionCache = permissions.NewRedisCache(redisClient, ttls, logger)
	} else {
		decisionCache = permissions.NewMemoryCache(ttls, nil)
	}

	permRepo := permissions.NewRepository(pool, cfg.StoreTimeout)
	catalog := permissions.NewCatalog(permRepo, decisionCache, logger)

	sweepJob := jobs.NewOverrideSweepJob(permRepo, decisionCache, logger)
	warmupJob := jobs.NewCatalogWarmupJob(catalog, logger)

	sweepTask, err := jobs.NewOverrideSweepTask(jobs.OverrideSweepPayload{GraceHours: 24})
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	warmupTask, err := jobs.NewCatalogWarmupTask()
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskOverrideSweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskCatalogWarmup, Handler: warmupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "45 2 * * *", Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "*/30 * * * *", Task: warmupTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
