package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/helixdesk/helixdesk/internal/permissions"
)

// CatalogWarmupJob primes the permission catalog cache so the first
// authorization checks after a deploy or cache flush do not pay the reload.
type CatalogWarmupJob struct {
	catalog *permissions.Catalog
	logger  *slog.Logger
}

// NewCatalogWarmupJob wires dependencies for the warmup handler.
func NewCatalogWarmupJob(catalog *permissions.Catalog, logger *slog.Logger) *CatalogWarmupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogWarmupJob{catalog: catalog, logger: logger}
}

// Handle processes catalog warmup tasks.
func (j *CatalogWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.catalog == nil {
		return errors.New("catalog warmup: handler not configured")
	}
	perms, err := j.catalog.ListAll(ctx)
	if err != nil {
		j.logger.Error("catalog warmup", slog.Any("error", err))
		return err
	}
	j.logger.Info("catalog warmup complete", slog.Int("permissions", len(perms)))
	return nil
}
