package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// OverrideStore is the storage slice the sweep needs.
type OverrideStore interface {
	DeleteExpiredOverrides(ctx context.Context, before time.Time) (int64, error)
}

// DecisionInvalidator clears cached user decisions after a sweep.
type DecisionInvalidator interface {
	InvalidateAll(ctx context.Context)
}

// OverrideSweepJob physically removes expired per-user overrides. The
// resolver already treats expired rows as absent, so this is storage
// hygiene only and can run on any cadence.
type OverrideSweepJob struct {
	store  OverrideStore
	cache  DecisionInvalidator
	logger *slog.Logger
	clock  func() time.Time
}

// NewOverrideSweepJob wires dependencies for the sweep handler.
func NewOverrideSweepJob(store OverrideStore, cache DecisionInvalidator, logger *slog.Logger) *OverrideSweepJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &OverrideSweepJob{
		store:  store,
		cache:  cache,
		logger: logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes override sweep tasks.
func (j *OverrideSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.store == nil {
		return errors.New("override sweep: handler not configured")
	}
	var payload OverrideSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	cutoff := j.clock()
	if payload.GraceHours > 0 {
		cutoff = cutoff.Add(-time.Duration(payload.GraceHours) * time.Hour)
	}
	removed, err := j.store.DeleteExpiredOverrides(ctx, cutoff)
	if err != nil {
		j.logger.Error("override sweep", slog.Any("error", err))
		return err
	}
	if removed > 0 && j.cache != nil {
		j.cache.InvalidateAll(ctx)
	}
	j.logger.Info("override sweep complete",
		slog.Int64("removed", removed),
		slog.Time("cutoff", cutoff))
	return nil
}
