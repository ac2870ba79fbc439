package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskOverrideSweep physically removes expired per-user overrides.
	TaskOverrideSweep = "permissions:sweep_expired"
	// TaskCatalogWarmup primes the permission catalog cache.
	TaskCatalogWarmup = "permissions:catalog_warmup"
)

// OverrideSweepPayload bounds one sweep run.
type OverrideSweepPayload struct {
	// GraceHours keeps rows that expired less than this many hours ago, so
	// recent expiries stay visible in override listings a little longer.
	GraceHours int `json:"grace_hours"`
}

// NewOverrideSweepTask constructs an override sweep task.
func NewOverrideSweepTask(payload OverrideSweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOverrideSweep, data), nil
}

// CatalogWarmupPayload is empty today but keeps the wire format extensible.
type CatalogWarmupPayload struct{}

// NewCatalogWarmupTask constructs a catalog warmup task.
func NewCatalogWarmupTask() (*asynq.Task, error) {
	data, err := json.Marshal(CatalogWarmupPayload{})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCatalogWarmup, data), nil
}
