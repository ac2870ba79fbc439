package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ErrAuditWrite indicates the audit store rejected an append. It is
// non-fatal: mutation paths log it and carry on.
var ErrAuditWrite = errors.New("audit: write failed")

// Inserter persists audit entries.
type Inserter interface {
	Insert(ctx context.Context, entry Entry) error
}

// Failure pairs an entry with the append error that dropped it, for operator
// visibility.
type Failure struct {
	Entry Entry
	Err   error
}

// Recorder appends audit entries best-effort. A failed append is logged and
// pushed to a buffered failure channel without ever blocking or failing the
// triggering mutation.
type Recorder struct {
	repo     Inserter
	logger   *slog.Logger
	now      func() time.Time
	failures chan Failure
}

// NewRecorder constructs a Recorder. A nil clock defaults to time.Now.
func NewRecorder(repo Inserter, logger *slog.Logger, now func() time.Time) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Recorder{
		repo:     repo,
		logger:   logger,
		now:      now,
		failures: make(chan Failure, 64),
	}
}

// Failures exposes dropped appends for an operator channel (metrics shipper,
// alerting consumer). The channel is never closed by the recorder.
func (r *Recorder) Failures() <-chan Failure {
	return r.failures
}

// Record assigns the entry identity and timestamp, then appends it. The
// returned error wraps ErrAuditWrite and exists only for observability;
// callers on mutation paths are expected to ignore it.
func (r *Recorder) Record(ctx context.Context, entry Entry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.PerformedAt.IsZero() {
		entry.PerformedAt = r.now()
	}
	if err := r.repo.Insert(ctx, entry); err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrAuditWrite, err)
		r.logger.Error("audit append",
			slog.String("action", entry.ActionType),
			slog.String("target_type", entry.TargetType),
			slog.String("target_id", entry.TargetID),
			slog.Any("error", err))
		select {
		case r.failures <- Failure{Entry: entry, Err: wrapped}:
		default:
			r.logger.Warn("audit failure channel full, dropping notification")
		}
		return wrapped
	}
	return nil
}
