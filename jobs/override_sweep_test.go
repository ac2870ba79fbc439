package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type fakeOverrideStore struct {
	removed    int64
	err        error
	lastBefore time.Time
}

func (f *fakeOverrideStore) DeleteExpiredOverrides(_ context.Context, before time.Time) (int64, error) {
	f.lastBefore = before
	return f.removed, f.err
}

type fakeInvalidator struct {
	calls int
}

func (f *fakeInvalidator) InvalidateAll(_ context.Context) {
	f.calls++
}

func TestOverrideSweepAppliesGrace(t *testing.T) {
	store := &fakeOverrideStore{removed: 3}
	invalidator := &fakeInvalidator{}
	job := NewOverrideSweepJob(store, invalidator, nil)
	now := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	job.clock = func() time.Time { return now }

	task, err := NewOverrideSweepTask(OverrideSweepPayload{GraceHours: 24})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, now.Add(-24*time.Hour), store.lastBefore)
	require.Equal(t, 1, invalidator.calls)
}

func TestOverrideSweepSkipsInvalidationWhenNothingRemoved(t *testing.T) {
	store := &fakeOverrideStore{removed: 0}
	invalidator := &fakeInvalidator{}
	job := NewOverrideSweepJob(store, invalidator, nil)

	task, err := NewOverrideSweepTask(OverrideSweepPayload{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Zero(t, invalidator.calls)
}

func TestOverrideSweepPropagatesStoreError(t *testing.T) {
	cause := errors.New("store down")
	job := NewOverrideSweepJob(&fakeOverrideStore{err: cause}, nil, nil)

	task, err := NewOverrideSweepTask(OverrideSweepPayload{})
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), task), cause)
}

func TestOverrideSweepBadPayloadSkipsRetry(t *testing.T) {
	job := NewOverrideSweepJob(&fakeOverrideStore{}, nil, nil)

	task := asynq.NewTask(TaskOverrideSweep, []byte("{not json"))
	require.ErrorIs(t, job.Handle(context.Background(), task), asynq.SkipRetry)
}
