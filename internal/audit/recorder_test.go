package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeInserter struct {
	entries []Entry
	err     error
}

func (f *fakeInserter) Insert(_ context.Context, entry Entry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

func TestRecorderAssignsIdentity(t *testing.T) {
	store := &fakeInserter{}
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	rec := NewRecorder(store, nil, func() time.Time { return at })

	err := rec.Record(context.Background(), Entry{
		ActionType: ActionGrant,
		TargetType: TargetUser,
		TargetID:   "100",
	})
	require.NoError(t, err)
	require.Len(t, store.entries, 1)
	require.NotEqual(t, uuid.Nil, store.entries[0].ID)
	require.Equal(t, at, store.entries[0].PerformedAt)
}

func TestRecorderKeepsCallerTimestamp(t *testing.T) {
	store := &fakeInserter{}
	rec := NewRecorder(store, nil, nil)

	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	err := rec.Record(context.Background(), Entry{ActionType: ActionRevoke, TargetType: TargetUser, TargetID: "7", PerformedAt: at})
	require.NoError(t, err)
	require.Equal(t, at, store.entries[0].PerformedAt)
}

func TestRecorderReportsFailuresOnChannel(t *testing.T) {
	cause := errors.New("disk full")
	rec := NewRecorder(&fakeInserter{err: cause}, nil, nil)

	err := rec.Record(context.Background(), Entry{ActionType: ActionGrant, TargetType: TargetUser, TargetID: "100"})
	require.ErrorIs(t, err, ErrAuditWrite)

	select {
	case failure := <-rec.Failures():
		require.Equal(t, "100", failure.Entry.TargetID)
		require.ErrorIs(t, failure.Err, ErrAuditWrite)
	default:
		t.Fatal("expected a failure notification")
	}
}

func TestRecorderNeverBlocksOnFullChannel(t *testing.T) {
	rec := NewRecorder(&fakeInserter{err: errors.New("down")}, nil, nil)

	// Overfill the buffer; every append must still return promptly.
	for i := 0; i < 100; i++ {
		err := rec.Record(context.Background(), Entry{ActionType: ActionGrant, TargetType: TargetUser, TargetID: "100"})
		require.ErrorIs(t, err, ErrAuditWrite)
	}
}
