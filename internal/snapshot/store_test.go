package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/attendance/internal/domain"
)

func sampleSnapshot(recordID string, seq int) domain.Snapshot {
	return domain.Snapshot{
		TenantID:         "tenant-a",
		EmployeeID:       "emp-1",
		LocalDate:        "2026-03-02",
		RecordID:         recordID,
		Sequence:         seq,
		IsPunchedIn:      true,
		TotalWorkSeconds: int64(seq) * 600,
		CapturedAt:       time.Date(2026, 3, 2, 9, seq, 0, 0, time.UTC),
	}
}

func TestMemoryStoreGetMissingReturnsNil(t *testing.T) {
	store := NewMemoryStore()
	snap, err := store.Get(context.Background(), "tenant-a", "emp-1", "2026-03-02")
	require.NoError(t, err)
	require.Nil(t, snap)
}

func TestMemoryStoreProjectKeepsNewestSequence(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	written, err := store.Project(ctx, sampleSnapshot("rec-1", 2))
	require.NoError(t, err)
	require.True(t, written)

	written, err = store.Project(ctx, sampleSnapshot("rec-1", 1))
	require.NoError(t, err)
	require.False(t, written, "older sequence must not overwrite")

	written, err = store.Project(ctx, sampleSnapshot("rec-1", 2))
	require.NoError(t, err)
	require.False(t, written, "redelivered sequence must not overwrite")

	written, err = store.Project(ctx, sampleSnapshot("rec-1", 3))
	require.NoError(t, err)
	require.True(t, written)

	got, err := store.Get(ctx, "tenant-a", "emp-1", "2026-03-02")
	require.NoError(t, err)
	require.Equal(t, 3, got.Sequence)
}

func TestMemoryStorePutOverwritesRegardlessOfSequence(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, sampleSnapshot("rec-1", 4)))
	require.NoError(t, store.Put(ctx, sampleSnapshot("rec-1", 2)))

	got, err := store.Get(ctx, "tenant-a", "emp-1", "2026-03-02")
	require.NoError(t, err)
	require.Equal(t, 2, got.Sequence)
}

func TestProjectReplacesSnapshotOfDifferentRecord(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.Project(ctx, sampleSnapshot("rec-old", 4))
	require.NoError(t, err)

	written, err := store.Project(ctx, sampleSnapshot("rec-new", 1))
	require.NoError(t, err)
	require.True(t, written)
}

func TestKeyLayout(t *testing.T) {
	require.Equal(t, "attendance:snapshot:t:e:2026-03-02", Key("t", "e", "2026-03-02"))
}
