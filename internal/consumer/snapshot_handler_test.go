package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/attendance/internal/events"
	"example.com/attendance/internal/snapshot"
)

func recordedMessage(t *testing.T, evt events.AttendanceEventRecorded) Message {
	t.Helper()
	payload, err := json.Marshal(evt)
	require.NoError(t, err)
	return Message{
		Topic:     "attendance_events",
		EventType: events.TypeEventRecorded,
		TenantID:  evt.TenantID,
		Payload:   payload,
	}
}

func recordedEvent(seq int, kind string, at time.Time) events.AttendanceEventRecorded {
	return events.AttendanceEventRecorded{
		RecordID:         "rec-1",
		TenantID:         "tenant-a",
		EmployeeID:       "emp-1",
		LocalDate:        "2026-03-02",
		Kind:             kind,
		OccurredAt:       at,
		Sequence:         seq,
		IsPunchedIn:      true,
		TotalWorkSeconds: int64(seq) * 3600,
	}
}

type recordingInvalidator struct {
	calls []string
	err   error
}

func (r *recordingInvalidator) Invalidate(_ context.Context, tenantID, employeeID, localDate string) error {
	r.calls = append(r.calls, tenantID+"/"+employeeID+"/"+localDate)
	return r.err
}

func TestSnapshotHandlerProjectsRecordedEvents(t *testing.T) {
	ctx := context.Background()
	store := snapshot.NewMemoryStore()
	inv := &recordingInvalidator{}
	handler := NewSnapshotHandler(store, inv)

	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, handler.Handle(ctx, recordedMessage(t, recordedEvent(2, "break_start", at))))

	snap, err := store.Get(ctx, "tenant-a", "emp-1", "2026-03-02")
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Equal(t, 2, snap.Sequence)
	require.Equal(t, int64(7200), snap.TotalWorkSeconds)
	require.True(t, at.Equal(snap.CapturedAt))
	require.Equal(t, []string{"tenant-a/emp-1/2026-03-02"}, inv.calls)
}

func TestSnapshotHandlerIgnoresOutOfOrderRedelivery(t *testing.T) {
	ctx := context.Background()
	store := snapshot.NewMemoryStore()
	inv := &recordingInvalidator{}
	handler := NewSnapshotHandler(store, inv)

	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, handler.Handle(ctx, recordedMessage(t, recordedEvent(3, "break_end", at))))
	require.NoError(t, handler.Handle(ctx, recordedMessage(t, recordedEvent(2, "break_start", at.Add(-time.Hour)))))

	snap, err := store.Get(ctx, "tenant-a", "emp-1", "2026-03-02")
	require.NoError(t, err)
	require.Equal(t, 3, snap.Sequence)
	require.Len(t, inv.calls, 1)
}

func TestSnapshotHandlerSkipsOtherEventTypes(t *testing.T) {
	store := snapshot.NewMemoryStore()
	handler := NewSnapshotHandler(store, nil)

	require.NoError(t, handler.Handle(context.Background(), Message{EventType: events.TypeSessionClosed, Payload: []byte(`{}`)}))
	snap, err := store.Get(context.Background(), "tenant-a", "emp-1", "2026-03-02")
	require.NoError(t, err)
	require.Nil(t, snap)
}

func TestSnapshotHandlerRejectsMalformedPayloads(t *testing.T) {
	handler := NewSnapshotHandler(snapshot.NewMemoryStore(), nil)

	err := handler.Handle(context.Background(), Message{EventType: events.TypeEventRecorded, Payload: []byte(`{"sequence":"x"}`)})
	require.Error(t, err)

	err = handler.Handle(context.Background(), Message{EventType: events.TypeEventRecorded, Payload: []byte(`{"sequence":1}`)})
	require.ErrorContains(t, err, "incomplete")
}

func TestSnapshotHandlerToleratesInvalidationFailure(t *testing.T) {
	handler := NewSnapshotHandler(snapshot.NewMemoryStore(), &recordingInvalidator{err: errors.New("edge down")})
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, handler.Handle(context.Background(), recordedMessage(t, recordedEvent(1, "punch_in", at))))
}
