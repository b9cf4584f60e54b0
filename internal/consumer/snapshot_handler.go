package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"example.com/attendance/internal/cache"
	"example.com/attendance/internal/domain"
	"example.com/attendance/internal/events"
	"example.com/attendance/internal/snapshot"
)

// SnapshotHandler projects attendance.event_recorded messages into the admin snapshot store.
type SnapshotHandler struct {
	store       snapshot.Store
	invalidator cache.Invalidator
	logger      *log.Logger
}

// NewSnapshotHandler constructs a SnapshotHandler. A nil invalidator disables cache invalidation.
func NewSnapshotHandler(store snapshot.Store, invalidator cache.Invalidator) *SnapshotHandler {
	if invalidator == nil {
		invalidator = cache.NoopInvalidator{}
	}
	return &SnapshotHandler{
		store:       store,
		invalidator: invalidator,
		logger:      log.New(log.Writer(), "[snapshot] ", log.LstdFlags),
	}
}

// Handle implements Handler. Other event types are ignored.
func (h *SnapshotHandler) Handle(ctx context.Context, msg Message) error {
	if msg.EventType != events.TypeEventRecorded {
		return nil
	}

	var evt events.AttendanceEventRecorded
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		return fmt.Errorf("decode %s: %w", msg.EventType, err)
	}
	if evt.RecordID == "" || evt.EmployeeID == "" || evt.LocalDate == "" {
		return fmt.Errorf("incomplete %s payload at offset %d", msg.EventType, msg.Offset)
	}

	written, err := h.store.Project(ctx, SnapshotFromEvent(evt))
	if err != nil {
		return err
	}
	if !written {
		return nil
	}
	if err := h.invalidator.Invalidate(ctx, evt.TenantID, evt.EmployeeID, evt.LocalDate); err != nil {
		h.logger.Printf("cache invalidation failed (tenant=%s, employee=%s, date=%s): %v", evt.TenantID, evt.EmployeeID, evt.LocalDate, err)
	}
	return nil
}

// SnapshotFromEvent builds the snapshot described by a recorded event. The figures in the
// event were derived at the event instant, so that instant is the capture time.
func SnapshotFromEvent(evt events.AttendanceEventRecorded) domain.Snapshot {
	return domain.Snapshot{
		TenantID:         evt.TenantID,
		EmployeeID:       evt.EmployeeID,
		LocalDate:        evt.LocalDate,
		RecordID:         evt.RecordID,
		Sequence:         evt.Sequence,
		IsPunchedIn:      evt.IsPunchedIn,
		OnBreak:          evt.OnBreak,
		TotalWorkSeconds: evt.TotalWorkSeconds,
		BreakSeconds:     evt.BreakSeconds,
		OvertimeSeconds:  evt.OvertimeSeconds,
		CapturedAt:       evt.OccurredAt.UTC(),
	}
}
