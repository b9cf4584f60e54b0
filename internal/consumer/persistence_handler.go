package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PersistenceHandler appends every consumed attendance event to attendance_event_log, the audit
// trail HR reports read from.
type PersistenceHandler struct {
	pool *pgxpool.Pool
}

// NewPersistenceHandler constructs a handler backed by the provided pool.
func NewPersistenceHandler(pool *pgxpool.Pool) *PersistenceHandler {
	return &PersistenceHandler{pool: pool}
}

// eventSubject is the part of every attendance payload that identifies the employee day.
type eventSubject struct {
	RecordID   string `json:"record_id"`
	EmployeeID string `json:"employee_id"`
	LocalDate  string `json:"local_date"`
}

// Handle stores msg keyed by its Kafka coordinates, so redelivered offsets are ignored.
func (h *PersistenceHandler) Handle(ctx context.Context, msg Message) error {
	var subject eventSubject
	if err := json.Unmarshal(msg.Payload, &subject); err != nil {
		return fmt.Errorf("decode %s payload: %w", msg.EventType, err)
	}

	_, err := h.pool.Exec(ctx, `
		INSERT INTO attendance_event_log (event_type, tenant_id, schema_id, schema_subject, topic, partition,
		                                  record_offset, record_id, employee_id, local_date, payload, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11, $12)
		ON CONFLICT (topic, partition, record_offset) DO NOTHING`,
		msg.EventType, msg.TenantID, msg.SchemaID, msg.SchemaSubject, msg.Topic, msg.Partition,
		msg.Offset, subject.RecordID, subject.EmployeeID, subject.LocalDate, msg.Payload, msg.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append attendance_event_log (offset %d): %w", msg.Offset, err)
	}
	return nil
}
