package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/attendance/internal/domain"
	"example.com/attendance/internal/events"
	"example.com/attendance/internal/observability"
)

const recordColumns = `record_id, tenant_id, employee_id, local_date, tz_offset_minutes, punch_in_at, punch_out_at, breaks, sequence, created_at, updated_at`

// Repository provides Postgres-backed persistence for attendance records, their event history and
// outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Transact runs fn inside a transaction holding an advisory lock scoped to the employee, so two
// concurrent mutations of the same employee are applied one after the other.
func (r *Repository) Transact(ctx context.Context, tenantID, employeeID string, fn func(context.Context, domain.Tx) error) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", tenantID+":"+employeeID); err != nil {
		return err
	}

	scope := &pgTx{tx: tx, tenantID: tenantID, employeeID: employeeID}
	if err = fn(ctx, scope); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}
	for _, ev := range scope.applied {
		observability.RecordAttendanceEvent(string(ev.Kind), ev.At)
	}
	return nil
}

// FindOpen returns the employee's record without punch-out, if any.
func (r *Repository) FindOpen(ctx context.Context, tenantID, employeeID string) (*domain.AttendanceRecord, error) {
	var rec *domain.AttendanceRecord
	err := r.read(ctx, tenantID, func(tx pgx.Tx) error {
		var err error
		rec, err = findOne(ctx, tx, `SELECT `+recordColumns+` FROM attendance_records
            WHERE tenant_id=$1 AND employee_id=$2 AND punch_out_at IS NULL`, tenantID, employeeID)
		return err
	})
	return rec, err
}

// FindByDate returns the record of a local date, if any.
func (r *Repository) FindByDate(ctx context.Context, tenantID, employeeID, localDate string) (*domain.AttendanceRecord, error) {
	var rec *domain.AttendanceRecord
	err := r.read(ctx, tenantID, func(tx pgx.Tx) error {
		var err error
		rec, err = findOne(ctx, tx, `SELECT `+recordColumns+` FROM attendance_records
            WHERE tenant_id=$1 AND employee_id=$2 AND local_date=$3`, tenantID, employeeID, localDate)
		return err
	})
	return rec, err
}

// ListByEmployee returns records ordered by local date, newest first.
func (r *Repository) ListByEmployee(ctx context.Context, tenantID, employeeID string, cursor *domain.Cursor, limit int) ([]domain.AttendanceRecord, *domain.Cursor, error) {
	args := []interface{}{tenantID, employeeID, limit}
	query := `SELECT ` + recordColumns + ` FROM attendance_records WHERE tenant_id=$1 AND employee_id=$2`

	if cursor != nil {
		query += ` AND (local_date, record_id) < ($4, $5::uuid)`
		args = append(args, cursor.LocalDate, cursor.ID)
	}

	query += ` ORDER BY local_date DESC, record_id DESC LIMIT $3`

	results := make([]domain.AttendanceRecord, 0, limit)
	err := r.read(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				return err
			}
			results = append(results, *rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{LocalDate: last.LocalDate, ID: last.ID}
	}

	return results, nextCursor, nil
}

// read runs fn in a short read-only transaction with the tenant set for row-level security.
func (r *Repository) read(ctx context.Context, tenantID string, fn func(pgx.Tx) error) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgTx struct {
	tx         pgx.Tx
	tenantID   string
	employeeID string
	applied    []domain.Event
}

func (t *pgTx) FindOpen(ctx context.Context) (*domain.AttendanceRecord, error) {
	return findOne(ctx, t.tx, `SELECT `+recordColumns+` FROM attendance_records
        WHERE tenant_id=$1 AND employee_id=$2 AND punch_out_at IS NULL`, t.tenantID, t.employeeID)
}

func (t *pgTx) FindByDate(ctx context.Context, localDate string) (*domain.AttendanceRecord, error) {
	return findOne(ctx, t.tx, `SELECT `+recordColumns+` FROM attendance_records
        WHERE tenant_id=$1 AND employee_id=$2 AND local_date=$3`, t.tenantID, t.employeeID, localDate)
}

func (t *pgTx) FindByIdempotency(ctx context.Context, key string) (*domain.AttendanceRecord, error) {
	if key == "" {
		return nil, nil
	}
	return findOne(ctx, t.tx, `SELECT `+prefixed("r")+` FROM attendance_records r
        JOIN attendance_events e ON e.record_id = r.record_id
        WHERE e.tenant_id=$1 AND e.employee_id=$2 AND e.idempotency_key=$3`, t.tenantID, t.employeeID, key)
}

func (t *pgTx) Insert(ctx context.Context, change domain.Change) error {
	rec := change.Record
	breaks, err := json.Marshal(rec.Breaks)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO attendance_records (` + recordColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	if _, err := t.tx.Exec(ctx, stmt,
		rec.ID,
		rec.TenantID,
		rec.EmployeeID,
		rec.LocalDate,
		rec.TZOffsetMinutes,
		rec.PunchInAt,
		rec.PunchOutAt,
		breaks,
		rec.Sequence,
		rec.CreatedAt,
		rec.UpdatedAt,
	); err != nil {
		return err
	}
	return t.recordEvent(ctx, change)
}

func (t *pgTx) Update(ctx context.Context, change domain.Change) error {
	rec := change.Record
	breaks, err := json.Marshal(rec.Breaks)
	if err != nil {
		return err
	}

	tag, err := t.tx.Exec(ctx, `UPDATE attendance_records
        SET punch_out_at = $1, breaks = $2, sequence = $3, updated_at = $4
        WHERE record_id = $5 AND tenant_id = $6 AND sequence = $7 AND punch_out_at IS NULL`,
		rec.PunchOutAt, breaks, rec.Sequence, rec.UpdatedAt, rec.ID, rec.TenantID, rec.Sequence-1)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("attendance record %s changed concurrently", rec.ID)
	}
	return t.recordEvent(ctx, change)
}

func (t *pgTx) recordEvent(ctx context.Context, change domain.Change) error {
	rec, ev, m := change.Record, change.Event, change.Metrics

	if _, err := t.tx.Exec(ctx, `INSERT INTO attendance_events (record_id, tenant_id, employee_id, sequence, kind, break_type, occurred_at, idempotency_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rec.ID, rec.TenantID, rec.EmployeeID, ev.Sequence, string(ev.Kind), nullIfEmpty(string(ev.BreakType)), ev.At, nullIfEmpty(ev.IdempotencyKey),
	); err != nil {
		return err
	}

	if err := t.insertOutbox(ctx, rec, ev, events.TypeEventRecorded, events.AttendanceEventRecorded{
		RecordID:         rec.ID,
		TenantID:         rec.TenantID,
		EmployeeID:       rec.EmployeeID,
		LocalDate:        rec.LocalDate,
		Kind:             string(ev.Kind),
		BreakType:        string(ev.BreakType),
		OccurredAt:       ev.At,
		Sequence:         ev.Sequence,
		IsPunchedIn:      m.IsPunchedIn,
		OnBreak:          m.OnBreak,
		TotalWorkSeconds: m.TotalWorkSeconds,
		BreakSeconds:     m.BreakSeconds,
		OvertimeSeconds:  m.OvertimeSeconds,
	}); err != nil {
		return err
	}

	if ev.Kind == domain.EventPunchOut && rec.PunchOutAt != nil {
		if err := t.insertOutbox(ctx, rec, ev, events.TypeSessionClosed, events.AttendanceSessionClosed{
			RecordID:         rec.ID,
			TenantID:         rec.TenantID,
			EmployeeID:       rec.EmployeeID,
			LocalDate:        rec.LocalDate,
			PunchInAt:        rec.PunchInAt,
			PunchOutAt:       *rec.PunchOutAt,
			Sequence:         ev.Sequence,
			TotalWorkSeconds: m.TotalWorkSeconds,
			BreakSeconds:     m.BreakSeconds,
			OvertimeSeconds:  m.OvertimeSeconds,
		}); err != nil {
			return err
		}
	}

	t.applied = append(t.applied, ev)
	return nil
}

func (t *pgTx) insertOutbox(ctx context.Context, rec domain.AttendanceRecord, ev domain.Event, eventType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta := eventCatalog[eventType]
	if meta.Topic == "" {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	partitionKey := meta.PartitionKeyFn(rec)
	dedupeKey := fmt.Sprintf("%s:%d:%s", rec.ID, ev.Sequence, eventType)

	const stmt = `INSERT INTO outbox (tenant_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = t.tx.Exec(ctx, stmt,
		rec.TenantID,
		"attendance_record",
		rec.ID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		partitionKey,
		body,
		dedupeKey,
	)
	return err
}

func findOne(ctx context.Context, q interface {
	QueryRow(context.Context, string, ...any) pgx.Row
}, query string, args ...any) (*domain.AttendanceRecord, error) {
	rec, err := scanRecord(q.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func scanRecord(row pgx.Row) (*domain.AttendanceRecord, error) {
	var (
		rec    domain.AttendanceRecord
		breaks []byte
	)
	if err := row.Scan(&rec.ID, &rec.TenantID, &rec.EmployeeID, &rec.LocalDate, &rec.TZOffsetMinutes, &rec.PunchInAt, &rec.PunchOutAt, &breaks, &rec.Sequence, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.PunchInAt = rec.PunchInAt.UTC()
	if rec.PunchOutAt != nil {
		out := rec.PunchOutAt.UTC()
		rec.PunchOutAt = &out
	}
	rec.CreatedAt, rec.UpdatedAt = rec.CreatedAt.UTC(), rec.UpdatedAt.UTC()
	rec.Breaks = []domain.BreakInterval{}
	if len(breaks) > 0 {
		if err := json.Unmarshal(breaks, &rec.Breaks); err != nil {
			return nil, fmt.Errorf("decode breaks of %s: %w", rec.ID, err)
		}
	}
	return &rec, nil
}

func prefixed(alias string) string {
	return alias + ".record_id, " + alias + ".tenant_id, " + alias + ".employee_id, " + alias + ".local_date, " +
		alias + ".tz_offset_minutes, " + alias + ".punch_in_at, " + alias + ".punch_out_at, " + alias + ".breaks, " +
		alias + ".sequence, " + alias + ".created_at, " + alias + ".updated_at"
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic          string
	SchemaSubject  string
	PartitionKeyFn func(domain.AttendanceRecord) string
}

// Both event types share a topic keyed by employee so consumers see one employee's events in order.
var eventCatalog = map[string]EventMetadata{
	events.TypeEventRecorded: {
		Topic:         "attendance_events",
		SchemaSubject: "attendance_events-value",
		PartitionKeyFn: func(r domain.AttendanceRecord) string {
			return fmt.Sprintf("%s:%s", r.TenantID, r.EmployeeID)
		},
	},
	events.TypeSessionClosed: {
		Topic:         "attendance_events",
		SchemaSubject: "attendance_session_closed-value",
		PartitionKeyFn: func(r domain.AttendanceRecord) string {
			return fmt.Sprintf("%s:%s", r.TenantID, r.EmployeeID)
		},
	},
}
