//go:build integration

package consumer

import (
	"context"
	"encoding/json"
	"path/filepath"
	"runtime"
	"sort"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/attendance/internal/events"
)

func TestPersistenceHandlerAppendsAuditTrail(t *testing.T) {
	ctx := context.Background()
	pool := startAuditDatabase(t, ctx)
	handler := NewPersistenceHandler(pool)

	recorded := Message{
		EventType:     events.TypeEventRecorded,
		TenantID:      "tenant-123",
		SchemaID:      42,
		SchemaSubject: "attendance_events-value",
		Topic:         "attendance_events",
		Offset:        5,
		Payload:       json.RawMessage(`{"record_id":"rec-1","employee_id":"emp-7","local_date":"2026-03-02","kind":"punch_in","sequence":1}`),
		Timestamp:     time.Now().UTC(),
	}
	closed := recorded
	closed.EventType = events.TypeSessionClosed
	closed.SchemaSubject = "attendance_session_closed-value"
	closed.Offset = 6
	closed.Payload = json.RawMessage(`{"record_id":"rec-1","employee_id":"emp-7","local_date":"2026-03-02","sequence":6}`)

	require.NoError(t, handler.Handle(ctx, recorded))
	require.NoError(t, handler.Handle(ctx, recorded), "redelivery of the same offset is a no-op")
	require.NoError(t, handler.Handle(ctx, closed))

	rows, err := pool.Query(ctx, `
		SELECT event_type, employee_id, local_date, payload
		  FROM attendance_event_log
		 WHERE tenant_id = $1
		 ORDER BY record_offset`, "tenant-123")
	require.NoError(t, err)
	defer rows.Close()

	var types []string
	for rows.Next() {
		var eventType, employeeID, localDate string
		var payload []byte
		require.NoError(t, rows.Scan(&eventType, &employeeID, &localDate, &payload))
		require.Equal(t, "emp-7", employeeID)
		require.Equal(t, "2026-03-02", localDate)
		require.Contains(t, string(payload), `"record_id": "rec-1"`)
		types = append(types, eventType)
	}
	require.NoError(t, rows.Err())
	require.Equal(t, []string{events.TypeEventRecorded, events.TypeSessionClosed}, types)
}

// startAuditDatabase runs Postgres with the service migrations applied as init scripts.
func startAuditDatabase(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	scripts, err := filepath.Glob(filepath.Join(filepath.Dir(file), "../../db/postgres/migrations/*.up.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, scripts)
	sort.Strings(scripts)

	pg, err := postgrescontainer.Run(ctx, "postgres:16-alpine",
		postgrescontainer.WithDatabase("attendance"),
		postgrescontainer.WithUsername("attendance"),
		postgrescontainer.WithPassword("attendance"),
		postgrescontainer.WithInitScripts(scripts...),
		postgrescontainer.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}
