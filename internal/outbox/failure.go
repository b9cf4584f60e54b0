package outbox

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const maxReasonLength = 1024

// DLQWriter moves outbox rows the dispatcher could not publish into outbox_dlq, where the DLQ
// manager retries them with backoff.
type DLQWriter struct {
	pool *pgxpool.Pool
}

// NewDLQWriter initialises a writer backed by the provided connection pool.
func NewDLQWriter(pool *pgxpool.Pool) *DLQWriter {
	return &DLQWriter{pool: pool}
}

// Write records msg in the DLQ under the tenant's row-level security scope. The entry is eligible
// for its first retry immediately.
func (w *DLQWriter) Write(ctx context.Context, msg Message, reason string) error {
	return pgx.BeginTxFunc(ctx, w.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", msg.TenantID); err != nil {
			return fmt.Errorf("set tenant scope: %w", err)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO outbox_dlq (tenant_id, event_id, event_type, topic, payload, reason,
			                        aggregate_type, aggregate_id, schema_subject, partition_key, next_retry_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())`,
			msg.TenantID, msg.EventID, msg.EventType, msg.Topic, msg.Payload, truncateReason(reason),
			msg.AggregateType, msg.AggregateID, msg.SchemaSubject, msg.PartitionKey,
		)
		if err != nil {
			return fmt.Errorf("insert dlq entry for event %d: %w", msg.EventID, err)
		}
		return nil
	})
}

func truncateReason(reason string) string {
	if len(reason) <= maxReasonLength {
		return reason
	}
	return reason[:maxReasonLength]
}
