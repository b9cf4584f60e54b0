package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DLQManager replays dead-lettered attendance events into the outbox.
//
// Events of one attendance record are replayed in the order they were committed. While an older
// entry of a record is backing off, its newer entries stay parked, so a consumer never receives a
// record's sequence n+1 ahead of n. Entries that cannot ever be published (unknown event type, or a
// payload that does not name the record it was filed under) are quarantined without retrying.
type DLQManager struct {
	pool       *pgxpool.Pool
	maxRetries int
	baseDelay  time.Duration
	logger     *log.Logger
}

// DLQManagerOption customises a DLQManager.
type DLQManagerOption func(*DLQManager)

// WithDLQLogger overrides the manager logger.
func WithDLQLogger(logger *log.Logger) DLQManagerOption {
	return func(m *DLQManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewDLQManager constructs a DLQManager with the provided pool and retry configuration.
func NewDLQManager(pool *pgxpool.Pool, maxRetries int, baseDelay time.Duration, opts ...DLQManagerOption) *DLQManager {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if baseDelay <= 0 {
		baseDelay = time.Minute
	}
	m := &DLQManager{pool: pool, maxRetries: maxRetries, baseDelay: baseDelay, logger: log.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RunOnce handles up to batchSize ready entries and returns how many were put back in the outbox.
func (m *DLQManager) RunOnce(ctx context.Context, batchSize int) (int, error) {
	entries, err := m.readyEntries(ctx, batchSize)
	if err != nil {
		return 0, err
	}

	// Records whose earlier entry did not make it back this pass.
	held := make(map[string]struct{})
	processed := 0
	for _, entry := range entries {
		key := entry.recordKey()
		if _, ok := held[key]; ok {
			recordDLQOutcome(entry, dlqOutcomeHeld)
			continue
		}

		outcome, handleErr := m.handleEntry(ctx, entry)
		if handleErr != nil {
			err = errors.Join(err, fmt.Errorf("dlq entry %d: %w", entry.ID, handleErr))
			held[key] = struct{}{}
			continue
		}
		recordDLQOutcome(entry, outcome)

		switch outcome {
		case dlqOutcomeRequeued:
			processed++
		case dlqOutcomeRetry:
			held[key] = struct{}{}
		}
	}
	updateBacklogGauge(ctx, m.pool)
	return processed, err
}

// Run calls RunOnce every interval until ctx is cancelled.
func (m *DLQManager) Run(ctx context.Context, interval time.Duration, batchSize int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		processed, err := m.RunOnce(ctx, batchSize)
		if err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Printf("dlq manager error: %v", err)
		} else if processed > 0 {
			m.logger.Printf("dlq manager requeued %d attendance events", processed)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// readyEntries lists due entries in commit order, leaving out any entry with an older sibling of the
// same record that is still waiting for its next attempt.
func (m *DLQManager) readyEntries(ctx context.Context, batchSize int) ([]dlqEntry, error) {
	const query = `
		SELECT d.dlq_id, d.tenant_id, d.event_id, d.event_type, d.topic, d.payload, d.reason,
		       d.aggregate_type, d.aggregate_id, d.schema_subject, d.partition_key, d.retry_count
		  FROM outbox_dlq d
		 WHERE d.quarantined_at IS NULL
		   AND (d.next_retry_at IS NULL OR d.next_retry_at <= NOW())
		   AND NOT EXISTS (
		       SELECT 1 FROM outbox_dlq older
		        WHERE older.tenant_id = d.tenant_id
		          AND older.aggregate_id = d.aggregate_id
		          AND older.quarantined_at IS NULL
		          AND older.event_id < d.event_id
		          AND older.next_retry_at > NOW())
		 ORDER BY d.event_id, d.dlq_id
		 LIMIT $1`

	rows, err := m.pool.Query(ctx, query, batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []dlqEntry
	for rows.Next() {
		entry, err := scanDLQEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// handleEntry quarantines, requeues or reschedules entry in one tenant-scoped transaction and
// reports which of the three it did.
func (m *DLQManager) handleEntry(ctx context.Context, entry dlqEntry) (string, error) {
	var outcome string
	err := pgx.BeginTxFunc(ctx, m.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", entry.TenantID); err != nil {
			return fmt.Errorf("set tenant scope: %w", err)
		}

		if reason := unreplayable(entry); reason != "" {
			outcome = dlqOutcomeQuarantined
			return quarantine(ctx, tx, entry.ID, reason)
		}
		if entry.RetryCount >= m.maxRetries {
			outcome = dlqOutcomeQuarantined
			return quarantine(ctx, tx, entry.ID, fmt.Sprintf("retry limit reached after %d attempts: %s", entry.RetryCount, entry.Reason))
		}

		// The insert runs under a savepoint so a failure still leaves the transaction usable for
		// rescheduling.
		if requeueErr := pgx.BeginFunc(ctx, tx, func(sp pgx.Tx) error {
			return requeueOutbox(ctx, sp, entry)
		}); requeueErr != nil {
			outcome = dlqOutcomeRetry
			return m.scheduleRetry(ctx, tx, entry, requeueErr)
		}

		outcome = dlqOutcomeRequeued
		_, err := tx.Exec(ctx, `DELETE FROM outbox_dlq WHERE dlq_id = $1`, entry.ID)
		return err
	})
	if err != nil {
		return "", err
	}

	switch outcome {
	case dlqOutcomeQuarantined:
		m.logger.Printf("dlq: quarantined %s of record %s for %s", entry.EventType, entry.AggregateID, entry.PartitionKey)
	case dlqOutcomeRetry:
		m.logger.Printf("dlq: %s of record %s for %s rescheduled (attempt %d)", entry.EventType, entry.AggregateID, entry.PartitionKey, entry.RetryCount+1)
	}
	return outcome, nil
}

func (m *DLQManager) scheduleRetry(ctx context.Context, tx pgx.Tx, entry dlqEntry, cause error) error {
	delay := backoffDelay(m.baseDelay, entry.RetryCount+1)
	_, err := tx.Exec(ctx, `
		UPDATE outbox_dlq
		   SET retry_count = retry_count + 1,
		       last_attempt_at = NOW(),
		       next_retry_at = NOW() + $1::interval,
		       reason = $2
		 WHERE dlq_id = $3`,
		delay, truncateReason(cause.Error()), entry.ID,
	)
	return err
}

func quarantine(ctx context.Context, tx pgx.Tx, dlqID int64, reason string) error {
	_, err := tx.Exec(ctx,
		`UPDATE outbox_dlq SET quarantined_at = NOW(), quarantine_reason = $1 WHERE dlq_id = $2`,
		truncateReason(reason), dlqID,
	)
	return err
}

// replayKey is the part of both attendance payloads that ties an event to its record.
type replayKey struct {
	RecordID string `json:"record_id"`
	Sequence int    `json:"sequence"`
}

// unreplayable names the reason entry can never be published, or returns "" when a retry may work.
func unreplayable(entry dlqEntry) string {
	if _, ok := schemaCatalog[entry.EventType]; !ok {
		return fmt.Sprintf("no schema metadata for event_type=%s", entry.EventType)
	}
	if entry.SchemaSubject == "" {
		return "missing schema_subject"
	}
	var key replayKey
	if err := json.Unmarshal(entry.Payload, &key); err != nil {
		return fmt.Sprintf("payload is not an attendance event: %v", err)
	}
	if key.RecordID == "" || key.Sequence < 1 {
		return "payload does not identify an attendance record event"
	}
	if key.RecordID != entry.AggregateID {
		return fmt.Sprintf("payload record %s does not match aggregate %s", key.RecordID, entry.AggregateID)
	}
	return ""
}

// backoffDelay doubles base per attempt, capped at one hour.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 12 {
		return time.Hour
	}
	delay := time.Duration(1<<uint(attempt-1)) * base
	if delay > time.Hour {
		delay = time.Hour
	}
	return delay
}

// requeueOutbox puts the event back at the tail of the outbox under a new event_id. The original
// dedupe key stays with the already published row.
func requeueOutbox(ctx context.Context, tx pgx.Tx, entry dlqEntry) error {
	const stmt = `INSERT INTO outbox (tenant_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload)
                   VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err := tx.Exec(ctx, stmt,
		entry.TenantID,
		entry.AggregateType,
		entry.AggregateID,
		entry.EventType,
		entry.Topic,
		entry.SchemaSubject,
		entry.PartitionKey,
		entry.Payload,
	)
	return err
}

// dlqEntry represents an outbox_dlq row selected for processing.
type dlqEntry struct {
	ID            int64
	TenantID      string
	EventID       int64
	EventType     string
	Topic         string
	Payload       []byte
	Reason        string
	AggregateType string
	AggregateID   string
	SchemaSubject string
	PartitionKey  string
	RetryCount    int
}

func (e dlqEntry) recordKey() string {
	return e.TenantID + "/" + e.AggregateID
}

func scanDLQEntry(rows pgx.Rows) (dlqEntry, error) {
	var entry dlqEntry
	if err := rows.Scan(&entry.ID, &entry.TenantID, &entry.EventID, &entry.EventType, &entry.Topic, &entry.Payload, &entry.Reason, &entry.AggregateType, &entry.AggregateID, &entry.SchemaSubject, &entry.PartitionKey, &entry.RetryCount); err != nil {
		return dlqEntry{}, err
	}
	return entry, nil
}
