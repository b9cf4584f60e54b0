// Package outbox delivers attendance events recorded in the outbox table to Kafka.
package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"

	"example.com/attendance/internal/events"
)

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

type schemaRegistrar interface {
	EnsureSchema(context.Context, string, string) (int, error)
}

// Dispatcher drains the outbox table and delivers attendance events to Kafka
// using Schema Registry framing.
type Dispatcher struct {
	pool             *pgxpool.Pool
	producer         messageWriter
	registry         schemaRegistrar
	dlq              dlqSink
	pollInterval     time.Duration
	batchSize        int
	logger           *log.Logger
	schemaIDCache    sync.Map
	shutdownComplete chan struct{}
}

type dlqSink interface {
	Write(context.Context, Message, string) error
}

// DispatcherOption customises a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger overrides the dispatcher logger.
func WithDispatcherLogger(logger *log.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(pool *pgxpool.Pool, producer messageWriter, registry schemaRegistrar, pollInterval time.Duration, batchSize int, opts ...DispatcherOption) *Dispatcher {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	d := &Dispatcher{
		pool:             pool,
		producer:         producer,
		registry:         registry,
		dlq:              NewDLQWriter(pool),
		pollInterval:     pollInterval,
		batchSize:        batchSize,
		logger:           log.Default(),
		shutdownComplete: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the polling loop. It should be called in a goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer func() {
		ticker.Stop()
		close(d.shutdownComplete)
	}()

	for {
		if err := d.processBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Printf("outbox dispatcher error: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait waits until dispatcher stops.
func (d *Dispatcher) Wait() {
	<-d.shutdownComplete
}

func (d *Dispatcher) processBatch(ctx context.Context) error {
	start := time.Now()

	messages, err := d.fetchAndClaim(ctx)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	rejected, err := d.deliver(ctx, messages)
	if err != nil {
		d.logger.Printf("outbox: delivery failure: %v", err)
		countByType(failedCounter, messages)
		if dlqErr := d.moveToDLQ(ctx, messages, err.Error()); dlqErr != nil {
			return dlqErr
		}
		return d.markPublished(ctx, messages)
	}

	rejectedIDs := make(map[int64]struct{}, len(rejected))
	for _, r := range rejected {
		d.logger.Printf("outbox: event %d rejected: %s", r.msg.EventID, r.reason)
		failedCounter.WithLabelValues(r.msg.EventType).Inc()
		if dlqErr := d.moveToDLQ(ctx, []Message{r.msg}, r.reason); dlqErr != nil {
			return dlqErr
		}
		rejectedIDs[r.msg.EventID] = struct{}{}
	}

	for _, msg := range messages {
		if _, skip := rejectedIDs[msg.EventID]; !skip {
			deliveredCounter.WithLabelValues(msg.EventType).Inc()
		}
	}
	return d.markPublished(ctx, messages)
}

func (d *Dispatcher) fetchAndClaim(ctx context.Context) ([]Message, error) {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	query := `SELECT event_id, tenant_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload
        FROM outbox
        WHERE published_at IS NULL
        ORDER BY event_id
        LIMIT $1
        FOR UPDATE SKIP LOCKED`

	rows, err := tx.Query(ctx, query, d.batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]Message, 0)
	ids := make([]int64, 0)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.EventID, &msg.TenantID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Topic, &msg.SchemaSubject, &msg.PartitionKey, &msg.Payload); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
		ids = append(ids, msg.EventID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		tx.Rollback(ctx)
		return nil, nil
	}

	if _, err := tx.Exec(ctx, `UPDATE outbox SET claimed_at = NOW() WHERE event_id = ANY($1)`, ids); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return messages, nil
}

type rejectedMessage struct {
	msg    Message
	reason string
}

// deliver publishes messages grouped by topic. Messages whose event type has
// no registered schema are returned as rejected instead of failing the batch.
func (d *Dispatcher) deliver(ctx context.Context, messages []Message) ([]rejectedMessage, error) {
	batches := make(map[string][]kafka.Message)
	order := make([]string, 0)
	var rejected []rejectedMessage

	for _, msg := range messages {
		meta, ok := schemaCatalog[msg.EventType]
		if !ok {
			rejected = append(rejected, rejectedMessage{msg: msg, reason: fmt.Sprintf("no schema metadata for event_type=%s", msg.EventType)})
			continue
		}

		schemaID, err := d.schemaID(ctx, msg.SchemaSubject, meta.Schema)
		if err != nil {
			return nil, err
		}

		record := kafka.Message{
			Key:   []byte(msg.PartitionKey),
			Value: encodeWireFormat(schemaID, msg.Payload),
			Time:  time.Now().UTC(),
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(msg.EventType)},
				{Key: "tenant_id", Value: []byte(msg.TenantID)},
				{Key: "schema_subject", Value: []byte(msg.SchemaSubject)},
			},
		}

		if _, exists := batches[msg.Topic]; !exists {
			order = append(order, msg.Topic)
		}
		batches[msg.Topic] = append(batches[msg.Topic], record)
	}

	for _, topic := range order {
		if err := d.producer.WriteMessages(ctx, topic, batches[topic]...); err != nil {
			return nil, err
		}
	}

	return rejected, nil
}

func (d *Dispatcher) schemaID(ctx context.Context, subject, schema string) (int, error) {
	cacheKey := subject + "::" + schema
	if cached, found := d.schemaIDCache.Load(cacheKey); found {
		return cached.(int), nil
	}
	id, err := d.registry.EnsureSchema(ctx, subject, schema)
	if err != nil {
		return 0, err
	}
	d.schemaIDCache.Store(cacheKey, id)
	return id, nil
}

func (d *Dispatcher) markPublished(ctx context.Context, messages []Message) error {
	groups := make(map[string][]int64)
	for _, msg := range messages {
		groups[msg.TenantID] = append(groups[msg.TenantID], msg.EventID)
	}

	for tenantID, ids := range groups {
		conn, err := d.pool.Acquire(ctx)
		if err != nil {
			return err
		}

		tx, err := conn.Begin(ctx)
		if err != nil {
			conn.Release()
			return err
		}

		if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
			tx.Rollback(ctx)
			conn.Release()
			return err
		}

		if _, err := tx.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, ids); err != nil {
			tx.Rollback(ctx)
			conn.Release()
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			conn.Release()
			return err
		}
		conn.Release()
	}

	return nil
}

func (d *Dispatcher) moveToDLQ(ctx context.Context, messages []Message, reason string) error {
	for _, msg := range messages {
		entryReason := fmt.Sprintf("%s (topic=%s)", reason, msg.Topic)
		if err := d.dlq.Write(ctx, msg, entryReason); err != nil {
			return err
		}
		dlqCounter.WithLabelValues(msg.Topic).Inc()
	}
	return nil
}

// Message represents a row fetched from outbox.
type Message struct {
	EventID       int64
	TenantID      string
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	SchemaSubject string
	PartitionKey  string
	Payload       json.RawMessage
}

// encodeWireFormat applies Confluent framing for Schema Registry aware payloads.
func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	frame[0] = 0
	binary.BigEndian.PutUint32(frame[1:5], uint32(schemaID))
	copy(frame[5:], payload)
	return frame
}

// SchemaCatalogEntry maps an attendance event type to its JSON schema.
type SchemaCatalogEntry struct {
	Schema string
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	events.TypeEventRecorded: {
		Schema: eventRecordedSchema,
	},
	events.TypeSessionClosed: {
		Schema: sessionClosedSchema,
	},
}
