package outbox

import (
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/attendance/internal/events"
)

func TestDeliverFramesPayloadAndSetsHeaders(t *testing.T) {
	producer := &stubProducer{}
	registry := &stubRegistry{id: 17}
	d := NewDispatcher(nil, producer, registry, time.Second, 10)

	msgs := []Message{
		testMessage(1, events.TypeEventRecorded, `{"sequence":1}`),
		testMessage(2, events.TypeSessionClosed, `{"sequence":4}`),
	}
	rejected, err := d.deliver(context.Background(), msgs)
	require.NoError(t, err)
	require.Empty(t, rejected)

	require.Len(t, producer.writes, 1)
	written := producer.writes[0]
	require.Equal(t, "attendance_events", written.topic)
	require.Len(t, written.messages, 2)

	first := written.messages[0]
	require.Equal(t, byte(0), first.Value[0])
	require.Equal(t, uint32(17), binary.BigEndian.Uint32(first.Value[1:5]))
	require.JSONEq(t, `{"sequence":1}`, string(first.Value[5:]))
	require.Equal(t, "tenant-a:emp-1", string(first.Key))
	require.Equal(t, events.TypeEventRecorded, headerValue(first, "event_type"))
	require.Equal(t, events.TypeSessionClosed, headerValue(written.messages[1], "event_type"))
	require.Equal(t, "tenant-a", headerValue(first, "tenant_id"))

	require.Len(t, registry.calls, 2)
}

func TestDeliverCachesSchemaIDs(t *testing.T) {
	producer := &stubProducer{}
	registry := &stubRegistry{id: 5}
	d := NewDispatcher(nil, producer, registry, time.Second, 10)

	for i := int64(1); i <= 3; i++ {
		_, err := d.deliver(context.Background(), []Message{testMessage(i, events.TypeEventRecorded, `{}`)})
		require.NoError(t, err)
	}
	require.Len(t, registry.calls, 1)
	require.Len(t, producer.writes, 3)
}

func TestDeliverRejectsUnknownEventTypes(t *testing.T) {
	producer := &stubProducer{}
	registry := &stubRegistry{id: 5}
	d := NewDispatcher(nil, producer, registry, time.Second, 10)

	rejected, err := d.deliver(context.Background(), []Message{
		testMessage(1, "attendance.unknown", `{}`),
		testMessage(2, events.TypeEventRecorded, `{}`),
	})
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	require.Equal(t, int64(1), rejected[0].msg.EventID)
	require.Contains(t, rejected[0].reason, "attendance.unknown")
	require.Len(t, producer.writes, 1)
	require.Len(t, producer.writes[0].messages, 1)
}

func TestDeliverPropagatesRegistryAndProducerErrors(t *testing.T) {
	d := NewDispatcher(nil, &stubProducer{}, &stubRegistry{err: errors.New("registry offline")}, time.Second, 10)
	_, err := d.deliver(context.Background(), []Message{testMessage(1, events.TypeEventRecorded, `{}`)})
	require.ErrorContains(t, err, "registry offline")

	d = NewDispatcher(nil, &stubProducer{err: errors.New("broker down")}, &stubRegistry{id: 1}, time.Second, 10)
	_, err = d.deliver(context.Background(), []Message{testMessage(1, events.TypeEventRecorded, `{}`)})
	require.ErrorContains(t, err, "broker down")
}

func TestBackoffDelayDoublesAndCaps(t *testing.T) {
	base := time.Minute
	require.Equal(t, time.Minute, backoffDelay(base, 1))
	require.Equal(t, 2*time.Minute, backoffDelay(base, 2))
	require.Equal(t, 8*time.Minute, backoffDelay(base, 4))
	require.Equal(t, time.Hour, backoffDelay(base, 7))
	require.Equal(t, time.Hour, backoffDelay(base, 40))
	require.Equal(t, time.Minute, backoffDelay(base, 0))
}

func TestUnreplayableSeparatesPermanentFailures(t *testing.T) {
	entry := dlqEntry{
		EventType:     events.TypeSessionClosed,
		AggregateID:   "rec-1",
		SchemaSubject: "attendance_session_closed-value",
		Payload:       []byte(`{"record_id":"rec-1","sequence":4}`),
	}
	require.Empty(t, unreplayable(entry))

	unknown := entry
	unknown.EventType = "attendance.unknown"
	require.Contains(t, unreplayable(unknown), "no schema metadata")

	noSubject := entry
	noSubject.SchemaSubject = ""
	require.Contains(t, unreplayable(noSubject), "schema_subject")

	garbled := entry
	garbled.Payload = []byte(`not json`)
	require.Contains(t, unreplayable(garbled), "not an attendance event")

	anonymous := entry
	anonymous.Payload = []byte(`{"sequence":4}`)
	require.Contains(t, unreplayable(anonymous), "does not identify")

	misfiled := entry
	misfiled.AggregateID = "rec-2"
	require.Contains(t, unreplayable(misfiled), "does not match aggregate rec-2")
}

func testMessage(id int64, eventType, payload string) Message {
	return Message{
		EventID:       id,
		TenantID:      "tenant-a",
		AggregateType: "attendance_record",
		AggregateID:   "rec-1",
		EventType:     eventType,
		Topic:         "attendance_events",
		SchemaSubject: "attendance_events-value",
		PartitionKey:  "tenant-a:emp-1",
		Payload:       []byte(payload),
	}
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

type stubProducer struct {
	mu     sync.Mutex
	err    error
	writes []writtenBatch
}

type writtenBatch struct {
	topic    string
	messages []kafka.Message
}

func (s *stubProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}

	copied := make([]kafka.Message, len(msgs))
	copy(copied, msgs)

	s.writes = append(s.writes, writtenBatch{
		topic:    topic,
		messages: copied,
	})
	return nil
}

type stubRegistry struct {
	mu    sync.Mutex
	id    int
	err   error
	calls []schemaCall
}

type schemaCall struct {
	subject string
	schema  string
}

func (s *stubRegistry) EnsureSchema(ctx context.Context, subject string, schema string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, schemaCall{subject: subject, schema: schema})
	if s.err != nil {
		return 0, s.err
	}
	if s.id == 0 {
		s.id = 1
	}
	return s.id, nil
}

func TestTruncateReason(t *testing.T) {
	require.Equal(t, "short", truncateReason("short"))

	long := strings.Repeat("x", maxReasonLength+10)
	require.Len(t, truncateReason(long), maxReasonLength)
}

func TestKafkaProducerRejectsWritesAfterClose(t *testing.T) {
	producer := NewKafkaProducer([]string{"localhost:9092"})
	require.NoError(t, producer.Close())

	err := producer.WriteMessages(context.Background(), "attendance_events", kafka.Message{Value: []byte("x")})
	require.ErrorIs(t, err, ErrProducerClosed)
}
