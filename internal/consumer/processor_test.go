package consumer

import (
	"context"
	"encoding/binary"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

func TestProcessorCommitsOnSuccess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	payload := []byte(`{"record_id":"rec-1","sequence":1}`)
	value := make([]byte, 5+len(payload))
	value[0] = 0
	binary.BigEndian.PutUint32(value[1:5], uint32(42))
	copy(value[5:], payload)

	msg := kafka.Message{
		Topic:     "attendance_events",
		Partition: 0,
		Offset:    10,
		Time:      time.Now().UTC(),
		Value:     value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("attendance.event_recorded")},
			{Key: "tenant_id", Value: []byte("tenant-1")},
			{Key: "schema_subject", Value: []byte("attendance_events-value")},
		},
	}

	reader := &stubReader{
		messages: []kafka.Message{msg},
		after:    contextCanceled,
	}
	handler := &stubHandler{}

	processor := NewProcessor(reader, handler, WithLogger(log.New(testWriter{t}, "", 0)))

	err := processor.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, handler.calls)
	require.Equal(t, 1, reader.commitCalls)
	require.Equal(t, "attendance.event_recorded", handler.last.EventType)
	require.Equal(t, "tenant-1", handler.last.TenantID)
	require.Equal(t, 42, handler.last.SchemaID)
	require.JSONEq(t, string(payload), string(handler.last.Payload))
}

func TestProcessorSkipsCommitOnHandlerError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	payload := []byte(`{"record_id":"rec-2","sequence":3}`)
	value := make([]byte, 5+len(payload))
	value[0] = 0
	binary.BigEndian.PutUint32(value[1:5], uint32(99))
	copy(value[5:], payload)

	msg := kafka.Message{
		Topic:     "attendance_events",
		Partition: 0,
		Offset:    20,
		Time:      time.Now().UTC(),
		Value:     value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("attendance.session_closed")},
			{Key: "tenant_id", Value: []byte("tenant-2")},
			{Key: "schema_subject", Value: []byte("attendance_session_closed-value")},
		},
	}

	reader := &stubReader{
		messages: []kafka.Message{msg},
		after:    contextCanceled,
	}
	handler := &stubHandler{err: errors.New("boom")}

	processor := NewProcessor(reader, handler, WithLogger(log.New(testWriter{t}, "", 0)))

	err := processor.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, handler.calls)
	require.Equal(t, 0, reader.commitCalls)
}

func TestProcessorCommitsMalformedMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	missingHeader := kafka.Message{Topic: "attendance_events", Offset: 1, Value: []byte{0, 0, 0, 0, 1, '{', '}'}}
	badMagic := kafka.Message{
		Topic:   "attendance_events",
		Offset:  2,
		Value:   []byte{1, 0, 0, 0, 1, '{', '}'},
		Headers: []kafka.Header{{Key: "event_type", Value: []byte("attendance.event_recorded")}},
	}
	short := kafka.Message{
		Topic:   "attendance_events",
		Offset:  3,
		Value:   []byte{0, 1},
		Headers: []kafka.Header{{Key: "event_type", Value: []byte("attendance.event_recorded")}},
	}

	reader := &stubReader{messages: []kafka.Message{missingHeader, badMagic, short}, after: contextCanceled}
	handler := &stubHandler{}

	processor := NewProcessor(reader, handler, WithLogger(log.New(testWriter{t}, "", 0)))
	require.ErrorIs(t, processor.Run(ctx), context.Canceled)

	require.Zero(t, handler.calls)
	require.Equal(t, 3, reader.commitCalls)
}

func TestProcessorRetriesHandlerBeforeCommitting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := kafka.Message{
		Topic:   "attendance_events",
		Offset:  30,
		Value:   []byte{0, 0, 0, 0, 7, '{', '}'},
		Headers: []kafka.Header{{Key: "event_type", Value: []byte("attendance.event_recorded")}},
	}
	reader := &stubReader{messages: []kafka.Message{msg}, after: contextCanceled}

	calls := 0
	handler := HandlerFunc(func(context.Context, Message) error {
		calls++
		if calls < 3 {
			return errors.New("redis unavailable")
		}
		return nil
	})

	processor := NewProcessor(reader, handler, WithLogger(log.New(testWriter{t}, "", 0)), WithRetry(3, 0))
	require.ErrorIs(t, processor.Run(ctx), context.Canceled)

	require.Equal(t, 3, calls)
	require.Equal(t, 1, reader.commitCalls)
}

func TestDecodeMessageUsesFirstHeaderValue(t *testing.T) {
	msg, err := decodeMessage(kafka.Message{
		Value: []byte{0, 0, 0, 1, 0, '{', '}'},
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("attendance.session_closed")},
			{Key: "event_type", Value: []byte("ignored")},
			{Key: "tenant_id", Value: []byte("tenant-9")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "attendance.session_closed", msg.EventType)
	require.Equal(t, "tenant-9", msg.TenantID)
	require.Equal(t, 256, msg.SchemaID)
	require.JSONEq(t, `{}`, string(msg.Payload))
}

func TestFanoutCallsEveryHandlerAndJoinsErrors(t *testing.T) {
	first := &stubHandler{err: errors.New("first failed")}
	second := &stubHandler{}
	var seen []string
	third := HandlerFunc(func(_ context.Context, msg Message) error {
		seen = append(seen, msg.EventType)
		return nil
	})

	err := Fanout{first, second, third}.Handle(context.Background(), Message{EventType: "attendance.event_recorded"})
	require.ErrorContains(t, err, "first failed")
	require.Equal(t, 1, first.calls)
	require.Equal(t, 1, second.calls)
	require.Equal(t, []string{"attendance.event_recorded"}, seen)

	require.NoError(t, Fanout{second}.Handle(context.Background(), Message{}))
}

func TestPersistenceHandlerRejectsUndecodablePayload(t *testing.T) {
	err := NewPersistenceHandler(nil).Handle(context.Background(), Message{
		EventType: "attendance.event_recorded",
		Topic:     "attendance_events",
		Payload:   []byte(`not-json`),
	})
	require.ErrorContains(t, err, "decode attendance.event_recorded payload")
}

type stubReader struct {
	messages    []kafka.Message
	index       int
	commitCalls int
	after       func() error
}

func (r *stubReader) FetchMessage(context.Context) (kafka.Message, error) {
	if r.index >= len(r.messages) {
		if r.after != nil {
			return kafka.Message{}, r.after()
		}
		return kafka.Message{}, context.Canceled
	}
	msg := r.messages[r.index]
	r.index++
	return msg, nil
}

func (r *stubReader) CommitMessages(_ context.Context, _ ...kafka.Message) error {
	r.commitCalls++
	return nil
}

func (r *stubReader) Close() error { return nil }

func contextCanceled() error { return context.Canceled }

type stubHandler struct {
	calls int
	err   error
	last  Message
}

func (h *stubHandler) Handle(_ context.Context, msg Message) error {
	h.calls++
	h.last = msg
	return h.err
}

type testWriter struct {
	t *testing.T
}

func (tw testWriter) Write(p []byte) (int, error) {
	tw.t.Log(string(p))
	return len(p), nil
}
