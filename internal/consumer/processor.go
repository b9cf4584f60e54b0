// Package consumer reads attendance events from Kafka and projects them into audit and
// admin snapshot stores.
package consumer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// Header keys stamped on every record by the outbox dispatcher.
const (
	headerEventType     = "event_type"
	headerTenantID      = "tenant_id"
	headerSchemaSubject = "schema_subject"

	wireHeaderLength = 5
)

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded messages from Kafka.
type Handler interface {
	Handle(context.Context, Message) error
}

// Message is an attendance event as published by the outbox dispatcher, with the schema
// registry framing stripped.
type Message struct {
	Topic         string
	Partition     int
	Offset        int64
	Timestamp     time.Time
	EventType     string
	TenantID      string
	SchemaSubject string
	SchemaID      int
	Payload       json.RawMessage
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *log.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithRetry makes the processor call the handler up to attempts times, sleeping delay between
// tries, before leaving the message uncommitted.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(p *Processor) {
		if attempts > 0 {
			p.attempts = attempts
		}
		if delay >= 0 {
			p.retryDelay = delay
		}
	}
}

// Processor pulls messages from Kafka, decodes them, and dispatches to a Handler. A message is
// committed once the handler accepted it; malformed messages are committed straight away so a
// poison pill cannot stall the partition.
type Processor struct {
	reader     Reader
	handler    Handler
	logger     *log.Logger
	attempts   int
	retryDelay time.Duration
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:   reader,
		handler:  handler,
		logger:   log.New(log.Writer(), "[attendance-consumer] ", log.LstdFlags|log.Lshortfile),
		attempts: 1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes messages until ctx is cancelled and returns the context error.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			p.logger.Printf("fetch error: %v", err)
			continue
		}

		msg, err := decodeMessage(raw)
		if err != nil {
			p.logger.Printf("dropping malformed message (topic=%s, partition=%d, offset=%d): %v", raw.Topic, raw.Partition, raw.Offset, err)
			recordDecodeError(raw.Topic)
			p.commit(ctx, raw)
			continue
		}

		if err := p.handle(ctx, msg); err != nil {
			p.logger.Printf("handler error (event_type=%s, tenant=%s, offset=%d): %v", msg.EventType, msg.TenantID, msg.Offset, err)
			recordHandlerError(msg)
			continue
		}

		if p.commit(ctx, raw) {
			recordProcessed(msg, time.Now())
		}
	}
}

func (p *Processor) handle(ctx context.Context, msg Message) error {
	var err error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if err = p.handler.Handle(ctx, msg); err == nil {
			return nil
		}
		if attempt == p.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(p.retryDelay):
		}
	}
	return err
}

func (p *Processor) commit(ctx context.Context, raw kafka.Message) bool {
	if err := p.reader.CommitMessages(ctx, raw); err != nil {
		p.logger.Printf("commit error (topic=%s, offset=%d): %v", raw.Topic, raw.Offset, err)
		return false
	}
	return true
}

func decodeMessage(raw kafka.Message) (Message, error) {
	if len(raw.Value) < wireHeaderLength {
		return Message{}, fmt.Errorf("payload too short for wire format: %d bytes", len(raw.Value))
	}
	if raw.Value[0] != 0 {
		return Message{}, fmt.Errorf("unexpected wire format magic byte %d", raw.Value[0])
	}

	headers := make(map[string]string, len(raw.Headers))
	for _, h := range raw.Headers {
		if _, seen := headers[h.Key]; !seen {
			headers[h.Key] = string(h.Value)
		}
	}
	eventType, ok := headers[headerEventType]
	if !ok || eventType == "" {
		return Message{}, errors.New("missing event_type header")
	}

	return Message{
		Topic:         raw.Topic,
		Partition:     raw.Partition,
		Offset:        raw.Offset,
		Timestamp:     raw.Time,
		EventType:     eventType,
		TenantID:      headers[headerTenantID],
		SchemaSubject: headers[headerSchemaSubject],
		SchemaID:      int(binary.BigEndian.Uint32(raw.Value[1:wireHeaderLength])),
		Payload:       json.RawMessage(append([]byte(nil), raw.Value[wireHeaderLength:]...)),
	}, nil
}
