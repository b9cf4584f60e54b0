package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaProducer publishes attendance events, keeping one synchronous writer per topic.
// Messages are keyed by partition key (tenant and employee), so the hash balancer keeps
// each employee's events on one partition in commit order.
type KafkaProducer struct {
	brokers      []string
	batchTimeout time.Duration

	mu      sync.Mutex
	writers map[string]*kafka.Writer
	closed  bool
}

// ErrProducerClosed is returned by WriteMessages after Close.
var ErrProducerClosed = errors.New("outbox: producer closed")

// NewKafkaProducer creates a KafkaProducer for the given brokers.
func NewKafkaProducer(brokers []string) *KafkaProducer {
	return &KafkaProducer{
		brokers:      brokers,
		batchTimeout: 50 * time.Millisecond,
		writers:      make(map[string]*kafka.Writer),
	}
}

// WriteMessages publishes msgs to topic and blocks until every broker replica acknowledged them.
func (p *KafkaProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	writer, err := p.writer(topic)
	if err != nil {
		return err
	}
	return writer.WriteMessages(ctx, msgs...)
}

func (p *KafkaProducer) writer(topic string) (*kafka.Writer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrProducerClosed
	}
	if w, ok := p.writers[topic]; ok {
		return w, nil
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(p.brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Compression:            kafka.Snappy,
		BatchTimeout:           p.batchTimeout,
		AllowAutoTopicCreation: true,
	}
	p.writers[topic] = w
	return w, nil
}

// Close flushes and closes every writer. Later writes fail with ErrProducerClosed.
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	var errs []error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(p.writers, topic)
	}
	return errors.Join(errs...)
}
