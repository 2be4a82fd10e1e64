package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// Message is a keyed record with string headers.
type Message struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Writer is the subset of kafka-go's writer used by Producer.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Producer keeps one writer per topic.
type Producer struct {
	mu      sync.Mutex
	writers map[string]Writer
	brokers []string
	newFn   func(brokers []string, topic string) Writer
}

// NewProducer creates a producer for brokers. Writers are created lazily.
func NewProducer(brokers []string) *Producer {
	return &Producer{
		writers: make(map[string]Writer),
		brokers: brokers,
		newFn:   newWriter,
	}
}

// Publish sends messages to topic and waits for all in-sync replicas.
func (p *Producer) Publish(ctx context.Context, topic string, messages ...Message) error {
	w := p.writer(topic)
	out := make([]kafkago.Message, 0, len(messages))
	for _, msg := range messages {
		km := kafkago.Message{Key: msg.Key, Value: msg.Value}
		for k, v := range msg.Headers {
			km.Headers = append(km.Headers, kafkago.Header{Key: k, Value: []byte(v)})
		}
		out = append(out, km)
	}
	if err := w.WriteMessages(ctx, out...); err != nil {
		return fmt.Errorf("platform/kafka: publish to %s: %w", topic, err)
	}
	return nil
}

// Close closes every writer.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("platform/kafka: close writer %s: %w", topic, err)
		}
	}
	p.writers = make(map[string]Writer)
	return firstErr
}

func (p *Producer) writer(topic string) Writer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.writers[topic]; ok {
		return w
	}
	w := p.newFn(p.brokers, topic)
	p.writers[topic] = w
	return w
}

func newWriter(brokers []string, topic string) Writer {
	return &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
}
