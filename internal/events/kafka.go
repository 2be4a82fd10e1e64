package events

import (
	"context"
	"encoding/json"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/kafka"
)

// Publisher is the producer side used by KafkaSink.
type Publisher interface {
	Publish(ctx context.Context, topic string, messages ...kafka.Message) error
}

// KafkaSink writes envelopes to a single topic keyed by aggregate.
type KafkaSink struct {
	producer Publisher
	topic    string
}

// NewKafkaSink builds a sink for topic.
func NewKafkaSink(producer Publisher, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Publish(ctx context.Context, env Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.producer.Publish(ctx, s.topic, kafka.Message{
		Key:   []byte(env.Key()),
		Value: raw,
		Headers: map[string]string{
			"event_type": env.Type,
			"event_id":   env.ID.String(),
		},
	})
}
