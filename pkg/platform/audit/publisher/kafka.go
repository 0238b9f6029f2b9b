package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"attesto/pkg/platform/audit"
)

// KafkaPublisher ships audit events to a Kafka topic. Produces are
// fire-and-forget: a broker outage degrades the audit trail, it never blocks
// or fails a verification.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// NewKafka connects a producer for the given brokers and topic.
func NewKafka(brokers []string, topic string, logger *slog.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("audit topic is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerLinger(0),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaPublisher{client: client, topic: topic, logger: logger}, nil
}

// Publish encodes the event as JSON keyed by user id so per-user ordering is
// preserved within a partition.
func (p *KafkaPublisher) Publish(ctx context.Context, event audit.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.UserID.String()),
		Value: value,
	}
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			p.logger.Error("audit publish failed", "action", event.Action, "error", err)
		}
	})
	return nil
}

// Close flushes pending records and releases the client.
func (p *KafkaPublisher) Close(ctx context.Context) error {
	if err := p.client.Flush(ctx); err != nil {
		return fmt.Errorf("flush audit events: %w", err)
	}
	p.client.Close()
	return nil
}
