package repository

import (
	"context"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/domain/repository"
	pkgkafka "MarketPulse/pkg/kafka"
)

// KafkaTickSink implements TickSink for Kafka. Ticks are keyed by symbol
// so consumers keep per-symbol ordering.
type KafkaTickSink struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaTickSink creates a Kafka tick sink.
func NewKafkaTickSink(producer *pkgkafka.Producer, topic string) repository.TickSink {
	return &KafkaTickSink{producer: producer, topic: topic}
}

func (p *KafkaTickSink) Publish(ctx context.Context, t *models.Tick) error {
	return p.producer.Publish(ctx, p.topic, []byte(t.Symbol), map[string]interface{}{
		"symbol": t.Symbol,
		"t":      t.Timestamp,
		"c":      t.Price,
		"v":      t.Volume,
		"oi":     t.OpenInterest,
		"src":    string(t.Source),
	})
}

func (p *KafkaTickSink) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
