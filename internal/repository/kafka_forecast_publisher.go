package repository

import (
	"context"
	"fmt"

	"quantiv/internal/domain/models"
	domrepo "quantiv/internal/domain/repository"
	pkgkafka "quantiv/pkg/kafka"
)

// KafkaForecastPublisher emits written forecast batches, one event per
// record, keyed by underlying so each underlying's events stay ordered.
type KafkaForecastPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaForecastPublisher(producer *pkgkafka.Producer, topic string) *KafkaForecastPublisher {
	return &KafkaForecastPublisher{producer: producer, topic: topic}
}

func (p *KafkaForecastPublisher) PublishBatch(ctx context.Context, recs []models.ForecastRecord) error {
	if len(recs) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, 0, len(recs))
	for _, rec := range recs {
		msgs = append(msgs, pkgkafka.Message{
			Key:   []byte(rec.Underlying),
			Value: models.NewForecastEvent(rec),
		})
	}
	if err := p.producer.PublishBatch(ctx, p.topic, msgs); err != nil {
		return fmt.Errorf("publish %d forecasts: %w", len(msgs), err)
	}
	return nil
}

func (p *KafkaForecastPublisher) Close() error {
	return p.producer.Close()
}

var _ domrepo.ForecastPublisher = (*KafkaForecastPublisher)(nil)
