package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"quantiv/internal/domain/models"
	"quantiv/pkg/logger"
)

// ForecastIngressHandler consumes forecast events from Kafka and funnels
// them through the sink writer. Because every writing process goes through
// this one consumer group, columnar read-modify-writes are serialized
// cluster-wide.
type ForecastIngressHandler struct {
	topic  string
	writer *SinkWriter
	log    *logger.Logger
}

func NewForecastIngressHandler(topic string, writer *SinkWriter, log *logger.Logger) *ForecastIngressHandler {
	return &ForecastIngressHandler{topic: topic, writer: writer, log: log}
}

func (h *ForecastIngressHandler) Topic() string {
	return h.topic
}

// Handle parses one forecast event and writes it. A malformed payload is a
// permanent failure; the consumer's retry/DLQ policy deals with it.
func (h *ForecastIngressHandler) Handle(ctx context.Context, data []byte) error {
	var ev models.ForecastEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("unmarshal forecast event: %w", err)
	}
	rec, err := ev.Record()
	if err != nil {
		return fmt.Errorf("invalid forecast event: %w", err)
	}

	if _, err := h.writer.Write(ctx, []models.ForecastRecord{rec}); err != nil {
		return fmt.Errorf("write forecast %s: %w", rec.Key(), err)
	}

	h.log.Debug("ingested forecast event",
		logger.String("underlying", rec.Underlying),
		logger.String("horizon", string(rec.Horizon)),
	)
	return nil
}
