package usecase

import (
	"context"
	"encoding/json"
	"testing"

	"quantiv/internal/domain/models"
	"quantiv/internal/domain/repository"
	"quantiv/pkg/logger"
)

func newIngressHandler(sink *fakeSink) *ForecastIngressHandler {
	w := NewSinkWriter([]repository.ForecastSink{sink}, logger.Nop(), nopMetrics{})
	return NewForecastIngressHandler("quantiv.forecasts", w, logger.Nop())
}

func TestIngressHandlerWritesEvent(t *testing.T) {
	sink := &fakeSink{name: "postgres"}
	h := newIngressHandler(sink)

	rec := baselineRecord("AAPL")
	data, err := json.Marshal(models.NewForecastEvent(rec))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	if err := h.Handle(context.Background(), data); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(sink.batches) != 1 || len(sink.batches[0]) != 1 {
		t.Fatalf("sink batches = %v", sink.batches)
	}
	if sink.batches[0][0].Key() != rec.Key() {
		t.Fatal("written record does not match event")
	}
}

func TestIngressHandlerRejectsMalformedPayload(t *testing.T) {
	sink := &fakeSink{name: "postgres"}
	h := newIngressHandler(sink)

	if err := h.Handle(context.Background(), []byte("{not json")); err == nil {
		t.Fatal("expected unmarshal error")
	}
	if len(sink.batches) != 0 {
		t.Fatal("malformed payload must not reach the sink")
	}
}

func TestIngressHandlerRejectsInvalidRecord(t *testing.T) {
	sink := &fakeSink{name: "postgres"}
	h := newIngressHandler(sink)

	rec := baselineRecord("AAPL")
	rec.EMBaseline = -1
	data, _ := json.Marshal(models.NewForecastEvent(rec))

	if err := h.Handle(context.Background(), data); err == nil {
		t.Fatal("expected validation error")
	}
	if len(sink.batches) != 0 {
		t.Fatal("invalid record must not reach the sink")
	}
}
