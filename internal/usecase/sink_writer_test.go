package usecase

import (
	"context"
	"errors"
	"testing"

	"quantiv/internal/domain/models"
	"quantiv/internal/domain/repository"
	"quantiv/pkg/logger"
)

type nopMetrics struct{}

func (nopMetrics) RecordRecordsWritten(string, int) {}
func (nopMetrics) RecordStoreError(string, string)  {}
func (nopMetrics) RecordCacheHit(string)            {}
func (nopMetrics) RecordCacheMiss(string)           {}
func (nopMetrics) RecordLatency(string, float64)    {}
func (nopMetrics) RecordError(string)               {}

type fakeSink struct {
	name    string
	err     error
	batches [][]models.ForecastRecord
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) WriteBatch(ctx context.Context, recs []models.ForecastRecord) error {
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, recs)
	return nil
}

func newTestWriter(sinks ...repository.ForecastSink) *SinkWriter {
	return NewSinkWriter(sinks, logger.Nop(), nopMetrics{})
}

func validBatch() []models.ForecastRecord {
	return []models.ForecastRecord{baselineRecord("AAPL"), baselineRecord("MSFT")}
}

func TestWriteAllSinksSucceed(t *testing.T) {
	pg := &fakeSink{name: "postgres"}
	ch := &fakeSink{name: "clickhouse"}
	w := newTestWriter(pg, ch)

	report, err := w.Write(context.Background(), validBatch())
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(report.Failed()) != 0 {
		t.Fatalf("unexpected failures: %v", report.Failed())
	}
	if len(pg.batches) != 1 || len(ch.batches) != 1 {
		t.Fatal("batch did not reach every sink")
	}
}

func TestWritePartialFailure(t *testing.T) {
	pg := &fakeSink{name: "postgres"}
	ch := &fakeSink{name: "clickhouse", err: errors.New("connection refused")}
	w := newTestWriter(pg, ch)

	report, err := w.Write(context.Background(), validBatch())
	if !errors.Is(err, ErrPartialWrite) {
		t.Fatalf("err = %v, want ErrPartialWrite", err)
	}
	failed := report.Failed()
	if len(failed) != 1 || failed[0] != "clickhouse" {
		t.Fatalf("failed sinks = %v, want [clickhouse]", failed)
	}
	// The healthy sink keeps its write.
	if len(pg.batches) != 1 {
		t.Fatal("successful sink must keep its data")
	}
}

func TestWriteTotalFailureIsNotPartial(t *testing.T) {
	pg := &fakeSink{name: "postgres", err: errors.New("down")}
	ch := &fakeSink{name: "clickhouse", err: errors.New("also down")}
	w := newTestWriter(pg, ch)

	report, err := w.Write(context.Background(), validBatch())
	if err == nil {
		t.Fatal("expected error when every sink fails")
	}
	if errors.Is(err, ErrPartialWrite) {
		t.Fatal("total failure must not be reported as partial")
	}
	if len(report.Failed()) != 2 {
		t.Fatalf("failed sinks = %v, want both", report.Failed())
	}
}

func TestWriteRejectsInvalidBatchBeforeSinks(t *testing.T) {
	pg := &fakeSink{name: "postgres"}
	w := newTestWriter(pg)

	batch := validBatch()
	batch[1].EMBaseline = -1

	if _, err := w.Write(context.Background(), batch); err == nil {
		t.Fatal("expected validation error")
	}
	if len(pg.batches) != 0 {
		t.Fatal("invalid batch must not touch any sink")
	}
}

func TestWriteEmptyBatchIsNoop(t *testing.T) {
	pg := &fakeSink{name: "postgres"}
	w := newTestWriter(pg)

	if _, err := w.Write(context.Background(), nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(pg.batches) != 0 {
		t.Fatal("empty batch must not reach sinks")
	}
}

func TestWriteToRetriesSingleSink(t *testing.T) {
	pg := &fakeSink{name: "postgres"}
	ch := &fakeSink{name: "clickhouse"}
	w := newTestWriter(pg, ch)

	if err := w.WriteTo(context.Background(), "clickhouse", validBatch()); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if len(ch.batches) != 1 || len(pg.batches) != 0 {
		t.Fatal("WriteTo must touch only the named sink")
	}
}

func TestWriteToUnknownSink(t *testing.T) {
	w := newTestWriter(&fakeSink{name: "postgres"})
	if err := w.WriteTo(context.Background(), "bigtable", validBatch()); err == nil {
		t.Fatal("expected error for unknown sink")
	}
}
