package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"quantiv/internal/domain/models"
	"quantiv/internal/domain/repository"
	"quantiv/pkg/logger"
)

// ErrPartialWrite marks a batch that landed in some sinks but not all of
// them. The successful sinks keep their data; callers retry the failed sinks
// via WriteTo.
var ErrPartialWrite = errors.New("batch written to some sinks only")

// SinkResult is the per-sink outcome of one batch write.
type SinkResult struct {
	Sink    string
	Written int
	Err     error
}

// WriteReport collects every sink's outcome for one batch.
type WriteReport struct {
	Results []SinkResult
}

// Failed lists the sinks that rejected the batch.
func (r WriteReport) Failed() []string {
	var out []string
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res.Sink)
		}
	}
	return out
}

// SinkWriter fans forecast batches out to every configured sink. One sink's
// failure neither rolls back nor hides another's success. In-process writes
// are serialized so concurrent batches cannot interleave a columnar
// read-modify-write.
type SinkWriter struct {
	sinks   []repository.ForecastSink
	log     *logger.Logger
	metrics repository.Metrics
	mu      sync.Mutex
}

func NewSinkWriter(sinks []repository.ForecastSink, log *logger.Logger, m repository.Metrics) *SinkWriter {
	return &SinkWriter{sinks: sinks, log: log, metrics: m}
}

// Write validates the batch and writes it to every sink. Validation failures
// reject the whole batch before any store is touched. The returned error is
// nil when every sink accepted the batch, ErrPartialWrite when some did, and
// the joined sink errors when none did.
func (w *SinkWriter) Write(ctx context.Context, recs []models.ForecastRecord) (WriteReport, error) {
	var report WriteReport
	if len(recs) == 0 {
		return report, nil
	}
	for i := range recs {
		if err := recs[i].Validate(); err != nil {
			return report, fmt.Errorf("invalid batch: %w", err)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var failures []error
	for _, sink := range w.sinks {
		res := SinkResult{Sink: sink.Name()}
		if err := sink.WriteBatch(ctx, recs); err != nil {
			res.Err = err
			failures = append(failures, fmt.Errorf("%s: %w", sink.Name(), err))
			w.metrics.RecordStoreError(sink.Name(), "write")
			w.log.Error("sink write failed",
				logger.String("sink", sink.Name()),
				logger.Int("records", len(recs)),
				logger.Error(err),
			)
		} else {
			res.Written = len(recs)
			w.metrics.RecordRecordsWritten(sink.Name(), len(recs))
		}
		report.Results = append(report.Results, res)
	}

	switch {
	case len(failures) == 0:
		return report, nil
	case len(failures) == len(w.sinks):
		return report, errors.Join(failures...)
	default:
		return report, fmt.Errorf("%w: %v", ErrPartialWrite, errors.Join(failures...))
	}
}

// WriteTo retries one named sink with the batch. Used to recover a partial
// write without re-touching the sinks that already accepted it.
func (w *SinkWriter) WriteTo(ctx context.Context, sinkName string, recs []models.ForecastRecord) error {
	for i := range recs {
		if err := recs[i].Validate(); err != nil {
			return fmt.Errorf("invalid batch: %w", err)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sink := range w.sinks {
		if sink.Name() != sinkName {
			continue
		}
		if err := sink.WriteBatch(ctx, recs); err != nil {
			w.metrics.RecordStoreError(sink.Name(), "write")
			return fmt.Errorf("%s: %w", sink.Name(), err)
		}
		w.metrics.RecordRecordsWritten(sink.Name(), len(recs))
		return nil
	}
	return fmt.Errorf("unknown sink %q", sinkName)
}
