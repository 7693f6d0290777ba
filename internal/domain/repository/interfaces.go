package repository

import (
	"context"
	"time"

	"quantiv/internal/domain/models"
)

// ForecastReader exposes the five serving read operations over one store.
// Results come back newest-first except History, which is oldest-first for
// charting. Absent data is (nil, nil) / empty slices, never an error.
type ForecastReader interface {
	// LatestByHorizons returns recent records for the requested horizons,
	// ordered quote_ts desc, exp_date asc.
	LatestByHorizons(ctx context.Context, underlying string, horizons []models.Horizon, windowDays, limit int) ([]models.ForecastRecord, error)

	// LatestForExpiry returns the single most recent to_exp record for the
	// underlying and expiration, or nil when none exists.
	LatestForExpiry(ctx context.Context, underlying string, exp time.Time) (*models.ForecastRecord, error)

	// History returns the to_exp time series for the underlying and
	// expiration within the window, ordered quote_ts asc.
	History(ctx context.Context, underlying string, exp time.Time, windowDays int) ([]models.ForecastRecord, error)

	// Expiries returns distinct upcoming expirations within the window,
	// ascending, capped at limit.
	Expiries(ctx context.Context, underlying string, windowDays, limit int) ([]time.Time, error)

	// ActiveUnderlyings returns per-underlying record counts within the
	// window, ordered count desc then underlying asc, capped at limit.
	ActiveUnderlyings(ctx context.Context, windowDays, limit int) ([]models.UnderlyingCount, error)
}

// ForecastSink persists a batch of records. Writes are idempotent by
// identity key: an existing key is replaced, never duplicated.
type ForecastSink interface {
	Name() string
	WriteBatch(ctx context.Context, recs []models.ForecastRecord) error
}

// ForecastStore is a single backing store: sink plus reader plus lifecycle.
type ForecastStore interface {
	ForecastReader
	ForecastSink
	Init(ctx context.Context) error
	Health(ctx context.Context) error
	Close() error
}

// QuantilePredictor is the trained-model collaborator. A key absent from the
// returned map means "no override" for that record.
type QuantilePredictor interface {
	PredictBands(ctx context.Context, batch []models.ForecastRecord) (map[models.ForecastKey]models.BandQuantiles, error)
}

// MarketSource discovers instruments, their upcoming expirations and the
// latest volatility estimate from historical market data.
type MarketSource interface {
	Underlyings(ctx context.Context, limit int) ([]string, error)
	Expirations(ctx context.Context, underlying string, lookaheadDays, max int) ([]time.Time, error)
	// LatestIV returns the newest annualized IV estimate for the underlying;
	// ok=false when no history exists.
	LatestIV(ctx context.Context, underlying string) (iv float64, ok bool, err error)
}

// ForecastPublisher emits written forecast batches for downstream consumers.
type ForecastPublisher interface {
	PublishBatch(ctx context.Context, recs []models.ForecastRecord) error
	Close() error
}

// Metrics records operational counters and latencies.
type Metrics interface {
	RecordRecordsWritten(store string, n int)
	RecordStoreError(store, op string)
	RecordCacheHit(op string)
	RecordCacheMiss(op string)
	RecordLatency(op string, seconds float64)
	RecordError(kind string)
}
