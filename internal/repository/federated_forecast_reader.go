package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"quantiv/internal/domain/models"
	domrepo "quantiv/internal/domain/repository"
	"quantiv/pkg/logger"
)

// FederatedForecastReader serves reads over the narrow and broad stores as
// one logical dataset. Both stores are queried concurrently; one store
// failing degrades to the other's data with out-of-band reporting, both
// failing fails the call.
type FederatedForecastReader struct {
	recent     domrepo.ForecastReader
	broad      domrepo.ForecastReader
	recentName string
	broadName  string
	log        *logger.Logger
	metrics    domrepo.Metrics
	recentCap  int
	timeout    time.Duration
}

type FederatedConfig struct {
	RecentWindowCapDays int
	QueryTimeout        time.Duration
}

func NewFederatedForecastReader(
	recent domrepo.ForecastStore,
	broad domrepo.ForecastStore,
	log *logger.Logger,
	m domrepo.Metrics,
	cfg FederatedConfig,
) *FederatedForecastReader {
	capDays := cfg.RecentWindowCapDays
	if capDays < 1 {
		capDays = 30
	}
	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &FederatedForecastReader{
		recent:     recent,
		broad:      broad,
		recentName: recent.Name(),
		broadName:  broad.Name(),
		log:        log,
		metrics:    m,
		recentCap:  capDays,
		timeout:    timeout,
	}
}

// clampWindow bounds how far back the narrow store is asked to look.
func (f *FederatedForecastReader) clampWindow(windowDays int) int {
	if windowDays > f.recentCap {
		return f.recentCap
	}
	return windowDays
}

type sideResult[T any] struct {
	vals T
	err  error
}

// both runs one query against each store concurrently under a bounded
// timeout.
func both[T any](ctx context.Context, f *FederatedForecastReader,
	fromRecent func(context.Context) (T, error),
	fromBroad func(context.Context) (T, error),
) (recent sideResult[T], broad sideResult[T]) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	recentCh := make(chan sideResult[T], 1)
	go func() {
		v, err := fromRecent(ctx)
		recentCh <- sideResult[T]{vals: v, err: err}
	}()
	v, err := fromBroad(ctx)
	broad = sideResult[T]{vals: v, err: err}
	recent = <-recentCh
	return recent, broad
}

// settle applies the degradation policy: one side failing is reported and
// tolerated, both sides failing is fatal.
func settle(f *FederatedForecastReader, op string, recentErr, broadErr error) error {
	if recentErr != nil && broadErr != nil {
		return fmt.Errorf("%s: both stores failed: %w", op, errors.Join(recentErr, broadErr))
	}
	if recentErr != nil {
		f.degrade(op, f.recentName, recentErr)
	}
	if broadErr != nil {
		f.degrade(op, f.broadName, broadErr)
	}
	return nil
}

func (f *FederatedForecastReader) degrade(op, store string, err error) {
	f.metrics.RecordStoreError(store, op)
	f.log.Warn("store degraded, serving from the other",
		logger.String("op", op),
		logger.String("store", store),
		logger.Error(err),
	)
}

func (f *FederatedForecastReader) LatestByHorizons(ctx context.Context, underlying string, horizons []models.Horizon, windowDays, limit int) ([]models.ForecastRecord, error) {
	recent, broad := both(ctx, f,
		func(ctx context.Context) ([]models.ForecastRecord, error) {
			return f.recent.LatestByHorizons(ctx, underlying, horizons, f.clampWindow(windowDays), limit)
		},
		func(ctx context.Context) ([]models.ForecastRecord, error) {
			return f.broad.LatestByHorizons(ctx, underlying, horizons, windowDays, limit)
		},
	)
	if err := settle(f, "latest_by_horizons", recent.err, broad.err); err != nil {
		return nil, err
	}

	// Full-key dedup; on collision the narrow store's copy wins since that is
	// where the newest writes land first.
	merged := make(map[models.ForecastKey]models.ForecastRecord, len(recent.vals)+len(broad.vals))
	for _, rec := range broad.vals {
		merged[rec.Key()] = rec
	}
	if recent.err == nil {
		for _, rec := range recent.vals {
			merged[rec.Key()] = rec
		}
	}

	out := make([]models.ForecastRecord, 0, len(merged))
	for _, rec := range merged {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.QuoteTS.Equal(b.QuoteTS) {
			return a.QuoteTS.After(b.QuoteTS)
		}
		return a.ExpDate.Before(b.ExpDate)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *FederatedForecastReader) LatestForExpiry(ctx context.Context, underlying string, exp time.Time) (*models.ForecastRecord, error) {
	recent, broad := both(ctx, f,
		func(ctx context.Context) (*models.ForecastRecord, error) {
			return f.recent.LatestForExpiry(ctx, underlying, exp)
		},
		func(ctx context.Context) (*models.ForecastRecord, error) {
			return f.broad.LatestForExpiry(ctx, underlying, exp)
		},
	)
	if err := settle(f, "latest_for_expiry", recent.err, broad.err); err != nil {
		return nil, err
	}

	// The single most recent record across both stores wins as a whole; its
	// bands are never mixed with the other store's record.
	var winner *models.ForecastRecord
	if broad.err == nil {
		winner = broad.vals
	}
	if recent.err == nil && recent.vals != nil {
		if winner == nil || recent.vals.QuoteTS.After(winner.QuoteTS) || recent.vals.QuoteTS.Equal(winner.QuoteTS) {
			winner = recent.vals
		}
	}
	return winner, nil
}

func (f *FederatedForecastReader) History(ctx context.Context, underlying string, exp time.Time, windowDays int) ([]models.ForecastRecord, error) {
	recent, broad := both(ctx, f,
		func(ctx context.Context) ([]models.ForecastRecord, error) {
			return f.recent.History(ctx, underlying, exp, f.clampWindow(windowDays))
		},
		func(ctx context.Context) ([]models.ForecastRecord, error) {
			return f.broad.History(ctx, underlying, exp, windowDays)
		},
	)
	if err := settle(f, "history", recent.err, broad.err); err != nil {
		return nil, err
	}

	// Dedup by quote timestamp; the narrow store's copy wins a collision.
	merged := make(map[time.Time]models.ForecastRecord, len(recent.vals)+len(broad.vals))
	for _, rec := range broad.vals {
		merged[rec.QuoteTS.UTC()] = rec
	}
	if recent.err == nil {
		for _, rec := range recent.vals {
			merged[rec.QuoteTS.UTC()] = rec
		}
	}

	out := make([]models.ForecastRecord, 0, len(merged))
	for _, rec := range merged {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuoteTS.Before(out[j].QuoteTS) })
	return out, nil
}

func (f *FederatedForecastReader) Expiries(ctx context.Context, underlying string, windowDays, limit int) ([]time.Time, error) {
	recent, broad := both(ctx, f,
		func(ctx context.Context) ([]time.Time, error) {
			return f.recent.Expiries(ctx, underlying, f.clampWindow(windowDays), limit)
		},
		func(ctx context.Context) ([]time.Time, error) {
			return f.broad.Expiries(ctx, underlying, windowDays, limit)
		},
	)
	if err := settle(f, "expiries", recent.err, broad.err); err != nil {
		return nil, err
	}

	seen := make(map[time.Time]struct{}, len(recent.vals)+len(broad.vals))
	var out []time.Time
	add := func(exps []time.Time) {
		for _, e := range exps {
			d := models.DateOnly(e)
			if _, ok := seen[d]; ok {
				continue
			}
			seen[d] = struct{}{}
			out = append(out, d)
		}
	}
	if broad.err == nil {
		add(broad.vals)
	}
	if recent.err == nil {
		add(recent.vals)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *FederatedForecastReader) ActiveUnderlyings(ctx context.Context, windowDays, limit int) ([]models.UnderlyingCount, error) {
	recent, broad := both(ctx, f,
		func(ctx context.Context) ([]models.UnderlyingCount, error) {
			return f.recent.ActiveUnderlyings(ctx, f.clampWindow(windowDays), limit)
		},
		func(ctx context.Context) ([]models.UnderlyingCount, error) {
			return f.broad.ActiveUnderlyings(ctx, windowDays, limit)
		},
	)
	if err := settle(f, "active_underlyings", recent.err, broad.err); err != nil {
		return nil, err
	}

	sums := make(map[string]int64, len(recent.vals)+len(broad.vals))
	if broad.err == nil {
		for _, c := range broad.vals {
			sums[c.Underlying] += c.Forecasts
		}
	}
	if recent.err == nil {
		for _, c := range recent.vals {
			sums[c.Underlying] += c.Forecasts
		}
	}

	out := make([]models.UnderlyingCount, 0, len(sums))
	for u, n := range sums {
		out = append(out, models.UnderlyingCount{Underlying: u, Forecasts: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Forecasts != out[j].Forecasts {
			return out[i].Forecasts > out[j].Forecasts
		}
		return out[i].Underlying < out[j].Underlying
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ domrepo.ForecastReader = (*FederatedForecastReader)(nil)
