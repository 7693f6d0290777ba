package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"quantiv/internal/domain/models"
	"quantiv/pkg/logger"
)

type nopMetrics struct{}

func (nopMetrics) RecordRecordsWritten(string, int) {}
func (nopMetrics) RecordStoreError(string, string)  {}
func (nopMetrics) RecordCacheHit(string)            {}
func (nopMetrics) RecordCacheMiss(string)           {}
func (nopMetrics) RecordLatency(string, float64)    {}
func (nopMetrics) RecordError(string)               {}

// fakeStore is an in-memory ForecastStore serving canned results.
type fakeStore struct {
	name    string
	records []models.ForecastRecord
	latest  *models.ForecastRecord
	exps    []time.Time
	counts  []models.UnderlyingCount
	err     error

	// windows observed per call, to verify clamping.
	windows []int
}

func (s *fakeStore) Name() string { return s.name }

func (s *fakeStore) WriteBatch(ctx context.Context, recs []models.ForecastRecord) error { return nil }
func (s *fakeStore) Init(ctx context.Context) error                                    { return nil }
func (s *fakeStore) Health(ctx context.Context) error                                  { return nil }
func (s *fakeStore) Close() error                                                      { return nil }

func (s *fakeStore) LatestByHorizons(ctx context.Context, underlying string, horizons []models.Horizon, windowDays, limit int) ([]models.ForecastRecord, error) {
	s.windows = append(s.windows, windowDays)
	return s.records, s.err
}

func (s *fakeStore) LatestForExpiry(ctx context.Context, underlying string, exp time.Time) (*models.ForecastRecord, error) {
	return s.latest, s.err
}

func (s *fakeStore) History(ctx context.Context, underlying string, exp time.Time, windowDays int) ([]models.ForecastRecord, error) {
	s.windows = append(s.windows, windowDays)
	return s.records, s.err
}

func (s *fakeStore) Expiries(ctx context.Context, underlying string, windowDays, limit int) ([]time.Time, error) {
	s.windows = append(s.windows, windowDays)
	return s.exps, s.err
}

func (s *fakeStore) ActiveUnderlyings(ctx context.Context, windowDays, limit int) ([]models.UnderlyingCount, error) {
	s.windows = append(s.windows, windowDays)
	return s.counts, s.err
}

func fv(v float64) *float64 { return &v }

func rec(sym string, quote time.Time, exp time.Time, h models.Horizon, em float64) models.ForecastRecord {
	return models.ForecastRecord{
		Underlying: sym,
		QuoteTS:    quote,
		ExpDate:    exp,
		Horizon:    h,
		EMBaseline: em,
		Band68Low:  fv(em * 0.75),
		Band68High: fv(em * 1.25),
		Band95Low:  fv(em * 0.50),
		Band95High: fv(em * 1.50),
		SourceTag:  "baseline",
	}
}

var (
	quoteA = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	quoteB = time.Date(2025, 6, 2, 9, 5, 0, 0, time.UTC)
	expJun = time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)
	expJul = time.Date(2025, 7, 18, 0, 0, 0, 0, time.UTC)
)

func newFederated(recent, broad *fakeStore) *FederatedForecastReader {
	return NewFederatedForecastReader(recent, broad, logger.Nop(), nopMetrics{}, FederatedConfig{
		RecentWindowCapDays: 30,
		QueryTimeout:        time.Second,
	})
}

func TestLatestByHorizonsDedupesRecentWins(t *testing.T) {
	shared := rec("AAPL", quoteA, expJun, models.HorizonToExp, 0.030)
	fromRecent := shared
	fromRecent.EMBaseline = 0.031 // same key, newer write landed in the narrow store

	recent := &fakeStore{name: "postgres", records: []models.ForecastRecord{fromRecent}}
	broad := &fakeStore{name: "clickhouse", records: []models.ForecastRecord{
		shared,
		rec("AAPL", quoteA, expJul, models.HorizonToExp, 0.050),
	}}

	out, err := newFederated(recent, broad).LatestByHorizons(context.Background(), "AAPL", models.Horizons, 7, 64)
	if err != nil {
		t.Fatalf("LatestByHorizons: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d records, want 2 after dedup", len(out))
	}
	for _, r := range out {
		if r.Key() == shared.Key() && r.EMBaseline != 0.031 {
			t.Fatalf("collision must resolve to the narrow store's copy, got %v", r.EMBaseline)
		}
	}
	// quote_ts desc, exp asc.
	if !out[0].ExpDate.Equal(expJun) || !out[1].ExpDate.Equal(expJul) {
		t.Fatalf("wrong order: %v, %v", out[0].ExpDate, out[1].ExpDate)
	}
}

func TestLatestByHorizonsClampsRecentWindow(t *testing.T) {
	recent := &fakeStore{name: "postgres"}
	broad := &fakeStore{name: "clickhouse"}

	_, err := newFederated(recent, broad).LatestByHorizons(context.Background(), "AAPL", models.Horizons, 365, 64)
	if err != nil {
		t.Fatalf("LatestByHorizons: %v", err)
	}
	if len(recent.windows) != 1 || recent.windows[0] != 30 {
		t.Fatalf("recent window = %v, want clamped to 30", recent.windows)
	}
	if len(broad.windows) != 1 || broad.windows[0] != 365 {
		t.Fatalf("broad window = %v, want full 365", broad.windows)
	}
}

func TestLatestForExpiryPrefersNewerRecord(t *testing.T) {
	older := rec("AAPL", quoteA, expJun, models.HorizonToExp, 0.030)
	newer := rec("AAPL", quoteB, expJun, models.HorizonToExp, 0.032)

	recent := &fakeStore{name: "postgres", latest: &newer}
	broad := &fakeStore{name: "clickhouse", latest: &older}

	got, err := newFederated(recent, broad).LatestForExpiry(context.Background(), "AAPL", expJun)
	if err != nil {
		t.Fatalf("LatestForExpiry: %v", err)
	}
	if got == nil || !got.QuoteTS.Equal(quoteB) {
		t.Fatalf("got %+v, want the 09:05 record", got)
	}
	// The whole record wins; bands are never mixed across stores.
	if *got.Band95High != newer.EMBaseline*1.50 {
		t.Fatal("winning record's bands must come from the same store")
	}
}

func TestLatestForExpiryTieGoesToRecent(t *testing.T) {
	fromBroad := rec("AAPL", quoteA, expJun, models.HorizonToExp, 0.030)
	fromRecent := rec("AAPL", quoteA, expJun, models.HorizonToExp, 0.031)

	recent := &fakeStore{name: "postgres", latest: &fromRecent}
	broad := &fakeStore{name: "clickhouse", latest: &fromBroad}

	got, err := newFederated(recent, broad).LatestForExpiry(context.Background(), "AAPL", expJun)
	if err != nil {
		t.Fatalf("LatestForExpiry: %v", err)
	}
	if got.EMBaseline != 0.031 {
		t.Fatalf("tie must resolve to the narrow store, got %v", got.EMBaseline)
	}
}

func TestLatestForExpiryAbsentEverywhere(t *testing.T) {
	got, err := newFederated(&fakeStore{name: "postgres"}, &fakeStore{name: "clickhouse"}).
		LatestForExpiry(context.Background(), "AAPL", expJun)
	if err != nil {
		t.Fatalf("LatestForExpiry: %v", err)
	}
	if got != nil {
		t.Fatalf("got %+v, want nil for absent data", got)
	}
}

func TestHistoryMergesOldestFirst(t *testing.T) {
	recent := &fakeStore{name: "postgres", records: []models.ForecastRecord{
		rec("AAPL", quoteB, expJun, models.HorizonToExp, 0.032),
		rec("AAPL", quoteA, expJun, models.HorizonToExp, 0.031), // collides with broad's copy
	}}
	broad := &fakeStore{name: "clickhouse", records: []models.ForecastRecord{
		rec("AAPL", quoteA, expJun, models.HorizonToExp, 0.030),
	}}

	out, err := newFederated(recent, broad).History(context.Background(), "AAPL", expJun, 90)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d points, want 2", len(out))
	}
	if !out[0].QuoteTS.Equal(quoteA) || !out[1].QuoteTS.Equal(quoteB) {
		t.Fatal("history must be oldest first")
	}
	if out[0].EMBaseline != 0.031 {
		t.Fatalf("collision must resolve to the narrow store, got %v", out[0].EMBaseline)
	}
}

func TestExpiriesUnionSortedAndCapped(t *testing.T) {
	recent := &fakeStore{name: "postgres", exps: []time.Time{expJul, expJun}}
	broad := &fakeStore{name: "clickhouse", exps: []time.Time{
		expJun,
		time.Date(2025, 8, 15, 0, 0, 0, 0, time.UTC),
	}}

	out, err := newFederated(recent, broad).Expiries(context.Background(), "AAPL", 120, 2)
	if err != nil {
		t.Fatalf("Expiries: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d expiries, want capped at 2", len(out))
	}
	if !out[0].Equal(expJun) || !out[1].Equal(expJul) {
		t.Fatalf("wrong order: %v", out)
	}
}

func TestActiveUnderlyingsSumsCounts(t *testing.T) {
	recent := &fakeStore{name: "postgres", counts: []models.UnderlyingCount{
		{Underlying: "AAPL", Forecasts: 3},
		{Underlying: "TSLA", Forecasts: 9},
	}}
	broad := &fakeStore{name: "clickhouse", counts: []models.UnderlyingCount{
		{Underlying: "AAPL", Forecasts: 7},
		{Underlying: "MSFT", Forecasts: 10},
	}}

	out, err := newFederated(recent, broad).ActiveUnderlyings(context.Background(), 365, 100)
	if err != nil {
		t.Fatalf("ActiveUnderlyings: %v", err)
	}
	want := []models.UnderlyingCount{
		{Underlying: "AAPL", Forecasts: 10},
		{Underlying: "MSFT", Forecasts: 10},
		{Underlying: "TSLA", Forecasts: 9},
	}
	if len(out) != len(want) {
		t.Fatalf("got %d rows, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("row %d = %+v, want %+v", i, out[i], want[i])
		}
	}
}

func TestOneStoreFailureDegrades(t *testing.T) {
	working := rec("AAPL", quoteA, expJun, models.HorizonToExp, 0.030)
	recent := &fakeStore{name: "postgres", err: errors.New("connection refused")}
	broad := &fakeStore{name: "clickhouse", records: []models.ForecastRecord{working}}

	out, err := newFederated(recent, broad).LatestByHorizons(context.Background(), "AAPL", models.Horizons, 7, 64)
	if err != nil {
		t.Fatalf("one store failing must degrade, got: %v", err)
	}
	if len(out) != 1 || out[0].EMBaseline != 0.030 {
		t.Fatalf("expected the healthy store's data, got %+v", out)
	}
}

func TestBothStoresFailingIsFatal(t *testing.T) {
	recent := &fakeStore{name: "postgres", err: errors.New("pg down")}
	broad := &fakeStore{name: "clickhouse", err: errors.New("ch down")}

	_, err := newFederated(recent, broad).LatestByHorizons(context.Background(), "AAPL", models.Horizons, 7, 64)
	if err == nil {
		t.Fatal("both stores failing must surface an error")
	}
}

func TestMergeIsIdempotentAgainstIdenticalStores(t *testing.T) {
	same := []models.ForecastRecord{
		rec("AAPL", quoteA, expJun, models.HorizonToExp, 0.030),
		rec("AAPL", quoteA, expJul, models.HorizonToExp, 0.050),
	}
	recent := &fakeStore{name: "postgres", records: same}
	broad := &fakeStore{name: "clickhouse", records: same}

	out, err := newFederated(recent, broad).LatestByHorizons(context.Background(), "AAPL", models.Horizons, 7, 64)
	if err != nil {
		t.Fatalf("LatestByHorizons: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d records, want 2 when both stores hold the same data", len(out))
	}
}
