package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quantiv/internal/domain/models"
	"quantiv/internal/domain/repository"
	"quantiv/internal/service/freshness"
	"quantiv/pkg/logger"
)

// ErrNotFound marks a lookup whose data simply is not there. Handlers map it
// to 404; store failures stay ordinary errors and map to 500.
var ErrNotFound = errors.New("forecast not found")

const (
	expectedMoveWindowDays = 7
	expectedMoveLimit      = 64
	symbolHistoryLimit     = 500
	symbolsWindowDays      = 365
)

// QueryConfig carries the serving knobs for the query service.
type QueryConfig struct {
	AggregateTTL       time.Duration
	SingleTTL          time.Duration
	DefaultHistoryDays int
	DefaultExpiryDays  int
	SymbolLimit        int
}

// ForecastQueryService serves every read endpoint through the freshness
// cache, falling back to the configured store on miss.
type ForecastQueryService struct {
	reader  repository.ForecastReader
	fresh   *freshness.Store
	log     *logger.Logger
	metrics repository.Metrics
	cfg     QueryConfig
	now     func() time.Time
}

func NewForecastQueryService(
	reader repository.ForecastReader,
	fresh *freshness.Store,
	log *logger.Logger,
	m repository.Metrics,
	cfg QueryConfig,
) *ForecastQueryService {
	if cfg.AggregateTTL <= 0 {
		cfg.AggregateTTL = 5 * time.Minute
	}
	if cfg.SingleTTL <= 0 {
		cfg.SingleTTL = 10 * time.Minute
	}
	if cfg.DefaultHistoryDays < 1 {
		cfg.DefaultHistoryDays = 90
	}
	if cfg.DefaultExpiryDays < 1 {
		cfg.DefaultExpiryDays = 120
	}
	if cfg.SymbolLimit < 1 {
		cfg.SymbolLimit = 100
	}
	return &ForecastQueryService{
		reader:  reader,
		fresh:   fresh,
		log:     log,
		metrics: m,
		cfg:     cfg,
		now:     time.Now,
	}
}

// WithNow overrides the clock. Used in tests.
func (s *ForecastQueryService) WithNow(now func() time.Time) *ForecastQueryService {
	s.now = now
	return s
}

// ExpectedMove returns the latest forecast per requested horizon for one
// underlying.
func (s *ForecastQueryService) ExpectedMove(ctx context.Context, symbol string, horizons []models.Horizon) (*models.ExpectedMoveResponse, error) {
	if len(horizons) == 0 {
		horizons = models.Horizons
	}
	key := fmt.Sprintf("em:agg:%s:%s", symbol, horizonsKey(horizons))

	var cached models.ExpectedMoveResponse
	if s.fresh.Get(ctx, "expected_move", key, s.cfg.AggregateTTL, &cached) {
		return &cached, nil
	}

	recs, err := s.reader.LatestByHorizons(ctx, symbol, horizons, expectedMoveWindowDays, expectedMoveLimit)
	if err != nil {
		return nil, fmt.Errorf("latest forecasts for %s: %w", symbol, err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: no forecasts for %s", ErrNotFound, symbol)
	}

	resp := &models.ExpectedMoveResponse{
		Symbol:    symbol,
		Timestamp: s.now().UTC(),
		Forecasts: make([]models.ForecastDTO, 0, len(recs)),
		Metadata: map[string]any{
			"count": len(recs),
		},
	}
	for _, r := range recs {
		resp.Forecasts = append(resp.Forecasts, models.NewForecastDTO(r))
	}

	s.fresh.Put(ctx, key, s.cfg.AggregateTTL, resp)
	return resp, nil
}

// LatestForecast returns the single most recent to_exp record for one
// underlying and expiration.
func (s *ForecastQueryService) LatestForecast(ctx context.Context, symbol string, exp time.Time) (*models.ForecastLatestResponse, error) {
	expStr := models.DateOnly(exp).Format("2006-01-02")
	key := fmt.Sprintf("em:one:%s:%s", symbol, expStr)

	var cached models.ForecastLatestResponse
	if s.fresh.Get(ctx, "latest_forecast", key, s.cfg.SingleTTL, &cached) {
		return &cached, nil
	}

	rec, err := s.reader.LatestForExpiry(ctx, symbol, exp)
	if err != nil {
		return nil, fmt.Errorf("latest forecast for %s %s: %w", symbol, expStr, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, symbol, expStr)
	}

	resp := &models.ForecastLatestResponse{
		Symbol:     rec.Underlying,
		Exp:        expStr,
		QuoteTS:    rec.QuoteTS.UTC().Format(time.RFC3339),
		Horizon:    string(rec.Horizon),
		EMBaseline: rec.EMBaseline,
		Band68Low:  rec.Band68Low,
		Band68High: rec.Band68High,
		Band95Low:  rec.Band95Low,
		Band95High: rec.Band95High,
		Metadata: map[string]any{
			"source_tag": rec.SourceTag,
		},
	}

	s.fresh.Put(ctx, key, s.cfg.SingleTTL, resp)
	return resp, nil
}

// History returns the to_exp time series for one underlying and expiration,
// oldest first. Absent data yields an empty series, not an error.
func (s *ForecastQueryService) History(ctx context.Context, symbol string, exp time.Time, windowDays int) (*models.HistoryResponse, error) {
	if windowDays < 1 {
		windowDays = s.cfg.DefaultHistoryDays
	}
	expStr := models.DateOnly(exp).Format("2006-01-02")
	key := fmt.Sprintf("em:hist:%s:%s:%dd", symbol, expStr, windowDays)

	var cached models.HistoryResponse
	if s.fresh.Get(ctx, "history", key, s.cfg.SingleTTL, &cached) {
		return &cached, nil
	}

	recs, err := s.reader.History(ctx, symbol, exp, windowDays)
	if err != nil {
		return nil, fmt.Errorf("history for %s %s: %w", symbol, expStr, err)
	}

	resp := &models.HistoryResponse{
		Symbol: symbol,
		Exp:    expStr,
		Window: fmt.Sprintf("%dd", windowDays),
		Items:  make([]models.HistoryPoint, 0, len(recs)),
		Metadata: map[string]any{
			"count": len(recs),
		},
	}
	for _, r := range recs {
		resp.Items = append(resp.Items, models.HistoryPoint{
			QuoteTS:    r.QuoteTS.UTC().Format(time.RFC3339),
			EMBaseline: r.EMBaseline,
			Band68Low:  r.Band68Low,
			Band68High: r.Band68High,
			Band95Low:  r.Band95Low,
			Band95High: r.Band95High,
		})
	}

	s.fresh.Put(ctx, key, s.cfg.SingleTTL, resp)
	return resp, nil
}

// Expiries returns distinct upcoming expirations for one underlying.
func (s *ForecastQueryService) Expiries(ctx context.Context, symbol string, windowDays int) (*models.ExpiriesResponse, error) {
	if windowDays < 1 {
		windowDays = s.cfg.DefaultExpiryDays
	}
	key := fmt.Sprintf("em:exp:%s:%dd", symbol, windowDays)

	var cached models.ExpiriesResponse
	if s.fresh.Get(ctx, "expiries", key, s.cfg.SingleTTL, &cached) {
		return &cached, nil
	}

	exps, err := s.reader.Expiries(ctx, symbol, windowDays, expectedMoveLimit)
	if err != nil {
		return nil, fmt.Errorf("expiries for %s: %w", symbol, err)
	}

	resp := &models.ExpiriesResponse{
		Symbol:   symbol,
		Expiries: make([]string, 0, len(exps)),
		Metadata: map[string]any{
			"count": len(exps),
		},
	}
	for _, e := range exps {
		resp.Expiries = append(resp.Expiries, models.DateOnly(e).Format("2006-01-02"))
	}

	s.fresh.Put(ctx, key, s.cfg.SingleTTL, resp)
	return resp, nil
}

// Symbols lists active underlyings with their forecast counts.
func (s *ForecastQueryService) Symbols(ctx context.Context) ([]models.SymbolCount, error) {
	key := "symbols:all"

	var cached []models.SymbolCount
	if s.fresh.Get(ctx, "symbols", key, s.cfg.AggregateTTL, &cached) {
		return cached, nil
	}

	counts, err := s.reader.ActiveUnderlyings(ctx, symbolsWindowDays, s.cfg.SymbolLimit)
	if err != nil {
		return nil, fmt.Errorf("active underlyings: %w", err)
	}

	out := make([]models.SymbolCount, 0, len(counts))
	for _, c := range counts {
		out = append(out, models.SymbolCount{Symbol: c.Underlying, ForecastCount: c.Forecasts})
	}

	s.fresh.Put(ctx, key, s.cfg.AggregateTTL, out)
	return out, nil
}

// SymbolHistory returns every recent forecast for one underlying across all
// horizons, newest first.
func (s *ForecastQueryService) SymbolHistory(ctx context.Context, symbol string, days int) ([]models.ForecastDTO, error) {
	if days < 1 {
		days = 30
	}
	key := fmt.Sprintf("symbols:hist:%s:%dd", symbol, days)

	var cached []models.ForecastDTO
	if s.fresh.Get(ctx, "symbol_history", key, s.cfg.SingleTTL, &cached) {
		return cached, nil
	}

	recs, err := s.reader.LatestByHorizons(ctx, symbol, models.Horizons, days, symbolHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("symbol history for %s: %w", symbol, err)
	}

	out := make([]models.ForecastDTO, 0, len(recs))
	for _, r := range recs {
		out = append(out, models.NewForecastDTO(r))
	}

	s.fresh.Put(ctx, key, s.cfg.SingleTTL, out)
	return out, nil
}

// InvalidateForecasts drops every cached forecast response. Called after a
// generation cycle or an admin refresh lands new records.
func (s *ForecastQueryService) InvalidateForecasts(ctx context.Context) {
	s.fresh.Invalidate(ctx, "em:*")
	s.fresh.Invalidate(ctx, "symbols:*")
}

func horizonsKey(hs []models.Horizon) string {
	out := ""
	for i, h := range hs {
		if i > 0 {
			out += ","
		}
		out += string(h)
	}
	return out
}
