package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"quantiv/internal/domain/models"
	domrepo "quantiv/internal/domain/repository"
	"quantiv/pkg/clickhouse"
)

// ClickHouseMarketSource discovers instruments and volatility estimates from
// the historical market tables that sit next to the forecast dataset.
type ClickHouseMarketSource struct {
	db  *sql.DB
	now func() time.Time
}

func NewClickHouseMarketSource(client *clickhouse.Client) *ClickHouseMarketSource {
	return &ClickHouseMarketSource{db: client.DB(), now: time.Now}
}

// WithNow overrides the clock. Used in tests.
func (s *ClickHouseMarketSource) WithNow(now func() time.Time) *ClickHouseMarketSource {
	s.now = now
	return s
}

// Underlyings lists symbols with volatility history, most rows first.
func (s *ClickHouseMarketSource) Underlyings(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol
		FROM volatility_history
		GROUP BY symbol
		ORDER BY COUNT(*) DESC, symbol ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list underlyings: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("scan underlying: %w", err)
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

// Expirations lists distinct upcoming option expirations within the
// lookahead window, nearest first.
func (s *ClickHouseMarketSource) Expirations(ctx context.Context, underlying string, lookaheadDays, max int) ([]time.Time, error) {
	today := models.DateOnly(s.now())
	horizon := today.AddDate(0, 0, lookaheadDays)

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT expiration
		FROM options_chain
		WHERE act_symbol = ? AND expiration >= ? AND expiration <= ?
		ORDER BY expiration ASC
		LIMIT ?`, underlying, today, horizon, max)
	if err != nil {
		return nil, fmt.Errorf("list expirations for %s: %w", underlying, err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var exp time.Time
		if err := rows.Scan(&exp); err != nil {
			return nil, fmt.Errorf("scan expiration: %w", err)
		}
		out = append(out, models.DateOnly(exp))
	}
	return out, rows.Err()
}

// LatestIV returns the newest annualized IV estimate. ok=false when the
// underlying has no history at all; that is data absence, not failure.
func (s *ClickHouseMarketSource) LatestIV(ctx context.Context, underlying string) (float64, bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT iv
		FROM volatility_history
		WHERE symbol = ?
		ORDER BY date DESC
		LIMIT 1`, underlying)
	if err != nil {
		return 0, false, fmt.Errorf("latest iv for %s: %w", underlying, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return 0, false, rows.Err()
	}
	var iv float64
	if err := rows.Scan(&iv); err != nil {
		return 0, false, fmt.Errorf("scan iv: %w", err)
	}
	return iv, true, rows.Err()
}

var _ domrepo.MarketSource = (*ClickHouseMarketSource)(nil)
