package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"quantiv/internal/domain/models"
	domrepo "quantiv/internal/domain/repository"
	"quantiv/pkg/clickhouse"
	"quantiv/pkg/logger"
)

const (
	chForecastTable = "em_forecasts_all"
	chStagingTable  = "em_forecasts_staging"
)

var chForecastDDL = []string{
	`CREATE TABLE IF NOT EXISTS ` + chForecastTable + ` (
		underlying  String,
		quote_ts    DateTime64(9, 'UTC'),
		exp_date    Date,
		horizon     LowCardinality(String),
		em_baseline Float64,
		band68_low  Nullable(Float64),
		band68_high Nullable(Float64),
		band95_low  Nullable(Float64),
		band95_high Nullable(Float64),
		source_tag  String
	) ENGINE = MergeTree()
	ORDER BY (underlying, quote_ts, exp_date, horizon)`,
	`CREATE TABLE IF NOT EXISTS ` + chStagingTable + ` AS ` + chForecastTable,
}

// ClickHouseForecastStore is the broad store: the full forecast history in
// one columnar table. Writes rebuild the dataset -- read everything, merge
// the batch with last-wins per key, sort by key and atomically swap the new
// dataset in. Readers always see either the old dataset or the new one.
type ClickHouseForecastStore struct {
	client *clickhouse.Client
	db     *sql.DB
	log    *logger.Logger
	now    func() time.Time
}

func NewClickHouseForecastStore(client *clickhouse.Client, log *logger.Logger) *ClickHouseForecastStore {
	return &ClickHouseForecastStore{client: client, db: client.DB(), log: log, now: time.Now}
}

// WithNow overrides the clock. Used in tests.
func (s *ClickHouseForecastStore) WithNow(now func() time.Time) *ClickHouseForecastStore {
	s.now = now
	return s
}

func (s *ClickHouseForecastStore) Name() string { return "clickhouse" }

func (s *ClickHouseForecastStore) Init(ctx context.Context) error {
	return s.client.InitSchema(ctx, chForecastDDL)
}

func (s *ClickHouseForecastStore) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}

func (s *ClickHouseForecastStore) Close() error {
	return s.client.Close()
}

// WriteBatch merges the batch into the dataset and swaps it in atomically.
// A prior dataset that cannot be read is treated as empty: losing history is
// recoverable, blocking new forecasts is not.
func (s *ClickHouseForecastStore) WriteBatch(ctx context.Context, recs []models.ForecastRecord) error {
	if len(recs) == 0 {
		return nil
	}

	existing, err := s.readAll(ctx)
	if err != nil {
		s.log.Warn("prior forecast dataset unreadable, rebuilding from batch",
			logger.Error(err),
		)
		existing = nil
	}

	merged := DedupeLastWins(append(existing, recs...))

	if _, err := s.db.ExecContext(ctx, "TRUNCATE TABLE "+chStagingTable); err != nil {
		return fmt.Errorf("truncate staging: %w", err)
	}
	if err := s.insertInto(ctx, chStagingTable, merged); err != nil {
		return fmt.Errorf("stage dataset: %w", err)
	}
	if err := s.client.ExchangeTables(ctx, chStagingTable, chForecastTable); err != nil {
		return err
	}
	// The old dataset now sits in staging; drop it eagerly but not fatally.
	if _, err := s.db.ExecContext(ctx, "TRUNCATE TABLE "+chStagingTable); err != nil {
		s.log.Warn("could not truncate staging after swap", logger.Error(err))
	}
	return nil
}

func (s *ClickHouseForecastStore) insertInto(ctx context.Context, table string, recs []models.ForecastRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (underlying, quote_ts, exp_date, horizon, em_baseline,
		 band68_low, band68_high, band95_low, band95_high, source_tag)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, table))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, rec := range recs {
		key := rec.Key()
		_, err := stmt.ExecContext(ctx,
			key.Underlying,
			key.QuoteTS,
			key.ExpDate,
			string(key.Horizon),
			rec.EMBaseline,
			rec.Band68Low,
			rec.Band68High,
			rec.Band95Low,
			rec.Band95High,
			rec.SourceTag,
		)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("append %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (s *ClickHouseForecastStore) readAll(ctx context.Context) ([]models.ForecastRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT underlying, quote_ts, exp_date, horizon, em_baseline,
		       band68_low, band68_high, band95_low, band95_high, source_tag
		FROM `+chForecastTable)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	defer rows.Close()
	return scanForecastRows(rows)
}

func (s *ClickHouseForecastStore) LatestByHorizons(ctx context.Context, underlying string, horizons []models.Horizon, windowDays, limit int) ([]models.ForecastRecord, error) {
	cutoff := s.now().UTC().AddDate(0, 0, -windowDays)
	hs := make([]any, 0, len(horizons)+4)
	hs = append(hs, underlying)
	placeholders := ""
	for i, h := range horizons {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		hs = append(hs, string(h))
	}
	hs = append(hs, cutoff, limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT underlying, quote_ts, exp_date, horizon, em_baseline,
		       band68_low, band68_high, band95_low, band95_high, source_tag
		FROM `+chForecastTable+`
		WHERE underlying = ? AND horizon IN (`+placeholders+`) AND quote_ts >= ?
		ORDER BY quote_ts DESC, exp_date ASC
		LIMIT ?`, hs...)
	if err != nil {
		return nil, fmt.Errorf("latest forecasts: %w", err)
	}
	defer rows.Close()
	return scanForecastRows(rows)
}

func (s *ClickHouseForecastStore) LatestForExpiry(ctx context.Context, underlying string, exp time.Time) (*models.ForecastRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT underlying, quote_ts, exp_date, horizon, em_baseline,
		       band68_low, band68_high, band95_low, band95_high, source_tag
		FROM `+chForecastTable+`
		WHERE underlying = ? AND exp_date = ? AND horizon = 'to_exp'
		ORDER BY quote_ts DESC
		LIMIT 1`, underlying, models.DateOnly(exp))
	if err != nil {
		return nil, fmt.Errorf("latest forecast for expiry: %w", err)
	}
	defer rows.Close()
	recs, err := scanForecastRows(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

func (s *ClickHouseForecastStore) History(ctx context.Context, underlying string, exp time.Time, windowDays int) ([]models.ForecastRecord, error) {
	cutoff := s.now().UTC().AddDate(0, 0, -windowDays)

	rows, err := s.db.QueryContext(ctx, `
		SELECT underlying, quote_ts, exp_date, horizon, em_baseline,
		       band68_low, band68_high, band95_low, band95_high, source_tag
		FROM `+chForecastTable+`
		WHERE underlying = ? AND exp_date = ? AND horizon = 'to_exp' AND quote_ts >= ?
		ORDER BY quote_ts ASC`, underlying, models.DateOnly(exp), cutoff)
	if err != nil {
		return nil, fmt.Errorf("forecast history: %w", err)
	}
	defer rows.Close()
	return scanForecastRows(rows)
}

func (s *ClickHouseForecastStore) Expiries(ctx context.Context, underlying string, windowDays, limit int) ([]time.Time, error) {
	today := models.DateOnly(s.now())
	horizon := today.AddDate(0, 0, windowDays)

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT exp_date
		FROM `+chForecastTable+`
		WHERE underlying = ? AND exp_date >= ? AND exp_date <= ?
		ORDER BY exp_date ASC
		LIMIT ?`, underlying, today, horizon, limit)
	if err != nil {
		return nil, fmt.Errorf("expiries: %w", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var exp time.Time
		if err := rows.Scan(&exp); err != nil {
			return nil, fmt.Errorf("scan expiry: %w", err)
		}
		out = append(out, models.DateOnly(exp))
	}
	return out, rows.Err()
}

func (s *ClickHouseForecastStore) ActiveUnderlyings(ctx context.Context, windowDays, limit int) ([]models.UnderlyingCount, error) {
	cutoff := s.now().UTC().AddDate(0, 0, -windowDays)

	rows, err := s.db.QueryContext(ctx, `
		SELECT underlying, COUNT(*) AS forecasts
		FROM `+chForecastTable+`
		WHERE quote_ts >= ?
		GROUP BY underlying
		ORDER BY forecasts DESC, underlying ASC
		LIMIT ?`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("active underlyings: %w", err)
	}
	defer rows.Close()

	var out []models.UnderlyingCount
	for rows.Next() {
		var c models.UnderlyingCount
		if err := rows.Scan(&c.Underlying, &c.Forecasts); err != nil {
			return nil, fmt.Errorf("scan underlying count: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanForecastRows(rows *sql.Rows) ([]models.ForecastRecord, error) {
	var out []models.ForecastRecord
	for rows.Next() {
		var (
			rec                    models.ForecastRecord
			horizon                string
			b68l, b68h, b95l, b95h sql.NullFloat64
		)
		err := rows.Scan(&rec.Underlying, &rec.QuoteTS, &rec.ExpDate, &horizon, &rec.EMBaseline,
			&b68l, &b68h, &b95l, &b95h, &rec.SourceTag)
		if err != nil {
			return nil, fmt.Errorf("scan forecast: %w", err)
		}
		rec.Horizon = models.Horizon(horizon)
		rec.Band68Low = nullToPtr(b68l)
		rec.Band68High = nullToPtr(b68h)
		rec.Band95Low = nullToPtr(b95l)
		rec.Band95High = nullToPtr(b95h)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullToPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// DedupeLastWins collapses duplicate keys keeping each key's last occurrence
// in input order, then sorts by key into the dataset's stable layout.
func DedupeLastWins(recs []models.ForecastRecord) []models.ForecastRecord {
	byKey := make(map[models.ForecastKey]models.ForecastRecord, len(recs))
	for _, rec := range recs {
		byKey[rec.Key()] = rec
	}
	out := make([]models.ForecastRecord, 0, len(byKey))
	for _, rec := range byKey {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return models.KeyLess(out[i].Key(), out[j].Key())
	})
	return out
}

var _ domrepo.ForecastStore = (*ClickHouseForecastStore)(nil)
