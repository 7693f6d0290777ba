package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"quantiv/internal/domain/models"
	domrepo "quantiv/internal/domain/repository"
	"quantiv/pkg/logger"
	"quantiv/pkg/postgres"
)

// emForecastRow is the row form of a forecast record. The composite primary
// key carries the upsert conflict target.
type emForecastRow struct {
	Underlying string    `gorm:"column:underlying;primaryKey;size:12"`
	QuoteTS    time.Time `gorm:"column:quote_ts;primaryKey"`
	ExpDate    time.Time `gorm:"column:exp_date;primaryKey;type:date"`
	Horizon    string    `gorm:"column:horizon;primaryKey;size:8"`
	EMBaseline float64   `gorm:"column:em_baseline;not null"`
	Band68Low  *float64  `gorm:"column:band68_low"`
	Band68High *float64  `gorm:"column:band68_high"`
	Band95Low  *float64  `gorm:"column:band95_low"`
	Band95High *float64  `gorm:"column:band95_high"`
	SourceTag  string    `gorm:"column:source_tag;size:64"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (emForecastRow) TableName() string { return "em_forecasts" }

func (r emForecastRow) record() models.ForecastRecord {
	return models.ForecastRecord{
		Underlying: r.Underlying,
		QuoteTS:    r.QuoteTS.UTC(),
		ExpDate:    models.DateOnly(r.ExpDate),
		Horizon:    models.Horizon(r.Horizon),
		EMBaseline: r.EMBaseline,
		Band68Low:  r.Band68Low,
		Band68High: r.Band68High,
		Band95Low:  r.Band95Low,
		Band95High: r.Band95High,
		SourceTag:  r.SourceTag,
	}
}

// PostgresForecastStore is the narrow store: recent forecasts in a row table
// with per-key upserts.
type PostgresForecastStore struct {
	db  *gorm.DB
	log *logger.Logger
	now func() time.Time
}

func NewPostgresForecastStore(client *postgres.Client, log *logger.Logger) *PostgresForecastStore {
	return &PostgresForecastStore{db: client.DB(), log: log, now: time.Now}
}

// WithNow overrides the clock. Used in tests.
func (s *PostgresForecastStore) WithNow(now func() time.Time) *PostgresForecastStore {
	s.now = now
	return s
}

func (s *PostgresForecastStore) Name() string { return "postgres" }

func (s *PostgresForecastStore) Init(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&emForecastRow{}); err != nil {
		return fmt.Errorf("migrate em_forecasts: %w", err)
	}
	return nil
}

func (s *PostgresForecastStore) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *PostgresForecastStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WriteBatch upserts the batch. An existing key keeps its identity and gets
// its non-key columns overwritten.
func (s *PostgresForecastStore) WriteBatch(ctx context.Context, recs []models.ForecastRecord) error {
	if len(recs) == 0 {
		return nil
	}
	rows := make([]emForecastRow, 0, len(recs))
	updated := s.now().UTC()
	for _, rec := range recs {
		key := rec.Key()
		rows = append(rows, emForecastRow{
			Underlying: key.Underlying,
			QuoteTS:    key.QuoteTS,
			ExpDate:    key.ExpDate,
			Horizon:    string(key.Horizon),
			EMBaseline: rec.EMBaseline,
			Band68Low:  rec.Band68Low,
			Band68High: rec.Band68High,
			Band95Low:  rec.Band95Low,
			Band95High: rec.Band95High,
			SourceTag:  rec.SourceTag,
			UpdatedAt:  updated,
		})
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "underlying"}, {Name: "quote_ts"}, {Name: "exp_date"}, {Name: "horizon"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"em_baseline", "band68_low", "band68_high", "band95_low", "band95_high", "source_tag", "updated_at",
		}),
	}).CreateInBatches(rows, 500).Error
	if err != nil {
		return fmt.Errorf("upsert em_forecasts: %w", err)
	}
	return nil
}

func (s *PostgresForecastStore) LatestByHorizons(ctx context.Context, underlying string, horizons []models.Horizon, windowDays, limit int) ([]models.ForecastRecord, error) {
	hs := make([]string, 0, len(horizons))
	for _, h := range horizons {
		hs = append(hs, string(h))
	}
	cutoff := s.now().UTC().AddDate(0, 0, -windowDays)

	var rows []emForecastRow
	err := s.db.WithContext(ctx).Raw(`
		SELECT underlying, quote_ts, exp_date, horizon, em_baseline,
		       band68_low, band68_high, band95_low, band95_high, source_tag
		FROM em_forecasts
		WHERE underlying = ? AND horizon IN ? AND quote_ts >= ?
		ORDER BY quote_ts DESC, exp_date ASC
		LIMIT ?`, underlying, hs, cutoff, limit).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("latest forecasts: %w", err)
	}
	return rowsToRecords(rows), nil
}

func (s *PostgresForecastStore) LatestForExpiry(ctx context.Context, underlying string, exp time.Time) (*models.ForecastRecord, error) {
	var rows []emForecastRow
	err := s.db.WithContext(ctx).Raw(`
		SELECT underlying, quote_ts, exp_date, horizon, em_baseline,
		       band68_low, band68_high, band95_low, band95_high, source_tag
		FROM em_forecasts
		WHERE underlying = ? AND exp_date = ? AND horizon = 'to_exp'
		ORDER BY quote_ts DESC
		LIMIT 1`, underlying, models.DateOnly(exp)).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("latest forecast for expiry: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	rec := rows[0].record()
	return &rec, nil
}

func (s *PostgresForecastStore) History(ctx context.Context, underlying string, exp time.Time, windowDays int) ([]models.ForecastRecord, error) {
	cutoff := s.now().UTC().AddDate(0, 0, -windowDays)

	var rows []emForecastRow
	err := s.db.WithContext(ctx).Raw(`
		SELECT underlying, quote_ts, exp_date, horizon, em_baseline,
		       band68_low, band68_high, band95_low, band95_high, source_tag
		FROM em_forecasts
		WHERE underlying = ? AND exp_date = ? AND horizon = 'to_exp' AND quote_ts >= ?
		ORDER BY quote_ts ASC`, underlying, models.DateOnly(exp), cutoff).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("forecast history: %w", err)
	}
	return rowsToRecords(rows), nil
}

func (s *PostgresForecastStore) Expiries(ctx context.Context, underlying string, windowDays, limit int) ([]time.Time, error) {
	today := models.DateOnly(s.now())
	horizon := today.AddDate(0, 0, windowDays)

	var exps []time.Time
	err := s.db.WithContext(ctx).Raw(`
		SELECT DISTINCT exp_date
		FROM em_forecasts
		WHERE underlying = ? AND exp_date >= ? AND exp_date <= ?
		ORDER BY exp_date ASC
		LIMIT ?`, underlying, today, horizon, limit).Scan(&exps).Error
	if err != nil {
		return nil, fmt.Errorf("expiries: %w", err)
	}
	return exps, nil
}

func (s *PostgresForecastStore) ActiveUnderlyings(ctx context.Context, windowDays, limit int) ([]models.UnderlyingCount, error) {
	cutoff := s.now().UTC().AddDate(0, 0, -windowDays)

	var counts []models.UnderlyingCount
	err := s.db.WithContext(ctx).Raw(`
		SELECT underlying, COUNT(*) AS forecasts
		FROM em_forecasts
		WHERE quote_ts >= ?
		GROUP BY underlying
		ORDER BY forecasts DESC, underlying ASC
		LIMIT ?`, cutoff, limit).Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("active underlyings: %w", err)
	}
	return counts, nil
}

func rowsToRecords(rows []emForecastRow) []models.ForecastRecord {
	out := make([]models.ForecastRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out
}

var _ domrepo.ForecastStore = (*PostgresForecastStore)(nil)
