package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"quantiv/internal/domain/models"
	"quantiv/pkg/logger"
	"quantiv/pkg/postgres"
)

func newMockedPGStore(t *testing.T) (*PostgresForecastStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	gdb, err := gorm.Open(gormpostgres.New(gormpostgres.Config{
		Conn:                 db,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("gorm open: %v", err)
	}

	store := NewPostgresForecastStore(postgres.NewClientFromDB(gdb), logger.Nop()).
		WithNow(func() time.Time { return quoteB })
	return store, mock
}

func TestPGWriteBatchUpsertsOnKey(t *testing.T) {
	store, mock := newMockedPGStore(t)

	mock.ExpectExec(`INSERT INTO "em_forecasts" .* ON CONFLICT \("underlying","quote_ts","exp_date","horizon"\) DO UPDATE SET`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	batch := []models.ForecastRecord{
		rec("AAPL", quoteA, expJun, models.HorizonToExp, 0.030),
		rec("AAPL", quoteA, expJul, models.HorizonToExp, 0.050),
	}
	if err := store.WriteBatch(context.Background(), batch); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGWriteBatchEmptyIsNoop(t *testing.T) {
	store, mock := newMockedPGStore(t)

	if err := store.WriteBatch(context.Background(), nil); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no statement expected: %v", err)
	}
}

func TestPGLatestByHorizonsScansRows(t *testing.T) {
	store, mock := newMockedPGStore(t)

	mock.ExpectQuery(`SELECT .* FROM em_forecasts\s+WHERE underlying = .* AND horizon IN .* AND quote_ts >=`).
		WillReturnRows(sqlmock.NewRows(forecastColumns()).
			AddRow("AAPL", quoteB, expJun, "to_exp", 0.032, 0.024, 0.040, 0.016, 0.048, "baseline").
			AddRow("AAPL", quoteA, expJun, "to_exp", 0.030, nil, nil, nil, nil, "baseline:default-iv"))

	out, err := store.LatestByHorizons(context.Background(), "AAPL", models.Horizons, 7, 64)
	if err != nil {
		t.Fatalf("LatestByHorizons: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d records, want 2", len(out))
	}
	if out[0].EMBaseline != 0.032 || *out[0].Band95High != 0.048 {
		t.Fatalf("row mapping wrong: %+v", out[0])
	}
	if out[1].Band68Low != nil {
		t.Fatal("NULL bound must stay absent")
	}
	if out[1].SourceTag != "baseline:default-iv" {
		t.Fatalf("source tag lost: %q", out[1].SourceTag)
	}
}

func TestPGLatestForExpiryAbsent(t *testing.T) {
	store, mock := newMockedPGStore(t)

	mock.ExpectQuery(`SELECT .* FROM em_forecasts\s+WHERE underlying = .* AND exp_date = .* AND horizon = 'to_exp'`).
		WillReturnRows(sqlmock.NewRows(forecastColumns()))

	got, err := store.LatestForExpiry(context.Background(), "AAPL", expJun)
	if err != nil {
		t.Fatalf("LatestForExpiry: %v", err)
	}
	if got != nil {
		t.Fatalf("got %+v, want nil for absent data", got)
	}
}

func TestPGActiveUnderlyings(t *testing.T) {
	store, mock := newMockedPGStore(t)

	mock.ExpectQuery(`SELECT underlying, COUNT\(\*\) AS forecasts\s+FROM em_forecasts`).
		WillReturnRows(sqlmock.NewRows([]string{"underlying", "forecasts"}).
			AddRow("AAPL", 12).
			AddRow("MSFT", 7))

	out, err := store.ActiveUnderlyings(context.Background(), 365, 100)
	if err != nil {
		t.Fatalf("ActiveUnderlyings: %v", err)
	}
	if len(out) != 2 || out[0].Underlying != "AAPL" || out[0].Forecasts != 12 {
		t.Fatalf("rows = %+v", out)
	}
}
