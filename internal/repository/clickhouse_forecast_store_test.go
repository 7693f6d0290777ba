package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"quantiv/internal/domain/models"
	"quantiv/pkg/clickhouse"
	"quantiv/pkg/logger"
)

func TestDedupeLastWinsKeepsLastOccurrence(t *testing.T) {
	first := rec("AAPL", quoteA, expJun, models.HorizonToExp, 0.030)
	second := rec("AAPL", quoteA, expJun, models.HorizonToExp, 0.032) // same key, later in input
	other := rec("AAPL", quoteA, expJul, models.HorizonToExp, 0.050)

	out := DedupeLastWins([]models.ForecastRecord{first, other, second})
	if len(out) != 2 {
		t.Fatalf("got %d records, want 2", len(out))
	}
	for _, r := range out {
		if r.Key() == first.Key() && r.EMBaseline != 0.032 {
			t.Fatalf("duplicate key must keep the last occurrence, got %v", r.EMBaseline)
		}
	}
}

func TestDedupeLastWinsSortsByKey(t *testing.T) {
	recs := []models.ForecastRecord{
		rec("MSFT", quoteA, expJun, models.HorizonToExp, 0.02),
		rec("AAPL", quoteB, expJun, models.HorizonToExp, 0.03),
		rec("AAPL", quoteA, expJul, models.HorizonToExp, 0.05),
		rec("AAPL", quoteA, expJun, models.Horizon1D, 0.01),
	}

	out := DedupeLastWins(recs)
	for i := 1; i < len(out); i++ {
		if models.KeyLess(out[i].Key(), out[i-1].Key()) {
			t.Fatalf("output not sorted at %d: %v after %v", i, out[i].Key(), out[i-1].Key())
		}
	}
	if out[0].Underlying != "AAPL" || out[len(out)-1].Underlying != "MSFT" {
		t.Fatalf("unexpected order: %v ... %v", out[0].Key(), out[len(out)-1].Key())
	}
}

func TestDedupeLastWinsIsIdempotent(t *testing.T) {
	recs := []models.ForecastRecord{
		rec("AAPL", quoteA, expJun, models.HorizonToExp, 0.03),
		rec("AAPL", quoteA, expJul, models.HorizonToExp, 0.05),
	}
	once := DedupeLastWins(recs)
	twice := DedupeLastWins(once)
	if len(once) != len(twice) {
		t.Fatalf("lengths differ: %d vs %d", len(once), len(twice))
	}
	for i := range once {
		if once[i].Key() != twice[i].Key() {
			t.Fatal("re-deduping must not change the dataset")
		}
	}
}

func forecastColumns() []string {
	return []string{
		"underlying", "quote_ts", "exp_date", "horizon", "em_baseline",
		"band68_low", "band68_high", "band95_low", "band95_high", "source_tag",
	}
}

func newMockedCHStore(t *testing.T) (*ClickHouseForecastStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	store := NewClickHouseForecastStore(clickhouse.NewClientFromDB(db), logger.Nop()).
		WithNow(func() time.Time { return quoteB })
	return store, mock
}

func TestWriteBatchRebuildsAndSwaps(t *testing.T) {
	store, mock := newMockedCHStore(t)

	existing := rec("MSFT", quoteA, expJun, models.HorizonToExp, 0.020)
	mock.ExpectQuery(`SELECT .* FROM em_forecasts_all`).
		WillReturnRows(sqlmock.NewRows(forecastColumns()).AddRow(
			existing.Underlying, existing.QuoteTS, existing.ExpDate, string(existing.Horizon),
			existing.EMBaseline, *existing.Band68Low, *existing.Band68High,
			*existing.Band95Low, *existing.Band95High, existing.SourceTag,
		))
	mock.ExpectExec(`TRUNCATE TABLE em_forecasts_staging`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO em_forecasts_staging`)
	// Merged dataset: existing row plus the new one, one INSERT each.
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec(`EXCHANGE TABLES em_forecasts_staging AND em_forecasts_all`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`TRUNCATE TABLE em_forecasts_staging`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	batch := []models.ForecastRecord{rec("AAPL", quoteB, expJun, models.HorizonToExp, 0.030)}
	if err := store.WriteBatch(context.Background(), batch); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWriteBatchRebuildsFromBatchWhenPriorUnreadable(t *testing.T) {
	store, mock := newMockedCHStore(t)

	mock.ExpectQuery(`SELECT .* FROM em_forecasts_all`).
		WillReturnError(errors.New("table corrupted"))
	mock.ExpectExec(`TRUNCATE TABLE em_forecasts_staging`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO em_forecasts_staging`)
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec(`EXCHANGE TABLES`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`TRUNCATE TABLE em_forecasts_staging`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	batch := []models.ForecastRecord{rec("AAPL", quoteB, expJun, models.HorizonToExp, 0.030)}
	if err := store.WriteBatch(context.Background(), batch); err != nil {
		t.Fatalf("unreadable prior dataset must not block the write: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWriteBatchFailsWhenSwapFails(t *testing.T) {
	store, mock := newMockedCHStore(t)

	mock.ExpectQuery(`SELECT .* FROM em_forecasts_all`).
		WillReturnRows(sqlmock.NewRows(forecastColumns()))
	mock.ExpectExec(`TRUNCATE TABLE em_forecasts_staging`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO em_forecasts_staging`)
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec(`EXCHANGE TABLES`).WillReturnError(errors.New("lock timeout"))

	batch := []models.ForecastRecord{rec("AAPL", quoteB, expJun, models.HorizonToExp, 0.030)}
	if err := store.WriteBatch(context.Background(), batch); err == nil {
		t.Fatal("swap failure must surface")
	}
}

func TestCHLatestForExpiryAbsent(t *testing.T) {
	store, mock := newMockedCHStore(t)

	mock.ExpectQuery(`SELECT .* FROM em_forecasts_all`).
		WillReturnRows(sqlmock.NewRows(forecastColumns()))

	got, err := store.LatestForExpiry(context.Background(), "AAPL", expJun)
	if err != nil {
		t.Fatalf("LatestForExpiry: %v", err)
	}
	if got != nil {
		t.Fatalf("got %+v, want nil for absent data", got)
	}
}

func TestCHScanPreservesAbsentBounds(t *testing.T) {
	store, mock := newMockedCHStore(t)

	mock.ExpectQuery(`SELECT .* FROM em_forecasts_all`).
		WillReturnRows(sqlmock.NewRows(forecastColumns()).AddRow(
			"AAPL", quoteA, expJun, "to_exp", 0.030,
			nil, 0.0375, nil, 0.045, "baseline",
		))

	got, err := store.LatestForExpiry(context.Background(), "AAPL", expJun)
	if err != nil {
		t.Fatalf("LatestForExpiry: %v", err)
	}
	if got.Band68Low != nil || got.Band95Low != nil {
		t.Fatal("NULL bounds must stay absent")
	}
	if got.Band68High == nil || *got.Band68High != 0.0375 {
		t.Fatalf("present bound lost: %+v", got.Band68High)
	}
}
