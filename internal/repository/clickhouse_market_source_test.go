package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"quantiv/pkg/clickhouse"
)

func newMockedMarketSource(t *testing.T) (*ClickHouseMarketSource, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	src := NewClickHouseMarketSource(clickhouse.NewClientFromDB(db)).
		WithNow(func() time.Time { return quoteA })
	return src, mock
}

func TestUnderlyingsListsSymbols(t *testing.T) {
	src, mock := newMockedMarketSource(t)

	mock.ExpectQuery(`SELECT symbol\s+FROM volatility_history`).
		WillReturnRows(sqlmock.NewRows([]string{"symbol"}).AddRow("SPY").AddRow("AAPL"))

	out, err := src.Underlyings(context.Background(), 200)
	if err != nil {
		t.Fatalf("Underlyings: %v", err)
	}
	if len(out) != 2 || out[0] != "SPY" {
		t.Fatalf("symbols = %v", out)
	}
}

func TestExpirationsTruncatesToDates(t *testing.T) {
	src, mock := newMockedMarketSource(t)

	mock.ExpectQuery(`SELECT DISTINCT expiration\s+FROM options_chain`).
		WillReturnRows(sqlmock.NewRows([]string{"expiration"}).
			AddRow(time.Date(2025, 6, 20, 16, 0, 0, 0, time.UTC)))

	out, err := src.Expirations(context.Background(), "AAPL", 120, 8)
	if err != nil {
		t.Fatalf("Expirations: %v", err)
	}
	if len(out) != 1 || !out[0].Equal(expJun) {
		t.Fatalf("expirations = %v, want [%v]", out, expJun)
	}
}

func TestLatestIVAbsentIsNotAnError(t *testing.T) {
	src, mock := newMockedMarketSource(t)

	mock.ExpectQuery(`SELECT iv\s+FROM volatility_history`).
		WillReturnRows(sqlmock.NewRows([]string{"iv"}))

	iv, ok, err := src.LatestIV(context.Background(), "NEWCO")
	if err != nil {
		t.Fatalf("LatestIV: %v", err)
	}
	if ok || iv != 0 {
		t.Fatalf("got iv=%v ok=%v, want absence", iv, ok)
	}
}

func TestLatestIVReturnsNewest(t *testing.T) {
	src, mock := newMockedMarketSource(t)

	mock.ExpectQuery(`SELECT iv\s+FROM volatility_history`).
		WillReturnRows(sqlmock.NewRows([]string{"iv"}).AddRow(0.27))

	iv, ok, err := src.LatestIV(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("LatestIV: %v", err)
	}
	if !ok || iv != 0.27 {
		t.Fatalf("got iv=%v ok=%v", iv, ok)
	}
}
