package models

import (
	"fmt"
	"time"
)

// Horizon identifies the forecast horizon of a record.
type Horizon string

const (
	HorizonToExp Horizon = "to_exp"
	Horizon1D    Horizon = "1d"
	Horizon5D    Horizon = "5d"
)

// Horizons lists every supported horizon in serving order.
var Horizons = []Horizon{HorizonToExp, Horizon1D, Horizon5D}

// ParseHorizon returns the horizon for s, or false for an unknown value.
func ParseHorizon(s string) (Horizon, bool) {
	switch Horizon(s) {
	case HorizonToExp, Horizon1D, Horizon5D:
		return Horizon(s), true
	}
	return "", false
}

func (h Horizon) Valid() bool {
	_, ok := ParseHorizon(string(h))
	return ok
}

// ForecastKey is the composite identity of a forecast record. Keys are
// normalized (UTC quote timestamp, date-only expiration) so they compare
// equal regardless of which store a record came from.
type ForecastKey struct {
	Underlying string
	QuoteTS    time.Time
	ExpDate    time.Time
	Horizon    Horizon
}

func (k ForecastKey) String() string {
	return fmt.Sprintf("%s|%s|%s|%s",
		k.Underlying,
		k.QuoteTS.Format(time.RFC3339Nano),
		k.ExpDate.Format("2006-01-02"),
		k.Horizon,
	)
}

// DateOnly truncates t to a UTC calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ForecastRecord is one expected-move forecast: a baseline magnitude and two
// nested confidence bands. Band bounds are pointers so an unavailable bound
// stays absent instead of collapsing to zero.
type ForecastRecord struct {
	Underlying string
	QuoteTS    time.Time
	ExpDate    time.Time
	Horizon    Horizon

	EMBaseline float64
	Band68Low  *float64
	Band68High *float64
	Band95Low  *float64
	Band95High *float64

	SourceTag string
}

// Key returns the normalized identity of the record.
func (r *ForecastRecord) Key() ForecastKey {
	return ForecastKey{
		Underlying: r.Underlying,
		QuoteTS:    r.QuoteTS.UTC(),
		ExpDate:    DateOnly(r.ExpDate),
		Horizon:    r.Horizon,
	}
}

// Validate rejects records that must never reach a store: empty identity
// parts, negative baselines, or band bounds out of nesting order.
func (r *ForecastRecord) Validate() error {
	if r.Underlying == "" {
		return fmt.Errorf("forecast record: underlying is required")
	}
	if r.QuoteTS.IsZero() {
		return fmt.Errorf("forecast record %s: quote_ts is required", r.Underlying)
	}
	if r.ExpDate.IsZero() {
		return fmt.Errorf("forecast record %s: exp_date is required", r.Underlying)
	}
	if !r.Horizon.Valid() {
		return fmt.Errorf("forecast record %s: unknown horizon %q", r.Underlying, r.Horizon)
	}
	if r.EMBaseline < 0 {
		return fmt.Errorf("forecast record %s: em_baseline %v is negative", r.Underlying, r.EMBaseline)
	}
	if !bandsOrdered(r.Band95Low, r.Band68Low, r.EMBaseline, r.Band68High, r.Band95High) {
		return fmt.Errorf("forecast record %s: bands out of order", r.Underlying)
	}
	return nil
}

// bandsOrdered checks p95l <= p68l <= em <= p68h <= p95h for the bounds that
// are present; absent bounds do not constrain their neighbors.
func bandsOrdered(b95l, b68l *float64, em float64, b68h, b95h *float64) bool {
	lo := em
	if b68l != nil {
		if *b68l > lo {
			return false
		}
		lo = *b68l
	}
	if b95l != nil && *b95l > lo {
		return false
	}
	hi := em
	if b68h != nil {
		if *b68h < hi {
			return false
		}
		hi = *b68h
	}
	if b95h != nil && *b95h < hi {
		return false
	}
	return true
}

// KeyLess orders records by identity key, the stable layout of the columnar
// dataset.
func KeyLess(a, b ForecastKey) bool {
	if a.Underlying != b.Underlying {
		return a.Underlying < b.Underlying
	}
	if !a.QuoteTS.Equal(b.QuoteTS) {
		return a.QuoteTS.Before(b.QuoteTS)
	}
	if !a.ExpDate.Equal(b.ExpDate) {
		return a.ExpDate.Before(b.ExpDate)
	}
	return a.Horizon < b.Horizon
}

// BandQuantiles carries model-predicted band bounds for one key. Every bound
// is independently optional; a nil bound means "no override".
type BandQuantiles struct {
	Band68Low  *float64
	Band68High *float64
	Band95Low  *float64
	Band95High *float64
}

// Empty reports whether no bound is present.
func (q BandQuantiles) Empty() bool {
	return q.Band68Low == nil && q.Band68High == nil && q.Band95Low == nil && q.Band95High == nil
}

// UnderlyingCount is one row of the active-underlyings listing.
type UnderlyingCount struct {
	Underlying string
	Forecasts  int64
}
