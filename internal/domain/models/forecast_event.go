package models

import (
	"fmt"
	"time"
)

// ForecastEvent is the Kafka wire form of a ForecastRecord.
type ForecastEvent struct {
	Underlying string   `json:"underlying"`
	QuoteTS    string   `json:"quote_ts"`
	ExpDate    string   `json:"exp_date"`
	Horizon    string   `json:"horizon"`
	EMBaseline float64  `json:"em_baseline"`
	Band68Low  *float64 `json:"band68_low"`
	Band68High *float64 `json:"band68_high"`
	Band95Low  *float64 `json:"band95_low"`
	Band95High *float64 `json:"band95_high"`
	SourceTag  string   `json:"source_tag,omitempty"`
}

// NewForecastEvent converts a record for publishing.
func NewForecastEvent(r ForecastRecord) ForecastEvent {
	return ForecastEvent{
		Underlying: r.Underlying,
		QuoteTS:    r.QuoteTS.UTC().Format(time.RFC3339Nano),
		ExpDate:    DateOnly(r.ExpDate).Format("2006-01-02"),
		Horizon:    string(r.Horizon),
		EMBaseline: r.EMBaseline,
		Band68Low:  r.Band68Low,
		Band68High: r.Band68High,
		Band95Low:  r.Band95Low,
		Band95High: r.Band95High,
		SourceTag:  r.SourceTag,
	}
}

// Record parses the event back into a ForecastRecord.
func (e ForecastEvent) Record() (ForecastRecord, error) {
	var rec ForecastRecord
	qt, err := time.Parse(time.RFC3339Nano, e.QuoteTS)
	if err != nil {
		return rec, fmt.Errorf("parse quote_ts %q: %w", e.QuoteTS, err)
	}
	exp, err := time.Parse("2006-01-02", e.ExpDate)
	if err != nil {
		return rec, fmt.Errorf("parse exp_date %q: %w", e.ExpDate, err)
	}
	h, ok := ParseHorizon(e.Horizon)
	if !ok {
		return rec, fmt.Errorf("unknown horizon %q", e.Horizon)
	}
	rec = ForecastRecord{
		Underlying: e.Underlying,
		QuoteTS:    qt,
		ExpDate:    exp,
		Horizon:    h,
		EMBaseline: e.EMBaseline,
		Band68Low:  e.Band68Low,
		Band68High: e.Band68High,
		Band95Low:  e.Band95Low,
		Band95High: e.Band95High,
		SourceTag:  e.SourceTag,
	}
	return rec, rec.Validate()
}
