package models

import "time"

// HTTP request/response shapes for the forecast API. Dates are ISO strings on
// the wire; parsing happens at the handler boundary, once.

type ExpectedMoveRequest struct {
	Symbol   string   `json:"symbol" validate:"required,min=1,max=12"`
	Horizons []string `json:"horizons" default:"[\"to_exp\",\"1d\",\"5d\"]" validate:"min=1,dive,oneof=to_exp 1d 5d"`
}

type ForecastLatestRequest struct {
	Symbol string `query:"symbol" validate:"required,min=1,max=12"`
	Exp    string `query:"exp" validate:"required"`
}

type HistoryRequest struct {
	Symbol string `query:"symbol" validate:"required,min=1,max=12"`
	Exp    string `query:"exp" validate:"required"`
	Window string `query:"window" default:"90d"`
}

type ExpiriesRequest struct {
	Symbol string `query:"symbol" validate:"required,min=1,max=12"`
	Window string `query:"window" default:"120d"`
}

type SymbolHistoryRequest struct {
	Days int `query:"days" default:"30" validate:"gte=1,lte=365"`
}

// ForecastDTO is the JSON projection of a ForecastRecord.
type ForecastDTO struct {
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

// NewForecastDTO converts a record for serving.
func NewForecastDTO(r ForecastRecord) ForecastDTO {
	return ForecastDTO{
		Underlying: r.Underlying,
		QuoteTS:    r.QuoteTS.UTC().Format(time.RFC3339),
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

type ExpectedMoveResponse struct {
	Symbol    string         `json:"symbol"`
	Timestamp time.Time      `json:"timestamp"`
	Forecasts []ForecastDTO  `json:"forecasts"`
	Metadata  map[string]any `json:"metadata"`
}

type ForecastLatestResponse struct {
	Symbol     string         `json:"symbol"`
	Exp        string         `json:"exp"`
	QuoteTS    string         `json:"quote_ts"`
	Horizon    string         `json:"horizon"`
	EMBaseline float64        `json:"em_baseline"`
	Band68Low  *float64       `json:"band68_low"`
	Band68High *float64       `json:"band68_high"`
	Band95Low  *float64       `json:"band95_low"`
	Band95High *float64       `json:"band95_high"`
	Metadata   map[string]any `json:"metadata"`
}

type HistoryPoint struct {
	QuoteTS    string   `json:"quote_ts"`
	EMBaseline float64  `json:"em_baseline"`
	Band68Low  *float64 `json:"band68_low"`
	Band68High *float64 `json:"band68_high"`
	Band95Low  *float64 `json:"band95_low"`
	Band95High *float64 `json:"band95_high"`
}

type HistoryResponse struct {
	Symbol   string         `json:"symbol"`
	Exp      string         `json:"exp"`
	Window   string         `json:"window"`
	Items    []HistoryPoint `json:"items"`
	Metadata map[string]any `json:"metadata"`
}

type ExpiriesResponse struct {
	Symbol   string         `json:"symbol"`
	Expiries []string       `json:"expiries"`
	Metadata map[string]any `json:"metadata"`
}

type SymbolCount struct {
	Symbol        string `json:"symbol"`
	ForecastCount int64  `json:"forecast_count"`
}
