package predictor

import (
	"context"
	"fmt"
	"time"

	"quantiv/internal/domain/models"
	"quantiv/internal/domain/repository"
	"quantiv/internal/service/ratelimit"
	xhttp "quantiv/pkg/http"
)

// HTTPPredictor calls the trained quantile model service over HTTP. Requests
// are rate limited client-side so a large generation cycle cannot hammer the
// model service.
type HTTPPredictor struct {
	baseURL string
	client  *xhttp.Client
	limiter *ratelimit.Limiter
}

type Config struct {
	BaseURL    string
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
}

func NewHTTPPredictor(cfg Config) *HTTPPredictor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rate := cfg.RatePerSec
	if rate <= 0 {
		rate = 5
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &HTTPPredictor{
		baseURL: cfg.BaseURL,
		client:  xhttp.NewClient(xhttp.WithTimeout(timeout)),
		limiter: ratelimit.New(float64(burst), rate),
	}
}

type quantileReq struct {
	Records []models.ForecastEvent `json:"records"`
}

type quantileRespItem struct {
	Underlying string   `json:"underlying"`
	QuoteTS    string   `json:"quote_ts"`
	ExpDate    string   `json:"exp_date"`
	Horizon    string   `json:"horizon"`
	Band68Low  *float64 `json:"band68_low"`
	Band68High *float64 `json:"band68_high"`
	Band95Low  *float64 `json:"band95_low"`
	Band95High *float64 `json:"band95_high"`
}

type quantileResp struct {
	Predictions []quantileRespItem `json:"predictions"`
}

// PredictBands posts the batch and keys the response back onto forecast
// identities. Keys the model did not answer for are simply absent.
func (p *HTTPPredictor) PredictBands(ctx context.Context, batch []models.ForecastRecord) (map[models.ForecastKey]models.BandQuantiles, error) {
	if p.baseURL == "" {
		return nil, fmt.Errorf("predictor base url not configured")
	}
	if len(batch) == 0 {
		return map[models.ForecastKey]models.BandQuantiles{}, nil
	}

	if !p.limiter.Allow("predict") {
		return nil, fmt.Errorf("predictor rate limit exceeded")
	}

	req := quantileReq{Records: make([]models.ForecastEvent, 0, len(batch))}
	for _, rec := range batch {
		req.Records = append(req.Records, models.NewForecastEvent(rec))
	}

	var resp quantileResp
	err := p.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    p.baseURL + "/quantiles/predict",
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body: req,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("post quantiles: %w", err)
	}

	out := make(map[models.ForecastKey]models.BandQuantiles, len(resp.Predictions))
	for _, item := range resp.Predictions {
		qt, err := time.Parse(time.RFC3339Nano, item.QuoteTS)
		if err != nil {
			return nil, fmt.Errorf("parse prediction quote_ts %q: %w", item.QuoteTS, err)
		}
		exp, err := time.Parse("2006-01-02", item.ExpDate)
		if err != nil {
			return nil, fmt.Errorf("parse prediction exp_date %q: %w", item.ExpDate, err)
		}
		h, ok := models.ParseHorizon(item.Horizon)
		if !ok {
			return nil, fmt.Errorf("unknown prediction horizon %q", item.Horizon)
		}
		key := models.ForecastKey{
			Underlying: item.Underlying,
			QuoteTS:    qt.UTC(),
			ExpDate:    models.DateOnly(exp),
			Horizon:    h,
		}
		out[key] = models.BandQuantiles{
			Band68Low:  item.Band68Low,
			Band68High: item.Band68High,
			Band95Low:  item.Band95Low,
			Band95High: item.Band95High,
		}
	}
	return out, nil
}

var _ repository.QuantilePredictor = (*HTTPPredictor)(nil)
