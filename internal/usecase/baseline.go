package usecase

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"quantiv/internal/domain/models"
	"quantiv/internal/domain/repository"
	"quantiv/pkg/logger"
)

// DefaultIV is the annualized volatility used when an underlying has no
// usable history.
const DefaultIV = 0.25

// Band width multipliers applied to the baseline magnitude when no model
// prediction is available.
const (
	band68LowMult  = 0.75
	band68HighMult = 1.25
	band95LowMult  = 0.50
	band95HighMult = 1.50
)

// ExpectedMove computes the baseline expected-move magnitude for an
// annualized volatility over d calendar days. Days below one clamp to one.
func ExpectedMove(alpha, iv float64, days int) float64 {
	if days < 1 {
		days = 1
	}
	return alpha * iv * math.Sqrt(float64(days)/365.0)
}

// BaselineCalculator produces the volatility-scaled forecast records for one
// generation cycle.
type BaselineCalculator struct {
	market         repository.MarketSource
	log            *logger.Logger
	alpha          float64
	lookaheadDays  int
	maxExpirations int
	now            func() time.Time
}

type BaselineConfig struct {
	Alpha          float64
	LookaheadDays  int
	MaxExpirations int
}

func NewBaselineCalculator(market repository.MarketSource, log *logger.Logger, cfg BaselineConfig) *BaselineCalculator {
	alpha := cfg.Alpha
	if alpha <= 0 {
		alpha = 1.0
	}
	lookahead := cfg.LookaheadDays
	if lookahead < 1 {
		lookahead = 120
	}
	maxExp := cfg.MaxExpirations
	if maxExp < 1 {
		maxExp = 8
	}
	return &BaselineCalculator{
		market:         market,
		log:            log,
		alpha:          alpha,
		lookaheadDays:  lookahead,
		maxExpirations: maxExp,
		now:            time.Now,
	}
}

// WithNow overrides the clock. Used in tests.
func (b *BaselineCalculator) WithNow(now func() time.Time) *BaselineCalculator {
	b.now = now
	return b
}

// Generate builds one batch of forecast records for an underlying: a to_exp
// record per upcoming expiration plus 1d and 5d records anchored to the
// nearest expiration. All records in the batch share one quote timestamp.
func (b *BaselineCalculator) Generate(ctx context.Context, underlying string) ([]models.ForecastRecord, error) {
	quoteTS := b.now().UTC()
	quoteDate := models.DateOnly(quoteTS)

	iv, ok, err := b.market.LatestIV(ctx, underlying)
	if err != nil {
		return nil, fmt.Errorf("latest iv for %s: %w", underlying, err)
	}
	var tags []string
	if !ok || iv <= 0 {
		iv = DefaultIV
		tags = append(tags, "default-iv")
		b.log.Warn("no usable iv, using fallback",
			logger.String("underlying", underlying),
			logger.Float64("iv", DefaultIV),
		)
	}

	exps, err := b.market.Expirations(ctx, underlying, b.lookaheadDays, b.maxExpirations)
	if err != nil {
		return nil, fmt.Errorf("expirations for %s: %w", underlying, err)
	}
	if len(exps) == 0 {
		exps = []time.Time{quoteDate.AddDate(0, 0, 7)}
		tags = append(tags, "synthetic-exp")
		b.log.Warn("no expirations found, synthesizing one",
			logger.String("underlying", underlying),
			logger.Time("exp", exps[0]),
		)
	}
	sort.Slice(exps, func(i, j int) bool { return exps[i].Before(exps[j]) })

	tag := "baseline"
	if len(tags) > 0 {
		tag = "baseline:" + strings.Join(tags, ",")
	}

	recs := make([]models.ForecastRecord, 0, len(exps)+2)
	for _, exp := range exps {
		days := daysBetween(quoteDate, models.DateOnly(exp))
		recs = append(recs, b.record(underlying, quoteTS, exp, models.HorizonToExp, iv, days, tag))
	}

	// Short-horizon records anchor to the nearest expiration.
	nearest := exps[0]
	recs = append(recs,
		b.record(underlying, quoteTS, nearest, models.Horizon1D, iv, 1, tag),
		b.record(underlying, quoteTS, nearest, models.Horizon5D, iv, 5, tag),
	)

	return recs, nil
}

func (b *BaselineCalculator) record(underlying string, quoteTS, exp time.Time, h models.Horizon, iv float64, days int, tag string) models.ForecastRecord {
	em := ExpectedMove(b.alpha, iv, days)
	b68l := em * band68LowMult
	b68h := em * band68HighMult
	b95l := em * band95LowMult
	b95h := em * band95HighMult
	return models.ForecastRecord{
		Underlying: underlying,
		QuoteTS:    quoteTS,
		ExpDate:    models.DateOnly(exp),
		Horizon:    h,
		EMBaseline: em,
		Band68Low:  &b68l,
		Band68High: &b68h,
		Band95Low:  &b95l,
		Band95High: &b95h,
		SourceTag:  tag,
	}
}

// daysBetween counts calendar days from a to b, clamped to at least one.
func daysBetween(a, b time.Time) int {
	d := int(b.Sub(a).Hours() / 24)
	if d < 1 {
		d = 1
	}
	return d
}
