package usecase

import (
	"context"
	"fmt"
	"time"

	"quantiv/internal/domain/models"
	"quantiv/internal/domain/repository"
	"quantiv/pkg/logger"
)

// Pipeline runs one forecast generation cycle: discover underlyings, compute
// baselines, overlay model quantiles when the predictor is reachable, write
// through the sink writer and optionally publish the written batch.
type Pipeline struct {
	market         repository.MarketSource
	baseline       *BaselineCalculator
	predictor      repository.QuantilePredictor
	writer         *SinkWriter
	publisher      repository.ForecastPublisher
	log            *logger.Logger
	metrics        repository.Metrics
	maxUnderlyings int
	invalidate     func(ctx context.Context)
}

type PipelineConfig struct {
	MaxUnderlyings int
}

func NewPipeline(
	market repository.MarketSource,
	baseline *BaselineCalculator,
	predictor repository.QuantilePredictor,
	writer *SinkWriter,
	publisher repository.ForecastPublisher,
	log *logger.Logger,
	m repository.Metrics,
	cfg PipelineConfig,
) *Pipeline {
	maxU := cfg.MaxUnderlyings
	if maxU < 1 {
		maxU = 200
	}
	return &Pipeline{
		market:         market,
		baseline:       baseline,
		predictor:      predictor,
		writer:         writer,
		publisher:      publisher,
		log:            log,
		metrics:        m,
		maxUnderlyings: maxU,
	}
}

// OnWrite registers a hook invoked after a cycle lands records in at least
// one sink. The query service hangs its cache invalidation here.
func (p *Pipeline) OnWrite(fn func(ctx context.Context)) {
	p.invalidate = fn
}

// Run executes one generation cycle. A single underlying failing does not
// abort the cycle; a predictor failure degrades to baseline bands.
func (p *Pipeline) Run(ctx context.Context) error {
	start := time.Now()

	underlyings, err := p.market.Underlyings(ctx, p.maxUnderlyings)
	if err != nil {
		p.metrics.RecordError("pipeline_discovery")
		return fmt.Errorf("discover underlyings: %w", err)
	}
	if len(underlyings) == 0 {
		p.log.Warn("no underlyings discovered, nothing to generate")
		return nil
	}

	var batch []models.ForecastRecord
	for _, u := range underlyings {
		recs, err := p.baseline.Generate(ctx, u)
		if err != nil {
			p.metrics.RecordError("pipeline_baseline")
			p.log.Error("baseline generation failed",
				logger.String("underlying", u),
				logger.Error(err),
			)
			continue
		}
		batch = append(batch, recs...)
	}
	if len(batch) == 0 {
		return fmt.Errorf("generation produced no records for %d underlyings", len(underlyings))
	}

	if p.predictor != nil {
		preds, err := p.predictor.PredictBands(ctx, batch)
		if err != nil {
			p.metrics.RecordError("pipeline_predictor")
			p.log.Warn("quantile predictor unavailable, keeping baseline bands",
				logger.Int("records", len(batch)),
				logger.Error(err),
			)
		} else {
			batch = BlendQuantiles(batch, preds)
		}
	}

	report, err := p.writer.Write(ctx, batch)
	if err != nil && len(report.Failed()) == len(report.Results) {
		return fmt.Errorf("write batch: %w", err)
	}
	if err != nil {
		p.log.Warn("batch landed in some sinks only",
			logger.Strings("failed", report.Failed()),
			logger.Int("records", len(batch)),
		)
	}

	if p.invalidate != nil {
		p.invalidate(ctx)
	}

	if p.publisher != nil {
		if perr := p.publisher.PublishBatch(ctx, batch); perr != nil {
			p.metrics.RecordError("pipeline_publish")
			p.log.Error("publish batch failed", logger.Error(perr))
		}
	}

	p.metrics.RecordLatency("pipeline_cycle", time.Since(start).Seconds())
	p.log.Info("generation cycle finished",
		logger.Int("underlyings", len(underlyings)),
		logger.Int("records", len(batch)),
		logger.Duration("took", time.Since(start)),
	)
	return err
}
