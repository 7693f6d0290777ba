package di

import (
	"fmt"

	"quantiv/internal/domain/repository"
	"quantiv/internal/handler/api"
	internalrepo "quantiv/internal/repository"
	icache "quantiv/internal/service/cache"
	"quantiv/internal/service/freshness"
	"quantiv/internal/service/predictor"
	"quantiv/internal/usecase"
	pkgch "quantiv/pkg/clickhouse"
	"quantiv/pkg/config"
	xhttp "quantiv/pkg/http"
	pkgkafka "quantiv/pkg/kafka"
	applogger "quantiv/pkg/logger"
	"quantiv/pkg/metrics"
	pkgpg "quantiv/pkg/postgres"
	"quantiv/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient creates a ClickHouse client. The historical market
// tables live here, so the client exists in every serving mode.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// Stores bundles the forecast stores selected by the serving mode.
type Stores struct {
	All    []repository.ForecastStore
	Sinks  []repository.ForecastSink
	Reader repository.ForecastReader
}

// ProvideStores builds the store set for the configured serving mode:
// postgres (narrow-only), clickhouse (broad-only), or federated (both).
func ProvideStores(cfg *config.Config, chClient *pkgch.Client, log *applogger.Logger, m repository.Metrics) (*Stores, error) {
	var (
		recent *internalrepo.PostgresForecastStore
		broad  *internalrepo.ClickHouseForecastStore
	)

	if cfg.Serving.Mode == "postgres" || cfg.Serving.Mode == "federated" {
		pgClient, err := pkgpg.NewClient(
			pkgpg.WithHost(cfg.Postgres.Host),
			pkgpg.WithPort(cfg.Postgres.Port),
			pkgpg.WithDatabase(cfg.Postgres.Database),
			pkgpg.WithCredentials(cfg.Postgres.User, cfg.Postgres.Password),
			pkgpg.WithSSLMode(cfg.Postgres.SSLMode),
			pkgpg.WithMaxConnections(cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns),
			pkgpg.WithConnMaxLifetime(cfg.Postgres.ConnMaxLifetime),
		)
		if err != nil {
			return nil, fmt.Errorf("postgres client: %w", err)
		}
		recent = internalrepo.NewPostgresForecastStore(pgClient, log)
	}
	if cfg.Serving.Mode == "clickhouse" || cfg.Serving.Mode == "federated" {
		broad = internalrepo.NewClickHouseForecastStore(chClient, log)
	}

	s := &Stores{}
	switch cfg.Serving.Mode {
	case "postgres":
		s.All = []repository.ForecastStore{recent}
		s.Sinks = []repository.ForecastSink{recent}
		s.Reader = recent
	case "clickhouse":
		s.All = []repository.ForecastStore{broad}
		s.Sinks = []repository.ForecastSink{broad}
		s.Reader = broad
	case "federated":
		s.All = []repository.ForecastStore{recent, broad}
		s.Sinks = []repository.ForecastSink{recent, broad}
		s.Reader = internalrepo.NewFederatedForecastReader(recent, broad, log, m, internalrepo.FederatedConfig{
			RecentWindowCapDays: cfg.Serving.RecentWindowCapDays,
			QueryTimeout:        cfg.Serving.QueryTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown serving mode %q", cfg.Serving.Mode)
	}
	return s, nil
}

// ProvideCache selects Redis when enabled, an in-process TTL cache otherwise.
func ProvideCache(cfg *config.Config) icache.BytesCache {
	if cfg.Cache.Enabled {
		return icache.NewRedisCache(icache.RedisConfig{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
	}
	return icache.NewTTLCache()
}

// ProvideFreshness creates the freshness cache over the bytes cache.
func ProvideFreshness(c icache.BytesCache, log *applogger.Logger, m repository.Metrics) *freshness.Store {
	return freshness.NewStore(c, log, m)
}

// ProvideQueryService creates the read-path service.
func ProvideQueryService(s *Stores, fresh *freshness.Store, log *applogger.Logger, m repository.Metrics, cfg *config.Config) *usecase.ForecastQueryService {
	return usecase.NewForecastQueryService(s.Reader, fresh, log, m, usecase.QueryConfig{
		AggregateTTL:       cfg.Cache.AggregateTTL,
		SingleTTL:          cfg.Cache.SingleTTL,
		DefaultHistoryDays: cfg.Serving.DefaultHistoryDays,
		DefaultExpiryDays:  cfg.Serving.DefaultExpiryDays,
		SymbolLimit:        cfg.Serving.SymbolLimit,
	})
}

// ProvideMarketSource exposes the historical market tables.
func ProvideMarketSource(chClient *pkgch.Client) repository.MarketSource {
	return internalrepo.NewClickHouseMarketSource(chClient)
}

// ProvidePredictor creates the quantile model client, or nil when disabled.
func ProvidePredictor(cfg *config.Config) repository.QuantilePredictor {
	if !cfg.Predictor.Enabled {
		return nil
	}
	return predictor.NewHTTPPredictor(predictor.Config{
		BaseURL:    cfg.Predictor.BaseURL,
		Timeout:    cfg.Predictor.Timeout,
		RatePerSec: cfg.Predictor.RatePerSec,
		Burst:      cfg.Predictor.Burst,
	})
}

// ProvideSinkWriter fans writes out to the mode's sinks.
func ProvideSinkWriter(s *Stores, log *applogger.Logger, m repository.Metrics) *usecase.SinkWriter {
	return usecase.NewSinkWriter(s.Sinks, log, m)
}

// ProvideKafkaProducer creates a Kafka producer, or nil when kafka is off.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideForecastPublisher creates the Kafka publisher, or nil when
// publication is off.
func ProvideForecastPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.ForecastPublisher {
	if producer == nil || !cfg.Pipeline.Publish {
		return nil
	}
	return internalrepo.NewKafkaForecastPublisher(producer, cfg.Kafka.Topic)
}

// ProvideBaseline creates the baseline calculator.
func ProvideBaseline(market repository.MarketSource, log *applogger.Logger, cfg *config.Config) *usecase.BaselineCalculator {
	return usecase.NewBaselineCalculator(market, log, usecase.BaselineConfig{
		Alpha:          cfg.Pipeline.Alpha,
		LookaheadDays:  cfg.Pipeline.LookaheadDays,
		MaxExpirations: cfg.Pipeline.MaxExpirations,
	})
}

// ProvidePipeline creates the generation cycle and hooks cache invalidation
// onto successful writes.
func ProvidePipeline(
	market repository.MarketSource,
	baseline *usecase.BaselineCalculator,
	pred repository.QuantilePredictor,
	writer *usecase.SinkWriter,
	publisher repository.ForecastPublisher,
	queries *usecase.ForecastQueryService,
	log *applogger.Logger,
	m repository.Metrics,
	cfg *config.Config,
) *usecase.Pipeline {
	p := usecase.NewPipeline(market, baseline, pred, writer, publisher, log, m, usecase.PipelineConfig{
		MaxUnderlyings: cfg.Pipeline.MaxUnderlyings,
	})
	p.OnWrite(queries.InvalidateForecasts)
	return p
}

// ProvideKafkaConsumer creates the ingress consumer, or nil when disabled.
func ProvideKafkaConsumer(cfg *config.Config) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || !cfg.Kafka.Consumer.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideIngressHandler creates the forecast ingress handler, or nil when
// the consumer is off.
func ProvideIngressHandler(writer *usecase.SinkWriter, log *applogger.Logger, cfg *config.Config) pkgkafka.MessageHandler {
	if !cfg.Kafka.Enabled || !cfg.Kafka.Consumer.Enabled {
		return nil
	}
	return usecase.NewForecastIngressHandler(cfg.Kafka.Topic, writer, log)
}

// ProvideHTTPHandler creates the Echo route handler.
func ProvideHTTPHandler(
	log *applogger.Logger,
	queries *usecase.ForecastQueryService,
	pipeline *usecase.Pipeline,
	s *Stores,
) xhttp.Handler {
	return api.NewForecastsEchoHandler(log, queries, pipeline, s.All)
}

// ProvideApp assembles the application.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	handler xhttp.Handler,
	s *Stores,
	pipeline *usecase.Pipeline,
	publisher repository.ForecastPublisher,
	consumer *pkgkafka.Consumer,
	kh pkgkafka.MessageHandler,
) *server.App {
	return server.New(cfg, log, handler, s.All, pipeline, publisher, consumer, kh)
}
