package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Log         struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"json"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
	Server struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Serving struct {
		// Mode selects the backing store: postgres, clickhouse or federated.
		Mode string `yaml:"mode" default:"federated"`
		// RecentWindowCapDays clamps how far back the narrow store is asked
		// to look in federated mode.
		RecentWindowCapDays int           `yaml:"recent_window_cap_days" default:"30"`
		QueryTimeout        time.Duration `yaml:"query_timeout" default:"5s"`
		DefaultHistoryDays  int           `yaml:"default_history_days" default:"90"`
		DefaultExpiryDays   int           `yaml:"default_expiry_days" default:"120"`
		SymbolLimit         int           `yaml:"symbol_limit" default:"100"`
	} `yaml:"serving"`
	Postgres struct {
		Host            string        `yaml:"host" default:"localhost"`
		Port            int           `yaml:"port" default:"5432"`
		Database        string        `yaml:"database" default:"quantiv"`
		User            string        `yaml:"user" default:"quantiv"`
		Password        string        `yaml:"password"`
		SSLMode         string        `yaml:"ssl_mode" default:"disable"`
		MaxOpenConns    int           `yaml:"max_open_conns" default:"16"`
		MaxIdleConns    int           `yaml:"max_idle_conns" default:"4"`
		ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" default:"30m"`
	} `yaml:"postgres"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"quantiv"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
	Cache struct {
		Enabled  bool   `yaml:"enabled" default:"true"`
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		// TTL for aggregate lookups; single-expiration, history and expiry
		// lookups use SingleTTL. Storage TTL is twice the serving age.
		AggregateTTL time.Duration `yaml:"aggregate_ttl" default:"5m"`
		SingleTTL    time.Duration `yaml:"single_ttl" default:"10m"`
	} `yaml:"cache"`
	Pipeline struct {
		Enabled        bool          `yaml:"enabled" default:"true"`
		Interval       time.Duration `yaml:"interval" default:"15m"`
		Alpha          float64       `yaml:"alpha" default:"1.0"`
		LookaheadDays  int           `yaml:"lookahead_days" default:"120"`
		MaxExpirations int           `yaml:"max_expirations" default:"8"`
		MaxUnderlyings int           `yaml:"max_underlyings" default:"200"`
		Publish        bool          `yaml:"publish"`
	} `yaml:"pipeline"`
	Predictor struct {
		Enabled    bool          `yaml:"enabled"`
		BaseURL    string        `yaml:"base_url" default:"http://localhost:8001"`
		Timeout    time.Duration `yaml:"timeout" default:"10s"`
		RatePerSec float64       `yaml:"rate_per_sec" default:"5"`
		Burst      int           `yaml:"burst" default:"10"`
	} `yaml:"predictor"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers" default:"[\"localhost:9092\"]"`
		Topic        string   `yaml:"topic" default:"quantiv.forecasts"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"snappy"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"100ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			Enabled    bool          `yaml:"enabled"`
			GroupID    string        `yaml:"group_id" default:"quantiv-ingress"`
			Workers    int           `yaml:"workers" default:"4"`
			BufferSize int           `yaml:"buffer_size" default:"256"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"200ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"quantiv.forecasts.dlq"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("default config: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Validate required fields
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables
	if v := os.Getenv("SERVING_MODE"); v != "" {
		c.Serving.Mode = v
	}
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		c.Postgres.Host = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		c.Postgres.Password = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Cache.Addr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := os.Getenv("PREDICTOR_URL"); v != "" {
		c.Predictor.BaseURL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	switch c.Serving.Mode {
	case "postgres", "clickhouse", "federated":
	default:
		return fmt.Errorf("serving.mode must be 'postgres', 'clickhouse' or 'federated', got '%s'", c.Serving.Mode)
	}
	if c.Serving.RecentWindowCapDays < 1 {
		return fmt.Errorf("serving.recent_window_cap_days must be positive")
	}
	if c.Pipeline.Alpha <= 0 {
		return fmt.Errorf("pipeline.alpha must be positive")
	}
	if c.Pipeline.MaxExpirations < 1 {
		return fmt.Errorf("pipeline.max_expirations must be positive")
	}
	if c.Cache.AggregateTTL <= 0 || c.Cache.SingleTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	return nil
}
