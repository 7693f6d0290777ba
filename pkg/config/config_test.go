package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "environment: test\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("server.port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Serving.Mode != "federated" {
		t.Errorf("serving.mode = %q, want federated", cfg.Serving.Mode)
	}
	if cfg.Serving.RecentWindowCapDays != 30 {
		t.Errorf("recent_window_cap_days = %d, want 30", cfg.Serving.RecentWindowCapDays)
	}
	if cfg.Cache.AggregateTTL != 5*time.Minute || cfg.Cache.SingleTTL != 10*time.Minute {
		t.Errorf("cache TTLs = %v/%v, want 5m/10m", cfg.Cache.AggregateTTL, cfg.Cache.SingleTTL)
	}
	if cfg.Pipeline.Interval != 15*time.Minute {
		t.Errorf("pipeline.interval = %v, want 15m", cfg.Pipeline.Interval)
	}
	if cfg.Kafka.Topic != "quantiv.forecasts" {
		t.Errorf("kafka.topic = %q", cfg.Kafka.Topic)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
environment: production
serving:
  mode: clickhouse
  recent_window_cap_days: 14
pipeline:
  alpha: 0.9
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Serving.Mode != "clickhouse" {
		t.Errorf("serving.mode = %q", cfg.Serving.Mode)
	}
	if cfg.Serving.RecentWindowCapDays != 14 {
		t.Errorf("recent_window_cap_days = %d", cfg.Serving.RecentWindowCapDays)
	}
	if cfg.Pipeline.Alpha != 0.9 {
		t.Errorf("pipeline.alpha = %v", cfg.Pipeline.Alpha)
	}
}

func TestValidateRejectsBadMode(t *testing.T) {
	_, err := Load(writeConfig(t, "serving:\n  mode: mongodb\n"))
	if err == nil {
		t.Fatal("expected validation error for unknown serving mode")
	}
}

func TestValidateRejectsNonPositiveAlpha(t *testing.T) {
	_, err := Load(writeConfig(t, "pipeline:\n  alpha: -1\n"))
	if err == nil {
		t.Fatal("expected validation error for negative alpha")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("SERVING_MODE", "postgres")
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("PORT", "9090")

	cfg, err := LoadWithEnv(writeConfig(t, "environment: test\n"))
	if err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}
	if cfg.Serving.Mode != "postgres" {
		t.Errorf("serving.mode = %q", cfg.Serving.Mode)
	}
	if cfg.Postgres.Host != "db.internal" {
		t.Errorf("postgres.host = %q", cfg.Postgres.Host)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("kafka.brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("server.port = %d", cfg.Server.Port)
	}
}
