package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/oriys/quasar/internal/circuitbreaker"
	"github.com/oriys/quasar/internal/observability"
	"github.com/oriys/quasar/internal/ratelimit"
	"gopkg.in/yaml.v3"
)

// DaemonConfig holds daemon-specific settings
type DaemonConfig struct {
	HTTPAddr     string        `json:"http_addr" yaml:"httpAddr"`
	Concurrency  int           `json:"concurrency" yaml:"concurrency"`
	RetryBackoff time.Duration `json:"retry_backoff" yaml:"retryBackoff"`
	// ObjectTTL drops task results nobody released after this long.
	ObjectTTL time.Duration `json:"object_ttl" yaml:"objectTTL"`
}

// GRPCConfig holds the task service listen address and the address clients
// dial when running in cluster mode.
type GRPCConfig struct {
	Addr   string `json:"addr" yaml:"addr"`
	Target string `json:"target" yaml:"target"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"key_prefix" yaml:"keyPrefix"`
}

// PostgresConfig holds the function table database settings
type PostgresConfig struct {
	DSN string `json:"dsn" yaml:"dsn"`
}

// ExportConfig selects where exported functions are recorded.
// Table is one of memory, redis, tiered or postgres.
type ExportConfig struct {
	Table string        `json:"table" yaml:"table"`
	TTL   time.Duration `json:"ttl" yaml:"ttl"`
	L1TTL time.Duration `json:"l1_ttl" yaml:"l1TTL"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level         string `json:"level" yaml:"level"`
	Format        string `json:"format" yaml:"format"` // text, json
	SubmitLogFile string `json:"submit_log_file" yaml:"submitLogFile"`
	SubmitConsole bool   `json:"submit_console" yaml:"submitConsole"`
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled   bool      `json:"enabled" yaml:"enabled"`
	Namespace string    `json:"namespace" yaml:"namespace"`
	Buckets   []float64 `json:"buckets" yaml:"buckets"`
}

// ObservabilityConfig groups logging, tracing and metrics
type ObservabilityConfig struct {
	Logging LoggingConfig        `json:"logging" yaml:"logging"`
	Tracing observability.Config `json:"tracing" yaml:"tracing"`
	Metrics MetricsConfig        `json:"metrics" yaml:"metrics"`
}

// RateLimitConfig throttles submissions. Distributed buckets live in Redis
// and fall back to local ones while Redis is unreachable.
type RateLimitConfig struct {
	ratelimit.Config `yaml:",inline"`
	Distributed      bool `json:"distributed" yaml:"distributed"`
}

// Config is the central configuration struct embedding all component configs
type Config struct {
	Daemon        DaemonConfig          `json:"daemon" yaml:"daemon"`
	GRPC          GRPCConfig            `json:"grpc" yaml:"grpc"`
	Redis         RedisConfig           `json:"redis" yaml:"redis"`
	Postgres      PostgresConfig        `json:"postgres" yaml:"postgres"`
	Export        ExportConfig          `json:"export" yaml:"export"`
	Observability ObservabilityConfig   `json:"observability" yaml:"observability"`
	Breaker       circuitbreaker.Config `json:"breaker" yaml:"breaker"`
	RateLimit     RateLimitConfig       `json:"rate_limit" yaml:"rateLimit"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Daemon: DaemonConfig{
			HTTPAddr:     ":9091",
			Concurrency:  64,
			RetryBackoff: 50 * time.Millisecond,
			ObjectTTL:    time.Hour,
		},
		GRPC: GRPCConfig{
			Addr:   ":9090",
			Target: "localhost:9090",
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "quasar:cache:",
		},
		Export: ExportConfig{
			Table: "memory",
			TTL:   24 * time.Hour,
			L1TTL: 10 * time.Second,
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:         "info",
				Format:        "text",
				SubmitConsole: true,
			},
			Tracing: observability.Config{
				Exporter:    "otlp-http",
				Endpoint:    "localhost:4318",
				ServiceName: "quasar",
				SampleRate:  1.0,
			},
			Metrics: MetricsConfig{
				Enabled:   true,
				Namespace: "quasar",
			},
		},
		Breaker: circuitbreaker.Config{
			ErrorPct:       50,
			WindowDuration: 30 * time.Second,
			OpenDuration:   10 * time.Second,
			HalfOpenProbes: 1,
			MinRequests:    5,
		},
		RateLimit: RateLimitConfig{
			Config: ratelimit.Config{Scope: ratelimit.ScopeJob},
		},
	}
}

// LoadFromFile loads configuration from a JSON or YAML file, chosen by
// extension. Unset fields keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("QUASAR_HTTP_ADDR"); v != "" {
		cfg.Daemon.HTTPAddr = v
	}
	if v := os.Getenv("QUASAR_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Daemon.Concurrency = n
		}
	}
	if v := os.Getenv("QUASAR_OBJECT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Daemon.ObjectTTL = d
		}
	}
	if v := os.Getenv("QUASAR_GRPC_ADDR"); v != "" {
		cfg.GRPC.Addr = v
	}
	if v := os.Getenv("QUASAR_GRPC_TARGET"); v != "" {
		cfg.GRPC.Target = v
	}
	if v := os.Getenv("QUASAR_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("QUASAR_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("QUASAR_POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("QUASAR_EXPORT_TABLE"); v != "" {
		cfg.Export.Table = v
	}
	if v := os.Getenv("QUASAR_LOG_LEVEL"); v != "" {
		cfg.Observability.Logging.Level = v
	}
	if v := os.Getenv("QUASAR_LOG_FORMAT"); v != "" {
		cfg.Observability.Logging.Format = v
	}
	if v := os.Getenv("QUASAR_TRACING_ENABLED"); v != "" {
		cfg.Observability.Tracing.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("QUASAR_TRACING_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Endpoint = v
	}
	if v := os.Getenv("QUASAR_SUBMIT_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimit.Rate = f
		}
	}
	if v := os.Getenv("QUASAR_SUBMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.Burst = n
		}
	}
	if v := os.Getenv("QUASAR_METRICS_ENABLED"); v != "" {
		cfg.Observability.Metrics.Enabled = v == "true" || v == "1"
	}
}

// Validate checks settings that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Export.Table {
	case "memory", "redis", "tiered":
	case "postgres":
		if c.Postgres.DSN == "" {
			return fmt.Errorf("export table postgres requires postgres.dsn")
		}
	default:
		return fmt.Errorf("unknown export table %q", c.Export.Table)
	}
	switch c.RateLimit.Scope {
	case "", ratelimit.ScopeGlobal, ratelimit.ScopeJob, ratelimit.ScopeFunction:
	default:
		return fmt.Errorf("unknown rate limit scope %q", c.RateLimit.Scope)
	}
	if c.Daemon.Concurrency < 0 {
		return fmt.Errorf("daemon.concurrency must not be negative")
	}
	return nil
}
