package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. QUERYIQ_DATABASE_URL.
const EnvPrefix = "QUERYIQ"

// Config holds everything the analysis pipeline and its collaborators need.
type Config struct {
	LogLevel  string          `mapstructure:"log_level"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Store     StoreConfig     `mapstructure:"store"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Benchmark BenchmarkConfig `mapstructure:"benchmark"`
	Rewrite   RewriteConfig   `mapstructure:"rewrite"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// DatabaseConfig points at the database whose queries are analyzed.
type DatabaseConfig struct {
	URL          string `mapstructure:"url"`
	CollectLimit int    `mapstructure:"collect_limit"`
	// CollectSchedule is a cron spec ("@every 5m", "0 * * * *"); empty
	// collects once.
	CollectSchedule string `mapstructure:"collect_schedule"`
}

// StoreConfig selects where suggestions and benchmark results are persisted.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// AnalysisConfig defines thresholds for feature extraction and rules.
type AnalysisConfig struct {
	SlowQueryThresholdMs   float64 `mapstructure:"slow_query_threshold_ms"`
	MaxSuggestionsPerQuery int     `mapstructure:"max_suggestions_per_query"`
	DefaultSchema          string  `mapstructure:"default_schema"`
	MaxPlanDepth           int     `mapstructure:"max_plan_depth"`
	Concurrency            int     `mapstructure:"concurrency"`
}

// BenchmarkConfig defines the measurement protocol.
type BenchmarkConfig struct {
	Iterations        int           `mapstructure:"iterations"`
	FailureSentinelMs float64       `mapstructure:"failure_sentinel_ms"`
	IterationDelay    time.Duration `mapstructure:"iteration_delay"`
	// Dialer is "pgx" for a fresh connection per session or "pool" to
	// check sessions out of the catalog's connection pool.
	Dialer string `mapstructure:"dialer"`
}

// RewriteConfig configures the query rewrite provider.
type RewriteConfig struct {
	Provider string        `mapstructure:"provider"`
	APIKey   string        `mapstructure:"api_key"`
	Model    string        `mapstructure:"model"`
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
	// RequestsPerMinute throttles provider calls; 0 disables the limit.
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

// MetricsConfig controls the Prometheus textfile written after a run.
type MetricsConfig struct {
	TextfilePath string `mapstructure:"textfile_path"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		Database: DatabaseConfig{
			CollectLimit: 100,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "queryiq.db",
		},
		Analysis: AnalysisConfig{
			SlowQueryThresholdMs:   1000,
			MaxSuggestionsPerQuery: 10,
			DefaultSchema:          "public",
			MaxPlanDepth:           256,
			Concurrency:            4,
		},
		Benchmark: BenchmarkConfig{
			Iterations:        5,
			FailureSentinelMs: 10000,
			IterationDelay:    100 * time.Millisecond,
			Dialer:            "pgx",
		},
		Rewrite: RewriteConfig{
			Provider: "none",
			Model:    "gemini-pro",
			Endpoint: "https://generativelanguage.googleapis.com/v1beta",
			Timeout:  30 * time.Second,

			RequestsPerMinute: 60,
		},
	}
}

// Load reads configuration from path (YAML, JSON or TOML by extension) on
// top of the defaults. An empty path falls back to $QUERYIQ_CONFIG; if that
// is empty too only defaults and environment overrides apply.
func Load(path string) (Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = strings.TrimSpace(os.Getenv(EnvPrefix + "_CONFIG"))
	}

	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Analysis.MaxSuggestionsPerQuery < 0 {
		errs = append(errs, fmt.Errorf("analysis.max_suggestions_per_query must not be negative"))
	}
	if c.Analysis.MaxPlanDepth <= 0 {
		errs = append(errs, fmt.Errorf("analysis.max_plan_depth must be positive"))
	}
	if c.Analysis.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("analysis.concurrency must be positive"))
	}
	if c.Rewrite.RequestsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("rewrite.requests_per_minute must not be negative"))
	}
	if c.Benchmark.Iterations <= 0 {
		errs = append(errs, fmt.Errorf("benchmark.iterations must be positive"))
	}
	if c.Benchmark.FailureSentinelMs <= 0 {
		errs = append(errs, fmt.Errorf("benchmark.failure_sentinel_ms must be positive"))
	}
	if c.Benchmark.IterationDelay < 0 {
		errs = append(errs, fmt.Errorf("benchmark.iteration_delay must not be negative"))
	}
	switch c.Benchmark.Dialer {
	case "pgx", "pool":
	default:
		errs = append(errs, fmt.Errorf("benchmark.dialer must be pgx or pool, got %q", c.Benchmark.Dialer))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("database.url", cfg.Database.URL)
	v.SetDefault("database.collect_limit", cfg.Database.CollectLimit)
	v.SetDefault("database.collect_schedule", cfg.Database.CollectSchedule)
	v.SetDefault("store.driver", cfg.Store.Driver)
	v.SetDefault("store.dsn", cfg.Store.DSN)
	v.SetDefault("analysis.slow_query_threshold_ms", cfg.Analysis.SlowQueryThresholdMs)
	v.SetDefault("analysis.max_suggestions_per_query", cfg.Analysis.MaxSuggestionsPerQuery)
	v.SetDefault("analysis.default_schema", cfg.Analysis.DefaultSchema)
	v.SetDefault("analysis.max_plan_depth", cfg.Analysis.MaxPlanDepth)
	v.SetDefault("analysis.concurrency", cfg.Analysis.Concurrency)
	v.SetDefault("benchmark.iterations", cfg.Benchmark.Iterations)
	v.SetDefault("benchmark.failure_sentinel_ms", cfg.Benchmark.FailureSentinelMs)
	v.SetDefault("benchmark.iteration_delay", cfg.Benchmark.IterationDelay)
	v.SetDefault("benchmark.dialer", cfg.Benchmark.Dialer)
	v.SetDefault("rewrite.provider", cfg.Rewrite.Provider)
	v.SetDefault("rewrite.api_key", cfg.Rewrite.APIKey)
	v.SetDefault("rewrite.model", cfg.Rewrite.Model)
	v.SetDefault("rewrite.endpoint", cfg.Rewrite.Endpoint)
	v.SetDefault("rewrite.timeout", cfg.Rewrite.Timeout)
	v.SetDefault("rewrite.requests_per_minute", cfg.Rewrite.RequestsPerMinute)
	v.SetDefault("metrics.textfile_path", cfg.Metrics.TextfilePath)
}
