package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/queryiq/test"
)

func TestLoadDefaultAndFile(t *testing.T) {
	t.Setenv(EnvPrefix+"_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load(test.SamplePath(t, "config.example.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 500.0, cfg.Analysis.SlowQueryThresholdMs)
	assert.Equal(t, 4, cfg.Analysis.MaxSuggestionsPerQuery)
	assert.Equal(t, 64, cfg.Analysis.MaxPlanDepth)
	assert.Equal(t, 7, cfg.Benchmark.Iterations)
	assert.Equal(t, 15000.0, cfg.Benchmark.FailureSentinelMs)
	assert.Equal(t, 250*time.Millisecond, cfg.Benchmark.IterationDelay)
	assert.Equal(t, "pool", cfg.Benchmark.Dialer)
	assert.Equal(t, "static", cfg.Rewrite.Provider)
	assert.Equal(t, 30, cfg.Rewrite.RequestsPerMinute)
	assert.Equal(t, "@every 10m", cfg.Database.CollectSchedule)
	assert.Equal(t, "/var/lib/node_exporter/queryiq.prom", cfg.Metrics.TextfilePath)
	// untouched keys keep their defaults
	assert.Equal(t, 100, cfg.Database.CollectLimit)
	assert.Equal(t, 4, cfg.Analysis.Concurrency)
	assert.Equal(t, "gemini-pro", cfg.Rewrite.Model)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv(EnvPrefix+"_CONFIG", "")
	t.Setenv("QUERYIQ_DATABASE_URL", "postgres://env@localhost/db")
	t.Setenv("QUERYIQ_BENCHMARK_ITERATIONS", "3")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://env@localhost/db", cfg.Database.URL)
	assert.Equal(t, 3, cfg.Benchmark.Iterations)
	assert.Equal(t, "pgx", cfg.Benchmark.Dialer)
}

func TestLoadConfigFromEnvPath(t *testing.T) {
	t.Setenv(EnvPrefix+"_CONFIG", test.SamplePath(t, "config.example.yaml"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Benchmark.Iterations)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(os.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Benchmark.Iterations = 0
	cfg.Benchmark.FailureSentinelMs = -1
	cfg.Analysis.Concurrency = 0
	cfg.Benchmark.Dialer = "odbc"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "benchmark.iterations")
	assert.Contains(t, err.Error(), "benchmark.failure_sentinel_ms")
	assert.Contains(t, err.Error(), "analysis.concurrency")
	assert.Contains(t, err.Error(), `benchmark.dialer must be pgx or pool, got "odbc"`)

	require.NoError(t, Default().Validate())
}
