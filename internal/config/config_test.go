package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chtemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoad_Defaults(t *testing.T) {
	chtemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 5, cfg.Extract.MaxConcurrentExtractions)
	assert.Equal(t, 1, cfg.Extract.RecoveryPasses)
	assert.Equal(t, 3, cfg.Crawl.Concurrency)
	assert.Equal(t, 1000, cfg.Crawl.MinHostDelayMS)
	assert.True(t, cfg.Crawl.EnableRobots)
	assert.Equal(t, 3, cfg.Batch.MaxConcurrentBatches)
	assert.Equal(t, 2, cfg.Batch.ProgressPollSecs)
	assert.Equal(t, 10, cfg.RateLimit.Search.Capacity)
	assert.Equal(t, 2, cfg.RateLimit.Extraction.RefillRate)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.InDelta(t, 2.0, cfg.Retry.ExpBase, 1e-9)
	assert.InDelta(t, 1.0, cfg.Retry.Multiplier, 1e-9)
	assert.True(t, cfg.Retry.Jitter)
	assert.Equal(t, 86400, cfg.Crawl.RateLimitBlockSecs)
	assert.Equal(t, 3600, cfg.Crawl.AuthBlockSecs)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 24, cfg.Cache.TTL.CompanyHours)
	assert.Equal(t, 12, cfg.Cache.TTL.CrawlHours)
	assert.Equal(t, 6, cfg.Cache.TTL.SERPHours)
	assert.Equal(t, 30, cfg.Governor.SampleIntervalSecs)
	assert.InDelta(t, 90.0, cfg.Governor.MemCritPct, 1e-9)
}

func TestLoad_EnvOverride(t *testing.T) {
	chtemp(t)
	t.Setenv("WEBINTEL_LOG_LEVEL", "debug")
	t.Setenv("WEBINTEL_EXTRACT_MAX_CONCURRENT_EXTRACTIONS", "9")
	t.Setenv("WEBINTEL_SEARCH_KEY", "test-key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9, cfg.Extract.MaxConcurrentExtractions)
	assert.Equal(t, "test-key", cfg.Search.Key)
}

func TestLoad_ConfigFile(t *testing.T) {
	chtemp(t)
	wd, err := os.Getwd()
	require.NoError(t, err)
	file := []byte("log:\n  level: warn\ncrawl:\n  concurrency: 7\ncache:\n  backend: sqlite\n")
	require.NoError(t, os.WriteFile(filepath.Join(wd, "config.yaml"), file, 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 7, cfg.Crawl.Concurrency)
	assert.Equal(t, "sqlite", cfg.Cache.Backend)
	assert.Equal(t, 1, cfg.Breaker.SuccessThreshold, "defaults still apply")
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.Error(t, InitLogger(LogConfig{Level: "nope"}))
}
