package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Search    SearchConfig    `yaml:"search" mapstructure:"search"`
	Reader    ReaderConfig    `yaml:"reader" mapstructure:"reader"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Crawl     CrawlConfig     `yaml:"crawl" mapstructure:"crawl"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Breaker   BreakerConfig   `yaml:"breaker" mapstructure:"breaker"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Governor  GovernorConfig  `yaml:"governor" mapstructure:"governor"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// SearchConfig holds search provider API settings.
type SearchConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ReaderConfig holds page fetcher API settings.
type ReaderConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	UserAgent string `yaml:"user_agent" mapstructure:"user_agent"`
}

// ExtractConfig configures the extraction runtime and recovery.
type ExtractConfig struct {
	MaxConcurrentExtractions int `yaml:"max_concurrent_extractions" mapstructure:"max_concurrent_extractions"`
	RecoveryPasses           int `yaml:"recovery_passes" mapstructure:"recovery_passes"`
}

// CrawlConfig configures the polite crawl layer. Block durations apply to
// hosts answering 429/503 (rate limit) and 401/403 (auth wall).
type CrawlConfig struct {
	Concurrency        int  `yaml:"concurrency" mapstructure:"concurrency"`
	MinHostDelayMS     int  `yaml:"min_host_delay_ms" mapstructure:"min_host_delay_ms"`
	EnableRobots       bool `yaml:"enable_robots" mapstructure:"enable_robots"`
	RateLimitBlockSecs int  `yaml:"rate_limit_block_secs" mapstructure:"rate_limit_block_secs"`
	AuthBlockSecs      int  `yaml:"auth_block_secs" mapstructure:"auth_block_secs"`
}

// BatchConfig configures batch orchestration and export.
type BatchConfig struct {
	MaxConcurrentBatches int    `yaml:"max_concurrent_batches" mapstructure:"max_concurrent_batches"`
	ProgressPollSecs     int    `yaml:"progress_poll_secs" mapstructure:"progress_poll_secs"`
	ExportDir            string `yaml:"export_dir" mapstructure:"export_dir"`
}

// BucketConfig describes one token bucket.
type BucketConfig struct {
	Capacity     int `yaml:"capacity" mapstructure:"capacity"`
	RefillRate   int `yaml:"refill_rate" mapstructure:"refill_rate"`
	RefillEvryMS int `yaml:"refill_interval_ms" mapstructure:"refill_interval_ms"`
}

// RateLimitConfig holds the per-class token buckets.
type RateLimitConfig struct {
	Search     BucketConfig `yaml:"search" mapstructure:"search"`
	Crawl      BucketConfig `yaml:"crawl" mapstructure:"crawl"`
	Extraction BucketConfig `yaml:"extraction" mapstructure:"extraction"`
}

// RetryConfig configures classified retry backoff.
type RetryConfig struct {
	MaxAttempts int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelayMS int     `yaml:"base_delay_ms" mapstructure:"base_delay_ms"`
	MaxDelayMS  int     `yaml:"max_delay_ms" mapstructure:"max_delay_ms"`
	ExpBase     float64 `yaml:"exp_base" mapstructure:"exp_base"`
	Multiplier  float64 `yaml:"multiplier" mapstructure:"multiplier"`
	Jitter      bool    `yaml:"jitter" mapstructure:"jitter"`
}

// BreakerConfig configures the per-dependency circuit breakers.
type BreakerConfig struct {
	FailureThreshold    int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	RecoveryTimeoutSecs int `yaml:"recovery_timeout_secs" mapstructure:"recovery_timeout_secs"`
	SuccessThreshold    int `yaml:"success_threshold" mapstructure:"success_threshold"`
}

// CacheConfig configures the result cache tiers.
type CacheConfig struct {
	Enabled     bool      `yaml:"enabled" mapstructure:"enabled"`
	Backend     string    `yaml:"backend" mapstructure:"backend"`
	SQLitePath  string    `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	DatabaseURL string    `yaml:"database_url" mapstructure:"database_url"`
	TTL         TTLConfig `yaml:"ttl" mapstructure:"ttl"`
}

// TTLConfig holds per-tag cache lifetimes in hours.
type TTLConfig struct {
	CompanyHours int `yaml:"company_hours" mapstructure:"company_hours"`
	CrawlHours   int `yaml:"crawl_hours" mapstructure:"crawl_hours"`
	SERPHours    int `yaml:"serp_hours" mapstructure:"serp_hours"`
	BatchHours   int `yaml:"batch_hours" mapstructure:"batch_hours"`
}

// GovernorConfig configures the resource governor.
type GovernorConfig struct {
	Enabled            bool    `yaml:"enabled" mapstructure:"enabled"`
	SampleIntervalSecs int     `yaml:"sample_interval_secs" mapstructure:"sample_interval_secs"`
	MemLimitMB         float64 `yaml:"mem_limit_mb" mapstructure:"mem_limit_mb"`
	GoroutineCap       int     `yaml:"goroutine_cap" mapstructure:"goroutine_cap"`
	MemWarnPct         float64 `yaml:"mem_warn_pct" mapstructure:"mem_warn_pct"`
	MemCritPct         float64 `yaml:"mem_crit_pct" mapstructure:"mem_crit_pct"`
	CPUWarnPct         float64 `yaml:"cpu_warn_pct" mapstructure:"cpu_warn_pct"`
	CPUCritPct         float64 `yaml:"cpu_crit_pct" mapstructure:"cpu_crit_pct"`
	ConnWarnPct        float64 `yaml:"conn_warn_pct" mapstructure:"conn_warn_pct"`
	ConnCritPct        float64 `yaml:"conn_crit_pct" mapstructure:"conn_crit_pct"`
	CacheTrimKeep      int     `yaml:"cache_trim_keep" mapstructure:"cache_trim_keep"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("WEBINTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	// Empty defaults so env-only keys survive Unmarshal.
	v.SetDefault("search.key", "")
	v.SetDefault("reader.key", "")
	v.SetDefault("cache.database_url", "")
	v.SetDefault("search.base_url", "https://google.serper.dev")
	v.SetDefault("reader.base_url", "https://r.jina.ai")
	v.SetDefault("reader.user_agent", "webintel/1.0")
	v.SetDefault("extract.max_concurrent_extractions", 5)
	v.SetDefault("extract.recovery_passes", 1)
	v.SetDefault("crawl.concurrency", 3)
	v.SetDefault("crawl.min_host_delay_ms", 1000)
	v.SetDefault("crawl.enable_robots", true)
	v.SetDefault("crawl.rate_limit_block_secs", 86400)
	v.SetDefault("crawl.auth_block_secs", 3600)
	v.SetDefault("batch.max_concurrent_batches", 3)
	v.SetDefault("batch.progress_poll_secs", 2)
	v.SetDefault("batch.export_dir", "exports")
	v.SetDefault("rate_limit.search.capacity", 10)
	v.SetDefault("rate_limit.search.refill_rate", 5)
	v.SetDefault("rate_limit.search.refill_interval_ms", 1000)
	v.SetDefault("rate_limit.crawl.capacity", 20)
	v.SetDefault("rate_limit.crawl.refill_rate", 10)
	v.SetDefault("rate_limit.crawl.refill_interval_ms", 1000)
	v.SetDefault("rate_limit.extraction.capacity", 5)
	v.SetDefault("rate_limit.extraction.refill_rate", 2)
	v.SetDefault("rate_limit.extraction.refill_interval_ms", 1000)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay_ms", 500)
	v.SetDefault("retry.max_delay_ms", 30000)
	v.SetDefault("retry.exp_base", 2.0)
	v.SetDefault("retry.multiplier", 1.0)
	v.SetDefault("retry.jitter", true)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.recovery_timeout_secs", 30)
	v.SetDefault("breaker.success_threshold", 1)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.sqlite_path", "webintel_cache.db")
	v.SetDefault("cache.ttl.company_hours", 24)
	v.SetDefault("cache.ttl.crawl_hours", 12)
	v.SetDefault("cache.ttl.serp_hours", 6)
	v.SetDefault("cache.ttl.batch_hours", 6)
	v.SetDefault("governor.enabled", true)
	v.SetDefault("governor.sample_interval_secs", 30)
	v.SetDefault("governor.mem_limit_mb", 1024)
	v.SetDefault("governor.goroutine_cap", 1000)
	v.SetDefault("governor.mem_warn_pct", 80)
	v.SetDefault("governor.mem_crit_pct", 90)
	v.SetDefault("governor.cpu_warn_pct", 70)
	v.SetDefault("governor.cpu_crit_pct", 85)
	v.SetDefault("governor.conn_warn_pct", 80)
	v.SetDefault("governor.conn_crit_pct", 95)
	v.SetDefault("governor.cache_trim_keep", 1000)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
