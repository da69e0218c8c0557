// Package service wires the extraction stack together behind one facade:
// clients, resilience substrate, cache tiers, pipeline, runtime, batch
// orchestrator, and resource governor.
package service

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/webintel/internal/aggregate"
	"github.com/sells-group/webintel/internal/batch"
	"github.com/sells-group/webintel/internal/cache"
	"github.com/sells-group/webintel/internal/config"
	"github.com/sells-group/webintel/internal/crawl"
	"github.com/sells-group/webintel/internal/discovery"
	"github.com/sells-group/webintel/internal/governor"
	"github.com/sells-group/webintel/internal/model"
	"github.com/sells-group/webintel/internal/parse"
	"github.com/sells-group/webintel/internal/pipeline"
	"github.com/sells-group/webintel/internal/ratelimit"
	"github.com/sells-group/webintel/internal/resilience"
	"github.com/sells-group/webintel/internal/runtime"
	"github.com/sells-group/webintel/pkg/reader"
	"github.com/sells-group/webintel/pkg/serp"
)

// Service is the public surface of the extraction system.
type Service struct {
	cfg *config.Config

	limiters *ratelimit.Limiters
	breakers *resilience.Breakers
	store    cache.Cache
	memory   *cache.Memory
	sqlite   *cache.SQLite
	pgpool   *pgxpool.Pool

	pipe    *pipeline.Pipeline
	crawler *crawl.Stage
	tasks   *runtime.Runtime
	batches *batch.Orchestrator
	gov     *governor.Governor

	govCancel context.CancelFunc
}

// New builds and starts the full stack from configuration. The returned
// service must be closed to release workers and connections.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	s := &Service{cfg: cfg}

	s.limiters = ratelimit.New(buckets(cfg.RateLimit))
	s.breakers = resilience.NewBreakers(breakerConfig(cfg.Breaker))
	retryCfg := retryConfig(cfg.Retry)
	cacheTTLs := ttls(cfg.Cache.TTL)

	if cfg.Cache.Enabled {
		store, err := s.openCache(ctx, cfg.Cache)
		if err != nil {
			return nil, err
		}
		s.store = store
	}

	search := serp.NewClient(cfg.Search.Key, serp.WithBaseURL(cfg.Search.BaseURL))
	fetcher := reader.NewClient(cfg.Reader.Key,
		reader.WithBaseURL(cfg.Reader.BaseURL),
		reader.WithUserAgent(cfg.Reader.UserAgent),
	)

	discOpts := []discovery.StageOption{}
	if s.store != nil {
		discOpts = append(discOpts, discovery.WithCache(s.store, cacheTTLs.SERP))
	}
	disc := discovery.NewStage(search, s.limiters, s.breakers, retryCfg, discOpts...)

	crawlOpts := []crawl.StageOption{
		crawl.WithConcurrency(cfg.Crawl.Concurrency),
		crawl.WithMinHostDelay(time.Duration(cfg.Crawl.MinHostDelayMS) * time.Millisecond),
		crawl.WithBlockDurations(
			time.Duration(cfg.Crawl.RateLimitBlockSecs)*time.Second,
			time.Duration(cfg.Crawl.AuthBlockSecs)*time.Second,
		),
	}
	if cfg.Crawl.EnableRobots {
		crawlOpts = append(crawlOpts, crawl.WithPolicy(crawl.NewRobotsCache(cfg.Reader.UserAgent)))
	}
	if s.store != nil {
		crawlOpts = append(crawlOpts, crawl.WithCache(s.store, cacheTTLs.Crawl))
	}
	s.crawler = crawl.NewStage(fetcher, s.limiters, s.breakers, retryCfg, crawlOpts...)

	agg := aggregate.New(parse.NewHeuristic())

	pipeOpts := []pipeline.Option{pipeline.WithRecoveryPasses(cfg.Extract.RecoveryPasses)}
	if s.store != nil {
		pipeOpts = append(pipeOpts, pipeline.WithCache(s.store, cacheTTLs))
	}
	s.pipe = pipeline.New(disc, s.crawler, agg, retryCfg, pipeOpts...)

	s.tasks = runtime.New(s.pipe, s.limiters,
		runtime.WithWorkers(cfg.Extract.MaxConcurrentExtractions))
	s.tasks.Start()

	batchOpts := []batch.Option{
		batch.WithMaxActive(cfg.Batch.MaxConcurrentBatches),
		batch.WithPollInterval(time.Duration(cfg.Batch.ProgressPollSecs) * time.Second),
	}
	if s.store != nil {
		batchOpts = append(batchOpts, batch.WithCache(s.store, cacheTTLs.Batch))
	}
	s.batches = batch.New(s.tasks, batch.NewExporter(cfg.Batch.ExportDir), batchOpts...)

	s.gov = s.buildGovernor(cfg.Governor)
	if cfg.Governor.Enabled {
		govCtx, cancel := context.WithCancel(context.Background())
		s.govCancel = cancel
		go s.gov.Run(govCtx)
	}

	zap.L().Info("service: started",
		zap.Int("workers", cfg.Extract.MaxConcurrentExtractions),
		zap.Bool("cache", cfg.Cache.Enabled),
		zap.String("cache_backend", cfg.Cache.Backend),
	)
	return s, nil
}

// openCache builds the tiered cache per the configured backend. The
// memory tier always fronts the durable one.
func (s *Service) openCache(ctx context.Context, cfg config.CacheConfig) (cache.Cache, error) {
	s.memory = cache.NewMemory()

	switch cfg.Backend {
	case "", "memory":
		return s.memory, nil
	case "sqlite":
		sq, err := cache.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := sq.Migrate(ctx); err != nil {
			return nil, err
		}
		s.sqlite = sq
		return cache.NewTiered(s.memory, sq), nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, eris.Wrap(err, "service: connect postgres cache")
		}
		pg := cache.NewPostgresWithPool(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		s.pgpool = pool
		return cache.NewTiered(s.memory, pg), nil
	default:
		return nil, eris.Errorf("service: unknown cache backend %q", cfg.Backend)
	}
}

func (s *Service) buildGovernor(cfg config.GovernorConfig) *governor.Governor {
	opts := []governor.Option{governor.WithQueue(s.tasks)}
	if s.store != nil {
		opts = append(opts, governor.WithCache(s.store))
	}
	if s.memory != nil {
		opts = append(opts, governor.WithTrimmer(s.memory))
	}
	if s.pgpool != nil {
		opts = append(opts, governor.WithPool(poolView{pool: s.pgpool}))
	}
	return governor.New(governorConfig(cfg), opts...)
}

// Close stops batches, drains the runtime, stops the governor, and
// releases cache backends.
func (s *Service) Close() {
	s.batches.Close()
	s.tasks.Shutdown()
	if s.govCancel != nil {
		s.govCancel()
	}
	if s.sqlite != nil {
		_ = s.sqlite.Close()
	}
	if s.pgpool != nil {
		s.pgpool.Close()
	}
	zap.L().Info("service: stopped")
}

// Extract runs one extraction synchronously.
func (s *Service) Extract(ctx context.Context, req model.Request) (model.Response, error) {
	return s.pipe.Extract(ctx, req)
}

// Submit enqueues an asynchronous extraction.
func (s *Service) Submit(req model.Request, priority float64) (string, error) {
	return s.tasks.Submit(req, priority)
}

// Status returns a task snapshot.
func (s *Service) Status(taskID string) (model.Task, error) {
	return s.tasks.Status(taskID)
}

// Result returns the response of a settled task.
func (s *Service) Result(taskID string) (*model.Response, bool, error) {
	return s.tasks.Result(taskID)
}

// WaitFor polls tasks until they settle or the timeout elapses.
func (s *Service) WaitFor(ctx context.Context, taskIDs []string, timeout time.Duration) map[string]model.Task {
	return s.tasks.WaitFor(ctx, taskIDs, timeout)
}

// SubmitBatch schedules a multi-company batch.
func (s *Service) SubmitBatch(req model.BatchRequest) (string, error) {
	return s.batches.Submit(req)
}

// BatchStatus returns a progress snapshot without results.
func (s *Service) BatchStatus(batchID string) (model.BatchSnapshot, error) {
	return s.batches.Status(batchID)
}

// BatchResult returns the full snapshot of a settled batch.
func (s *Service) BatchResult(batchID string) (model.BatchSnapshot, bool, error) {
	return s.batches.Result(batchID)
}

// CancelBatch stops a queued or running batch.
func (s *Service) CancelBatch(batchID string) error {
	return s.batches.Cancel(batchID)
}

// ObserveBatch registers a progress callback for a batch.
func (s *Service) ObserveBatch(batchID, observerID string, fn batch.ProgressFunc) error {
	return s.batches.Observe(batchID, observerID, fn)
}

// UnobserveBatch removes a progress callback.
func (s *Service) UnobserveBatch(batchID, observerID string) {
	s.batches.Unobserve(batchID, observerID)
}

// InvalidateCache removes cached entries matching the key prefix.
func (s *Service) InvalidateCache(ctx context.Context, prefix string) (int, error) {
	if s.store == nil {
		return 0, nil
	}
	return s.store.Invalidate(ctx, prefix)
}

// PurgeExpiredCache deletes entries past their TTL from the sqlite tier.
// Other backends expire lazily and report zero.
func (s *Service) PurgeExpiredCache(ctx context.Context) (int, error) {
	if s.sqlite == nil {
		return 0, nil
	}
	return s.sqlite.PurgeExpired(ctx)
}

// Stats is the aggregate observability view.
type Stats struct {
	Limiters     map[string]ratelimit.BucketStats `json:"limiters"`
	Breakers     map[string]string                `json:"breakers"`
	Cache        *cache.Stats                     `json:"cache,omitempty"`
	Tasks        map[model.TaskState]int          `json:"tasks"`
	Queue        int                              `json:"queue_depth"`
	Batches      BatchCounts                      `json:"batches"`
	BlockedHosts []string                         `json:"blocked_hosts,omitempty"`
	Health       governor.Health                  `json:"health"`
}

// BatchCounts reports orchestrator occupancy.
type BatchCounts struct {
	Active  int `json:"active"`
	Pending int `json:"pending"`
}

// Stats snapshots every subsystem.
func (s *Service) Stats() Stats {
	stats := Stats{
		Limiters:     s.limiters.Stats(),
		Breakers:     make(map[string]string),
		Tasks:        s.tasks.Counts(),
		Queue:        s.tasks.QueueDepth(),
		BlockedHosts: s.crawler.Blocks().Hosts(),
		Health:       s.gov.Health(),
	}
	for name, state := range s.breakers.States() {
		stats.Breakers[name] = state.String()
	}
	if s.store != nil {
		cs := s.store.Stats()
		stats.Cache = &cs
	}
	stats.Batches.Active, stats.Batches.Pending = s.batches.Counts()
	return stats
}

// Health returns the governor's current view.
func (s *Service) Health() governor.Health {
	return s.gov.Health()
}

// poolView adapts pgxpool gauges to the governor's read-only view.
type poolView struct {
	pool *pgxpool.Pool
}

func (v poolView) PoolStats() governor.PoolStats {
	st := v.pool.Stat()
	return governor.PoolStats{
		Total: int(st.TotalConns()),
		Idle:  int(st.IdleConns()),
		Max:   int(st.MaxConns()),
	}
}

// Recycle closes idle connections; pgxpool reopens lazily on demand.
func (v poolView) Recycle() int {
	idle := int(v.pool.Stat().IdleConns())
	v.pool.Reset()
	return idle
}

func buckets(cfg config.RateLimitConfig) map[string]ratelimit.BucketConfig {
	conv := func(b config.BucketConfig) ratelimit.BucketConfig {
		return ratelimit.BucketConfig{
			Capacity:       b.Capacity,
			RefillRate:     b.RefillRate,
			RefillInterval: time.Duration(b.RefillEvryMS) * time.Millisecond,
		}
	}
	return map[string]ratelimit.BucketConfig{
		ratelimit.ClassSearch:     conv(cfg.Search),
		ratelimit.ClassCrawl:      conv(cfg.Crawl),
		ratelimit.ClassExtraction: conv(cfg.Extraction),
	}
}

func retryConfig(cfg config.RetryConfig) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   time.Duration(cfg.BaseDelayMS) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.MaxDelayMS) * time.Millisecond,
		ExpBase:     cfg.ExpBase,
		Multiplier:  cfg.Multiplier,
		Jitter:      cfg.Jitter,
	}
}

func breakerConfig(cfg config.BreakerConfig) resilience.BreakerConfig {
	return resilience.BreakerConfig{
		FailureThreshold: cfg.FailureThreshold,
		RecoveryTimeout:  time.Duration(cfg.RecoveryTimeoutSecs) * time.Second,
		SuccessThreshold: cfg.SuccessThreshold,
	}
}

func ttls(cfg config.TTLConfig) cache.TTLs {
	t := cache.DefaultTTLs()
	if cfg.CompanyHours > 0 {
		t.Company = time.Duration(cfg.CompanyHours) * time.Hour
	}
	if cfg.CrawlHours > 0 {
		t.Crawl = time.Duration(cfg.CrawlHours) * time.Hour
	}
	if cfg.SERPHours > 0 {
		t.SERP = time.Duration(cfg.SERPHours) * time.Hour
	}
	if cfg.BatchHours > 0 {
		t.Batch = time.Duration(cfg.BatchHours) * time.Hour
	}
	return t
}

func governorConfig(cfg config.GovernorConfig) governor.Config {
	return governor.Config{
		SampleInterval: time.Duration(cfg.SampleIntervalSecs) * time.Second,
		MemLimitMB:     cfg.MemLimitMB,
		GoroutineCap:   cfg.GoroutineCap,
		MemWarnPct:     cfg.MemWarnPct,
		MemCritPct:     cfg.MemCritPct,
		CPUWarnPct:     cfg.CPUWarnPct,
		CPUCritPct:     cfg.CPUCritPct,
		ConnWarnPct:    cfg.ConnWarnPct,
		ConnCritPct:    cfg.ConnCritPct,
		CacheTrimKeep:  cfg.CacheTrimKeep,
	}
}
