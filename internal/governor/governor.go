// Package governor samples process resource usage on a fixed cadence,
// raises advisories when thresholds are crossed, and applies best-effort
// mitigation through registered hooks.
package governor

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/webintel/internal/cache"
)

// Resource identifies the sampled dimension an advisory refers to.
type Resource string

const (
	ResourceMemory      Resource = "memory"
	ResourceCPU         Resource = "cpu"
	ResourceConnections Resource = "connections"
)

// Severity grades an advisory.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Advisory is a single threshold breach.
type Advisory struct {
	Resource  Resource  `json:"resource"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AdvisoryFunc receives advisories. Implementations must not block; they
// are called from the sampling loop.
type AdvisoryFunc func(Advisory)

// CacheView exposes read-only cache counters.
type CacheView interface {
	Stats() cache.Stats
}

// Trimmer is the memory-pressure mitigation hook.
type Trimmer interface {
	Trim(keep int) int
}

// PoolStats is a read-only view of a connection pool.
type PoolStats struct {
	Total int `json:"total"`
	Idle  int `json:"idle"`
	Max   int `json:"max"`
}

// PoolView exposes pool gauges and the connection-pressure mitigation
// hook. Recycle closes idle connections and reports how many it closed.
type PoolView interface {
	PoolStats() PoolStats
	Recycle() int
}

// QueueView exposes the task queue depth.
type QueueView interface {
	QueueDepth() int
}

// Sample is a point-in-time view of process resource usage.
type Sample struct {
	HeapAllocMB   float64   `json:"heap_alloc_mb"`
	HeapSysMB     float64   `json:"heap_sys_mb"`
	MemPercent    float64   `json:"mem_percent"`
	Goroutines    int       `json:"goroutines"`
	CPUPercent    float64   `json:"cpu_percent"`
	CacheEntries  int       `json:"cache_entries"`
	CacheHitRate  float64   `json:"cache_hit_rate"`
	CacheDegraded int64     `json:"cache_degraded"`
	Pool          PoolStats `json:"pool"`
	ConnPercent   float64   `json:"conn_percent"`
	QueueDepth    int       `json:"queue_depth"`
	SampledAt     time.Time `json:"sampled_at"`
}

// Health is the aggregate view served to callers.
type Health struct {
	WithinLimits     bool     `json:"within_limits"`
	Warnings         []string `json:"warnings,omitempty"`
	RecentAdvisories int      `json:"recent_advisories"`
	Sample           Sample   `json:"sample"`
}

// Config holds sampling cadence, capacity assumptions, and thresholds.
// Percent thresholds are 0..100.
type Config struct {
	SampleInterval time.Duration
	MemLimitMB     float64
	GoroutineCap   int

	MemWarnPct  float64
	MemCritPct  float64
	CPUWarnPct  float64
	CPUCritPct  float64
	ConnWarnPct float64
	ConnCritPct float64

	CacheTrimKeep   int
	AdvisoryHistory int
}

func (c *Config) applyDefaults() {
	if c.SampleInterval <= 0 {
		c.SampleInterval = 30 * time.Second
	}
	if c.MemLimitMB <= 0 {
		c.MemLimitMB = 1024
	}
	if c.GoroutineCap <= 0 {
		c.GoroutineCap = 1000
	}
	if c.MemWarnPct <= 0 {
		c.MemWarnPct = 80
	}
	if c.MemCritPct <= 0 {
		c.MemCritPct = 90
	}
	if c.CPUWarnPct <= 0 {
		c.CPUWarnPct = 70
	}
	if c.CPUCritPct <= 0 {
		c.CPUCritPct = 85
	}
	if c.ConnWarnPct <= 0 {
		c.ConnWarnPct = 80
	}
	if c.ConnCritPct <= 0 {
		c.ConnCritPct = 95
	}
	if c.CacheTrimKeep <= 0 {
		c.CacheTrimKeep = 1000
	}
	if c.AdvisoryHistory <= 0 {
		c.AdvisoryHistory = 32
	}
}

// Governor runs the sampling loop. All views are optional; absent views
// simply leave their gauges at zero.
type Governor struct {
	cfg Config

	cacheView CacheView
	trimmer   Trimmer
	pool      PoolView
	queue     QueueView

	mu        sync.Mutex
	observers map[string]AdvisoryFunc
	recent    []Advisory

	// Injected for tests.
	readMemStats func(*runtime.MemStats)
	numGoroutine func() int
	nowFunc      func() time.Time
}

// Option registers a view or hook with the governor.
type Option func(*Governor)

// WithCache registers the cache counters view.
func WithCache(v CacheView) Option {
	return func(g *Governor) { g.cacheView = v }
}

// WithTrimmer registers the memory mitigation hook.
func WithTrimmer(t Trimmer) Option {
	return func(g *Governor) { g.trimmer = t }
}

// WithPool registers the connection pool view.
func WithPool(p PoolView) Option {
	return func(g *Governor) { g.pool = p }
}

// WithQueue registers the task queue view.
func WithQueue(q QueueView) Option {
	return func(g *Governor) { g.queue = q }
}

// New creates a governor with the given thresholds and views.
func New(cfg Config, opts ...Option) *Governor {
	cfg.applyDefaults()
	g := &Governor{
		cfg:          cfg,
		observers:    make(map[string]AdvisoryFunc),
		readMemStats: runtime.ReadMemStats,
		numGoroutine: runtime.NumGoroutine,
		nowFunc:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Subscribe registers an advisory observer under id. Re-registering the
// same id replaces the previous callback.
func (g *Governor) Subscribe(id string, fn AdvisoryFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.observers[id] = fn
}

// Unsubscribe removes an observer. Unknown ids are a no-op.
func (g *Governor) Unsubscribe(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.observers, id)
}

// Run starts the sampling loop. It blocks until ctx is cancelled.
func (g *Governor) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "governor"))
	log.Info("governor: sampling started",
		zap.Duration("interval", g.cfg.SampleInterval),
		zap.Float64("mem_limit_mb", g.cfg.MemLimitMB),
	)

	ticker := time.NewTicker(g.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("governor: sampling stopped")
			return
		case <-ticker.C:
			g.tick(log)
		}
	}
}

// tick samples, evaluates, notifies, and mitigates once.
func (g *Governor) tick(log *zap.Logger) {
	sample := g.Sample()
	advisories := g.Evaluate(sample)
	if len(advisories) == 0 {
		log.Debug("governor: within limits",
			zap.Float64("mem_percent", sample.MemPercent),
			zap.Float64("cpu_percent", sample.CPUPercent),
		)
		return
	}

	g.record(advisories)
	for _, adv := range advisories {
		log.Warn("governor: advisory",
			zap.String("resource", string(adv.Resource)),
			zap.String("severity", string(adv.Severity)),
			zap.Float64("value", adv.Value),
			zap.Float64("threshold", adv.Threshold),
		)
		g.notify(adv)
		g.mitigate(adv, log)
	}
}

// Sample gathers a point-in-time resource view. Goroutine count against
// its cap stands in for CPU pressure; it is portable and tracks the same
// saturation the worker pools cause.
func (g *Governor) Sample() Sample {
	var mem runtime.MemStats
	g.readMemStats(&mem)

	sample := Sample{
		HeapAllocMB: float64(mem.HeapAlloc) / (1 << 20),
		HeapSysMB:   float64(mem.HeapSys) / (1 << 20),
		Goroutines:  g.numGoroutine(),
		SampledAt:   g.nowFunc(),
	}
	sample.MemPercent = sample.HeapAllocMB / g.cfg.MemLimitMB * 100
	sample.CPUPercent = float64(sample.Goroutines) / float64(g.cfg.GoroutineCap) * 100

	if g.cacheView != nil {
		stats := g.cacheView.Stats()
		sample.CacheEntries = stats.Entries
		sample.CacheHitRate = stats.HitRate
		sample.CacheDegraded = stats.Degraded
	}
	if g.pool != nil {
		sample.Pool = g.pool.PoolStats()
		if sample.Pool.Max > 0 {
			sample.ConnPercent = float64(sample.Pool.Total) / float64(sample.Pool.Max) * 100
		}
	}
	if g.queue != nil {
		sample.QueueDepth = g.queue.QueueDepth()
	}
	return sample
}

// Evaluate grades a sample against the configured thresholds.
func (g *Governor) Evaluate(sample Sample) []Advisory {
	var advisories []Advisory
	check := func(res Resource, value, warn, crit float64, unit string) {
		var severity Severity
		threshold := warn
		switch {
		case value >= crit:
			severity = SeverityCritical
			threshold = crit
		case value >= warn:
			severity = SeverityWarning
		default:
			return
		}
		advisories = append(advisories, Advisory{
			Resource:  res,
			Severity:  severity,
			Message:   fmt.Sprintf("%s at %.1f%s exceeds %s threshold %.1f%s", res, value, unit, severity, threshold, unit),
			Value:     value,
			Threshold: threshold,
			Timestamp: sample.SampledAt,
		})
	}

	check(ResourceMemory, sample.MemPercent, g.cfg.MemWarnPct, g.cfg.MemCritPct, "%")
	check(ResourceCPU, sample.CPUPercent, g.cfg.CPUWarnPct, g.cfg.CPUCritPct, "%")
	if g.pool != nil {
		check(ResourceConnections, sample.ConnPercent, g.cfg.ConnWarnPct, g.cfg.ConnCritPct, "%")
	}
	return advisories
}

// Health samples and evaluates without recording or mitigating.
func (g *Governor) Health() Health {
	sample := g.Sample()
	advisories := g.Evaluate(sample)

	h := Health{
		WithinLimits: len(advisories) == 0,
		Sample:       sample,
	}
	for _, adv := range advisories {
		h.Warnings = append(h.Warnings, adv.Message)
	}

	g.mu.Lock()
	h.RecentAdvisories = len(g.recent)
	g.mu.Unlock()
	return h
}

// mitigate applies the best-effort hook for critical advisories.
func (g *Governor) mitigate(adv Advisory, log *zap.Logger) {
	if adv.Severity != SeverityCritical {
		return
	}
	switch adv.Resource {
	case ResourceMemory:
		if g.trimmer != nil {
			removed := g.trimmer.Trim(g.cfg.CacheTrimKeep)
			log.Info("governor: trimmed cache", zap.Int("removed", removed))
		}
	case ResourceConnections:
		if g.pool != nil {
			closed := g.pool.Recycle()
			log.Info("governor: recycled pool connections", zap.Int("closed", closed))
		}
	}
}

func (g *Governor) record(advisories []Advisory) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recent = append(g.recent, advisories...)
	if over := len(g.recent) - g.cfg.AdvisoryHistory; over > 0 {
		g.recent = append([]Advisory(nil), g.recent[over:]...)
	}
}

// Recent returns a copy of the retained advisories, oldest first.
func (g *Governor) Recent() []Advisory {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Advisory(nil), g.recent...)
}

func (g *Governor) notify(adv Advisory) {
	g.mu.Lock()
	fns := make([]AdvisoryFunc, 0, len(g.observers))
	for _, fn := range g.observers {
		fns = append(fns, fn)
	}
	g.mu.Unlock()

	for _, fn := range fns {
		fn(adv)
	}
}
