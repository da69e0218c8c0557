package governor

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/webintel/internal/cache"
)

type fakeCacheView struct {
	stats cache.Stats
}

func (f *fakeCacheView) Stats() cache.Stats { return f.stats }

type fakeTrimmer struct {
	mu     sync.Mutex
	keep   int
	called int
}

func (f *fakeTrimmer) Trim(keep int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keep = keep
	f.called++
	return 7
}

type fakePool struct {
	mu       sync.Mutex
	stats    PoolStats
	recycled int
}

func (f *fakePool) PoolStats() PoolStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakePool) Recycle() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recycled++
	return 2
}

type fakeQueue struct{ depth int }

func (f *fakeQueue) QueueDepth() int { return f.depth }

// withHeap fixes the sampled heap size so MemPercent is deterministic.
func withHeap(g *Governor, allocMB float64) {
	g.readMemStats = func(m *runtime.MemStats) {
		m.HeapAlloc = uint64(allocMB * (1 << 20))
		m.HeapSys = uint64(allocMB * 1.5 * (1 << 20))
	}
}

func TestGovernor_SampleGathersViews(t *testing.T) {
	g := New(Config{MemLimitMB: 100, GoroutineCap: 200},
		WithCache(&fakeCacheView{stats: cache.Stats{Entries: 42, HitRate: 0.5, Degraded: 3}}),
		WithPool(&fakePool{stats: PoolStats{Total: 8, Idle: 2, Max: 10}}),
		WithQueue(&fakeQueue{depth: 5}),
	)
	withHeap(g, 50)
	g.numGoroutine = func() int { return 100 }

	sample := g.Sample()
	assert.InDelta(t, 50.0, sample.MemPercent, 1e-9)
	assert.InDelta(t, 50.0, sample.CPUPercent, 1e-9)
	assert.Equal(t, 42, sample.CacheEntries)
	assert.Equal(t, int64(3), sample.CacheDegraded)
	assert.InDelta(t, 80.0, sample.ConnPercent, 1e-9)
	assert.Equal(t, 5, sample.QueueDepth)
}

func TestGovernor_EvaluateThresholds(t *testing.T) {
	pool := &fakePool{stats: PoolStats{Total: 10, Idle: 0, Max: 10}}
	g := New(Config{MemLimitMB: 100, GoroutineCap: 100}, WithPool(pool))

	sample := Sample{MemPercent: 85, CPUPercent: 90, ConnPercent: 100}
	advisories := g.Evaluate(sample)
	require.Len(t, advisories, 3)

	bySev := map[Resource]Severity{}
	for _, adv := range advisories {
		bySev[adv.Resource] = adv.Severity
	}
	assert.Equal(t, SeverityWarning, bySev[ResourceMemory], "85%% is above warn, below crit")
	assert.Equal(t, SeverityCritical, bySev[ResourceCPU])
	assert.Equal(t, SeverityCritical, bySev[ResourceConnections])

	assert.Empty(t, g.Evaluate(Sample{MemPercent: 10, CPUPercent: 10}))
}

func TestGovernor_CriticalMemoryTrimsCache(t *testing.T) {
	trimmer := &fakeTrimmer{}
	g := New(Config{MemLimitMB: 100, CacheTrimKeep: 250}, WithTrimmer(trimmer))
	withHeap(g, 95)
	g.numGoroutine = func() int { return 1 }

	g.tick(zap.NewNop())

	trimmer.mu.Lock()
	defer trimmer.mu.Unlock()
	assert.Equal(t, 1, trimmer.called)
	assert.Equal(t, 250, trimmer.keep)
}

func TestGovernor_CriticalConnectionsRecyclesPool(t *testing.T) {
	pool := &fakePool{stats: PoolStats{Total: 10, Idle: 0, Max: 10}}
	g := New(Config{MemLimitMB: 1 << 20, GoroutineCap: 1 << 20}, WithPool(pool))
	withHeap(g, 1)
	g.numGoroutine = func() int { return 1 }

	g.tick(zap.NewNop())

	pool.mu.Lock()
	defer pool.mu.Unlock()
	assert.Equal(t, 1, pool.recycled)
}

func TestGovernor_WarningDoesNotMitigate(t *testing.T) {
	trimmer := &fakeTrimmer{}
	g := New(Config{MemLimitMB: 100}, WithTrimmer(trimmer))
	withHeap(g, 85)
	g.numGoroutine = func() int { return 1 }

	g.tick(zap.NewNop())

	trimmer.mu.Lock()
	defer trimmer.mu.Unlock()
	assert.Equal(t, 0, trimmer.called)
}

func TestGovernor_ObserversAndHistory(t *testing.T) {
	g := New(Config{MemLimitMB: 100, AdvisoryHistory: 2})
	withHeap(g, 95)
	g.numGoroutine = func() int { return 1 }

	var mu sync.Mutex
	var seen []Advisory
	g.Subscribe("tester", func(adv Advisory) {
		mu.Lock()
		seen = append(seen, adv)
		mu.Unlock()
	})

	g.tick(zap.NewNop())
	g.tick(zap.NewNop())
	g.tick(zap.NewNop())

	mu.Lock()
	assert.Len(t, seen, 3)
	assert.Equal(t, ResourceMemory, seen[0].Resource)
	mu.Unlock()

	assert.Len(t, g.Recent(), 2, "history is capped")

	g.Unsubscribe("tester")
	g.tick(zap.NewNop())
	mu.Lock()
	assert.Len(t, seen, 3, "unsubscribed observer receives nothing")
	mu.Unlock()
}

func TestGovernor_Health(t *testing.T) {
	g := New(Config{MemLimitMB: 100, GoroutineCap: 1000})
	withHeap(g, 10)
	g.numGoroutine = func() int { return 10 }

	h := g.Health()
	assert.True(t, h.WithinLimits)
	assert.Empty(t, h.Warnings)

	withHeap(g, 95)
	h = g.Health()
	assert.False(t, h.WithinLimits)
	require.NotEmpty(t, h.Warnings)
	assert.Contains(t, h.Warnings[0], "memory")
	assert.Equal(t, 0, h.RecentAdvisories, "health never records")
}

func TestGovernor_RunStopsOnCancel(t *testing.T) {
	g := New(Config{SampleInterval: 10 * time.Millisecond, MemLimitMB: 1 << 20})
	withHeap(g, 1)

	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		g.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
