package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_Deterministic(t *testing.T) {
	a := CompanyKey("Acme Inc", "acme.com", "comprehensive")
	b := CompanyKey("  ACME INC ", "ACME.COM", "COMPREHENSIVE")
	assert.Equal(t, a, b, "keys must ignore case and surrounding whitespace")
	assert.Contains(t, a, TagCompany+":")
}

func TestKey_DistinctInputs(t *testing.T) {
	assert.NotEqual(t,
		CompanyKey("Acme", "acme.com", "basic"),
		CompanyKey("Acme", "acme.com", "comprehensive"),
	)
	assert.NotEqual(t,
		SERPKey("acme", "us", "en", 1),
		SERPKey("acme", "us", "en", 2),
	)
}

func TestMemory_RoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	got, err := m.Get(ctx, "company:missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, m.Set(ctx, "company:k1", []byte(`{"name":"Acme"}`), time.Hour, TagCompany))
	got, err = m.Get(ctx, "company:k1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"name":"Acme"}`), got)

	s := m.Stats()
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.InDelta(t, 0.5, s.HitRate, 0.001)
}

func TestMemory_TTLExpiry(t *testing.T) {
	m := NewMemory()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	m.nowFunc = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, CrawlKey("https://acme.com"), []byte("page"), 12*time.Hour, TagCrawl))

	now = now.Add(11 * time.Hour)
	got, err := m.Get(ctx, CrawlKey("https://acme.com"))
	require.NoError(t, err)
	assert.NotNil(t, got, "entry inside TTL must be served")

	now = now.Add(2 * time.Hour)
	got, err = m.Get(ctx, CrawlKey("https://acme.com"))
	require.NoError(t, err)
	assert.Nil(t, got, "entry past TTL must be a miss")
}

func TestMemory_Invalidate(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "company:aaa", []byte("1"), time.Hour, TagCompany))
	require.NoError(t, m.Set(ctx, "company:bbb", []byte("2"), time.Hour, TagCompany))
	require.NoError(t, m.Set(ctx, "serp:ccc", []byte("3"), time.Hour, TagSERP))

	n, err := m.Invalidate(ctx, "company:")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, _ := m.Get(ctx, "serp:ccc")
	assert.NotNil(t, got)
}

func TestMemory_Trim(t *testing.T) {
	m := NewMemory()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	m.nowFunc = func() time.Time { return now }
	ctx := context.Background()

	for i, key := range []string{"company:old", "company:mid", "company:new"} {
		now = now.Add(time.Duration(i) * time.Minute)
		require.NoError(t, m.Set(ctx, key, []byte("v"), time.Hour, TagCompany))
	}

	removed := m.Trim(1)
	assert.Equal(t, 2, removed)

	got, _ := m.Get(ctx, "company:new")
	assert.NotNil(t, got, "newest entry must survive the trim")
}

func TestTTLs_For(t *testing.T) {
	ttls := DefaultTTLs()
	assert.Equal(t, 24*time.Hour, ttls.For(TagCompany))
	assert.Equal(t, 12*time.Hour, ttls.For(TagCrawl))
	assert.Equal(t, 6*time.Hour, ttls.For(TagSERP))
	assert.Equal(t, 6*time.Hour, ttls.For(TagBatch))
	assert.Equal(t, 24*time.Hour, ttls.For("unknown"))
}

func TestTiered_PromotesDurableHit(t *testing.T) {
	mem := NewMemory()
	durable := NewMemory()
	tc := NewTiered(mem, durable)
	ctx := context.Background()

	require.NoError(t, durable.Set(ctx, "company:k", []byte("v"), time.Hour, TagCompany))

	got, err := tc.Get(ctx, "company:k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	direct, _ := mem.Get(ctx, "company:k")
	assert.NotNil(t, direct, "durable hit must be promoted to memory")
}

func TestTiered_WriteThrough(t *testing.T) {
	mem := NewMemory()
	durable := NewMemory()
	tc := NewTiered(mem, durable)
	ctx := context.Background()

	require.NoError(t, tc.Set(ctx, "serp:k", []byte("v"), time.Hour, TagSERP))

	got, _ := durable.Get(ctx, "serp:k")
	assert.NotNil(t, got)
}

func TestTiered_NilDurable(t *testing.T) {
	tc := NewTiered(NewMemory(), nil)
	ctx := context.Background()

	require.NoError(t, tc.Set(ctx, "company:k", []byte("v"), time.Hour, TagCompany))
	got, err := tc.Get(ctx, "company:k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}
