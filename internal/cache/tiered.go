package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Tiered layers a fast in-memory cache in front of a durable backend.
// Reads check memory first and promote durable hits; writes go through to
// both tiers. A nil durable tier degrades to memory-only.
type Tiered struct {
	memory  *Memory
	durable Cache
}

// NewTiered builds a two-tier cache. durable may be nil.
func NewTiered(memory *Memory, durable Cache) *Tiered {
	return &Tiered{memory: memory, durable: durable}
}

// Memory exposes the in-process tier for governor trim hooks.
func (t *Tiered) Memory() *Memory {
	return t.memory
}

func (t *Tiered) Get(ctx context.Context, key string) ([]byte, error) {
	if value, err := t.memory.Get(ctx, key); err == nil && value != nil {
		return value, nil
	}
	if t.durable == nil {
		return nil, nil
	}
	value, err := t.durable.Get(ctx, key)
	if err != nil {
		zap.L().Debug("cache: durable tier error treated as miss", zap.Error(err))
		return nil, nil
	}
	if value == nil {
		return nil, nil
	}
	// Promote with a short TTL; the durable tier owns the real expiry.
	_ = t.memory.Set(ctx, key, value, promoteTTL, tagOf(key))
	return value, nil
}

func (t *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tag string) error {
	_ = t.memory.Set(ctx, key, value, ttl, tag)
	if t.durable == nil {
		return nil
	}
	if err := t.durable.Set(ctx, key, value, ttl, tag); err != nil {
		zap.L().Debug("cache: durable set failed", zap.Error(err))
	}
	return nil
}

func (t *Tiered) Delete(ctx context.Context, key string) error {
	_ = t.memory.Delete(ctx, key)
	if t.durable != nil {
		if err := t.durable.Delete(ctx, key); err != nil {
			zap.L().Debug("cache: durable delete failed", zap.Error(err))
		}
	}
	return nil
}

func (t *Tiered) Invalidate(ctx context.Context, pattern string) (int, error) {
	n, _ := t.memory.Invalidate(ctx, pattern)
	if t.durable != nil {
		dn, err := t.durable.Invalidate(ctx, pattern)
		if err != nil {
			zap.L().Debug("cache: durable invalidate failed", zap.Error(err))
		} else if dn > n {
			n = dn
		}
	}
	return n, nil
}

// Stats merges both tiers: hit/miss counters sum, entry count comes from
// the durable tier when present.
func (t *Tiered) Stats() Stats {
	s := t.memory.Stats()
	if t.durable != nil {
		d := t.durable.Stats()
		s.Hits += d.Hits
		s.Misses += d.Misses
		s.Sets += d.Sets
		s.Degraded += d.Degraded
		if d.Entries > 0 {
			s.Entries = d.Entries
		}
	}
	s.HitRate = 0
	s.computeHitRate()
	return s
}

const promoteTTL = 5 * time.Minute

func tagOf(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i]
		}
	}
	return TagCompany
}
