package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process cache backend guarded by a single mutex. Expiry
// is lazy: expired entries are dropped on read and by Trim.
type Memory struct {
	mu      sync.Mutex
	entries map[string]Entry
	hits    int64
	misses  int64
	sets    int64

	nowFunc func() time.Time
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]Entry),
		nowFunc: time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		m.misses++
		return nil, nil
	}
	if e.Expired(m.nowFunc()) {
		delete(m.entries, key)
		m.misses++
		return nil, nil
	}
	m.hits++
	return e.Value, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration, tag string) error {
	now := m.nowFunc()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = Entry{
		Key:       key,
		Value:     value,
		Tag:       tag,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	m.sets++
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *Memory) Invalidate(_ context.Context, pattern string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for key := range m.entries {
		if strings.Contains(key, pattern) {
			delete(m.entries, key)
			deleted++
		}
	}
	return deleted, nil
}

func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{
		Hits:    m.hits,
		Misses:  m.misses,
		Sets:    m.sets,
		Entries: len(m.entries),
	}
	s.computeHitRate()
	return s
}

// Trim drops expired entries, then evicts oldest entries until at most
// keep remain. Used by the resource governor as a mitigation hook.
func (m *Memory) Trim(keep int) int {
	now := m.nowFunc()
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, e := range m.entries {
		if e.Expired(now) {
			delete(m.entries, key)
			removed++
		}
	}

	if keep >= 0 && len(m.entries) > keep {
		type aged struct {
			key      string
			cachedAt time.Time
		}
		all := make([]aged, 0, len(m.entries))
		for key, e := range m.entries {
			all = append(all, aged{key, e.CachedAt})
		}
		sort.Slice(all, func(i, j int) bool { return all[i].cachedAt.Before(all[j].cachedAt) })
		excess := len(all) - keep
		for _, a := range all[:excess] {
			delete(m.entries, a.key)
			removed++
		}
	}
	return removed
}
