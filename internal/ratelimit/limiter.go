// Package ratelimit provides named token buckets for the three operation
// classes: search, crawl, and extraction.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Operation classes.
const (
	ClassSearch     = "search"
	ClassCrawl      = "crawl"
	ClassExtraction = "extraction"
)

// ErrTokenWait is returned when tokens could not be acquired within the
// allowed wait.
var ErrTokenWait = eris.New("ratelimit: token wait exceeded")

// BucketConfig describes one token bucket. RefillRate tokens are added per
// RefillInterval, up to Capacity.
type BucketConfig struct {
	Capacity       int
	RefillRate     int
	RefillInterval time.Duration
}

// DefaultBuckets returns the default bucket set.
func DefaultBuckets() map[string]BucketConfig {
	return map[string]BucketConfig{
		ClassSearch:     {Capacity: 10, RefillRate: 5, RefillInterval: time.Second},
		ClassCrawl:      {Capacity: 20, RefillRate: 10, RefillInterval: time.Second},
		ClassExtraction: {Capacity: 5, RefillRate: 2, RefillInterval: time.Second},
	}
}

type bucket struct {
	limiter *rate.Limiter
	cfg     BucketConfig

	mu       sync.Mutex
	acquired int64
	denied   int64
}

// Limiters is the process-wide registry of token buckets.
type Limiters struct {
	buckets map[string]*bucket
}

// New builds limiters from the given bucket configs. Zero or negative
// values fall back to the defaults for that class.
func New(configs map[string]BucketConfig) *Limiters {
	l := &Limiters{buckets: make(map[string]*bucket)}
	defaults := DefaultBuckets()
	for class, def := range defaults {
		cfg := def
		if user, ok := configs[class]; ok {
			if user.Capacity > 0 {
				cfg.Capacity = user.Capacity
			}
			if user.RefillRate > 0 {
				cfg.RefillRate = user.RefillRate
			}
			if user.RefillInterval > 0 {
				cfg.RefillInterval = user.RefillInterval
			}
		}
		perToken := cfg.RefillInterval / time.Duration(cfg.RefillRate)
		l.buckets[class] = &bucket{
			limiter: rate.NewLimiter(rate.Every(perToken), cfg.Capacity),
			cfg:     cfg,
		}
	}
	return l
}

func (l *Limiters) get(class string) (*bucket, error) {
	b, ok := l.buckets[class]
	if !ok {
		return nil, eris.Errorf("ratelimit: unknown class %q", class)
	}
	return b, nil
}

// Acquire takes n tokens without waiting. Returns false when the bucket
// has insufficient tokens.
func (l *Limiters) Acquire(class string, n int) (bool, error) {
	b, err := l.get(class)
	if err != nil {
		return false, err
	}
	ok := b.limiter.AllowN(time.Now(), n)
	b.mu.Lock()
	if ok {
		b.acquired += int64(n)
	} else {
		b.denied++
	}
	b.mu.Unlock()
	return ok, nil
}

// WaitFor blocks until n tokens are available or maxWait elapses.
func (l *Limiters) WaitFor(ctx context.Context, class string, n int, maxWait time.Duration) error {
	b, err := l.get(class)
	if err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()
	if err := b.limiter.WaitN(waitCtx, n); err != nil {
		b.mu.Lock()
		b.denied++
		b.mu.Unlock()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTokenWait
	}
	b.mu.Lock()
	b.acquired += int64(n)
	b.mu.Unlock()
	return nil
}

// BucketStats is a read-only view of one bucket.
type BucketStats struct {
	Capacity       int           `json:"capacity"`
	RefillRate     int           `json:"refill_rate"`
	RefillInterval time.Duration `json:"refill_interval"`
	TokensLeft     float64       `json:"tokens_left"`
	Acquired       int64         `json:"acquired"`
	Denied         int64         `json:"denied"`
}

// Stats returns a snapshot per class.
func (l *Limiters) Stats() map[string]BucketStats {
	out := make(map[string]BucketStats, len(l.buckets))
	for class, b := range l.buckets {
		b.mu.Lock()
		out[class] = BucketStats{
			Capacity:       b.cfg.Capacity,
			RefillRate:     b.cfg.RefillRate,
			RefillInterval: b.cfg.RefillInterval,
			TokensLeft:     b.limiter.TokensAt(time.Now()),
			Acquired:       b.acquired,
			Denied:         b.denied,
		}
		b.mu.Unlock()
	}
	return out
}
