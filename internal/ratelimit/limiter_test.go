package ratelimit

import (
	"context"
	"testing"
	"time"
)

func newTestLimiters(capacity, refillRate int, interval time.Duration) *Limiters {
	return New(map[string]BucketConfig{
		ClassSearch: {Capacity: capacity, RefillRate: refillRate, RefillInterval: interval},
	})
}

func TestAcquire_WithinCapacity(t *testing.T) {
	l := newTestLimiters(3, 1, time.Hour)

	for i := 0; i < 3; i++ {
		ok, err := l.Acquire(ClassSearch, 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ok {
			t.Fatalf("acquire %d should succeed within capacity", i+1)
		}
	}

	ok, err := l.Acquire(ClassSearch, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("acquire beyond capacity should fail")
	}
}

func TestAcquire_UnknownClass(t *testing.T) {
	l := New(nil)
	if _, err := l.Acquire("bulk", 1); err == nil {
		t.Error("expected error for unknown class")
	}
}

func TestWaitFor_TimesOut(t *testing.T) {
	l := newTestLimiters(1, 1, time.Hour)

	ok, _ := l.Acquire(ClassSearch, 1)
	if !ok {
		t.Fatal("first acquire should succeed")
	}

	start := time.Now()
	err := l.WaitFor(context.Background(), ClassSearch, 1, 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected wait timeout")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("wait took too long: %v", elapsed)
	}
}

func TestWaitFor_SucceedsAfterRefill(t *testing.T) {
	l := newTestLimiters(1, 1, 20*time.Millisecond)

	ok, _ := l.Acquire(ClassSearch, 1)
	if !ok {
		t.Fatal("first acquire should succeed")
	}

	if err := l.WaitFor(context.Background(), ClassSearch, 1, time.Second); err != nil {
		t.Fatalf("wait should succeed after refill: %v", err)
	}
}

func TestStats(t *testing.T) {
	l := newTestLimiters(5, 2, time.Second)
	_, _ = l.Acquire(ClassSearch, 2)

	stats := l.Stats()
	s, ok := stats[ClassSearch]
	if !ok {
		t.Fatal("missing search bucket stats")
	}
	if s.Capacity != 5 {
		t.Errorf("capacity = %d, want 5", s.Capacity)
	}
	if s.Acquired != 2 {
		t.Errorf("acquired = %d, want 2", s.Acquired)
	}
	if _, ok := stats[ClassCrawl]; !ok {
		t.Error("defaults should include crawl bucket")
	}
}

// Over any refill window, successful acquires stay within capacity plus one
// refill's worth of tokens.
func TestCapacityBound(t *testing.T) {
	const capacity, refillRate = 4, 2
	l := newTestLimiters(capacity, refillRate, 100*time.Millisecond)

	granted := 0
	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		ok, _ := l.Acquire(ClassSearch, 1)
		if ok {
			granted++
		}
		time.Sleep(time.Millisecond)
	}

	if granted > capacity+refillRate {
		t.Errorf("granted %d tokens in one window, want <= %d", granted, capacity+refillRate)
	}
}
