package crawl

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostDelays enforces a minimum spacing between requests to the same
// host, independent of the global crawl token bucket.
type HostDelays struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	minDelay time.Duration
}

// NewHostDelays creates a per-host spacer with the given minimum delay.
func NewHostDelays(minDelay time.Duration) *HostDelays {
	return &HostDelays{
		limiters: make(map[string]*rate.Limiter),
		minDelay: minDelay,
	}
}

// Wait blocks until the host's spacing window opens or ctx is done.
func (h *HostDelays) Wait(ctx context.Context, host string) error {
	h.mu.Lock()
	lim, ok := h.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Every(h.minDelay), 1)
		h.limiters[host] = lim
	}
	h.mu.Unlock()
	return lim.Wait(ctx)
}
