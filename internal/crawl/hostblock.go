package crawl

import (
	"net/http"
	"sort"
	"sync"
	"time"
)

// Default block durations per upstream status. Rate-limit style
// responses block the host for a day; auth walls for an hour.
const (
	defaultRateLimitBlock = 24 * time.Hour
	defaultAuthBlock      = time.Hour
)

// HostBlocks tracks hosts that responded with blocking statuses. Marks
// are process-local and expire on their own.
type HostBlocks struct {
	mu     sync.Mutex
	until  map[string]time.Time
	status map[string]int

	rateLimitBlock time.Duration
	authBlock      time.Duration

	nowFunc func() time.Time
}

// NewHostBlocks creates an empty block registry with default durations.
func NewHostBlocks() *HostBlocks {
	return &HostBlocks{
		until:          make(map[string]time.Time),
		status:         make(map[string]int),
		rateLimitBlock: defaultRateLimitBlock,
		authBlock:      defaultAuthBlock,
		nowFunc:        time.Now,
	}
}

// SetDurations overrides the block durations. Non-positive values keep
// the current ones.
func (h *HostBlocks) SetDurations(rateLimit, auth time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rateLimit > 0 {
		h.rateLimitBlock = rateLimit
	}
	if auth > 0 {
		h.authBlock = auth
	}
}

// blockDuration maps an HTTP status to a block duration; zero means the
// status does not block.
func (h *HostBlocks) blockDuration(status int) time.Duration {
	switch status {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return h.rateLimitBlock
	case http.StatusUnauthorized, http.StatusForbidden:
		return h.authBlock
	default:
		return 0
	}
}

// Mark records a blocking status for host. Non-blocking statuses are
// ignored.
func (h *HostBlocks) Mark(host string, status int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d := h.blockDuration(status)
	if d == 0 {
		return
	}
	h.until[host] = h.nowFunc().Add(d)
	h.status[host] = status
}

// Blocked reports whether host is currently suppressed and, if so, the
// status that caused it.
func (h *HostBlocks) Blocked(host string) (bool, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	until, ok := h.until[host]
	if !ok {
		return false, 0
	}
	if h.nowFunc().After(until) {
		delete(h.until, host)
		delete(h.status, host)
		return false, 0
	}
	return true, h.status[host]
}

// Len returns the number of active blocks.
func (h *HostBlocks) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.until)
}

// Hosts lists the currently blocked hosts, sorted. Expired marks are
// pruned on the way out.
func (h *HostBlocks) Hosts() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.nowFunc()
	hosts := make([]string, 0, len(h.until))
	for host, until := range h.until {
		if now.After(until) {
			delete(h.until, host)
			delete(h.status, host)
			continue
		}
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}
