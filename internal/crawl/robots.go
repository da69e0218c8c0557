package crawl

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// Policy decides whether a URL may be fetched. Allowed must be safe for
// concurrent use.
type Policy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// AllowAll is the policy used when robots checking is disabled.
type AllowAll struct{}

func (AllowAll) Allowed(context.Context, string) bool { return true }

const (
	robotsTTL     = time.Hour
	robotsTimeout = 10 * time.Second
)

type robotsEntry struct {
	data      *robotstxt.RobotsData
	fetchedAt time.Time
}

// RobotsCache fetches and caches robots.txt per host. Fetch failures fall
// back to allow, matching the lenient semantics of robotstxt for 4xx.
type RobotsCache struct {
	http      *http.Client
	userAgent string

	mu      sync.Mutex
	entries map[string]robotsEntry

	nowFunc func() time.Time
}

// NewRobotsCache builds a robots policy identifying as userAgent.
func NewRobotsCache(userAgent string) *RobotsCache {
	return &RobotsCache{
		http:      &http.Client{Timeout: robotsTimeout},
		userAgent: userAgent,
		entries:   make(map[string]robotsEntry),
		nowFunc:   time.Now,
	}
}

func (r *RobotsCache) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}

	data := r.dataFor(ctx, u)
	if data == nil {
		return true
	}
	return data.TestAgent(u.Path, r.userAgent)
}

func (r *RobotsCache) dataFor(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	host := u.Scheme + "://" + u.Host

	r.mu.Lock()
	entry, ok := r.entries[host]
	r.mu.Unlock()
	if ok && r.nowFunc().Sub(entry.fetchedAt) < robotsTTL {
		return entry.data
	}

	data := r.fetch(ctx, host)
	r.mu.Lock()
	r.entries[host] = robotsEntry{data: data, fetchedAt: r.nowFunc()}
	r.mu.Unlock()
	return data
}

// fetch retrieves host/robots.txt. A nil return means no usable policy;
// callers treat that as allow.
func (r *RobotsCache) fetch(ctx context.Context, host string) *robotstxt.RobotsData {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, host+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.http.Do(req)
	if err != nil {
		zap.L().Debug("crawl: robots fetch failed", zap.String("host", host), zap.Error(err))
		return nil
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return nil
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil
	}
	return data
}
