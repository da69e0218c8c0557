// Package cache provides the fingerprinted, TTL-tiered key/value store
// shared by the extraction pipeline. Keys are domain-tagged md5
// fingerprints of normalized inputs; values are JSON-serialized.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Key tags.
const (
	TagCompany = "company"
	TagSERP    = "serp"
	TagCrawl   = "crawl"
	TagBatch   = "batch"
)

// Default TTLs per tag.
const (
	DefaultCompanyTTL = 24 * time.Hour
	DefaultCrawlTTL   = 12 * time.Hour
	DefaultSERPTTL    = 6 * time.Hour
	DefaultBatchTTL   = 6 * time.Hour
)

// ErrUnavailable marks a backend that cannot currently serve requests.
// Callers treat it as a miss.
var ErrUnavailable = eris.New("cache: backend unavailable")

// Entry is a stored value with its lifecycle metadata.
type Entry struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	Tag       string    `json:"tag"`
	CachedAt  time.Time `json:"_cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry is past its TTL at the given instant.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Stats is the hit/miss view exposed by every backend.
type Stats struct {
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	Sets     int64   `json:"sets"`
	Degraded int64   `json:"degraded"`
	Entries  int     `json:"entries"`
	HitRate  float64 `json:"hit_rate"`
}

func (s *Stats) computeHitRate() {
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
}

// Cache is the narrow store contract consumed by the pipeline. Get returns
// (nil, nil) on miss. Backends may be unavailable; callers must treat any
// error as a miss and never fail a request on cache errors.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tag string) error
	Delete(ctx context.Context, key string) error
	// Invalidate deletes all keys containing the pattern substring and
	// returns the number deleted.
	Invalidate(ctx context.Context, pattern string) (int, error)
	Stats() Stats
}

// Key builds a tagged fingerprint: "{tag}:{md5(lower/trim parts joined by |)}".
func Key(tag string, parts ...string) string {
	normalized := make([]string, len(parts))
	for i, p := range parts {
		normalized[i] = strings.ToLower(strings.TrimSpace(p))
	}
	sum := md5.Sum([]byte(strings.Join(normalized, "|")))
	return tag + ":" + hex.EncodeToString(sum[:])
}

// CompanyKey fingerprints a company lookup: name, domain (may be empty),
// and mode.
func CompanyKey(name, domain, mode string) string {
	return Key(TagCompany, name, domain, mode)
}

// SERPKey fingerprints one search call.
func SERPKey(query, country, language string, page int) string {
	return Key(TagSERP, query, country, language, pageString(page))
}

// CrawlKey fingerprints a fetched URL.
func CrawlKey(url string) string {
	return Key(TagCrawl, url)
}

// BatchKey fingerprints a batch by id.
func BatchKey(batchID string) string {
	return Key(TagBatch, batchID)
}

func pageString(page int) string {
	if page <= 0 {
		page = 1
	}
	digits := [8]byte{}
	i := len(digits)
	for page > 0 {
		i--
		digits[i] = byte('0' + page%10)
		page /= 10
	}
	return string(digits[i:])
}

// TTLs carries per-tag TTL configuration.
type TTLs struct {
	Company time.Duration
	Crawl   time.Duration
	SERP    time.Duration
	Batch   time.Duration
}

// DefaultTTLs returns the default per-tag TTLs.
func DefaultTTLs() TTLs {
	return TTLs{
		Company: DefaultCompanyTTL,
		Crawl:   DefaultCrawlTTL,
		SERP:    DefaultSERPTTL,
		Batch:   DefaultBatchTTL,
	}
}

// For returns the TTL for a tag, falling back to the company TTL.
func (t TTLs) For(tag string) time.Duration {
	switch tag {
	case TagCrawl:
		return t.Crawl
	case TagSERP:
		return t.SERP
	case TagBatch:
		return t.Batch
	default:
		return t.Company
	}
}
