// Package pipeline orchestrates a single extraction: cache lookup,
// discovery, crawl, aggregation, and recovery.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/webintel/internal/aggregate"
	"github.com/sells-group/webintel/internal/cache"
	"github.com/sells-group/webintel/internal/crawl"
	"github.com/sells-group/webintel/internal/discovery"
	"github.com/sells-group/webintel/internal/model"
	"github.com/sells-group/webintel/internal/resilience"
)

// Error kinds surfaced in responses beyond the resilience classes.
const (
	KindValidation      = "validation"
	KindSearchError     = "search_error"
	KindCircuitOpen     = "circuit_open"
	KindCompanyNotFound = "company_not_found"
	KindUnexpected      = "unexpected"
)

const cacheHitWarning = "Result served from cache"

// Pipeline runs the extract operation. Safe for concurrent use; all
// mutable state lives in the shared stages and cache.
type Pipeline struct {
	discovery *discovery.Stage
	crawl     *crawl.Stage
	agg       *aggregate.Aggregator
	cache     cache.Cache
	ttls      cache.TTLs
	retry     resilience.RetryConfig

	// recoveryPasses bounds how many times the recovery plan is applied
	// after the primary attempt fails.
	recoveryPasses int

	nowFunc func() time.Time
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithCache enables the result cache. A nil cache disables caching.
func WithCache(c cache.Cache, ttls cache.TTLs) Option {
	return func(p *Pipeline) {
		p.cache = c
		p.ttls = ttls
	}
}

// WithRecoveryPasses overrides the recovery bound.
func WithRecoveryPasses(n int) Option {
	return func(p *Pipeline) {
		if n >= 0 {
			p.recoveryPasses = n
		}
	}
}

// New wires the pipeline stages.
func New(disc *discovery.Stage, crawler *crawl.Stage, agg *aggregate.Aggregator, retry resilience.RetryConfig, opts ...Option) *Pipeline {
	p := &Pipeline{
		discovery:      disc,
		crawl:          crawler,
		agg:            agg,
		ttls:           cache.DefaultTTLs(),
		retry:          retry,
		recoveryPasses: 1,
		nowFunc:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Extract runs one request end to end. The returned error is non-nil only
// for validation failures; every other failure is reported inside the
// response.
func (p *Pipeline) Extract(ctx context.Context, req model.Request) (model.Response, error) {
	started := p.nowFunc()

	if err := req.Validate(); err != nil {
		resp := model.Response{
			Errors: []model.ExtractionError{{Kind: KindValidation, Message: err.Error()}},
		}
		return resp, err
	}

	if resp, ok := p.cachedResponse(ctx, req); ok {
		resp.ProcessingTime = p.nowFunc().Sub(started)
		return resp, nil
	}

	resp := p.run(ctx, req)

	if resp.Success && p.cache != nil {
		p.storeRecord(ctx, req, resp.Record, &resp)
	}

	resp.ProcessingTime = p.nowFunc().Sub(started)
	return resp, nil
}

// run executes the stages, applying the recovery plan up to
// recoveryPasses times when the primary attempt produces no record.
func (p *Pipeline) run(ctx context.Context, req model.Request) model.Response {
	resp := model.Response{Metadata: model.ExtractionMetadata{Mode: req.Mode}}

	disc, crawler := p.discovery, p.crawl
	current := req

	for pass := 0; ; pass++ {
		record := p.attempt(ctx, current, disc, crawler, &resp)
		if record != nil {
			resp.Success = true
			resp.Record = record
			return resp
		}
		if pass >= p.recoveryPasses || ctx.Err() != nil {
			break
		}

		rec := resilience.Recover(current, p.recoveryClass(&resp))
		if rec == nil {
			break
		}
		current = rec.Request
		if len(rec.NameVariants) > 0 {
			current.CompanyName = rec.NameVariants[0]
		}
		if rec.DoubleRetryBase {
			cfg := p.retry
			cfg.BaseDelay *= 2
			disc = disc.WithRetry(cfg)
			crawler = crawler.WithRetry(cfg)
		}
		if rec.HalveConcurrency {
			half := crawler.Concurrency() / 2
			if half < 1 {
				half = 1
			}
			crawler = crawler.WithLimit(half)
		}
		resp.Warnings = append(resp.Warnings,
			fmt.Sprintf("recovery pass %d: retrying as %q in %s mode", pass+1, current.CompanyName, current.Mode))
	}

	resp.Success = false
	resp.Errors = append(resp.Errors, model.ExtractionError{
		Kind: KindCompanyNotFound,
		Message: fmt.Sprintf("no usable sources for %q (attempted %d pages, crawled %d)",
			req.CompanyName, resp.Metadata.PagesAttempted, resp.Metadata.PagesCrawled),
	})
	return resp
}

// attempt runs discovery, crawl, and aggregation once, accumulating
// counters and captured errors into resp.
func (p *Pipeline) attempt(ctx context.Context, req model.Request, disc *discovery.Stage, crawler *crawl.Stage, resp *model.Response) *model.CompanyRecord {
	discRes, err := disc.Discover(ctx, req)
	if discRes != nil {
		resp.Metadata.QueriesUsed = appendUniqueStrings(resp.Metadata.QueriesUsed, discRes.QueriesUsed)
		for _, qerr := range discRes.Errors {
			resp.Errors = append(resp.Errors, searchError(qerr))
		}
	}
	if err != nil {
		resp.Errors = append(resp.Errors, model.ExtractionError{
			Kind:    KindUnexpected,
			Message: err.Error(),
		})
		return nil
	}
	if len(discRes.Candidates) == 0 {
		return nil
	}

	crawlRes := crawler.Crawl(ctx, req, discRes.Candidates)
	resp.Metadata.PagesAttempted += crawlRes.Attempted
	resp.Metadata.PagesCrawled += crawlRes.Succeeded
	resp.Errors = append(resp.Errors, crawlRes.Errors...)
	resp.Warnings = append(resp.Warnings, crawlRes.Warnings...)

	if len(crawlRes.Pages) == 0 {
		return nil
	}

	aggRes := p.agg.Aggregate(crawlRes.Pages, req.CompanyName)
	if aggRes.Record == nil {
		return nil
	}
	resp.Metadata.Sources = aggRes.Sources
	resp.Metadata.SourcesFound = len(aggRes.Sources)
	return aggRes.Record
}

// recoveryClass picks the failure class driving the recovery plan from
// the errors captured so far.
func (p *Pipeline) recoveryClass(resp *model.Response) resilience.Class {
	var timeouts, rateLimits int
	for _, e := range resp.Errors {
		switch e.Kind {
		case string(resilience.ClassTimeout):
			timeouts++
		case string(resilience.ClassRateLimit):
			rateLimits++
		}
	}
	switch {
	case timeouts > 0 && timeouts >= rateLimits:
		return resilience.ClassTimeout
	case rateLimits > 0:
		return resilience.ClassRateLimit
	case resp.Metadata.PagesCrawled > 0:
		// Pages were fetched but nothing parsed confidently.
		return resilience.ClassDataQuality
	default:
		return resilience.ClassNotFound
	}
}

// cachedResponse serves a prior record when the cache holds one.
func (p *Pipeline) cachedResponse(ctx context.Context, req model.Request) (model.Response, bool) {
	if p.cache == nil {
		return model.Response{}, false
	}

	key := cache.CompanyKey(req.CompanyName, req.Domain, string(req.Mode))
	raw, err := p.cache.Get(ctx, key)
	if err != nil {
		zap.L().Warn("pipeline: cache lookup failed", zap.Error(err))
		return model.Response{}, false
	}
	if raw == nil {
		return model.Response{}, false
	}

	var record model.CompanyRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		zap.L().Warn("pipeline: discarding corrupt cache entry", zap.String("key", key), zap.Error(err))
		_ = p.cache.Delete(ctx, key)
		return model.Response{}, false
	}

	return model.Response{
		Success: true,
		Record:  &record,
		Metadata: model.ExtractionMetadata{
			Mode:    req.Mode,
			Sources: []string{"cache"},
		},
		Warnings: []string{cacheHitWarning},
	}, true
}

// storeRecord writes the merged record back to the cache. Failures are
// downgraded to warnings.
func (p *Pipeline) storeRecord(ctx context.Context, req model.Request, record *model.CompanyRecord, resp *model.Response) {
	raw, err := json.Marshal(record)
	if err != nil {
		return
	}
	key := cache.CompanyKey(req.CompanyName, req.Domain, string(req.Mode))
	if err := p.cache.Set(ctx, key, raw, p.ttls.For(cache.TagCompany), cache.TagCompany); err != nil {
		resp.Warnings = append(resp.Warnings, "failed to cache result: "+err.Error())
	}
}

func searchError(err error) model.ExtractionError {
	kind := KindSearchError
	if errors.Is(err, resilience.ErrCircuitOpen) {
		kind = KindCircuitOpen
	} else if class := resilience.Classify(err); class == resilience.ClassTimeout || class == resilience.ClassRateLimit {
		kind = string(class)
	}
	return model.ExtractionError{Kind: kind, Message: err.Error()}
}

func appendUniqueStrings(dst, src []string) []string {
	seen := make(map[string]bool, len(dst))
	for _, s := range dst {
		seen[s] = true
	}
	for _, s := range src {
		if !seen[s] {
			seen[s] = true
			dst = append(dst, s)
		}
	}
	return dst
}
