// Package discovery turns a company request into a ranked list of
// candidate URLs via the search provider.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/webintel/internal/cache"
	"github.com/sells-group/webintel/internal/model"
	"github.com/sells-group/webintel/internal/ratelimit"
	"github.com/sells-group/webintel/internal/resilience"
	"github.com/sells-group/webintel/pkg/serp"
)

const (
	// organicPerQuery is how many top organic results are scored per query.
	organicPerQuery = 5

	// interQueryPause is observed between consecutive provider calls.
	interQueryPause = 500 * time.Millisecond

	// tokenMaxWait bounds the wait for a search token.
	tokenMaxWait = 10 * time.Second
)

// Result carries the ranked candidates plus the queries that produced
// them. Errors holds per-query failures; the stage keeps going after any
// single query fails.
type Result struct {
	Candidates  []model.CandidateURL
	QueriesUsed []string
	Errors      []error
}

// Stage runs the discovery phase. Provider calls are gated by the search
// token bucket, the search circuit breaker, and classified retry.
type Stage struct {
	search   serp.Client
	limiters *ratelimit.Limiters
	breaker  *resilience.Breaker
	retry    resilience.RetryConfig

	cache    cache.Cache
	cacheTTL time.Duration

	pause func(ctx context.Context, d time.Duration) error
}

// StageOption configures the discovery stage.
type StageOption func(*Stage)

// WithCache enables per-query result caching. A nil cache disables it.
func WithCache(c cache.Cache, ttl time.Duration) StageOption {
	return func(s *Stage) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

// NewStage wires the discovery stage.
func NewStage(search serp.Client, limiters *ratelimit.Limiters, breakers *resilience.Breakers, retry resilience.RetryConfig, opts ...StageOption) *Stage {
	s := &Stage{
		search:   search,
		limiters: limiters,
		breaker:  breakers.Get("search"),
		retry:    retry,
		pause:    sleepCtx,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithRetry returns a copy of the stage using cfg for provider calls.
// Shared collaborators (limiters, breaker) stay shared.
func (s *Stage) WithRetry(cfg resilience.RetryConfig) *Stage {
	c := *s
	c.retry = cfg
	return &c
}

// Discover runs the query set and returns candidates ordered by priority
// descending, at most req.MaxPages of them. A hard error is returned only
// when the context is done; provider failures are collected in
// Result.Errors.
func (s *Stage) Discover(ctx context.Context, req model.Request) (*Result, error) {
	res := &Result{QueriesUsed: emitQueries(BuildQueries(req))}

	// Candidates keep first-seen order; duplicates only raise priority.
	index := make(map[string]int)
	var ordered []model.CandidateURL

	for i, query := range res.QueriesUsed {
		if i > 0 {
			if err := s.pause(ctx, interQueryPause); err != nil {
				return res, err
			}
		}

		organic, err := s.runQuery(ctx, req, query)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Errors = append(res.Errors, err)
			zap.L().Warn("discovery: query failed",
				zap.String("query", query),
				zap.Error(err),
			)
			continue
		}

		if len(organic) > organicPerQuery {
			organic = organic[:organicPerQuery]
		}
		for _, hit := range organic {
			priority := Score(req, hit.URL, hit.Title, hit.Description)
			if at, ok := index[hit.URL]; ok {
				if ordered[at].Priority < priority {
					ordered[at].Title = hit.Title
					ordered[at].Snippet = hit.Description
					ordered[at].Priority = priority
				}
				continue
			}
			index[hit.URL] = len(ordered)
			ordered = append(ordered, model.CandidateURL{
				URL:      hit.URL,
				Title:    hit.Title,
				Snippet:  hit.Description,
				Priority: priority,
			})
		}
	}

	res.Candidates = rank(ordered, req.MaxPages)
	return res, nil
}

// runQuery performs one provider call under the resilience stack. Cached
// result pages skip the limiter and the provider entirely.
func (s *Stage) runQuery(ctx context.Context, req model.Request, query string) ([]serp.OrganicResult, error) {
	key := cache.SERPKey(query, req.Country, req.Language, 1)
	if organic, ok := s.cachedResults(ctx, key); ok {
		return organic, nil
	}

	if err := s.limiters.WaitFor(ctx, ratelimit.ClassSearch, 1, tokenMaxWait); err != nil {
		if errors.Is(err, ratelimit.ErrTokenWait) {
			return nil, resilience.NewClassified(err, resilience.ClassRateLimit)
		}
		return nil, err
	}

	cfg := s.retry
	cfg.OnRetry = resilience.RetryLogger("search", query)

	organic, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]serp.OrganicResult, error) {
		return resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) ([]serp.OrganicResult, error) {
			resp, err := s.search.Search(ctx, query,
				serp.WithLocale(req.Country, req.Language),
				serp.WithNum(organicPerQuery),
			)
			if err != nil {
				var statusErr *serp.StatusError
				if errors.As(err, &statusErr) {
					return nil, resilience.NewClassifiedStatus(err, statusErr.Code)
				}
				return nil, eris.Wrap(err, "discovery: search call")
			}
			return resp.Organic, nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.storeResults(ctx, key, organic)
	return organic, nil
}

// cachedResults serves a prior result page for the fingerprinted query.
func (s *Stage) cachedResults(ctx context.Context, key string) ([]serp.OrganicResult, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, key)
	if err != nil || raw == nil {
		return nil, false
	}
	var organic []serp.OrganicResult
	if err := json.Unmarshal(raw, &organic); err != nil {
		zap.L().Warn("discovery: discarding corrupt cache entry", zap.String("key", key), zap.Error(err))
		_ = s.cache.Delete(ctx, key)
		return nil, false
	}
	return organic, true
}

// storeResults caches a result page; failures are dropped.
func (s *Stage) storeResults(ctx context.Context, key string, organic []serp.OrganicResult) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(organic)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.cacheTTL, cache.TagSERP); err != nil {
		zap.L().Debug("discovery: result cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// rank sorts candidates by priority descending; equal priorities keep
// their first-seen order. Keeps the top limit.
func rank(candidates []model.CandidateURL, limit int) []model.CandidateURL {
	out := append([]model.CandidateURL(nil), candidates...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
