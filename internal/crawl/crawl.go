// Package crawl fetches candidate URLs under bounded concurrency,
// politeness, and per-request deadlines.
package crawl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/webintel/internal/cache"
	"github.com/sells-group/webintel/internal/model"
	"github.com/sells-group/webintel/internal/ratelimit"
	"github.com/sells-group/webintel/internal/resilience"
	"github.com/sells-group/webintel/pkg/reader"
)

const (
	// defaultConcurrency bounds simultaneous fetches per request.
	defaultConcurrency = 3

	// defaultMinHostDelay spaces requests to the same host.
	defaultMinHostDelay = time.Second

	// tokenMaxWait bounds the wait for a crawl token.
	tokenMaxWait = 10 * time.Second
)

// Result is the crawl outcome for one request. Pages holds only fetches
// that cleared the content threshold, ordered by source priority.
type Result struct {
	Pages     []model.FetchedPage
	Attempted int
	Succeeded int
	Errors    []model.ExtractionError
	Warnings  []string
}

// Stage runs the crawl phase. Process-wide collaborators (limiters,
// breakers, host blocks) are shared across requests; concurrency and
// deadlines are per request.
type Stage struct {
	fetcher  reader.Client
	limiters *ratelimit.Limiters
	breaker  *resilience.Breaker
	retry    resilience.RetryConfig
	blocks   *HostBlocks
	delays   *HostDelays
	robots   Policy

	cache    cache.Cache
	cacheTTL time.Duration

	concurrency int
	nowFunc     func() time.Time
}

// StageOption configures the crawl stage.
type StageOption func(*Stage)

// WithConcurrency overrides the per-request fetch bound.
func WithConcurrency(n int) StageOption {
	return func(s *Stage) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithMinHostDelay overrides the per-host spacing.
func WithMinHostDelay(d time.Duration) StageOption {
	return func(s *Stage) {
		if d > 0 {
			s.delays = NewHostDelays(d)
		}
	}
}

// WithPolicy overrides the robots policy.
func WithPolicy(p Policy) StageOption {
	return func(s *Stage) {
		s.robots = p
	}
}

// WithBlockDurations overrides how long 429/503 and 401/403 responses
// block a host.
func WithBlockDurations(rateLimit, auth time.Duration) StageOption {
	return func(s *Stage) {
		s.blocks.SetDurations(rateLimit, auth)
	}
}

// WithCache enables per-URL page caching. A nil cache disables it.
func WithCache(c cache.Cache, ttl time.Duration) StageOption {
	return func(s *Stage) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

// NewStage wires the crawl stage.
func NewStage(fetcher reader.Client, limiters *ratelimit.Limiters, breakers *resilience.Breakers, retry resilience.RetryConfig, opts ...StageOption) *Stage {
	s := &Stage{
		fetcher:     fetcher,
		limiters:    limiters,
		breaker:     breakers.Get("crawl"),
		retry:       retry,
		blocks:      NewHostBlocks(),
		delays:      NewHostDelays(defaultMinHostDelay),
		robots:      AllowAll{},
		concurrency: defaultConcurrency,
		nowFunc:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithRetry returns a copy of the stage using cfg for fetches. Politeness
// state (blocks, delays) stays shared with the original.
func (s *Stage) WithRetry(cfg resilience.RetryConfig) *Stage {
	c := *s
	c.retry = cfg
	return &c
}

// WithLimit returns a copy of the stage with a different fetch bound.
func (s *Stage) WithLimit(n int) *Stage {
	c := *s
	if n > 0 {
		c.concurrency = n
	}
	return &c
}

// Concurrency reports the per-request fetch bound.
func (s *Stage) Concurrency() int {
	return s.concurrency
}

// Blocks exposes the host-block registry for stats reporting.
func (s *Stage) Blocks() *HostBlocks {
	return s.blocks
}

// Crawl fetches the candidates. Every candidate counts as attempted; only
// fetches yielding at least the minimum cleaned content count as
// succeeded.
func (s *Stage) Crawl(ctx context.Context, req model.Request, candidates []model.CandidateURL) *Result {
	res := &Result{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, cand := range candidates {
		cand := cand
		mu.Lock()
		res.Attempted++
		mu.Unlock()

		g.Go(func() error {
			page, fetchErr, warning := s.fetchOne(gctx, req, cand)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case warning != "":
				res.Warnings = append(res.Warnings, warning)
			case fetchErr != nil:
				res.Errors = append(res.Errors, *fetchErr)
			case page != nil:
				res.Succeeded++
				res.Pages = append(res.Pages, *page)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(res.Pages, func(i, j int) bool {
		return res.Pages[i].SourcePriority > res.Pages[j].SourcePriority
	})
	return res
}

// fetchOne handles a single candidate. Exactly one of the returns is
// meaningful: a page, a typed error, or a politeness warning.
func (s *Stage) fetchOne(ctx context.Context, req model.Request, cand model.CandidateURL) (*model.FetchedPage, *model.ExtractionError, string) {
	host := hostOf(cand.URL)
	if host == "" {
		return nil, &model.ExtractionError{
			Kind:    string(resilience.ClassPermanent),
			Context: cand.URL,
			Message: "unparseable candidate URL",
		}, ""
	}

	if page, ok := s.cachedPage(ctx, cand); ok {
		return page, nil, ""
	}

	if blocked, status := s.blocks.Blocked(host); blocked {
		return nil, nil, fmt.Sprintf("host %s temporarily blocked (status %d)", host, status)
	}

	if !s.robots.Allowed(ctx, cand.URL) {
		return nil, nil, fmt.Sprintf("skipped %s: disallowed by robots policy", cand.URL)
	}

	if err := s.delays.Wait(ctx, host); err != nil {
		return nil, extractionError(err, cand.URL), ""
	}

	if err := s.limiters.WaitFor(ctx, ratelimit.ClassCrawl, 1, tokenMaxWait); err != nil {
		if errors.Is(err, ratelimit.ErrTokenWait) {
			err = resilience.NewClassified(err, resilience.ClassRateLimit)
		}
		return nil, extractionError(err, cand.URL), ""
	}

	started := s.nowFunc()
	fetchCtx, cancel := context.WithTimeout(ctx, req.Timeout())
	defer cancel()

	cfg := s.retry
	cfg.OnRetry = resilience.RetryLogger("crawl", cand.URL)

	resp, err := resilience.DoVal(fetchCtx, cfg, func(ctx context.Context) (*reader.ReadResponse, error) {
		// A mark landed by an earlier attempt ends the retry loop; the
		// host must not be contacted again.
		if blocked, status := s.blocks.Blocked(host); blocked {
			return nil, resilience.NewClassified(
				fmt.Errorf("host %s blocked after status %d", host, status),
				resilience.ClassPermanent,
			)
		}
		return resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) (*reader.ReadResponse, error) {
			resp, err := s.fetcher.Read(ctx, cand.URL)
			if err != nil {
				var statusErr *reader.StatusError
				if errors.As(err, &statusErr) {
					s.blocks.Mark(host, statusErr.Code)
					return nil, resilience.NewClassifiedStatus(err, statusErr.Code)
				}
				return nil, err
			}
			return resp, nil
		})
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = resilience.NewClassified(err, resilience.ClassTimeout)
		}
		zap.L().Debug("crawl: fetch failed", zap.String("url", cand.URL), zap.Error(err))
		return nil, extractionError(err, cand.URL), ""
	}

	page := &model.FetchedPage{
		URL:            cand.URL,
		Title:          resp.Data.Title,
		CleanedText:    CleanMarkdown(resp.Data.Content),
		Markdown:       resp.Data.Content,
		FetchedAt:      started,
		ElapsedMS:      s.nowFunc().Sub(started).Milliseconds(),
		SourcePriority: cand.Priority,
	}
	page.CountWords()

	if !page.HasSufficientContent() {
		return nil, &model.ExtractionError{
			Kind:    "insufficient_content",
			Context: cand.URL,
			Message: fmt.Sprintf("cleaned content below %d characters", model.MinContentChars),
		}, ""
	}
	s.storePage(ctx, page)
	return page, nil, ""
}

// cachedPage serves a previously fetched page. The candidate's current
// priority wins over the stored one.
func (s *Stage) cachedPage(ctx context.Context, cand model.CandidateURL) (*model.FetchedPage, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, cache.CrawlKey(cand.URL))
	if err != nil || raw == nil {
		return nil, false
	}
	var page model.FetchedPage
	if err := json.Unmarshal(raw, &page); err != nil {
		zap.L().Warn("crawl: discarding corrupt cache entry", zap.String("url", cand.URL), zap.Error(err))
		_ = s.cache.Delete(ctx, cache.CrawlKey(cand.URL))
		return nil, false
	}
	page.SourcePriority = cand.Priority
	return &page, true
}

// storePage caches a sufficient page; failures are dropped.
func (s *Stage) storePage(ctx context.Context, page *model.FetchedPage) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(page)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cache.CrawlKey(page.URL), raw, s.cacheTTL, cache.TagCrawl); err != nil {
		zap.L().Debug("crawl: page cache set failed", zap.String("url", page.URL), zap.Error(err))
	}
}

func extractionError(err error, url string) *model.ExtractionError {
	return &model.ExtractionError{
		Kind:    string(resilience.Classify(err)),
		Context: url,
		Message: err.Error(),
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

var (
	mdLinkRe    = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	mdImageRe   = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	mdHeadingRe = regexp.MustCompile(`(?m)^#{1,6}\s*`)
	mdEmphRe    = regexp.MustCompile(`[*_]{1,3}([^*_]+)[*_]{1,3}`)
	mdCodeRe    = regexp.MustCompile("`+")
)

// CleanMarkdown strips markdown syntax, leaving readable text for the
// content threshold and the parser.
func CleanMarkdown(md string) string {
	s := mdImageRe.ReplaceAllString(md, "")
	s = mdLinkRe.ReplaceAllString(s, "$1")
	s = mdHeadingRe.ReplaceAllString(s, "")
	s = mdEmphRe.ReplaceAllString(s, "$1")
	s = mdCodeRe.ReplaceAllString(s, "")
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" && line != "---" && line != "***" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
