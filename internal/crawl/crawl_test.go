package crawl

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/webintel/internal/cache"
	"github.com/sells-group/webintel/internal/model"
	"github.com/sells-group/webintel/internal/ratelimit"
	"github.com/sells-group/webintel/internal/resilience"
	"github.com/sells-group/webintel/pkg/reader"
)

type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]*reader.ReadResponse
	errs      map[string]error
	calls     []string
	block     bool
}

func (f *fakeFetcher) Read(ctx context.Context, targetURL string) (*reader.ReadResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, targetURL)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err, ok := f.errs[targetURL]; ok {
		return nil, err
	}
	if resp, ok := f.responses[targetURL]; ok {
		return resp, nil
	}
	return &reader.ReadResponse{Code: 200, Data: reader.ReadData{
		URL:     targetURL,
		Title:   "Page",
		Content: strings.Repeat("company details ", 20),
	}}, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type denyAll struct{}

func (denyAll) Allowed(context.Context, string) bool { return false }

func newTestStage(fetcher reader.Client, opts ...StageOption) *Stage {
	base := []StageOption{WithMinHostDelay(time.Millisecond)}
	return NewStage(fetcher,
		ratelimit.New(ratelimit.DefaultBuckets()),
		resilience.NewBreakers(resilience.DefaultBreakerConfig()),
		resilience.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond},
		append(base, opts...)...,
	)
}

func crawlRequest(t *testing.T) model.Request {
	t.Helper()
	req, err := model.NewRequest("Acme Corp", model.ModeBasic)
	require.NoError(t, err)
	return req
}

func TestCrawl_Success(t *testing.T) {
	fetcher := &fakeFetcher{}
	stage := newTestStage(fetcher)

	res := stage.Crawl(context.Background(), crawlRequest(t), []model.CandidateURL{
		{URL: "https://acme.com", Priority: 0.9},
		{URL: "https://acme.com/about", Priority: 0.5},
	})

	assert.Equal(t, 2, res.Attempted)
	assert.Equal(t, 2, res.Succeeded)
	require.Len(t, res.Pages, 2)
	assert.Equal(t, "https://acme.com", res.Pages[0].URL, "pages must be ordered by priority")
	assert.Positive(t, res.Pages[0].WordCount)
	assert.NotEmpty(t, res.Pages[0].CleanedText)
}

func TestCrawl_InsufficientContent(t *testing.T) {
	fetcher := &fakeFetcher{responses: map[string]*reader.ReadResponse{
		"https://acme.com/thin": {Code: 200, Data: reader.ReadData{Content: "too short"}},
	}}
	stage := newTestStage(fetcher)

	res := stage.Crawl(context.Background(), crawlRequest(t), []model.CandidateURL{
		{URL: "https://acme.com/thin", Priority: 0.9},
	})

	assert.Equal(t, 1, res.Attempted)
	assert.Zero(t, res.Succeeded)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "insufficient_content", res.Errors[0].Kind)
}

func TestCrawl_RateLimitBlocksHost(t *testing.T) {
	fetcher := &fakeFetcher{errs: map[string]error{
		"https://acme.com/a": &reader.StatusError{Code: 429, Body: "slow down"},
	}}
	stage := newTestStage(fetcher, WithConcurrency(1))

	res := stage.Crawl(context.Background(), crawlRequest(t), []model.CandidateURL{
		{URL: "https://acme.com/a", Priority: 0.9},
		{URL: "https://acme.com/b", Priority: 0.5},
	})

	assert.Equal(t, 2, res.Attempted)
	assert.Zero(t, res.Succeeded)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, string(resilience.ClassRateLimit), res.Errors[0].Kind)
	require.Len(t, res.Warnings, 1, "second fetch to the blocked host must be suppressed")
	assert.Contains(t, res.Warnings[0], "blocked")
	assert.Equal(t, 1, fetcher.callCount())
}

func TestCrawl_BlockedHostNotRefetched(t *testing.T) {
	fetcher := &fakeFetcher{errs: map[string]error{
		"https://acme.com/a": &reader.StatusError{Code: 429, Body: "slow down"},
	}}
	stage := newTestStage(fetcher, WithConcurrency(1))
	stage.retry = resilience.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}

	res := stage.Crawl(context.Background(), crawlRequest(t), []model.CandidateURL{
		{URL: "https://acme.com/a", Priority: 0.9},
	})

	assert.Equal(t, 1, fetcher.callCount(), "marked host must not be contacted again by the retry loop")
	blocked, status := stage.blocks.Blocked("acme.com")
	assert.True(t, blocked)
	assert.Equal(t, 429, status)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "blocked")
}

func TestCrawl_ServesCachedPages(t *testing.T) {
	store := cache.NewMemory()
	fetcher := &fakeFetcher{}
	stage := newTestStage(fetcher, WithCache(store, time.Hour))

	cands := []model.CandidateURL{{URL: "https://acme.com/about", Priority: 0.9}}
	res := stage.Crawl(context.Background(), crawlRequest(t), cands)
	require.Equal(t, 1, res.Succeeded)
	require.Equal(t, 1, fetcher.callCount())

	cands[0].Priority = 0.4
	res = stage.Crawl(context.Background(), crawlRequest(t), cands)
	require.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, fetcher.callCount(), "second crawl must be served from cache")
	require.Len(t, res.Pages, 1)
	assert.InDelta(t, 0.4, res.Pages[0].SourcePriority, 1e-9, "current candidate priority wins")
}

func TestCrawl_AuthBlockIsShorter(t *testing.T) {
	blocks := NewHostBlocks()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	blocks.nowFunc = func() time.Time { return now }

	blocks.Mark("acme.com", 403)
	blocked, status := blocks.Blocked("acme.com")
	assert.True(t, blocked)
	assert.Equal(t, 403, status)

	now = now.Add(61 * time.Minute)
	blocked, _ = blocks.Blocked("acme.com")
	assert.False(t, blocked, "auth block must expire after an hour")

	blocks.Mark("acme.com", 503)
	now = now.Add(23 * time.Hour)
	blocked, _ = blocks.Blocked("acme.com")
	assert.True(t, blocked, "rate-limit block lasts a day")
}

func TestHostBlocks_HostsListsActiveOnly(t *testing.T) {
	blocks := NewHostBlocks()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	blocks.nowFunc = func() time.Time { return now }

	blocks.Mark("beta.example", 429)
	blocks.Mark("acme.com", 403)
	assert.Equal(t, []string{"acme.com", "beta.example"}, blocks.Hosts())

	now = now.Add(2 * time.Hour)
	assert.Equal(t, []string{"beta.example"}, blocks.Hosts(), "expired auth block must be pruned")
	assert.Equal(t, 1, blocks.Len())
}

func TestCrawl_RobotsDisallowed(t *testing.T) {
	fetcher := &fakeFetcher{}
	stage := newTestStage(fetcher, WithPolicy(denyAll{}))

	res := stage.Crawl(context.Background(), crawlRequest(t), []model.CandidateURL{
		{URL: "https://acme.com", Priority: 0.9},
	})

	assert.Equal(t, 1, res.Attempted)
	assert.Zero(t, res.Succeeded)
	assert.Empty(t, res.Errors, "robots rejection is a warning, not an error")
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "robots")
	assert.Zero(t, fetcher.callCount())
}

func TestCrawl_DeadlineEnforced(t *testing.T) {
	fetcher := &fakeFetcher{block: true}
	stage := newTestStage(fetcher)

	req := crawlRequest(t)
	req.TimeoutSecs = 1 // below the validated minimum, but Crawl trusts the caller

	start := time.Now()
	res := stage.Crawl(context.Background(), req, []model.CandidateURL{
		{URL: "https://slow.example.com", Priority: 0.9},
	})

	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Zero(t, res.Succeeded)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, string(resilience.ClassTimeout), res.Errors[0].Kind)
}

func TestCleanMarkdown(t *testing.T) {
	md := "# About Acme\n\n**Acme Corp** builds [widgets](https://acme.com/w).\n\n---\n\n![logo](https://acme.com/logo.png)\n"
	got := CleanMarkdown(md)
	assert.Equal(t, "About Acme\nAcme Corp builds widgets.", got)
}
