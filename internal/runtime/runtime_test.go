package runtime

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/webintel/internal/model"
	"github.com/sells-group/webintel/internal/ratelimit"
)

type stubExtractor struct {
	mu      sync.Mutex
	delay   time.Duration
	fail    map[string]bool
	started []string
}

func (s *stubExtractor) Extract(ctx context.Context, req model.Request) (model.Response, error) {
	s.mu.Lock()
	s.started = append(s.started, req.CompanyName)
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return model.Response{}, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	if s.fail[req.CompanyName] {
		return model.Response{
			Success: false,
			Errors:  []model.ExtractionError{{Kind: "company_not_found", Message: "no sources"}},
		}, nil
	}
	return model.Response{
		Success: true,
		Record:  &model.CompanyRecord{Basic: model.BasicInfo{Name: req.CompanyName}},
	}, nil
}

func (s *stubExtractor) order() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.started...)
}

func newRuntime(t *testing.T, ex Extractor, opts ...Option) *Runtime {
	t.Helper()
	r := New(ex, ratelimit.New(ratelimit.DefaultBuckets()), opts...)
	r.Start()
	t.Cleanup(r.Shutdown)
	return r
}

func request(t *testing.T, name string) model.Request {
	t.Helper()
	req, err := model.NewRequest(name, model.ModeBasic)
	require.NoError(t, err)
	return req
}

func TestRuntime_SubmitAndWait(t *testing.T) {
	ex := &stubExtractor{}
	r := newRuntime(t, ex, WithWorkers(2))

	id, err := r.Submit(request(t, "Acme"), 3)
	require.NoError(t, err)

	tasks := r.WaitFor(context.Background(), []string{id}, 5*time.Second)
	task := tasks[id]
	assert.Equal(t, model.TaskCompleted, task.State)
	require.NotNil(t, task.Response)
	assert.Equal(t, "Acme", task.Response.Record.Basic.Name)
	assert.NotNil(t, task.StartedAt)
	assert.NotNil(t, task.FinishedAt)
}

func TestRuntime_SubmitValidates(t *testing.T) {
	r := newRuntime(t, &stubExtractor{})

	req := request(t, "Acme")
	req.MaxPages = 0
	_, err := r.Submit(req, 1)
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestRuntime_FailedExtraction(t *testing.T) {
	ex := &stubExtractor{fail: map[string]bool{"Ghost": true}}
	r := newRuntime(t, ex)

	id, err := r.Submit(request(t, "Ghost"), 1)
	require.NoError(t, err)

	tasks := r.WaitFor(context.Background(), []string{id}, 5*time.Second)
	task := tasks[id]
	assert.Equal(t, model.TaskFailed, task.State)
	assert.Contains(t, task.Error, "company_not_found")
}

func TestRuntime_PriorityOrdering(t *testing.T) {
	// One slow worker forces strictly sequential processing; the queue
	// must hand out the higher-priority task first.
	ex := &stubExtractor{delay: 50 * time.Millisecond}
	r := New(ex, ratelimit.New(ratelimit.DefaultBuckets()), WithWorkers(1))

	ids := make([]string, 0, 3)
	for _, sub := range []struct {
		name     string
		priority float64
	}{
		{"blocker", 5}, // occupies the worker while the rest queue up
		{"low", 1},
		{"urgent", 4},
	} {
		id, err := r.Submit(request(t, sub.name), sub.priority)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	r.Start()
	defer r.Shutdown()

	r.WaitFor(context.Background(), ids, 10*time.Second)
	order := ex.order()
	require.Len(t, order, 3)
	assert.Equal(t, "urgent", order[1], "higher priority must run before lower")
	assert.Equal(t, "low", order[2])
}

func TestRuntime_StatusUnknownTask(t *testing.T) {
	r := newRuntime(t, &stubExtractor{})
	_, err := r.Status("nope")
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestRuntime_ResultPendingTask(t *testing.T) {
	ex := &stubExtractor{delay: 200 * time.Millisecond}
	r := newRuntime(t, ex)

	id, err := r.Submit(request(t, "Acme"), 1)
	require.NoError(t, err)

	_, settled, err := r.Result(id)
	require.NoError(t, err)
	assert.False(t, settled)
}

func TestRuntime_RateLimitTimeoutFailsTask(t *testing.T) {
	// An empty extraction bucket with no refill cannot serve a token.
	limiters := ratelimit.New(map[string]ratelimit.BucketConfig{
		ratelimit.ClassSearch:     {Capacity: 1, RefillRate: 1, RefillInterval: time.Second},
		ratelimit.ClassCrawl:      {Capacity: 1, RefillRate: 1, RefillInterval: time.Second},
		ratelimit.ClassExtraction: {Capacity: 1, RefillRate: 1, RefillInterval: time.Hour},
	})
	_, err := limiters.Acquire(ratelimit.ClassExtraction, 1)
	require.NoError(t, err)

	r := New(&stubExtractor{}, limiters, WithWorkers(1), WithTokenWait(100*time.Millisecond))
	r.Start()
	defer r.Shutdown()

	id, err := r.Submit(request(t, "Acme"), 1)
	require.NoError(t, err)

	tasks := r.WaitFor(context.Background(), []string{id}, 5*time.Second)
	task := tasks[id]
	assert.Equal(t, model.TaskFailed, task.State)
	assert.True(t, strings.Contains(task.Error, "token"), "error should mention the token wait: %s", task.Error)
}

func TestRuntime_ShutdownDrains(t *testing.T) {
	ex := &stubExtractor{delay: 20 * time.Millisecond}
	r := New(ex, ratelimit.New(ratelimit.DefaultBuckets()), WithWorkers(2))
	r.Start()

	ids := make([]string, 0, 4)
	for _, name := range []string{"One", "Two", "Three", "Four"} {
		id, err := r.Submit(request(t, name), 1)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	r.Shutdown()

	for _, id := range ids {
		task, err := r.Status(id)
		require.NoError(t, err)
		assert.True(t, task.Settled(), "shutdown must drain queued tasks")
	}

	_, err := r.Submit(request(t, "Late"), 1)
	assert.ErrorIs(t, err, ErrShuttingDown)
}
