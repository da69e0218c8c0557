// Package runtime provides the asynchronous execution layer: a priority
// task queue drained by a fixed worker pool.
package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/webintel/internal/model"
	"github.com/sells-group/webintel/internal/ratelimit"
)

// Extractor is the synchronous pipeline consumed by workers.
type Extractor interface {
	Extract(ctx context.Context, req model.Request) (model.Response, error)
}

const (
	// extractionTokenWait bounds how long a worker waits for an
	// extraction token before failing the task.
	extractionTokenWait = 10 * time.Second

	// waitPollInterval is the status poll cadence of WaitFor.
	waitPollInterval = 500 * time.Millisecond

	defaultWorkers = 5
)

// ErrUnknownTask is returned for task ids the runtime has never seen.
var ErrUnknownTask = eris.New("runtime: unknown task id")

// ErrShuttingDown rejects submissions after Shutdown started.
var ErrShuttingDown = eris.New("runtime: shutting down")

// errRateLimitTimeout fails a task whose worker could not get an
// extraction token in time.
var errRateLimitTimeout = eris.New("runtime: extraction token wait exceeded")

// Runtime runs extractions asynchronously. Submit returns immediately;
// workers drain the queue highest priority first.
type Runtime struct {
	pipeline Extractor
	limiters *ratelimit.Limiters
	queue    *taskQueue

	mu    sync.Mutex
	tasks map[string]*model.Task

	workers   int
	tokenWait time.Duration
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	done      chan struct{}
	stopOnce  sync.Once

	nowFunc func() time.Time
}

// Option configures the runtime.
type Option func(*Runtime)

// WithWorkers sets the worker pool size.
func WithWorkers(n int) Option {
	return func(r *Runtime) {
		if n >= 1 {
			r.workers = n
		}
	}
}

// WithTokenWait overrides the extraction-token wait bound.
func WithTokenWait(d time.Duration) Option {
	return func(r *Runtime) {
		if d > 0 {
			r.tokenWait = d
		}
	}
}

// New creates a runtime; Start must be called before submissions run.
func New(p Extractor, limiters *ratelimit.Limiters, opts ...Option) *Runtime {
	r := &Runtime{
		pipeline:  p,
		limiters:  limiters,
		queue:     newTaskQueue(),
		tasks:     make(map[string]*model.Task),
		workers:   defaultWorkers,
		tokenWait: extractionTokenWait,
		done:      make(chan struct{}),
		nowFunc:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the worker pool.
func (r *Runtime) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx, i)
	}
}

// Shutdown stops intake, lets workers finish their current task, and
// waits for them to exit.
func (r *Runtime) Shutdown() {
	r.stopOnce.Do(func() {
		r.queue.close()
		r.wg.Wait()
		if r.cancel != nil {
			r.cancel()
		}
		close(r.done)
	})
}

// Submit validates and enqueues a request. Higher priority dequeues
// first; equal priorities are FIFO.
func (r *Runtime) Submit(req model.Request, priority float64) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	task := &model.Task{
		ID:        uuid.NewString(),
		Request:   req,
		Priority:  priority,
		State:     model.TaskQueued,
		CreatedAt: r.nowFunc(),
	}

	r.mu.Lock()
	r.tasks[task.ID] = task
	r.mu.Unlock()

	if !r.queue.enqueue(task) {
		r.mu.Lock()
		delete(r.tasks, task.ID)
		r.mu.Unlock()
		return "", ErrShuttingDown
	}
	return task.ID, nil
}

// Status returns a copy of the task.
func (r *Runtime) Status(taskID string) (model.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return model.Task{}, ErrUnknownTask
	}
	return *task, nil
}

// Result returns the response of a settled task; ok is false while the
// task is still pending.
func (r *Runtime) Result(taskID string) (*model.Response, bool, error) {
	task, err := r.Status(taskID)
	if err != nil {
		return nil, false, err
	}
	if !task.Settled() {
		return nil, false, nil
	}
	return task.Response, true, nil
}

// WaitFor polls the given tasks until all settle or the timeout elapses,
// returning a snapshot per task id.
func (r *Runtime) WaitFor(ctx context.Context, taskIDs []string, timeout time.Duration) map[string]model.Task {
	deadline := r.nowFunc().Add(timeout)
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		out := make(map[string]model.Task, len(taskIDs))
		settled := 0
		for _, id := range taskIDs {
			task, err := r.Status(id)
			if err != nil {
				continue
			}
			out[id] = task
			if task.Settled() {
				settled++
			}
		}
		if settled == len(taskIDs) || r.nowFunc().After(deadline) {
			return out
		}
		select {
		case <-ctx.Done():
			return out
		case <-ticker.C:
		}
	}
}

// QueueDepth reports the number of queued tasks.
func (r *Runtime) QueueDepth() int {
	return r.queue.len()
}

// Counts returns tasks per state.
func (r *Runtime) Counts() map[model.TaskState]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[model.TaskState]int, 4)
	for _, task := range r.tasks {
		out[task.State]++
	}
	return out
}

func (r *Runtime) worker(ctx context.Context, id int) {
	defer r.wg.Done()
	log := zap.L().With(zap.Int("worker", id))

	for {
		task, ok := r.queue.dequeue()
		if !ok {
			return
		}

		r.transition(task, model.TaskProcessing)

		if err := r.limiters.WaitFor(ctx, ratelimit.ClassExtraction, 1, r.tokenWait); err != nil {
			r.fail(task, eris.Wrap(errRateLimitTimeout, err.Error()))
			continue
		}

		resp, err := r.pipeline.Extract(ctx, task.Request)
		if err != nil {
			r.fail(task, err)
			continue
		}

		r.mu.Lock()
		now := r.nowFunc()
		task.FinishedAt = &now
		task.Response = &resp
		if resp.Success {
			task.State = model.TaskCompleted
		} else {
			task.State = model.TaskFailed
			task.Error = firstErrorMessage(resp)
		}
		r.mu.Unlock()

		log.Debug("runtime: task settled",
			zap.String("task_id", task.ID),
			zap.String("state", string(task.State)),
		)
	}
}

func (r *Runtime) transition(task *model.Task, state model.TaskState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task.State = state
	if state == model.TaskProcessing && task.StartedAt == nil {
		now := r.nowFunc()
		task.StartedAt = &now
	}
}

func (r *Runtime) fail(task *model.Task, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.nowFunc()
	task.FinishedAt = &now
	task.State = model.TaskFailed
	task.Error = err.Error()
}

func firstErrorMessage(resp model.Response) string {
	if len(resp.Errors) == 0 {
		return "extraction failed"
	}
	e := resp.Errors[len(resp.Errors)-1]
	return e.Kind + ": " + e.Message
}
