// Package batch orchestrates multi-company extraction jobs: bounded
// concurrent batches, progress observation, and result export.
package batch

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/webintel/internal/cache"
	"github.com/sells-group/webintel/internal/model"
)

const (
	defaultMaxActive    = 3
	defaultPollInterval = 2 * time.Second
)

// ErrUnknownBatch is returned for batch ids the orchestrator has never
// seen.
var ErrUnknownBatch = eris.New("batch: unknown batch id")

// ErrBatchSettled rejects cancellation of a batch that already finished.
var ErrBatchSettled = eris.New("batch: batch already settled")

// Submitter is the task runtime consumed by the orchestrator.
type Submitter interface {
	Submit(req model.Request, priority float64) (string, error)
	Status(taskID string) (model.Task, error)
}

// ProgressFunc receives progress snapshots. Implementations must not
// block; they are called from the batch poll loop.
type ProgressFunc func(model.BatchProgress)

type batchState struct {
	id          string
	req         model.BatchRequest
	status      model.BatchStatus
	submittedAt time.Time
	seq         uint64

	taskIDs    []string
	submitErrs []string
	results    []model.BatchResult
	progress   model.BatchProgress
	summary    *model.BatchSummary
	exportPath string

	cancel     chan struct{}
	cancelOnce sync.Once
}

func (s *batchState) markCancelled() {
	s.cancelOnce.Do(func() { close(s.cancel) })
}

func (s *batchState) cancelled() bool {
	select {
	case <-s.cancel:
		return true
	default:
		return false
	}
}

func (s *batchState) settled() bool {
	switch s.status {
	case model.BatchCompleted, model.BatchPartiallyCompleted, model.BatchFailed, model.BatchCancelled:
		return true
	}
	return false
}

// Orchestrator runs batches against the task runtime. At most maxActive
// batches execute concurrently; the rest wait in a priority queue ordered
// by bucket score, then submission order.
type Orchestrator struct {
	runtime  Submitter
	exporter *Exporter

	cache    cache.Cache
	cacheTTL time.Duration

	maxActive    int
	pollInterval time.Duration

	mu        sync.Mutex
	batches   map[string]*batchState
	pending   []*batchState
	active    int
	seq       uint64
	observers map[string]map[string]ProgressFunc

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once

	nowFunc func() time.Time
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithMaxActive bounds concurrently running batches.
func WithMaxActive(n int) Option {
	return func(o *Orchestrator) {
		if n >= 1 {
			o.maxActive = n
		}
	}
}

// WithPollInterval sets the progress poll cadence.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithCache persists settled snapshots so batch results outlive the
// process. A nil cache disables it.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(o *Orchestrator) {
		o.cache = c
		o.cacheTTL = ttl
	}
}

// New creates an orchestrator submitting to rt and exporting via exp.
func New(rt Submitter, exp *Exporter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		runtime:      rt,
		exporter:     exp,
		maxActive:    defaultMaxActive,
		pollInterval: defaultPollInterval,
		batches:      make(map[string]*batchState),
		observers:    make(map[string]map[string]ProgressFunc),
		done:         make(chan struct{}),
		nowFunc:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Close drains the orchestrator: queued batches are cancelled without
// starting, active batches finish their in-flight tasks (abandoning
// companies still queued in the runtime) and settle before Close returns.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		for _, state := range o.pending {
			state.status = model.BatchCancelled
			state.markCancelled()
		}
		o.pending = nil
		o.mu.Unlock()
		close(o.done)
	})
	o.wg.Wait()
}

// Submit validates and schedules a batch, returning its id. The batch
// starts immediately when an execution slot is free, otherwise it queues
// behind batches of more urgent buckets.
func (o *Orchestrator) Submit(req model.BatchRequest) (string, error) {
	if err := req.NormalizeCompanies(); err != nil {
		return "", err
	}
	if req.Mode == "" {
		req.Mode = model.ModeComprehensive
	}

	state := &batchState{
		id:          uuid.NewString(),
		req:         req,
		status:      model.BatchQueued,
		submittedAt: o.nowFunc(),
		cancel:      make(chan struct{}),
	}
	state.progress = model.BatchProgress{
		BatchID: state.id,
		Total:   len(req.CompanyNames),
		Queued:  len(req.CompanyNames),
	}

	o.mu.Lock()
	o.seq++
	state.seq = o.seq
	o.batches[state.id] = state
	if o.active < o.maxActive {
		o.active++
		o.wg.Add(1)
		go o.run(state)
	} else {
		o.pending = append(o.pending, state)
	}
	o.mu.Unlock()

	zap.L().Info("batch: submitted",
		zap.String("batch_id", state.id),
		zap.Int("companies", len(req.CompanyNames)),
		zap.String("bucket", string(req.Bucket)),
	)
	return state.id, nil
}

// Cancel stops a batch. Queued batches never start; running batches stop
// polling and settle with the results gathered so far. Tasks already
// handed to the runtime run to completion there.
func (o *Orchestrator) Cancel(batchID string) error {
	o.mu.Lock()
	state, ok := o.batches[batchID]
	if !ok {
		o.mu.Unlock()
		return ErrUnknownBatch
	}
	if state.settled() {
		o.mu.Unlock()
		return ErrBatchSettled
	}
	if state.status == model.BatchQueued {
		for i, p := range o.pending {
			if p.id == batchID {
				o.pending = append(o.pending[:i], o.pending[i+1:]...)
				break
			}
		}
		state.status = model.BatchCancelled
	}
	o.mu.Unlock()

	state.markCancelled()
	return nil
}

// Status returns a snapshot without per-company results.
func (o *Orchestrator) Status(batchID string) (model.BatchSnapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	state, ok := o.batches[batchID]
	if !ok {
		return model.BatchSnapshot{}, ErrUnknownBatch
	}
	snap := o.snapshotLocked(state)
	snap.Results = nil
	return snap, nil
}

// Result returns the full snapshot including results and summary. The
// second return is false while the batch is still running. Ids unknown to
// this process are looked up in the snapshot cache, so settled batches
// survive a restart.
func (o *Orchestrator) Result(batchID string) (model.BatchSnapshot, bool, error) {
	o.mu.Lock()
	state, ok := o.batches[batchID]
	if !ok {
		o.mu.Unlock()
		if snap, found := o.cachedSnapshot(batchID); found {
			return snap, true, nil
		}
		return model.BatchSnapshot{}, false, ErrUnknownBatch
	}
	defer o.mu.Unlock()
	if !state.settled() {
		return model.BatchSnapshot{}, false, nil
	}
	return o.snapshotLocked(state), true, nil
}

// cachedSnapshot loads a persisted settled snapshot.
func (o *Orchestrator) cachedSnapshot(batchID string) (model.BatchSnapshot, bool) {
	if o.cache == nil {
		return model.BatchSnapshot{}, false
	}
	raw, err := o.cache.Get(context.Background(), cache.BatchKey(batchID))
	if err != nil || raw == nil {
		return model.BatchSnapshot{}, false
	}
	var snap model.BatchSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return model.BatchSnapshot{}, false
	}
	return snap, true
}

// storeSnapshot persists a settled snapshot; failures are dropped.
func (o *Orchestrator) storeSnapshot(snap model.BatchSnapshot) {
	if o.cache == nil {
		return
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	key := cache.BatchKey(snap.BatchID)
	if err := o.cache.Set(context.Background(), key, raw, o.cacheTTL, cache.TagBatch); err != nil {
		zap.L().Debug("batch: snapshot cache set failed", zap.String("batch_id", snap.BatchID), zap.Error(err))
	}
}

// Observe registers a progress callback under observerID. Re-registering
// the same id replaces the previous callback.
func (o *Orchestrator) Observe(batchID, observerID string, fn ProgressFunc) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.batches[batchID]; !ok {
		return ErrUnknownBatch
	}
	if o.observers[batchID] == nil {
		o.observers[batchID] = make(map[string]ProgressFunc)
	}
	o.observers[batchID][observerID] = fn
	return nil
}

// Unobserve removes a progress callback. Unknown ids are a no-op.
func (o *Orchestrator) Unobserve(batchID, observerID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.observers[batchID], observerID)
}

// Counts reports running and queued batches.
func (o *Orchestrator) Counts() (active, pending int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active, len(o.pending)
}

func (o *Orchestrator) snapshotLocked(state *batchState) model.BatchSnapshot {
	snap := model.BatchSnapshot{
		BatchID:     state.id,
		Status:      state.status,
		Bucket:      state.req.Bucket,
		Progress:    state.progress,
		SubmittedAt: state.submittedAt,
		ExportPath:  state.exportPath,
	}
	if state.results != nil {
		snap.Results = append([]model.BatchResult(nil), state.results...)
	}
	if state.summary != nil {
		s := *state.summary
		snap.Summary = &s
	}
	return snap
}

func (o *Orchestrator) run(state *batchState) {
	defer o.wg.Done()
	log := zap.L().With(zap.String("batch_id", state.id))

	o.mu.Lock()
	cancelled := state.cancelled()
	if !cancelled {
		state.status = model.BatchProcessing
	}
	o.mu.Unlock()

	if !cancelled {
		o.submitTasks(state)
		o.poll(state)
		o.finalize(state, log)
	}

	o.finish(state)
}

// submitTasks hands every company to the runtime at the bucket's task
// priority. Submission failures settle the company immediately.
func (o *Orchestrator) submitTasks(state *batchState) {
	names := state.req.CompanyNames
	state.taskIDs = make([]string, len(names))
	state.submitErrs = make([]string, len(names))

	priority := state.req.Bucket.TaskPriority()
	for i, name := range names {
		req, err := o.companyRequest(state.req, name)
		if err == nil {
			state.taskIDs[i], err = o.runtime.Submit(req, priority)
		}
		if err != nil {
			state.submitErrs[i] = err.Error()
		}
	}
}

// companyRequest builds the per-company request, honoring overrides.
func (o *Orchestrator) companyRequest(br model.BatchRequest, name string) (model.Request, error) {
	if override, ok := br.Overrides[name]; ok {
		if override.CompanyName == "" {
			override.CompanyName = name
		}
		return override, override.Validate()
	}
	return model.NewRequest(name, br.Mode)
}

// poll refreshes progress on a fixed cadence until every task settles or
// the batch is cancelled, notifying observers each pass. Once shutdown
// starts the batch drains: tasks already processing may finish, and the
// batch settles as soon as none are in flight.
func (o *Orchestrator) poll(state *batchState) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	draining := false
	for {
		progress, settled := o.refreshProgress(state)
		o.notify(state.id, progress)
		if settled || state.cancelled() {
			return
		}
		if draining && progress.Processing == 0 {
			state.markCancelled()
			return
		}

		if draining {
			select {
			case <-state.cancel:
			case <-ticker.C:
			}
			continue
		}
		select {
		case <-state.cancel:
		case <-o.done:
			draining = true
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) refreshProgress(state *batchState) (model.BatchProgress, bool) {
	progress := model.BatchProgress{
		BatchID: state.id,
		Total:   len(state.req.CompanyNames),
	}

	var procTotal time.Duration
	var procCount int
	for i := range state.req.CompanyNames {
		if state.submitErrs[i] != "" {
			progress.Failed++
			continue
		}
		task, err := o.runtime.Status(state.taskIDs[i])
		if err != nil {
			progress.Failed++
			continue
		}
		switch task.State {
		case model.TaskCompleted:
			progress.Completed++
		case model.TaskFailed:
			progress.Failed++
		case model.TaskProcessing:
			progress.Processing++
		default:
			progress.Queued++
		}
		if task.Settled() && task.StartedAt != nil && task.FinishedAt != nil {
			procTotal += task.FinishedAt.Sub(*task.StartedAt)
			procCount++
		}
	}

	if progress.Total > 0 {
		progress.SuccessRate = float64(progress.Completed) / float64(progress.Total)
	}
	if procCount > 0 {
		progress.AvgProcTime = procTotal / time.Duration(procCount)
		remaining := progress.Total - progress.Completed - progress.Failed
		progress.ETA = progress.AvgProcTime * time.Duration(remaining)
	}

	o.mu.Lock()
	state.progress = progress
	o.mu.Unlock()

	return progress, progress.Completed+progress.Failed == progress.Total
}

func (o *Orchestrator) notify(batchID string, progress model.BatchProgress) {
	o.mu.Lock()
	fns := make([]ProgressFunc, 0, len(o.observers[batchID]))
	for _, fn := range o.observers[batchID] {
		fns = append(fns, fn)
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(progress)
	}
}

// finalize collects results in submission order, derives the summary and
// final status, and exports the batch.
func (o *Orchestrator) finalize(state *batchState, log *zap.Logger) {
	names := state.req.CompanyNames
	results := make([]model.BatchResult, 0, len(names))
	for i, name := range names {
		res := model.BatchResult{CompanyName: name}
		switch {
		case state.submitErrs[i] != "":
			res.Error = state.submitErrs[i]
		default:
			task, err := o.runtime.Status(state.taskIDs[i])
			switch {
			case err != nil:
				res.Error = err.Error()
			case !task.Settled():
				res.Error = "cancelled before completion"
			default:
				res.Response = task.Response
				if task.State == model.TaskFailed {
					res.Error = task.Error
					if res.Error == "" {
						res.Error = "extraction failed"
					}
				}
			}
		}
		results = append(results, res)
	}

	summary := summarize(results, state.progress.AvgProcTime)
	status := model.BatchCompleted
	switch {
	case state.cancelled():
		status = model.BatchCancelled
	case summary.Succeeded == 0:
		status = model.BatchFailed
	case summary.Failed > 0:
		status = model.BatchPartiallyCompleted
	}

	o.mu.Lock()
	state.results = results
	state.summary = summary
	state.status = status
	snap := o.snapshotLocked(state)
	o.mu.Unlock()

	if status != model.BatchCancelled && o.exporter != nil {
		path, err := o.exporter.Export(snap, state.req.ExportFormat, state.req.ExportPath)
		if err != nil {
			log.Warn("batch: export failed", zap.Error(err))
		} else {
			o.mu.Lock()
			state.exportPath = path
			snap.ExportPath = path
			o.mu.Unlock()
		}
	}
	o.storeSnapshot(snap)

	log.Info("batch: settled",
		zap.String("status", string(status)),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
	)
}

// finish releases the execution slot and starts the most urgent pending
// batch, skipping any cancelled while queued.
func (o *Orchestrator) finish(state *batchState) {
	o.mu.Lock()
	progress := state.progress
	o.mu.Unlock()
	o.notify(state.id, progress)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.active--
	delete(o.observers, state.id)

	for len(o.pending) > 0 {
		sort.SliceStable(o.pending, func(i, j int) bool {
			si, sj := o.pending[i].req.Bucket.Score(), o.pending[j].req.Bucket.Score()
			if si != sj {
				return si < sj
			}
			return o.pending[i].seq < o.pending[j].seq
		})
		next := o.pending[0]
		o.pending = o.pending[1:]
		if next.cancelled() {
			continue
		}
		o.active++
		o.wg.Add(1)
		go o.run(next)
		return
	}
}

// summarize derives batch statistics from settled results.
func summarize(results []model.BatchResult, avgProc time.Duration) *model.BatchSummary {
	summary := &model.BatchSummary{
		Total:       len(results),
		AvgProcTime: avgProc,
	}

	var confTotal float64
	var procTotal time.Duration
	var procCount int
	for _, res := range results {
		resp := res.Response
		if resp == nil || !resp.Success {
			summary.Failed++
			continue
		}
		summary.Succeeded++
		procTotal += resp.ProcessingTime
		procCount++

		rec := resp.Record
		if rec == nil {
			continue
		}
		confTotal += rec.Scores.Confidence
		if rec.Basic.Industry != "" {
			if summary.IndustryDistribution == nil {
				summary.IndustryDistribution = make(map[string]int)
			}
			summary.IndustryDistribution[rec.Basic.Industry]++
		}
		if rec.Basic.Size != "" {
			if summary.SizeDistribution == nil {
				summary.SizeDistribution = make(map[model.CompanySize]int)
			}
			summary.SizeDistribution[rec.Basic.Size]++
		}
	}

	if summary.Total > 0 {
		summary.SuccessRate = float64(summary.Succeeded) / float64(summary.Total)
	}
	if summary.Succeeded > 0 {
		summary.AvgConfidence = confTotal / float64(summary.Succeeded)
	}
	if procCount > 0 {
		summary.AvgProcTime = procTotal / time.Duration(procCount)
	}
	return summary
}
