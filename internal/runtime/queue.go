package runtime

import (
	"container/heap"
	"sync"

	"github.com/sells-group/webintel/internal/model"
)

// queueItem pairs a task with its submission sequence for FIFO
// tie-breaking among equal priorities.
type queueItem struct {
	task *model.Task
	seq  uint64
}

type taskHeap []queueItem

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(queueItem)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// taskQueue is a blocking max-heap priority queue. Dequeue suspends until
// work exists or the queue is closed.
type taskQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	heap   taskHeap
	seq    uint64
	closed bool
}

func newTaskQueue() *taskQueue {
	q := &taskQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// enqueue adds a task. Returns false after close.
func (q *taskQueue) enqueue(task *model.Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.seq++
	heap.Push(&q.heap, queueItem{task: task, seq: q.seq})
	q.cond.Signal()
	return true
}

// dequeue blocks until a task is available or the queue closes. The
// second return is false when the queue is drained and closed.
func (q *taskQueue) dequeue() (*model.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.heap) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.heap) == 0 {
		return nil, false
	}
	item := heap.Pop(&q.heap).(queueItem)
	return item.task, true
}

// close wakes all waiters; queued tasks may still be drained.
func (q *taskQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

func (q *taskQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}
