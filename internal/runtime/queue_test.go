package runtime

import (
	"testing"

	"github.com/sells-group/webintel/internal/model"
)

func task(id string, priority float64) *model.Task {
	return &model.Task{ID: id, Priority: priority, State: model.TaskQueued}
}

func TestQueue_PriorityOrder(t *testing.T) {
	q := newTaskQueue()
	q.enqueue(task("low", 1))
	q.enqueue(task("high", 4))
	q.enqueue(task("mid", 2))

	for _, want := range []string{"high", "mid", "low"} {
		got, ok := q.dequeue()
		if !ok {
			t.Fatal("queue closed unexpectedly")
		}
		if got.ID != want {
			t.Fatalf("dequeue order: got %s, want %s", got.ID, want)
		}
	}
}

func TestQueue_FIFOTiebreak(t *testing.T) {
	q := newTaskQueue()
	for _, id := range []string{"a", "b", "c"} {
		q.enqueue(task(id, 2))
	}

	for _, want := range []string{"a", "b", "c"} {
		got, _ := q.dequeue()
		if got.ID != want {
			t.Fatalf("equal-priority order: got %s, want %s", got.ID, want)
		}
	}
}

func TestQueue_BlockingDequeue(t *testing.T) {
	q := newTaskQueue()
	done := make(chan string)

	go func() {
		got, ok := q.dequeue()
		if !ok {
			done <- ""
			return
		}
		done <- got.ID
	}()

	q.enqueue(task("later", 1))
	if got := <-done; got != "later" {
		t.Fatalf("blocked dequeue got %q", got)
	}
}

func TestQueue_CloseDrains(t *testing.T) {
	q := newTaskQueue()
	q.enqueue(task("pending", 1))
	q.close()

	if ok := q.enqueue(task("rejected", 1)); ok {
		t.Fatal("enqueue after close must be rejected")
	}

	got, ok := q.dequeue()
	if !ok || got.ID != "pending" {
		t.Fatalf("queued work must drain after close, got %v %v", got, ok)
	}

	if _, ok := q.dequeue(); ok {
		t.Fatal("empty closed queue must report done")
	}
}
