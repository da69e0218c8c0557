package model

import "time"

// TaskState is the lifecycle of a queued extraction task.
type TaskState string

const (
	TaskQueued     TaskState = "queued"
	TaskProcessing TaskState = "processing"
	TaskCompleted  TaskState = "completed"
	TaskFailed     TaskState = "failed"
)

// Task wraps one request for the concurrent runtime. The queue owns a task
// exclusively until a worker dequeues it; status reads return copies.
type Task struct {
	ID         string     `json:"task_id"`
	Request    Request    `json:"request"`
	Priority   float64    `json:"priority"`
	State      TaskState  `json:"state"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Response   *Response  `json:"response,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Settled reports whether the task has reached a terminal state.
func (t *Task) Settled() bool {
	return t.State == TaskCompleted || t.State == TaskFailed
}
