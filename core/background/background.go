// Package background implements deferred post-response task execution.
// Handlers enqueue tasks during request handling; the runner executes
// them after the response has been flushed, under the call-lock, and
// before the request's dependency scope is torn down.
package background

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Task is a single deferred unit of work with its arguments already
// bound at enqueue time.
type Task struct {
	ID   uuid.UUID
	Name string
	Fn   func(ctx context.Context) error
}

// Tasks collects the background tasks of one request. A zero value is
// not usable; create with NewTasks. Safe for concurrent use, though a
// request's tasks are normally enqueued from a single invocation.
type Tasks struct {
	mu    sync.Mutex
	tasks []Task
}

// NewTasks creates an empty task list.
func NewTasks() *Tasks {
	return &Tasks{}
}

// Add enqueues an unnamed task.
func (t *Tasks) Add(fn func(ctx context.Context) error) {
	t.AddNamed("", fn)
}

// AddNamed enqueues a task with a name used in failure logs.
func (t *Tasks) AddNamed(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tasks = append(t.tasks, Task{ID: uuid.New(), Name: name, Fn: fn})
}

// Len reports how many tasks are enqueued.
func (t *Tasks) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tasks)
}

// take removes and returns all enqueued tasks in enqueue order.
func (t *Tasks) take() []Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	tasks := t.tasks
	t.tasks = nil
	return tasks
}
