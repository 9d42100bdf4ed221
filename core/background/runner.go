package background

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/strandkit/strand/core/bridge"
)

// Runner executes a request's background tasks in enqueue order. Each
// task runs under the call-lock, acquired only after the response has
// been flushed, so task execution never delays request latency. A
// failing task is logged and does not stop the remaining tasks.
type Runner struct {
	bridge *bridge.Bridge
	logger *slog.Logger

	tasksRun    atomic.Int64
	tasksFailed atomic.Int64
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the logger used for task failures.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRunner creates a Runner bound to the given bridge.
func NewRunner(b *bridge.Bridge, opts ...RunnerOption) *Runner {
	r := &Runner{
		bridge: b,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Drain runs and removes all tasks enqueued on t. It returns once every
// task has completed; panics inside a task surface as errors at the
// bridge boundary and are logged like any other task failure.
func (r *Runner) Drain(ctx context.Context, t *Tasks) {
	if t == nil {
		return
	}
	for _, task := range t.take() {
		task := task
		err := r.bridge.Run(ctx, func(c *bridge.Call) error {
			return task.Fn(c.Context())
		})
		r.tasksRun.Add(1)
		if err != nil {
			r.tasksFailed.Add(1)
			r.logger.Error("background task failed",
				"task_id", task.ID,
				"task_name", task.Name,
				"error", err)
		}
	}
}

// Stats reports how many tasks the runner has executed and how many of
// those failed.
func (r *Runner) Stats() (run, failed int64) {
	return r.tasksRun.Load(), r.tasksFailed.Load()
}
