package strand

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/strandkit/strand/core/background"
	"github.com/strandkit/strand/core/bridge"
	"github.com/strandkit/strand/core/depends"
	"github.com/strandkit/strand/core/router"
)

// Ctx is the per-request context passed to handlers, hooks, and
// middleware. It carries the parsed request views, the captured path
// parameters, the request's dependency scope, and the background task
// list. A Ctx is owned by the handling goroutine and never shared
// across requests.
type Ctx struct {
	w      http.ResponseWriter
	r      *http.Request
	params []router.Param
	scope  *depends.Scope
	tasks  *background.Tasks
	call   *bridge.Call

	mu     sync.RWMutex
	values map[any]any
}

func newCtx(w http.ResponseWriter, r *http.Request) *Ctx {
	return &Ctx{w: w, r: r, tasks: background.NewTasks()}
}

// Request returns the underlying HTTP request.
func (c *Ctx) Request() *http.Request { return c.r }

// ResponseWriter returns the underlying response writer.
func (c *Ctx) ResponseWriter() http.ResponseWriter { return c.w }

// Param returns a captured path parameter, or "" when absent.
func (c *Ctx) Param(key string) string {
	v, _ := c.pathValue(key)
	return v
}

// Query returns the first query value for key, or "" when absent.
func (c *Ctx) Query(key string) string {
	return c.r.URL.Query().Get(key)
}

// Header returns the first request header value for key.
func (c *Ctx) Header(key string) string {
	return c.r.Header.Get(key)
}

// SetValue stores a request-scoped value readable through Value.
func (c *Ctx) SetValue(key, val any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = make(map[any]any)
	}
	c.values[key] = val
}

// Value implements context.Context. Values set through SetValue shadow
// values carried by the request's context.
func (c *Ctx) Value(key any) any {
	c.mu.RLock()
	if v, ok := c.values[key]; ok {
		c.mu.RUnlock()
		return v
	}
	c.mu.RUnlock()
	return c.r.Context().Value(key)
}

// Deadline implements context.Context.
func (c *Ctx) Deadline() (time.Time, bool) { return c.r.Context().Deadline() }

// Done implements context.Context.
func (c *Ctx) Done() <-chan struct{} { return c.r.Context().Done() }

// Err implements context.Context.
func (c *Ctx) Err() error { return c.r.Context().Err() }

// Await is a suspension point. While the handler holds the call-lock,
// Await releases it, runs fn (which typically waits on I/O), and
// reacquires the lock before returning, so other invocations proceed
// during the wait. Outside an invocation it simply runs fn.
func (c *Ctx) Await(fn func(ctx context.Context) error) error {
	if c.call != nil {
		return c.call.Yield(fn)
	}
	return fn(c.r.Context())
}

// Tasks returns the request's background task list. Tasks run after the
// response has been flushed, under the call-lock, and before the
// dependency scope is torn down.
func (c *Ctx) Tasks() *background.Tasks { return c.tasks }

// Defer enqueues an unnamed background task.
func (c *Ctx) Defer(fn func(ctx context.Context) error) {
	c.tasks.Add(fn)
}

// Resolve fetches a dependency by identity from the request scope,
// sharing the per-request cache with declared handler dependencies.
func (c *Ctx) Resolve(name string) (any, error) {
	if c.scope == nil {
		return nil, depends.ErrNotFinalized
	}
	return c.scope.Resolve(c.r.Context(), name)
}

// pathValue adapts captured parameters to the binder's lookup shape.
func (c *Ctx) pathValue(name string) (string, bool) {
	for _, p := range c.params {
		if p.Key == name {
			return p.Value, true
		}
	}
	return "", false
}
