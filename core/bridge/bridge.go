// Package bridge serializes invocation of user logic behind a single
// call-lock.
//
// The I/O layer runs requests concurrently across many goroutines; the
// embedded runtime that executes user logic is not re-entrant and must see
// at most one invocation at any instant. The bridge reconciles the two:
// a goroutine that has fully resolved a handler's arguments acquires the
// call-lock (FIFO under contention), performs the invocation, and releases
// the lock on return. The lock is held only for the duration of the call,
// never across I/O waits — handlers suspend through Call.Yield, which
// releases the lock for the awaited operation and reacquires it before the
// handler resumes.
package bridge

import (
	"context"
	"io"
	"log/slog"
	"runtime/debug"
	"time"
)

// Bridge owns the process-wide call-lock.
type Bridge struct {
	lock           callLock
	acquireTimeout time.Duration
	logger         *slog.Logger
	waitObserver   func(time.Duration)
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithAcquireTimeout bounds how long an invocation may wait for the
// call-lock before failing with ErrLockTimeout. Zero means wait as long
// as the request context allows.
func WithAcquireTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		b.acquireTimeout = d
	}
}

// WithLogger sets the logger used for invocation diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithWaitObserver installs a callback observing how long each
// invocation waited for the call-lock. Used to feed contention metrics.
func WithWaitObserver(fn func(time.Duration)) Option {
	return func(b *Bridge) {
		b.waitObserver = fn
	}
}

// New creates a Bridge.
func New(opts ...Option) *Bridge {
	b := &Bridge{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Call represents one invocation holding the call-lock. It is valid only
// within the function passed to Invoke and must not escape it.
type Call struct {
	bridge *Bridge
	ctx    context.Context
	held   bool
}

// Context returns the request context of the invocation.
func (c *Call) Context() context.Context { return c.ctx }

// Yield is a suspension point: it releases the call-lock, runs fn (which
// typically awaits I/O), and reacquires the lock before returning so the
// caller may continue. Cancellation is checked here — if the request
// context is done after fn returns, the lock is not reacquired and the
// context error is returned; the handler must abort.
func (c *Call) Yield(fn func(ctx context.Context) error) error {
	c.held = false
	c.bridge.lock.release()

	err := fn(c.ctx)

	if cerr := c.ctx.Err(); cerr != nil {
		return cerr
	}
	if aerr := c.bridge.lock.acquire(c.ctx); aerr != nil {
		return aerr
	}
	c.held = true
	return err
}

// Invoke acquires the call-lock and runs fn under it. Under contention
// the caller waits in FIFO order; if the configured acquire timeout
// elapses first, Invoke fails with ErrLockTimeout without ever running
// fn. A panic inside fn is captured into a *PanicError rather than being
// allowed past the bridge boundary.
func (b *Bridge) Invoke(ctx context.Context, fn func(c *Call) (any, error)) (result any, err error) {
	start := time.Now()

	actx := ctx
	if b.acquireTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, b.acquireTimeout)
		defer cancel()
	}

	if aerr := b.lock.acquire(actx); aerr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrLockTimeout
	}
	if b.waitObserver != nil {
		b.waitObserver(time.Since(start))
	}

	call := &Call{bridge: b, ctx: ctx, held: true}
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{value: p, stack: debug.Stack()}
			b.logger.Error("panic in user logic",
				"value", p,
				"stack", string(debug.Stack()))
		}
		if call.held {
			call.held = false
			b.lock.release()
		}
	}()

	return fn(call)
}

// Run executes fn under the call-lock with no result value. Background
// tasks use it after the response is flushed, so their lock acquisition
// never delays request latency.
func (b *Bridge) Run(ctx context.Context, fn func(c *Call) error) error {
	_, err := b.Invoke(ctx, func(c *Call) (any, error) {
		return nil, fn(c)
	})
	return err
}
