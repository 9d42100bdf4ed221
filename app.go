package strand

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/strandkit/strand/core/background"
	"github.com/strandkit/strand/core/bridge"
	"github.com/strandkit/strand/core/config"
	"github.com/strandkit/strand/core/depends"
	"github.com/strandkit/strand/core/handler"
	"github.com/strandkit/strand/core/response"
	"github.com/strandkit/strand/core/router"
	"github.com/strandkit/strand/core/server"
	"github.com/strandkit/strand/core/ws"
)

// Response renders an HTTP response. Alias of the core handler type.
type Response = handler.Response

// HandlerFunc is the middleware-facing handler shape.
type HandlerFunc = handler.HandlerFunc[*Ctx]

// Middleware wraps handlers in the classic onion style.
type Middleware = handler.Middleware[*Ctx]

// Hook is a middleware entry expressed as optional before/after/error
// phase functions.
type Hook = handler.Hook[*Ctx]

// ErrorHandlerFunc converts an error into a response, or returns nil to
// pass the error along.
type ErrorHandlerFunc func(c *Ctx, err error) Response

// App is the request-processing engine: it routes requests, resolves
// handler parameters and dependencies, serializes user logic through
// the call-lock, and marshals return values to the wire.
//
// Routes, dependencies, middleware, and error handlers are registered
// at startup; registration failures (conflicting routes, invalid
// templates, cyclic dependencies) panic immediately rather than being
// deferred to request time. After Finalize the app is immutable and
// safe for concurrent use.
type App struct {
	router      *router.Router[*route]
	registry    *depends.Registry
	hooks       *handler.HookChain[*Ctx]
	middlewares []Middleware
	bridge      *bridge.Bridge
	runner      *background.Runner
	upgrader    *ws.Upgrader
	logger      *slog.Logger
	debug       bool

	typeHandlers   []typeErrorHandler
	statusHandlers map[int]ErrorHandlerFunc

	lockTimeout  time.Duration
	waitObserver func(time.Duration)

	finalizeOnce sync.Once
	finalizeErr  error
}

// Option configures an App.
type Option func(*App)

// WithLogger sets the logger used across the engine. Defaults to a
// no-op logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithDebug surfaces error details and panic traces in 500 bodies.
// Never enable it in production.
func WithDebug() Option {
	return func(a *App) {
		a.debug = true
	}
}

// WithLockTimeout bounds how long a request may wait for the call-lock
// before failing with a 503. Zero waits as long as the request context
// allows.
func WithLockTimeout(d time.Duration) Option {
	return func(a *App) {
		a.lockTimeout = d
	}
}

// WithLockWaitObserver installs a callback observing per-request
// call-lock wait time, used to feed contention metrics.
func WithLockWaitObserver(fn func(time.Duration)) Option {
	return func(a *App) {
		a.waitObserver = fn
	}
}

// WithUpgrader replaces the default WebSocket upgrader.
func WithUpgrader(u *ws.Upgrader) Option {
	return func(a *App) {
		if u != nil {
			a.upgrader = u
		}
	}
}

// New creates an App.
func New(opts ...Option) *App {
	a := &App{
		router:         router.New[*route](),
		registry:       depends.NewRegistry(),
		hooks:          handler.NewHookChain[*Ctx](),
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		statusHandlers: make(map[int]ErrorHandlerFunc),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.bridge = bridge.New(
		bridge.WithAcquireTimeout(a.lockTimeout),
		bridge.WithLogger(a.logger),
		bridge.WithWaitObserver(a.waitObserver),
	)
	a.runner = background.NewRunner(a.bridge, background.WithLogger(a.logger))
	if a.upgrader == nil {
		a.upgrader = ws.NewUpgrader(ws.WithLogger(a.logger))
	}
	return a
}

// Config holds engine configuration with environment variable support.
type Config struct {
	Debug       bool          `env:"STRAND_DEBUG" envDefault:"false"`
	LockTimeout time.Duration `env:"STRAND_LOCK_TIMEOUT" envDefault:"5s"`
}

// NewFromConfig creates an App from configuration. Additional options
// override config values.
func NewFromConfig(cfg Config, opts ...Option) *App {
	configOpts := []Option{WithLockTimeout(cfg.LockTimeout)}
	if cfg.Debug {
		configOpts = append(configOpts, WithDebug())
	}
	return New(append(configOpts, opts...)...)
}

// Use appends wrapper middleware applied to every route. The first
// registered middleware becomes the outermost wrapper.
func (a *App) Use(mws ...Middleware) {
	a.middlewares = append(a.middlewares, mws...)
}

// Hook appends hook-style middleware entries. Before functions run in
// registration order, After functions unwind in reverse, OnError
// functions run innermost-first.
func (a *App) Hook(hooks ...Hook) {
	a.hooks.Append(hooks...)
}

// Provide registers a named dependency provider. Providers declare
// their sub-dependencies with depends.Requires; the resulting graph is
// validated before the first request and cycles abort startup.
func (a *App) Provide(name string, fn depends.ProviderFunc, opts ...depends.ProviderOption) {
	if err := a.registry.Register(name, fn, opts...); err != nil {
		panic(err)
	}
}

// OnStatus installs an error handler for responses that would carry the
// given status code. It runs only when no exact-type handler matched.
func (a *App) OnStatus(code int, fn ErrorHandlerFunc) {
	a.statusHandlers[code] = fn
}

// Finalize validates the dependency graph. It is called automatically
// before the first request and by Run; calling it earlier surfaces
// registration mistakes sooner. The result is memoized.
func (a *App) Finalize() error {
	a.finalizeOnce.Do(func() {
		a.finalizeErr = a.registry.Finalize()
	})
	return a.finalizeErr
}

// Router exposes the registered routes for inspection.
func (a *App) Routes() []router.Route {
	return a.router.Routes()
}

// ServeHTTP implements http.Handler. The request lifecycle is strictly
// sequential: match, before-hooks, parameter and dependency resolution,
// invocation under the call-lock, after-hooks, render. Background tasks
// and dependency teardown run after the response is out.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := a.Finalize(); err != nil {
		a.logger.Error("startup validation failed", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	sw := newStatusWriter(w)
	c := newCtx(sw, r)

	m, err := a.router.Match(r.Method, r.URL.Path)
	if err != nil {
		a.render(c, sw, a.errorResponse(c, err))
		return
	}
	rt := m.Value
	c.params = m.Params

	scope, err := a.registry.NewScope()
	if err != nil {
		a.logger.Error("scope creation failed", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	c.scope = scope

	a.render(c, sw, a.dispatch(rt)(c))

	// The response is flushed; drain deferred work before the scope and
	// its resources go away. Client disconnects must not cancel either.
	post := context.WithoutCancel(r.Context())
	a.runner.Drain(post, c.tasks)
	scope.Close(post)
}

// dispatch builds the request pipeline: wrapper middleware outermost,
// the hook chain inside it, the locked invocation at the center. Errors
// that survive the on-error hooks are converted to responses before the
// middleware unwinds, so instrumenting middleware observes error
// renders with their real status codes.
func (a *App) dispatch(rt *route) HandlerFunc {
	core := func(c *Ctx) Response {
		resp, err := a.hooks.Run(c, func(c *Ctx) (Response, error) {
			return a.perform(rt, c)
		})
		if err != nil {
			return a.errorResponse(c, err)
		}
		if resp == nil {
			return response.NoContent()
		}
		return resp
	}

	mws := a.middlewares
	if len(rt.middlewares) > 0 {
		mws = append(append([]Middleware{}, mws...), rt.middlewares...)
	}
	return handler.Chain(mws, core)
}

// perform resolves the handler's arguments and invokes it under the
// call-lock. Resolution happens before the lock is requested, so slow
// parsing never serializes behind other requests.
func (a *App) perform(rt *route, c *Ctx) (Response, error) {
	if rt.ws != nil {
		return a.performWS(rt, c), nil
	}

	var params any
	if rt.descriptor != nil {
		p, err := rt.descriptor.Resolve(c.r.Context(), c.r, c.pathValue, c.scope)
		if err != nil {
			return nil, err
		}
		params = p
	}

	result, err := a.bridge.Invoke(c.r.Context(), func(call *bridge.Call) (any, error) {
		c.call = call
		defer func() { c.call = nil }()
		return rt.invoke(c, params)
	})
	if err != nil {
		return nil, err
	}
	return response.Marshal(result), nil
}

// performWS defers the upgrade to render time so after-hooks observe
// the response before the connection is hijacked. The session loop runs
// under the call-lock; Receive yields it while waiting for frames.
func (a *App) performWS(rt *route, c *Ctx) Response {
	return func(w http.ResponseWriter, r *http.Request) error {
		sess, err := a.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// The upgrader has already written the handshake failure.
			a.logger.Warn("websocket upgrade failed", "error", err)
			return nil
		}
		defer func() { _ = sess.Close() }()

		return a.bridge.Run(r.Context(), func(call *bridge.Call) error {
			c.call = call
			defer func() { c.call = nil }()
			sess.Bind(call.Yield)
			return rt.ws(c, sess)
		})
	}
}

// render executes resp, falling back to the error pipeline when
// rendering itself fails before anything was written.
func (a *App) render(c *Ctx, sw *statusWriter, resp Response) {
	if resp == nil {
		return
	}
	err := resp(sw, c.r)
	if err == nil {
		return
	}
	if sw.Written() {
		a.logger.Error("response render failed after write",
			"method", c.r.Method,
			"path", c.r.URL.Path,
			"error", err)
		return
	}
	fallback := a.errorResponse(c, err)
	if rerr := fallback(sw, c.r); rerr != nil {
		a.logger.Error("error response render failed", "error", rerr)
		if !sw.Written() {
			http.Error(sw, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	}
}

// Run finalizes the app and serves it on addr until ctx is cancelled,
// shutting down gracefully.
func (a *App) Run(ctx context.Context, addr string) error {
	if err := a.Finalize(); err != nil {
		return err
	}
	srv := server.New(addr, server.WithLogger(a.logger))
	g, ctx := errgroup.WithContext(ctx)
	g.Go(srv.Run(ctx, a))
	return g.Wait()
}

// RunFromEnv is Run with the listen address and server timeouts loaded
// from SERVER_* environment variables.
func (a *App) RunFromEnv(ctx context.Context) error {
	if err := a.Finalize(); err != nil {
		return err
	}
	var cfg server.Config
	if err := config.Load(&cfg); err != nil {
		return err
	}
	srv, err := server.NewFromConfig(cfg, server.WithLogger(a.logger))
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(srv.Run(ctx, a))
	return g.Wait()
}
