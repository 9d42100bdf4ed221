package strand

import (
	"net/http"

	"github.com/strandkit/strand/core/binder"
	"github.com/strandkit/strand/core/ws"
)

// Handler is a route handler without declared parameters. The return
// value is marshaled by variant: maps, slices, and structs become JSON;
// strings become text or HTML; response.With carries explicit status
// and headers; a Response is used verbatim; nil yields 204.
type Handler func(c *Ctx) (any, error)

// HandlerWith is a route handler with a declared parameter struct. The
// struct's fields are resolved from path, query, body, and dependency
// sources according to their tags before the handler is invoked.
type HandlerWith[P any] func(c *Ctx, params P) (any, error)

// WSHandler drives one WebSocket session. It runs under the call-lock;
// Session.Receive yields the lock while waiting for frames.
type WSHandler func(c *Ctx, s *ws.Session) error

// route is the router payload: the compiled signature descriptor plus
// the invocation adapter built at registration.
type route struct {
	method      string
	pattern     string
	descriptor  *binder.Descriptor
	invoke      func(c *Ctx, params any) (any, error)
	ws          WSHandler
	middlewares []Middleware
}

// register inserts a route, panicking on registration errors: route
// conflicts and invalid templates are programmer mistakes that must
// abort startup, never surface at request time.
func (a *App) register(rt *route) {
	if err := a.router.Register(rt.method, rt.pattern, rt); err != nil {
		panic(err)
	}
}

// Handle registers a parameterless handler for an arbitrary method.
func (a *App) Handle(method, pattern string, h Handler, mws ...Middleware) {
	a.register(&route{
		method:  method,
		pattern: pattern,
		invoke: func(c *Ctx, _ any) (any, error) {
			return h(c)
		},
		middlewares: mws,
	})
}

// Get registers a parameterless GET handler.
func (a *App) Get(pattern string, h Handler, mws ...Middleware) {
	a.Handle(http.MethodGet, pattern, h, mws...)
}

// Post registers a parameterless POST handler.
func (a *App) Post(pattern string, h Handler, mws ...Middleware) {
	a.Handle(http.MethodPost, pattern, h, mws...)
}

// Put registers a parameterless PUT handler.
func (a *App) Put(pattern string, h Handler, mws ...Middleware) {
	a.Handle(http.MethodPut, pattern, h, mws...)
}

// Patch registers a parameterless PATCH handler.
func (a *App) Patch(pattern string, h Handler, mws ...Middleware) {
	a.Handle(http.MethodPatch, pattern, h, mws...)
}

// Delete registers a parameterless DELETE handler.
func (a *App) Delete(pattern string, h Handler, mws ...Middleware) {
	a.Handle(http.MethodDelete, pattern, h, mws...)
}

// WebSocket registers a WebSocket route on GET pattern.
func (a *App) WebSocket(pattern string, h WSHandler, mws ...Middleware) {
	a.register(&route{
		method:      http.MethodGet,
		pattern:     pattern,
		ws:          h,
		middlewares: mws,
	})
}

// Route registers a handler with a declared parameter struct. The
// struct is inspected exactly once, here; request-time resolution is
// table-driven off the compiled descriptor. Methods cannot carry type
// parameters, so typed registration lives in package-level functions.
func Route[P any](a *App, method, pattern string, h HandlerWith[P], mws ...Middleware) {
	desc, err := binder.Describe[P]()
	if err != nil {
		panic(err)
	}
	a.register(&route{
		method:     method,
		pattern:    pattern,
		descriptor: desc,
		invoke: func(c *Ctx, params any) (any, error) {
			return h(c, params.(P))
		},
		middlewares: mws,
	})
}

// Get registers a typed GET handler.
func Get[P any](a *App, pattern string, h HandlerWith[P], mws ...Middleware) {
	Route(a, http.MethodGet, pattern, h, mws...)
}

// Post registers a typed POST handler.
func Post[P any](a *App, pattern string, h HandlerWith[P], mws ...Middleware) {
	Route(a, http.MethodPost, pattern, h, mws...)
}

// Put registers a typed PUT handler.
func Put[P any](a *App, pattern string, h HandlerWith[P], mws ...Middleware) {
	Route(a, http.MethodPut, pattern, h, mws...)
}

// Patch registers a typed PATCH handler.
func Patch[P any](a *App, pattern string, h HandlerWith[P], mws ...Middleware) {
	Route(a, http.MethodPatch, pattern, h, mws...)
}

// Delete registers a typed DELETE handler.
func Delete[P any](a *App, pattern string, h HandlerWith[P], mws ...Middleware) {
	Route(a, http.MethodDelete, pattern, h, mws...)
}
