// Package router implements a radix-tree HTTP route matcher.
//
// Path templates are made of literal segments, `{name}` parameters and a
// trailing `*` catch-all. Matching is deterministic and independent of
// registration order: a literal segment always outranks a parameter at the
// same depth, and the catch-all branch is tried last. Templates that cannot
// be told apart are rejected at registration time.
package router

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Param is a single captured path parameter.
type Param struct {
	Key   string
	Value string
}

// Match is the result of a successful lookup: the registered payload plus
// the captured parameters in template order.
type Match[T any] struct {
	Value   T
	Pattern string
	Params  []Param
}

// Route describes a registered method/pattern pair.
type Route struct {
	Method  string
	Pattern string
}

// Router maps (method, path) to a payload of type T. Registration is not
// safe for concurrent use; lookups are read-only and require no locking
// once registration is complete.
type Router[T any] struct {
	root   *node[T]
	routes []Route
}

// New creates an empty router.
func New[T any]() *Router[T] {
	return &Router[T]{root: &node[T]{}}
}

var knownMethods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodPatch:   {},
	http.MethodDelete:  {},
	http.MethodConnect: {},
	http.MethodOptions: {},
	http.MethodTrace:   {},
}

// Register inserts a route. It fails with ErrRouteConflict if a route with
// the same method and an indistinguishable template already exists, and
// with ErrInvalidPattern for malformed templates.
func (r *Router[T]) Register(method, pattern string, value T) error {
	method = strings.ToUpper(method)
	if _, ok := knownMethods[method]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidMethod, method)
	}
	if len(pattern) == 0 || pattern[0] != '/' {
		return fmt.Errorf("%w: %q", ErrInvalidPattern, pattern)
	}

	if err := r.root.insert(method, pattern, value); err != nil {
		return err
	}

	r.routes = append(r.routes, Route{Method: method, Pattern: pattern})
	return nil
}

// Match looks up a request path. It returns ErrNotFound when no template
// matches, and a *MethodNotAllowedError (matching ErrMethodNotAllowed via
// errors.Is) when the path is known but the method is not registered.
func (r *Router[T]) Match(method, path string) (*Match[T], error) {
	method = strings.ToUpper(method)
	if path == "" {
		path = "/"
	}

	caps := &captures{}
	n := r.root.find(path, caps)
	if n == nil {
		return nil, ErrNotFound
	}

	ep := n.endpoints[method]
	if ep == nil {
		allow := make([]string, 0, len(n.endpoints))
		for m := range n.endpoints {
			allow = append(allow, m)
		}
		sort.Strings(allow)
		return nil, &MethodNotAllowedError{Allow: allow}
	}

	params := make([]Param, 0, len(ep.paramKeys))
	for i, key := range ep.paramKeys {
		if i < len(caps.values) {
			params = append(params, Param{Key: key, Value: caps.values[i]})
		}
	}

	return &Match[T]{Value: ep.value, Pattern: ep.pattern, Params: params}, nil
}

// Routes returns all registered routes in registration order.
func (r *Router[T]) Routes() []Route {
	out := make([]Route, len(r.routes))
	copy(out, r.routes)
	return out
}
