// Package depends provides declarative dependency injection for request
// handlers.
//
// Providers are registered once at startup with the names of the
// sub-dependencies they require. Finalize validates the resulting directed
// graph and rejects cycles before the server ever accepts a request. At
// request time a Scope resolves values lazily, caches them per request, and
// tears down acquired resources in reverse order once the response is out.
package depends

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrCyclicDependency is returned by Finalize when the declared graph
	// contains a cycle. This is a startup failure, never a request error.
	ErrCyclicDependency = errors.New("cyclic dependency")

	// ErrUnknownDependency is returned for names with no registered provider.
	ErrUnknownDependency = errors.New("unknown dependency")

	// ErrDuplicateProvider is returned when a name is registered twice.
	ErrDuplicateProvider = errors.New("provider already registered")

	// ErrUndeclaredDependency is returned when a provider resolves a
	// sub-dependency it did not declare. Declared edges are what the cycle
	// check validates, so undeclared edges are refused outright.
	ErrUndeclaredDependency = errors.New("undeclared sub-dependency")

	// ErrNotFinalized is returned when a scope is created before Finalize.
	ErrNotFinalized = errors.New("registry not finalized")
)

// ProviderFunc computes a dependency value. Sub-dependencies are fetched
// through the scope; only declared names may be requested.
type ProviderFunc func(ctx context.Context, s *Scope) (any, error)

// provider is a node in the dependency graph.
type provider struct {
	name     string
	fn       ProviderFunc
	requires []string
	noCache  bool
}

// ProviderOption configures a provider at registration.
type ProviderOption func(*provider)

// Requires declares the sub-dependency names the provider resolves.
func Requires(names ...string) ProviderOption {
	return func(p *provider) {
		p.requires = append(p.requires, names...)
	}
}

// NoCache makes every resolution recompute the value instead of reusing
// the per-request cached one.
func NoCache() ProviderOption {
	return func(p *provider) {
		p.noCache = true
	}
}

// Registry holds the dependency graph. Register and Finalize are meant for
// startup; after Finalize the registry is immutable and safe for
// concurrent scope creation.
type Registry struct {
	providers map[string]*provider
	finalized bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]*provider)}
}

// Register adds a named provider. Names are the dependency identities used
// for per-request deduplication.
func (r *Registry) Register(name string, fn ProviderFunc, opts ...ProviderOption) error {
	if r.finalized {
		return errors.New("registry already finalized")
	}
	if _, ok := r.providers[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateProvider, name)
	}

	p := &provider{name: name, fn: fn}
	for _, opt := range opts {
		opt(p)
	}
	r.providers[name] = p
	return nil
}

// Finalize validates the graph: every declared edge must point at a
// registered provider and the graph must be acyclic. After a successful
// Finalize the registry accepts no further registrations.
func (r *Registry) Finalize() error {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)

	const (
		unvisited = iota
		inProgress
		done
	)
	state := make(map[string]int, len(r.providers))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		p, ok := r.providers[name]
		if !ok {
			return fmt.Errorf("%w: %q required by %q", ErrUnknownDependency, name, path[len(path)-1])
		}
		switch state[name] {
		case done:
			return nil
		case inProgress:
			return fmt.Errorf("%w: %q", ErrCyclicDependency, name)
		}

		state[name] = inProgress
		for _, sub := range p.requires {
			if err := visit(sub, append(path, name)); err != nil {
				return err
			}
		}
		state[name] = done
		return nil
	}

	for _, name := range names {
		if err := visit(name, []string{name}); err != nil {
			return err
		}
	}

	r.finalized = true
	return nil
}

// NewScope creates a per-request resolution scope. The scope is owned by a
// single request and is not safe for concurrent use.
func (r *Registry) NewScope() (*Scope, error) {
	if !r.finalized {
		return nil, ErrNotFinalized
	}
	return &Scope{registry: r}, nil
}
