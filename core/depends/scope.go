package depends

import (
	"context"
	"fmt"
)

// Scope is the per-request resolution state: a cache keyed by dependency
// identity and the teardown stack for acquired resources. One scope serves
// exactly one request and is torn down after the response is finalized.
type Scope struct {
	registry  *Registry
	cache     map[string]any
	teardowns []func(ctx context.Context)
	stack     []string
}

// Resolve returns the value for a dependency identity. Cached providers
// are invoked at most once per scope regardless of how many handlers or
// sub-dependencies reference them; sub-dependencies resolve depth-first
// before the provider itself runs.
func (s *Scope) Resolve(ctx context.Context, name string) (any, error) {
	p, ok := s.registry.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDependency, name)
	}

	// Providers may only reach the sub-dependencies they declared; the
	// cycle check at Finalize covers declared edges only.
	if len(s.stack) > 0 {
		parent := s.registry.providers[s.stack[len(s.stack)-1]]
		if !contains(parent.requires, name) {
			return nil, fmt.Errorf("%w: %q requested by %q", ErrUndeclaredDependency, name, parent.name)
		}
	}

	if !p.noCache {
		if v, ok := s.cache[name]; ok {
			return v, nil
		}
	}

	s.stack = append(s.stack, name)
	v, err := p.fn(ctx, s)
	s.stack = s.stack[:len(s.stack)-1]
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", name, err)
	}

	if !p.noCache {
		if s.cache == nil {
			s.cache = make(map[string]any)
		}
		s.cache[name] = v
	}
	return v, nil
}

// Defer registers a teardown for a resource acquired by a provider.
// Teardowns run in reverse acquisition order when the scope closes,
// regardless of whether the handler succeeded.
func (s *Scope) Defer(fn func(ctx context.Context)) {
	if fn != nil {
		s.teardowns = append(s.teardowns, fn)
	}
}

// Close runs pending teardowns in reverse acquisition order. It is
// idempotent: teardowns run exactly once.
func (s *Scope) Close(ctx context.Context) {
	for i := len(s.teardowns) - 1; i >= 0; i-- {
		s.teardowns[i](ctx)
	}
	s.teardowns = nil
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
