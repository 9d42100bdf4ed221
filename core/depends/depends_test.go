package depends_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandkit/strand/core/depends"
)

func value(v any) depends.ProviderFunc {
	return func(context.Context, *depends.Scope) (any, error) {
		return v, nil
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	t.Run("duplicate names rejected", func(t *testing.T) {
		t.Parallel()

		reg := depends.NewRegistry()
		require.NoError(t, reg.Register("db", value(1)))
		err := reg.Register("db", value(2))
		assert.ErrorIs(t, err, depends.ErrDuplicateProvider)
	})

	t.Run("finalize rejects cycles", func(t *testing.T) {
		t.Parallel()

		reg := depends.NewRegistry()
		require.NoError(t, reg.Register("a", value(1), depends.Requires("b")))
		require.NoError(t, reg.Register("b", value(2), depends.Requires("c")))
		require.NoError(t, reg.Register("c", value(3), depends.Requires("a")))

		err := reg.Finalize()
		assert.ErrorIs(t, err, depends.ErrCyclicDependency)
	})

	t.Run("finalize rejects self-cycles", func(t *testing.T) {
		t.Parallel()

		reg := depends.NewRegistry()
		require.NoError(t, reg.Register("a", value(1), depends.Requires("a")))
		assert.ErrorIs(t, reg.Finalize(), depends.ErrCyclicDependency)
	})

	t.Run("finalize rejects dangling edges", func(t *testing.T) {
		t.Parallel()

		reg := depends.NewRegistry()
		require.NoError(t, reg.Register("a", value(1), depends.Requires("ghost")))
		assert.ErrorIs(t, reg.Finalize(), depends.ErrUnknownDependency)
	})

	t.Run("scope requires finalize", func(t *testing.T) {
		t.Parallel()

		reg := depends.NewRegistry()
		_, err := reg.NewScope()
		assert.ErrorIs(t, err, depends.ErrNotFinalized)
	})
}

func TestScopeResolve(t *testing.T) {
	t.Parallel()

	t.Run("caches per scope", func(t *testing.T) {
		t.Parallel()

		calls := 0
		reg := depends.NewRegistry()
		require.NoError(t, reg.Register("counter", func(context.Context, *depends.Scope) (any, error) {
			calls++
			return calls, nil
		}))
		require.NoError(t, reg.Finalize())

		scope, err := reg.NewScope()
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			v, err := scope.Resolve(context.Background(), "counter")
			require.NoError(t, err)
			assert.Equal(t, 1, v)
		}
		assert.Equal(t, 1, calls)

		// A fresh scope resolves again.
		scope2, err := reg.NewScope()
		require.NoError(t, err)
		v, err := scope2.Resolve(context.Background(), "counter")
		require.NoError(t, err)
		assert.Equal(t, 2, v)
	})

	t.Run("transitive references resolve once", func(t *testing.T) {
		t.Parallel()

		calls := 0
		reg := depends.NewRegistry()
		require.NoError(t, reg.Register("shared", func(context.Context, *depends.Scope) (any, error) {
			calls++
			return "s", nil
		}))
		require.NoError(t, reg.Register("left", func(ctx context.Context, s *depends.Scope) (any, error) {
			return s.Resolve(ctx, "shared")
		}, depends.Requires("shared")))
		require.NoError(t, reg.Register("right", func(ctx context.Context, s *depends.Scope) (any, error) {
			return s.Resolve(ctx, "shared")
		}, depends.Requires("shared")))
		require.NoError(t, reg.Finalize())

		scope, err := reg.NewScope()
		require.NoError(t, err)
		_, err = scope.Resolve(context.Background(), "left")
		require.NoError(t, err)
		_, err = scope.Resolve(context.Background(), "right")
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("no-cache providers recompute", func(t *testing.T) {
		t.Parallel()

		calls := 0
		reg := depends.NewRegistry()
		require.NoError(t, reg.Register("fresh", func(context.Context, *depends.Scope) (any, error) {
			calls++
			return calls, nil
		}, depends.NoCache()))
		require.NoError(t, reg.Finalize())

		scope, err := reg.NewScope()
		require.NoError(t, err)
		_, err = scope.Resolve(context.Background(), "fresh")
		require.NoError(t, err)
		_, err = scope.Resolve(context.Background(), "fresh")
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("undeclared sub-dependency refused", func(t *testing.T) {
		t.Parallel()

		reg := depends.NewRegistry()
		require.NoError(t, reg.Register("hidden", value(1)))
		require.NoError(t, reg.Register("sneaky", func(ctx context.Context, s *depends.Scope) (any, error) {
			return s.Resolve(ctx, "hidden")
		}))
		require.NoError(t, reg.Finalize())

		scope, err := reg.NewScope()
		require.NoError(t, err)
		_, err = scope.Resolve(context.Background(), "sneaky")
		assert.ErrorIs(t, err, depends.ErrUndeclaredDependency)
	})

	t.Run("unknown name fails", func(t *testing.T) {
		t.Parallel()

		reg := depends.NewRegistry()
		require.NoError(t, reg.Finalize())

		scope, err := reg.NewScope()
		require.NoError(t, err)
		_, err = scope.Resolve(context.Background(), "nope")
		assert.ErrorIs(t, err, depends.ErrUnknownDependency)
	})

	t.Run("provider errors are wrapped with the name", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		reg := depends.NewRegistry()
		require.NoError(t, reg.Register("bad", func(context.Context, *depends.Scope) (any, error) {
			return nil, boom
		}))
		require.NoError(t, reg.Finalize())

		scope, err := reg.NewScope()
		require.NoError(t, err)
		_, err = scope.Resolve(context.Background(), "bad")
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), `"bad"`)
	})
}

func TestScopeTeardown(t *testing.T) {
	t.Parallel()

	t.Run("runs in reverse acquisition order", func(t *testing.T) {
		t.Parallel()

		var order []string
		reg := depends.NewRegistry()
		require.NoError(t, reg.Register("conn", func(_ context.Context, s *depends.Scope) (any, error) {
			s.Defer(func(context.Context) { order = append(order, "conn") })
			return "conn", nil
		}))
		require.NoError(t, reg.Register("tx", func(ctx context.Context, s *depends.Scope) (any, error) {
			if _, err := s.Resolve(ctx, "conn"); err != nil {
				return nil, err
			}
			s.Defer(func(context.Context) { order = append(order, "tx") })
			return "tx", nil
		}, depends.Requires("conn")))
		require.NoError(t, reg.Finalize())

		scope, err := reg.NewScope()
		require.NoError(t, err)
		_, err = scope.Resolve(context.Background(), "tx")
		require.NoError(t, err)

		scope.Close(context.Background())
		assert.Equal(t, []string{"tx", "conn"}, order)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		t.Parallel()

		runs := 0
		reg := depends.NewRegistry()
		require.NoError(t, reg.Register("res", func(_ context.Context, s *depends.Scope) (any, error) {
			s.Defer(func(context.Context) { runs++ })
			return 1, nil
		}))
		require.NoError(t, reg.Finalize())

		scope, err := reg.NewScope()
		require.NoError(t, err)
		_, err = scope.Resolve(context.Background(), "res")
		require.NoError(t, err)

		scope.Close(context.Background())
		scope.Close(context.Background())
		assert.Equal(t, 1, runs)
	})

	t.Run("teardowns run when a later provider fails", func(t *testing.T) {
		t.Parallel()

		released := false
		reg := depends.NewRegistry()
		require.NoError(t, reg.Register("res", func(_ context.Context, s *depends.Scope) (any, error) {
			s.Defer(func(context.Context) { released = true })
			return 1, nil
		}))
		require.NoError(t, reg.Register("bad", func(ctx context.Context, s *depends.Scope) (any, error) {
			if _, err := s.Resolve(ctx, "res"); err != nil {
				return nil, err
			}
			return nil, errors.New("boom")
		}, depends.Requires("res")))
		require.NoError(t, reg.Finalize())

		scope, err := reg.NewScope()
		require.NoError(t, err)
		_, err = scope.Resolve(context.Background(), "bad")
		require.Error(t, err)

		scope.Close(context.Background())
		assert.True(t, released)
	})
}
