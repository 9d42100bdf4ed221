package strand_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	strand "github.com/strandkit/strand"
	"github.com/strandkit/strand/core/depends"
	"github.com/strandkit/strand/core/response"
	"github.com/strandkit/strand/core/ws"
)

func do(t *testing.T, app *strand.App, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	app.ServeHTTP(w, r)
	return w
}

func TestTypedRouteCoercion(t *testing.T) {
	t.Parallel()

	type getUser struct {
		ID int64 `path:"id"`
	}

	invoked := atomic.Int32{}
	app := strand.New()
	strand.Get(app, "/users/{id}", func(c *strand.Ctx, p getUser) (any, error) {
		invoked.Add(1)
		return map[string]any{"id": p.ID}, nil
	})

	t.Run("coerced integer reaches the handler", func(t *testing.T) {
		w := do(t, app, http.MethodGet, "/users/42", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"id":42}`, w.Body.String())
		assert.Equal(t, int32(1), invoked.Load())
	})

	t.Run("coercion failure yields 422 and skips the handler", func(t *testing.T) {
		before := invoked.Load()
		w := do(t, app, http.MethodGet, "/users/abc", "")
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, before, invoked.Load())

		var body struct {
			Detail []struct {
				Loc  []string `json:"loc"`
				Msg  string   `json:"msg"`
				Type string   `json:"type"`
			} `json:"detail"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Len(t, body.Detail, 1)
		assert.Equal(t, []string{"path", "id"}, body.Detail[0].Loc)
		assert.Equal(t, "int_parsing", body.Detail[0].Type)
	})
}

func TestDefaultErrorBodies(t *testing.T) {
	t.Parallel()

	app := strand.New()
	app.Get("/only-get", func(c *strand.Ctx) (any, error) { return "ok", nil })

	t.Run("404", func(t *testing.T) {
		w := do(t, app, http.MethodGet, "/missing", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.JSONEq(t, `{"detail":"Not Found"}`, w.Body.String())
	})

	t.Run("405 with Allow header", func(t *testing.T) {
		w := do(t, app, http.MethodPost, "/only-get", "")
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
		assert.Equal(t, "GET", w.Header().Get("Allow"))
		assert.JSONEq(t, `{"detail":"Method Not Allowed"}`, w.Body.String())
	})
}

func TestMarshalingVariants(t *testing.T) {
	t.Parallel()

	app := strand.New()
	app.Get("/text", func(c *strand.Ctx) (any, error) { return "hello", nil })
	app.Get("/html", func(c *strand.Ctx) (any, error) { return "<h1>hi</h1>", nil })
	app.Get("/none", func(c *strand.Ctx) (any, error) { return nil, nil })
	app.Get("/tuple", func(c *strand.Ctx) (any, error) {
		return response.With{
			Body:    map[string]string{"state": "created"},
			Status:  http.StatusCreated,
			Header:  http.Header{"X-Resource": []string{"9"}},
			Cookies: []*http.Cookie{{Name: "seen", Value: "1"}},
		}, nil
	})

	t.Run("plain text", func(t *testing.T) {
		w := do(t, app, http.MethodGet, "/text", "")
		assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
		assert.Equal(t, "hello", w.Body.String())
	})

	t.Run("markup string becomes html", func(t *testing.T) {
		w := do(t, app, http.MethodGet, "/html", "")
		assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	})

	t.Run("nil becomes 204", func(t *testing.T) {
		w := do(t, app, http.MethodGet, "/none", "")
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("tuple overrides status and headers, appends cookies", func(t *testing.T) {
		w := do(t, app, http.MethodGet, "/tuple", "")
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "9", w.Header().Get("X-Resource"))
		assert.Contains(t, w.Header().Get("Set-Cookie"), "seen=1")
		assert.JSONEq(t, `{"state":"created"}`, w.Body.String())
	})
}

func TestBodyResolution(t *testing.T) {
	t.Parallel()

	type createUser struct {
		Name string `json:"name"`
		Age  int    `json:"age"`
	}
	type createParams struct {
		Body createUser `body:"json"`
	}

	app := strand.New()
	strand.Post(app, "/users", func(c *strand.Ctx, p createParams) (any, error) {
		return response.With{Body: p.Body, Status: http.StatusCreated}, nil
	})

	t.Run("valid body round-trips", func(t *testing.T) {
		w := do(t, app, http.MethodPost, "/users", `{"name":"ann","age":30}`)
		require.Equal(t, http.StatusCreated, w.Code)
		assert.JSONEq(t, `{"name":"ann","age":30}`, w.Body.String())
	})

	t.Run("all body errors reported together", func(t *testing.T) {
		w := do(t, app, http.MethodPost, "/users", `{"name":1,"age":"x"}`)
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)

		var body struct {
			Detail []json.RawMessage `json:"detail"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Len(t, body.Detail, 2)
	})
}

func TestHookOrdering(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var order []string
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	hook := func(name string) strand.Hook {
		return strand.Hook{
			Before: func(c *strand.Ctx) strand.Response {
				record(name + ".before")
				return nil
			},
			After: func(c *strand.Ctx, resp strand.Response) strand.Response {
				record(name + ".after")
				return nil
			},
		}
	}

	app := strand.New()
	app.Hook(hook("a"), hook("b"))
	app.Get("/", func(c *strand.Ctx) (any, error) {
		record("handler")
		return nil, nil
	})

	do(t, app, http.MethodGet, "/", "")
	assert.Equal(t, []string{"a.before", "b.before", "handler", "b.after", "a.after"}, order)
}

func TestWrapperMiddlewareOrdering(t *testing.T) {
	t.Parallel()

	var order []string
	mw := func(name string) strand.Middleware {
		return func(next strand.HandlerFunc) strand.HandlerFunc {
			return func(c *strand.Ctx) strand.Response {
				order = append(order, name)
				return next(c)
			}
		}
	}

	app := strand.New()
	app.Use(mw("global"))
	app.Get("/", func(c *strand.Ctx) (any, error) {
		order = append(order, "handler")
		return "ok", nil
	}, mw("route"))

	do(t, app, http.MethodGet, "/", "")
	assert.Equal(t, []string{"global", "route", "handler"}, order)
}

func TestHookShortCircuit(t *testing.T) {
	t.Parallel()

	invoked := false
	app := strand.New()
	app.Hook(strand.Hook{
		Before: func(c *strand.Ctx) strand.Response {
			return response.Detail(http.StatusTooManyRequests, "slow down")
		},
	})
	app.Get("/", func(c *strand.Ctx) (any, error) {
		invoked = true
		return nil, nil
	})

	w := do(t, app, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.False(t, invoked)
}

func TestDependencies(t *testing.T) {
	t.Parallel()

	t.Run("cyclic graph aborts startup", func(t *testing.T) {
		t.Parallel()

		app := strand.New()
		app.Provide("a", func(ctx context.Context, s *depends.Scope) (any, error) {
			return nil, nil
		}, depends.Requires("b"))
		app.Provide("b", func(ctx context.Context, s *depends.Scope) (any, error) {
			return nil, nil
		}, depends.Requires("a"))

		assert.ErrorIs(t, app.Finalize(), depends.ErrCyclicDependency)
	})

	t.Run("declared dependency injected into params", func(t *testing.T) {
		t.Parallel()

		type params struct {
			DB string `dep:"db"`
		}

		app := strand.New()
		app.Provide("db", func(ctx context.Context, s *depends.Scope) (any, error) {
			return "conn-1", nil
		})
		strand.Get(app, "/", func(c *strand.Ctx, p params) (any, error) {
			return p.DB, nil
		})

		w := do(t, app, http.MethodGet, "/", "")
		assert.Equal(t, "conn-1", w.Body.String())
	})

	t.Run("teardown runs even when the handler fails", func(t *testing.T) {
		t.Parallel()

		type params struct {
			Res string `dep:"res"`
		}

		torndown := false
		app := strand.New()
		app.Provide("res", func(ctx context.Context, s *depends.Scope) (any, error) {
			s.Defer(func(context.Context) { torndown = true })
			return "r", nil
		})
		strand.Get(app, "/", func(c *strand.Ctx, p params) (any, error) {
			return nil, errors.New("boom")
		})

		w := do(t, app, http.MethodGet, "/", "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.True(t, torndown)
	})
}

func TestSharedDependencyUnderLoad(t *testing.T) {
	t.Parallel()

	type params struct {
		N int `dep:"counter"`
	}

	var (
		resolutions atomic.Int32
		active      atomic.Int32
		overlap     atomic.Bool
	)

	app := strand.New()
	app.Provide("counter", func(ctx context.Context, s *depends.Scope) (any, error) {
		return int(resolutions.Add(1)), nil
	})
	strand.Get(app, "/", func(c *strand.Ctx, p params) (any, error) {
		if active.Add(1) > 1 {
			overlap.Store(true)
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)
		return p.N, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := do(t, app, http.MethodGet, "/", "")
			assert.Equal(t, http.StatusOK, w.Code)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(50), resolutions.Load(), "one resolution per request")
	assert.False(t, overlap.Load(), "handler invocations overlapped")
}

func TestBackgroundTasks(t *testing.T) {
	t.Parallel()

	var sequence []string
	var mu sync.Mutex
	record := func(s string) {
		mu.Lock()
		sequence = append(sequence, s)
		mu.Unlock()
	}

	type params struct {
		Res string `dep:"res"`
	}

	app := strand.New()
	app.Provide("res", func(ctx context.Context, s *depends.Scope) (any, error) {
		s.Defer(func(context.Context) { record("teardown") })
		return "r", nil
	})
	strand.Get(app, "/", func(c *strand.Ctx, p params) (any, error) {
		c.Defer(func(context.Context) error {
			record("task")
			return nil
		})
		record("handler")
		return "done", nil
	})

	w := do(t, app, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)

	// Tasks run after the response, before scope teardown.
	assert.Equal(t, []string{"handler", "task", "teardown"}, sequence)
}

func TestPanicHandling(t *testing.T) {
	t.Parallel()

	t.Run("panic detail hidden by default", func(t *testing.T) {
		t.Parallel()

		app := strand.New()
		app.Get("/", func(c *strand.Ctx) (any, error) {
			panic("secret internals")
		})

		w := do(t, app, http.MethodGet, "/", "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.JSONEq(t, `{"detail":"Internal Server Error"}`, w.Body.String())
		assert.NotContains(t, w.Body.String(), "secret internals")
	})

	t.Run("debug mode surfaces the trace", func(t *testing.T) {
		t.Parallel()

		app := strand.New(strand.WithDebug())
		app.Get("/", func(c *strand.Ctx) (any, error) {
			panic("secret internals")
		})

		w := do(t, app, http.MethodGet, "/", "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), "secret internals")
		assert.Contains(t, w.Body.String(), "stack")
	})
}

func TestLockTimeout(t *testing.T) {
	t.Parallel()

	app := strand.New(strand.WithLockTimeout(30 * time.Millisecond))

	release := make(chan struct{})
	holding := make(chan struct{})
	var once sync.Once
	app.Get("/slow", func(c *strand.Ctx) (any, error) {
		once.Do(func() { close(holding) })
		<-release
		return nil, nil
	})

	go do(t, app, http.MethodGet, "/slow", "")
	<-holding
	defer close(release)

	w := do(t, app, http.MethodGet, "/slow", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAwaitOverlapsSuspendedHandlers(t *testing.T) {
	t.Parallel()

	app := strand.New()

	suspended := make(chan struct{})
	resume := make(chan struct{})
	var once sync.Once
	app.Get("/waiting", func(c *strand.Ctx) (any, error) {
		err := c.Await(func(ctx context.Context) error {
			once.Do(func() { close(suspended) })
			<-resume
			return nil
		})
		return "resumed", err
	})
	app.Get("/quick", func(c *strand.Ctx) (any, error) {
		return "quick", nil
	})

	firstDone := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		firstDone <- do(t, app, http.MethodGet, "/waiting", "")
	}()
	<-suspended

	// A second request completes while the first is suspended.
	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- do(t, app, http.MethodGet, "/quick", "")
	}()

	select {
	case w := <-done:
		assert.Equal(t, http.StatusOK, w.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("second request blocked during suspension")
	}

	close(resume)
	w := <-firstDone
	assert.Equal(t, "resumed", w.Body.String())
}

func TestErrorHandlerTable(t *testing.T) {
	t.Parallel()

	type notReady struct{ error }

	t.Run("exact type handler wins", func(t *testing.T) {
		t.Parallel()

		app := strand.New()
		strand.OnError(app, func(c *strand.Ctx, err *timeoutError) strand.Response {
			return response.Detail(http.StatusGatewayTimeout, "upstream timeout")
		})
		app.OnStatus(http.StatusInternalServerError, func(c *strand.Ctx, err error) strand.Response {
			return response.Detail(http.StatusInternalServerError, "status handler")
		})
		app.Get("/", func(c *strand.Ctx) (any, error) {
			return nil, &timeoutError{}
		})

		w := do(t, app, http.MethodGet, "/", "")
		assert.Equal(t, http.StatusGatewayTimeout, w.Code)
		assert.JSONEq(t, `{"detail":"upstream timeout"}`, w.Body.String())
	})

	t.Run("status handler catches unmatched types", func(t *testing.T) {
		t.Parallel()

		app := strand.New()
		app.OnStatus(http.StatusInternalServerError, func(c *strand.Ctx, err error) strand.Response {
			return response.Detail(http.StatusInternalServerError, "custom 500")
		})
		app.Get("/", func(c *strand.Ctx) (any, error) {
			return nil, notReady{errors.New("x")}
		})

		w := do(t, app, http.MethodGet, "/", "")
		assert.JSONEq(t, `{"detail":"custom 500"}`, w.Body.String())
	})

	t.Run("http errors render their own status", func(t *testing.T) {
		t.Parallel()

		app := strand.New()
		app.Get("/", func(c *strand.Ctx) (any, error) {
			return nil, response.NewHTTPError(http.StatusConflict, "already exists")
		})

		w := do(t, app, http.MethodGet, "/", "")
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.JSONEq(t, `{"detail":"already exists"}`, w.Body.String())
	})

	t.Run("on-error hooks run before the table", func(t *testing.T) {
		t.Parallel()

		app := strand.New()
		app.Hook(strand.Hook{
			OnError: func(c *strand.Ctx, err error) strand.Response {
				return response.Detail(http.StatusBadGateway, "hooked")
			},
		})
		app.Get("/", func(c *strand.Ctx) (any, error) {
			return nil, errors.New("boom")
		})

		w := do(t, app, http.MethodGet, "/", "")
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.JSONEq(t, `{"detail":"hooked"}`, w.Body.String())
	})
}

type timeoutError struct{}

func (e *timeoutError) Error() string { return "timed out" }

func TestRegistrationFailuresPanic(t *testing.T) {
	t.Parallel()

	t.Run("route conflict", func(t *testing.T) {
		t.Parallel()

		app := strand.New()
		app.Get("/users/{id}", func(c *strand.Ctx) (any, error) { return nil, nil })
		assert.Panics(t, func() {
			app.Get("/users/{userID}", func(c *strand.Ctx) (any, error) { return nil, nil })
		})
	})

	t.Run("invalid parameter struct", func(t *testing.T) {
		t.Parallel()

		app := strand.New()
		assert.Panics(t, func() {
			strand.Get(app, "/", func(c *strand.Ctx, p int) (any, error) { return nil, nil })
		})
	})

	t.Run("duplicate provider", func(t *testing.T) {
		t.Parallel()

		app := strand.New()
		app.Provide("db", func(ctx context.Context, s *depends.Scope) (any, error) { return nil, nil })
		assert.Panics(t, func() {
			app.Provide("db", func(ctx context.Context, s *depends.Scope) (any, error) { return nil, nil })
		})
	})
}

func TestWebSocketRoute(t *testing.T) {
	t.Parallel()

	app := strand.New(strand.WithUpgrader(ws.NewUpgrader(ws.WithAllowAnyOrigin())))
	app.WebSocket("/echo", func(c *strand.Ctx, s *ws.Session) error {
		for {
			msg, err := s.Receive(c)
			if err != nil {
				return nil
			}
			if err := s.Send(msg); err != nil {
				return nil
			}
		}
	})

	srv := httptest.NewServer(app)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/echo"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	for i := 0; i < 3; i++ {
		payload := fmt.Sprintf("msg-%d", i)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(payload)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, payload, string(data))
	}
}

func TestRunShutsDownGracefully(t *testing.T) {
	t.Parallel()

	app := strand.New()
	app.Get("/", func(c *strand.Ctx) (any, error) { return "ok", nil })

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Run(ctx, "127.0.0.1:0")
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not shut down")
	}
}
