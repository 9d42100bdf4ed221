package strand

import (
	"errors"
	"net/http"
	"reflect"

	"github.com/strandkit/strand/core/binder"
	"github.com/strandkit/strand/core/bridge"
	"github.com/strandkit/strand/core/response"
	"github.com/strandkit/strand/core/router"
)

// statusCoder is implemented by errors that know their HTTP status.
type statusCoder interface {
	StatusCode() int
}

// typeErrorHandler is one exact-type entry in the error handler table.
type typeErrorHandler struct {
	typ reflect.Type
	fn  ErrorHandlerFunc
}

// OnError installs an error handler for the exact error type E. It is
// consulted before status-code handlers and the default rendering.
// Methods cannot carry type parameters, so this is a package-level
// function.
func OnError[E error](a *App, fn func(c *Ctx, err E) Response) {
	typ := reflect.TypeOf((*E)(nil)).Elem()
	a.typeHandlers = append(a.typeHandlers, typeErrorHandler{
		typ: typ,
		fn: func(c *Ctx, err error) Response {
			var e E
			if errors.As(err, &e) {
				return fn(c, e)
			}
			return nil
		},
	})
}

// errorResponse routes err through the handler table: exact error type
// first, then a handler registered for the error's status code, then
// the default {"detail": ...} rendering.
func (a *App) errorResponse(c *Ctx, err error) Response {
	for e := err; e != nil; e = errors.Unwrap(e) {
		t := reflect.TypeOf(e)
		for _, th := range a.typeHandlers {
			if th.typ != t {
				continue
			}
			if resp := th.fn(c, err); resp != nil {
				return resp
			}
		}
	}

	status, fallback := a.defaultErrorResponse(c, err)

	if fn, ok := a.statusHandlers[status]; ok {
		if resp := fn(c, err); resp != nil {
			return resp
		}
	}

	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed",
			"method", c.r.Method,
			"path", c.r.URL.Path,
			"status", status,
			"error", err)
	}
	return fallback
}

// defaultErrorResponse maps the engine's error taxonomy to its default
// wire shape and status.
func (a *App) defaultErrorResponse(c *Ctx, err error) (int, Response) {
	var (
		mna  *router.MethodNotAllowedError
		verr *binder.ValidationError
		herr *response.HTTPError
		perr *bridge.PanicError
	)

	switch {
	case errors.Is(err, router.ErrNotFound):
		return http.StatusNotFound,
			response.Detail(http.StatusNotFound, "Not Found")

	case errors.As(err, &mna):
		return http.StatusMethodNotAllowed, func(w http.ResponseWriter, r *http.Request) error {
			w.Header().Set("Allow", mna.AllowHeader())
			return response.Detail(http.StatusMethodNotAllowed, "Method Not Allowed")(w, r)
		}

	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity,
			response.Detail(http.StatusUnprocessableEntity, verr.Fields)

	case errors.Is(err, bridge.ErrLockTimeout):
		return http.StatusServiceUnavailable,
			response.Detail(http.StatusServiceUnavailable, "Service Unavailable")

	case errors.As(err, &herr):
		return herr.Status, herr.Response()

	case errors.As(err, &perr):
		if a.debug {
			return http.StatusInternalServerError,
				response.Detail(http.StatusInternalServerError, map[string]any{
					"error": perr.Error(),
					"stack": string(perr.Stack()),
				})
		}
		return http.StatusInternalServerError,
			response.Detail(http.StatusInternalServerError, "Internal Server Error")
	}

	status := http.StatusInternalServerError
	var sc statusCoder
	if errors.As(err, &sc) {
		status = sc.StatusCode()
	}

	detail := any(http.StatusText(status))
	if a.debug && status >= http.StatusInternalServerError {
		detail = err.Error()
	}
	return status, response.Detail(status, detail)
}
