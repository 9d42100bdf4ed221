package response

import (
	"net/http"
	"strings"

	"github.com/strandkit/strand/core/handler"
)

// With wraps a handler return value with an explicit status code, extra
// headers, and cookie directives. It is the Go shape of a
// (body, status, headers) return tuple.
type With struct {
	Body    any
	Status  int
	Header  http.Header
	Cookies []*http.Cookie
}

// Marshal maps a handler return value to a wire response by variant:
//
//   - handler.Response: used verbatim
//   - With: status and headers override defaults; explicit headers win on
//     key conflict with ones set by the inner response
//   - string: text/html when it starts with a markup delimiter, plain
//     text otherwise
//   - []byte: application/octet-stream
//   - error: propagated to the error pipeline
//   - nil: 204 No Content
//   - anything else (maps, slices, structs): JSON
func Marshal(v any) handler.Response {
	switch val := v.(type) {
	case nil:
		return NoContent()
	case handler.Response:
		return val
	case func(http.ResponseWriter, *http.Request) error:
		return val
	case With:
		return val.response()
	case *With:
		if val == nil {
			return NoContent()
		}
		return val.response()
	case string:
		if strings.HasPrefix(strings.TrimSpace(val), "<") {
			return HTML(val)
		}
		return String(val)
	case []byte:
		return Bytes(val, "application/octet-stream")
	case error:
		return Error(val)
	default:
		return JSON(v)
	}
}

func (wv With) response() handler.Response {
	inner := Marshal(wv.Body)
	return func(w http.ResponseWriter, r *http.Request) error {
		ow := &overrideWriter{
			ResponseWriter: w,
			status:         wv.Status,
			header:         wv.Header,
			cookies:        wv.Cookies,
		}
		return inner(ow, r)
	}
}

// overrideWriter applies tuple overrides at the moment headers are
// committed: explicit headers replace conflicting keys set by the inner
// response, cookies are appended, and a non-zero status wins.
type overrideWriter struct {
	http.ResponseWriter
	status  int
	header  http.Header
	cookies []*http.Cookie
	wrote   bool
}

func (w *overrideWriter) WriteHeader(code int) {
	if w.wrote {
		return
	}
	w.wrote = true

	for key, values := range w.header {
		w.Header().Del(key)
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	for _, c := range w.cookies {
		if v := c.String(); v != "" {
			w.Header().Add("Set-Cookie", v)
		}
	}

	if w.status != 0 {
		code = w.status
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *overrideWriter) Write(b []byte) (int, error) {
	if !w.wrote {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}
