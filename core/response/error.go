package response

import (
	"fmt"
	"net/http"

	"github.com/strandkit/strand/core/handler"
)

// HTTPError is a structured error a handler can return or raise to
// produce a specific status code and {"detail": ...} body. Optional
// headers are appended to the response.
type HTTPError struct {
	Status int
	Detail any
	Header http.Header
}

// NewHTTPError creates an HTTPError with the given status and detail.
// A nil detail falls back to the standard status text.
func NewHTTPError(status int, detail any) *HTTPError {
	if detail == nil {
		detail = http.StatusText(status)
	}
	return &HTTPError{Status: status, Detail: detail}
}

// WithHeader returns a copy with an extra header entry, used for errors
// that must carry headers such as WWW-Authenticate.
func (e *HTTPError) WithHeader(key, value string) *HTTPError {
	clone := *e
	clone.Header = e.Header.Clone()
	if clone.Header == nil {
		clone.Header = make(http.Header)
	}
	clone.Header.Add(key, value)
	return &clone
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %v", e.Status, e.Detail)
}

// StatusCode returns the HTTP status for the error.
func (e *HTTPError) StatusCode() int { return e.Status }

// Response renders the error as its default {"detail": ...} body.
func (e *HTTPError) Response() handler.Response {
	inner := Detail(e.Status, e.Detail)
	if len(e.Header) == 0 {
		return inner
	}
	return func(w http.ResponseWriter, r *http.Request) error {
		for key, values := range e.Header {
			for _, v := range values {
				w.Header().Add(key, v)
			}
		}
		return inner(w, r)
	}
}
