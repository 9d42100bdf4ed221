package router

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned by Match when no template matches the path.
	ErrNotFound = errors.New("route not found")

	// ErrMethodNotAllowed is the target matched by MethodNotAllowedError.
	ErrMethodNotAllowed = errors.New("method not allowed")

	// ErrRouteConflict is returned at registration when an existing route
	// with the same method has an indistinguishable template.
	ErrRouteConflict = errors.New("route conflict")

	// ErrInvalidPattern is returned for templates that do not start with
	// '/' or contain malformed parameter segments.
	ErrInvalidPattern = errors.New("invalid route pattern")

	// ErrInvalidMethod is returned for unknown HTTP methods.
	ErrInvalidMethod = errors.New("invalid http method")

	// ErrDuplicateParam is returned when a template repeats a parameter name.
	ErrDuplicateParam = errors.New("duplicate parameter name")

	// ErrCatchAllPosition is returned when '*' is not the final segment.
	ErrCatchAllPosition = errors.New("catch-all must be the last segment")
)

// MethodNotAllowedError carries the methods the matched path does accept,
// used to populate the Allow header on 405 responses.
type MethodNotAllowedError struct {
	Allow []string
}

func (e *MethodNotAllowedError) Error() string {
	return "method not allowed, allowed: " + strings.Join(e.Allow, ", ")
}

// Is reports a match against ErrMethodNotAllowed.
func (e *MethodNotAllowedError) Is(target error) bool {
	return target == ErrMethodNotAllowed
}

// AllowHeader formats the allowed methods for the Allow response header.
func (e *MethodNotAllowedError) AllowHeader() string {
	return strings.Join(e.Allow, ", ")
}
