package binder

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrInvalidTarget indicates the declared parameter type is not a struct.
	ErrInvalidTarget = errors.New("invalid parameter target")

	// ErrMultipleBodyFields indicates more than one field is tagged as body.
	ErrMultipleBodyFields = errors.New("multiple body fields declared")

	// ErrUnsupportedKind indicates a field kind the binder cannot coerce.
	ErrUnsupportedKind = errors.New("unsupported field kind")

	// ErrInvalidDefault indicates a default tag value that does not parse.
	ErrInvalidDefault = errors.New("invalid default value")

	// ErrInvalidBodyEncoding indicates a body tag value other than
	// "json" or "form".
	ErrInvalidBodyEncoding = errors.New("invalid body encoding")
)

// FieldError is a single structured validation failure. The JSON shape
// mirrors the 422 detail entries: {"loc": [...], "msg": ..., "type": ...}.
type FieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", strings.Join(e.Loc, "."), e.Msg)
}

// ValidationError carries every field error accumulated while resolving a
// request. Resolution fails as a whole: a handler is never invoked when at
// least one entry exists.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 1 {
		return "validation failed: " + e.Fields[0].Error()
	}
	return fmt.Sprintf("validation failed: %d invalid fields", len(e.Fields))
}

// StatusCode maps validation failures to 422 Unprocessable Entity.
func (e *ValidationError) StatusCode() int {
	return http.StatusUnprocessableEntity
}

func (e *ValidationError) add(loc []string, msg, typ string) {
	e.Fields = append(e.Fields, FieldError{Loc: loc, Msg: msg, Type: typ})
}
