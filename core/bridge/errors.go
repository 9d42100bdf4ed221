package bridge

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrLockTimeout is returned when an invocation could not acquire the
// call-lock within the configured deadline. It bounds tail latency under
// runtime contention and maps to a 503 response.
var ErrLockTimeout = errors.New("call-lock acquire timed out")

// PanicError wraps a panic raised inside user logic. Panics are captured
// at the bridge boundary and routed to the error handlers; they never
// propagate into the I/O layer.
type PanicError struct {
	value any
	stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

// Value returns the original panic value.
func (e *PanicError) Value() any { return e.value }

// Stack returns the stack trace captured at the panic point.
func (e *PanicError) Stack() []byte { return e.stack }

// StatusCode maps handler panics to 500.
func (e *PanicError) StatusCode() int { return http.StatusInternalServerError }

// Unwrap allows errors.Is/As to reach a panic raised with an error value.
func (e *PanicError) Unwrap() error {
	if err, ok := e.value.(error); ok {
		return err
	}
	return nil
}
