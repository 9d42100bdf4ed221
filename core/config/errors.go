package config

import "errors"

var (
	// ErrNilConfig is returned when Load receives a nil pointer.
	ErrNilConfig = errors.New("config target is nil")

	// ErrParseFailed wraps environment parsing failures.
	ErrParseFailed = errors.New("failed to parse environment")
)
