package server

import "errors"

var (
	// ErrMissingAddress is returned when the listen address is empty.
	ErrMissingAddress = errors.New("server address is required")

	// ErrAlreadyRunning is returned by Start when the server is running.
	ErrAlreadyRunning = errors.New("server is already running")

	// ErrFailedLoadCert wraps certificate loading failures.
	ErrFailedLoadCert = errors.New("failed to load certificate")
)
