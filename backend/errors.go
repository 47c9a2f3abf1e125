package backend

import (
	"errors"
	"fmt"
)

var (
	ErrInterpreterNotFound = errors.New("no python interpreter found")
	ErrAlreadyRunning      = errors.New("backend already running")
	ErrExitedEarly         = errors.New("backend exited before it was ready")
)

// FatalError means the backend can never start on this machine. The
// application reports it and exits.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("backend fatal: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// UnavailableError means this start attempt failed. The application keeps
// running without a backend.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("backend unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}
