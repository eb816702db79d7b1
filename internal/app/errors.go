package app

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned by Start on a running application.
	ErrAlreadyRunning = errors.New("application already running")

	// ErrNotRunning is returned by operations that need Start first.
	ErrNotRunning = errors.New("application not running")
)

// InitError reports a component that failed to initialize.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("init %s: %v", e.Component, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}
