package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned when using a closed store.
	ErrClosed = errors.New("store is closed")

	// ErrNotRunning is returned when an observation targets an experiment
	// that is missing or no longer running.
	ErrNotRunning = errors.New("experiment not running")
)

// StoreError wraps errors with operation context.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("store: %v", e.Err)
	}
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
