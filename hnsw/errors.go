package hnsw

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyCorpus is returned when Build is called with no records.
	ErrEmptyCorpus = errors.New("empty corpus: build requires at least one record")

	// ErrIndexNotBuilt is returned when an operation requires a built index.
	ErrIndexNotBuilt = errors.New("index not built")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrDuplicateID is returned when inserting an id that is already live.
	ErrDuplicateID = errors.New("duplicate id")
)

// ErrDimensionMismatch is a named error type for dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int // Expected dimensions
	Actual   int // Actual dimensions
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrNodeNotFound indicates the given id is not present in the index.
type ErrNodeNotFound struct {
	ID uint64
}

func (e *ErrNodeNotFound) Error() string {
	return fmt.Sprintf("node not found: %d", e.ID)
}

// ErrInvalidDimension indicates an invalid configured dimension.
type ErrInvalidDimension struct {
	Dimension int
}

func (e *ErrInvalidDimension) Error() string {
	return fmt.Sprintf("invalid dimension: %d", e.Dimension)
}
