package blobstore

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies `errors.Is(err, ErrNotFound)`.
// The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// Store is an abstraction for reading and writing immutable data blobs
// (snapshots, archived certificates).
type Store interface {
	// Get opens a blob for reading. The caller must close the returned reader.
	Get(ctx context.Context, name string) (io.ReadCloser, error)

	// Put writes a blob. The write must be atomic: concurrent readers either
	// observe the previous content or the new content, never a partial write.
	Put(ctx context.Context, name string, r io.Reader) error

	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error

	// List returns the names of all blobs with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}
