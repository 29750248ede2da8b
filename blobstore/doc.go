// Package blobstore provides storage abstraction for snapshots and
// archived certificates.
//
// Store is the interface for reading and writing immutable blobs.
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: Local filesystem with atomic writes
//   - MemoryStore: In-memory store for tests
//   - s3.Store: Amazon S3 with managed multipart uploads
//   - minio.Store: MinIO / S3-compatible object storage
//
// # Custom Implementations
//
// Implement the Store interface to support custom storage backends:
//
//	type Store interface {
//	    Get(ctx, name) (io.ReadCloser, error)
//	    Put(ctx, name, r) error
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
package blobstore
