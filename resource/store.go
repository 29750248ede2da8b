package resource

import (
	"context"
	"io"

	"github.com/hupe1980/recallgraph/blobstore"
)

// ThrottledStore wraps a blobstore.Store so snapshot and archive traffic
// respects the controller's IO budget. A nil controller passes through.
type ThrottledStore struct {
	inner blobstore.Store
	rc    *Controller
}

// NewThrottledStore creates a new ThrottledStore.
func NewThrottledStore(inner blobstore.Store, rc *Controller) *ThrottledStore {
	return &ThrottledStore{inner: inner, rc: rc}
}

// Get opens a blob for reading, throttling the read side.
func (s *ThrottledStore) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	rc, err := s.inner.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return &throttledReadCloser{
		Reader: NewThrottledReader(ctx, rc, s.rc),
		closer: rc,
	}, nil
}

// Put writes a blob, throttling the upload side.
func (s *ThrottledStore) Put(ctx context.Context, name string, r io.Reader) error {
	return s.inner.Put(ctx, name, NewThrottledReader(ctx, r, s.rc))
}

// Delete removes a blob.
func (s *ThrottledStore) Delete(ctx context.Context, name string) error {
	return s.inner.Delete(ctx, name)
}

// List returns blob names under the prefix.
func (s *ThrottledStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

type throttledReadCloser struct {
	io.Reader
	closer io.Closer
}

func (t *throttledReadCloser) Close() error { return t.closer.Close() }

var _ blobstore.Store = (*ThrottledStore)(nil)
