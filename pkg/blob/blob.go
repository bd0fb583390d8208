// Package blob stores finalized meeting audio as opaque objects. It
// abstracts the backend so deployments can keep audio on local disk or in
// an S3-compatible object store without changing the pipeline.
package blob

import (
	"context"
	"io"
)

// Store is a minimal object store for archived audio.
//
// Paths are forward-slash separated and relative to the store root.
// Implementations must be safe for concurrent use.
type Store interface {
	// Put writes the object at path, replacing any existing object.
	Put(ctx context.Context, path string, data io.Reader) error

	// Get opens the object for reading. The caller closes the reader.
	// A missing object returns an error wrapping os.ErrNotExist.
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes the object. Deleting a missing object is a no-op.
	Delete(ctx context.Context, path string) error
}
