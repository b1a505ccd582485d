// Package blob abstracts durable byte storage for uploaded documents. Keys
// are opaque to the adapters; the ingestion layer derives them from content
// hashes so identical payloads share one object.
package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Open when no object exists under the key.
var ErrNotFound = errors.New("blob not found")

// Store is the storage port. Implementations must be safe for concurrent use.
type Store interface {
	// Put writes the full payload under key, overwriting any existing object.
	Put(ctx context.Context, key string, payload io.Reader, contentType string) error

	// Open streams the object stored under key. The caller closes the reader.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists reports whether an object is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes the object under key. Deleting a missing key is not an
	// error.
	Delete(ctx context.Context, key string) error
}
