// Package blob provides access to the opaque byte store holding raw job
// inputs and produced results. Callers address content by handle and never
// see the underlying storage layout.
package blob

import (
	"context"
	"errors"
	"fmt"
)

// Common blob store errors.
var (
	// ErrStorage wraps I/O failures talking to the backing store. Workers
	// treat it as retryable.
	ErrStorage = errors.New("blob storage failure")

	// ErrNotFound is returned when no object exists for the given handle.
	ErrNotFound = errors.New("blob not found")
)

// Store is the byte-storage collaborator: put bytes, get a handle back.
// Implementations must tolerate concurrent access from all workers.
// Version: 1.0
type Store interface {
	// Put stores the given bytes under a newly allocated handle and
	// returns it. The content type is recorded as object metadata.
	Put(ctx context.Context, data []byte, contentType string) (string, error)

	// Get retrieves the bytes stored under the handle.
	// Returns ErrNotFound if no such object exists.
	Get(ctx context.Context, handle string) ([]byte, error)

	// Delete removes the object stored under the handle. Deleting a
	// missing object is not an error.
	Delete(ctx context.Context, handle string) error
}

// wrapStorage tags an underlying store failure as retryable.
func wrapStorage(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}
