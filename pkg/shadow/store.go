// Package shadow defines where pending writes to archive entries live until
// the archive is reconciled.
//
// A shadow is an opaque blob identified by a random ID. The archive
// filesystem owns the mapping from entry path to shadow ID; stores only
// keep bytes.
package shadow

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for unknown shadow IDs.
var ErrNotFound = errors.New("shadow not found")

// ID identifies one shadow within a store.
type ID string

// NewID returns a fresh random ID.
func NewID() ID {
	return ID(uuid.NewString())
}

// Info describes a stored shadow.
type Info struct {
	Size    int64
	ModTime time.Time
}

// Store keeps shadow content.
//
// Thread Safety:
// Implementations must be safe for concurrent use. Concurrent writers to the
// same ID are not serialized; the last writer to close wins.
type Store interface {
	// Create allocates an empty shadow.
	Create(ctx context.Context) (ID, error)

	// OpenWriter replaces the content of a shadow. The new content becomes
	// visible when the writer is closed.
	OpenWriter(ctx context.Context, id ID) (io.WriteCloser, error)

	// OpenReader streams the content of a shadow.
	OpenReader(ctx context.Context, id ID) (io.ReadCloser, error)

	// Stat returns ErrNotFound for unknown IDs.
	Stat(ctx context.Context, id ID) (Info, error)

	// Delete is a no-op for unknown IDs.
	Delete(ctx context.Context, id ID) error

	// IDs lists every stored shadow in no particular order.
	IDs(ctx context.Context) ([]ID, error)

	// Close releases the store. Stores that persist content keep it.
	Close() error
}
