// Package volume implements the storage-backend abstraction that the
// scheduler and pool write blobs through: local disk (LocalVolume) and a
// network backend (NetworkVolume, NFS/Ceph-style), both satisfying the same
// Volume interface so StoragePool never special-cases either.
package volume

import (
	"context"
	"io"
	"time"
)

// Volume is a single storage backend a file can be written to. Every path
// passed across this interface is the full physical path already computed
// by ShardedPath and confined by pathsanitizer.
type Volume interface {
	// ID returns the configured volume identifier.
	ID() string

	// MountPath returns the root directory this volume is rooted at.
	MountPath() string

	// ShardingDepth returns the configured hex-sharding depth (0..3).
	ShardingDepth() int

	// Read opens the file at path for reading.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write persists the contents of r to path, creating parent
	// directories as needed. The write is atomic: readers never observe
	// a partially-written file.
	Write(ctx context.Context, path string, r io.Reader) (written int64, err error)

	// Delete removes the file at path. Deleting an already-absent file
	// is not an error.
	Delete(ctx context.Context, path string) error

	// TotalCapacity returns the total byte capacity of the underlying mount.
	TotalCapacity() (int64, error)

	// AvailableSpace returns the free byte capacity of the underlying mount.
	AvailableSpace() (int64, error)

	// IsHealthy runs the canary health check and reports the outcome.
	IsHealthy(ctx context.Context) bool

	// Walk enumerates every regular file stored under tenantID's prefix,
	// invoking fn with the fileKey (the file's base name), its full
	// physical path, size, and modification time. A missing tenant
	// prefix is not an error; Walk simply visits nothing.
	Walk(ctx context.Context, tenantID string, fn func(fileKey, path string, size int64, modTime time.Time) error) error
}
