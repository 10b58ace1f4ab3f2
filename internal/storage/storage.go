// Package storage provides object storage abstractions for the asset store.
package storage

import (
	"context"
	"errors"
	"io"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrListingFailed  = errors.New("listing failed")
	ErrReadFailed     = errors.New("read failed")
	ErrWriteFailed    = errors.New("write failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// ObjectInfo describes one leaf object as reported by a listing.
type ObjectInfo struct {
	Path      string
	SizeBytes int64
	// ETag is the store's entity tag (md5 for simple uploads, opaque
	// otherwise). Used as a placeholder fingerprint only.
	ETag string
}

// ObjectStorage abstracts the asset object store.
// Implementations include S3-compatible stores and a local filesystem
// double for testing.
type ObjectStorage interface {
	// ListPage returns up to limit objects under prefix whose paths sort
	// strictly after startAfter, in lexicographic order. Paging with the
	// last returned path lets callers resume a failed listing from the
	// last successful page instead of restarting.
	ListPage(ctx context.Context, prefix, startAfter string, limit int) ([]ObjectInfo, error)

	// ListDir returns the immediate child prefixes (each ending in "/")
	// and the immediate child objects under prefix, mirroring a
	// delimiter listing. Used to fan listing work out across
	// sub-prefixes without losing loose objects at the prefix root.
	ListDir(ctx context.Context, prefix string) (prefixes []string, objects []ObjectInfo, err error)

	// Stat returns metadata for a single object, or ErrObjectNotFound.
	Stat(ctx context.Context, path string) (*ObjectInfo, error)

	// Open streams an object's content for hashing. The caller closes
	// the reader.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Put writes an object. Used by fixtures and the report archiver,
	// never by the reconciliation engine itself.
	Put(ctx context.Context, path string, r io.Reader) error

	// Delete removes an object. Deleting a missing object returns
	// ErrObjectNotFound; callers applying repair actions treat that as
	// success.
	Delete(ctx context.Context, path string) error

	// Exists checks if an object exists in storage.
	Exists(ctx context.Context, path string) (bool, error)
}

// DefaultPageSize is the default listing page size, matching the page
// limit of the stores this engine targets.
const DefaultPageSize = 1000
