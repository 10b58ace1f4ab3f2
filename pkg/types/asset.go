package types

import "time"

// AssetRecord is one catalog row describing a stored asset.
type AssetRecord struct {
	// ID is the opaque catalog-assigned identifier (UUID).
	ID string

	// StoragePath is the canonical object path. Unique among non-deleted
	// rows.
	StoragePath string

	// ContentHash is the sha256 hex digest of the asset bytes, or empty
	// if the asset was never hashed.
	ContentHash string

	// OwnerTags identifies the logical owner (customer-*, blog-*,
	// campaign-*) plus date-/category- tags.
	OwnerTags TagSet

	SizeBytes int64
	CreatedAt time.Time
	UpdatedAt time.Time

	// DeletedAt marks a soft-deleted row. Readers only return rows with
	// DeletedAt unset.
	DeletedAt *time.Time
}

// ScopeKey returns the record's dedup partition key (see TagSet.ScopeKey).
func (r *AssetRecord) ScopeKey() string {
	return r.OwnerTags.ScopeKey()
}

// StorageObject is one leaf object observed in the store. Correspondence
// to an AssetRecord is established only by matching Path (strong) or
// content hash (weak).
type StorageObject struct {
	Path      string
	SizeBytes int64

	// ETag is the store-provided entity tag. For single-part S3 uploads
	// it is the md5 of the content; otherwise an opaque version marker.
	// Used only as a placeholder fingerprint, never compared against
	// sha256 digests.
	ETag string

	// SHA256 is the streamed content digest, set only when the lister
	// runs in deep-hash mode.
	SHA256 string
}
