package catalog

// CreateAssetsTableSQL creates the assets table.
const CreateAssetsTableSQL = `
CREATE TABLE IF NOT EXISTS assets (
    id TEXT PRIMARY KEY,
    storage_path TEXT NOT NULL,
    content_hash TEXT,
    owner_kind TEXT NOT NULL,
    owner_id TEXT,
    date_bucket TEXT,
    owner_tags TEXT NOT NULL,
    size_bytes INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    deleted_at INTEGER
)`

// Indexes for the assets table. storage_path uniqueness holds among
// non-deleted rows only; soft-deleted rows may share a path with a
// recreated asset.
var CreateIndexesSQL = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_assets_path ON assets(storage_path)
		WHERE deleted_at IS NULL`,

	// Duplicate-group lookups: hash within an owner partition
	`CREATE INDEX IF NOT EXISTS idx_assets_hash ON assets(content_hash, owner_kind, owner_id)
		WHERE deleted_at IS NULL`,

	// Scoped reads
	`CREATE INDEX IF NOT EXISTS idx_assets_owner ON assets(owner_kind, owner_id, date_bucket)
		WHERE deleted_at IS NULL`,
}
