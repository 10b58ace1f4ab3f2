// Package catalog manages asset metadata rows in the reconciliation
// catalog (assets.db).
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mediarec/mediarec/internal/errors"
	"github.com/mediarec/mediarec/pkg/types"
)

// ErrRecordNotFound is returned for lookups of missing or soft-deleted rows.
var ErrRecordNotFound = errors.New(errors.ErrCategoryCatalog, errors.CodeRecordNotFound, "asset record not found")

// ErrDuplicatePath is returned when an insert would violate the
// one-live-row-per-path invariant.
var ErrDuplicatePath = errors.New(errors.ErrCategoryCatalog, errors.CodeDuplicatePath, "a non-deleted row already exists at this path")

// Reader is the read-only side of the catalog, consumed by the
// reconciliation job. Implementations must apply the same owner-scope
// semantics as the store lister's prefix.
type Reader interface {
	// ListAssets returns all non-deleted rows matching the scope.
	ListAssets(ctx context.Context, scope types.OwnerScope) ([]*types.AssetRecord, error)
}

// Catalog manages asset metadata rows.
type Catalog interface {
	Reader

	// GetByPath retrieves the non-deleted row at a storage path, or
	// ErrRecordNotFound.
	GetByPath(ctx context.Context, path string) (*types.AssetRecord, error)

	// Insert adds a new row. The ID is assigned if empty. Inserting at a
	// path that already has a live row returns ErrDuplicatePath.
	Insert(ctx context.Context, rec *types.AssetRecord) error

	// SoftDelete marks a row deleted. Returns false if the row is
	// already deleted or does not exist; that is a no-op, not an error.
	SoftDelete(ctx context.Context, id string) (bool, error)

	// UpdateTags replaces a row's owner tags.
	UpdateTags(ctx context.Context, id string, tags types.TagSet) error

	// UpdateObservedContent corrects a row's hash and size to what the
	// store actually holds.
	UpdateObservedContent(ctx context.Context, id string, hash string, size int64) error

	// Close closes the catalog database connections.
	Close() error
}

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool (concurrent readers)
	dbPath string
	mu     sync.Mutex // Write-only lock (reads don't need this)
}

// NewCatalog opens (and migrates) a SQLite-backed catalog.
func NewCatalog(dbPath string) (*SQLiteCatalog, error) {
	// Write connection: single writer with WAL mode
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(CreateAssetsTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: failed to create schema: %w", err)
	}
	for _, idx := range CreateIndexesSQL {
		if _, err := db.Exec(idx); err != nil {
			db.Close()
			return nil, fmt.Errorf("catalog: failed to create index: %w", err)
		}
	}

	// Read connection pool: concurrent readers
	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	return &SQLiteCatalog{db: db, readDB: readDB, dbPath: dbPath}, nil
}

const assetColumns = `id, storage_path, content_hash, owner_tags, size_bytes, created_at, updated_at, deleted_at`

// ListAssets returns all non-deleted rows matching the scope.
func (c *SQLiteCatalog) ListAssets(ctx context.Context, scope types.OwnerScope) ([]*types.AssetRecord, error) {
	query := `SELECT ` + assetColumns + ` FROM assets WHERE deleted_at IS NULL`
	var args []interface{}

	if !scope.IsAll() {
		if scope.Kind == types.OwnerUnscoped {
			query += ` AND owner_kind = ?`
			args = append(args, string(types.OwnerUnscoped))
			if scope.Category != "" {
				query += ` AND owner_id = ?`
				args = append(args, scope.Category)
			}
		} else {
			query += ` AND owner_kind = ? AND owner_id = ?`
			args = append(args, string(scope.Kind), scope.ID)
		}
		if scope.DateBucket != "" {
			// Exact bucket match only. The lister's prefix covers exactly
			// this bucket's folder; widening one side and not the other
			// would turn live rows into ghosts.
			query += ` AND date_bucket = ?`
			args = append(args, scope.DateBucket)
		}
	}
	query += ` ORDER BY storage_path`

	rows, err := c.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewCatalogError(errors.CodeReadFailed, "failed to list assets", err)
	}
	defer rows.Close()

	var records []*types.AssetRecord
	for rows.Next() {
		rec, scanErr := scanAsset(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewCatalogError(errors.CodeReadFailed, "failed to scan assets", err)
	}
	return records, nil
}

// GetByPath retrieves the non-deleted row at a storage path.
func (c *SQLiteCatalog) GetByPath(ctx context.Context, path string) (*types.AssetRecord, error) {
	row := c.readDB.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE storage_path = ? AND deleted_at IS NULL`, path)
	rec, err := scanAsset(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return rec, nil
}

// Insert adds a new row.
func (c *SQLiteCatalog) Insert(ctx context.Context, rec *types.AssetRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if err := rec.OwnerTags.Validate(); err != nil {
		return errors.Wrap(errors.ErrCategoryValidation, errors.CodeInvalidConfig, "invalid owner tags", err)
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	kind, ownerID, bucket := denormalize(rec.OwnerTags)
	tagsJSON, err := json.Marshal(rec.OwnerTags.Sorted())
	if err != nil {
		return errors.NewInternalError("failed to encode owner tags", err)
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO assets (id, storage_path, content_hash, owner_kind, owner_id, date_bucket, owner_tags, size_bytes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.StoragePath, nullable(rec.ContentHash), kind, nullable(ownerID), nullable(bucket),
		string(tagsJSON), rec.SizeBytes, rec.CreatedAt.UnixMilli(), rec.UpdatedAt.UnixMilli())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicatePath
		}
		return errors.NewCatalogError(errors.CodeWriteFailed, "failed to insert asset", err)
	}
	return nil
}

// SoftDelete marks a row deleted.
func (c *SQLiteCatalog) SoftDelete(ctx context.Context, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.ExecContext(ctx,
		`UPDATE assets SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		time.Now().UTC().UnixMilli(), time.Now().UTC().UnixMilli(), id)
	if err != nil {
		return false, errors.NewCatalogError(errors.CodeWriteFailed, "failed to soft-delete asset", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.NewCatalogError(errors.CodeWriteFailed, "failed to read delete result", err)
	}
	return n > 0, nil
}

// UpdateTags replaces a row's owner tags.
func (c *SQLiteCatalog) UpdateTags(ctx context.Context, id string, tags types.TagSet) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := tags.Validate(); err != nil {
		return errors.Wrap(errors.ErrCategoryValidation, errors.CodeInvalidConfig, "invalid owner tags", err)
	}
	kind, ownerID, bucket := denormalize(tags)
	tagsJSON, err := json.Marshal(tags.Sorted())
	if err != nil {
		return errors.NewInternalError("failed to encode owner tags", err)
	}

	res, err := c.db.ExecContext(ctx,
		`UPDATE assets SET owner_tags = ?, owner_kind = ?, owner_id = ?, date_bucket = ?, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		string(tagsJSON), kind, nullable(ownerID), nullable(bucket), time.Now().UTC().UnixMilli(), id)
	if err != nil {
		return errors.NewCatalogError(errors.CodeWriteFailed, "failed to update tags", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// UpdateObservedContent corrects a row's hash and size.
func (c *SQLiteCatalog) UpdateObservedContent(ctx context.Context, id string, hash string, size int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.ExecContext(ctx,
		`UPDATE assets SET content_hash = ?, size_bytes = ?, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		nullable(hash), size, time.Now().UTC().UnixMilli(), id)
	if err != nil {
		return errors.NewCatalogError(errors.CodeWriteFailed, "failed to update observed content", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Close closes the catalog database connections.
func (c *SQLiteCatalog) Close() error {
	if err := c.readDB.Close(); err != nil {
		c.db.Close()
		return err
	}
	return c.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAsset(row rowScanner) (*types.AssetRecord, error) {
	var (
		rec       types.AssetRecord
		hash      sql.NullString
		tagsJSON  string
		createdAt int64
		updatedAt int64
		deletedAt sql.NullInt64
	)
	err := row.Scan(&rec.ID, &rec.StoragePath, &hash, &tagsJSON, &rec.SizeBytes, &createdAt, &updatedAt, &deletedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, errors.NewCatalogError(errors.CodeReadFailed, "failed to scan asset row", err)
	}
	rec.ContentHash = hash.String

	var tags []string
	if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
		return nil, errors.NewInternalError("corrupt owner_tags column", err)
	}
	rec.OwnerTags = types.NewTagSet(tags...)
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	rec.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if deletedAt.Valid {
		t := time.UnixMilli(deletedAt.Int64).UTC()
		rec.DeletedAt = &t
	}
	return &rec, nil
}

// denormalize extracts indexed scope columns from a tag set.
func denormalize(tags types.TagSet) (kind, ownerID, bucket string) {
	kind = string(types.OwnerUnscoped)
	for _, t := range tags.Sorted() {
		switch {
		case strings.HasPrefix(t, types.TagPrefixCustomer):
			kind, ownerID = string(types.OwnerCustomer), strings.TrimPrefix(t, types.TagPrefixCustomer)
		case strings.HasPrefix(t, types.TagPrefixBlog):
			kind, ownerID = string(types.OwnerBlogPost), strings.TrimPrefix(t, types.TagPrefixBlog)
		case strings.HasPrefix(t, types.TagPrefixCampaign):
			kind, ownerID = string(types.OwnerCampaign), strings.TrimPrefix(t, types.TagPrefixCampaign)
		case strings.HasPrefix(t, types.TagPrefixCategory):
			if kind == string(types.OwnerUnscoped) {
				ownerID = strings.TrimPrefix(t, types.TagPrefixCategory)
			}
		case strings.HasPrefix(t, types.TagPrefixDate):
			bucket = strings.TrimPrefix(t, types.TagPrefixDate)
		}
	}
	return kind, ownerID, bucket
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
