// Package usage answers "is this storage path referenced by any content"
// for the content-management side (blog bodies, campaign payloads). The
// reconciliation engine consumes this lookup but does not own it: the
// reference table is maintained by the CMS. Absence of a lookup degrades
// the duplicate tie-break to its default rule.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Lookup reports whether a storage path is referenced by content.
type Lookup interface {
	IsReferenced(ctx context.Context, path string) (bool, error)
}

// SQLiteLookup reads the CMS-maintained content_references table.
type SQLiteLookup struct {
	db *sql.DB
}

// NewSQLiteLookup opens a read-only connection to the reference table.
func NewSQLiteLookup(dbPath string) (*SQLiteLookup, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("usage: failed to open reference database: %w", err)
	}
	db.SetMaxOpenConns(4)

	// The table is owned by the CMS; create it only so a fresh
	// environment reads as "nothing referenced" instead of erroring.
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS content_references (
		storage_path TEXT PRIMARY KEY,
		ref_count INTEGER NOT NULL DEFAULT 0
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("usage: failed to ensure reference table: %w", err)
	}
	return &SQLiteLookup{db: db}, nil
}

// IsReferenced reports whether any content references the path.
func (l *SQLiteLookup) IsReferenced(ctx context.Context, path string) (bool, error) {
	var count int
	err := l.db.QueryRowContext(ctx,
		`SELECT ref_count FROM content_references WHERE storage_path = ?`, path).Scan(&count)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("usage: reference lookup failed: %w", err)
	}
	return count > 0, nil
}

// AddReference is a fixture helper for tests and backfills.
func (l *SQLiteLookup) AddReference(ctx context.Context, path string) error {
	_, err := l.db.ExecContext(ctx, `INSERT INTO content_references (storage_path, ref_count) VALUES (?, 1)
		ON CONFLICT(storage_path) DO UPDATE SET ref_count = ref_count + 1`, path)
	return err
}

// Close closes the underlying connection.
func (l *SQLiteLookup) Close() error {
	return l.db.Close()
}

// StaticLookup is an in-memory Lookup for tests.
type StaticLookup struct {
	mu    sync.RWMutex
	paths map[string]bool
}

// NewStaticLookup builds a lookup over a fixed referenced-path set.
func NewStaticLookup(paths ...string) *StaticLookup {
	m := make(map[string]bool, len(paths))
	for _, p := range paths {
		m[p] = true
	}
	return &StaticLookup{paths: m}
}

// IsReferenced reports membership in the fixed set.
func (s *StaticLookup) IsReferenced(_ context.Context, path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paths[path], nil
}
