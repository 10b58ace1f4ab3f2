// Package diff computes the divergence between the store-side and
// catalog-side views of an owner scope. It performs no I/O and holds no
// state: a diff is a point-in-time derivation, safe to discard and
// recompute at any time.
package diff

import (
	"sort"

	"github.com/mediarec/mediarec/internal/pathconv"
	"github.com/mediarec/mediarec/pkg/types"
)

// Options configures a diff computation.
type Options struct {
	// Convention is the current path convention, consulted by the
	// duplicate tie-break.
	Convention pathconv.Convention

	// Scope is the owner scope both input sets were gathered under.
	Scope types.OwnerScope

	// IsReferenced, when non-nil, biases the duplicate tie-break toward
	// members referenced by content. Nil degrades to the default rule.
	IsReferenced func(path string) bool
}

// Mismatch pairs a catalog row and the store object at the same path
// whose observed content diverges.
type Mismatch struct {
	Record *types.AssetRecord
	Object types.StorageObject
}

// DuplicateGroup is a set of catalog rows in one owner partition sharing
// a content hash. Keep is the canonical member per the tie-break rule;
// Losers are ordered deterministically.
type DuplicateGroup struct {
	ScopeKey    string
	ContentHash string
	Keep        *types.AssetRecord
	Losers      []*types.AssetRecord
}

// Result holds the four diff partitions. The partitions are disjoint:
// a ghost never appears in a duplicate group, and a mismatch is not an
// orphan.
type Result struct {
	Orphans    []types.StorageObject
	Ghosts     []*types.AssetRecord
	Duplicates []DuplicateGroup
	Mismatches []Mismatch
}

// Empty reports whether the two sides are fully converged.
func (r *Result) Empty() bool {
	return len(r.Orphans) == 0 && len(r.Ghosts) == 0 &&
		len(r.Duplicates) == 0 && len(r.Mismatches) == 0
}

// Compute diffs the store objects against the catalog records.
//
// Path matching is the strong identity: store-not-catalog is an orphan,
// catalog-not-store is a ghost. Content hashes are the weak identity:
// catalog rows sharing a hash within one owner partition form a
// duplicate group regardless of filename or folder (a renamed copy is
// just another duplicate). Path-matched pairs with diverging observed
// content are mismatches.
func Compute(objects []types.StorageObject, records []*types.AssetRecord, opts Options) *Result {
	result := &Result{}

	byPath := make(map[string]*types.AssetRecord, len(records))
	for _, rec := range records {
		byPath[rec.StoragePath] = rec
	}
	objByPath := make(map[string]types.StorageObject, len(objects))
	for _, obj := range objects {
		objByPath[obj.Path] = obj
	}

	for _, obj := range objects {
		rec, ok := byPath[obj.Path]
		if !ok {
			result.Orphans = append(result.Orphans, obj)
			continue
		}
		if mismatched(rec, obj) {
			result.Mismatches = append(result.Mismatches, Mismatch{Record: rec, Object: obj})
		}
	}

	ghostPaths := make(map[string]bool)
	for _, rec := range records {
		if _, ok := objByPath[rec.StoragePath]; !ok {
			result.Ghosts = append(result.Ghosts, rec)
			ghostPaths[rec.StoragePath] = true
		}
	}

	// Duplicate grouping over rows that still have bytes behind them.
	// Ghost rows are already slated for metadata deletion; including
	// them here would double-repair.
	groups := make(map[groupKey][]*types.AssetRecord)
	for _, rec := range records {
		if rec.ContentHash == "" || ghostPaths[rec.StoragePath] {
			continue
		}
		k := groupKey{scope: rec.ScopeKey(), hash: rec.ContentHash}
		groups[k] = append(groups[k], rec)
	}

	keys := make([]groupKey, 0, len(groups))
	for k, members := range groups {
		if len(members) > 1 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].scope != keys[j].scope {
			return keys[i].scope < keys[j].scope
		}
		return keys[i].hash < keys[j].hash
	})

	for _, k := range keys {
		members := rankMembers(groups[k], opts)
		result.Duplicates = append(result.Duplicates, DuplicateGroup{
			ScopeKey:    k.scope,
			ContentHash: k.hash,
			Keep:        members[0],
			Losers:      members[1:],
		})
	}

	sortResult(result)
	return result
}

type groupKey struct {
	scope string
	hash  string
}

// rankMembers orders a duplicate group best-first. The ordering is total
// and deterministic so repeated runs converge on the same keep member
// regardless of input order: content-referenced first, then current-
// convention paths, then earliest created_at, then smallest path.
func rankMembers(members []*types.AssetRecord, opts Options) []*types.AssetRecord {
	ranked := make([]*types.AssetRecord, len(members))
	copy(ranked, members)

	referenced := func(rec *types.AssetRecord) bool {
		return opts.IsReferenced != nil && opts.IsReferenced(rec.StoragePath)
	}
	conventional := func(rec *types.AssetRecord) bool {
		scope := scopeForRecord(rec, opts.Scope)
		return opts.Convention.Matches(rec.StoragePath, scope)
	}

	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if ra, rb := referenced(a), referenced(b); ra != rb {
			return ra
		}
		if ca, cb := conventional(a), conventional(b); ca != cb {
			return ca
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.StoragePath < b.StoragePath
	})
	return ranked
}

// scopeForRecord derives the record's own scope for convention checks
// when the diff ran under a broader scope.
func scopeForRecord(rec *types.AssetRecord, runScope types.OwnerScope) types.OwnerScope {
	if !runScope.IsAll() && runScope.Kind != types.OwnerUnscoped {
		return types.OwnerScope{Kind: runScope.Kind, ID: runScope.ID}
	}
	key := rec.ScopeKey()
	scope, err := types.ParseScope(key)
	if err != nil {
		return runScope
	}
	return scope
}

// mismatched compares observed store content against the catalog row.
// Hashes are only compared within the sha256 space; when the store side
// carries just a placeholder etag, size is the comparable signal.
func mismatched(rec *types.AssetRecord, obj types.StorageObject) bool {
	if rec.ContentHash != "" && obj.SHA256 != "" {
		if rec.ContentHash != obj.SHA256 {
			return true
		}
	}
	if rec.SizeBytes > 0 && obj.SizeBytes > 0 && rec.SizeBytes != obj.SizeBytes {
		return true
	}
	return false
}

// sortResult orders every partition deterministically.
func sortResult(r *Result) {
	sort.Slice(r.Orphans, func(i, j int) bool { return r.Orphans[i].Path < r.Orphans[j].Path })
	sort.Slice(r.Ghosts, func(i, j int) bool { return r.Ghosts[i].StoragePath < r.Ghosts[j].StoragePath })
	sort.Slice(r.Mismatches, func(i, j int) bool {
		return r.Mismatches[i].Record.StoragePath < r.Mismatches[j].Record.StoragePath
	})
}
