package catalog

import (
	"context"

	"github.com/mediarec/mediarec/pkg/types"
)

// ScopedReader pins a Reader to one owner scope. The reconciliation job
// compares the pinned scope against its own parameters and fails fast
// with SCOPE_MISMATCH when they diverge, instead of producing a
// misleading diff.
type ScopedReader struct {
	inner Reader
	scope types.OwnerScope
}

// NewScopedReader wraps a reader with a fixed scope.
func NewScopedReader(inner Reader, scope types.OwnerScope) *ScopedReader {
	return &ScopedReader{inner: inner, scope: scope}
}

// Scope returns the pinned scope.
func (s *ScopedReader) Scope() types.OwnerScope {
	return s.scope
}

// ListAssets lists under the pinned scope, ignoring the argument scope.
// Callers must verify scope agreement first (the job does).
func (s *ScopedReader) ListAssets(ctx context.Context, _ types.OwnerScope) ([]*types.AssetRecord, error) {
	return s.inner.ListAssets(ctx, s.scope)
}
