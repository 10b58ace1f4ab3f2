package recon

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mediarec/mediarec/internal/catalog"
	"github.com/mediarec/mediarec/internal/errors"
	"github.com/mediarec/mediarec/internal/hash"
	"github.com/mediarec/mediarec/internal/pathconv"
	"github.com/mediarec/mediarec/internal/storage"
	"github.com/mediarec/mediarec/internal/usage"
	"github.com/mediarec/mediarec/pkg/types"
)

type fixture struct {
	cat   *catalog.SQLiteCatalog
	store *storage.LocalStorage
}

func setup(t *testing.T) *fixture {
	t.Helper()
	cat, err := catalog.NewCatalog(t.TempDir() + "/assets.db")
	if err != nil {
		t.Fatalf("failed to create catalog: %v", err)
	}
	t.Cleanup(func() { cat.Close() })

	store, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	return &fixture{cat: cat, store: store}
}

func (f *fixture) engine(cfg EngineConfig) *Engine {
	cfg.Convention = pathconv.Default()
	return NewEngine(f.cat, f.store, cfg)
}

func (f *fixture) put(t *testing.T, path, body string) {
	t.Helper()
	if err := f.store.Put(context.Background(), path, strings.NewReader(body)); err != nil {
		t.Fatalf("put %s: %v", path, err)
	}
}

func (f *fixture) insert(t *testing.T, path, contentHash string, size int64, tags ...string) *types.AssetRecord {
	t.Helper()
	rec := &types.AssetRecord{
		StoragePath: path,
		ContentHash: contentHash,
		OwnerTags:   types.NewTagSet(tags...),
		SizeBytes:   size,
	}
	if err := f.cat.Insert(context.Background(), rec); err != nil {
		t.Fatalf("insert %s: %v", path, err)
	}
	return rec
}

func scopeOf(t *testing.T, s string) types.OwnerScope {
	t.Helper()
	scope, err := types.ParseScope(s)
	if err != nil {
		t.Fatalf("parse scope %q: %v", s, err)
	}
	return scope
}

func TestReconcileOrphanEndToEnd(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	body := "photo bytes"
	path := "originals/customers/a/2026-01-05/photo-1.jpg"
	f.put(t, path, body)

	report, err := f.engine(EngineConfig{}).Reconcile(ctx, Params{Scope: scopeOf(t, "customer:a")})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	assert.Equal(t, StateReported, report.State)
	assert.Equal(t, 1, report.OrphansFound)
	assert.Equal(t, 1, report.ActionsPlanned)
	assert.Equal(t, 1, report.ActionsApplied)
	assert.Empty(t, report.ActionsFailed)

	rec, err := f.cat.GetByPath(ctx, path)
	if err != nil {
		t.Fatalf("the orphan must be cataloged: %v", err)
	}
	assert.Equal(t, hash.Bytes([]byte(body)), rec.ContentHash)
	assert.True(t, rec.OwnerTags.Has("customer-a"))
}

func TestReconcileGhostEndToEnd(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	path := "originals/customers/b/2026-01-05/photo-2.jpg"
	f.insert(t, path, "h2", 64, "customer-b", "date-2026-01-05")

	report, err := f.engine(EngineConfig{}).Reconcile(ctx, Params{Scope: scopeOf(t, "customer:b")})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	assert.Equal(t, 1, report.GhostsFound)
	assert.Equal(t, 1, report.ActionsApplied)
	if _, err := f.cat.GetByPath(ctx, path); err == nil {
		t.Fatal("the ghost row must be soft-deleted")
	}
}

func TestReconcileDuplicatesMetadataOnly(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	body := "same bytes"
	h := hash.Bytes([]byte(body))
	canonical := "originals/customers/c/2026-01-05/c-1.jpg"
	upload := "originals/customers/c/2026-01-05/IMG_0001.jpg"
	f.put(t, canonical, body)
	f.put(t, upload, body)
	f.insert(t, canonical, h, int64(len(body)), "customer-c", "date-2026-01-05")
	f.insert(t, upload, h, int64(len(body)), "customer-c", "date-2026-01-05")

	report, err := f.engine(EngineConfig{}).Reconcile(ctx, Params{Scope: scopeOf(t, "customer:c")})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	assert.Equal(t, 1, report.DuplicateGroupsFound)
	assert.Empty(t, report.ActionsFailed)

	// Without allow_physical_delete both objects survive; only the
	// loser's row is retired.
	for _, p := range []string{canonical, upload} {
		ok, existsErr := f.store.Exists(ctx, p)
		if existsErr != nil {
			t.Fatalf("exists %s: %v", p, existsErr)
		}
		assert.True(t, ok)
	}
	if _, err := f.cat.GetByPath(ctx, canonical); err != nil {
		t.Fatalf("the convention-matching copy keeps its row: %v", err)
	}
	if _, err := f.cat.GetByPath(ctx, upload); err == nil {
		t.Fatal("the losing row must be soft-deleted")
	}
}

func TestReconcileDryRunMutatesNothing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	path := "originals/customers/a/2026-01-05/photo-1.jpg"
	f.put(t, path, "photo bytes")

	report, err := f.engine(EngineConfig{}).Reconcile(ctx, Params{
		Scope:  scopeOf(t, "customer:a"),
		DryRun: true,
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	assert.Equal(t, StateReported, report.State)
	assert.Equal(t, 1, report.OrphansFound)
	assert.Equal(t, 1, report.ActionsPlanned)
	assert.Len(t, report.Actions, 1)
	assert.Equal(t, 0, report.ActionsApplied)

	if _, err := f.cat.GetByPath(ctx, path); err == nil {
		t.Fatal("dry run must not touch the catalog")
	}
}

func TestReconcileSecondRunConverges(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.put(t, "originals/customers/a/2026-01-05/photo-1.jpg", "orphan")
	f.insert(t, "originals/customers/a/2026-01-05/gone.jpg", "h9", 64, "customer-a")

	engine := f.engine(EngineConfig{})
	scope := scopeOf(t, "customer:a")

	first, err := engine.Reconcile(ctx, Params{Scope: scope})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	assert.False(t, first.Converged())
	assert.Empty(t, first.ActionsFailed)

	second, err := engine.Reconcile(ctx, Params{Scope: scope})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	assert.True(t, second.Converged(), "a repaired tree must diff empty")
	assert.Equal(t, 0, second.ActionsPlanned)
}

func TestReconcileDailyScopeLeavesMonthlyRowsAlone(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// A healthy monthly-bucketed asset. A run scoped to a single day
	// inside that month covers a disjoint storage prefix and must not
	// flag this row as a ghost.
	path := "originals/customers/a/2026-01/photo-1.jpg"
	body := "monthly bytes"
	f.put(t, path, body)
	f.insert(t, path, hash.Bytes([]byte(body)), int64(len(body)), "customer-a", "date-2026-01")

	report, err := f.engine(EngineConfig{}).Reconcile(ctx, Params{Scope: scopeOf(t, "customer:a@2026-01-05")})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	assert.True(t, report.Converged())
	assert.Equal(t, 0, report.GhostsFound)
	if _, err := f.cat.GetByPath(ctx, path); err != nil {
		t.Fatalf("the monthly row must survive a daily-scoped run: %v", err)
	}
}

func TestReconcilePartialListingSurfaces(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.put(t, "originals/blogs/spring-open/2026-01/photo-1.jpg", "listable")
	f.put(t, "originals/customers/b/2026-01-05/photo-2.jpg", "unlistable")
	f.store.FailPrefix("originals/customers/", errors.NewStoreError(errors.CodeListingFailed, "simulated outage", nil))

	report, err := f.engine(EngineConfig{}).Reconcile(ctx, Params{Scope: types.ScopeAll, DryRun: true})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	assert.True(t, report.PartialListing)
	assert.NotEmpty(t, report.FailedPrefixes)
	// The healthy prefix still produced findings.
	assert.Equal(t, 1, report.OrphansFound)
	assert.Equal(t, StateReported, report.State)
}

func TestReconcileScopePinnedReaderMismatch(t *testing.T) {
	f := setup(t)

	pinned := catalog.NewScopedReader(f.cat, scopeOf(t, "customer:a"))
	report, err := f.engine(EngineConfig{Reader: pinned}).Reconcile(context.Background(), Params{
		Scope: scopeOf(t, "customer:b"),
	})

	assert.Equal(t, StateAborted, report.State)
	if errors.GetCode(err) != errors.CodeScopeMismatch {
		t.Fatalf("expected scope mismatch, got %v", err)
	}
}

func TestReconcileInvalidScopeAborts(t *testing.T) {
	f := setup(t)

	report, err := f.engine(EngineConfig{}).Reconcile(context.Background(), Params{
		Scope: types.OwnerScope{Kind: types.OwnerCustomer},
	})

	assert.Equal(t, StateAborted, report.State)
	assert.Error(t, err)
}

func TestReconcileUnslugifiableOwnerAborts(t *testing.T) {
	f := setup(t)

	report, err := f.engine(EngineConfig{}).Reconcile(context.Background(), Params{
		Scope: types.OwnerScope{Kind: types.OwnerCustomer, ID: "한국어"},
	})

	assert.Equal(t, StateAborted, report.State)
	if errors.GetCode(err) != errors.CodeInvalidOwnerIdentifier {
		t.Fatalf("expected invalid owner identifier, got %v", err)
	}
}

func TestReconcileCancelledBeforeExecuteMutatesNothing(t *testing.T) {
	f := setup(t)

	path := "originals/customers/a/2026-01-05/photo-1.jpg"
	f.put(t, path, "orphan")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine(EngineConfig{}).Reconcile(ctx, Params{Scope: scopeOf(t, "customer:a")})
	assert.Error(t, err)
	if _, err := f.cat.GetByPath(context.Background(), path); err == nil {
		t.Fatal("a cancelled run must not mutate the catalog")
	}
}

func TestReconcileUsageBiasedTieBreak(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	body := "same bytes"
	h := hash.Bytes([]byte(body))
	referenced := "originals/customers/d/2026-01-05/upload-a.jpg"
	other := "originals/customers/d/2026-01-05/upload-b.jpg"
	f.put(t, referenced, body)
	f.put(t, other, body)
	f.insert(t, referenced, h, int64(len(body)), "customer-d")
	f.insert(t, other, h, int64(len(body)), "customer-d")

	engine := f.engine(EngineConfig{Usage: usage.NewStaticLookup(referenced)})
	report, err := engine.Reconcile(ctx, Params{Scope: scopeOf(t, "customer:d")})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	assert.Equal(t, 1, report.DuplicateGroupsFound)

	if _, err := f.cat.GetByPath(ctx, referenced); err != nil {
		t.Fatalf("the referenced copy keeps its row: %v", err)
	}
	if _, err := f.cat.GetByPath(ctx, other); err == nil {
		t.Fatal("the unreferenced copy's row must be soft-deleted")
	}
}

func TestStatsRecordsRuns(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.put(t, "originals/customers/a/2026-01-05/photo-1.jpg", "x")
	engine := f.engine(EngineConfig{})
	if _, err := engine.Reconcile(ctx, Params{Scope: scopeOf(t, "customer:a"), DryRun: true}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	assert.Equal(t, 1, engine.Stats().TotalRuns())
	recent := engine.Stats().Recent(5)
	if len(recent) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(recent))
	}
	assert.Equal(t, "customer:a", recent[0].Scope)
	assert.Equal(t, 1, recent[0].FindingsTotal)
}
