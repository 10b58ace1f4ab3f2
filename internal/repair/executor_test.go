package repair

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mediarec/mediarec/internal/catalog"
	"github.com/mediarec/mediarec/internal/errors"
	"github.com/mediarec/mediarec/internal/hash"
	"github.com/mediarec/mediarec/internal/storage"
	"github.com/mediarec/mediarec/pkg/types"
)

func setupExecutor(t *testing.T, cfg ExecutorConfig) (*Executor, *catalog.SQLiteCatalog, *storage.LocalStorage) {
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
	return NewExecutor(cat, store, cfg), cat, store
}

func TestExecutorCreateMetadataHashesContent(t *testing.T) {
	exec, cat, store := setupExecutor(t, DefaultExecutorConfig())
	ctx := context.Background()

	body := "jpeg bytes"
	path := "originals/customers/kim/2026-01-05/kim-1.jpg"
	if err := store.Put(ctx, path, strings.NewReader(body)); err != nil {
		t.Fatalf("put: %v", err)
	}

	outcome := exec.Apply(ctx, []Action{{
		Kind:     ActionCreateMetadata,
		ScopeKey: "customer:kim",
		Object:   &types.StorageObject{Path: path, SizeBytes: int64(len(body))},
		Tags:     types.NewTagSet("customer-kim", "date-2026-01-05"),
	}})

	assert.Equal(t, 1, outcome.Applied)
	assert.Empty(t, outcome.Failures)

	rec, err := cat.GetByPath(ctx, path)
	if err != nil {
		t.Fatalf("get by path: %v", err)
	}
	assert.Equal(t, hash.Bytes([]byte(body)), rec.ContentHash)
	assert.True(t, rec.OwnerTags.Has("customer-kim"))
	assert.Equal(t, int64(len(body)), rec.SizeBytes)
}

func TestExecutorCreateMetadataIdempotent(t *testing.T) {
	exec, cat, store := setupExecutor(t, DefaultExecutorConfig())
	ctx := context.Background()

	path := "originals/customers/kim/2026-01-05/kim-1.jpg"
	if err := store.Put(ctx, path, strings.NewReader("x")); err != nil {
		t.Fatalf("put: %v", err)
	}
	action := Action{
		Kind:     ActionCreateMetadata,
		ScopeKey: "customer:kim",
		Object:   &types.StorageObject{Path: path, SizeBytes: 1},
		Tags:     types.NewTagSet("customer-kim"),
	}

	first := exec.Apply(ctx, []Action{action})
	assert.Equal(t, 1, first.Applied)
	second := exec.Apply(ctx, []Action{action})
	assert.Equal(t, 1, second.Applied)
	assert.Empty(t, second.Failures)

	rec, err := cat.GetByPath(ctx, path)
	if err != nil {
		t.Fatalf("get by path: %v", err)
	}
	assert.NotEmpty(t, rec.ID)
}

func TestExecutorDeleteMetadataOnMissingRowSucceeds(t *testing.T) {
	exec, _, _ := setupExecutor(t, DefaultExecutorConfig())

	outcome := exec.Apply(context.Background(), []Action{{
		Kind:     ActionDeleteMetadata,
		ScopeKey: "customer:a",
		RecordID: "no-such-row",
	}})
	assert.Equal(t, 1, outcome.Applied)
	assert.Empty(t, outcome.Failures)
}

func TestExecutorDeleteObjectRequiresAuthorization(t *testing.T) {
	exec, _, store := setupExecutor(t, DefaultExecutorConfig())
	ctx := context.Background()

	path := "originals/customers/a/2026-01-05/copy.jpg"
	if err := store.Put(ctx, path, strings.NewReader("x")); err != nil {
		t.Fatalf("put: %v", err)
	}

	outcome := exec.Apply(ctx, []Action{{
		Kind:     ActionDeleteObject,
		ScopeKey: "customer:a",
		Path:     path,
	}})
	if len(outcome.Failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(outcome.Failures))
	}
	assert.Contains(t, outcome.Failures[0].Error, errors.CodeActionNotAuthorized)

	ok, err := store.Exists(ctx, path)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	assert.True(t, ok, "unauthorized delete must leave the object intact")
}

func TestExecutorDeleteObjectAuthorized(t *testing.T) {
	cfg := DefaultExecutorConfig()
	cfg.AllowPhysicalDelete = true
	exec, _, store := setupExecutor(t, cfg)
	ctx := context.Background()

	path := "originals/customers/a/2026-01-05/copy.jpg"
	if err := store.Put(ctx, path, strings.NewReader("x")); err != nil {
		t.Fatalf("put: %v", err)
	}

	action := Action{Kind: ActionDeleteObject, ScopeKey: "customer:a", Path: path}
	outcome := exec.Apply(ctx, []Action{action})
	assert.Equal(t, 1, outcome.Applied)

	ok, err := store.Exists(ctx, path)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	assert.False(t, ok)

	// Re-running on the already-deleted object still succeeds.
	again := exec.Apply(ctx, []Action{action})
	assert.Equal(t, 1, again.Applied)
	assert.Empty(t, again.Failures)
}

func TestExecutorMergeSoftDeletesLosers(t *testing.T) {
	exec, cat, _ := setupExecutor(t, DefaultExecutorConfig())
	ctx := context.Background()

	keep := &types.AssetRecord{
		StoragePath: "originals/customers/a/2026-01-05/a-1.jpg",
		ContentHash: "h1",
		OwnerTags:   types.NewTagSet("customer-a"),
	}
	loser := &types.AssetRecord{
		StoragePath: "originals/customers/a/2026-01-05/upload.jpg",
		ContentHash: "h1",
		OwnerTags:   types.NewTagSet("customer-a"),
	}
	for _, rec := range []*types.AssetRecord{keep, loser} {
		if err := cat.Insert(ctx, rec); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	action := Action{
		Kind:      ActionMergeDuplicates,
		ScopeKey:  "customer:a",
		KeepID:    keep.ID,
		DeleteIDs: []string{loser.ID},
	}
	outcome := exec.Apply(ctx, []Action{action})
	assert.Equal(t, 1, outcome.Applied)

	if _, err := cat.GetByPath(ctx, keep.StoragePath); err != nil {
		t.Fatalf("keep row must survive: %v", err)
	}
	if _, err := cat.GetByPath(ctx, loser.StoragePath); err == nil {
		t.Fatal("loser row must be soft-deleted")
	}

	// Idempotent: losers already gone is success.
	again := exec.Apply(ctx, []Action{action})
	assert.Equal(t, 1, again.Applied)
	assert.Empty(t, again.Failures)
}

func TestExecutorMergeRefusesToDeleteKeep(t *testing.T) {
	exec, cat, _ := setupExecutor(t, DefaultExecutorConfig())
	ctx := context.Background()

	keep := &types.AssetRecord{
		StoragePath: "originals/customers/a/2026-01-05/a-1.jpg",
		ContentHash: "h1",
		OwnerTags:   types.NewTagSet("customer-a"),
	}
	if err := cat.Insert(ctx, keep); err != nil {
		t.Fatalf("insert: %v", err)
	}

	outcome := exec.Apply(ctx, []Action{{
		Kind:      ActionMergeDuplicates,
		ScopeKey:  "customer:a",
		KeepID:    keep.ID,
		DeleteIDs: []string{keep.ID},
	}})
	if len(outcome.Failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(outcome.Failures))
	}
	if _, err := cat.GetByPath(ctx, keep.StoragePath); err != nil {
		t.Fatalf("keep row must survive a malformed merge: %v", err)
	}
}

func TestExecutorRelabelUpdatesTagsAndContent(t *testing.T) {
	exec, cat, _ := setupExecutor(t, DefaultExecutorConfig())
	ctx := context.Background()

	rec := &types.AssetRecord{
		StoragePath: "originals/customers/a/2026-01-05/a-1.jpg",
		ContentHash: "stale",
		OwnerTags:   types.NewTagSet("customer-a"),
		SizeBytes:   10,
	}
	if err := cat.Insert(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	outcome := exec.Apply(ctx, []Action{{
		Kind:         ActionRelabelTags,
		ScopeKey:     "customer:a",
		RecordID:     rec.ID,
		Tags:         types.NewTagSet("customer-a", "date-2026-01-05"),
		ObservedHash: "fresh",
		ObservedSize: 777,
	}})
	assert.Equal(t, 1, outcome.Applied)

	got, err := cat.GetByPath(ctx, rec.StoragePath)
	if err != nil {
		t.Fatalf("get by path: %v", err)
	}
	assert.Equal(t, "fresh", got.ContentHash)
	assert.Equal(t, int64(777), got.SizeBytes)
	assert.True(t, got.OwnerTags.Has("date-2026-01-05"))
}

func TestExecutorCancelledContextSkipsPending(t *testing.T) {
	exec, _, _ := setupExecutor(t, ExecutorConfig{Workers: 1, MaxRetries: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	actions := []Action{
		{Kind: ActionDeleteMetadata, ScopeKey: "customer:a", RecordID: "r1"},
		{Kind: ActionDeleteMetadata, ScopeKey: "customer:a", RecordID: "r2"},
	}
	outcome := exec.Apply(ctx, actions)
	assert.Equal(t, 0, outcome.Applied)
	assert.Equal(t, 2, outcome.Skipped)
}

func TestExecutorFullPlanRoundTrip(t *testing.T) {
	exec, cat, store := setupExecutor(t, DefaultExecutorConfig())
	ctx := context.Background()

	orphanPath := "originals/customers/kim/2026-01-05/kim-1.jpg"
	if err := store.Put(ctx, orphanPath, strings.NewReader("orphan body")); err != nil {
		t.Fatalf("put: %v", err)
	}
	ghost := &types.AssetRecord{
		StoragePath: "originals/customers/lee/2026-01-06/lee-1.jpg",
		ContentHash: "gone",
		OwnerTags:   types.NewTagSet("customer-lee"),
	}
	if err := cat.Insert(ctx, ghost); err != nil {
		t.Fatalf("insert: %v", err)
	}

	outcome := exec.Apply(ctx, []Action{
		{
			Kind:     ActionCreateMetadata,
			ScopeKey: "customer:kim",
			Object:   &types.StorageObject{Path: orphanPath, SizeBytes: 11},
			Tags:     types.NewTagSet("customer-kim", "date-2026-01-05"),
		},
		{Kind: ActionDeleteMetadata, ScopeKey: "customer:lee", RecordID: ghost.ID},
	})
	assert.Equal(t, 2, outcome.Applied)
	assert.Empty(t, outcome.Failures)

	if _, err := cat.GetByPath(ctx, orphanPath); err != nil {
		t.Fatalf("orphan must now be cataloged: %v", err)
	}
	if _, err := cat.GetByPath(ctx, ghost.StoragePath); err == nil {
		t.Fatal("ghost row must be soft-deleted")
	}
}
