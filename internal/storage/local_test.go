package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

func setupLocal(t *testing.T) *LocalStorage {
	t.Helper()
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	return store
}

func putObject(t *testing.T, store *LocalStorage, path, content string) {
	t.Helper()
	if err := store.Put(context.Background(), path, strings.NewReader(content)); err != nil {
		t.Fatalf("put %s: %v", path, err)
	}
}

func TestLocalPutStatOpen(t *testing.T) {
	store := setupLocal(t)
	ctx := context.Background()
	putObject(t, store, "originals/customers/a/2026-01/a-1.jpg", "photo-bytes")

	info, err := store.Stat(ctx, "originals/customers/a/2026-01/a-1.jpg")
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.SizeBytes != int64(len("photo-bytes")) {
		t.Errorf("size = %d", info.SizeBytes)
	}
	if info.ETag == "" {
		t.Error("expected md5 etag")
	}

	rc, err := store.Open(ctx, info.Path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "photo-bytes" {
		t.Errorf("content = %q", data)
	}
}

func TestLocalListPagePaging(t *testing.T) {
	store := setupLocal(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		putObject(t, store, fmt.Sprintf("originals/customers/a/2026-01/a-%d.jpg", i), "x")
	}
	putObject(t, store, "originals/customers/b/2026-01/b-1.jpg", "y")

	page1, err := store.ListPage(ctx, "originals/customers/a/", "", 3)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(page1) != 3 {
		t.Fatalf("page 1 len = %d", len(page1))
	}

	page2, err := store.ListPage(ctx, "originals/customers/a/", page1[len(page1)-1].Path, 3)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(page2) != 2 {
		t.Fatalf("page 2 len = %d", len(page2))
	}
	if page2[0].Path <= page1[2].Path {
		t.Errorf("pages out of order: %s then %s", page1[2].Path, page2[0].Path)
	}
}

func TestLocalListDir(t *testing.T) {
	store := setupLocal(t)
	ctx := context.Background()
	putObject(t, store, "originals/customers/a/2026-01/a-1.jpg", "x")
	putObject(t, store, "originals/customers/b/2026-01/b-1.jpg", "y")
	putObject(t, store, "originals/blogs/487/2026-01/487-1.jpg", "z")
	putObject(t, store, "originals/stray.jpg", "s")

	kinds, objs, err := store.ListDir(ctx, "originals/")
	if err != nil {
		t.Fatalf("list dir: %v", err)
	}
	want := []string{"originals/blogs/", "originals/customers/"}
	if len(kinds) != len(want) || kinds[0] != want[0] || kinds[1] != want[1] {
		t.Errorf("prefixes = %v, want %v", kinds, want)
	}
	if len(objs) != 1 || objs[0].Path != "originals/stray.jpg" {
		t.Errorf("root objects = %v", objs)
	}
}

func TestLocalDeleteIdempotentSignal(t *testing.T) {
	store := setupLocal(t)
	ctx := context.Background()
	putObject(t, store, "originals/goods/2026-01/1.jpg", "x")

	if err := store.Delete(ctx, "originals/goods/2026-01/1.jpg"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	err := store.Delete(ctx, "originals/goods/2026-01/1.jpg")
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("second delete: got %v, want ErrObjectNotFound", err)
	}
}

func TestLocalFailPrefixHook(t *testing.T) {
	store := setupLocal(t)
	ctx := context.Background()
	putObject(t, store, "originals/customers/a/2026-01/a-1.jpg", "x")

	store.FailPrefix("originals/customers/", errors.New("simulated outage"))
	if _, err := store.ListPage(ctx, "originals/customers/a/", "", 10); !errors.Is(err, ErrListingFailed) {
		t.Errorf("expected ErrListingFailed, got %v", err)
	}

	store.FailPrefix("originals/customers/", nil)
	if _, err := store.ListPage(ctx, "originals/customers/a/", "", 10); err != nil {
		t.Errorf("after clearing hook: %v", err)
	}
}

func TestLocalEtagStableAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	store1, _ := NewLocalStorage(dir)
	ctx := context.Background()
	if err := store1.Put(ctx, "originals/goods/2026-01/1.jpg", strings.NewReader("same bytes")); err != nil {
		t.Fatal(err)
	}
	info1, _ := store1.Stat(ctx, "originals/goods/2026-01/1.jpg")

	// New instance has no etag cache and must recompute the same value.
	store2, _ := NewLocalStorage(dir)
	info2, err := store2.Stat(ctx, "originals/goods/2026-01/1.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if info1.ETag != info2.ETag {
		t.Errorf("etag changed across instances: %s vs %s", info1.ETag, info2.ETag)
	}
}
