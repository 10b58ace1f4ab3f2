package usage

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSQLiteLookup(t *testing.T) {
	ctx := context.Background()
	l, err := NewSQLiteLookup(filepath.Join(t.TempDir(), "content.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer l.Close()

	ref, err := l.IsReferenced(ctx, "originals/blogs/487/2026-01/487-1.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if ref {
		t.Error("empty table reported a reference")
	}

	if err := l.AddReference(ctx, "originals/blogs/487/2026-01/487-1.jpg"); err != nil {
		t.Fatal(err)
	}
	ref, err = l.IsReferenced(ctx, "originals/blogs/487/2026-01/487-1.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if !ref {
		t.Error("reference not visible")
	}
}

func TestStaticLookup(t *testing.T) {
	l := NewStaticLookup("a/b.jpg")
	ref, _ := l.IsReferenced(context.Background(), "a/b.jpg")
	if !ref {
		t.Error("expected referenced")
	}
	ref, _ = l.IsReferenced(context.Background(), "a/c.jpg")
	if ref {
		t.Error("expected unreferenced")
	}
}
