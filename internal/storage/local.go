package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// LocalStorage implements ObjectStorage using the local filesystem.
// This is primarily used for testing and development. ETags are md5
// digests, matching what S3 reports for simple uploads.
type LocalStorage struct {
	basePath string
	mu       sync.RWMutex
	etags    map[string]string

	// failPrefixes simulates transient listing failures for tests: a
	// prefix registered here fails every ListPage until unregistered.
	failPrefixes map[string]error
}

// NewLocalStorage creates a new local filesystem storage.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &LocalStorage{
		basePath:     basePath,
		etags:        make(map[string]string),
		failPrefixes: make(map[string]error),
	}, nil
}

// FailPrefix makes listings under prefix fail with err until cleared
// with err == nil. Test hook only.
func (l *LocalStorage) FailPrefix(prefix string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.failPrefixes, prefix)
		return
	}
	l.failPrefixes[prefix] = err
}

// ListPage returns up to limit objects under prefix after startAfter.
func (l *LocalStorage) ListPage(ctx context.Context, prefix, startAfter string, limit int) ([]ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if err := l.failureFor(prefix); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrListingFailed, err)
	}

	paths, err := l.walk(prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrListingFailed, err)
	}

	out := make([]ObjectInfo, 0, limit)
	for _, p := range paths {
		if p <= startAfter {
			continue
		}
		info, statErr := l.Stat(ctx, p)
		if statErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrListingFailed, statErr)
		}
		out = append(out, *info)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// ListDir returns the immediate child prefixes and objects under prefix.
func (l *LocalStorage) ListDir(ctx context.Context, prefix string) ([]string, []ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if err := l.failureFor(prefix); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrListingFailed, err)
	}
	dir := filepath.Join(l.basePath, filepath.FromSlash(strings.TrimSuffix(prefix, "/")))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrListingFailed, err)
	}
	var (
		prefixes []string
		objects  []ObjectInfo
	)
	for _, e := range entries {
		if e.IsDir() {
			prefixes = append(prefixes, prefix+e.Name()+"/")
			continue
		}
		info, statErr := l.Stat(ctx, prefix+e.Name())
		if statErr != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrListingFailed, statErr)
		}
		objects = append(objects, *info)
	}
	sort.Strings(prefixes)
	return prefixes, objects, nil
}

// Stat returns metadata for a single object.
func (l *LocalStorage) Stat(ctx context.Context, path string) (*ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full := l.fullPath(path)
	fi, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	if fi.IsDir() {
		return nil, ErrObjectNotFound
	}
	etag, err := l.etagFor(path, full)
	if err != nil {
		return nil, err
	}
	return &ObjectInfo{Path: path, SizeBytes: fi.Size(), ETag: etag}, nil
}

// Open streams an object's content.
func (l *LocalStorage) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(l.fullPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	return f, nil
}

// Put writes an object and records its md5 etag.
func (l *LocalStorage) Put(ctx context.Context, path string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full := l.fullPath(path)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	dst, err := os.Create(full)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	defer dst.Close()

	h := md5.New()
	if _, err := io.Copy(io.MultiWriter(dst, h), r); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	l.mu.Lock()
	l.etags[path] = hex.EncodeToString(h.Sum(nil))
	l.mu.Unlock()
	return nil
}

// Delete removes an object.
func (l *LocalStorage) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(l.fullPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrObjectNotFound
		}
		return fmt.Errorf("%w: %v", ErrDeleteFailed, err)
	}
	l.mu.Lock()
	delete(l.etags, path)
	l.mu.Unlock()
	return nil
}

// Exists checks if an object exists.
func (l *LocalStorage) Exists(ctx context.Context, path string) (bool, error) {
	_, err := l.Stat(ctx, path)
	if err != nil {
		if err == ErrObjectNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (l *LocalStorage) fullPath(path string) string {
	return filepath.Join(l.basePath, filepath.FromSlash(path))
}

func (l *LocalStorage) failureFor(prefix string) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for p, err := range l.failPrefixes {
		if strings.HasPrefix(prefix, p) {
			return err
		}
	}
	return nil
}

// walk returns all object paths under prefix in lexicographic order.
func (l *LocalStorage) walk(prefix string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(l.basePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(l.basePath, p)
		if relErr != nil {
			return relErr
		}
		objPath := filepath.ToSlash(rel)
		if strings.HasPrefix(objPath, prefix) {
			paths = append(paths, objPath)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// etagFor returns the cached etag or computes it from the file content.
func (l *LocalStorage) etagFor(path, full string) (string, error) {
	l.mu.RLock()
	etag, ok := l.etags[path]
	l.mu.RUnlock()
	if ok {
		return etag, nil
	}

	f, err := os.Open(full)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	etag = hex.EncodeToString(h.Sum(nil))

	l.mu.Lock()
	l.etags[path] = etag
	l.mu.Unlock()
	return etag, nil
}
