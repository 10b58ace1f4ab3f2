// Package lister builds the store-side reconciliation universe: every
// leaf object under a scope's prefix, with derivative and placeholder
// objects filtered out during listing.
package lister

import (
	"context"
	"errors"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/mediarec/mediarec/internal/hash"
	"github.com/mediarec/mediarec/internal/pathconv"
	"github.com/mediarec/mediarec/internal/storage"
	"github.com/mediarec/mediarec/pkg/types"
)

// Config holds listing configuration.
type Config struct {
	// PageSize is the listing page size (default storage.DefaultPageSize).
	PageSize int

	// Workers bounds the sub-prefix fan-out, respecting store rate
	// limits (default: 4).
	Workers int

	// MaxRetries bounds per-page retry attempts (default: 3).
	MaxRetries int

	// DeepHash streams every object through the content hasher instead
	// of relying on the store etag as a placeholder fingerprint.
	DeepHash bool
}

// DefaultConfig returns the default lister configuration.
func DefaultConfig() Config {
	return Config{
		PageSize:   storage.DefaultPageSize,
		Workers:    4,
		MaxRetries: 3,
	}
}

// Listing is the store-side universe for one reconciliation run.
type Listing struct {
	Objects []types.StorageObject

	// Partial is set when one or more sub-prefixes could not be listed.
	// The run continues and reports the partiality rather than aborting.
	Partial bool

	// FailedPrefixes names the sub-prefixes that were skipped.
	FailedPrefixes []string
}

// Lister enumerates storage objects for a scope.
type Lister struct {
	store storage.ObjectStorage
	conv  pathconv.Convention
	cfg   Config
}

// New creates a lister over the given store and path convention.
func New(store storage.ObjectStorage, conv pathconv.Convention, cfg Config) *Lister {
	if cfg.PageSize <= 0 {
		cfg.PageSize = storage.DefaultPageSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Lister{store: store, conv: conv, cfg: cfg}
}

// List enumerates all objects under the scope's prefix. Sub-prefixes are
// fanned out across a bounded worker pool; a sub-prefix whose listing
// keeps failing is skipped and recorded, never fatal.
func (l *Lister) List(ctx context.Context, scope types.OwnerScope) (*Listing, error) {
	prefix, err := l.conv.PrefixFor(scope)
	if err != nil {
		return nil, err
	}

	result := &Listing{}

	// Discover fan-out units and loose objects at the prefix root.
	var units []string
	discoverErr := l.retry(ctx, func() error {
		var rootObjs []storage.ObjectInfo
		var dirErr error
		units, rootObjs, dirErr = l.store.ListDir(ctx, prefix)
		if dirErr != nil {
			return dirErr
		}
		result.Objects = append(result.Objects, l.convert(ctx, rootObjs)...)
		return nil
	})
	if discoverErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Printf("lister: prefix discovery failed for %s, reporting partial listing: %v", prefix, discoverErr)
		result.Partial = true
		result.FailedPrefixes = append(result.FailedPrefixes, prefix)
		return result, nil
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		unitCh  = make(chan string)
		workers = l.cfg.Workers
	)
	if len(units) < workers {
		workers = len(units)
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for unit := range unitCh {
				objs, unitErr := l.listUnit(ctx, unit)
				converted := l.convert(ctx, objs)
				mu.Lock()
				result.Objects = append(result.Objects, converted...)
				if unitErr != nil {
					log.Printf("lister: skipping sub-prefix %s after retries: %v", unit, unitErr)
					result.Partial = true
					result.FailedPrefixes = append(result.FailedPrefixes, unit)
				}
				mu.Unlock()
			}
		}()
	}

	for _, unit := range units {
		select {
		case unitCh <- unit:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(unitCh)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(result.Objects, func(i, j int) bool {
		return result.Objects[i].Path < result.Objects[j].Path
	})
	sort.Strings(result.FailedPrefixes)
	return result, nil
}

// listUnit pages through one sub-prefix. Objects collected before a
// terminal failure are returned alongside the error so the universe
// keeps everything that did list successfully.
func (l *Lister) listUnit(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var (
		collected  []storage.ObjectInfo
		startAfter string
	)
	for {
		var page []storage.ObjectInfo
		err := l.retry(ctx, func() error {
			var pageErr error
			// Resume from the last successful page, not from the start.
			page, pageErr = l.store.ListPage(ctx, prefix, startAfter, l.cfg.PageSize)
			return pageErr
		})
		if err != nil {
			return collected, err
		}
		if len(page) == 0 {
			return collected, nil
		}
		collected = append(collected, page...)
		startAfter = page[len(page)-1].Path
		if len(page) < l.cfg.PageSize {
			return collected, nil
		}
	}
}

// convert turns raw listing entries into storage objects, dropping
// derivatives and placeholders during listing so they never generate
// orphan or duplicate findings.
func (l *Lister) convert(ctx context.Context, objs []storage.ObjectInfo) []types.StorageObject {
	out := make([]types.StorageObject, 0, len(objs))
	for _, obj := range objs {
		if pathconv.Excluded(obj.Path) {
			continue
		}
		so := types.StorageObject{
			Path:      obj.Path,
			SizeBytes: obj.SizeBytes,
			ETag:      obj.ETag,
		}
		if l.cfg.DeepHash {
			if digest, err := l.hashObject(ctx, obj.Path); err != nil {
				log.Printf("lister: deep hash failed for %s, falling back to etag: %v", obj.Path, err)
			} else {
				so.SHA256 = digest
			}
		}
		out = append(out, so)
	}
	return out
}

// hashObject streams an object through the content hasher.
func (l *Lister) hashObject(ctx context.Context, path string) (string, error) {
	var digest string
	err := l.retry(ctx, func() error {
		rc, openErr := l.store.Open(ctx, path)
		if openErr != nil {
			return openErr
		}
		defer rc.Close()
		var hashErr error
		digest, hashErr = hash.Reader(rc)
		return hashErr
	})
	return digest, err
}

// retry executes op with exponential backoff up to MaxRetries attempts.
func (l *Lister) retry(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, storage.ErrObjectNotFound) {
			return lastErr
		}
		if attempt < l.cfg.MaxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 50 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return lastErr
}
