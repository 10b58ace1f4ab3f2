package repair

import (
	"context"
	stderrors "errors"
	"log"
	"math"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/mediarec/mediarec/internal/catalog"
	"github.com/mediarec/mediarec/internal/errors"
	"github.com/mediarec/mediarec/internal/hash"
	"github.com/mediarec/mediarec/internal/storage"
	"github.com/mediarec/mediarec/pkg/types"
)

// ExecutorConfig holds execution configuration.
type ExecutorConfig struct {
	// Workers bounds cross-scope parallelism (default: 4). Actions
	// sharing an owner scope always apply sequentially.
	Workers int

	// MaxRetries bounds retry attempts for transient failures (default: 3).
	MaxRetries int

	// AllowPhysicalDelete authorizes DeleteObject actions. Without it a
	// DeleteObject is recorded as ACTION_NOT_AUTHORIZED, never silently
	// skipped or executed.
	AllowPhysicalDelete bool
}

// DefaultExecutorConfig returns the default executor configuration.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{Workers: 4, MaxRetries: 3}
}

// ActionFailure records one action that could not be applied.
type ActionFailure struct {
	Action Action `json:"action"`
	Error  string `json:"error"`
}

// Outcome summarizes an execution.
type Outcome struct {
	Applied  int             `json:"applied"`
	Skipped  int             `json:"skipped"`
	Failures []ActionFailure `json:"failures,omitempty"`
}

// Executor applies repair plans against the store and catalog.
type Executor struct {
	cat   catalog.Catalog
	store storage.ObjectStorage
	cfg   ExecutorConfig
}

// NewExecutor creates an executor.
func NewExecutor(cat catalog.Catalog, store storage.ObjectStorage, cfg ExecutorConfig) *Executor {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Executor{cat: cat, store: store, cfg: cfg}
}

// Apply executes a plan. Actions are partitioned into shards by the
// murmur3 hash of their owner scope key, so two actions touching the
// same scope (and therefore the same paths and record ids) never race;
// shards proceed in parallel.
//
// Each action is idempotent and independently retryable; one failure is
// recorded and the remaining actions continue. On cancellation in-flight
// actions finish and pending ones are counted as skipped.
func (e *Executor) Apply(ctx context.Context, actions []Action) *Outcome {
	outcome := &Outcome{}
	if len(actions) == 0 {
		return outcome
	}

	workers := e.cfg.Workers
	if len(actions) < workers {
		workers = len(actions)
	}

	shards := make([][]Action, workers)
	for _, a := range actions {
		idx := int(murmur3.Sum32([]byte(a.ScopeKey)) % uint32(workers))
		shards[idx] = append(shards[idx], a)
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, shard := range shards {
		if len(shard) == 0 {
			continue
		}
		wg.Add(1)
		go func(shard []Action) {
			defer wg.Done()
			for i, a := range shard {
				if ctx.Err() != nil {
					mu.Lock()
					outcome.Skipped += len(shard) - i
					mu.Unlock()
					return
				}
				err := e.applyOne(ctx, a)
				mu.Lock()
				if err != nil {
					log.Printf("executor: action failed (%s): %v", a, err)
					outcome.Failures = append(outcome.Failures, ActionFailure{Action: a, Error: err.Error()})
				} else {
					outcome.Applied++
				}
				mu.Unlock()
			}
		}(shard)
	}
	wg.Wait()
	return outcome
}

// applyOne applies a single action with retry for transient failures.
func (e *Executor) applyOne(ctx context.Context, a Action) error {
	op := func() error {
		switch a.Kind {
		case ActionCreateMetadata:
			return e.createMetadata(ctx, a)
		case ActionDeleteMetadata:
			_, err := e.cat.SoftDelete(ctx, a.RecordID)
			return err
		case ActionDeleteObject:
			return e.deleteObject(ctx, a)
		case ActionRelabelTags:
			return e.relabel(ctx, a)
		case ActionMergeDuplicates:
			return e.merge(ctx, a)
		default:
			return errors.NewInternalError("unknown action kind "+string(a.Kind), nil)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !errors.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt < e.cfg.MaxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return lastErr
}

// createMetadata catalogs an orphan. A row already present at the path
// means a previous attempt (or a concurrent writer) got there first:
// success, not error, and never a duplicate row.
func (e *Executor) createMetadata(ctx context.Context, a Action) error {
	if _, err := e.cat.GetByPath(ctx, a.Object.Path); err == nil {
		return nil
	} else if !stderrors.Is(err, catalog.ErrRecordNotFound) {
		return err
	}

	digest := a.Object.SHA256
	if digest == "" {
		d, err := e.hashObject(ctx, a.Object.Path)
		if err != nil {
			if stderrors.Is(err, storage.ErrObjectNotFound) {
				// Object vanished since the snapshot; nothing to catalog.
				return nil
			}
			return errors.NewStoreError(errors.CodeReadFailed, "failed to hash orphan "+a.Object.Path, err)
		}
		digest = d
	}

	rec := &types.AssetRecord{
		StoragePath: a.Object.Path,
		ContentHash: digest,
		OwnerTags:   a.Tags,
		SizeBytes:   a.Object.SizeBytes,
	}
	err := e.cat.Insert(ctx, rec)
	if stderrors.Is(err, catalog.ErrDuplicatePath) {
		return nil
	}
	return err
}

// deleteObject removes a duplicate loser's backing file, guarded by the
// physical-delete authorization.
func (e *Executor) deleteObject(ctx context.Context, a Action) error {
	if !e.cfg.AllowPhysicalDelete {
		return errors.NewActionNotAuthorized("physical deletion of " + a.Path + " requires allow_physical_delete")
	}
	err := e.store.Delete(ctx, a.Path)
	if stderrors.Is(err, storage.ErrObjectNotFound) {
		// Already gone, possibly via a concurrent actor.
		return nil
	}
	if err != nil {
		return errors.NewStoreError(errors.CodeDeleteFailed, "failed to delete "+a.Path, err)
	}
	return nil
}

// relabel corrects a row's tags and observed content.
func (e *Executor) relabel(ctx context.Context, a Action) error {
	if len(a.Tags) > 0 {
		if err := e.cat.UpdateTags(ctx, a.RecordID, a.Tags); err != nil {
			if stderrors.Is(err, catalog.ErrRecordNotFound) {
				return nil
			}
			return err
		}
	}
	if a.ObservedSize > 0 || a.ObservedHash != "" {
		err := e.cat.UpdateObservedContent(ctx, a.RecordID, a.ObservedHash, a.ObservedSize)
		if stderrors.Is(err, catalog.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// merge soft-deletes a duplicate group's losing rows. The keep member is
// untouched; re-running on missing losers is a no-op.
func (e *Executor) merge(ctx context.Context, a Action) error {
	for _, id := range a.DeleteIDs {
		if id == a.KeepID {
			return errors.NewInternalError("merge would delete its keep member", nil)
		}
		if _, err := e.cat.SoftDelete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) hashObject(ctx context.Context, path string) (string, error) {
	rc, err := e.store.Open(ctx, path)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	return hash.Reader(rc)
}
