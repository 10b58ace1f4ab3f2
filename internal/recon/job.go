package recon

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/mediarec/mediarec/internal/catalog"
	"github.com/mediarec/mediarec/internal/diff"
	"github.com/mediarec/mediarec/internal/errors"
	"github.com/mediarec/mediarec/internal/lister"
	"github.com/mediarec/mediarec/internal/pathconv"
	"github.com/mediarec/mediarec/internal/repair"
	"github.com/mediarec/mediarec/internal/storage"
	"github.com/mediarec/mediarec/internal/usage"
	"github.com/mediarec/mediarec/pkg/types"
)

// EngineConfig wires the collaborators a reconciliation engine needs.
// Everything is explicit; there is no ambient client state.
type EngineConfig struct {
	Convention pathconv.Convention
	Lister     lister.Config
	Executor   repair.ExecutorConfig

	// Reader overrides the catalog as the metadata source. A reader
	// pinned to one scope makes the engine fail fast when invoked with
	// a different scope.
	Reader catalog.Reader

	// Usage is the optional content-reference lookup. Absent, duplicate
	// tie-breaks fall back to the convention and age rules alone.
	Usage usage.Lookup
}

// Engine runs reconciliation jobs over one store and one catalog.
type Engine struct {
	cat    catalog.Catalog
	store  storage.ObjectStorage
	reader catalog.Reader
	lookup usage.Lookup
	conv   pathconv.Convention

	listerCfg lister.Config
	execCfg   repair.ExecutorConfig

	stats *RunStats
}

// NewEngine creates a reconciliation engine.
func NewEngine(cat catalog.Catalog, store storage.ObjectStorage, cfg EngineConfig) *Engine {
	reader := cfg.Reader
	if reader == nil {
		reader = cat
	}
	return &Engine{
		cat:       cat,
		store:     store,
		reader:    reader,
		lookup:    cfg.Usage,
		conv:      cfg.Convention,
		listerCfg: cfg.Lister,
		execCfg:   cfg.Executor,
		stats:     NewRunStats(DefaultStatsCapacity),
	}
}

// Stats exposes the engine's run history.
func (e *Engine) Stats() *RunStats {
	return e.stats
}

// Reconcile runs one job: list and read concurrently, diff, plan, and
// (unless dry-run) execute. It always returns a report; the error is
// non-nil only when the run could not reach a terminal reported state.
func (e *Engine) Reconcile(ctx context.Context, p Params) (*Report, error) {
	report := &Report{
		Scope:     p.Scope.String(),
		DryRun:    p.DryRun,
		StartedAt: time.Now(),
	}
	defer func() {
		report.Duration = time.Since(report.StartedAt)
		e.stats.Record(report)
	}()

	if err := e.checkParams(p); err != nil {
		report.State = StateAborted
		return report, err
	}

	// Listing and Reading have no mutual dependency; only the diff
	// blocks on both.
	report.State = StateListing
	var (
		listing *lister.Listing
		records []*types.AssetRecord
		listErr error
		readErr error
		wg      sync.WaitGroup
	)
	listerCfg := e.listerCfg
	if p.Concurrency > 0 {
		listerCfg.Workers = p.Concurrency
	}
	l := lister.New(e.store, e.conv, listerCfg)

	wg.Add(2)
	go func() {
		defer wg.Done()
		listing, listErr = l.List(ctx, p.Scope)
	}()
	go func() {
		defer wg.Done()
		records, readErr = e.reader.ListAssets(ctx, p.Scope)
	}()
	wg.Wait()

	if listErr != nil {
		return report, listErr
	}
	report.State = StateReading
	if readErr != nil {
		return report, errors.NewCatalogError(errors.CodeReadFailed, "failed to read catalog for "+p.Scope.String(), readErr)
	}
	report.PartialListing = listing.Partial
	report.FailedPrefixes = listing.FailedPrefixes
	if listing.Partial {
		log.Printf("recon: partial listing for %s, skipped prefixes: %v", p.Scope, listing.FailedPrefixes)
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	report.State = StateDiffing
	result := diff.Compute(listing.Objects, records, diff.Options{
		Convention:   e.conv,
		Scope:        p.Scope,
		IsReferenced: e.referenced(ctx),
	})
	report.OrphansFound = len(result.Orphans)
	report.GhostsFound = len(result.Ghosts)
	report.DuplicateGroupsFound = len(result.Duplicates)
	report.MismatchesFound = len(result.Mismatches)
	if err := ctx.Err(); err != nil {
		return report, err
	}

	report.State = StatePlanning
	planner := repair.Planner{
		Convention:          e.conv,
		AllowPhysicalDelete: p.AllowPhysicalDelete,
	}
	report.Actions = planner.Plan(result)
	report.ActionsPlanned = len(report.Actions)
	if err := ctx.Err(); err != nil {
		return report, err
	}

	if p.DryRun {
		report.State = StateDryRunDone
		log.Printf("recon: dry run for %s planned %d actions (orphans=%d ghosts=%d dupes=%d mismatches=%d)",
			p.Scope, report.ActionsPlanned, report.OrphansFound, report.GhostsFound,
			report.DuplicateGroupsFound, report.MismatchesFound)
		report.State = StateReported
		return report, nil
	}

	report.State = StateExecuting
	execCfg := e.execCfg
	execCfg.AllowPhysicalDelete = p.AllowPhysicalDelete
	if p.Concurrency > 0 {
		execCfg.Workers = p.Concurrency
	}
	outcome := repair.NewExecutor(e.cat, e.store, execCfg).Apply(ctx, report.Actions)
	report.ActionsApplied = outcome.Applied
	report.ActionsSkipped = outcome.Skipped
	report.ActionsFailed = outcome.Failures

	log.Printf("recon: run for %s applied %d/%d actions (failed=%d skipped=%d partial_listing=%v)",
		p.Scope, report.ActionsApplied, report.ActionsPlanned,
		len(report.ActionsFailed), report.ActionsSkipped, report.PartialListing)
	report.State = StateReported
	return report, nil
}

// checkParams rejects configuration errors before any I/O happens.
func (e *Engine) checkParams(p Params) error {
	if err := p.Scope.Validate(); err != nil {
		return errors.NewScopeMismatch(err.Error())
	}
	if p.Scope.ID != "" {
		// The owner id must survive the slug transliteration the path
		// convention applies everywhere else.
		if _, err := pathconv.Slugify(p.Scope.ID); err != nil {
			return err
		}
	}
	if pinned, ok := e.reader.(interface{ Scope() types.OwnerScope }); ok {
		if got, want := p.Scope.Key(), pinned.Scope().Key(); got != want {
			return errors.NewScopeMismatch("reader is pinned to " + want + ", job invoked with " + got)
		}
	}
	return nil
}

// referenced adapts the usage lookup to the diff's tie-break bias.
// Lookup failures degrade to unreferenced rather than failing the run.
func (e *Engine) referenced(ctx context.Context) func(string) bool {
	if e.lookup == nil {
		return nil
	}
	return func(path string) bool {
		ok, err := e.lookup.IsReferenced(ctx, path)
		if err != nil {
			log.Printf("recon: usage lookup failed for %s: %v", path, err)
			return false
		}
		return ok
	}
}
