package recon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/golang/snappy"

	"github.com/mediarec/mediarec/internal/storage"
	"github.com/mediarec/mediarec/pkg/types"
)

// DaemonConfig holds configuration for the background reconciler.
type DaemonConfig struct {
	// CheckInterval is how often the daemon reconciles (default: 1h).
	CheckInterval time.Duration

	// Scopes are the owner scopes reconciled each cycle. Empty means a
	// single full-tree run.
	Scopes []types.OwnerScope

	// DryRun keeps periodic runs report-only. Execution from a daemon
	// should be a deliberate choice.
	DryRun bool

	// AllowPhysicalDelete is passed through to execute runs.
	AllowPhysicalDelete bool

	// ReportPrefix, when set, archives each run's report to the store
	// under this prefix as snappy-compressed JSON.
	ReportPrefix string
}

// DefaultDaemonConfig returns the default daemon configuration.
func DefaultDaemonConfig() DaemonConfig {
	return DaemonConfig{
		CheckInterval: time.Hour,
		DryRun:        true,
		ReportPrefix:  "reports",
	}
}

// Daemon runs reconciliation on a schedule and archives the reports.
type Daemon struct {
	config DaemonConfig
	engine *Engine
	store  storage.ObjectStorage

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewDaemon creates a background reconciler around an engine.
func NewDaemon(config DaemonConfig, engine *Engine, store storage.ObjectStorage) *Daemon {
	if config.CheckInterval <= 0 {
		config.CheckInterval = time.Hour
	}
	return &Daemon{config: config, engine: engine, store: store}
}

// Start begins the reconciliation loop. It runs until the context is
// cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("recon: daemon is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.done = make(chan struct{})
	d.mu.Unlock()

	go d.run(ctx)
	return nil
}

// Stop gracefully stops the daemon.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}

	d.cancel()
	<-d.done
	d.running = false
	return nil
}

// Stats exposes the engine's run history for the status endpoint.
func (d *Daemon) Stats() *RunStats {
	return d.engine.Stats()
}

func (d *Daemon) run(ctx context.Context) {
	defer close(d.done)

	// Run immediately on start
	d.runOnce(ctx)

	ticker := time.NewTicker(d.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runOnce(ctx)
		}
	}
}

// runOnce reconciles every configured scope. One scope's failure never
// halts the others.
func (d *Daemon) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	scopes := d.config.Scopes
	if len(scopes) == 0 {
		scopes = []types.OwnerScope{types.ScopeAll}
	}

	for _, scope := range scopes {
		if ctx.Err() != nil {
			return
		}
		if _, err := d.reconcileScope(ctx, scope); err != nil {
			log.Printf("recon: scheduled run for %s failed: %v", scope, err)
		}
	}
}

// Trigger runs one scope immediately, outside the schedule, and returns
// its report.
func (d *Daemon) Trigger(ctx context.Context, scope types.OwnerScope) (*Report, error) {
	return d.reconcileScope(ctx, scope)
}

func (d *Daemon) reconcileScope(ctx context.Context, scope types.OwnerScope) (*Report, error) {
	report, err := d.engine.Reconcile(ctx, Params{
		Scope:               scope,
		DryRun:              d.config.DryRun,
		AllowPhysicalDelete: d.config.AllowPhysicalDelete,
	})
	if err != nil {
		return report, err
	}

	if d.config.ReportPrefix != "" {
		if archiveErr := d.archive(ctx, report); archiveErr != nil {
			// The report already reached the caller; a failed archive is
			// logged, not fatal.
			log.Printf("recon: failed to archive report for %s: %v", scope, archiveErr)
		}
	}
	return report, nil
}

// archive writes a run report to the store as snappy-compressed JSON so
// operators can inspect history without keeping the daemon alive.
func (d *Daemon) archive(ctx context.Context, report *Report) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	compressed := snappy.Encode(nil, raw)

	name := fmt.Sprintf("%s/%s-%s.json.sz",
		strings.Trim(d.config.ReportPrefix, "/"),
		report.StartedAt.UTC().Format("20060102T150405Z"),
		pathSafe(report.Scope))
	return d.store.Put(ctx, name, bytes.NewReader(compressed))
}

func pathSafe(scope string) string {
	return strings.NewReplacer(":", "-", "@", "-", "/", "-").Replace(scope)
}
