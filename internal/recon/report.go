// Package recon orchestrates reconciliation runs: listing the store and
// reading the catalog concurrently, diffing the two sides, planning
// repairs, and optionally executing them.
package recon

import (
	"time"

	"github.com/mediarec/mediarec/internal/repair"
	"github.com/mediarec/mediarec/pkg/types"
)

// State names the phase a job is in. A run moves strictly forward;
// the only fork is dry-run versus execute.
type State string

const (
	StateListing    State = "listing"
	StateReading    State = "reading"
	StateDiffing    State = "diffing"
	StatePlanning   State = "planning"
	StateExecuting  State = "executing"
	StateDryRunDone State = "dry_run_done"
	StateReported   State = "reported"
	StateAborted    State = "aborted"
)

// Params describe one reconciliation invocation.
type Params struct {
	// Scope limits the run to one owner (optionally one date bucket)
	// or, with ScopeAll, covers the entire tree.
	Scope types.OwnerScope `json:"scope"`

	// DryRun computes and reports the plan without applying it.
	DryRun bool `json:"dry_run"`

	// AllowPhysicalDelete authorizes DeleteObject actions for duplicate
	// losers. Off by default; object deletion is irreversible.
	AllowPhysicalDelete bool `json:"allow_physical_delete"`

	// Concurrency bounds both listing fan-out and executor parallelism.
	// Zero uses the engine defaults.
	Concurrency int `json:"concurrency,omitempty"`
}

// Report is the structured outcome of one run. A caller always receives
// one, partial failures included.
type Report struct {
	Scope     string        `json:"scope"`
	DryRun    bool          `json:"dry_run"`
	State     State         `json:"state"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	OrphansFound         int `json:"orphans_found"`
	GhostsFound          int `json:"ghosts_found"`
	DuplicateGroupsFound int `json:"duplicate_groups_found"`
	MismatchesFound      int `json:"mismatches_found"`

	// Actions is the full plan, listed even in dry-run mode so an
	// operator can review what an execute run would do.
	Actions        []repair.Action `json:"actions,omitempty"`
	ActionsPlanned int             `json:"actions_planned"`
	ActionsApplied int             `json:"actions_applied"`
	ActionsSkipped int             `json:"actions_skipped"`

	ActionsFailed []repair.ActionFailure `json:"actions_failed,omitempty"`

	// PartialListing is set when one or more sub-prefixes could not be
	// listed; the counts above then cover only what listed successfully.
	PartialListing bool     `json:"partial_listing"`
	FailedPrefixes []string `json:"failed_prefixes,omitempty"`
}

// Converged reports whether the run found the two sides identical.
func (r *Report) Converged() bool {
	return r.OrphansFound == 0 && r.GhostsFound == 0 &&
		r.DuplicateGroupsFound == 0 && r.MismatchesFound == 0
}
