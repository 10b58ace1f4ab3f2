package recon

import (
	"sync"
	"time"
)

// DefaultStatsCapacity is how many recent runs the engine remembers.
const DefaultStatsCapacity = 128

// RunSummary is the retained slice of one run's report.
type RunSummary struct {
	Scope          string        `json:"scope"`
	State          State         `json:"state"`
	DryRun         bool          `json:"dry_run"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	FindingsTotal  int           `json:"findings_total"`
	ActionsApplied int           `json:"actions_applied"`
	ActionsFailed  int           `json:"actions_failed"`
	PartialListing bool          `json:"partial_listing"`
}

// RunStats keeps a bounded in-memory history of recent runs for the
// daemon's status endpoint. It is derived observability state, never
// persisted; losing it costs nothing.
type RunStats struct {
	mu       sync.RWMutex
	runs     []RunSummary
	next     int
	total    int
	capacity int
}

// NewRunStats creates a tracker retaining the last capacity runs.
func NewRunStats(capacity int) *RunStats {
	if capacity <= 0 {
		capacity = DefaultStatsCapacity
	}
	return &RunStats{
		runs:     make([]RunSummary, 0, capacity),
		capacity: capacity,
	}
}

// Record adds one finished run, evicting the oldest beyond capacity.
func (s *RunStats) Record(report *Report) {
	summary := RunSummary{
		Scope:     report.Scope,
		State:     report.State,
		DryRun:    report.DryRun,
		StartedAt: report.StartedAt,
		Duration:  report.Duration,
		FindingsTotal: report.OrphansFound + report.GhostsFound +
			report.DuplicateGroupsFound + report.MismatchesFound,
		ActionsApplied: report.ActionsApplied,
		ActionsFailed:  len(report.ActionsFailed),
		PartialListing: report.PartialListing,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.runs) < s.capacity {
		s.runs = append(s.runs, summary)
	} else {
		s.runs[s.next] = summary
		s.next = (s.next + 1) % s.capacity
	}
	s.total++
}

// Recent returns up to n runs, newest first.
func (s *RunStats) Recent(n int) []RunSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || len(s.runs) == 0 {
		return []RunSummary{}
	}
	if n > len(s.runs) {
		n = len(s.runs)
	}

	out := make([]RunSummary, 0, n)
	// The ring's newest entry sits just behind next once it has wrapped.
	idx := s.next - 1
	if len(s.runs) < s.capacity {
		idx = len(s.runs) - 1
	}
	for i := 0; i < n; i++ {
		if idx < 0 {
			idx += len(s.runs)
		}
		out = append(out, s.runs[idx])
		idx--
	}
	return out
}

// TotalRuns returns how many runs have been recorded over the tracker's
// lifetime, including evicted ones.
func (s *RunStats) TotalRuns() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}
