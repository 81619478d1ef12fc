// Package orchestrator coordinates the three source extractors for one
// metrics request and assembles their outputs into a snapshot.
package orchestrator

import (
	"time"

	"github.com/devpulse/sprintmetrics/internal/extract"
	"github.com/devpulse/sprintmetrics/internal/sprint"
)

// Status classifies the overall outcome of an assembled snapshot.
type Status string

const (
	// StatusFull means every source responded.
	StatusFull Status = "full"
	// StatusPartial means at least one peer source failed; the snapshot
	// carries the surviving sections plus enumerated warnings.
	StatusPartial Status = "partial"
)

// SubjectKind distinguishes individual and team snapshots.
type SubjectKind string

const (
	KindIndividual SubjectKind = "individual"
	KindTeam       SubjectKind = "team"
)

// Snapshot is the assembled metrics response. It is immutable once
// produced; a new request produces a new snapshot.
type Snapshot struct {
	Subject     string        `json:"subject"`
	SubjectKind SubjectKind   `json:"subject_kind"`
	Window      sprint.Window `json:"window"`

	Repositories []string `json:"repositories"`

	Issues   extract.IssueMetrics `json:"issues"`
	NoIssues bool                 `json:"no_issues"`

	Commits       extract.CommitMetrics `json:"commits"`
	CommitsFailed bool                  `json:"commits_failed"`

	Quality       []extract.QualityRecord `json:"quality"`
	QualityFailed bool                    `json:"quality_failed"`

	CompletionRate   float64               `json:"completion_rate"`
	PRMergeRate      float64               `json:"pr_merge_rate"`
	AvgCycleTimeDays extract.OptionalFloat `json:"avg_cycle_time_days"`
	AvgLeadTimeDays  extract.OptionalFloat `json:"avg_lead_time_days"`
	AvgComments      float64               `json:"avg_comments"`

	Status      Status    `json:"status"`
	Warnings    []string  `json:"warnings,omitempty"`
	CacheHit    bool      `json:"cache_hit"`
	GeneratedAt time.Time `json:"generated_at"`
}

// assemble computes the derived ratios and overall status. Zero
// denominators are treated as 1 so the ratios are always defined.
func assemble(snapshot *Snapshot) {
	closed := snapshot.Issues.TicketsClosed + snapshot.Issues.BugsClosed
	snapshot.CompletionRate = ratio(closed, snapshot.Issues.AllIssues)
	snapshot.PRMergeRate = ratio(snapshot.Commits.PRsMerged, snapshot.Commits.PRsCreated)
	snapshot.AvgComments = snapshot.Issues.AvgComments()

	if avg, ok := snapshot.Issues.AvgCycleTimeDays(); ok {
		snapshot.AvgCycleTimeDays = extract.OptionalFloat{Value: avg, Valid: true}
	}
	if avg, ok := snapshot.Issues.AvgLeadTimeDays(); ok {
		snapshot.AvgLeadTimeDays = extract.OptionalFloat{Value: avg, Valid: true}
	}

	snapshot.Status = StatusFull
	if snapshot.CommitsFailed || snapshot.QualityFailed {
		snapshot.Status = StatusPartial
	}
}

func ratio(numerator, denominator int) float64 {
	if denominator == 0 {
		denominator = 1
	}
	return float64(numerator) / float64(denominator)
}
