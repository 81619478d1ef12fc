package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/devpulse/sprintmetrics/internal/extract"
	"github.com/devpulse/sprintmetrics/internal/fetchcache"
	"github.com/devpulse/sprintmetrics/internal/identity"
	"github.com/devpulse/sprintmetrics/internal/sonarapi"
	"github.com/devpulse/sprintmetrics/internal/sprint"
)

type fakeIssues struct {
	result extract.IssueResult
	err    error
	calls  int
}

func (f *fakeIssues) Extract(_ context.Context, _ extract.Subject, _ sprint.Window) (extract.IssueResult, error) {
	f.calls++
	return f.result, f.err
}

type fakeCommits struct {
	result extract.CommitResult
	err    error
	calls  int
}

func (f *fakeCommits) Extract(_ context.Context, _ extract.Subject, _ []string, _, _ time.Time) (extract.CommitResult, error) {
	f.calls++
	return f.result, f.err
}

type fakeQuality struct {
	records  []extract.QualityRecord
	warnings []string
	calls    int
	lastKeys []string
}

func (f *fakeQuality) Extract(_ context.Context, keys []string) ([]extract.QualityRecord, []string) {
	f.calls++
	f.lastKeys = keys
	return f.records, f.warnings
}

type fakeCatalog struct {
	projects []sonarapi.Project
	err      error
	calls    int
}

func (f *fakeCatalog) Projects(_ context.Context) ([]sonarapi.Project, error) {
	f.calls++
	return f.projects, f.err
}

func testCalendar(t *testing.T) *sprint.Calendar {
	t.Helper()
	calendar, err := sprint.NewCalendar(sprint.CalendarConfig{
		AnchorID:    "2025.12",
		AnchorStart: time.Date(2025, time.June, 11, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("NewCalendar: %v", err)
	}
	return calendar
}

func newTestService(t *testing.T, issues *fakeIssues, commits *fakeCommits, quality *fakeQuality, catalog *fakeCatalog) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Calendar: testCalendar(t),
		Issues:   issues,
		Commits:  commits,
		Quality:  quality,
		Catalog:  catalog,
		NewResolver: func(projects []sonarapi.Project) KeyResolver {
			return identity.NewResolver(projects)
		},
		Cache:           fetchcache.NewMemory(16, time.Minute),
		Org:             "org",
		MaxRepositories: 10,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return service
}

func TestFullSnapshotAcrossSources(t *testing.T) {
	t.Parallel()

	issues := &fakeIssues{result: extract.IssueResult{
		Metrics: extract.IssueMetrics{
			AllIssues:       3,
			TicketsClosed:   1,
			BugsClosed:      1,
			StoryPointsDone: 8,
		},
		RepositoryRefs: []string{"org/repo-a"},
	}}
	commits := &fakeCommits{result: extract.CommitResult{
		Metrics: extract.CommitMetrics{Commits: 5, PRsCreated: 2, PRsMerged: 1},
	}}
	quality := &fakeQuality{}
	catalog := &fakeCatalog{} // no matching quality projects

	service := newTestService(t, issues, commits, quality, catalog)
	snapshot, err := service.TeamMetrics(context.Background(), "42", "Platform", "2025.12")
	if err != nil {
		t.Fatalf("TeamMetrics: %v", err)
	}

	if snapshot.Issues.AllIssues != 3 || snapshot.Issues.TicketsClosed != 1 || snapshot.Issues.BugsClosed != 1 {
		t.Errorf("issues = %+v", snapshot.Issues)
	}
	if snapshot.Issues.StoryPointsDone != 8 {
		t.Errorf("StoryPointsDone = %v", snapshot.Issues.StoryPointsDone)
	}
	if snapshot.Commits.Commits != 5 || snapshot.Commits.PRsCreated != 2 || snapshot.Commits.PRsMerged != 1 {
		t.Errorf("commits = %+v", snapshot.Commits)
	}
	if len(snapshot.Quality) != 0 || snapshot.QualityFailed {
		t.Errorf("quality = %+v, failed = %v", snapshot.Quality, snapshot.QualityFailed)
	}
	if snapshot.Status != StatusFull {
		t.Errorf("status = %s", snapshot.Status)
	}
	if got := snapshot.CompletionRate; got != 2.0/3.0 {
		t.Errorf("CompletionRate = %v", got)
	}
	if got := snapshot.PRMergeRate; got != 0.5 {
		t.Errorf("PRMergeRate = %v", got)
	}
}

func TestIssueSearchFailureIsFatal(t *testing.T) {
	t.Parallel()

	issues := &fakeIssues{err: fmt.Errorf("issue search: status 500")}
	commits := &fakeCommits{}
	quality := &fakeQuality{}
	catalog := &fakeCatalog{}

	service := newTestService(t, issues, commits, quality, catalog)
	if _, err := service.TeamMetrics(context.Background(), "42", "Platform", "2025.12"); err == nil {
		t.Fatal("TeamMetrics succeeded despite search failure")
	}
	if commits.calls != 0 {
		t.Errorf("commit extractor called %d times after fatal search failure", commits.calls)
	}
	if catalog.calls != 0 {
		t.Errorf("catalog fetched %d times after fatal search failure", catalog.calls)
	}
}

func TestRepositorySkipIsSuccessWithWarnings(t *testing.T) {
	t.Parallel()

	issues := &fakeIssues{result: extract.IssueResult{
		Metrics:        extract.IssueMetrics{AllIssues: 2, TicketsClosed: 1},
		RepositoryRefs: []string{"org/repo-a"},
	}}
	commits := &fakeCommits{result: extract.CommitResult{
		Warnings: []string{"skipping org/repo-a: pull requests returned not_found"},
	}}
	quality := &fakeQuality{}
	catalog := &fakeCatalog{}

	service := newTestService(t, issues, commits, quality, catalog)
	snapshot, err := service.TeamMetrics(context.Background(), "42", "Platform", "2025.12")
	if err != nil {
		t.Fatalf("TeamMetrics: %v", err)
	}
	if snapshot.Status != StatusFull {
		t.Errorf("status = %s, want %s", snapshot.Status, StatusFull)
	}
	if snapshot.Issues.AllIssues != 2 {
		t.Errorf("issues = %+v", snapshot.Issues)
	}
	if len(snapshot.Warnings) != 1 || !strings.Contains(snapshot.Warnings[0], "org/repo-a") {
		t.Errorf("warnings = %v", snapshot.Warnings)
	}
}

func TestPeerFailureYieldsPartialSnapshot(t *testing.T) {
	t.Parallel()

	issues := &fakeIssues{result: extract.IssueResult{
		Metrics:        extract.IssueMetrics{AllIssues: 1},
		RepositoryRefs: []string{"org/repo-a"},
	}}
	commits := &fakeCommits{err: fmt.Errorf("source-control credentials rejected")}
	quality := &fakeQuality{records: []extract.QualityRecord{{ProjectKey: "org_repo-a"}}}
	catalog := &fakeCatalog{projects: []sonarapi.Project{{Key: "org_repo-a", Name: "Repo A"}}}

	service := newTestService(t, issues, commits, quality, catalog)
	snapshot, err := service.TeamMetrics(context.Background(), "42", "Platform", "2025.12")
	if err != nil {
		t.Fatalf("TeamMetrics: %v", err)
	}

	if snapshot.Status != StatusPartial {
		t.Errorf("status = %s, want %s", snapshot.Status, StatusPartial)
	}
	if !snapshot.CommitsFailed {
		t.Error("CommitsFailed not set")
	}
	if len(snapshot.Quality) != 1 {
		t.Errorf("quality = %+v", snapshot.Quality)
	}

	found := false
	for _, warning := range snapshot.Warnings {
		if strings.Contains(warning, "commit metrics failed") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v", snapshot.Warnings)
	}

	// Partial results must not be cached; a retry fetches fresh.
	if _, err := service.TeamMetrics(context.Background(), "42", "Platform", "2025.12"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if commits.calls != 2 {
		t.Errorf("commit extractor called %d times, want 2", commits.calls)
	}
}

func TestCacheHitSkipsPeerFetches(t *testing.T) {
	t.Parallel()

	issues := &fakeIssues{result: extract.IssueResult{
		Metrics:        extract.IssueMetrics{AllIssues: 1, TicketsClosed: 1},
		RepositoryRefs: []string{"org/repo-a"},
	}}
	commits := &fakeCommits{result: extract.CommitResult{
		Metrics: extract.CommitMetrics{Commits: 4},
	}}
	quality := &fakeQuality{}
	catalog := &fakeCatalog{}

	service := newTestService(t, issues, commits, quality, catalog)

	first, err := service.IndividualMetrics(context.Background(), "Jane Doe", "2025.12", TeamContext{ID: "42", Name: "Platform"})
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if first.CacheHit {
		t.Error("first fetch reported a cache hit")
	}

	second, err := service.IndividualMetrics(context.Background(), "Jane Doe", "2025.12", TeamContext{ID: "42", Name: "Platform"})
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if !second.CacheHit {
		t.Error("second fetch missed the cache")
	}
	if second.Commits.Commits != 4 {
		t.Errorf("cached commits = %+v", second.Commits)
	}
	if commits.calls != 1 {
		t.Errorf("commit extractor called %d times, want 1", commits.calls)
	}
	if catalog.calls != 1 {
		t.Errorf("catalog fetched %d times, want 1", catalog.calls)
	}
}

func TestNoIssuesShortCircuits(t *testing.T) {
	t.Parallel()

	issues := &fakeIssues{err: extract.ErrNoIssues}
	commits := &fakeCommits{}
	quality := &fakeQuality{}
	catalog := &fakeCatalog{}

	service := newTestService(t, issues, commits, quality, catalog)
	snapshot, err := service.IndividualMetrics(context.Background(), "Jane Doe", "2025.12", TeamContext{ID: "42", Name: "Platform"})
	if err != nil {
		t.Fatalf("IndividualMetrics: %v", err)
	}
	if !snapshot.NoIssues {
		t.Error("NoIssues not set")
	}
	if snapshot.Status != StatusFull {
		t.Errorf("status = %s", snapshot.Status)
	}
	if commits.calls != 0 || catalog.calls != 0 {
		t.Errorf("peer fetches ran for an empty issue result: commits=%d catalog=%d", commits.calls, catalog.calls)
	}
}

func TestBareRepoNamesArePrefixedAndCapped(t *testing.T) {
	t.Parallel()

	refs := []string{"repo-a"}
	for i := 0; i < 12; i++ {
		refs = append(refs, fmt.Sprintf("org/repo-%02d", i))
	}
	issues := &fakeIssues{result: extract.IssueResult{
		Metrics:        extract.IssueMetrics{AllIssues: 1},
		RepositoryRefs: refs,
	}}
	commits := &fakeCommits{}
	quality := &fakeQuality{}
	catalog := &fakeCatalog{}

	service := newTestService(t, issues, commits, quality, catalog)
	snapshot, err := service.TeamMetrics(context.Background(), "42", "Platform", "2025.12")
	if err != nil {
		t.Fatalf("TeamMetrics: %v", err)
	}
	if len(snapshot.Repositories) != 10 {
		t.Fatalf("repositories = %d, want 10", len(snapshot.Repositories))
	}
	if snapshot.Repositories[0] != "org/repo-a" {
		t.Errorf("bare name not prefixed: %q", snapshot.Repositories[0])
	}
	found := false
	for _, warning := range snapshot.Warnings {
		if strings.Contains(warning, "truncated") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v", snapshot.Warnings)
	}
}

func TestQualityKeysResolvedFromCatalog(t *testing.T) {
	t.Parallel()

	issues := &fakeIssues{result: extract.IssueResult{
		Metrics:        extract.IssueMetrics{AllIssues: 1},
		RepositoryRefs: []string{"org/repo-a", "org/unknown"},
	}}
	commits := &fakeCommits{}
	quality := &fakeQuality{}
	catalog := &fakeCatalog{projects: []sonarapi.Project{{Key: "org_repo-a", Name: "Repo A"}}}

	service := newTestService(t, issues, commits, quality, catalog)
	if _, err := service.TeamMetrics(context.Background(), "42", "Platform", "2025.12"); err != nil {
		t.Fatalf("TeamMetrics: %v", err)
	}
	if len(quality.lastKeys) != 1 || quality.lastKeys[0] != "org_repo-a" {
		t.Errorf("resolved keys = %v", quality.lastKeys)
	}
}

func TestRatiosDefinedForEmptyInput(t *testing.T) {
	t.Parallel()

	snapshot := &Snapshot{}
	assemble(snapshot)
	if snapshot.CompletionRate != 0 {
		t.Errorf("CompletionRate = %v", snapshot.CompletionRate)
	}
	if snapshot.PRMergeRate != 0 {
		t.Errorf("PRMergeRate = %v", snapshot.PRMergeRate)
	}
	if snapshot.AvgCycleTimeDays.Valid || snapshot.AvgLeadTimeDays.Valid {
		t.Error("averages should be absent with no samples")
	}
}

func TestMissingSubjectIsRejectedBeforeFetching(t *testing.T) {
	t.Parallel()

	issues := &fakeIssues{}
	service := newTestService(t, issues, &fakeCommits{}, &fakeQuality{}, &fakeCatalog{})

	if _, err := service.IndividualMetrics(context.Background(), "  ", "2025.12", TeamContext{}); err == nil {
		t.Fatal("empty developer name accepted")
	}
	if _, err := service.TeamMetrics(context.Background(), "", "Platform", "2025.12"); err == nil {
		t.Fatal("empty team id accepted")
	}
	if issues.calls != 0 {
		t.Errorf("issue extractor called %d times for invalid input", issues.calls)
	}
}
