package extract

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/devpulse/sprintmetrics/internal/githubapi"
)

type fakeRepoData struct {
	commits  map[string]githubapi.CommitListResult
	details  map[string]githubapi.CommitDetail
	prs      map[string]githubapi.PullRequestListResult
	reviews  map[string]githubapi.ReviewCommentsResult
	prErrs   map[string]error
	detCalls int
}

func (f *fakeRepoData) key(owner, repo string) string { return owner + "/" + repo }

func (f *fakeRepoData) ListRepoCommitsWindow(_ context.Context, owner, repo string, _, _ time.Time) (githubapi.CommitListResult, error) {
	return f.commits[f.key(owner, repo)], nil
}

func (f *fakeRepoData) GetCommit(_ context.Context, _, _, sha string) (githubapi.CommitDetail, error) {
	f.detCalls++
	detail, ok := f.details[sha]
	if !ok {
		return githubapi.CommitDetail{Status: githubapi.EndpointStatusNotFound}, nil
	}
	return detail, nil
}

func (f *fakeRepoData) ListRepoPullRequestsWindow(_ context.Context, owner, repo string, _, _ time.Time) (githubapi.PullRequestListResult, error) {
	if err := f.prErrs[f.key(owner, repo)]; err != nil {
		return githubapi.PullRequestListResult{}, err
	}
	return f.prs[f.key(owner, repo)], nil
}

func (f *fakeRepoData) ListReviewCommentsWindow(_ context.Context, owner, repo string, _, _ time.Time) (githubapi.ReviewCommentsResult, error) {
	return f.reviews[f.key(owner, repo)], nil
}

type fakeDirectory struct {
	members []githubapi.Member
	err     error
	calls   int
}

func (f *fakeDirectory) Members(_ context.Context, _ string) ([]githubapi.Member, error) {
	f.calls++
	return f.members, f.err
}

func windowBounds() (time.Time, time.Time) {
	return time.Date(2025, time.June, 11, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.June, 24, 23, 59, 59, 0, time.UTC)
}

func okList(commits ...githubapi.RepoCommit) githubapi.CommitListResult {
	return githubapi.CommitListResult{Status: githubapi.EndpointStatusOK, Commits: commits}
}

func okPRs(prs ...githubapi.PullRequest) githubapi.PullRequestListResult {
	return githubapi.PullRequestListResult{Status: githubapi.EndpointStatusOK, PullRequests: prs}
}

func okReviews(comments ...githubapi.ReviewComment) githubapi.ReviewCommentsResult {
	return githubapi.ReviewCommentsResult{Status: githubapi.EndpointStatusOK, Comments: comments}
}

func TestExtractCommitsForIndividual(t *testing.T) {
	t.Parallel()

	since, until := windowBounds()
	data := &fakeRepoData{
		commits: map[string]githubapi.CommitListResult{
			"org/repo-a": okList(
				githubapi.RepoCommit{SHA: "aaa1", Author: "jdoe", ParentCount: 1, Message: "add parser", CommittedAt: day(12)},
				githubapi.RepoCommit{SHA: "aaa2", Author: "jdoe", ParentCount: 2, Message: "merge branch", CommittedAt: day(13)},
				githubapi.RepoCommit{SHA: "aaa3", Author: "jdoe", ParentCount: 1, Message: "Merge pull request #9", CommittedAt: day(13)},
				githubapi.RepoCommit{SHA: "bbb1", Author: "slee", ParentCount: 1, Message: "tweak config", CommittedAt: day(14)},
			),
		},
		details: map[string]githubapi.CommitDetail{
			"aaa1": {
				Status: githubapi.EndpointStatusOK, SHA: "aaa1",
				Additions: 120, Deletions: 30,
				FilesChanged: []string{"parser.go", "parser_test.go"},
			},
		},
		prs: map[string]githubapi.PullRequestListResult{
			"org/repo-a": okPRs(
				githubapi.PullRequest{Number: 1, User: "jdoe", CreatedAt: day(12), MergedAt: day(14)},
				githubapi.PullRequest{Number: 2, User: "jdoe", CreatedAt: day(13)},
				githubapi.PullRequest{Number: 3, User: "slee", CreatedAt: day(13), MergedAt: day(15)},
			),
		},
		reviews: map[string]githubapi.ReviewCommentsResult{
			"org/repo-a": okReviews(
				githubapi.ReviewComment{ID: 1, User: "jdoe", CreatedAt: day(13)},
				githubapi.ReviewComment{ID: 2, User: "slee", CreatedAt: day(13)},
			),
		},
	}
	directory := &fakeDirectory{members: []githubapi.Member{
		{Login: "jdoe", FullName: "Jane Doe"},
		{Login: "slee", FullName: "Sam Lee"},
	}}
	extractor := NewCommitExtractor(data, directory, "org", 2, nil)

	result, err := extractor.Extract(context.Background(),
		Subject{Name: "Jane Doe"}, []string{"org/repo-a"}, since, until)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	m := result.Metrics

	if m.Commits != 1 {
		t.Errorf("Commits = %d, want 1 (merge commits and other authors excluded)", m.Commits)
	}
	if m.LinesAdded != 120 || m.LinesDeleted != 30 {
		t.Errorf("lines = +%d/-%d", m.LinesAdded, m.LinesDeleted)
	}
	if m.FilesChanged != 2 {
		t.Errorf("FilesChanged = %d", m.FilesChanged)
	}
	if m.PRsCreated != 2 || m.PRsMerged != 1 {
		t.Errorf("PRs = %d created, %d merged", m.PRsCreated, m.PRsMerged)
	}
	if m.ReviewCommentsGiven != 1 {
		t.Errorf("ReviewCommentsGiven = %d", m.ReviewCommentsGiven)
	}
	files := m.FilesByRepo["org/repo-a"]
	if len(files) != 2 || files[0] != "parser.go" {
		t.Errorf("FilesByRepo = %v", m.FilesByRepo)
	}
	if data.detCalls != 1 {
		t.Errorf("detail fetches = %d, want 1", data.detCalls)
	}
}

func TestMergedCountFollowsCreationWindow(t *testing.T) {
	t.Parallel()

	since, until := windowBounds()
	data := &fakeRepoData{
		prs: map[string]githubapi.PullRequestListResult{
			"org/repo-a": okPRs(
				// Created in window, merged after it: counts both.
				githubapi.PullRequest{Number: 1, User: "jdoe", CreatedAt: day(12),
					MergedAt: time.Date(2025, time.July, 2, 12, 0, 0, 0, time.UTC)},
				// Created before the window: counts neither.
				githubapi.PullRequest{Number: 2, User: "jdoe",
					CreatedAt: time.Date(2025, time.May, 1, 12, 0, 0, 0, time.UTC),
					MergedAt:  day(13)},
			),
		},
		commits: map[string]githubapi.CommitListResult{"org/repo-a": okList()},
		reviews: map[string]githubapi.ReviewCommentsResult{"org/repo-a": okReviews()},
	}
	directory := &fakeDirectory{members: []githubapi.Member{{Login: "jdoe", FullName: "Jane Doe"}}}
	extractor := NewCommitExtractor(data, directory, "org", 2, nil)

	result, err := extractor.Extract(context.Background(),
		Subject{Name: "Jane Doe"}, []string{"org/repo-a"}, since, until)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if result.Metrics.PRsCreated != 1 || result.Metrics.PRsMerged != 1 {
		t.Errorf("PRs = %d created, %d merged, want 1/1", result.Metrics.PRsCreated, result.Metrics.PRsMerged)
	}
}

func TestExtractCountsAllAuthorsForTeam(t *testing.T) {
	t.Parallel()

	since, until := windowBounds()
	data := &fakeRepoData{
		commits: map[string]githubapi.CommitListResult{
			"org/repo-a": okList(
				githubapi.RepoCommit{SHA: "aaa1", Author: "jdoe", ParentCount: 1, Message: "add parser", CommittedAt: day(12)},
				githubapi.RepoCommit{SHA: "bbb1", Author: "slee", ParentCount: 1, Message: "tweak config", CommittedAt: day(14)},
			),
		},
		prs: map[string]githubapi.PullRequestListResult{
			"org/repo-a": okPRs(githubapi.PullRequest{Number: 1, User: "jdoe", CreatedAt: day(12)}),
		},
		reviews: map[string]githubapi.ReviewCommentsResult{"org/repo-a": okReviews()},
	}
	directory := &fakeDirectory{}
	extractor := NewCommitExtractor(data, directory, "org", 2, nil)

	result, err := extractor.Extract(context.Background(),
		Subject{TeamID: "42", TeamName: "Platform"}, []string{"org/repo-a"}, since, until)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if result.Metrics.Commits != 2 {
		t.Errorf("Commits = %d, want 2", result.Metrics.Commits)
	}
	if directory.calls != 0 {
		t.Errorf("directory consulted %d times for a team subject", directory.calls)
	}
}

func TestExtractMissingRepoDegradesToWarning(t *testing.T) {
	t.Parallel()

	since, until := windowBounds()
	data := &fakeRepoData{
		prs: map[string]githubapi.PullRequestListResult{
			"org/gone":   {Status: githubapi.EndpointStatusNotFound},
			"org/repo-a": okPRs(githubapi.PullRequest{Number: 1, User: "jdoe", CreatedAt: day(12)}),
		},
		commits: map[string]githubapi.CommitListResult{"org/repo-a": okList()},
		reviews: map[string]githubapi.ReviewCommentsResult{"org/repo-a": okReviews()},
	}
	directory := &fakeDirectory{members: []githubapi.Member{{Login: "jdoe", FullName: "Jane Doe"}}}
	extractor := NewCommitExtractor(data, directory, "org", 2, nil)

	result, err := extractor.Extract(context.Background(),
		Subject{Name: "Jane Doe"}, []string{"org/gone", "org/repo-a"}, since, until)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if result.Metrics.PRsCreated != 1 {
		t.Errorf("PRsCreated = %d, want 1 from the surviving repo", result.Metrics.PRsCreated)
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "org/gone") {
		t.Errorf("warnings = %v", result.Warnings)
	}
}

func TestExtractRejectedCredentialsAreFatal(t *testing.T) {
	t.Parallel()

	since, until := windowBounds()
	data := &fakeRepoData{
		prs: map[string]githubapi.PullRequestListResult{
			"org/repo-a": {Status: githubapi.EndpointStatusUnauthorized},
		},
	}
	extractor := NewCommitExtractor(data, &fakeDirectory{}, "org", 2, nil)

	_, err := extractor.Extract(context.Background(),
		Subject{TeamID: "42", TeamName: "Platform"}, []string{"org/repo-a"}, since, until)
	if err == nil {
		t.Fatal("Extract succeeded with rejected credentials")
	}
}

func TestResolveLoginFallbacks(t *testing.T) {
	t.Parallel()

	directory := &fakeDirectory{members: []githubapi.Member{
		{Login: "jdoe", FullName: "Jane Doe"},
		{Login: "Sam-Lee", FullName: ""},
	}}
	extractor := NewCommitExtractor(&fakeRepoData{}, directory, "org", 2, nil)

	if login, warning := extractor.resolveLogin(context.Background(), "Jane Doe"); login != "jdoe" || warning != "" {
		t.Errorf("full-name match = %q, warning %q", login, warning)
	}
	if login, _ := extractor.resolveLogin(context.Background(), "sam-lee"); login != "Sam-Lee" {
		t.Errorf("login fallback = %q", login)
	}
	if login, warning := extractor.resolveLogin(context.Background(), "Nobody Known"); login != "" || warning == "" {
		t.Errorf("miss = %q, warning %q", login, warning)
	}
	if directory.calls != 1 {
		t.Errorf("directory fetched %d times, want 1", directory.calls)
	}
}

func TestResolveLoginDirectoryFailure(t *testing.T) {
	t.Parallel()

	directory := &fakeDirectory{err: fmt.Errorf("status 502")}
	extractor := NewCommitExtractor(&fakeRepoData{}, directory, "org", 2, nil)

	login, warning := extractor.resolveLogin(context.Background(), "Jane Doe")
	if login != "" {
		t.Errorf("login = %q, want empty", login)
	}
	if !strings.Contains(warning, "counting all authors") {
		t.Errorf("warning = %q", warning)
	}
}
