package extract

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devpulse/sprintmetrics/internal/githubapi"
)

// maxFilesPerRepo bounds the changed-file list recorded per repository.
const maxFilesPerRepo = 100

// CommitDataClient is the slice of the source-control data client the
// extractor needs.
type CommitDataClient interface {
	ListRepoCommitsWindow(ctx context.Context, owner, repo string, since, until time.Time) (githubapi.CommitListResult, error)
	GetCommit(ctx context.Context, owner, repo, sha string) (githubapi.CommitDetail, error)
	ListRepoPullRequestsWindow(ctx context.Context, owner, repo string, since, until time.Time) (githubapi.PullRequestListResult, error)
	ListReviewCommentsWindow(ctx context.Context, owner, repo string, since, until time.Time) (githubapi.ReviewCommentsResult, error)
}

// MemberLister lists an organization's members for identity
// reconciliation.
type MemberLister interface {
	Members(ctx context.Context, org string) ([]githubapi.Member, error)
}

// CommitResult bundles the extracted metrics with any per-repository
// warnings.
type CommitResult struct {
	Metrics  CommitMetrics
	Warnings []string
}

// CommitExtractor walks a subject's repositories and reduces commits,
// pull requests and review comments to CommitMetrics. The tracker's
// display name and the source-control login are distinct identity
// spaces; individuals are reconciled through the member directory once
// per extractor lifetime.
type CommitExtractor struct {
	data          CommitDataClient
	directory     MemberLister
	org           string
	detailWorkers int
	log           *zap.Logger

	mu            sync.Mutex
	members       []githubapi.Member
	membersErr    error
	membersLoaded bool
}

// NewCommitExtractor creates a commit extractor. detailWorkers bounds
// concurrent per-commit detail fetches, which dominate request volume.
func NewCommitExtractor(data CommitDataClient, directory MemberLister, org string, detailWorkers int, log *zap.Logger) *CommitExtractor {
	if detailWorkers <= 0 {
		detailWorkers = 4
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CommitExtractor{
		data:          data,
		directory:     directory,
		org:           org,
		detailWorkers: detailWorkers,
		log:           log,
	}
}

// Extract collects commit metrics for the subject across repos within
// [since, until]. A missing or inaccessible repository degrades to a
// warning; invalid credentials are fatal.
func (e *CommitExtractor) Extract(ctx context.Context, subject Subject, repos []string, since, until time.Time) (CommitResult, error) {
	var result CommitResult

	login := ""
	if subject.Individual() {
		resolved, warning := e.resolveLogin(ctx, subject.Name)
		login = resolved
		if warning != "" {
			result.Warnings = append(result.Warnings, warning)
		}
	}

	for _, ref := range repos {
		owner, name, ok := strings.Cut(ref, "/")
		if !ok || owner == "" || name == "" {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("skipping malformed repository reference %q", ref))
			continue
		}

		if err := e.extractRepo(ctx, &result, login, ref, owner, name, since, until); err != nil {
			return CommitResult{}, err
		}
	}
	return result, nil
}

func (e *CommitExtractor) extractRepo(ctx context.Context, result *CommitResult, login, ref, owner, name string, since, until time.Time) error {
	prs, err := e.data.ListRepoPullRequestsWindow(ctx, owner, name, since, until)
	if err != nil {
		return fmt.Errorf("list pull requests for %s: %w", ref, err)
	}
	if skip, fatal := e.classify(result, ref, "pull requests", prs.Status); fatal != nil {
		return fatal
	} else if skip {
		return nil
	}

	for _, pr := range prs.PullRequests {
		if login != "" && !strings.EqualFold(pr.User, login) {
			continue
		}
		if !withinRange(pr.CreatedAt, since, until) {
			continue
		}
		result.Metrics.PRsCreated++
		// Merged means a non-null merge timestamp, wherever it falls.
		if !pr.MergedAt.IsZero() {
			result.Metrics.PRsMerged++
		}
	}

	commits, err := e.data.ListRepoCommitsWindow(ctx, owner, name, since, until)
	if err != nil {
		return fmt.Errorf("list commits for %s: %w", ref, err)
	}
	if skip, fatal := e.classify(result, ref, "commits", commits.Status); fatal != nil {
		return fatal
	} else if skip {
		return nil
	}

	var shas []string
	for _, commit := range commits.Commits {
		if isMergeCommit(commit) {
			continue
		}
		if login != "" && !strings.EqualFold(commit.Author, login) {
			continue
		}
		result.Metrics.Commits++
		shas = append(shas, commit.SHA)
	}
	e.fetchDetails(ctx, result, ref, owner, name, shas)

	reviews, err := e.data.ListReviewCommentsWindow(ctx, owner, name, since, until)
	if err != nil {
		return fmt.Errorf("list review comments for %s: %w", ref, err)
	}
	if skip, fatal := e.classify(result, ref, "review comments", reviews.Status); fatal != nil {
		return fatal
	} else if skip {
		return nil
	}
	for _, comment := range reviews.Comments {
		if login != "" && !strings.EqualFold(comment.User, login) {
			continue
		}
		result.Metrics.ReviewCommentsGiven++
	}
	return nil
}

// fetchDetails reads per-commit stats with a bounded worker pool and
// folds them into the metrics. A failed detail fetch leaves the commit
// counted but without line stats.
func (e *CommitExtractor) fetchDetails(ctx context.Context, result *CommitResult, ref, owner, name string, shas []string) {
	if len(shas) == 0 {
		return
	}

	type outcome struct {
		additions int
		deletions int
		files     []string
		warning   string
	}

	outcomes := make([]outcome, len(shas))
	sem := make(chan struct{}, e.detailWorkers)
	var wg sync.WaitGroup

	for i, sha := range shas {
		wg.Add(1)
		go func(i int, sha string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			detail, err := e.data.GetCommit(ctx, owner, name, sha)
			if err != nil || detail.Status != githubapi.EndpointStatusOK {
				e.log.Warn("commit detail fetch failed",
					zap.String("repo", ref),
					zap.String("sha", sha),
					zap.Error(err),
				)
				outcomes[i] = outcome{warning: fmt.Sprintf("no stats for commit %s in %s", shortSHA(sha), ref)}
				return
			}
			outcomes[i] = outcome{
				additions: detail.Additions,
				deletions: detail.Deletions,
				files:     detail.FilesChanged,
			}
		}(i, sha)
	}
	wg.Wait()

	seenFiles := make(map[string]struct{})
	for _, o := range outcomes {
		if o.warning != "" {
			result.Warnings = append(result.Warnings, o.warning)
			continue
		}
		result.Metrics.LinesAdded += o.additions
		result.Metrics.LinesDeleted += o.deletions
		result.Metrics.FilesChanged += len(o.files)
		for _, file := range o.files {
			seenFiles[file] = struct{}{}
		}
	}
	if len(seenFiles) > 0 {
		files := make([]string, 0, len(seenFiles))
		for file := range seenFiles {
			files = append(files, file)
		}
		sort.Strings(files)
		if len(files) > maxFilesPerRepo {
			files = files[:maxFilesPerRepo]
		}
		if result.Metrics.FilesByRepo == nil {
			result.Metrics.FilesByRepo = make(map[string][]string)
		}
		result.Metrics.FilesByRepo[ref] = files
	}
}

// classify maps an endpoint status to skip-with-warning or fatal.
// Revoked credentials fail the whole extractor; everything else is a
// per-repository condition the snapshot can tolerate.
func (e *CommitExtractor) classify(result *CommitResult, ref, operation string, status githubapi.EndpointStatus) (skip bool, fatal error) {
	switch status {
	case githubapi.EndpointStatusOK:
		return false, nil
	case githubapi.EndpointStatusUnauthorized:
		return false, fmt.Errorf("source-control credentials rejected while listing %s for %s", operation, ref)
	default:
		e.log.Warn("repository skipped",
			zap.String("repo", ref),
			zap.String("operation", operation),
			zap.String("status", string(status)),
		)
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("skipping %s: %s returned %s", ref, operation, status))
		return true, nil
	}
}

// resolveLogin maps a tracker display name to a source-control login via
// the member directory. The directory is fetched at most once per
// extractor; a miss means commits are counted regardless of author.
func (e *CommitExtractor) resolveLogin(ctx context.Context, fullName string) (string, string) {
	e.mu.Lock()
	if !e.membersLoaded {
		e.members, e.membersErr = e.directory.Members(ctx, e.org)
		e.membersLoaded = true
	}
	members, err := e.members, e.membersErr
	e.mu.Unlock()

	if err != nil {
		return "", fmt.Sprintf("member directory unavailable, counting all authors: %v", err)
	}

	for _, member := range members {
		if member.FullName != "" && strings.EqualFold(member.FullName, fullName) {
			return member.Login, ""
		}
	}
	for _, member := range members {
		if strings.EqualFold(member.Login, fullName) {
			return member.Login, ""
		}
	}
	return "", fmt.Sprintf("no source-control login found for %q, counting all authors", fullName)
}

// isMergeCommit filters merge commits out of authored-work counts.
func isMergeCommit(commit githubapi.RepoCommit) bool {
	if commit.ParentCount > 1 {
		return true
	}
	return strings.HasPrefix(commit.Message, "Merge ")
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func withinRange(ts, since, until time.Time) bool {
	if ts.IsZero() {
		return false
	}
	if !since.IsZero() && ts.Before(since) {
		return false
	}
	if !until.IsZero() && ts.After(until) {
		return false
	}
	return true
}
