package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/devpulse/sprintmetrics/internal/jiraapi"
	"github.com/devpulse/sprintmetrics/internal/sprint"
)

// ErrNoIssues reports that the search matched nothing. The caller treats
// it as an empty result, not a failure.
var ErrNoIssues = errors.New("no issues matched the search")

// Statuses counted as completed work.
var doneStatuses = map[string]struct{}{
	"done":     {},
	"released": {},
	"closed":   {},
}

// IssueSearcher is the slice of the issue-tracker client the extractor
// needs.
type IssueSearcher interface {
	SearchIssues(ctx context.Context, jql string) (jiraapi.SearchResult, error)
	DevPanelRepositories(ctx context.Context, issueID string) ([]string, error)
}

// IssueResult bundles the extracted metrics with the repository
// references discovered through the issues' development panels.
type IssueResult struct {
	Metrics        IssueMetrics
	RepositoryRefs []string
	Warnings       []string
}

// IssueExtractor queries the issue tracker for a subject's issues in a
// window and reduces them to IssueMetrics.
type IssueExtractor struct {
	client    IssueSearcher
	teamField string
	log       *zap.Logger
}

// NewIssueExtractor creates an issue extractor. teamField is the JQL
// field holding team membership.
func NewIssueExtractor(client IssueSearcher, teamField string, log *zap.Logger) *IssueExtractor {
	if teamField == "" {
		teamField = "Team[Team]"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &IssueExtractor{
		client:    client,
		teamField: teamField,
		log:       log,
	}
}

// Extract searches the tracker and folds every matching issue into the
// metrics. Per-issue dev-panel failures degrade to warnings; a failed
// search is fatal for this extractor.
func (e *IssueExtractor) Extract(ctx context.Context, subject Subject, window sprint.Window) (IssueResult, error) {
	jql := e.buildJQL(subject, window)
	e.log.Debug("issue search",
		zap.String("subject", subject.DisplayName()),
		zap.String("jql", jql),
	)

	search, err := e.client.SearchIssues(ctx, jql)
	if err != nil {
		return IssueResult{}, fmt.Errorf("issue search for %s: %w", subject.DisplayName(), err)
	}
	if len(search.Issues) == 0 {
		return IssueResult{}, ErrNoIssues
	}

	// The caller knows the subject only by display name; the tracker
	// account id surfaces via the assignee field. Resolve it before
	// folding so every issue's logged time is attributed consistently.
	if subject.Individual() && subject.AccountID == "" {
		for _, issue := range search.Issues {
			if strings.EqualFold(issue.Assignee, subject.Name) && issue.AssigneeAccountID != "" {
				subject.AccountID = issue.AssigneeAccountID
				break
			}
		}
	}

	var result IssueResult
	seenRepos := make(map[string]struct{})
	for _, issue := range search.Issues {
		e.foldIssue(&result.Metrics, subject, issue)

		refs, err := e.client.DevPanelRepositories(ctx, issue.ID)
		if err != nil {
			e.log.Warn("dev panel lookup failed",
				zap.String("issue", issue.Key),
				zap.Error(err),
			)
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("linked repositories unavailable for %s: %v", issue.Key, err))
			continue
		}
		for _, ref := range refs {
			normalized := strings.ToLower(strings.TrimSpace(ref))
			if normalized == "" {
				continue
			}
			if _, dup := seenRepos[normalized]; dup {
				continue
			}
			seenRepos[normalized] = struct{}{}
			result.RepositoryRefs = append(result.RepositoryRefs, strings.TrimSpace(ref))
		}
	}
	return result, nil
}

func (e *IssueExtractor) buildJQL(subject Subject, window sprint.Window) string {
	var clauses []string
	if subject.Individual() {
		clauses = append(clauses, fmt.Sprintf("assignee=%q", subject.Name))
	} else {
		clauses = append(clauses, fmt.Sprintf("%q = %q", e.teamField, subject.TeamID))
		clauses = append(clauses, "issuetype NOT IN (Sub-task, Epic)")
	}

	switch window.Kind {
	case sprint.KindOpenSprints:
		clauses = append(clauses, "sprint IN openSprints()")
	case sprint.KindYearToDate:
		clauses = append(clauses, "created >= startOfYear()")
	default:
		// Sprint names in the tracker are "<team name> <sprint id>".
		clauses = append(clauses, fmt.Sprintf("sprint = %q", subject.TeamName+" "+window.SprintID))
	}
	return strings.Join(clauses, " AND ")
}

func (e *IssueExtractor) foldIssue(m *IssueMetrics, subject Subject, issue jiraapi.Issue) {
	m.AllIssues++
	m.CommentTotal += issue.CommentCount
	m.LoggedSeconds += loggedSeconds(subject, issue)
	m.StoryPointsDone += issue.StoryPoints

	for _, tr := range issue.Transitions {
		if strings.Contains(strings.ToLower(tr.From), "testing") &&
			strings.Contains(strings.ToLower(tr.To), "reject") {
			m.FailedQA++
		}
	}

	// Closure counts key on the current status; bug and non-bug
	// closures are tallied separately.
	if isDone(issue.Status) {
		if strings.EqualFold(issue.Type, "Bug") {
			m.BugsClosed++
		} else {
			m.TicketsClosed++
		}
	}

	// Cycle and lead time key on the changelog alone, so a reopened
	// issue whose history reached a done-like status still contributes.
	doneAt, ok := firstTransitionTo(issue, isDone)
	if !ok {
		return
	}
	if !issue.Created.IsZero() {
		if lead := doneAt.Sub(issue.Created); lead >= 0 {
			m.LeadTimeDaysTotal += lead.Hours() / 24
			m.LeadTimeSamples++
		}
	}
	startedAt, ok := firstTransitionTo(issue, func(status string) bool {
		return strings.EqualFold(status, "In Progress")
	})
	if !ok {
		return
	}
	if cycle := doneAt.Sub(startedAt); cycle >= 0 {
		m.CycleTimeDaysTotal += cycle.Hours() / 24
		m.CycleTimeSamples++
	}
}

// loggedSeconds picks this issue's contribution to logged time. The
// time-tracking field is a running total, so for a known individual the
// latest update by that account wins; for a team the issue's first
// recorded total is used.
func loggedSeconds(subject Subject, issue jiraapi.Issue) int64 {
	if len(issue.TimeSpent) == 0 {
		return 0
	}
	if subject.Individual() && subject.AccountID != "" {
		var (
			latest int64
			found  bool
		)
		var latestAt = issue.Created
		for _, entry := range issue.TimeSpent {
			if entry.AccountID != subject.AccountID {
				continue
			}
			if !found || entry.At.After(latestAt) {
				latest = entry.Seconds
				latestAt = entry.At
				found = true
			}
		}
		if found {
			return latest
		}
		return 0
	}
	return issue.TimeSpent[0].Seconds
}

func isDone(status string) bool {
	_, ok := doneStatuses[strings.ToLower(strings.TrimSpace(status))]
	return ok
}

func firstTransitionTo(issue jiraapi.Issue, match func(status string) bool) (time.Time, bool) {
	for _, tr := range issue.Transitions {
		if match(tr.To) {
			return tr.At, true
		}
	}
	return time.Time{}, false
}
