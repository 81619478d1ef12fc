// Package jiraapi is a typed client for the issue-tracker REST API:
// JQL search with changelog expansion, and the per-issue dev-status
// lookup that links tickets to source-control repositories.
package jiraapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// StatusTransition is one status change from an issue's changelog.
type StatusTransition struct {
	At   time.Time
	From string
	To   string
}

// TimeSpentEntry is one changelog update of the time-tracking field.
// Seconds is the field's new value, a running total.
type TimeSpentEntry struct {
	At        time.Time
	AccountID string
	Seconds   int64
}

// Issue is the subset of a tracker ticket relevant to metrics.
type Issue struct {
	ID                string
	Key               string
	Type              string
	Status            string
	Created           time.Time
	Assignee          string
	AssigneeAccountID string
	StoryPoints       float64
	CommentCount      int
	Transitions       []StatusTransition
	TimeSpent         []TimeSpentEntry
}

// SearchResult is the typed outcome of one JQL search.
type SearchResult struct {
	Issues []Issue
	Total  int
}

// HTTPDoer is implemented by http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures the issue-tracker client.
type Config struct {
	BaseURL          string
	Email            string
	Token            string
	MaxResults       int
	StoryPointsField string
	SprintField      string
	MaxAttempts      int
	InitialBackoff   time.Duration
}

// Client calls the issue-tracker REST API.
type Client struct {
	baseURL        string
	email          string
	token          string
	maxResults     int
	pointsField    string
	sprintField    string
	maxAttempts    int
	initialBackoff time.Duration
	doer           HTTPDoer
	// Sleep is injected for testability.
	Sleep func(time.Duration)
}

// NewClient creates an issue-tracker client.
func NewClient(doer HTTPDoer, cfg Config) (*Client, error) {
	if doer == nil {
		return nil, fmt.Errorf("http doer is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base url is required")
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 100
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = time.Second
	}
	pointsField := cfg.StoryPointsField
	if pointsField == "" {
		pointsField = "customfield_10014"
	}
	sprintField := cfg.SprintField
	if sprintField == "" {
		sprintField = "customfield_10010"
	}
	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		email:          cfg.Email,
		token:          cfg.Token,
		maxResults:     maxResults,
		pointsField:    pointsField,
		sprintField:    sprintField,
		maxAttempts:    maxAttempts,
		initialBackoff: initialBackoff,
		doer:           doer,
		Sleep:          time.Sleep,
	}, nil
}

// SearchIssues runs a JQL search with full changelog expansion, following
// pagination until all matching issues are collected.
func (c *Client) SearchIssues(ctx context.Context, jql string) (SearchResult, error) {
	if strings.TrimSpace(jql) == "" {
		return SearchResult{}, fmt.Errorf("jql is required")
	}

	fields := strings.Join([]string{
		"summary", "issuetype", "assignee", "created", "comment", "status",
		c.pointsField, c.sprintField,
	}, ",")

	result := SearchResult{}
	startAt := 0
	for {
		query := url.Values{}
		query.Set("jql", jql)
		query.Set("startAt", strconv.Itoa(startAt))
		query.Set("maxResults", strconv.Itoa(c.maxResults))
		query.Set("fields", fields)
		query.Set("expand", "changelog")

		var payload searchPayload
		if err := c.getJSON(ctx, "/rest/api/3/search", query, &payload); err != nil {
			return SearchResult{}, fmt.Errorf("issue search: %w", err)
		}

		result.Total = payload.Total
		for _, raw := range payload.Issues {
			result.Issues = append(result.Issues, c.typedIssue(raw))
		}

		startAt += len(payload.Issues)
		if len(payload.Issues) == 0 || startAt >= payload.Total {
			break
		}
	}
	return result, nil
}

// DevPanelRepositories returns the repository references linked to one
// issue through the tracker's development panel. References may be bare
// names or org/name paths.
func (c *Client) DevPanelRepositories(ctx context.Context, issueID string) ([]string, error) {
	if strings.TrimSpace(issueID) == "" {
		return nil, fmt.Errorf("issue id is required")
	}

	query := url.Values{}
	query.Set("issueId", issueID)
	query.Set("applicationType", "GitHub")
	query.Set("dataType", "repository")

	var payload devStatusPayload
	if err := c.getJSON(ctx, "/rest/dev-status/1.0/issue/detail", query, &payload); err != nil {
		return nil, fmt.Errorf("dev panel lookup: %w", err)
	}

	var refs []string
	for _, detail := range payload.Detail {
		for _, repo := range detail.Repositories {
			switch {
			case repo.Name != "":
				refs = append(refs, repo.Name)
			case strings.HasPrefix(repo.URL, "https://github.com/"):
				path := strings.Trim(strings.TrimPrefix(repo.URL, "https://github.com/"), "/")
				if strings.Contains(path, "/") {
					refs = append(refs, path)
				}
			}
		}
	}
	return refs, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, target any) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return err
		}
		req.SetBasicAuth(c.email, c.token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.doer.Do(req)
		if err != nil {
			lastErr = err
			if attempt < c.maxAttempts {
				c.Sleep(backoffForAttempt(c.initialBackoff, attempt))
				continue
			}
			return lastErr
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			if attempt < c.maxAttempts {
				c.Sleep(backoffForAttempt(c.initialBackoff, attempt))
				continue
			}
			return lastErr
		}
		if resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			_ = resp.Body.Close()
			return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}

		decoder := json.NewDecoder(resp.Body)
		err = decoder.Decode(target)
		_ = resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return lastErr
}

func backoffForAttempt(initial time.Duration, attempt int) time.Duration {
	backoff := initial
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	return backoff
}

func (c *Client) typedIssue(raw issuePayload) Issue {
	issue := Issue{
		ID:      raw.ID,
		Key:     raw.Key,
		Created: parseJiraTime(raw.Fields.Created),
	}
	if raw.Fields.IssueType != nil {
		issue.Type = raw.Fields.IssueType.Name
	}
	if raw.Fields.Status != nil {
		issue.Status = raw.Fields.Status.Name
	}
	if raw.Fields.Assignee != nil {
		issue.Assignee = raw.Fields.Assignee.DisplayName
		issue.AssigneeAccountID = raw.Fields.Assignee.AccountID
	}
	if raw.Fields.Comment != nil {
		issue.CommentCount = len(raw.Fields.Comment.Comments)
	}
	issue.StoryPoints = storyPoints(raw.Fields.Extra[c.pointsField])

	for _, history := range raw.Changelog.Histories {
		at := parseJiraTime(history.Created)
		accountID := ""
		if history.Author != nil {
			accountID = history.Author.AccountID
		}
		for _, item := range history.Items {
			switch item.Field {
			case "status":
				issue.Transitions = append(issue.Transitions, StatusTransition{
					At:   at,
					From: item.FromString,
					To:   item.ToString,
				})
			case "timespent":
				seconds, err := strconv.ParseInt(item.To, 10, 64)
				if err != nil {
					continue
				}
				issue.TimeSpent = append(issue.TimeSpent, TimeSpentEntry{
					At:        at,
					AccountID: accountID,
					Seconds:   seconds,
				})
			}
		}
	}
	return issue
}

// storyPoints reads the numeric story-point custom field, defaulting to 0
// when absent or unparsable.
func storyPoints(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var number float64
	if err := json.Unmarshal(raw, &number); err == nil {
		return number
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(text), 64); err == nil {
			return parsed
		}
	}
	return 0
}

// parseJiraTime parses the tracker's timestamp format, which may or may
// not carry a timezone colon. Malformed timestamps yield a zero time.
func parseJiraTime(raw string) time.Time {
	for _, layout := range []string{
		"2006-01-02T15:04:05.000-0700",
		time.RFC3339,
		"2006-01-02T15:04:05-0700",
	} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}

type searchPayload struct {
	Total  int            `json:"total"`
	Issues []issuePayload `json:"issues"`
}

type issuePayload struct {
	ID        string           `json:"id"`
	Key       string           `json:"key"`
	Fields    fieldsPayload    `json:"fields"`
	Changelog changelogPayload `json:"changelog"`
}

type fieldsPayload struct {
	IssueType *namePayload    `json:"issuetype"`
	Status    *namePayload    `json:"status"`
	Assignee  *userPayload    `json:"assignee"`
	Created   string          `json:"created"`
	Comment   *commentPayload `json:"comment"`

	Extra map[string]json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps custom fields (story points, sprint membership)
// available without hardcoding their ids into struct tags.
func (f *fieldsPayload) UnmarshalJSON(data []byte) error {
	type plain fieldsPayload
	var typed plain
	if err := json.Unmarshal(data, &typed); err != nil {
		return err
	}
	*f = fieldsPayload(typed)
	return json.Unmarshal(data, &f.Extra)
}

type namePayload struct {
	Name string `json:"name"`
}

type userPayload struct {
	AccountID   string `json:"accountId"`
	DisplayName string `json:"displayName"`
}

type commentPayload struct {
	Comments []struct {
		ID string `json:"id"`
	} `json:"comments"`
}

type changelogPayload struct {
	Histories []historyPayload `json:"histories"`
}

type historyPayload struct {
	Created string              `json:"created"`
	Author  *userPayload        `json:"author"`
	Items   []historyItemPayload `json:"items"`
}

type devStatusPayload struct {
	Detail []struct {
		Repositories []struct {
			Name string `json:"name"`
			URL  string `json:"url"`
		} `json:"repositories"`
	} `json:"detail"`
}

type historyItemPayload struct {
	Field      string `json:"field"`
	From       string `json:"from"`
	FromString string `json:"fromString"`
	To         string `json:"to"`
	ToString   string `json:"toString"`
}
