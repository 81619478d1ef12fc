package githubapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultAPIBaseURL = "https://api.github.com/"

// EndpointStatus represents a normalized API endpoint outcome. Non-2xx
// outcomes that the caller must tolerate (missing repositories, revoked
// access) are values, not errors.
type EndpointStatus string

const (
	// EndpointStatusOK indicates a successful response.
	EndpointStatusOK EndpointStatus = "ok"
	// EndpointStatusForbidden indicates authorization failure or restricted access.
	EndpointStatusForbidden EndpointStatus = "forbidden"
	// EndpointStatusNotFound indicates the resource does not exist or is hidden.
	EndpointStatusNotFound EndpointStatus = "not_found"
	// EndpointStatusUnauthorized indicates invalid credentials.
	EndpointStatusUnauthorized EndpointStatus = "unauthorized"
	// EndpointStatusUnavailable indicates a temporary service-side failure.
	EndpointStatusUnavailable EndpointStatus = "unavailable"
	// EndpointStatusUnknown indicates an unclassified non-success status.
	EndpointStatusUnknown EndpointStatus = "unknown"
)

// RepoCommit is one commit summary from the commit list endpoint.
type RepoCommit struct {
	SHA         string
	Author      string
	Message     string
	ParentCount int
	CommittedAt time.Time
}

// CommitListResult is the typed result for listing repository commits in a window.
type CommitListResult struct {
	Status   EndpointStatus
	Commits  []RepoCommit
	Metadata CallMetadata
}

// CommitDetail is a typed commit detail response with per-commit stats.
type CommitDetail struct {
	Status       EndpointStatus
	SHA          string
	Author       string
	Additions    int
	Deletions    int
	FilesChanged []string
	Metadata     CallMetadata
}

// PullRequest is one pull request summary.
type PullRequest struct {
	Number    int
	User      string
	CreatedAt time.Time
	MergedAt  time.Time
}

// PullRequestListResult is the typed result for listing pull requests in a window.
type PullRequestListResult struct {
	Status       EndpointStatus
	PullRequests []PullRequest
	Metadata     CallMetadata
}

// ReviewComment is one pull-request review comment.
type ReviewComment struct {
	ID        int64
	User      string
	CreatedAt time.Time
}

// ReviewCommentsResult is the typed result for listing repository review comments.
type ReviewCommentsResult struct {
	Status   EndpointStatus
	Comments []ReviewComment
	Metadata CallMetadata
}

// DataClient is a typed source-control REST client for the endpoints the
// commit extractor needs.
type DataClient struct {
	baseURL       *url.URL
	requestClient *Client
}

// NewDataClient creates a typed data client over the retry/rate-limit
// request client.
func NewDataClient(baseURL string, requestClient *Client) (*DataClient, error) {
	if requestClient == nil {
		return nil, fmt.Errorf("request client is required")
	}

	parsed, err := parseAPIBaseURL(baseURL)
	if err != nil {
		return nil, err
	}

	return &DataClient{
		baseURL:       parsed,
		requestClient: requestClient,
	}, nil
}

// ListRepoCommitsWindow lists repository commits in a time window with
// pagination support.
func (c *DataClient) ListRepoCommitsWindow(ctx context.Context, owner, repo string, since, until time.Time) (CommitListResult, error) {
	trimmedOwner := strings.TrimSpace(owner)
	trimmedRepo := strings.TrimSpace(repo)
	if trimmedOwner == "" {
		return CommitListResult{}, fmt.Errorf("owner is required")
	}
	if trimmedRepo == "" {
		return CommitListResult{}, fmt.Errorf("repo is required")
	}

	result := CommitListResult{Status: EndpointStatusOK}
	page := 1
	for {
		reqURL := c.cloneBaseURL()
		reqURL.Path = joinURLPath(reqURL.Path, "repos", url.PathEscape(trimmedOwner), url.PathEscape(trimmedRepo), "commits")
		query := reqURL.Query()
		query.Set("per_page", "100")
		query.Set("page", strconv.Itoa(page))
		if !since.IsZero() {
			query.Set("since", since.UTC().Format(time.RFC3339))
		}
		if !until.IsZero() {
			query.Set("until", until.UTC().Format(time.RFC3339))
		}
		reqURL.RawQuery = query.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
		if err != nil {
			return CommitListResult{}, fmt.Errorf("build list commits request: %w", err)
		}

		resp, metadata, err := c.requestClient.Do(req)
		result.Metadata = mergeMetadata(result.Metadata, metadata)
		if err != nil {
			return CommitListResult{}, fmt.Errorf("list commits request failed: %w", err)
		}
		if resp == nil {
			return CommitListResult{}, fmt.Errorf("list commits request failed: nil response")
		}

		status := endpointStatusFromHTTP(resp.StatusCode)
		if status != EndpointStatusOK {
			_ = resp.Body.Close()
			result.Status = status
			return result, nil
		}

		var payload []commitListPayload
		if err := decodeJSONAndClose(resp, &payload); err != nil {
			return CommitListResult{}, fmt.Errorf("decode list commits response: %w", err)
		}

		for _, commit := range payload {
			typed := RepoCommit{
				SHA:         commit.SHA,
				Message:     commit.Commit.Message,
				ParentCount: len(commit.Parents),
				CommittedAt: parseRFC3339(commit.Commit.Author.Date),
			}
			if commit.Author != nil {
				typed.Author = commit.Author.Login
			}
			result.Commits = append(result.Commits, typed)
		}

		if len(payload) == 0 || !hasNextPage(resp.Header.Get("Link")) {
			break
		}
		page++
	}

	return result, nil
}

// GetCommit reads commit detail including additions/deletions and the
// changed file paths.
func (c *DataClient) GetCommit(ctx context.Context, owner, repo, sha string) (CommitDetail, error) {
	trimmedOwner := strings.TrimSpace(owner)
	trimmedRepo := strings.TrimSpace(repo)
	trimmedSHA := strings.TrimSpace(sha)
	if trimmedOwner == "" {
		return CommitDetail{}, fmt.Errorf("owner is required")
	}
	if trimmedRepo == "" {
		return CommitDetail{}, fmt.Errorf("repo is required")
	}
	if trimmedSHA == "" {
		return CommitDetail{}, fmt.Errorf("sha is required")
	}

	reqURL := c.cloneBaseURL()
	reqURL.Path = joinURLPath(reqURL.Path, "repos", url.PathEscape(trimmedOwner), url.PathEscape(trimmedRepo), "commits", url.PathEscape(trimmedSHA))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return CommitDetail{}, fmt.Errorf("build commit detail request: %w", err)
	}

	resp, metadata, err := c.requestClient.Do(req)
	if err != nil {
		return CommitDetail{}, fmt.Errorf("commit detail request failed: %w", err)
	}
	if resp == nil {
		return CommitDetail{}, fmt.Errorf("commit detail request failed: nil response")
	}

	status := endpointStatusFromHTTP(resp.StatusCode)
	result := CommitDetail{
		Status:   status,
		Metadata: metadata,
	}
	if status != EndpointStatusOK {
		_ = resp.Body.Close()
		return result, nil
	}

	var payload commitDetailPayload
	if err := decodeJSONAndClose(resp, &payload); err != nil {
		return CommitDetail{}, fmt.Errorf("decode commit detail response: %w", err)
	}

	result.SHA = payload.SHA
	if payload.Author != nil {
		result.Author = payload.Author.Login
	}
	result.Additions = payload.Stats.Additions
	result.Deletions = payload.Stats.Deletions
	for _, file := range payload.Files {
		result.FilesChanged = append(result.FilesChanged, file.Filename)
	}
	return result, nil
}

// ListRepoPullRequestsWindow lists repository pull requests (all states)
// and filters them to a window by creation or merge time.
func (c *DataClient) ListRepoPullRequestsWindow(ctx context.Context, owner, repo string, since, until time.Time) (PullRequestListResult, error) {
	trimmedOwner := strings.TrimSpace(owner)
	trimmedRepo := strings.TrimSpace(repo)
	if trimmedOwner == "" {
		return PullRequestListResult{}, fmt.Errorf("owner is required")
	}
	if trimmedRepo == "" {
		return PullRequestListResult{}, fmt.Errorf("repo is required")
	}

	result := PullRequestListResult{Status: EndpointStatusOK}
	page := 1
	for {
		reqURL := c.cloneBaseURL()
		reqURL.Path = joinURLPath(reqURL.Path, "repos", url.PathEscape(trimmedOwner), url.PathEscape(trimmedRepo), "pulls")
		query := reqURL.Query()
		query.Set("state", "all")
		query.Set("sort", "created")
		query.Set("direction", "desc")
		query.Set("per_page", "100")
		query.Set("page", strconv.Itoa(page))
		reqURL.RawQuery = query.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
		if err != nil {
			return PullRequestListResult{}, fmt.Errorf("build list pull requests request: %w", err)
		}

		resp, metadata, err := c.requestClient.Do(req)
		result.Metadata = mergeMetadata(result.Metadata, metadata)
		if err != nil {
			return PullRequestListResult{}, fmt.Errorf("list pull requests request failed: %w", err)
		}
		if resp == nil {
			return PullRequestListResult{}, fmt.Errorf("list pull requests request failed: nil response")
		}

		status := endpointStatusFromHTTP(resp.StatusCode)
		if status != EndpointStatusOK {
			_ = resp.Body.Close()
			result.Status = status
			return result, nil
		}

		var payload []pullRequestPayload
		if err := decodeJSONAndClose(resp, &payload); err != nil {
			return PullRequestListResult{}, fmt.Errorf("decode list pull requests response: %w", err)
		}

		for _, pr := range payload {
			typed := PullRequest{
				Number:    pr.Number,
				CreatedAt: parseRFC3339(pr.CreatedAt),
				MergedAt:  parseNullableRFC3339(pr.MergedAt),
			}
			if pr.User != nil {
				typed.User = pr.User.Login
			}
			if !withinWindow(typed.CreatedAt, since, until) && !withinWindow(typed.MergedAt, since, until) {
				continue
			}
			result.PullRequests = append(result.PullRequests, typed)
		}

		if len(payload) == 0 || !hasNextPage(resp.Header.Get("Link")) {
			break
		}
		page++
	}

	return result, nil
}

// ListReviewCommentsWindow lists repository pull-request review comments
// filtered to a window.
func (c *DataClient) ListReviewCommentsWindow(ctx context.Context, owner, repo string, since, until time.Time) (ReviewCommentsResult, error) {
	trimmedOwner := strings.TrimSpace(owner)
	trimmedRepo := strings.TrimSpace(repo)
	if trimmedOwner == "" {
		return ReviewCommentsResult{}, fmt.Errorf("owner is required")
	}
	if trimmedRepo == "" {
		return ReviewCommentsResult{}, fmt.Errorf("repo is required")
	}

	result := ReviewCommentsResult{Status: EndpointStatusOK}
	page := 1
	for {
		reqURL := c.cloneBaseURL()
		reqURL.Path = joinURLPath(reqURL.Path, "repos", url.PathEscape(trimmedOwner), url.PathEscape(trimmedRepo), "pulls", "comments")
		query := reqURL.Query()
		query.Set("per_page", "100")
		query.Set("page", strconv.Itoa(page))
		if !since.IsZero() {
			query.Set("since", since.UTC().Format(time.RFC3339))
		}
		reqURL.RawQuery = query.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
		if err != nil {
			return ReviewCommentsResult{}, fmt.Errorf("build list review comments request: %w", err)
		}

		resp, metadata, err := c.requestClient.Do(req)
		result.Metadata = mergeMetadata(result.Metadata, metadata)
		if err != nil {
			return ReviewCommentsResult{}, fmt.Errorf("list review comments request failed: %w", err)
		}
		if resp == nil {
			return ReviewCommentsResult{}, fmt.Errorf("list review comments request failed: nil response")
		}

		status := endpointStatusFromHTTP(resp.StatusCode)
		if status != EndpointStatusOK {
			_ = resp.Body.Close()
			result.Status = status
			return result, nil
		}

		var payload []reviewCommentPayload
		if err := decodeJSONAndClose(resp, &payload); err != nil {
			return ReviewCommentsResult{}, fmt.Errorf("decode list review comments response: %w", err)
		}

		for _, comment := range payload {
			createdAt := parseRFC3339(comment.CreatedAt)
			if !withinWindow(createdAt, since, until) {
				continue
			}
			typed := ReviewComment{
				ID:        comment.ID,
				CreatedAt: createdAt,
			}
			if comment.User != nil {
				typed.User = comment.User.Login
			}
			result.Comments = append(result.Comments, typed)
		}

		if len(payload) == 0 || !hasNextPage(resp.Header.Get("Link")) {
			break
		}
		page++
	}

	return result, nil
}

func parseAPIBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = defaultAPIBaseURL
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("parse api base url: missing scheme or host")
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}
	return parsed, nil
}

func (c *DataClient) cloneBaseURL() *url.URL {
	cloned := *c.baseURL
	return &cloned
}

func joinURLPath(base string, segments ...string) string {
	trimmedBase := strings.TrimSuffix(base, "/")
	builder := strings.Builder{}
	builder.WriteString(trimmedBase)
	for _, segment := range segments {
		builder.WriteString("/")
		builder.WriteString(strings.TrimPrefix(segment, "/"))
	}
	return builder.String()
}

func endpointStatusFromHTTP(statusCode int) EndpointStatus {
	switch statusCode {
	case http.StatusUnauthorized:
		return EndpointStatusUnauthorized
	case http.StatusForbidden:
		return EndpointStatusForbidden
	case http.StatusNotFound, http.StatusGone:
		return EndpointStatusNotFound
	}
	if statusCode >= 200 && statusCode <= 299 {
		return EndpointStatusOK
	}
	if statusCode >= 500 {
		return EndpointStatusUnavailable
	}
	return EndpointStatusUnknown
}

func decodeJSONAndClose(resp *http.Response, target any) error {
	defer resp.Body.Close()
	decoder := json.NewDecoder(resp.Body)
	return decoder.Decode(target)
}

func hasNextPage(linkHeader string) bool {
	if strings.TrimSpace(linkHeader) == "" {
		return false
	}
	for _, part := range strings.Split(linkHeader, ",") {
		if strings.Contains(part, `rel="next"`) {
			return true
		}
	}
	return false
}

func parseRFC3339(raw string) time.Time {
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return parsed.UTC()
}

func parseNullableRFC3339(raw *string) time.Time {
	if raw == nil {
		return time.Time{}
	}
	return parseRFC3339(*raw)
}

func withinWindow(ts, since, until time.Time) bool {
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

func mergeMetadata(current CallMetadata, incoming CallMetadata) CallMetadata {
	current.Attempts += incoming.Attempts
	current.LastDecision = incoming.LastDecision
	current.LastRateHeaders = incoming.LastRateHeaders
	return current
}

type commitListPayload struct {
	SHA     string          `json:"sha"`
	Author  *loginPayload   `json:"author"`
	Parents []parentPayload `json:"parents"`
	Commit  struct {
		Message string `json:"message"`
		Author  struct {
			Date string `json:"date"`
		} `json:"author"`
	} `json:"commit"`
}

type parentPayload struct {
	SHA string `json:"sha"`
}

type commitDetailPayload struct {
	SHA    string        `json:"sha"`
	Author *loginPayload `json:"author"`
	Stats  struct {
		Additions int `json:"additions"`
		Deletions int `json:"deletions"`
	} `json:"stats"`
	Files []struct {
		Filename string `json:"filename"`
	} `json:"files"`
}

type pullRequestPayload struct {
	Number    int           `json:"number"`
	User      *loginPayload `json:"user"`
	CreatedAt string        `json:"created_at"`
	MergedAt  *string       `json:"merged_at"`
}

type reviewCommentPayload struct {
	ID        int64         `json:"id"`
	User      *loginPayload `json:"user"`
	CreatedAt string        `json:"created_at"`
}

type loginPayload struct {
	Login string `json:"login"`
}
