// Package sonarapi is a typed client for the code-quality service:
// organization-wide project discovery and per-project measures.
package sonarapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// The fixed metric-key set fetched for every project.
var metricKeys = []string{
	"coverage",
	"bugs",
	"reliability_rating",
	"vulnerabilities",
	"security_rating",
	"security_review_rating",
	"code_smells",
	"sqale_rating",
	"duplicated_lines_density",
	"alert_status",
	"ncloc",
}

// Project is one tracked project from the component catalog.
type Project struct {
	Key  string
	Name string
}

// Measures holds the raw metric values for one project, keyed by metric
// key. Absent metrics are absent from the map, never zero-filled.
type Measures struct {
	ProjectKey string
	Values     map[string]string
}

// HTTPDoer is implemented by http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures the code-quality client.
type Config struct {
	BaseURL        string
	Organization   string
	Token          string
	MaxAttempts    int
	InitialBackoff time.Duration
}

// Client calls the code-quality REST API.
type Client struct {
	baseURL        string
	organization   string
	token          string
	maxAttempts    int
	initialBackoff time.Duration
	doer           HTTPDoer
	// Sleep is injected for testability.
	Sleep func(time.Duration)
}

// NewClient creates a code-quality client.
func NewClient(doer HTTPDoer, cfg Config) (*Client, error) {
	if doer == nil {
		return nil, fmt.Errorf("http doer is required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://sonarcloud.io"
	}
	if strings.TrimSpace(cfg.Organization) == "" {
		return nil, fmt.Errorf("organization is required")
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = time.Second
	}
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		organization:   cfg.Organization,
		token:          cfg.Token,
		maxAttempts:    maxAttempts,
		initialBackoff: initialBackoff,
		doer:           doer,
		Sleep:          time.Sleep,
	}, nil
}

// Projects fetches the catalog of all tracked projects in the configured
// organization. This is the single catalog call that seeds repository
// identity resolution for a fetch session.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	query := url.Values{}
	query.Set("organization", c.organization)
	query.Set("qualifiers", "TRK")
	query.Set("ps", "500")

	var payload componentSearchPayload
	if err := c.getJSON(ctx, "/api/components/search", query, &payload); err != nil {
		return nil, fmt.Errorf("component search: %w", err)
	}

	projects := make([]Project, 0, len(payload.Components))
	for _, component := range payload.Components {
		projects = append(projects, Project{
			Key:  component.Key,
			Name: component.Name,
		})
	}
	return projects, nil
}

// ProjectMeasures fetches the fixed metric-key set for one project.
func (c *Client) ProjectMeasures(ctx context.Context, projectKey string) (Measures, error) {
	if strings.TrimSpace(projectKey) == "" {
		return Measures{}, fmt.Errorf("project key is required")
	}

	query := url.Values{}
	query.Set("component", projectKey)
	query.Set("metricKeys", strings.Join(metricKeys, ","))

	var payload measuresPayload
	if err := c.getJSON(ctx, "/api/measures/component", query, &payload); err != nil {
		return Measures{}, fmt.Errorf("measures for %s: %w", projectKey, err)
	}

	measures := Measures{
		ProjectKey: projectKey,
		Values:     make(map[string]string, len(payload.Component.Measures)),
	}
	for _, measure := range payload.Component.Measures {
		if measure.Value == "" {
			continue
		}
		measures.Values[measure.Metric] = measure.Value
	}
	return measures, nil
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
		// The quality service takes the token as a basic-auth username
		// with an empty password.
		req.SetBasicAuth(c.token, "")
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

type componentSearchPayload struct {
	Components []struct {
		Key  string `json:"key"`
		Name string `json:"name"`
	} `json:"components"`
}

type measuresPayload struct {
	Component struct {
		Measures []struct {
			Metric string `json:"metric"`
			Value  string `json:"value"`
		} `json:"measures"`
	} `json:"component"`
}
