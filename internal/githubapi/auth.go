package githubapi

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v75/github"
)

// AuthConfig configures source-control API authentication. Token auth is
// the default; when App credentials are set they take precedence.
type AuthConfig struct {
	Token          string
	AppID          int64
	InstallationID int64
	PrivateKeyPath string
	Timeout        time.Duration
	BaseTransport  http.RoundTripper
}

// NewHTTPClient creates an authenticated HTTP client for the
// source-control API, using either a plain token or a GitHub App
// installation transport.
func NewHTTPClient(cfg AuthConfig) (*http.Client, error) {
	baseTransport := cfg.BaseTransport
	if baseTransport == nil {
		baseTransport = http.DefaultTransport
	}

	if cfg.AppID > 0 || cfg.InstallationID > 0 || cfg.PrivateKeyPath != "" {
		if cfg.AppID <= 0 || cfg.InstallationID <= 0 || strings.TrimSpace(cfg.PrivateKeyPath) == "" {
			return nil, fmt.Errorf("app auth requires app id, installation id and private key path")
		}
		transport, err := ghinstallation.NewKeyFromFile(baseTransport, cfg.AppID, cfg.InstallationID, cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("create github app transport: %w", err)
		}
		return &http.Client{Transport: transport, Timeout: cfg.Timeout}, nil
	}

	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("either a token or app installation credentials are required")
	}
	return &http.Client{
		Transport: &tokenTransport{base: baseTransport, token: cfg.Token},
		Timeout:   cfg.Timeout,
	}, nil
}

type tokenTransport struct {
	base  http.RoundTripper
	token string
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	cloned.Header.Set("Authorization", "Bearer "+t.token)
	cloned.Header.Set("Accept", "application/vnd.github+json")
	cloned.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	return t.base.RoundTrip(cloned)
}

// NewRESTClient creates a go-github client over the authenticated HTTP
// client, with an optional API base URL override.
func NewRESTClient(httpClient *http.Client, apiBaseURL string) (*github.Client, error) {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	client := github.NewClient(httpClient)
	trimmedBaseURL := strings.TrimSpace(apiBaseURL)
	if trimmedBaseURL == "" {
		return client, nil
	}

	parsedURL, err := url.Parse(trimmedBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse github api base url: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("parse github api base url: missing scheme or host")
	}
	if !strings.HasSuffix(parsedURL.Path, "/") {
		parsedURL.Path += "/"
	}

	client.BaseURL = parsedURL
	return client, nil
}
