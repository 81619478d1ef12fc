package githubapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTokenTransportSetsHeaders(t *testing.T) {
	t.Parallel()

	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	client, err := NewHTTPClient(AuthConfig{Token: "secret-token", Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}

	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	_ = resp.Body.Close()

	if got.Get("Authorization") != "Bearer secret-token" {
		t.Errorf("Authorization = %q", got.Get("Authorization"))
	}
	if got.Get("Accept") != "application/vnd.github+json" {
		t.Errorf("Accept = %q", got.Get("Accept"))
	}
	if got.Get("X-GitHub-Api-Version") == "" {
		t.Error("api version header missing")
	}
}

func TestNewHTTPClientRequiresCredentials(t *testing.T) {
	t.Parallel()

	if _, err := NewHTTPClient(AuthConfig{}); err == nil {
		t.Error("empty credentials accepted")
	}
	if _, err := NewHTTPClient(AuthConfig{AppID: 1}); err == nil {
		t.Error("incomplete app credentials accepted")
	}
}

func TestNewRESTClientBaseURL(t *testing.T) {
	t.Parallel()

	client, err := NewRESTClient(nil, "")
	if err != nil {
		t.Fatalf("NewRESTClient: %v", err)
	}
	if client.BaseURL.String() != "https://api.github.com/" {
		t.Errorf("default base url = %s", client.BaseURL)
	}

	client, err = NewRESTClient(nil, "https://github.example.com/api/v3")
	if err != nil {
		t.Fatalf("NewRESTClient override: %v", err)
	}
	if client.BaseURL.String() != "https://github.example.com/api/v3/" {
		t.Errorf("override base url = %s", client.BaseURL)
	}

	if _, err := NewRESTClient(nil, "://bad"); err == nil {
		t.Error("malformed base url accepted")
	}
}
