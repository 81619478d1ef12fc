// Package health evaluates readiness from upstream dependency probes.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Mode indicates high-level health mode.
type Mode string

const (
	// ModeHealthy indicates all dependencies are reachable.
	ModeHealthy Mode = "healthy"
	// ModeDegraded indicates the service is usable but the quality
	// source is unreachable; snapshots will be partial.
	ModeDegraded Mode = "degraded"
	// ModeUnhealthy indicates a required dependency is unreachable.
	ModeUnhealthy Mode = "unhealthy"
)

// Input represents dependency states used for health evaluation.
type Input struct {
	TrackerHealthy       bool
	SourceControlHealthy bool
	QualityHealthy       bool
	CacheHealthy         bool
}

// Status represents evaluated application health.
type Status struct {
	Mode       Mode            `json:"mode"`
	Ready      bool            `json:"ready"`
	Components map[string]bool `json:"components"`
}

// Provider supplies current health status.
type Provider interface {
	CurrentStatus(ctx context.Context) Status
}

// Evaluate derives readiness and mode from dependency state. The issue
// tracker and source-control host are required; the quality service
// only degrades.
func Evaluate(input Input) Status {
	components := map[string]bool{
		"issue_tracker":  input.TrackerHealthy,
		"source_control": input.SourceControlHealthy,
		"quality":        input.QualityHealthy,
		"cache":          input.CacheHealthy,
	}

	ready := input.TrackerHealthy && input.SourceControlHealthy && input.CacheHealthy

	mode := ModeHealthy
	if !ready {
		mode = ModeUnhealthy
	} else if !input.QualityHealthy {
		mode = ModeDegraded
	}

	return Status{
		Mode:       mode,
		Ready:      ready,
		Components: components,
	}
}

// Probe checks one dependency.
type Probe func(ctx context.Context) error

// Monitor runs dependency probes on demand and evaluates the result.
type Monitor struct {
	tracker       Probe
	sourceControl Probe
	quality       Probe
	cache         Probe
	timeout       time.Duration
}

// NewMonitor creates a monitor over the four dependency probes. A nil
// probe is treated as always healthy.
func NewMonitor(tracker, sourceControl, quality, cache Probe, timeout time.Duration) *Monitor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Monitor{
		tracker:       tracker,
		sourceControl: sourceControl,
		quality:       quality,
		cache:         cache,
		timeout:       timeout,
	}
}

// CurrentStatus probes all dependencies concurrently and evaluates the
// aggregate.
func (m *Monitor) CurrentStatus(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var (
		wg    sync.WaitGroup
		input Input
	)
	run := func(probe Probe, target *bool) {
		defer wg.Done()
		if probe == nil {
			*target = true
			return
		}
		*target = probe(ctx) == nil
	}

	wg.Add(4)
	go run(m.tracker, &input.TrackerHealthy)
	go run(m.sourceControl, &input.SourceControlHealthy)
	go run(m.quality, &input.QualityHealthy)
	go run(m.cache, &input.CacheHealthy)
	wg.Wait()

	return Evaluate(input)
}

// ReachabilityProbe builds a probe that GETs url and treats transport
// failures and 5xx responses as unhealthy. Auth failures still prove
// reachability.
func ReachabilityProbe(client *http.Client, url string) Probe {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return nil
	}
}

// NewHandler returns the health HTTP handler with /livez, /readyz, and
// /healthz endpoints.
func NewHandler(provider Provider) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		status := provider.CurrentStatus(r.Context())
		if status.Ready {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := provider.CurrentStatus(r.Context())
		payload, err := json.Marshal(status)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"mode":"unhealthy","error":"marshal health status"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
	})

	return mux
}
