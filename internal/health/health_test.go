package health

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestEvaluate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		input     Input
		wantMode  Mode
		wantReady bool
	}{
		{
			name: "all_healthy",
			input: Input{
				TrackerHealthy:       true,
				SourceControlHealthy: true,
				QualityHealthy:       true,
				CacheHealthy:         true,
			},
			wantMode:  ModeHealthy,
			wantReady: true,
		},
		{
			name: "quality_down_degrades",
			input: Input{
				TrackerHealthy:       true,
				SourceControlHealthy: true,
				QualityHealthy:       false,
				CacheHealthy:         true,
			},
			wantMode:  ModeDegraded,
			wantReady: true,
		},
		{
			name: "tracker_down_not_ready",
			input: Input{
				TrackerHealthy:       false,
				SourceControlHealthy: true,
				QualityHealthy:       true,
				CacheHealthy:         true,
			},
			wantMode:  ModeUnhealthy,
			wantReady: false,
		},
		{
			name: "cache_down_not_ready",
			input: Input{
				TrackerHealthy:       true,
				SourceControlHealthy: true,
				QualityHealthy:       true,
				CacheHealthy:         false,
			},
			wantMode:  ModeUnhealthy,
			wantReady: false,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			status := Evaluate(tc.input)
			if status.Mode != tc.wantMode {
				t.Errorf("mode = %s, want %s", status.Mode, tc.wantMode)
			}
			if status.Ready != tc.wantReady {
				t.Errorf("ready = %v, want %v", status.Ready, tc.wantReady)
			}
			if len(status.Components) != 4 {
				t.Errorf("components = %v", status.Components)
			}
		})
	}
}

func TestMonitorProbesConcurrently(t *testing.T) {
	t.Parallel()

	healthy := func(context.Context) error { return nil }
	failing := func(context.Context) error { return fmt.Errorf("unreachable") }

	monitor := NewMonitor(healthy, healthy, failing, nil, time.Second)
	status := monitor.CurrentStatus(context.Background())

	if !status.Ready {
		t.Error("monitor not ready with required probes healthy")
	}
	if status.Mode != ModeDegraded {
		t.Errorf("mode = %s, want %s", status.Mode, ModeDegraded)
	}
}

func TestReachabilityProbe(t *testing.T) {
	t.Parallel()

	okServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(okServer.Close)
	brokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(brokenServer.Close)

	if err := ReachabilityProbe(okServer.Client(), okServer.URL)(context.Background()); err != nil {
		t.Errorf("auth failure should still count as reachable: %v", err)
	}
	if err := ReachabilityProbe(brokenServer.Client(), brokenServer.URL)(context.Background()); err == nil {
		t.Error("5xx should be unhealthy")
	}
}

func TestHandlerEndpoints(t *testing.T) {
	t.Parallel()

	monitor := NewMonitor(nil, nil, nil, nil, time.Second)
	handler := NewHandler(monitor)

	for path, wantStatus := range map[string]int{
		"/livez":   http.StatusOK,
		"/readyz":  http.StatusOK,
		"/healthz": http.StatusOK,
	} {
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, path, nil))
		if recorder.Code != wantStatus {
			t.Errorf("%s = %d, want %d", path, recorder.Code, wantStatus)
		}
	}

	notReady := NewMonitor(func(context.Context) error { return fmt.Errorf("down") }, nil, nil, nil, time.Second)
	recorder := httptest.NewRecorder()
	NewHandler(notReady).ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if recorder.Code != http.StatusServiceUnavailable {
		t.Errorf("/readyz = %d, want %d", recorder.Code, http.StatusServiceUnavailable)
	}
}
