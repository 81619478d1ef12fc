package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/devpulse/sprintmetrics/internal/orchestrator"
)

type fakeService struct {
	snapshot *orchestrator.Snapshot
	err      error

	lastName   string
	lastWindow string
	lastTeam   orchestrator.TeamContext
}

func (f *fakeService) IndividualMetrics(_ context.Context, name, windowSpec string, team orchestrator.TeamContext) (*orchestrator.Snapshot, error) {
	f.lastName = name
	f.lastWindow = windowSpec
	f.lastTeam = team
	return f.snapshot, f.err
}

func (f *fakeService) TeamMetrics(_ context.Context, teamID, teamName, windowSpec string) (*orchestrator.Snapshot, error) {
	f.lastTeam = orchestrator.TeamContext{ID: teamID, Name: teamName}
	f.lastWindow = windowSpec
	return f.snapshot, f.err
}

func newTestHandler(service *fakeService) http.Handler {
	return NewServer(service, NewMetrics(), nil).Handler(nil)
}

func TestIndividualEndpoint(t *testing.T) {
	t.Parallel()

	service := &fakeService{snapshot: &orchestrator.Snapshot{
		Subject:     "Jane Doe",
		SubjectKind: orchestrator.KindIndividual,
		Status:      orchestrator.StatusFull,
	}}
	handler := newTestHandler(service)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet,
		"/api/v1/metrics/individual?name=Jane+Doe&window=2025.12&team_id=42&team_name=Platform", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", recorder.Code, recorder.Body.String())
	}
	if service.lastName != "Jane Doe" || service.lastWindow != "2025.12" {
		t.Errorf("service called with name=%q window=%q", service.lastName, service.lastWindow)
	}
	if service.lastTeam.ID != "42" || service.lastTeam.Name != "Platform" {
		t.Errorf("team context = %+v", service.lastTeam)
	}

	var response struct {
		Status   string                 `json:"status"`
		Snapshot *orchestrator.Snapshot `json:"snapshot"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.Status != "full" || response.Snapshot.Subject != "Jane Doe" {
		t.Errorf("response = %+v", response)
	}
}

func TestTeamEndpointPartialStatus(t *testing.T) {
	t.Parallel()

	service := &fakeService{snapshot: &orchestrator.Snapshot{
		Subject:       "Platform",
		SubjectKind:   orchestrator.KindTeam,
		Status:        orchestrator.StatusPartial,
		CommitsFailed: true,
		Warnings:      []string{"commit metrics failed: credentials rejected"},
	}}
	handler := newTestHandler(service)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet,
		"/api/v1/metrics/team?team_id=42&team_name=Platform&window=open_sprints", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), `"status":"partial"`) {
		t.Errorf("body = %s", recorder.Body.String())
	}
}

func TestInvalidRequestIs400(t *testing.T) {
	t.Parallel()

	service := &fakeService{err: fmt.Errorf("%w: developer name is required", orchestrator.ErrInvalidRequest)}
	handler := newTestHandler(service)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/metrics/individual", nil))

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "developer name is required") {
		t.Errorf("body = %s", recorder.Body.String())
	}
}

func TestUpstreamFailureIs502(t *testing.T) {
	t.Parallel()

	service := &fakeService{err: fmt.Errorf("issue search: status 500")}
	handler := newTestHandler(service)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet,
		"/api/v1/metrics/team?team_id=42&team_name=Platform", nil))

	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), `"status":"error"`) {
		t.Errorf("body = %s", recorder.Body.String())
	}
}

func TestPrometheusEndpointExposed(t *testing.T) {
	t.Parallel()

	handler := newTestHandler(&fakeService{snapshot: &orchestrator.Snapshot{Status: orchestrator.StatusFull}})

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("/metrics = %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "go_goroutines") {
		t.Error("runtime collectors missing from scrape output")
	}
}
