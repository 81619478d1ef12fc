package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/devpulse/sprintmetrics/internal/extract"
	"github.com/devpulse/sprintmetrics/internal/fetchcache"
	"github.com/devpulse/sprintmetrics/internal/sonarapi"
	"github.com/devpulse/sprintmetrics/internal/sprint"
)

// ErrInvalidRequest marks caller mistakes detected before any network
// call.
var ErrInvalidRequest = errors.New("invalid request")

// IssueSource runs the issue-tracker extraction and yields the
// repository set that drives the peer fetches.
type IssueSource interface {
	Extract(ctx context.Context, subject extract.Subject, window sprint.Window) (extract.IssueResult, error)
}

// CommitSource runs the source-control extraction over a repository set.
type CommitSource interface {
	Extract(ctx context.Context, subject extract.Subject, repos []string, since, until time.Time) (extract.CommitResult, error)
}

// QualitySource runs the code-quality extraction over resolved project
// keys.
type QualitySource interface {
	Extract(ctx context.Context, projectKeys []string) ([]extract.QualityRecord, []string)
}

// ProjectCatalog fetches the quality-service project catalog that seeds
// repository identity resolution.
type ProjectCatalog interface {
	Projects(ctx context.Context) ([]sonarapi.Project, error)
}

// KeyResolver maps repository references to canonical quality-service
// project keys.
type KeyResolver interface {
	ResolveAll(refs []string) []string
}

// TeamContext carries the team a requested individual belongs to; the
// tracker's sprint names embed the team name.
type TeamContext struct {
	ID   string
	Name string
}

// ServiceConfig wires the orchestrator's collaborators.
type ServiceConfig struct {
	Calendar        *sprint.Calendar
	Issues          IssueSource
	Commits         CommitSource
	Quality         QualitySource
	Catalog         ProjectCatalog
	NewResolver     func(catalog []sonarapi.Project) KeyResolver
	Cache           fetchcache.Cache
	Org             string
	MaxRepositories int
	Logger          *zap.Logger
}

// Service is the fetch orchestrator. Each request moves through
// repository resolution, concurrent peer fetches and assembly; cached
// peer results short-circuit straight to assembly.
type Service struct {
	calendar    *sprint.Calendar
	issues      IssueSource
	commits     CommitSource
	quality     QualitySource
	catalog     ProjectCatalog
	newResolver func(catalog []sonarapi.Project) KeyResolver
	cache       fetchcache.Cache
	locks       *fetchcache.KeyedLocks
	org         string
	maxRepos    int
	log         *zap.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewService creates the orchestrator.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Calendar == nil {
		return nil, fmt.Errorf("calendar is required")
	}
	if cfg.Issues == nil || cfg.Commits == nil || cfg.Quality == nil {
		return nil, fmt.Errorf("all three extractors are required")
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("project catalog is required")
	}
	if cfg.NewResolver == nil {
		return nil, fmt.Errorf("resolver factory is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	maxRepos := cfg.MaxRepositories
	if maxRepos <= 0 {
		maxRepos = 10
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		calendar:    cfg.Calendar,
		issues:      cfg.Issues,
		commits:     cfg.Commits,
		quality:     cfg.Quality,
		catalog:     cfg.Catalog,
		newResolver: cfg.NewResolver,
		cache:       cfg.Cache,
		locks:       fetchcache.NewKeyedLocks(),
		org:         cfg.Org,
		maxRepos:    maxRepos,
		log:         log,
		tracer:      otel.Tracer("sprintmetrics/internal/orchestrator"),
		now:         time.Now,
	}, nil
}

// IndividualMetrics fetches a snapshot for one developer.
func (s *Service) IndividualMetrics(ctx context.Context, name, windowSpec string, team TeamContext) (*Snapshot, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: developer name is required", ErrInvalidRequest)
	}
	subject := extract.Subject{
		Name:     strings.TrimSpace(name),
		TeamID:   team.ID,
		TeamName: team.Name,
	}
	return s.fetch(ctx, subject, KindIndividual, windowSpec)
}

// TeamMetrics fetches a snapshot for one team.
func (s *Service) TeamMetrics(ctx context.Context, teamID, teamName, windowSpec string) (*Snapshot, error) {
	if strings.TrimSpace(teamID) == "" || strings.TrimSpace(teamName) == "" {
		return nil, fmt.Errorf("%w: team id and team name are required", ErrInvalidRequest)
	}
	subject := extract.Subject{
		TeamID:   strings.TrimSpace(teamID),
		TeamName: strings.TrimSpace(teamName),
	}
	return s.fetch(ctx, subject, KindTeam, windowSpec)
}

// cachedPeers is the serialized form of the peer-fetch results stored
// per cache key.
type cachedPeers struct {
	Commits  extract.CommitMetrics   `json:"commits"`
	Quality  []extract.QualityRecord `json:"quality"`
	Warnings []string                `json:"warnings,omitempty"`
}

func (s *Service) fetch(ctx context.Context, subject extract.Subject, kind SubjectKind, windowSpec string) (*Snapshot, error) {
	now := s.now()
	window := s.calendar.ResolveWindow(windowSpec, now)

	ctx, span := s.tracer.Start(ctx, "orchestrator.fetch", trace.WithAttributes(
		attribute.String("subject", subject.DisplayName()),
		attribute.String("subject_kind", string(kind)),
		attribute.String("window", windowComponent(window)),
	))
	defer span.End()

	snapshot := &Snapshot{
		Subject:     subject.DisplayName(),
		SubjectKind: kind,
		Window:      window,
		GeneratedAt: now,
	}

	issueResult, err := s.resolveRepositories(ctx, subject, window)
	if errors.Is(err, extract.ErrNoIssues) {
		snapshot.NoIssues = true
		assemble(snapshot)
		return snapshot, nil
	}
	if err != nil {
		return nil, err
	}
	snapshot.Issues = issueResult.Metrics
	snapshot.Warnings = append(snapshot.Warnings, issueResult.Warnings...)
	snapshot.Repositories = s.normalizeRepos(issueResult.RepositoryRefs, snapshot)

	key := fetchcache.Key{
		Subject: subjectComponent(subject),
		Window:  windowComponent(window),
		RepoSet: fetchcache.RepoFingerprint(snapshot.Repositories),
	}

	if done := s.assembleFromCache(ctx, key, snapshot); done {
		return snapshot, nil
	}

	release := s.locks.Lock(key)
	defer release()
	if done := s.assembleFromCache(ctx, key, snapshot); done {
		return snapshot, nil
	}

	peers := s.fetchPeers(ctx, subject, snapshot.Repositories, window, now)

	snapshot.Commits = peers.commits.Metrics
	snapshot.Quality = peers.quality
	snapshot.Warnings = append(snapshot.Warnings, peers.warnings...)
	if peers.commitsErr != nil {
		snapshot.CommitsFailed = true
		snapshot.Warnings = append(snapshot.Warnings,
			fmt.Sprintf("commit metrics failed: %v", peers.commitsErr))
	}
	if peers.qualityErr != nil {
		snapshot.QualityFailed = true
		snapshot.Warnings = append(snapshot.Warnings,
			fmt.Sprintf("quality metrics failed: %v", peers.qualityErr))
	}

	if !snapshot.CommitsFailed && !snapshot.QualityFailed {
		s.store(ctx, key, cachedPeers{
			Commits:  peers.commits.Metrics,
			Quality:  peers.quality,
			Warnings: peers.warnings,
		})
	}

	assemble(snapshot)
	return snapshot, nil
}

func (s *Service) resolveRepositories(ctx context.Context, subject extract.Subject, window sprint.Window) (extract.IssueResult, error) {
	ctx, span := s.tracer.Start(ctx, "orchestrator.resolving_repositories")
	defer span.End()
	return s.issues.Extract(ctx, subject, window)
}

// peerResults collects the two independent peer fetches. Each goroutine
// writes only its own fields; the reducer reads them after both finish.
type peerResults struct {
	commits    extract.CommitResult
	commitsErr error
	quality    []extract.QualityRecord
	qualityErr error
	warnings   []string
}

func (s *Service) fetchPeers(ctx context.Context, subject extract.Subject, repos []string, window sprint.Window, now time.Time) peerResults {
	ctx, span := s.tracer.Start(ctx, "orchestrator.fetching_peers")
	defer span.End()

	since, until := s.commitBounds(window, now)

	var (
		wg           sync.WaitGroup
		commitOut    extract.CommitResult
		commitErr    error
		qualityOut   []extract.QualityRecord
		qualityWarns []string
		qualityErr   error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		commitOut, commitErr = s.commits.Extract(ctx, subject, repos, since, until)
	}()
	go func() {
		defer wg.Done()
		keys, err := s.resolveQualityKeys(ctx, repos)
		if err != nil {
			qualityErr = err
			return
		}
		qualityOut, qualityWarns = s.quality.Extract(ctx, keys)
	}()
	wg.Wait()

	results := peerResults{
		commits:    commitOut,
		commitsErr: commitErr,
		quality:    qualityOut,
		qualityErr: qualityErr,
	}
	if commitErr == nil {
		results.warnings = append(results.warnings, commitOut.Warnings...)
	}
	results.warnings = append(results.warnings, qualityWarns...)
	return results
}

// resolveQualityKeys seeds the identity resolver from one catalog call
// and maps the repository set to canonical project keys. Misses are
// normal; a failed catalog fetch fails the quality branch.
func (s *Service) resolveQualityKeys(ctx context.Context, repos []string) ([]string, error) {
	if len(repos) == 0 {
		return nil, nil
	}
	catalog, err := s.catalog.Projects(ctx)
	if err != nil {
		return nil, fmt.Errorf("project catalog: %w", err)
	}
	return s.newResolver(catalog).ResolveAll(repos), nil
}

// normalizeRepos prefixes bare repository names with the configured
// organization and caps the set size.
func (s *Service) normalizeRepos(refs []string, snapshot *Snapshot) []string {
	repos := make([]string, 0, len(refs))
	for _, ref := range refs {
		if !strings.Contains(ref, "/") && s.org != "" {
			ref = s.org + "/" + ref
		}
		repos = append(repos, ref)
	}
	if len(repos) > s.maxRepos {
		snapshot.Warnings = append(snapshot.Warnings,
			fmt.Sprintf("repository set truncated from %d to %d", len(repos), s.maxRepos))
		repos = repos[:s.maxRepos]
	}
	return repos
}

// commitBounds maps a window to the date range used for commit and pull
// request filtering. Rolling windows are anchored to now.
func (s *Service) commitBounds(window sprint.Window, now time.Time) (time.Time, time.Time) {
	switch window.Kind {
	case sprint.KindYearToDate:
		return time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC), now
	case sprint.KindOpenSprints:
		start, end, err := s.calendar.Range(s.calendar.ForDate(now).ID())
		if err != nil {
			return time.Time{}, now
		}
		return start, endOfDay(end)
	default:
		return window.Start, endOfDay(window.End)
	}
}

func endOfDay(day time.Time) time.Time {
	return day.Add(24*time.Hour - time.Second)
}

// assembleFromCache completes the snapshot from stored peer results on
// a cache hit.
func (s *Service) assembleFromCache(ctx context.Context, key fetchcache.Key, snapshot *Snapshot) bool {
	payload, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn("cache read failed", zap.Error(err))
		return false
	}
	if !ok {
		return false
	}

	var peers cachedPeers
	if err := json.Unmarshal(payload, &peers); err != nil {
		s.log.Warn("cache entry corrupt, refetching", zap.Error(err))
		return false
	}

	snapshot.Commits = peers.Commits
	snapshot.Quality = peers.Quality
	snapshot.Warnings = append(snapshot.Warnings, peers.Warnings...)
	snapshot.CacheHit = true
	assemble(snapshot)
	return true
}

func (s *Service) store(ctx context.Context, key fetchcache.Key, peers cachedPeers) {
	payload, err := json.Marshal(peers)
	if err != nil {
		s.log.Warn("cache encode failed", zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, key, payload); err != nil {
		s.log.Warn("cache write failed", zap.Error(err))
	}
}

func subjectComponent(subject extract.Subject) string {
	if subject.Individual() {
		return fetchcache.IndividualSubject(subject.Name)
	}
	return fetchcache.TeamSubject(subject.TeamID)
}

func windowComponent(window sprint.Window) string {
	if window.Kind == sprint.KindSprint {
		return "sprint:" + window.SprintID
	}
	return string(window.Kind)
}
