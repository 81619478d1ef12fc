package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/devpulse/sprintmetrics/internal/config"
	"github.com/devpulse/sprintmetrics/internal/extract"
	"github.com/devpulse/sprintmetrics/internal/fetchcache"
	"github.com/devpulse/sprintmetrics/internal/githubapi"
	"github.com/devpulse/sprintmetrics/internal/health"
	"github.com/devpulse/sprintmetrics/internal/identity"
	"github.com/devpulse/sprintmetrics/internal/jiraapi"
	"github.com/devpulse/sprintmetrics/internal/jobs"
	"github.com/devpulse/sprintmetrics/internal/orchestrator"
	"github.com/devpulse/sprintmetrics/internal/sonarapi"
	"github.com/devpulse/sprintmetrics/internal/sprint"
)

// Runtime assembles the API clients, extractors, orchestrator and
// background jobs from configuration and exposes the HTTP handler tree.
type Runtime struct {
	server  *Server
	monitor *health.Monitor
	prewarm *jobs.Prewarm
	redis   *redis.Client
	log     *zap.Logger
}

// NewRuntime builds the full service from validated configuration.
func NewRuntime(cfg *config.Config, logger *zap.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	jiraClient, err := jiraapi.NewClient(
		&http.Client{Timeout: cfg.Jira.RequestTimeout},
		jiraapi.Config{
			BaseURL:          cfg.Jira.BaseURL,
			Email:            cfg.Jira.Email,
			Token:            cfg.Jira.Token,
			MaxResults:       cfg.Jira.MaxResults,
			StoryPointsField: cfg.Jira.StoryPointsField,
			SprintField:      cfg.Jira.SprintField,
			MaxAttempts:      cfg.Retry.MaxAttempts,
			InitialBackoff:   cfg.Retry.InitialBackoff,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("build issue-tracker client: %w", err)
	}

	githubHTTP, err := githubapi.NewHTTPClient(githubapi.AuthConfig{
		Token:          cfg.GitHub.Token,
		AppID:          cfg.GitHub.AppID,
		InstallationID: cfg.GitHub.InstallationID,
		PrivateKeyPath: cfg.GitHub.PrivateKeyPath,
		Timeout:        cfg.GitHub.RequestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("build source-control http client: %w", err)
	}
	requestClient := githubapi.NewClient(githubHTTP,
		githubapi.RetryConfig{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialBackoff: cfg.Retry.InitialBackoff,
			MaxBackoff:     cfg.Retry.MaxBackoff,
		},
		githubapi.RateLimitPolicy{
			MinRemainingThreshold: cfg.RateLimit.MinRemainingThreshold,
			MinResetBuffer:        cfg.RateLimit.MinResetBuffer,
			SecondaryLimitBackoff: cfg.RateLimit.SecondaryLimitBackoff,
		},
	)
	dataClient, err := githubapi.NewDataClient(cfg.GitHub.APIBaseURL, requestClient)
	if err != nil {
		return nil, fmt.Errorf("build source-control data client: %w", err)
	}
	restClient, err := githubapi.NewRESTClient(githubHTTP, cfg.GitHub.APIBaseURL)
	if err != nil {
		return nil, fmt.Errorf("build source-control rest client: %w", err)
	}
	directory, err := githubapi.NewOrgDirectory(restClient)
	if err != nil {
		return nil, fmt.Errorf("build member directory: %w", err)
	}

	sonarClient, err := sonarapi.NewClient(
		&http.Client{Timeout: cfg.Sonar.RequestTimeout},
		sonarapi.Config{
			BaseURL:        cfg.Sonar.BaseURL,
			Organization:   cfg.Sonar.Organization,
			Token:          cfg.Sonar.Token,
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialBackoff: cfg.Retry.InitialBackoff,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("build code-quality client: %w", err)
	}

	anchorStart, err := time.Parse("2006-01-02", cfg.Sprint.AnchorStart)
	if err != nil {
		return nil, fmt.Errorf("parse sprint anchor start: %w", err)
	}
	calendar, err := sprint.NewCalendar(sprint.CalendarConfig{
		AnchorID:    cfg.Sprint.AnchorID,
		AnchorStart: anchorStart,
		LengthDays:  cfg.Sprint.LengthDays,
	})
	if err != nil {
		return nil, fmt.Errorf("build sprint calendar: %w", err)
	}

	cache, redisClient, err := buildCache(cfg.Cache)
	if err != nil {
		return nil, err
	}

	service, err := orchestrator.NewService(orchestrator.ServiceConfig{
		Calendar: calendar,
		Issues:   extract.NewIssueExtractor(jiraClient, cfg.Jira.TeamField, logger),
		Commits:  extract.NewCommitExtractor(dataClient, directory, cfg.GitHub.Org, 0, logger),
		Quality:  extract.NewQualityExtractor(sonarClient, cfg.Sonar.ProjectConcurrency, logger),
		Catalog:  sonarClient,
		NewResolver: func(catalog []sonarapi.Project) orchestrator.KeyResolver {
			return identity.NewResolver(catalog)
		},
		Cache:           cache,
		Org:             cfg.GitHub.Org,
		MaxRepositories: cfg.Jira.MaxRepositories,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}

	runtime := &Runtime{
		server:  NewServer(service, NewMetrics(), logger),
		monitor: buildMonitor(cfg, redisClient),
		redis:   redisClient,
		log:     logger,
	}

	if cfg.Prewarm.Enabled {
		teams := make([]jobs.Team, 0, len(cfg.Prewarm.Teams))
		for _, team := range cfg.Prewarm.Teams {
			teams = append(teams, jobs.Team{ID: team.ID, Name: team.Name})
		}
		prewarm, err := jobs.NewPrewarm(service, cfg.Prewarm.Schedule, teams, 0, logger)
		if err != nil {
			return nil, fmt.Errorf("build prewarm job: %w", err)
		}
		runtime.prewarm = prewarm
	}

	return runtime, nil
}

// Handler returns the full HTTP handler tree including health routes.
func (r *Runtime) Handler() http.Handler {
	return r.server.Handler(health.NewHandler(r.monitor))
}

// StartJobs launches background jobs, if any are configured.
func (r *Runtime) StartJobs() error {
	if r.prewarm == nil {
		return nil
	}
	if err := r.prewarm.Start(); err != nil {
		return fmt.Errorf("start prewarm job: %w", err)
	}
	r.log.Info("snapshot prewarm job started")
	return nil
}

// StopJobs halts background jobs and waits for running passes.
func (r *Runtime) StopJobs() {
	if r.prewarm != nil {
		r.prewarm.Stop()
	}
}

// Close releases held connections.
func (r *Runtime) Close() {
	if r.redis != nil {
		_ = r.redis.Close()
	}
}

func buildCache(cfg config.CacheConfig) (fetchcache.Cache, *redis.Client, error) {
	backend, err := fetchcache.BackendFromName(cfg.Backend)
	if err != nil {
		return nil, nil, err
	}
	if backend == "memory" {
		return fetchcache.NewMemory(cfg.MaxEntries, cfg.TTL), nil, nil
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	cache, err := fetchcache.NewRedis(redisClient, cfg.TTL)
	if err != nil {
		_ = redisClient.Close()
		return nil, nil, fmt.Errorf("build redis cache: %w", err)
	}
	return cache, redisClient, nil
}

// buildMonitor wires the readiness probes. Auth failures count as
// reachable; only transport errors and 5xx mark a dependency down.
func buildMonitor(cfg *config.Config, redisClient *redis.Client) *health.Monitor {
	probeClient := &http.Client{Timeout: 5 * time.Second}

	tracker := health.ReachabilityProbe(probeClient,
		strings.TrimRight(cfg.Jira.BaseURL, "/")+"/rest/api/3/myself")

	sourceControlBase := strings.TrimSpace(cfg.GitHub.APIBaseURL)
	if sourceControlBase == "" {
		sourceControlBase = "https://api.github.com/"
	}
	sourceControl := health.ReachabilityProbe(probeClient, sourceControlBase)

	quality := health.ReachabilityProbe(probeClient,
		strings.TrimRight(cfg.Sonar.BaseURL, "/")+"/api/server/version")

	var cacheProbe health.Probe
	if redisClient != nil {
		cacheProbe = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}

	return health.NewMonitor(tracker, sourceControl, quality, cacheProbe, 0)
}
