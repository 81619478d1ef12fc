package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var validLogLevels = []string{"debug", "info", "warn", "error"}

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig
	Sprint    SprintConfig
	Jira      JiraConfig
	GitHub    GitHubConfig
	Sonar     SonarConfig
	Retry     RetryConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Prewarm   PrewarmConfig
	Telemetry TelemetryConfig
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
}

// SprintConfig anchors the sprint calendar.
type SprintConfig struct {
	AnchorID    string `yaml:"anchor_id"`
	AnchorStart string `yaml:"anchor_start"`
	LengthDays  int    `yaml:"length_days"`
}

// JiraConfig configures the issue-tracker API.
type JiraConfig struct {
	BaseURL          string
	Email            string
	Token            string
	RequestTimeout   time.Duration
	MaxResults       int
	MaxRepositories  int
	StoryPointsField string
	SprintField      string
	TeamField        string
}

// GitHubConfig configures the source-control API.
type GitHubConfig struct {
	APIBaseURL     string
	Org            string
	Token          string
	AppID          int64
	InstallationID int64
	PrivateKeyPath string
	RequestTimeout time.Duration
}

// SonarConfig configures the code-quality API.
type SonarConfig struct {
	BaseURL            string
	Organization       string
	Token              string
	RequestTimeout     time.Duration
	ProjectConcurrency int
}

// RetryConfig configures retries on transient upstream failures.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// RateLimitConfig configures source-control rate-limit controls.
type RateLimitConfig struct {
	MinRemainingThreshold int
	MinResetBuffer        time.Duration
	SecondaryLimitBackoff time.Duration
}

// CacheConfig configures the fetch-result cache.
type CacheConfig struct {
	Backend       string
	MaxEntries    int
	TTL           time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// PrewarmTeam is one team whose snapshot the pre-warm job refreshes.
type PrewarmTeam struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// PrewarmConfig configures the snapshot pre-warm job.
type PrewarmConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Schedule string        `yaml:"schedule"`
	Teams    []PrewarmTeam `yaml:"teams"`
}

// TelemetryConfig configures OpenTelemetry behavior.
type TelemetryConfig struct {
	OTELEnabled          bool    `yaml:"otel_enabled"`
	OTELTraceMode        string  `yaml:"otel_trace_mode"`
	OTELTraceSampleRatio float64 `yaml:"otel_trace_sample_ratio"`
}

// Load reads configuration from YAML, applies environment credential
// overrides, and validates the result.
func Load(reader io.Reader) (*Config, error) {
	if reader == nil {
		return nil, fmt.Errorf("config reader is nil")
	}

	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)

	var raw rawConfig
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	cfg := raw.toConfig()
	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates configuration values.
func (c *Config) Validate() error {
	var errs []string

	if !slices.Contains(validLogLevels, c.Server.LogLevel) {
		errs = append(errs, "server.log_level must be one of debug|info|warn|error")
	}

	if c.Jira.BaseURL == "" {
		errs = append(errs, "jira.base_url is required")
	}
	if c.Jira.Email == "" || c.Jira.Token == "" {
		errs = append(errs, "jira credentials are required (jira.email/jira.token or JIRA_EMAIL/JIRA_TOKEN)")
	}

	if c.GitHub.Org == "" {
		errs = append(errs, "github.org is required")
	}
	appAuth := c.GitHub.AppID > 0 || c.GitHub.InstallationID > 0 || c.GitHub.PrivateKeyPath != ""
	if appAuth {
		if c.GitHub.AppID <= 0 || c.GitHub.InstallationID <= 0 || c.GitHub.PrivateKeyPath == "" {
			errs = append(errs, "github app auth requires app_id, installation_id and private_key_path")
		}
	} else if c.GitHub.Token == "" {
		errs = append(errs, "github auth requires either a token or app installation credentials")
	}

	if c.Sonar.Organization == "" {
		errs = append(errs, "sonar.organization is required")
	}
	if c.Sonar.Token == "" {
		errs = append(errs, "sonar.token (or SONAR_TOKEN) is required")
	}

	if c.Cache.Backend != "memory" && c.Cache.Backend != "redis" {
		errs = append(errs, "cache.backend must be memory or redis")
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		errs = append(errs, "cache.redis_addr is required when cache.backend=redis")
	}

	if c.Prewarm.Enabled {
		if c.Prewarm.Schedule == "" {
			errs = append(errs, "prewarm.schedule is required when prewarm.enabled=true")
		}
		if len(c.Prewarm.Teams) == 0 {
			errs = append(errs, "prewarm.teams must contain at least one team when prewarm.enabled=true")
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
	if cfg.Sprint.AnchorID == "" {
		cfg.Sprint.AnchorID = "2025.12"
	}
	if cfg.Sprint.AnchorStart == "" {
		cfg.Sprint.AnchorStart = "2025-06-11"
	}
	if cfg.Sprint.LengthDays <= 0 {
		cfg.Sprint.LengthDays = 14
	}
	if cfg.Jira.RequestTimeout <= 0 {
		cfg.Jira.RequestTimeout = 30 * time.Second
	}
	if cfg.Jira.MaxResults <= 0 {
		cfg.Jira.MaxResults = 100
	}
	if cfg.Jira.MaxRepositories <= 0 {
		cfg.Jira.MaxRepositories = 10
	}
	if cfg.Jira.StoryPointsField == "" {
		cfg.Jira.StoryPointsField = "customfield_10014"
	}
	if cfg.Jira.SprintField == "" {
		cfg.Jira.SprintField = "customfield_10010"
	}
	if cfg.Jira.TeamField == "" {
		cfg.Jira.TeamField = "Team[Team]"
	}
	if cfg.GitHub.RequestTimeout <= 0 {
		cfg.GitHub.RequestTimeout = 30 * time.Second
	}
	if cfg.Sonar.BaseURL == "" {
		cfg.Sonar.BaseURL = "https://sonarcloud.io"
	}
	if cfg.Sonar.RequestTimeout <= 0 {
		cfg.Sonar.RequestTimeout = 30 * time.Second
	}
	if cfg.Sonar.ProjectConcurrency <= 0 {
		cfg.Sonar.ProjectConcurrency = 5
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.InitialBackoff <= 0 {
		cfg.Retry.InitialBackoff = time.Second
	}
	if cfg.Retry.MaxBackoff <= 0 {
		cfg.Retry.MaxBackoff = 30 * time.Second
	}
	if cfg.RateLimit.SecondaryLimitBackoff <= 0 {
		cfg.RateLimit.SecondaryLimitBackoff = time.Minute
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.Cache.MaxEntries <= 0 {
		cfg.Cache.MaxEntries = 256
	}
	if cfg.Cache.TTL <= 0 {
		cfg.Cache.TTL = 15 * time.Minute
	}
}

// applyEnvOverrides lets credentials come from the environment (optionally
// seeded from a .env file by the caller) instead of the config file.
func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("JIRA_EMAIL")); v != "" {
		cfg.Jira.Email = v
	}
	if v := strings.TrimSpace(os.Getenv("JIRA_TOKEN")); v != "" {
		cfg.Jira.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("GITHUB_TOKEN")); v != "" {
		cfg.GitHub.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("SONAR_TOKEN")); v != "" {
		cfg.Sonar.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_PASSWORD")); v != "" {
		cfg.Cache.RedisPassword = v
	}
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil || value.Kind == 0 || strings.TrimSpace(value.Value) == "" {
		d.Duration = 0
		return nil
	}

	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}

	parsed, err := parseFlexibleDuration(raw)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func parseFlexibleDuration(raw string) (time.Duration, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}

	if standard, err := time.ParseDuration(trimmed); err == nil {
		return standard, nil
	}

	if strings.HasSuffix(trimmed, "d") {
		return parseDurationWithMultiplier(strings.TrimSuffix(trimmed, "d"), 24)
	}
	if strings.HasSuffix(trimmed, "w") {
		return parseDurationWithMultiplier(strings.TrimSuffix(trimmed, "w"), 24*7)
	}

	return 0, fmt.Errorf("parse duration %q: invalid unit", raw)
}

func parseDurationWithMultiplier(numeric string, multiplierHours float64) (time.Duration, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(numeric), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration value %q: %w", numeric, err)
	}

	nanos := value * multiplierHours * float64(time.Hour)
	if nanos > math.MaxInt64 || nanos < math.MinInt64 {
		return 0, fmt.Errorf("parse duration value %q: out of range", numeric)
	}
	return time.Duration(nanos), nil
}

type rawConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Sprint    SprintConfig    `yaml:"sprint"`
	Jira      rawJira         `yaml:"jira"`
	GitHub    rawGitHub       `yaml:"github"`
	Sonar     rawSonar        `yaml:"sonar"`
	Retry     rawRetry        `yaml:"retry"`
	RateLimit rawRateLimit    `yaml:"rate_limit"`
	Cache     rawCache        `yaml:"cache"`
	Prewarm   PrewarmConfig   `yaml:"prewarm"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type rawJira struct {
	BaseURL          string   `yaml:"base_url"`
	Email            string   `yaml:"email"`
	Token            string   `yaml:"token"`
	RequestTimeout   duration `yaml:"request_timeout"`
	MaxResults       int      `yaml:"max_results"`
	MaxRepositories  int      `yaml:"max_repositories"`
	StoryPointsField string   `yaml:"story_points_field"`
	SprintField      string   `yaml:"sprint_field"`
	TeamField        string   `yaml:"team_field"`
}

type rawGitHub struct {
	APIBaseURL     string   `yaml:"api_base_url"`
	Org            string   `yaml:"org"`
	Token          string   `yaml:"token"`
	AppID          int64    `yaml:"app_id"`
	InstallationID int64    `yaml:"installation_id"`
	PrivateKeyPath string   `yaml:"private_key_path"`
	RequestTimeout duration `yaml:"request_timeout"`
}

type rawSonar struct {
	BaseURL            string   `yaml:"base_url"`
	Organization       string   `yaml:"organization"`
	Token              string   `yaml:"token"`
	RequestTimeout     duration `yaml:"request_timeout"`
	ProjectConcurrency int      `yaml:"project_concurrency"`
}

type rawRetry struct {
	MaxAttempts    int      `yaml:"max_attempts"`
	InitialBackoff duration `yaml:"initial_backoff"`
	MaxBackoff     duration `yaml:"max_backoff"`
}

type rawRateLimit struct {
	MinRemainingThreshold int      `yaml:"min_remaining_threshold"`
	MinResetBuffer        duration `yaml:"min_reset_buffer"`
	SecondaryLimitBackoff duration `yaml:"secondary_limit_backoff"`
}

type rawCache struct {
	Backend       string   `yaml:"backend"`
	MaxEntries    int      `yaml:"max_entries"`
	TTL           duration `yaml:"ttl"`
	RedisAddr     string   `yaml:"redis_addr"`
	RedisPassword string   `yaml:"redis_password"`
	RedisDB       int      `yaml:"redis_db"`
}

func (r rawConfig) toConfig() *Config {
	return &Config{
		Server: r.Server,
		Sprint: r.Sprint,
		Jira: JiraConfig{
			BaseURL:          r.Jira.BaseURL,
			Email:            r.Jira.Email,
			Token:            r.Jira.Token,
			RequestTimeout:   r.Jira.RequestTimeout.Duration,
			MaxResults:       r.Jira.MaxResults,
			MaxRepositories:  r.Jira.MaxRepositories,
			StoryPointsField: r.Jira.StoryPointsField,
			SprintField:      r.Jira.SprintField,
			TeamField:        r.Jira.TeamField,
		},
		GitHub: GitHubConfig{
			APIBaseURL:     r.GitHub.APIBaseURL,
			Org:            r.GitHub.Org,
			Token:          r.GitHub.Token,
			AppID:          r.GitHub.AppID,
			InstallationID: r.GitHub.InstallationID,
			PrivateKeyPath: r.GitHub.PrivateKeyPath,
			RequestTimeout: r.GitHub.RequestTimeout.Duration,
		},
		Sonar: SonarConfig{
			BaseURL:            r.Sonar.BaseURL,
			Organization:       r.Sonar.Organization,
			Token:              r.Sonar.Token,
			RequestTimeout:     r.Sonar.RequestTimeout.Duration,
			ProjectConcurrency: r.Sonar.ProjectConcurrency,
		},
		Retry: RetryConfig{
			MaxAttempts:    r.Retry.MaxAttempts,
			InitialBackoff: r.Retry.InitialBackoff.Duration,
			MaxBackoff:     r.Retry.MaxBackoff.Duration,
		},
		RateLimit: RateLimitConfig{
			MinRemainingThreshold: r.RateLimit.MinRemainingThreshold,
			MinResetBuffer:        r.RateLimit.MinResetBuffer.Duration,
			SecondaryLimitBackoff: r.RateLimit.SecondaryLimitBackoff.Duration,
		},
		Cache: CacheConfig{
			Backend:       r.Cache.Backend,
			MaxEntries:    r.Cache.MaxEntries,
			TTL:           r.Cache.TTL.Duration,
			RedisAddr:     r.Cache.RedisAddr,
			RedisPassword: r.Cache.RedisPassword,
			RedisDB:       r.Cache.RedisDB,
		},
		Prewarm:   r.Prewarm,
		Telemetry: r.Telemetry,
	}
}
