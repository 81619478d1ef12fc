// Package jobs runs background maintenance tasks, currently the
// scheduled snapshot pre-warm that keeps team metrics for the running
// sprint in the fetch cache.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/devpulse/sprintmetrics/internal/orchestrator"
)

// Team identifies one team whose snapshot is refreshed per run.
type Team struct {
	ID   string
	Name string
}

// TeamFetcher is the orchestrator surface the job needs.
type TeamFetcher interface {
	TeamMetrics(ctx context.Context, teamID, teamName, windowSpec string) (*orchestrator.Snapshot, error)
}

// Prewarm periodically fetches team snapshots for the current sprint so
// interactive requests hit the cache.
type Prewarm struct {
	fetcher  TeamFetcher
	schedule string
	teams    []Team
	timeout  time.Duration
	log      *zap.Logger
	cron     *cron.Cron
}

// NewPrewarm creates the job. timeout bounds one full refresh pass.
func NewPrewarm(fetcher TeamFetcher, schedule string, teams []Team, timeout time.Duration, log *zap.Logger) (*Prewarm, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("team fetcher is required")
	}
	if len(teams) == 0 {
		return nil, fmt.Errorf("at least one team is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Prewarm{
		fetcher:  fetcher,
		schedule: schedule,
		teams:    teams,
		timeout:  timeout,
		log:      log,
	}, nil
}

// Start registers the schedule and begins running.
func (p *Prewarm) Start() error {
	runner := cron.New()
	if _, err := runner.AddFunc(p.schedule, p.run); err != nil {
		return fmt.Errorf("parse prewarm schedule %q: %w", p.schedule, err)
	}
	p.cron = runner
	runner.Start()
	return nil
}

// Stop halts the schedule and waits for a running pass to finish.
func (p *Prewarm) Stop() {
	if p.cron == nil {
		return
	}
	<-p.cron.Stop().Done()
}

// run refreshes every configured team. An empty window spec resolves to
// the sprint containing today.
func (p *Prewarm) run() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	for _, team := range p.teams {
		snapshot, err := p.fetcher.TeamMetrics(ctx, team.ID, team.Name, "")
		if err != nil {
			p.log.Warn("prewarm fetch failed",
				zap.String("team", team.Name),
				zap.Error(err),
			)
			continue
		}
		p.log.Debug("prewarmed team snapshot",
			zap.String("team", team.Name),
			zap.String("sprint", snapshot.Window.SprintID),
			zap.String("status", string(snapshot.Status)),
		)
	}
}
