package extract

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/devpulse/sprintmetrics/internal/sonarapi"
)

// MeasuresClient fetches the measure set for one quality-service project.
type MeasuresClient interface {
	ProjectMeasures(ctx context.Context, projectKey string) (sonarapi.Measures, error)
}

// QualityExtractor fetches and normalizes quality measures for a set of
// resolved project keys. Projects are independent, so failures are
// isolated per project instead of failing the batch.
type QualityExtractor struct {
	client      MeasuresClient
	concurrency int
	log         *zap.Logger
}

// NewQualityExtractor creates a quality extractor. concurrency bounds
// the number of in-flight measure calls.
func NewQualityExtractor(client MeasuresClient, concurrency int, log *zap.Logger) *QualityExtractor {
	if concurrency <= 0 {
		concurrency = 5
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &QualityExtractor{
		client:      client,
		concurrency: concurrency,
		log:         log,
	}
}

// Extract fetches measures for every project key concurrently and
// returns one record per project that responded. Failed projects are
// reported as warnings; the caller decides whether partial quality data
// is acceptable.
func (e *QualityExtractor) Extract(ctx context.Context, projectKeys []string) ([]QualityRecord, []string) {
	if len(projectKeys) == 0 {
		return nil, nil
	}

	type outcome struct {
		record  QualityRecord
		warning string
		ok      bool
	}

	results := make([]outcome, len(projectKeys))
	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup

	for i, key := range projectKeys {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			measures, err := e.client.ProjectMeasures(ctx, key)
			if err != nil {
				e.log.Warn("quality measures fetch failed",
					zap.String("project", key),
					zap.Error(err),
				)
				results[i] = outcome{warning: fmt.Sprintf("quality metrics unavailable for %s: %v", key, err)}
				return
			}
			results[i] = outcome{record: recordFromMeasures(measures), ok: true}
		}(i, key)
	}
	wg.Wait()

	records := make([]QualityRecord, 0, len(projectKeys))
	var warnings []string
	for _, r := range results {
		if r.ok {
			records = append(records, r.record)
			continue
		}
		warnings = append(warnings, r.warning)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].ProjectKey < records[j].ProjectKey
	})
	return records, warnings
}

func recordFromMeasures(m sonarapi.Measures) QualityRecord {
	get := func(metric string) (string, bool) {
		v, ok := m.Values[metric]
		return v, ok
	}
	rating := func(metric string) Rating {
		v, ok := m.Values[metric]
		if !ok {
			return RatingNotApplicable
		}
		return RatingFromCode(v)
	}

	record := QualityRecord{
		ProjectKey:            m.ProjectKey,
		Bugs:                  optionalInt(get("bugs")),
		Vulnerabilities:       optionalInt(get("vulnerabilities")),
		CodeSmells:            optionalInt(get("code_smells")),
		LinesOfCode:           optionalInt(get("ncloc")),
		Coverage:              optionalFloat(get("coverage")),
		DuplicationDensity:    optionalFloat(get("duplicated_lines_density")),
		ReliabilityRating:     rating("reliability_rating"),
		SecurityRating:        rating("security_rating"),
		MaintainabilityRating: rating("sqale_rating"),
		SecurityReviewRating:  rating("security_review_rating"),
	}
	if gate, ok := m.Values["alert_status"]; ok {
		record.QualityGate = gate
	}
	return record
}
