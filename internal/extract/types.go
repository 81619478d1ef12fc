// Package extract turns raw per-source API responses into normalized
// metric records for a single subject over a reporting window.
package extract

import (
	"encoding/json"
	"strconv"
)

// Subject is the entity metrics are collected for: either an individual
// (display name, optionally the tracker account id) or a team. Exactly
// one of the two is set per request.
type Subject struct {
	Name      string
	AccountID string
	TeamID    string
	TeamName  string
}

// Individual reports whether the subject is a single developer.
func (s Subject) Individual() bool {
	return s.Name != ""
}

// DisplayName returns the subject's human-readable name.
func (s Subject) DisplayName() string {
	if s.Individual() {
		return s.Name
	}
	return s.TeamName
}

// IssueMetrics accumulates tracker-derived indicators for one subject.
// Averages carry their sample counts so that "no samples" is
// distinguishable from a zero average.
type IssueMetrics struct {
	AllIssues       int     `json:"all_issues_count"`
	TicketsClosed   int     `json:"tickets_closed"`
	BugsClosed      int     `json:"bugs_closed"`
	StoryPointsDone float64 `json:"story_points_done"`
	CommentTotal    int     `json:"comment_total"`
	FailedQA        int     `json:"failed_qa"`
	LoggedSeconds   int64   `json:"logged_seconds"`

	CycleTimeDaysTotal float64 `json:"cycle_time_days_total"`
	CycleTimeSamples   int     `json:"cycle_time_samples"`
	LeadTimeDaysTotal  float64 `json:"lead_time_days_total"`
	LeadTimeSamples    int     `json:"lead_time_samples"`
}

// AvgComments returns the mean comment count per issue.
func (m IssueMetrics) AvgComments() float64 {
	if m.AllIssues == 0 {
		return 0
	}
	return float64(m.CommentTotal) / float64(m.AllIssues)
}

// AvgCycleTimeDays returns the mean cycle time; ok is false when no
// issue contributed a sample.
func (m IssueMetrics) AvgCycleTimeDays() (float64, bool) {
	if m.CycleTimeSamples == 0 {
		return 0, false
	}
	return m.CycleTimeDaysTotal / float64(m.CycleTimeSamples), true
}

// AvgLeadTimeDays returns the mean lead time; ok is false when no issue
// contributed a sample.
func (m IssueMetrics) AvgLeadTimeDays() (float64, bool) {
	if m.LeadTimeSamples == 0 {
		return 0, false
	}
	return m.LeadTimeDaysTotal / float64(m.LeadTimeSamples), true
}

// CommitMetrics accumulates source-control indicators for one subject
// across the resolved repository set.
type CommitMetrics struct {
	Commits             int `json:"commits"`
	LinesAdded          int `json:"lines_added"`
	LinesDeleted        int `json:"lines_deleted"`
	FilesChanged        int `json:"files_changed"`
	PRsCreated          int `json:"prs_created"`
	PRsMerged           int `json:"prs_merged"`
	ReviewCommentsGiven int `json:"review_comments_given"`

	FilesByRepo map[string][]string `json:"files_by_repo,omitempty"`
}

// Rating is a letter grade derived from the quality service's numeric
// rating codes.
type Rating string

// RatingNotApplicable marks a rating the service did not report. Missing
// is deliberately distinct from any valid grade.
const RatingNotApplicable Rating = "N/A"

var ratingByCode = map[string]Rating{
	"1.0": "A",
	"2.0": "B",
	"3.0": "C",
	"4.0": "D",
	"5.0": "E",
}

// RatingFromCode maps a numeric rating code (1.0-5.0) to a letter grade.
func RatingFromCode(code string) Rating {
	if rating, ok := ratingByCode[code]; ok {
		return rating
	}
	return RatingNotApplicable
}

// OptionalInt is an integer metric where absence and zero are distinct.
type OptionalInt struct {
	Value int
	Valid bool
}

// MarshalJSON renders absent values as null.
func (o OptionalInt) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// OptionalFloat is a float metric where absence and zero are distinct.
type OptionalFloat struct {
	Value float64
	Valid bool
}

// MarshalJSON renders absent values as null.
func (o OptionalFloat) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

func optionalInt(raw string, ok bool) OptionalInt {
	if !ok {
		return OptionalInt{}
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return OptionalInt{}
	}
	return OptionalInt{Value: parsed, Valid: true}
}

func optionalFloat(raw string, ok bool) OptionalFloat {
	if !ok {
		return OptionalFloat{}
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return OptionalFloat{}
	}
	return OptionalFloat{Value: parsed, Valid: true}
}

// QualityRecord holds quality-service measures for one matched project.
type QualityRecord struct {
	ProjectKey         string        `json:"project_key"`
	Bugs               OptionalInt   `json:"bugs"`
	Vulnerabilities    OptionalInt   `json:"vulnerabilities"`
	CodeSmells         OptionalInt   `json:"code_smells"`
	LinesOfCode        OptionalInt   `json:"ncloc"`
	Coverage           OptionalFloat `json:"coverage"`
	DuplicationDensity OptionalFloat `json:"duplicated_lines_density"`
	QualityGate        string        `json:"quality_gate"`

	ReliabilityRating     Rating `json:"reliability_rating"`
	SecurityRating        Rating `json:"security_rating"`
	MaintainabilityRating Rating `json:"maintainability_rating"`
	SecurityReviewRating  Rating `json:"security_review_rating"`
}
