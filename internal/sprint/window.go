package sprint

import "time"

// WindowKind distinguishes explicit sprint windows from named rolling
// windows resolved by the issue tracker's own query language.
type WindowKind string

const (
	// KindSprint is an explicit "YYYY.NN" sprint window.
	KindSprint WindowKind = "sprint"
	// KindOpenSprints is the "currently open sprints" rolling window.
	KindOpenSprints WindowKind = "open_sprints"
	// KindYearToDate is the "since start of year" rolling window.
	KindYearToDate WindowKind = "year_to_date"
)

// Window is a resolved reporting window. Start and End are zero for the
// named rolling windows; those are filtered by the issue tracker query
// instead of by date range.
type Window struct {
	Kind     WindowKind
	SprintID string
	Start    time.Time
	End      time.Time
}

// Rolling reports whether the window has no explicit date range.
func (w Window) Rolling() bool {
	return w.Kind != KindSprint
}

// ResolveWindow maps a caller-supplied window spec to a Window. Specs are
// either one of the named rolling windows or a sprint id; a malformed
// sprint id falls back to the sprint containing now.
func (c *Calendar) ResolveWindow(spec string, now time.Time) Window {
	switch WindowKind(spec) {
	case KindOpenSprints:
		return Window{Kind: KindOpenSprints}
	case KindYearToDate:
		return Window{Kind: KindYearToDate}
	}

	id := spec
	if _, err := Parse(id); err != nil {
		id = c.ForDate(now).ID()
	}
	start, end, _ := c.Range(id)
	return Window{
		Kind:     KindSprint,
		SprintID: id,
		Start:    start,
		End:      end,
	}
}
