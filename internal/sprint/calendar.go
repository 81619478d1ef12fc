// Package sprint converts between calendar dates and sprint identifiers.
//
// A sprint id is "YYYY.NN" (zero-padded sprint number). Sprint boundaries
// are derived arithmetically from a fixed anchor sprint and its start date;
// every year is treated as exactly 52 sprints of a fixed length.
package sprint

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrBadID reports a sprint id that does not match "year.number".
var ErrBadID = errors.New("sprint: malformed sprint id")

const sprintsPerYear = 52

// Sprint is one reporting period.
type Sprint struct {
	Year   int
	Number int
}

// ID renders the canonical "YYYY.NN" identifier with a zero-padded number.
func (s Sprint) ID() string {
	return fmt.Sprintf("%d.%02d", s.Year, s.Number)
}

// Parse parses a "year.number" sprint id.
func Parse(id string) (Sprint, error) {
	parts := strings.SplitN(strings.TrimSpace(id), ".", 2)
	if len(parts) != 2 {
		return Sprint{}, fmt.Errorf("%w: %q", ErrBadID, id)
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return Sprint{}, fmt.Errorf("%w: %q", ErrBadID, id)
	}
	number, err := strconv.Atoi(parts[1])
	if err != nil || number < 1 || number > sprintsPerYear {
		return Sprint{}, fmt.Errorf("%w: %q", ErrBadID, id)
	}
	return Sprint{Year: year, Number: number}, nil
}

// Calendar performs sprint date arithmetic against a fixed anchor.
type Calendar struct {
	anchor      Sprint
	anchorStart time.Time
	length      time.Duration
	lengthDays  int
}

// CalendarConfig configures the sprint anchor and length.
type CalendarConfig struct {
	AnchorID    string
	AnchorStart time.Time
	LengthDays  int
}

// NewCalendar creates a calendar from an anchor sprint id and start date.
func NewCalendar(cfg CalendarConfig) (*Calendar, error) {
	anchor, err := Parse(cfg.AnchorID)
	if err != nil {
		return nil, fmt.Errorf("parse anchor sprint: %w", err)
	}
	if cfg.AnchorStart.IsZero() {
		return nil, fmt.Errorf("anchor start date is required")
	}
	lengthDays := cfg.LengthDays
	if lengthDays <= 0 {
		lengthDays = 14
	}
	return &Calendar{
		anchor:      anchor,
		anchorStart: cfg.AnchorStart.UTC().Truncate(24 * time.Hour),
		length:      time.Duration(lengthDays) * 24 * time.Hour,
		lengthDays:  lengthDays,
	}, nil
}

// LengthDays reports the fixed sprint length in days.
func (c *Calendar) LengthDays() int {
	return c.lengthDays
}

// Range returns the inclusive start and end dates for one sprint id.
func (c *Calendar) Range(id string) (time.Time, time.Time, error) {
	target, err := Parse(id)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	offset := (target.Year-c.anchor.Year)*sprintsPerYear + (target.Number - c.anchor.Number)
	start := c.anchorStart.Add(time.Duration(offset) * c.length)
	end := start.Add(c.length - 24*time.Hour)
	return start, end, nil
}

// ForDate returns the sprint containing the given date.
func (c *Calendar) ForDate(date time.Time) Sprint {
	days := int(date.UTC().Truncate(24*time.Hour).Sub(c.anchorStart).Hours() / 24)
	offset := days / c.lengthDays
	if days < 0 && days%c.lengthDays != 0 {
		offset--
	}

	number := c.anchor.Number + offset
	year := c.anchor.Year
	for number > sprintsPerYear {
		number -= sprintsPerYear
		year++
	}
	for number < 1 {
		number += sprintsPerYear
		year--
	}
	return Sprint{Year: year, Number: number}
}

// Previous returns the n sprints before the one containing now, most
// recent first, rolling the year down across the sprint-1 boundary.
func (c *Calendar) Previous(n int, now time.Time) []Sprint {
	if n <= 0 {
		return nil
	}
	current := c.ForDate(now)

	result := make([]Sprint, 0, n)
	for i := 1; i <= n; i++ {
		number := current.Number - i
		year := current.Year
		for number < 1 {
			number += sprintsPerYear
			year--
		}
		result = append(result, Sprint{Year: year, Number: number})
	}
	return result
}
