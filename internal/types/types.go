package types

import (
	"fmt"
	"time"
)

// Source identifies the tracking system an event was pulled from
type Source string

const (
	SourceJira       Source = "jira"
	SourceConfluence Source = "confluence"
	SourceGitHub     Source = "github"
)

// Sources lists every supported source in report order
var Sources = []Source{SourceJira, SourceConfluence, SourceGitHub}

// Valid reports whether s is one of the supported sources
func (s Source) Valid() bool {
	switch s {
	case SourceJira, SourceConfluence, SourceGitHub:
		return true
	}
	return false
}

// EventType is the normalized subtype of a contribution
type EventType string

const (
	EventStory       EventType = "story"
	EventBug         EventType = "bug"
	EventTask        EventType = "task"
	EventDocPage     EventType = "doc_page"
	EventPullRequest EventType = "pull_request"
	EventCommit      EventType = "commit"
	EventIssue       EventType = "issue"
)

// ContributionEvent is the canonical shape every raw record is normalized into.
// Values are never mutated after normalization.
type ContributionEvent struct {
	Source    Source    `json:"source"`
	Type      EventType `json:"event_type"`
	AuthorID  string    `json:"author_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	// TimeSpentHours is nil when no time was logged at the source.
	TimeSpentHours *float64 `json:"time_spent_hours,omitempty"`
	IsBug          bool     `json:"is_bug"`
	// RawRef points back at the source record and is never scored.
	RawRef string `json:"raw_ref"`
}

// TimeSpent returns the measured hours and whether a measurement exists
func (e ContributionEvent) TimeSpent() (float64, bool) {
	if e.TimeSpentHours == nil {
		return 0, false
	}
	return *e.TimeSpentHours, true
}

// Hours returns a pointer to h, for building events with measured time
func Hours(h float64) *float64 {
	return &h
}

// TimeWindow is the inclusive date range an evaluation covers
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window
func (w TimeWindow) Contains(t time.Time) bool {
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && t.After(w.End) {
		return false
	}
	return true
}

// DateLayout is the layout used for window bounds in queries and flags
const DateLayout = "2006-01-02"

// ParseWindow builds a window from YYYY-MM-DD bounds. The end date is
// inclusive, so End is set to the last instant of that day (UTC). Either
// bound may be empty.
func ParseWindow(start, end string) (TimeWindow, error) {
	var w TimeWindow
	if start != "" {
		t, err := time.Parse(DateLayout, start)
		if err != nil {
			return TimeWindow{}, fmt.Errorf("invalid start date %q: %w", start, err)
		}
		w.Start = t
	}
	if end != "" {
		t, err := time.Parse(DateLayout, end)
		if err != nil {
			return TimeWindow{}, fmt.Errorf("invalid end date %q: %w", end, err)
		}
		w.End = t.Add(24*time.Hour - time.Nanosecond)
	}
	if !w.Start.IsZero() && !w.End.IsZero() && w.End.Before(w.Start) {
		return TimeWindow{}, fmt.Errorf("end date %s is before start date %s", end, start)
	}
	return w, nil
}

// AbutsNow reports whether the window is open-ended or ends within slack of now,
// meaning upstream data for it may still change
func (w TimeWindow) AbutsNow(now time.Time, slack time.Duration) bool {
	return w.End.IsZero() || !w.End.Before(now.Add(-slack))
}
