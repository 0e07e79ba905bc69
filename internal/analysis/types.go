package analysis

import (
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/types"
)

// Scores holds one value per dimension
type Scores struct {
	Involvement   float64 `json:"involvement"`
	Significance  float64 `json:"significance"`
	Effectiveness float64 `json:"effectiveness"`
	Complexity    float64 `json:"complexity"`
	TimeRequired  float64 `json:"time_required"`
	BugCount      float64 `json:"bug_count"`
}

// Get returns the value of dimension d
func (s Scores) Get(d types.Dimension) float64 {
	switch d {
	case types.DimInvolvement:
		return s.Involvement
	case types.DimSignificance:
		return s.Significance
	case types.DimEffectiveness:
		return s.Effectiveness
	case types.DimComplexity:
		return s.Complexity
	case types.DimTimeRequired:
		return s.TimeRequired
	case types.DimBugCount:
		return s.BugCount
	}
	return 0
}

func (s *Scores) set(d types.Dimension, v float64) {
	switch d {
	case types.DimInvolvement:
		s.Involvement = v
	case types.DimSignificance:
		s.Significance = v
	case types.DimEffectiveness:
		s.Effectiveness = v
	case types.DimComplexity:
		s.Complexity = v
	case types.DimTimeRequired:
		s.TimeRequired = v
	case types.DimBugCount:
		s.BugCount = v
	}
}

// ToMap returns the scores keyed by dimension name
func (s Scores) ToMap() map[string]interface{} {
	out := make(map[string]interface{}, len(types.Dimensions))
	for _, d := range types.Dimensions {
		out[string(d)] = s.Get(d)
	}
	return out
}

// MetricScore is the per-event scoring of one contribution
type MetricScore struct {
	Scores
	// TimeEstimated is true when TimeRequired is the profile default
	// rather than logged time.
	TimeEstimated bool `json:"time_estimated"`
}

// EventScore pairs a scored event with its weighted value
type EventScore struct {
	Source    types.Source    `json:"source"`
	Type      types.EventType `json:"event_type"`
	Title     string          `json:"title"`
	RawRef    string          `json:"raw_ref"`
	Score     MetricScore     `json:"score"`
	Composite float64         `json:"composite"`
}

// SkippedEvent is an event rejected during aggregation
type SkippedEvent struct {
	Source types.Source `json:"source"`
	RawRef string       `json:"raw_ref"`
	Reason string       `json:"reason"`
}

// UserEvents is the input for one user of a multi-user aggregation
type UserEvents struct {
	UserID string
	Events []types.ContributionEvent
}

// UserResult is one entry of the per-user breakdown
type UserResult struct {
	UserID string           `json:"user_id"`
	Result EvaluationResult `json:"result"`
}

// EvaluationResult is the aggregate over a set of events
type EvaluationResult struct {
	Totals     Scores  `json:"totals"`
	Composite  float64 `json:"composite"`
	EventCount int     `json:"event_count"`
	// EstimatedTimeEvents counts events whose time came from a default
	EstimatedTimeEvents int            `json:"estimated_time_events"`
	Skipped             []SkippedEvent `json:"skipped,omitempty"`
	// Users is the per-user breakdown in input order, set by AggregateMulti
	Users []UserResult `json:"users,omitempty"`
}

// SkippedCount returns the number of rejected events
func (r EvaluationResult) SkippedCount() int {
	return len(r.Skipped)
}

// User returns the breakdown entry for id
func (r EvaluationResult) User(id string) (EvaluationResult, bool) {
	for _, u := range r.Users {
		if u.UserID == id {
			return u.Result, true
		}
	}
	return EvaluationResult{}, false
}

// ToMap renders the result as nested maps and slices of primitives
func (r EvaluationResult) ToMap() map[string]interface{} {
	skipped := make([]interface{}, 0, len(r.Skipped))
	for _, s := range r.Skipped {
		skipped = append(skipped, map[string]interface{}{
			"source":  string(s.Source),
			"raw_ref": s.RawRef,
			"reason":  s.Reason,
		})
	}

	out := map[string]interface{}{
		"totals":                r.Totals.ToMap(),
		"composite":             r.Composite,
		"event_count":           r.EventCount,
		"estimated_time_events": r.EstimatedTimeEvents,
		"skipped_count":         len(r.Skipped),
		"skipped":               skipped,
	}

	if r.Users != nil {
		users := make([]interface{}, 0, len(r.Users))
		for _, u := range r.Users {
			users = append(users, map[string]interface{}{
				"user_id": u.UserID,
				"result":  u.Result.ToMap(),
			})
		}
		out["users"] = users
	}
	return out
}
