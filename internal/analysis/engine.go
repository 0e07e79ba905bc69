package analysis

import (
	"fmt"

	apperrors "github.com/ZanzyTHEbar/contrib-evaluator/internal/errors"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/types"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/weights"
)

// Engine scores and aggregates events under one resolved weight mapping.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	weights weights.Weights
}

// NewEngine validates w and returns an engine bound to a copy of it
func NewEngine(w weights.Weights) (*Engine, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Engine{weights: w.Clone()}, nil
}

// Weights returns a copy of the engine's weights
func (e *Engine) Weights() weights.Weights {
	return e.weights.Clone()
}

// Validate reports why ev cannot be aggregated, or nil
func Validate(ev types.ContributionEvent) *apperrors.AppError {
	switch {
	case !ev.Source.Valid():
		return apperrors.NewAggregationInputError(ev.RawRef, fmt.Sprintf("unknown source %q", ev.Source))
	case !types.Supports(ev.Source, ev.Type):
		return apperrors.NewAggregationInputError(ev.RawRef, fmt.Sprintf("event type %q is not a %s type", ev.Type, ev.Source))
	case ev.UpdatedAt.Before(ev.CreatedAt):
		return apperrors.NewAggregationInputError(ev.RawRef, "updated_at precedes created_at")
	}
	if h, ok := ev.TimeSpent(); ok && (!finite(h) || h < 0) {
		return apperrors.NewAggregationInputError(ev.RawRef, fmt.Sprintf("invalid time_spent_hours %v", h))
	}
	return nil
}

// ScoreEvents scores every valid event, keeping input order
func (e *Engine) ScoreEvents(events []types.ContributionEvent) []EventScore {
	out := make([]EventScore, 0, len(events))
	for _, ev := range events {
		if Validate(ev) != nil {
			continue
		}
		s := ScoreEvent(ev)
		out = append(out, EventScore{
			Source:    ev.Source,
			Type:      ev.Type,
			Title:     ev.Title,
			RawRef:    ev.RawRef,
			Score:     s,
			Composite: Composite(s.Scores, e.weights),
		})
	}
	return out
}

// Aggregate sums the scores of events and applies the weights. Invalid events
// are skipped and listed; zero events yield an all-zero result.
func (e *Engine) Aggregate(events []types.ContributionEvent) EvaluationResult {
	acc := newAccumulator(len(events))
	var result EvaluationResult

	for _, ev := range events {
		if err := Validate(ev); err != nil {
			result.Skipped = append(result.Skipped, SkippedEvent{
				Source: ev.Source,
				RawRef: ev.RawRef,
				Reason: err.Msg,
			})
			continue
		}
		s := ScoreEvent(ev)
		acc.Add(s.Scores)
		result.EventCount++
		if s.TimeEstimated {
			result.EstimatedTimeEvents++
		}
	}

	result.Totals = acc.Totals()
	result.Composite = Composite(result.Totals, e.weights)
	return result
}

// AggregateMulti aggregates each user separately and rolls all events up.
// The breakdown keeps the input order; a repeated user id is merged into
// its first occurrence.
func (e *Engine) AggregateMulti(users []UserEvents) EvaluationResult {
	index := make(map[string]int, len(users))
	var merged []UserEvents
	for _, u := range users {
		if i, ok := index[u.UserID]; ok {
			merged[i].Events = append(merged[i].Events, u.Events...)
			continue
		}
		index[u.UserID] = len(merged)
		merged = append(merged, UserEvents{
			UserID: u.UserID,
			Events: append([]types.ContributionEvent(nil), u.Events...),
		})
	}

	var all []types.ContributionEvent
	breakdown := make([]UserResult, 0, len(merged))
	for _, u := range merged {
		breakdown = append(breakdown, UserResult{UserID: u.UserID, Result: e.Aggregate(u.Events)})
		all = append(all, u.Events...)
	}

	rollup := e.Aggregate(all)
	rollup.Users = breakdown
	return rollup
}
