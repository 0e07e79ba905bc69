package analysis

import (
	"math"
	"sort"

	"github.com/ZanzyTHEbar/contrib-evaluator/internal/types"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/weights"
)

// ScoreEvent derives the per-dimension scores of e from its profile.
// Involvement is one per event so that aggregate involvement is the event count.
func ScoreEvent(e types.ContributionEvent) MetricScore {
	profile, _ := types.ProfileFor(e.Source, e.Type)

	s := MetricScore{
		Scores: Scores{
			Involvement:   1,
			Significance:  profile.Significance,
			Complexity:    profile.Complexity,
			Effectiveness: 1,
		},
	}
	if e.IsBug {
		s.Effectiveness = 0
		s.BugCount = 1
	}

	if h, ok := e.TimeSpent(); ok {
		s.TimeRequired = h
	} else {
		s.TimeRequired = profile.DefaultHours
		s.TimeEstimated = true
	}
	return s
}

// Composite returns Σ weight[d]·scores[d] over all dimensions
func Composite(s Scores, w weights.Weights) float64 {
	total := 0.0
	for _, d := range types.Dimensions {
		total += w.Get(d) * s.Get(d)
	}
	return total
}

// accumulator sums per-dimension values independently of insertion order
type accumulator struct {
	values map[types.Dimension][]float64
}

func newAccumulator(capacity int) *accumulator {
	values := make(map[types.Dimension][]float64, len(types.Dimensions))
	for _, d := range types.Dimensions {
		values[d] = make([]float64, 0, capacity)
	}
	return &accumulator{values: values}
}

func (a *accumulator) Add(s Scores) {
	for _, d := range types.Dimensions {
		a.values[d] = append(a.values[d], s.Get(d))
	}
}

func (a *accumulator) Totals() Scores {
	var out Scores
	for _, d := range types.Dimensions {
		out.set(d, stableSum(a.values[d]))
	}
	return out
}

// stableSum adds xs in sorted order so that any permutation of the
// same values yields the same float64
func stableSum(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	cp := append([]float64(nil), xs...)
	sort.Float64s(cp)
	total := 0.0
	for _, v := range cp {
		total += v
	}
	return total
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
