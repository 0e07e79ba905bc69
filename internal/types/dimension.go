package types

// Dimension is one independently scored axis of a contribution
type Dimension string

const (
	DimInvolvement   Dimension = "involvement"
	DimSignificance  Dimension = "significance"
	DimEffectiveness Dimension = "effectiveness"
	DimComplexity    Dimension = "complexity"
	DimTimeRequired  Dimension = "time_required"
	DimBugCount      Dimension = "bug_count"
)

// Dimensions lists every dimension in report order
var Dimensions = []Dimension{
	DimInvolvement,
	DimSignificance,
	DimEffectiveness,
	DimComplexity,
	DimTimeRequired,
	DimBugCount,
}

// ParseDimension returns the dimension named s
func ParseDimension(s string) (Dimension, bool) {
	for _, d := range Dimensions {
		if string(d) == s {
			return d, true
		}
	}
	return "", false
}
