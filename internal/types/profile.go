package types

// Profile holds the fixed scoring attributes of a source/type pair
type Profile struct {
	Significance float64
	Complexity   float64
	// DefaultHours is used when an event carries no measured time.
	DefaultHours float64
}

type profileKey struct {
	source    Source
	eventType EventType
}

var profiles = map[profileKey]Profile{
	{SourceJira, EventStory}: {Significance: 5, Complexity: 5},
	{SourceJira, EventBug}:   {Significance: 2, Complexity: 2},
	{SourceJira, EventTask}:  {Significance: 2, Complexity: 3},

	{SourceConfluence, EventDocPage}: {Significance: 2, Complexity: 2, DefaultHours: 0.5},

	{SourceGitHub, EventPullRequest}: {Significance: 5, Complexity: 5, DefaultHours: 2.0},
	{SourceGitHub, EventCommit}:      {Significance: 2, Complexity: 3, DefaultHours: 1.0},
	{SourceGitHub, EventIssue}:       {Significance: 2, Complexity: 2, DefaultHours: 0.5},
}

// defaultTypes is the lowest-significance non-bug bucket per source
var defaultTypes = map[Source]EventType{
	SourceJira:       EventTask,
	SourceConfluence: EventDocPage,
	SourceGitHub:     EventIssue,
}

// ProfileFor returns the scoring profile for a source/type pair.
// The second result is false when the pair is not part of the table.
func ProfileFor(source Source, eventType EventType) (Profile, bool) {
	p, ok := profiles[profileKey{source, eventType}]
	return p, ok
}

// DefaultType returns the type unknown subtypes of source degrade to
func DefaultType(source Source) EventType {
	return defaultTypes[source]
}

// Supports reports whether eventType is a known subtype of source
func Supports(source Source, eventType EventType) bool {
	_, ok := profiles[profileKey{source, eventType}]
	return ok
}
