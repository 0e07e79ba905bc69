package analysis

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/contrib-evaluator/internal/normalize"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/types"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/weights"
)

var t0 = time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

func equalWeights() weights.Weights {
	w := weights.Weights{}
	for _, d := range types.Dimensions {
		w[d] = 1
	}
	return w
}

func newEngine(t *testing.T, w weights.Weights) *Engine {
	t.Helper()
	e, err := NewEngine(w)
	require.NoError(t, err)
	return e
}

func event(source types.Source, eventType types.EventType, ref string) types.ContributionEvent {
	return types.ContributionEvent{
		Source:    source,
		Type:      eventType,
		CreatedAt: t0,
		UpdatedAt: t0.Add(time.Hour),
		IsBug:     eventType == types.EventBug,
		RawRef:    ref,
	}
}

func TestScoreEvent_Table(t *testing.T) {
	tests := []struct {
		name     string
		event    types.ContributionEvent
		expected MetricScore
	}{
		{
			name:  "jira story with logged time",
			event: func() types.ContributionEvent { e := event(types.SourceJira, types.EventStory, "A-1"); e.TimeSpentHours = types.Hours(4); return e }(),
			expected: MetricScore{Scores: Scores{
				Involvement: 1, Significance: 5, Effectiveness: 1, Complexity: 5, TimeRequired: 4,
			}},
		},
		{
			name:  "jira bug without logged time",
			event: event(types.SourceJira, types.EventBug, "A-2"),
			expected: MetricScore{Scores: Scores{
				Involvement: 1, Significance: 2, Effectiveness: 0, Complexity: 2, TimeRequired: 0, BugCount: 1,
			}, TimeEstimated: true},
		},
		{
			name:  "jira task with zero logged time is measured",
			event: func() types.ContributionEvent { e := event(types.SourceJira, types.EventTask, "A-3"); e.TimeSpentHours = types.Hours(0); return e }(),
			expected: MetricScore{Scores: Scores{
				Involvement: 1, Significance: 2, Effectiveness: 1, Complexity: 3,
			}},
		},
		{
			name:  "github pull request uses default time",
			event: event(types.SourceGitHub, types.EventPullRequest, "pr"),
			expected: MetricScore{Scores: Scores{
				Involvement: 1, Significance: 5, Effectiveness: 1, Complexity: 5, TimeRequired: 2,
			}, TimeEstimated: true},
		},
		{
			name:  "github commit",
			event: event(types.SourceGitHub, types.EventCommit, "sha"),
			expected: MetricScore{Scores: Scores{
				Involvement: 1, Significance: 2, Effectiveness: 1, Complexity: 3, TimeRequired: 1,
			}, TimeEstimated: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ScoreEvent(tt.event))
		})
	}
}

func TestAggregate_ScenarioA(t *testing.T) {
	e := newEngine(t, equalWeights())
	story := event(types.SourceJira, types.EventStory, "PROJ-1")
	story.TimeSpentHours = types.Hours(4)

	r := e.Aggregate([]types.ContributionEvent{story})
	assert.Equal(t, Scores{
		Involvement: 1, Significance: 5, Complexity: 5, Effectiveness: 1, TimeRequired: 4, BugCount: 0,
	}, r.Totals)
	assert.Equal(t, 16.0, r.Composite)
	assert.Equal(t, 1, r.EventCount)
	assert.Equal(t, 0, r.EstimatedTimeEvents)
}

func TestAggregate_ScenarioB(t *testing.T) {
	ev, warnings := normalize.GitHub(types.GitHubItem{
		Kind:      "issue",
		Number:    42,
		Title:     "Fix bug in parser",
		CreatedAt: "2024-01-10T09:00:00Z",
	})
	require.Empty(t, warnings)
	assert.True(t, ev.IsBug)

	s := ScoreEvent(ev)
	assert.Equal(t, 0.0, s.Effectiveness)
	assert.Equal(t, 1.0, s.BugCount)
	assert.Equal(t, 0.5, s.TimeRequired)
}

func TestAggregate_ScenarioC(t *testing.T) {
	e := newEngine(t, equalWeights())
	events := []types.ContributionEvent{
		event(types.SourceJira, types.EventBug, "PROJ-2"),
		event(types.SourceConfluence, types.EventDocPage, "page-1"),
		event(types.SourceGitHub, types.EventPullRequest, "pr-1"),
	}
	events[1].TimeSpentHours = types.Hours(0.5)

	r := e.Aggregate(events)
	assert.Equal(t, 3.0, r.Totals.Involvement)
	assert.Equal(t, 1.0, r.Totals.BugCount)

	sum := 0.0
	for _, d := range types.Dimensions {
		sum += r.Totals.Get(d)
	}
	assert.Equal(t, sum, r.Composite)
	assert.Equal(t, 26.5, r.Composite)
}

func TestAggregate_Empty(t *testing.T) {
	for _, w := range []weights.Weights{equalWeights(), mustBase(t)} {
		r := newEngine(t, w).Aggregate(nil)
		assert.Equal(t, Scores{}, r.Totals)
		assert.Equal(t, 0.0, r.Composite)
		assert.Equal(t, 0, r.EventCount)
		assert.Empty(t, r.Skipped)
	}
}

func mustBase(t *testing.T) weights.Weights {
	w, err := weights.Default().LoadBase()
	require.NoError(t, err)
	return w
}

func TestAggregate_OrderIndependent(t *testing.T) {
	e := newEngine(t, mustBase(t))
	var events []types.ContributionEvent
	for i := 0; i < 30; i++ {
		ev := event(types.Sources[i%3], types.DefaultType(types.Sources[i%3]), "ref")
		if i%4 == 0 {
			ev.TimeSpentHours = types.Hours(float64(i) / 7)
		}
		ev.IsBug = i%5 == 0
		events = append(events, ev)
	}

	expected := e.Aggregate(events)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 10; i++ {
		shuffled := append([]types.ContributionEvent(nil), events...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got := e.Aggregate(shuffled)
		assert.Equal(t, expected.Totals, got.Totals)
		assert.Equal(t, expected.Composite, got.Composite)
	}
}

func TestAggregate_SkipsInvalidEvents(t *testing.T) {
	e := newEngine(t, equalWeights())

	backwards := event(types.SourceJira, types.EventTask, "PROJ-9")
	backwards.UpdatedAt = t0.Add(-time.Hour)

	negative := event(types.SourceJira, types.EventTask, "PROJ-10")
	negative.TimeSpentHours = types.Hours(-1)

	wrongType := event(types.SourceConfluence, types.EventStory, "page-2")
	unknownSource := event(types.Source("gitlab"), types.EventCommit, "x")

	good := event(types.SourceJira, types.EventTask, "PROJ-11")

	r := e.Aggregate([]types.ContributionEvent{backwards, negative, good, wrongType, unknownSource})
	assert.Equal(t, 1, r.EventCount)
	require.Equal(t, 4, r.SkippedCount())
	assert.Equal(t, "PROJ-9", r.Skipped[0].RawRef)
	assert.Equal(t, "updated_at precedes created_at", r.Skipped[0].Reason)
	assert.Equal(t, "PROJ-10", r.Skipped[1].RawRef)
	assert.Equal(t, 1.0, r.Totals.Involvement)
}

func TestAggregateMulti_RollupEqualsSumOfUsers(t *testing.T) {
	e := newEngine(t, mustBase(t))
	alice := []types.ContributionEvent{
		event(types.SourceJira, types.EventStory, "A-1"),
		event(types.SourceGitHub, types.EventCommit, "sha1"),
	}
	bob := []types.ContributionEvent{
		event(types.SourceConfluence, types.EventDocPage, "p-1"),
		event(types.SourceJira, types.EventBug, "B-1"),
		event(types.SourceGitHub, types.EventPullRequest, "pr-7"),
	}

	r := e.AggregateMulti([]UserEvents{{UserID: "alice", Events: alice}, {UserID: "bob", Events: bob}})
	require.Len(t, r.Users, 2)
	assert.Equal(t, "alice", r.Users[0].UserID)
	assert.Equal(t, "bob", r.Users[1].UserID)

	a, ok := r.User("alice")
	require.True(t, ok)
	b, ok := r.User("bob")
	require.True(t, ok)

	for _, d := range types.Dimensions {
		assert.InDelta(t, a.Totals.Get(d)+b.Totals.Get(d), r.Totals.Get(d), 1e-9, d)
	}
	assert.InDelta(t, a.Composite+b.Composite, r.Composite, 1e-9)
	assert.Equal(t, 5, r.EventCount)

	_, ok = r.User("carol")
	assert.False(t, ok)
}

func TestAggregateMulti_StableOrderAndMerge(t *testing.T) {
	e := newEngine(t, equalWeights())
	input := []UserEvents{
		{UserID: "zed", Events: []types.ContributionEvent{event(types.SourceJira, types.EventTask, "Z-1")}},
		{UserID: "amy"},
		{UserID: "zed", Events: []types.ContributionEvent{event(types.SourceJira, types.EventTask, "Z-2")}},
	}

	for i := 0; i < 5; i++ {
		r := e.AggregateMulti(input)
		require.Len(t, r.Users, 2)
		assert.Equal(t, "zed", r.Users[0].UserID)
		assert.Equal(t, "amy", r.Users[1].UserID)
		assert.Equal(t, 2, r.Users[0].Result.EventCount)
		assert.Equal(t, 0.0, r.Users[1].Result.Composite)
	}
	assert.Len(t, input[0].Events, 1, "input is not mutated")
}

func TestAggregateMulti_Empty(t *testing.T) {
	r := newEngine(t, equalWeights()).AggregateMulti(nil)
	assert.Equal(t, 0.0, r.Composite)
	assert.Empty(t, r.Users)
}

func TestEngine_ConcurrentUse(t *testing.T) {
	e := newEngine(t, mustBase(t))
	events := []types.ContributionEvent{event(types.SourceJira, types.EventStory, "A-1")}
	expected := e.Aggregate(events)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, expected, e.Aggregate(events))
		}()
	}
	wg.Wait()
}

func TestNewEngine_RejectsInvalidWeights(t *testing.T) {
	w := equalWeights()
	delete(w, types.DimBugCount)
	_, err := NewEngine(w)
	assert.Error(t, err)

	w = equalWeights()
	w[types.DimComplexity] = -2
	_, err = NewEngine(w)
	assert.Error(t, err)
}

func TestEngine_WeightsAreCopied(t *testing.T) {
	w := equalWeights()
	e := newEngine(t, w)
	w[types.DimSignificance] = 10
	assert.Equal(t, 1.0, e.Weights()[types.DimSignificance])
}

func TestScoreEvents(t *testing.T) {
	e := newEngine(t, equalWeights())
	bad := event(types.SourceJira, types.EventTask, "bad")
	bad.UpdatedAt = t0.Add(-time.Minute)

	scores := e.ScoreEvents([]types.ContributionEvent{
		event(types.SourceGitHub, types.EventPullRequest, "pr-1"),
		bad,
		event(types.SourceJira, types.EventBug, "B-1"),
	})
	require.Len(t, scores, 2)
	assert.Equal(t, "pr-1", scores[0].RawRef)
	assert.Equal(t, 14.0, scores[0].Composite)
	assert.Equal(t, "B-1", scores[1].RawRef)
	assert.Equal(t, 6.0, scores[1].Composite)
}

func TestEvaluationResult_ToMap(t *testing.T) {
	e := newEngine(t, equalWeights())
	bad := event(types.SourceJira, types.EventTask, "bad")
	bad.UpdatedAt = t0.Add(-time.Minute)

	r := e.AggregateMulti([]UserEvents{
		{UserID: "alice", Events: []types.ContributionEvent{event(types.SourceJira, types.EventStory, "A-1"), bad}},
	})
	m := r.ToMap()

	totals, ok := m["totals"].(map[string]interface{})
	require.True(t, ok)
	assert.Len(t, totals, len(types.Dimensions))
	assert.Equal(t, 1.0, totals["involvement"])
	assert.Equal(t, 1, m["skipped_count"])

	users, ok := m["users"].([]interface{})
	require.True(t, ok)
	require.Len(t, users, 1)
	first := users[0].(map[string]interface{})
	assert.Equal(t, "alice", first["user_id"])
	_, nested := first["result"].(map[string]interface{})["users"]
	assert.False(t, nested, "per-user results carry no breakdown")
}
