package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSource_Valid(t *testing.T) {
	for _, s := range Sources {
		assert.True(t, s.Valid(), "source %s", s)
	}
	assert.False(t, Source("gitlab").Valid())
	assert.False(t, Source("").Valid())
}

func TestProfileFor_Table(t *testing.T) {
	tests := []struct {
		source       Source
		eventType    EventType
		significance float64
		complexity   float64
		hours        float64
	}{
		{SourceJira, EventStory, 5, 5, 0},
		{SourceJira, EventBug, 2, 2, 0},
		{SourceJira, EventTask, 2, 3, 0},
		{SourceConfluence, EventDocPage, 2, 2, 0.5},
		{SourceGitHub, EventPullRequest, 5, 5, 2.0},
		{SourceGitHub, EventCommit, 2, 3, 1.0},
		{SourceGitHub, EventIssue, 2, 2, 0.5},
	}

	for _, tt := range tests {
		t.Run(string(tt.source)+"/"+string(tt.eventType), func(t *testing.T) {
			p, ok := ProfileFor(tt.source, tt.eventType)
			assert.True(t, ok)
			assert.Equal(t, tt.significance, p.Significance)
			assert.Equal(t, tt.complexity, p.Complexity)
			assert.Equal(t, tt.hours, p.DefaultHours)
		})
	}
}

func TestProfileFor_UnknownPair(t *testing.T) {
	_, ok := ProfileFor(SourceJira, EventPullRequest)
	assert.False(t, ok)
	assert.False(t, Supports(SourceConfluence, EventStory))
}

func TestDefaultType_IsSupported(t *testing.T) {
	for _, s := range Sources {
		assert.True(t, Supports(s, DefaultType(s)), "default type for %s", s)
	}
	assert.Equal(t, EventTask, DefaultType(SourceJira))
	assert.Equal(t, EventIssue, DefaultType(SourceGitHub))
}

func TestContributionEvent_TimeSpent(t *testing.T) {
	var e ContributionEvent
	_, ok := e.TimeSpent()
	assert.False(t, ok)

	e.TimeSpentHours = Hours(0)
	h, ok := e.TimeSpent()
	assert.True(t, ok)
	assert.Equal(t, 0.0, h)
}

func TestTimeWindow_Contains(t *testing.T) {
	w := TimeWindow{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC),
	}
	assert.True(t, w.Contains(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)))
	assert.False(t, w.Contains(time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)))
	assert.False(t, w.Contains(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, TimeWindow{}.Contains(time.Now()))
}

func TestParseWindow(t *testing.T) {
	w, err := ParseWindow("2024-01-01", "2024-01-31")
	assert.NoError(t, err)
	assert.True(t, w.Contains(time.Date(2024, 1, 31, 18, 0, 0, 0, time.UTC)), "end date is inclusive")
	assert.False(t, w.Contains(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)))

	_, err = ParseWindow("2024-02-01", "2024-01-01")
	assert.Error(t, err)
	_, err = ParseWindow("01/02/2024", "")
	assert.Error(t, err)

	open, err := ParseWindow("", "")
	assert.NoError(t, err)
	assert.True(t, open.Start.IsZero())
}

func TestTimeWindow_AbutsNow(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	assert.True(t, TimeWindow{}.AbutsNow(now, time.Hour))
	assert.True(t, TimeWindow{End: now.Add(-30 * time.Minute)}.AbutsNow(now, time.Hour))
	assert.False(t, TimeWindow{End: now.Add(-48 * time.Hour)}.AbutsNow(now, time.Hour))
}

func TestParseDimension(t *testing.T) {
	for _, d := range Dimensions {
		got, ok := ParseDimension(string(d))
		assert.True(t, ok)
		assert.Equal(t, d, got)
	}
	_, ok := ParseDimension("bugs_and_fixes")
	assert.False(t, ok)
}
