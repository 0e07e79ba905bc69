package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/contrib-evaluator/internal/analysis"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/cache"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/evaluator"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/monitoring"
)

func reportWith(runID string, composites map[string]float64, order ...string) *evaluator.Report {
	r := &evaluator.Report{RunID: runID}
	for _, id := range order {
		r.Result.Users = append(r.Result.Users, analysis.UserResult{
			UserID: id,
			Result: analysis.EvaluationResult{Composite: composites[id], EventCount: 1},
		})
		r.Result.Composite += composites[id]
	}
	return r
}

func TestBuild_RanksByComposite(t *testing.T) {
	r := reportWith("run-1", map[string]float64{"alice": 10, "bob": 30, "carol": 10, "dave": 0}, "alice", "bob", "carol", "dave")
	board := Build(r)

	require.Equal(t, 4, board.Total)
	tests := []struct {
		user  string
		rank  int
		share float64
	}{
		{"bob", 1, 60},
		{"alice", 2, 20},
		{"carol", 2, 20},
		{"dave", 4, 0},
	}
	for i, tt := range tests {
		e := board.Entries[i]
		assert.Equal(t, tt.user, e.UserID)
		assert.Equal(t, tt.rank, e.Rank, tt.user)
		assert.InDelta(t, tt.share, e.Share, 1e-9, tt.user)
	}
	assert.Equal(t, "run-1", board.RunID)
}

func TestBuild_Empty(t *testing.T) {
	board := Build(&evaluator.Report{})
	assert.NotNil(t, board.Entries)
	assert.Zero(t, board.Total)

	board = Build(nil)
	assert.Empty(t, board.Entries)

	zero := Build(reportWith("r", map[string]float64{"a": 0}, "a"))
	assert.Equal(t, 0.0, zero.Entries[0].Share)
}

func TestBoard_TopAndRank(t *testing.T) {
	board := Build(reportWith("r", map[string]float64{"a": 3, "b": 2, "c": 1}, "a", "b", "c"))
	assert.Len(t, board.Top(2), 2)
	assert.Len(t, board.Top(0), 3)
	assert.Len(t, board.Top(10), 3)

	e, ok := board.Rank("c")
	require.True(t, ok)
	assert.Equal(t, 3, e.Rank)
	_, ok = board.Rank("zed")
	assert.False(t, ok)
}

func TestStore_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	store := NewStore(cache.NewMemoryBackend(), time.Hour, monitoring.Discard().Logger)

	r := reportWith("run-1", map[string]float64{"alice": 5}, "alice")
	store.Save(ctx, r)

	got, ok := store.Report(ctx, "run-1")
	require.True(t, ok)
	assert.Equal(t, 5.0, got.Result.Composite)

	board, ok := store.Board(ctx, "run-1")
	require.True(t, ok)
	assert.Equal(t, "alice", board.Entries[0].UserID)

	_, ok = store.Report(ctx, "missing")
	assert.False(t, ok)

	ids, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-1"}, ids)
}

func TestStore_Expires(t *testing.T) {
	ctx := context.Background()
	backend := cache.NewMemoryBackend()
	store := NewStore(backend, time.Minute, nil)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	store.Save(ctx, reportWith("old", nil))
	now = now.Add(2 * time.Minute)

	_, ok := store.Report(ctx, "old")
	assert.False(t, ok)

	_, found, err := backend.Load(ctx, "old")
	require.NoError(t, err)
	assert.False(t, found, "expired reports are evicted on read")
}

type failingBackend struct{ *cache.MemoryBackend }

func (f *failingBackend) Store(context.Context, cache.Entry) error { return errors.New("disk full") }

func TestStore_SaveFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	store := NewStore(&failingBackend{cache.NewMemoryBackend()}, 0, monitoring.Discard().Logger)
	store.Save(ctx, reportWith("run-1", nil))

	_, ok := store.Report(ctx, "run-1")
	assert.False(t, ok)
}

func TestStore_RecentIgnoresCachedResponses(t *testing.T) {
	ctx := context.Background()
	sqlite, err := cache.OpenSQLite(filepath.Join(t.TempDir(), "http_cache.db"))
	require.NoError(t, err)
	defer sqlite.Close()
	reports, err := sqlite.Partition(cache.PartitionReports)
	require.NoError(t, err)

	store := NewStore(reports, time.Hour, monitoring.Discard().Logger)
	store.Save(ctx, reportWith("run-a", nil))

	responses := cache.NewPersistent(sqlite, nil, nil)
	for i := 0; i < 25; i++ {
		responses.Put(ctx, fmt.Sprintf("fp-%02d", i), []byte("{}"), 200, time.Now())
	}
	store.Save(ctx, reportWith("run-b", nil))

	ids, err := store.Recent(ctx, 20)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"run-a", "run-b"}, ids)

	stats, err := sqlite.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(25), stats.Count)
}

func TestStore_SaveOutlivesExpiredContext(t *testing.T) {
	sqlite, err := cache.OpenSQLite(filepath.Join(t.TempDir(), "http_cache.db"))
	require.NoError(t, err)
	defer sqlite.Close()
	reports, err := sqlite.Partition(cache.PartitionReports)
	require.NoError(t, err)
	store := NewStore(reports, time.Hour, monitoring.Discard().Logger)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	r := reportWith("run-late", map[string]float64{"alice": 2}, "alice")
	r.Partial = true
	store.Save(ctx, r)

	got, ok := store.Report(context.Background(), "run-late")
	require.True(t, ok)
	assert.True(t, got.Partial)
}
