package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/contrib-evaluator/internal/monitoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint_QueryOrderIndependent(t *testing.T) {
	a := Fingerprint(Request{
		Method: "get",
		URL:    "https://API.github.com/search/issues?q=author:alice&page=1",
		Query:  url.Values{"per_page": {"100"}, "sort": {"b", "a"}},
	})
	b := Fingerprint(Request{
		Method: "GET",
		URL:    "https://api.github.com/search/issues?page=1",
		Query:  url.Values{"sort": {"a", "b"}, "per_page": {"100"}, "q": {"author:alice"}},
	})
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestFingerprint_Distinguishes(t *testing.T) {
	base := Request{Method: "GET", URL: "https://example.atlassian.net/rest/api/2/search", Query: url.Values{"startAt": {"0"}}}
	other := base
	other.Query = url.Values{"startAt": {"50"}}
	post := base
	post.Method = "POST"

	assert.NotEqual(t, Fingerprint(base), Fingerprint(other))
	assert.NotEqual(t, Fingerprint(base), Fingerprint(post))
}

func TestFingerprint_VaryHeadersOnly(t *testing.T) {
	base := Request{Method: "GET", URL: "https://api.github.com/user"}

	withAuth := base
	withAuth.Header = http.Header{"Authorization": {"token abc"}, "User-Agent": {"x"}}
	assert.Equal(t, Fingerprint(base), Fingerprint(withAuth), "non-vary headers are ignored")

	withAccept := base
	withAccept.Header = http.Header{"Accept": {"application/vnd.github+json"}}
	assert.NotEqual(t, Fingerprint(base), Fingerprint(withAccept))

	custom := FingerprintWith(withAuth, []string{"authorization"})
	assert.NotEqual(t, Fingerprint(withAuth), custom)
}

func TestFingerprint_Stable(t *testing.T) {
	req := Request{Method: "GET", URL: "https://example.com/a", Query: url.Values{"x": {"1"}}}
	assert.Equal(t, Fingerprint(req), Fingerprint(req))
}

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "cache", "http_cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Backend{
		"memory": NewMemoryBackend(),
		"sqlite": sqlite,
	}
}

func TestPersistent_RoundTrip(t *testing.T) {
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 12, 30, 45, 123456789, time.FixedZone("X", 3600))

	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			c := NewPersistent(backend, nil, nil)

			_, ok := c.Get(ctx, "missing")
			assert.False(t, ok)

			c.Put(ctx, "k1", []byte(`{"total":1}`), 200, ts)
			entry, ok := c.Get(ctx, "k1")
			require.True(t, ok)
			assert.Equal(t, []byte(`{"total":1}`), entry.Payload)
			assert.Equal(t, 200, entry.Status)
			assert.True(t, entry.Timestamp.Equal(NormalizeTimestamp(ts)))
			assert.Equal(t, time.UTC, entry.Timestamp.Location())
		})
	}
}

func TestPersistent_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			c := NewPersistent(backend, nil, nil)
			c.Put(ctx, "k", []byte("a"), 200, time.Unix(100, 0))
			c.Put(ctx, "k", []byte("b"), 203, time.Unix(200, 0))

			entry, ok := c.Get(ctx, "k")
			require.True(t, ok)
			assert.Equal(t, "b", string(entry.Payload))
			assert.Equal(t, 203, entry.Status)

			stats, err := backend.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), stats.Count)
		})
	}
}

func TestBackend_Administration(t *testing.T) {
	ctx := context.Background()
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			c := NewPersistent(backend, nil, nil)
			c.Put(ctx, "old", []byte("1"), 200, time.Unix(1000, 0))
			c.Put(ctx, "mid", []byte("2"), 200, time.Unix(2000, 0))
			c.Put(ctx, "new", []byte("3"), 404, time.Unix(3000, 0))

			stats, err := backend.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(3), stats.Count)
			assert.True(t, stats.Oldest.Equal(time.Unix(1000, 0)))
			assert.True(t, stats.Newest.Equal(time.Unix(3000, 0)))

			keys, err := backend.Keys(ctx, 2)
			require.NoError(t, err)
			require.Len(t, keys, 2)
			assert.Equal(t, "new", keys[0].Key)
			assert.Equal(t, 404, keys[0].Status)
			assert.Equal(t, "mid", keys[1].Key)

			removed, err := backend.Delete(ctx, "mid")
			require.NoError(t, err)
			assert.True(t, removed)
			removed, err = backend.Delete(ctx, "mid")
			require.NoError(t, err)
			assert.False(t, removed)

			n, err := backend.Clear(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)

			stats, err = backend.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(0), stats.Count)
			assert.True(t, stats.Oldest.IsZero())
		})
	}
}

func TestSQLiteBackend_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "http_cache.db")

	first, err := OpenSQLite(path)
	require.NoError(t, err)
	NewPersistent(first, nil, nil).Put(ctx, "k", []byte("payload"), 200, time.Unix(1700000000, 500000000))
	require.NoError(t, first.Close())

	second, err := OpenSQLite(path)
	require.NoError(t, err)
	defer second.Close()

	entry, ok := NewPersistent(second, nil, nil).Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "payload", string(entry.Payload))
	assert.True(t, entry.Timestamp.Equal(time.Unix(1700000000, 500000000)))
}

func TestBackend_PartitionKeepsKeysApart(t *testing.T) {
	ctx := context.Background()
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			reports, err := backend.Partition(PartitionReports)
			require.NoError(t, err)

			require.NoError(t, reports.Store(ctx, Entry{Key: "run-a", Payload: []byte("{}"), Status: 200, Timestamp: time.Unix(1000, 0)}))
			c := NewPersistent(backend, nil, nil)
			for i := 0; i < 25; i++ {
				c.Put(ctx, fmt.Sprintf("fp-%02d", i), []byte("x"), 200, time.Unix(int64(2000+i), 0))
			}

			keys, err := reports.Keys(ctx, 20)
			require.NoError(t, err)
			require.Len(t, keys, 1)
			assert.Equal(t, "run-a", keys[0].Key)

			stats, err := backend.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(25), stats.Count, "reports do not count as cached responses")

			n, err := backend.Clear(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(25), n)
			_, found, err := reports.Load(ctx, "run-a")
			require.NoError(t, err)
			assert.True(t, found, "clearing the cache keeps reports")

			require.NoError(t, reports.Close())
			_, err = backend.Stats(ctx)
			assert.NoError(t, err, "closing a partition leaves the shared connection open")
		})
	}
}

func TestSQLiteBackend_UnknownPartition(t *testing.T) {
	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "http_cache.db"))
	require.NoError(t, err)
	defer sqlite.Close()

	_, err = sqlite.Partition("sessions")
	assert.Error(t, err)
	_, err = sqlite.Partition("http_cache")
	assert.Error(t, err)
}

type failingBackend struct {
	MemoryBackend
}

var errDiskGone = errors.New("disk gone")

func (*failingBackend) Load(context.Context, string) (Entry, bool, error) {
	return Entry{}, false, errDiskGone
}

func (*failingBackend) Store(context.Context, Entry) error {
	return errDiskGone
}

func TestPersistent_DegradesOnBackendFailure(t *testing.T) {
	ctx := context.Background()
	metrics := monitoring.NewMetrics()
	c := NewPersistent(&failingBackend{}, monitoring.Discard().Logger, metrics)

	assert.NotPanics(t, func() {
		c.Put(ctx, "k", []byte("x"), 200, time.Now())
	})
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	assert.Equal(t, int64(2), metrics.CacheIOErrors)
	assert.Equal(t, int64(1), metrics.CacheMisses)
}

func TestPersistent_CountsHitsAndMisses(t *testing.T) {
	ctx := context.Background()
	metrics := monitoring.NewMetrics()
	c := NewPersistent(NewMemoryBackend(), nil, metrics)

	c.Get(ctx, "k")
	c.Put(ctx, "k", []byte("x"), 200, time.Now())
	c.Get(ctx, "k")

	assert.Equal(t, int64(1), metrics.CacheHits)
	assert.Equal(t, int64(1), metrics.CacheMisses)
	assert.Equal(t, int64(1), metrics.CacheWrites)
}

func TestNop(t *testing.T) {
	ctx := context.Background()
	var c Cache = Nop{}
	c.Put(ctx, "k", []byte("x"), 200, time.Now())
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestEntry_Fresh(t *testing.T) {
	now := time.Unix(10000, 0)
	e := Entry{Timestamp: now.Add(-time.Hour)}
	assert.True(t, e.Fresh(0, now))
	assert.True(t, e.Fresh(2*time.Hour, now))
	assert.False(t, e.Fresh(30*time.Minute, now))
}

func TestOpen(t *testing.T) {
	c, backend, err := Open(Options{Kind: KindNone}, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, backend)
	assert.IsType(t, Nop{}, c)

	c, backend, err = Open(Options{Kind: KindMemory}, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryBackend{}, backend)
	assert.IsType(t, &Persistent{}, c)

	_, _, err = Open(Options{Kind: "etcd"}, nil, nil)
	assert.Error(t, err)

	_, _, err = Open(Options{Kind: KindRedis}, nil, nil)
	assert.Error(t, err)
}

func TestEpochConversion(t *testing.T) {
	ts := NormalizeTimestamp(time.Date(2025, 6, 30, 23, 59, 59, 999999999, time.UTC))
	assert.True(t, fromEpoch(toEpoch(ts)).Equal(ts))
}
