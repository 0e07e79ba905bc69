package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/contrib-evaluator/internal/cache"
	apperrors "github.com/ZanzyTHEbar/contrib-evaluator/internal/errors"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/monitoring"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/resilience"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/types"
)

func newTestFetcher(t *testing.T, config FetcherConfig) (*Fetcher, *monitoring.Metrics) {
	t.Helper()
	metrics := monitoring.NewMetrics()
	logger := monitoring.Discard()
	if config.Retry.MaxAttempts == 0 {
		config.Retry = resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
		}
	}
	return NewFetcher(FetcherDeps{
		Cache:   cache.NewPersistent(cache.NewMemoryBackend(), logger.Logger, metrics),
		Logger:  logger,
		Metrics: metrics,
	}, config), metrics
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestFetcher_ServesRepeatRequestsFromCache(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeJSON(w, map[string]string{"ok": "yes"})
	}))
	defer srv.Close()

	f, metrics := newTestFetcher(t, FetcherConfig{})
	req := Request{Upstream: "jira", URL: srv.URL + "/search", Query: map[string][]string{"a": {"1"}, "b": {"2"}}}

	first, err := f.Get(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	// same request with the query supplied in another order
	req.Query = map[string][]string{"b": {"2"}, "a": {"1"}}
	second, err := f.Get(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Body, second.Body)

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Equal(t, int64(1), metrics.CacheHits)
	assert.Equal(t, int64(1), metrics.CacheWrites)
}

func TestFetcher_RefreshAndSkipCacheBypassReads(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		writeJSON(w, map[string]int32{"n": n})
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, FetcherConfig{})
	req := Request{Upstream: "github", URL: srv.URL + "/x"}

	_, err := f.Get(context.Background(), req)
	require.NoError(t, err)

	req.SkipCache = true
	resp, err := f.Get(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.FromCache)

	// the forced fetch overwrote the entry
	req.SkipCache = false
	resp, err = f.Get(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.FromCache)
	assert.JSONEq(t, `{"n":2}`, string(resp.Body))

	refreshing, _ := newTestFetcher(t, FetcherConfig{Refresh: true})
	resp, err = refreshing.Get(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.FromCache)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestFetcher_NonOKIsNotCached(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "no such project", http.StatusNotFound)
	}))
	defer srv.Close()

	f, metrics := newTestFetcher(t, FetcherConfig{})
	req := Request{Upstream: "jira", URL: srv.URL + "/search"}

	for i := 0; i < 2; i++ {
		resp, err := f.Get(context.Background(), req)
		require.Error(t, err)
		assert.True(t, apperrors.IsCategory(err, apperrors.CategoryExternalAPI))
		assert.Equal(t, http.StatusNotFound, resp.Status)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits), "404 is neither retried nor cached")
	assert.Equal(t, int64(0), metrics.CacheWrites)
}

func TestFetcher_RetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, []int{1})
	}))
	defer srv.Close()

	f, metrics := newTestFetcher(t, FetcherConfig{})
	resp, err := f.Get(context.Background(), Request{Upstream: "confluence", URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))

	stats := metrics.GetExternalAPIStats()["confluence"].(map[string]interface{})
	assert.Equal(t, int64(1), stats["requests"])
	assert.Equal(t, int64(0), stats["errors"])
}

func TestFetcher_ExhaustedRetriesReturnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, FetcherConfig{Retry: resilience.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond}})
	resp, err := f.Get(context.Background(), Request{Upstream: "github", URL: srv.URL})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.Status)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryExternalAPI))
}

func TestFetcher_CancelledCallsKeepBreakerClosed(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeJSON(w, map[string]bool{"ok": true})
	}))
	defer srv.Close()

	breakers := resilience.NewCircuitBreakerRegistry(resilience.CircuitBreakerConfig{FailureThreshold: 5, RecoveryTimeout: time.Minute})
	f := NewFetcher(FetcherDeps{Breakers: breakers}, FetcherConfig{
		Retry: resilience.RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond},
	})
	req := Request{Upstream: "github", URL: srv.URL + "/search/issues"}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 5; i++ {
		_, err := f.Get(cancelled, req)
		require.Error(t, err)
	}
	assert.Equal(t, resilience.StateClosed, breakers.Get("github").State())

	resp, err := f.Get(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestFetcher_RejectsRelativeURL(t *testing.T) {
	f, _ := newTestFetcher(t, FetcherConfig{})
	_, err := f.Get(context.Background(), Request{Upstream: "jira", URL: "/search"})
	require.Error(t, err)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryValidation))
}

func TestFetcher_Live(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	f, _ := newTestFetcher(t, FetcherConfig{RecentSlack: 24 * time.Hour})
	f.now = func() time.Time { return now }

	assert.True(t, f.live(types.TimeWindow{End: now.Add(-time.Hour)}))
	assert.False(t, f.live(types.TimeWindow{End: now.AddDate(0, -1, 0)}))

	off, _ := newTestFetcher(t, FetcherConfig{})
	assert.False(t, off.live(types.TimeWindow{}))
}

func TestCredentials_Apply(t *testing.T) {
	h := http.Header{}
	Credentials{Token: "t0k"}.apply(h)
	assert.Equal(t, "Bearer t0k", h.Get("Authorization"))

	h = http.Header{}
	Credentials{Token: "t0k", Email: "dev@example.com"}.apply(h)
	r := &http.Request{Header: h}
	user, pass, ok := r.BasicAuth()
	require.True(t, ok)
	assert.Equal(t, "dev@example.com", user)
	assert.Equal(t, "t0k", pass)

	h = http.Header{}
	Credentials{}.apply(h)
	assert.Empty(t, h.Get("Authorization"))
}

func TestSources_DisabledWithoutToken(t *testing.T) {
	f, _ := newTestFetcher(t, FetcherConfig{})
	sources := []Source{
		NewJira(f, JiraConfig{BaseURL: "http://jira.invalid"}),
		NewConfluence(f, ConfluenceConfig{BaseURL: "http://wiki.invalid"}),
		NewGitHub(f, GitHubConfig{}),
	}
	for _, s := range sources {
		t.Run(string(s.Name()), func(t *testing.T) {
			assert.False(t, s.Enabled())
			records, err := s.Fetch(context.Background(), "alice", types.TimeWindow{})
			assert.NoError(t, err)
			assert.Nil(t, records)
		})
	}
}

func TestJira_JQL(t *testing.T) {
	j := NewJira(nil, JiraConfig{ProjectKey: "PROJ"})
	w, err := types.ParseWindow("2024-01-01", "2024-01-31")
	require.NoError(t, err)

	assert.Equal(t,
		`project = PROJ AND (assignee = "alice" OR reporter = "alice") AND created >= "2024-01-01" AND created < "2024-02-01" ORDER BY created ASC`,
		j.JQL("alice", w))

	// month and year boundaries roll over
	yearEnd, err := types.ParseWindow("", "2024-12-31")
	require.NoError(t, err)
	assert.Contains(t, j.JQL("alice", yearEnd), `created < "2025-01-01"`)

	bare := NewJira(nil, JiraConfig{})
	assert.Equal(t, `(assignee = "bob" OR reporter = "bob") ORDER BY created ASC`, bare.JQL("bob", types.TimeWindow{}))
}

func TestJira_FetchPages(t *testing.T) {
	const total = 5
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		assert.Equal(t, "/rest/api/2/search", r.URL.Path)
		assert.Contains(t, r.URL.Query().Get("jql"), `assignee = "alice"`)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		startAt, _ := strconv.Atoi(r.URL.Query().Get("startAt"))
		maxResults, _ := strconv.Atoi(r.URL.Query().Get("maxResults"))
		var issues []types.JiraIssue
		for i := startAt; i < total && i < startAt+maxResults; i++ {
			issues = append(issues, types.JiraIssue{ID: strconv.Itoa(i), Key: fmt.Sprintf("PROJ-%d", i+1)})
		}
		writeJSON(w, map[string]interface{}{"startAt": startAt, "maxResults": maxResults, "total": total, "issues": issues})
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, FetcherConfig{})
	j := NewJira(f, JiraConfig{BaseURL: srv.URL + "/rest/api/2/", Credentials: Credentials{Token: "secret"}, PageSize: 2})

	records, err := j.Fetch(context.Background(), "alice", types.TimeWindow{})
	require.NoError(t, err)
	require.Len(t, records, total)
	assert.Equal(t, "PROJ-5", records[4].(types.JiraIssue).Key)
	assert.Equal(t, int32(3), atomic.LoadInt32(&requests))

	// second run is served entirely from cache
	_, err = j.Fetch(context.Background(), "alice", types.TimeWindow{})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&requests))
}

func TestJira_FetchPropagatesUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errorMessages":["bad jql"]}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, FetcherConfig{})
	j := NewJira(f, JiraConfig{BaseURL: srv.URL, Credentials: Credentials{Token: "x"}})
	_, err := j.Fetch(context.Background(), "alice", types.TimeWindow{})
	require.Error(t, err)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryExternalAPI))
}

func TestConfluence_FiltersByCreatorAndWindow(t *testing.T) {
	page := func(id, creator, created string) types.ConfluencePage {
		return types.ConfluencePage{
			ID:    id,
			Type:  "page",
			Title: "Page " + id,
			History: &types.ConfluenceHistory{
				CreatedDate: created,
				CreatedBy:   &types.ConfluenceUser{Username: creator},
			},
		}
	}
	pages := []types.ConfluencePage{
		page("1", "alice", "2024-01-10T09:00:00.000Z"),
		page("2", "bob", "2024-01-11T09:00:00.000Z"),
		page("3", "Alice", "2023-06-01T09:00:00.000Z"),
		page("4", "alice", "2024-01-20T09:00:00.000+0100"),
	}
	// created before the window but edited inside it
	pages[2].Version = &types.ConfluenceVersion{When: "2024-01-15T12:00:00.000Z", Number: 3}

	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		assert.Equal(t, "/wiki/rest/api/content", r.URL.Path)
		assert.Equal(t, "DOCS", r.URL.Query().Get("spaceKey"))
		assert.Equal(t, "version,history", r.URL.Query().Get("expand"))
		_, _, ok := r.BasicAuth()
		assert.True(t, ok)

		start, _ := strconv.Atoi(r.URL.Query().Get("start"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		end := start + limit
		if end > len(pages) {
			end = len(pages)
		}
		body := map[string]interface{}{"results": pages[start:end], "start": start, "limit": limit, "size": end - start}
		if end < len(pages) {
			body["_links"] = map[string]string{"next": "/rest/api/content?start=" + strconv.Itoa(end)}
		}
		writeJSON(w, body)
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, FetcherConfig{})
	c := NewConfluence(f, ConfluenceConfig{
		BaseURL:     srv.URL + "/wiki/rest/api",
		SpaceKey:    "DOCS",
		Credentials: Credentials{Token: "tok", Email: "alice@example.com"},
		PageSize:    2,
	})
	w, err := types.ParseWindow("2024-01-01", "2024-01-31")
	require.NoError(t, err)

	records, err := c.Fetch(context.Background(), "alice", w)
	require.NoError(t, err)

	var ids []string
	for _, r := range records {
		ids = append(ids, r.(types.ConfluencePage).ID)
	}
	assert.Equal(t, []string{"1", "3", "4"}, ids)
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
}

func TestGitHub_SearchQuery(t *testing.T) {
	g := NewGitHub(nil, GitHubConfig{Org: "acme"})
	w, err := types.ParseWindow("2024-01-01", "2024-01-31")
	require.NoError(t, err)

	assert.Equal(t, "author:alice type:pr org:acme created:2024-01-01..2024-01-31", g.searchQuery("alice", "type:pr", "created", w))

	bare := NewGitHub(nil, GitHubConfig{})
	assert.Equal(t, "author:alice author-date:2024-01-01..*", bare.searchQuery("alice", "", "author-date", types.TimeWindow{Start: w.Start}))
	assert.Equal(t, "author:alice type:issue", bare.searchQuery("alice", "type:issue", "created", types.TimeWindow{}))
}

func TestGitHub_FetchTagsKinds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))
		q := r.URL.Query().Get("q")
		switch {
		case r.URL.Path == "/search/commits":
			writeJSON(w, map[string]interface{}{"total_count": 1, "items": []types.GitHubItem{{SHA: "abc123"}}})
		case strings.Contains(q, "type:pr"):
			writeJSON(w, map[string]interface{}{"total_count": 2, "items": []types.GitHubItem{{Number: 1}, {Number: 2}}})
		case strings.Contains(q, "type:issue"):
			writeJSON(w, map[string]interface{}{"total_count": 1, "items": []types.GitHubItem{{Number: 3}}})
		default:
			t.Errorf("unexpected query %q", q)
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, FetcherConfig{})
	g := NewGitHub(f, GitHubConfig{BaseURL: srv.URL, Credentials: Credentials{Token: "ghp"}})
	records, err := g.Fetch(context.Background(), "alice", types.TimeWindow{})
	require.NoError(t, err)
	require.Len(t, records, 4)

	var kinds []string
	for _, r := range records {
		kinds = append(kinds, r.(types.GitHubItem).Kind)
	}
	assert.Equal(t, []string{"pull_request", "pull_request", "issue", "commit"}, kinds)
}

func TestGitHub_StopsAtTotalCount(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		pageNum, _ := strconv.Atoi(r.URL.Query().Get("page"))
		items := []types.GitHubItem{{Number: pageNum*2 - 1}, {Number: pageNum * 2}}
		writeJSON(w, map[string]interface{}{"total_count": 4, "items": items})
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, FetcherConfig{})
	g := NewGitHub(f, GitHubConfig{BaseURL: srv.URL, Credentials: Credentials{Token: "ghp"}, PageSize: 2})
	items, err := g.search(context.Background(), "/search/issues", "author:alice type:pr", types.TimeWindow{})
	require.NoError(t, err)
	assert.Len(t, items, 4)
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
}

// pageOf serves items the way an upstream that caps the page size does
func pageOf(n, offset, size, limit int) (from, to int) {
	if size > limit {
		size = limit
	}
	from, to = offset, offset+size
	if from > n {
		from = n
	}
	if to > n {
		to = n
	}
	return from, to
}

func TestSources_FollowUpstreamPageCap(t *testing.T) {
	const held, serverCap = 5, 2

	t.Run("github", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/search/commits" {
				writeJSON(w, map[string]interface{}{"total_count": 0, "items": []types.GitHubItem{}})
				return
			}
			page, _ := strconv.Atoi(r.URL.Query().Get("page"))
			perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
			if perPage > serverCap {
				perPage = serverCap
			}
			from, to := pageOf(held, (page-1)*perPage, perPage, serverCap)
			items := []types.GitHubItem{}
			for i := from; i < to; i++ {
				items = append(items, types.GitHubItem{Number: i + 1})
			}
			writeJSON(w, map[string]interface{}{"total_count": held, "items": items})
		}))
		defer srv.Close()

		f, _ := newTestFetcher(t, FetcherConfig{})
		g := NewGitHub(f, GitHubConfig{BaseURL: srv.URL, Credentials: Credentials{Token: "ghp"}, PageSize: 5})
		records, err := g.Fetch(context.Background(), "alice", types.TimeWindow{})
		require.NoError(t, err)
		assert.Len(t, records, 2*held, "pull requests and issues")
	})

	t.Run("jira", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			startAt, _ := strconv.Atoi(r.URL.Query().Get("startAt"))
			maxResults, _ := strconv.Atoi(r.URL.Query().Get("maxResults"))
			from, to := pageOf(held, startAt, maxResults, serverCap)
			issues := []types.JiraIssue{}
			for i := from; i < to; i++ {
				issues = append(issues, types.JiraIssue{Key: fmt.Sprintf("PROJ-%d", i+1)})
			}
			writeJSON(w, map[string]interface{}{"startAt": startAt, "maxResults": serverCap, "total": held, "issues": issues})
		}))
		defer srv.Close()

		f, _ := newTestFetcher(t, FetcherConfig{})
		j := NewJira(f, JiraConfig{BaseURL: srv.URL, Credentials: Credentials{Token: "x"}, PageSize: 5})
		records, err := j.Fetch(context.Background(), "alice", types.TimeWindow{})
		require.NoError(t, err)
		require.Len(t, records, held)
		assert.Equal(t, "PROJ-5", records[held-1].(types.JiraIssue).Key)
	})

	t.Run("confluence", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start, _ := strconv.Atoi(r.URL.Query().Get("start"))
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			from, to := pageOf(held, start, limit, serverCap)
			pages := []types.ConfluencePage{}
			for i := from; i < to; i++ {
				pages = append(pages, types.ConfluencePage{
					ID: strconv.Itoa(i + 1),
					History: &types.ConfluenceHistory{
						CreatedDate: "2024-01-10T09:00:00.000Z",
						CreatedBy:   &types.ConfluenceUser{Username: "alice"},
					},
				})
			}
			body := map[string]interface{}{"results": pages, "start": start, "limit": serverCap, "size": len(pages)}
			if to < held {
				body["_links"] = map[string]string{"next": "/rest/api/content?start=" + strconv.Itoa(to)}
			}
			writeJSON(w, body)
		}))
		defer srv.Close()

		f, _ := newTestFetcher(t, FetcherConfig{})
		c := NewConfluence(f, ConfluenceConfig{BaseURL: srv.URL, Credentials: Credentials{Token: "x"}, PageSize: 5})
		records, err := c.Fetch(context.Background(), "alice", types.TimeWindow{})
		require.NoError(t, err)
		assert.Len(t, records, held)
	})
}
