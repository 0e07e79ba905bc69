package adapters

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ZanzyTHEbar/contrib-evaluator/internal/types"
)

// GitHub search returns at most this many results per query
const githubSearchCap = 1000

// GitHubConfig locates the GitHub API
type GitHubConfig struct {
	BaseURL     string // https://api.github.com or a GHES /api/v3 root
	Org         string
	Credentials Credentials
	PageSize    int
}

// GitHub pulls a user's pull requests, issues and commits through the search API
type GitHub struct {
	fetcher *Fetcher
	config  GitHubConfig
}

type githubSearchPage struct {
	TotalCount        int                `json:"total_count"`
	IncompleteResults bool               `json:"incomplete_results"`
	Items             []types.GitHubItem `json:"items"`
}

// NewGitHub creates a GitHub source
func NewGitHub(fetcher *Fetcher, config GitHubConfig) *GitHub {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.github.com"
	}
	config.BaseURL = trimBase(config.BaseURL)
	config.PageSize = pageSize(config.PageSize)
	return &GitHub{fetcher: fetcher, config: config}
}

func (g *GitHub) Name() types.Source { return types.SourceGitHub }

func (g *GitHub) Enabled() bool {
	return g.config.Credentials.Token != ""
}

// Fetch runs the pull request, issue and commit searches in that order
func (g *GitHub) Fetch(ctx context.Context, user string, window types.TimeWindow) ([]types.RawRecord, error) {
	if !g.Enabled() {
		g.fetcher.logger.Warn("GitHub source disabled, no token configured")
		return nil, nil
	}

	searches := []struct {
		kind  types.EventType
		path  string
		query string
	}{
		{types.EventPullRequest, "/search/issues", g.searchQuery(user, "type:pr", "created", window)},
		{types.EventIssue, "/search/issues", g.searchQuery(user, "type:issue", "created", window)},
		{types.EventCommit, "/search/commits", g.searchQuery(user, "", "author-date", window)},
	}

	var records []types.RawRecord
	for _, s := range searches {
		items, err := g.search(ctx, s.path, s.query, window)
		if err != nil {
			return records, err
		}
		for _, item := range items {
			item.Kind = string(s.kind)
			records = append(records, item)
		}
	}
	return records, nil
}

func (g *GitHub) searchQuery(user, qualifier, dateField string, window types.TimeWindow) string {
	terms := []string{"author:" + user}
	if qualifier != "" {
		terms = append(terms, qualifier)
	}
	if g.config.Org != "" {
		terms = append(terms, "org:"+g.config.Org)
	}
	if r := dateRange(window); r != "" {
		terms = append(terms, dateField+":"+r)
	}
	return strings.Join(terms, " ")
}

func dateRange(window types.TimeWindow) string {
	start, end := "*", "*"
	if !window.Start.IsZero() {
		start = window.Start.Format(types.DateLayout)
	}
	if !window.End.IsZero() {
		end = window.End.Format(types.DateLayout)
	}
	if start == "*" && end == "*" {
		return ""
	}
	return fmt.Sprintf("%s..%s", start, end)
}

func (g *GitHub) search(ctx context.Context, path, q string, window types.TimeWindow) ([]types.GitHubItem, error) {
	header := http.Header{}
	header.Set("Accept", "application/vnd.github+json")
	header.Set("X-GitHub-Api-Version", "2022-11-28")
	g.config.Credentials.apply(header)

	var items []types.GitHubItem
	for page := 1; ; page++ {
		var result githubSearchPage
		_, err := g.fetcher.GetJSON(ctx, Request{
			Upstream: string(types.SourceGitHub),
			URL:      g.config.BaseURL + path,
			Query: url.Values{
				"q":        {q},
				"page":     {strconv.Itoa(page)},
				"per_page": {strconv.Itoa(g.config.PageSize)},
			},
			Header:    header,
			SkipCache: g.fetcher.live(window),
		}, &result)
		if err != nil {
			return items, err
		}

		// the server may serve fewer than per_page; only total_count and an
		// empty page end the search
		items = append(items, result.Items...)
		if len(result.Items) == 0 || len(items) >= result.TotalCount || len(items) >= githubSearchCap {
			if result.TotalCount > githubSearchCap {
				g.fetcher.logger.Warn("GitHub search truncated", "query", q, "total", result.TotalCount, "fetched", len(items))
			}
			return items, nil
		}
	}
}
