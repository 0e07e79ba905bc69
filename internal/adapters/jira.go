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

// JiraConfig locates a Jira instance
type JiraConfig struct {
	BaseURL     string // e.g. https://example.atlassian.net/rest/api/2
	ProjectKey  string
	Credentials Credentials
	PageSize    int
}

// Jira pulls issues a user is assigned to or reported
type Jira struct {
	fetcher *Fetcher
	config  JiraConfig
}

type jiraSearchPage struct {
	StartAt    int               `json:"startAt"`
	MaxResults int               `json:"maxResults"`
	Total      int               `json:"total"`
	Issues     []types.JiraIssue `json:"issues"`
}

var jiraFields = []string{"summary", "issuetype", "created", "updated", "timespent", "assignee", "reporter"}

// NewJira creates a Jira source
func NewJira(fetcher *Fetcher, config JiraConfig) *Jira {
	config.BaseURL = trimBase(config.BaseURL)
	config.PageSize = pageSize(config.PageSize)
	return &Jira{fetcher: fetcher, config: config}
}

func (j *Jira) Name() types.Source { return types.SourceJira }

func (j *Jira) Enabled() bool {
	return j.config.Credentials.Token != "" && j.config.BaseURL != ""
}

// JQL builds the search query for user within window
func (j *Jira) JQL(user string, window types.TimeWindow) string {
	var clauses []string
	if j.config.ProjectKey != "" {
		clauses = append(clauses, "project = "+j.config.ProjectKey)
	}
	quoted := strconv.Quote(user)
	clauses = append(clauses, fmt.Sprintf("(assignee = %s OR reporter = %s)", quoted, quoted))
	if !window.Start.IsZero() {
		clauses = append(clauses, fmt.Sprintf("created >= %q", window.Start.Format(types.DateLayout)))
	}
	if !window.End.IsZero() {
		// a bare date in JQL is midnight; bound by the next day to keep the end date inclusive
		clauses = append(clauses, fmt.Sprintf("created < %q", window.End.AddDate(0, 0, 1).Format(types.DateLayout)))
	}
	return strings.Join(clauses, " AND ") + " ORDER BY created ASC"
}

// Fetch pages through /search with startAt/maxResults
func (j *Jira) Fetch(ctx context.Context, user string, window types.TimeWindow) ([]types.RawRecord, error) {
	if !j.Enabled() {
		j.fetcher.logger.Warn("Jira source disabled, no token configured")
		return nil, nil
	}

	header := http.Header{}
	header.Set("Accept", "application/json")
	j.config.Credentials.apply(header)

	jql := j.JQL(user, window)
	var records []types.RawRecord
	for startAt := 0; ; {
		var page jiraSearchPage
		_, err := j.fetcher.GetJSON(ctx, Request{
			Upstream: string(types.SourceJira),
			URL:      j.config.BaseURL + "/search",
			Query: url.Values{
				"jql":        {jql},
				"startAt":    {strconv.Itoa(startAt)},
				"maxResults": {strconv.Itoa(j.config.PageSize)},
				"fields":     {strings.Join(jiraFields, ",")},
			},
			Header:    header,
			SkipCache: j.fetcher.live(window),
		}, &page)
		if err != nil {
			return records, err
		}

		for _, issue := range page.Issues {
			records = append(records, issue)
		}

		// Jira may cap maxResults below the requested size
		startAt += len(page.Issues)
		if len(page.Issues) == 0 || startAt >= page.Total {
			return records, nil
		}
	}
}
