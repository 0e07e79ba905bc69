package adapters

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/contrib-evaluator/internal/types"
)

// ConfluenceConfig locates a Confluence instance
type ConfluenceConfig struct {
	BaseURL     string // e.g. https://example.atlassian.net/wiki/rest/api
	SpaceKey    string
	Credentials Credentials
	PageSize    int
}

// Confluence pulls pages a user created, filtered to the window
type Confluence struct {
	fetcher *Fetcher
	config  ConfluenceConfig
}

type confluenceContentPage struct {
	Results []types.ConfluencePage `json:"results"`
	Start   int                    `json:"start"`
	Limit   int                    `json:"limit"`
	Size    int                    `json:"size"`
	Links   struct {
		Next string `json:"next"`
	} `json:"_links"`
}

// NewConfluence creates a Confluence source
func NewConfluence(fetcher *Fetcher, config ConfluenceConfig) *Confluence {
	config.BaseURL = trimBase(config.BaseURL)
	config.PageSize = pageSize(config.PageSize)
	return &Confluence{fetcher: fetcher, config: config}
}

func (c *Confluence) Name() types.Source { return types.SourceConfluence }

func (c *Confluence) Enabled() bool {
	return c.config.Credentials.Token != "" && c.config.BaseURL != ""
}

// Fetch pages through /content with start/limit and keeps pages created by
// user whose creation or last update falls inside window
func (c *Confluence) Fetch(ctx context.Context, user string, window types.TimeWindow) ([]types.RawRecord, error) {
	if !c.Enabled() {
		c.fetcher.logger.Warn("Confluence source disabled, no token configured")
		return nil, nil
	}

	header := http.Header{}
	header.Set("Accept", "application/json")
	c.config.Credentials.apply(header)

	var records []types.RawRecord
	for start := 0; ; {
		query := url.Values{
			"type":   {"page"},
			"start":  {strconv.Itoa(start)},
			"limit":  {strconv.Itoa(c.config.PageSize)},
			"expand": {"version,history"},
		}
		if c.config.SpaceKey != "" {
			query.Set("spaceKey", c.config.SpaceKey)
		}

		var page confluenceContentPage
		_, err := c.fetcher.GetJSON(ctx, Request{
			Upstream:  string(types.SourceConfluence),
			URL:       c.config.BaseURL + "/content",
			Query:     query,
			Header:    header,
			SkipCache: c.fetcher.live(window),
		}, &page)
		if err != nil {
			return records, err
		}

		for _, p := range page.Results {
			if createdBy(p, user) && touchedInWindow(p, window) {
				records = append(records, p)
			}
		}

		// _links.next is present while more results remain, whatever limit was honored
		if len(page.Results) == 0 || page.Links.Next == "" {
			return records, nil
		}
		start += len(page.Results)
	}
}

func createdBy(p types.ConfluencePage, user string) bool {
	if p.History == nil || p.History.CreatedBy == nil {
		return false
	}
	by := p.History.CreatedBy
	for _, id := range []string{by.Username, by.AccountID, by.DisplayName} {
		if id != "" && strings.EqualFold(id, user) {
			return true
		}
	}
	return false
}

func touchedInWindow(p types.ConfluencePage, window types.TimeWindow) bool {
	var stamps []string
	if p.History != nil {
		stamps = append(stamps, p.History.CreatedDate)
		if p.History.LastUpdated != nil {
			stamps = append(stamps, p.History.LastUpdated.When)
		}
	}
	if p.Version != nil {
		stamps = append(stamps, p.Version.When)
	}
	for _, s := range stamps {
		if t, err := time.Parse(time.RFC3339, s); err == nil && window.Contains(t) {
			return true
		}
		// Atlassian sometimes omits the colon in the zone offset
		if t, err := time.Parse("2006-01-02T15:04:05.000-0700", s); err == nil && window.Contains(t) {
			return true
		}
	}
	return false
}
