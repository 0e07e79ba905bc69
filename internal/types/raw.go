package types

// RawRecord is a source record as delivered by an adapter.
// Implementations are JiraIssue, ConfluencePage and GitHubItem.
type RawRecord interface {
	Source() Source
}

// JiraIssue is the documented subset of a Jira search result issue
type JiraIssue struct {
	ID     string     `json:"id"`
	Key    string     `json:"key"`
	Self   string     `json:"self"`
	Fields JiraFields `json:"fields"`
}

// JiraFields holds the issue fields the normalizer reads
type JiraFields struct {
	Summary   string     `json:"summary"`
	IssueType *JiraNamed `json:"issuetype"`
	Created   string     `json:"created"`
	Updated   string     `json:"updated"`
	// TimeSpent is logged work in seconds; nil when nothing was logged.
	TimeSpent *int64    `json:"timespent"`
	Assignee  *JiraUser `json:"assignee"`
	Reporter  *JiraUser `json:"reporter"`
}

type JiraNamed struct {
	Name string `json:"name"`
}

type JiraUser struct {
	AccountID    string `json:"accountId"`
	Name         string `json:"name"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
}

func (JiraIssue) Source() Source { return SourceJira }

// ConfluencePage is the documented subset of a Confluence content result
type ConfluencePage struct {
	ID      string             `json:"id"`
	Type    string             `json:"type"`
	Title   string             `json:"title"`
	History *ConfluenceHistory `json:"history"`
	Version *ConfluenceVersion `json:"version"`
	Links   *ConfluenceLinks   `json:"_links"`
}

type ConfluenceHistory struct {
	CreatedDate string             `json:"createdDate"`
	CreatedBy   *ConfluenceUser    `json:"createdBy"`
	LastUpdated *ConfluenceVersion `json:"lastUpdated"`
}

type ConfluenceVersion struct {
	When   string          `json:"when"`
	Number int             `json:"number"`
	By     *ConfluenceUser `json:"by"`
}

type ConfluenceUser struct {
	AccountID   string `json:"accountId"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

type ConfluenceLinks struct {
	WebUI string `json:"webui"`
	Base  string `json:"base"`
}

func (ConfluencePage) Source() Source { return SourceConfluence }

// GitHubItem covers search results for pull requests, issues and commits
type GitHubItem struct {
	// Kind is an optional subtype hint set by the adapter.
	Kind        string         `json:"kind,omitempty"`
	ID          int64          `json:"id"`
	Number      int            `json:"number"`
	SHA         string         `json:"sha"`
	Title       string         `json:"title"`
	HTMLURL     string         `json:"html_url"`
	User        *GitHubUser    `json:"user"`
	Author      *GitHubUser    `json:"author"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
	PullRequest *GitHubPullRef `json:"pull_request"`
	Commit      *GitHubCommit  `json:"commit"`
	Repository  *GitHubRepo    `json:"repository"`
}

type GitHubUser struct {
	Login string `json:"login"`
	ID    int64  `json:"id"`
}

type GitHubPullRef struct {
	URL      string  `json:"url"`
	HTMLURL  string  `json:"html_url"`
	MergedAt *string `json:"merged_at"`
}

type GitHubCommit struct {
	Message   string              `json:"message"`
	Author    *GitHubCommitAuthor `json:"author"`
	Committer *GitHubCommitAuthor `json:"committer"`
}

type GitHubCommitAuthor struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Date  string `json:"date"`
}

type GitHubRepo struct {
	Name     string `json:"name"`
	FullName string `json:"full_name"`
}

func (GitHubItem) Source() Source { return SourceGitHub }
