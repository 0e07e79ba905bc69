// Package normalize converts raw source records into ContributionEvents.
//
// Every function here is pure and total: a record of a known source always
// yields exactly one event. Unrecognized subtypes degrade to the source's
// lowest-significance type and are reported as warnings.
package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/ZanzyTHEbar/contrib-evaluator/internal/errors"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/types"
)

// Warning describes a record whose classification or fields were defaulted
type Warning struct {
	Source      types.Source    `json:"source"`
	Subtype     string          `json:"subtype"`
	Ref         string          `json:"ref"`
	Message     string          `json:"message"`
	DefaultedTo types.EventType `json:"defaulted_to,omitempty"`
}

// Err returns the warning as a NormalizationWarning for logging
func (w Warning) Err() *apperrors.AppError {
	return apperrors.NewNormalizationWarning(string(w.Source), w.Subtype, w.Ref, w.Message)
}

// timeLayouts are tried in order; Atlassian omits the colon in zone offsets
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	types.DateLayout,
}

// Record dispatches on the concrete record type
func Record(raw types.RawRecord) (types.ContributionEvent, []Warning) {
	switch r := raw.(type) {
	case types.JiraIssue:
		return Jira(r)
	case *types.JiraIssue:
		return Jira(*r)
	case types.ConfluencePage:
		return Confluence(r)
	case *types.ConfluencePage:
		return Confluence(*r)
	case types.GitHubItem:
		return GitHub(r)
	case *types.GitHubItem:
		return GitHub(*r)
	}

	// Unknown implementation: keep the contribution under its source's default
	source := types.Source("")
	if raw != nil {
		source = raw.Source()
	}
	if !source.Valid() {
		source = types.SourceJira
	}
	def := types.DefaultType(source)
	w := Warning{
		Source:      source,
		Subtype:     fmt.Sprintf("%T", raw),
		Message:     "unrecognized record shape",
		DefaultedTo: def,
	}
	return types.ContributionEvent{Source: source, Type: def}, []Warning{w}
}

// Jira maps an issue by fields.issuetype.name. Logged time comes from
// fields.timespent (seconds) and stays absent when Jira reports none.
func Jira(issue types.JiraIssue) (types.ContributionEvent, []Warning) {
	ref := issue.Key
	if ref == "" {
		ref = issue.ID
	}

	var warnings []Warning
	subtype := ""
	if issue.Fields.IssueType != nil {
		subtype = issue.Fields.IssueType.Name
	}

	var eventType types.EventType
	switch strings.ToLower(strings.TrimSpace(subtype)) {
	case "story":
		eventType = types.EventStory
	case "bug":
		eventType = types.EventBug
	case "task":
		eventType = types.EventTask
	default:
		eventType = types.DefaultType(types.SourceJira)
		warnings = append(warnings, Warning{
			Source:      types.SourceJira,
			Subtype:     subtype,
			Ref:         ref,
			Message:     "unknown jira issue type",
			DefaultedTo: eventType,
		})
	}

	created, updated, tw := timestamps(types.SourceJira, ref, issue.Fields.Created, issue.Fields.Updated)
	warnings = append(warnings, tw...)

	var spent *float64
	if issue.Fields.TimeSpent != nil {
		spent = types.Hours(float64(*issue.Fields.TimeSpent) / 3600.0)
	}

	return types.ContributionEvent{
		Source:         types.SourceJira,
		Type:           eventType,
		AuthorID:       jiraAuthor(issue.Fields),
		Title:          issue.Fields.Summary,
		CreatedAt:      created,
		UpdatedAt:      updated,
		TimeSpentHours: spent,
		IsBug:          eventType == types.EventBug,
		RawRef:         ref,
	}, warnings
}

func jiraAuthor(f types.JiraFields) string {
	for _, u := range []*types.JiraUser{f.Assignee, f.Reporter} {
		if u == nil {
			continue
		}
		for _, id := range []string{u.AccountID, u.Name, u.DisplayName} {
			if id != "" {
				return id
			}
		}
	}
	return ""
}

// Confluence maps every page to doc_page with a fixed half hour
func Confluence(page types.ConfluencePage) (types.ContributionEvent, []Warning) {
	ref := page.ID
	if page.Links != nil && page.Links.WebUI != "" {
		ref = page.Links.Base + page.Links.WebUI
	}

	var warnings []Warning
	if page.Type != "" && !strings.EqualFold(page.Type, "page") {
		warnings = append(warnings, Warning{
			Source:      types.SourceConfluence,
			Subtype:     page.Type,
			Ref:         ref,
			Message:     "unknown confluence content type",
			DefaultedTo: types.EventDocPage,
		})
	}

	var createdRaw, updatedRaw, author string
	if page.History != nil {
		createdRaw = page.History.CreatedDate
		if by := page.History.CreatedBy; by != nil {
			author = by.AccountID
			if author == "" {
				author = by.Username
			}
		}
		if page.History.LastUpdated != nil {
			updatedRaw = page.History.LastUpdated.When
		}
	}
	if page.Version != nil {
		if createdRaw == "" {
			createdRaw = page.Version.When
		}
		if updatedRaw == "" {
			updatedRaw = page.Version.When
		}
	}

	created, updated, tw := timestamps(types.SourceConfluence, ref, createdRaw, updatedRaw)
	warnings = append(warnings, tw...)

	profile, _ := types.ProfileFor(types.SourceConfluence, types.EventDocPage)
	return types.ContributionEvent{
		Source:         types.SourceConfluence,
		Type:           types.EventDocPage,
		AuthorID:       author,
		Title:          page.Title,
		CreatedAt:      created,
		UpdatedAt:      updated,
		TimeSpentHours: types.Hours(profile.DefaultHours),
		RawRef:         ref,
	}, warnings
}

// GitHub classifies an item by the adapter's Kind when recognized and by its
// shape otherwise. Bugs are detected by a case-insensitive "bug" in the title,
// a heuristic with known false positives ("debug") that is kept as-is.
// Time is left absent so the engine applies the estimate.
func GitHub(item types.GitHubItem) (types.ContributionEvent, []Warning) {
	var warnings []Warning

	eventType, kindOK := githubKind(item.Kind)
	shapeOK := kindOK
	if !kindOK {
		eventType, shapeOK = githubShape(item)
	}
	if !shapeOK {
		eventType = types.DefaultType(types.SourceGitHub)
	}
	if !kindOK && (item.Kind != "" || !shapeOK) {
		warnings = append(warnings, Warning{
			Source:      types.SourceGitHub,
			Subtype:     item.Kind,
			Ref:         githubRef(item),
			Message:     "unknown github item kind",
			DefaultedTo: eventType,
		})
	}

	ref := githubRef(item)
	title := item.Title
	createdRaw, updatedRaw := item.CreatedAt, item.UpdatedAt
	if item.Commit != nil {
		if title == "" {
			title = firstLine(item.Commit.Message)
		}
		if createdRaw == "" && item.Commit.Author != nil {
			createdRaw = item.Commit.Author.Date
		}
		if updatedRaw == "" && item.Commit.Committer != nil {
			updatedRaw = item.Commit.Committer.Date
		}
	}

	created, updated, tw := timestamps(types.SourceGitHub, ref, createdRaw, updatedRaw)
	warnings = append(warnings, tw...)

	return types.ContributionEvent{
		Source:    types.SourceGitHub,
		Type:      eventType,
		AuthorID:  githubAuthor(item),
		Title:     title,
		CreatedAt: created,
		UpdatedAt: updated,
		IsBug:     strings.Contains(strings.ToLower(title), "bug"),
		RawRef:    ref,
	}, warnings
}

func githubKind(kind string) (types.EventType, bool) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "pull_request", "pr":
		return types.EventPullRequest, true
	case "commit":
		return types.EventCommit, true
	case "issue":
		return types.EventIssue, true
	}
	return "", false
}

func githubShape(item types.GitHubItem) (types.EventType, bool) {
	switch {
	case item.PullRequest != nil || strings.Contains(item.HTMLURL, "/pull/"):
		return types.EventPullRequest, true
	case item.SHA != "" || item.Commit != nil:
		return types.EventCommit, true
	case item.Number > 0:
		return types.EventIssue, true
	}
	return "", false
}

func githubAuthor(item types.GitHubItem) string {
	for _, u := range []*types.GitHubUser{item.User, item.Author} {
		if u != nil && u.Login != "" {
			return u.Login
		}
	}
	if item.Commit != nil && item.Commit.Author != nil {
		if item.Commit.Author.Email != "" {
			return item.Commit.Author.Email
		}
		return item.Commit.Author.Name
	}
	return ""
}

func githubRef(item types.GitHubItem) string {
	switch {
	case item.HTMLURL != "":
		return item.HTMLURL
	case item.SHA != "":
		return item.SHA
	case item.ID != 0:
		return strconv.FormatInt(item.ID, 10)
	case item.Number != 0:
		return "#" + strconv.Itoa(item.Number)
	}
	return ""
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// timestamps parses created and updated. A missing updated value equals
// created; ordering is left for aggregation to validate.
func timestamps(source types.Source, ref, createdRaw, updatedRaw string) (time.Time, time.Time, []Warning) {
	var warnings []Warning
	created, ok := parseTime(createdRaw)
	if !ok {
		warnings = append(warnings, Warning{Source: source, Ref: ref, Message: fmt.Sprintf("unparseable created timestamp %q", createdRaw)})
	}
	if strings.TrimSpace(updatedRaw) == "" {
		return created, created, warnings
	}
	updated, ok := parseTime(updatedRaw)
	if !ok {
		warnings = append(warnings, Warning{Source: source, Ref: ref, Message: fmt.Sprintf("unparseable updated timestamp %q", updatedRaw)})
		updated = created
	}
	return created, updated, warnings
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
