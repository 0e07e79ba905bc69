// Package correlate links GitHub and Confluence activity to Jira issues by
// scanning event text for issue keys.
package correlate

import (
	"fmt"
	"regexp"
	"sort"

	apperrors "github.com/ZanzyTHEbar/contrib-evaluator/internal/errors"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/types"
)

// DefaultKeyPattern matches Jira keys such as PROJ-123
const DefaultKeyPattern = `[A-Z][A-Z0-9]+-\d+`

const evidenceExcerpt = 100

// Link ties an event to an issue key found in its text
type Link struct {
	IssueKey string       `json:"issue_key"`
	EventRef string       `json:"event_ref"`
	Source   types.Source `json:"source"`
	Evidence string       `json:"evidence"`
}

// Linker finds issue keys with a fixed pattern
type Linker struct {
	pattern *regexp.Regexp
}

// NewLinker compiles pattern, or DefaultKeyPattern when empty
func NewLinker(pattern string) (*Linker, error) {
	if pattern == "" {
		pattern = DefaultKeyPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("invalid issue key pattern %q", pattern), err)
	}
	return &Linker{pattern: re}, nil
}

// FindKeys returns the distinct keys in text, sorted
func (l *Linker) FindKeys(text string) []string {
	matches := l.pattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	keys := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		keys = append(keys, m)
	}
	sort.Strings(keys)
	return keys
}

// KnownKeys collects the keys of the Jira events in events
func KnownKeys(events []types.ContributionEvent) map[string]struct{} {
	known := make(map[string]struct{})
	for _, e := range events {
		if e.Source == types.SourceJira && e.RawRef != "" {
			known[e.RawRef] = struct{}{}
		}
	}
	return known
}

// Link scans the title and ref of every non-Jira event for keys present in
// known. Links follow event order, then key order.
func (l *Linker) Link(events []types.ContributionEvent, known map[string]struct{}) []Link {
	var links []Link
	for _, e := range events {
		if e.Source == types.SourceJira {
			continue
		}
		found := make(map[string]string)
		for _, text := range []string{e.Title, e.RawRef} {
			for _, key := range l.FindKeys(text) {
				if _, ok := known[key]; !ok {
					continue
				}
				if _, dup := found[key]; !dup {
					found[key] = excerpt(text)
				}
			}
		}

		keys := make([]string, 0, len(found))
		for k := range found {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			links = append(links, Link{
				IssueKey: k,
				EventRef: e.RawRef,
				Source:   e.Source,
				Evidence: fmt.Sprintf("text match: %q", found[k]),
			})
		}
	}
	return links
}

func excerpt(s string) string {
	r := []rune(s)
	if len(r) > evidenceExcerpt {
		return string(r[:evidenceExcerpt])
	}
	return s
}
