// Package report renders evaluation reports for people and spreadsheets.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/contrib-evaluator/internal/analysis"
	apperrors "github.com/ZanzyTHEbar/contrib-evaluator/internal/errors"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/evaluator"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/leaderboard"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/types"
)

// Format names an output format
type Format string

const (
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "md"
	FormatText     Format = "text"
	FormatHTML     Format = "html"
)

// Formats lists the supported formats
var Formats = []Format{FormatJSON, FormatCSV, FormatMarkdown, FormatText, FormatHTML}

// ParseFormat accepts a format name, case-insensitively. "markdown" and
// "txt" are accepted as aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	case "text", "txt":
		return FormatText, nil
	case "html":
		return FormatHTML, nil
	}
	return "", apperrors.NewValidationError(fmt.Sprintf("unsupported report format %q", s))
}

// ContentType returns the media type served for f
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatText:
		return "text/plain; charset=utf-8"
	case FormatHTML:
		return "text/html; charset=utf-8"
	}
	return "application/json; charset=utf-8"
}

// Render writes r to w in the named format
func Render(w io.Writer, format string, r *evaluator.Report) error {
	f, err := ParseFormat(format)
	if err != nil {
		return err
	}
	return RenderFormat(w, f, r)
}

// RenderFormat writes r to w in format f
func RenderFormat(w io.Writer, f Format, r *evaluator.Report) error {
	if r == nil {
		return apperrors.NewValidationError("nothing to render")
	}

	var err error
	switch f {
	case FormatJSON:
		err = renderJSON(w, r)
	case FormatCSV:
		err = renderCSV(w, r)
	case FormatMarkdown:
		err = renderMarkdown(w, r)
	case FormatText:
		err = renderText(w, r)
	case FormatHTML:
		err = renderHTML(w, r)
	default:
		return apperrors.NewValidationError(fmt.Sprintf("unsupported report format %q", f))
	}
	if err != nil {
		return apperrors.WrapError(err, "render %s report", f)
	}
	return nil
}

// document is the serialized shape of a report. The result goes through
// ToMap so every renderer sees the same primitives.
type document struct {
	RunID           string                        `json:"run_id"`
	GeneratedAt     string                        `json:"generated_at"`
	Window          window                        `json:"window"`
	Weights         map[string]float64            `json:"weights"`
	Result          map[string]interface{}        `json:"result"`
	Leaderboard     []leaderboard.Entry           `json:"leaderboard"`
	Contributions   []evaluator.UserContributions `json:"contributions,omitempty"`
	Links           interface{}                   `json:"links,omitempty"`
	Warnings        []evaluator.Warning           `json:"warnings,omitempty"`
	Failures        []evaluator.SourceFailure     `json:"failures,omitempty"`
	DisabledSources []types.Source                `json:"disabled_sources,omitempty"`
	Partial         bool                          `json:"partial"`
	DurationMS      int64                         `json:"duration_ms"`
}

type window struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

func newDocument(r *evaluator.Report) document {
	doc := document{
		RunID:           r.RunID,
		GeneratedAt:     r.GeneratedAt.UTC().Format(time.RFC3339),
		Window:          windowOf(r.Window),
		Weights:         r.Weights,
		Result:          r.Result.ToMap(),
		Leaderboard:     leaderboard.Build(r).Entries,
		Contributions:   r.Contributions,
		Warnings:        r.Warnings,
		Failures:        r.Failures,
		DisabledSources: r.DisabledSources,
		Partial:         r.Partial,
		DurationMS:      r.Duration.Milliseconds(),
	}
	if len(r.Links) > 0 {
		doc.Links = r.Links
	}
	return doc
}

func windowOf(w types.TimeWindow) window {
	var out window
	if !w.Start.IsZero() {
		out.Start = w.Start.UTC().Format(types.DateLayout)
	}
	if !w.End.IsZero() {
		out.End = w.End.UTC().Format(types.DateLayout)
	}
	return out
}

func renderJSON(w io.Writer, r *evaluator.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(newDocument(r))
}

// row is one line of a per-user table
type row struct {
	Label  string
	Result analysis.EvaluationResult
}

// rows returns the per-user rows in ranking order followed by the total
func rows(r *evaluator.Report) []row {
	board := leaderboard.Build(r)
	out := make([]row, 0, len(board.Entries)+1)
	for _, e := range board.Entries {
		res, _ := r.Result.User(e.UserID)
		out = append(out, row{Label: e.UserID, Result: res})
	}
	out = append(out, row{Label: "TOTAL", Result: r.Result})
	return out
}

func windowLabel(w types.TimeWindow) string {
	win := windowOf(w)
	start, end := win.Start, win.End
	if start == "" {
		start = "beginning"
	}
	if end == "" {
		end = "now"
	}
	return start + " .. " + end
}

func sortedWeights(weights map[string]float64) []string {
	names := make([]string, 0, len(weights))
	for _, d := range types.Dimensions {
		if _, ok := weights[string(d)]; ok {
			names = append(names, string(d))
		}
	}
	var extra []string
	for name := range weights {
		if _, ok := types.ParseDimension(name); !ok {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

func num(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
