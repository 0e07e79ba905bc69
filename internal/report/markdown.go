package report

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/ZanzyTHEbar/contrib-evaluator/internal/evaluator"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/leaderboard"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/types"
)

var mdEscaper = strings.NewReplacer("|", `\|`, "\n", " ", "\r", "")

func cell(s string) string {
	return mdEscaper.Replace(s)
}

func renderMarkdown(w io.Writer, r *evaluator.Report) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "# Contribution report\n\n")
	fmt.Fprintf(bw, "- Run: `%s`\n", r.RunID)
	fmt.Fprintf(bw, "- Window: %s\n", windowLabel(r.Window))
	fmt.Fprintf(bw, "- Events: %d (%d with estimated time)\n", r.Result.EventCount, r.Result.EstimatedTimeEvents)
	fmt.Fprintf(bw, "- Composite: **%s**\n", num(r.Result.Composite))
	if r.Partial {
		fmt.Fprintf(bw, "- Status: partial, the run was cancelled\n")
	}

	fmt.Fprintf(bw, "\n## Leaderboard\n\n")
	header := []string{"Rank", "User", "Events"}
	for _, d := range types.Dimensions {
		header = append(header, string(d))
	}
	header = append(header, "Composite", "Share")
	fmt.Fprintf(bw, "| %s |\n", strings.Join(header, " | "))
	fmt.Fprintf(bw, "|%s\n", strings.Repeat("---|", len(header)))

	for _, e := range leaderboard.Build(r).Entries {
		res, _ := r.Result.User(e.UserID)
		cols := []string{fmt.Sprint(e.Rank), cell(e.UserID), fmt.Sprint(res.EventCount)}
		for _, d := range types.Dimensions {
			cols = append(cols, num(res.Totals.Get(d)))
		}
		cols = append(cols, num(res.Composite), fmt.Sprintf("%.1f%%", e.Share))
		fmt.Fprintf(bw, "| %s |\n", strings.Join(cols, " | "))
	}

	if len(r.Weights) > 0 {
		fmt.Fprintf(bw, "\n## Weights\n\n| Dimension | Weight |\n|---|---|\n")
		for _, name := range sortedWeights(r.Weights) {
			fmt.Fprintf(bw, "| %s | %s |\n", name, num(r.Weights[name]))
		}
	}

	for _, c := range r.Contributions {
		if len(c.Events) == 0 {
			continue
		}
		fmt.Fprintf(bw, "\n## %s\n\n| Source | Type | Title | Composite |\n|---|---|---|---|\n", cell(c.UserID))
		for _, ev := range c.Events {
			fmt.Fprintf(bw, "| %s | %s | %s | %s |\n", ev.Source, ev.Type, cell(ev.Title), num(ev.Composite))
		}
	}

	if len(r.Links) > 0 {
		fmt.Fprintf(bw, "\n## Issue links\n\n")
		for _, l := range r.Links {
			fmt.Fprintf(bw, "- **%s** from %s `%s`\n", l.IssueKey, l.Source, cell(l.EventRef))
		}
	}

	if len(r.Failures) > 0 || len(r.Warnings) > 0 || r.Result.SkippedCount() > 0 || len(r.DisabledSources) > 0 {
		fmt.Fprintf(bw, "\n## Data quality\n\n")
		for _, f := range r.Failures {
			fmt.Fprintf(bw, "- Source `%s` failed for %s: %s\n", f.Source, cell(f.UserID), cell(f.Error))
		}
		for _, s := range r.DisabledSources {
			fmt.Fprintf(bw, "- Source `%s` is not configured\n", s)
		}
		for _, wn := range r.Warnings {
			fmt.Fprintf(bw, "- Warning for %s on %s `%s`: %s\n", cell(wn.UserID), wn.Source, cell(wn.Ref), cell(wn.Message))
		}
		for _, s := range r.Result.Skipped {
			fmt.Fprintf(bw, "- Skipped %s `%s`: %s\n", s.Source, cell(s.RawRef), cell(s.Reason))
		}
	}

	return bw.Flush()
}
