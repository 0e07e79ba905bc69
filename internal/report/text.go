package report

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/ZanzyTHEbar/contrib-evaluator/internal/evaluator"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/leaderboard"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/types"
)

func renderText(w io.Writer, r *evaluator.Report) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "Contribution report %s\n", r.RunID)
	fmt.Fprintf(bw, "Window: %s\n", windowLabel(r.Window))
	if r.Partial {
		fmt.Fprintln(bw, "Status: PARTIAL (run was cancelled)")
	}
	fmt.Fprintf(bw, "Composite: %s over %d events (%d with estimated time, %d skipped)\n\n",
		num(r.Result.Composite), r.Result.EventCount, r.Result.EstimatedTimeEvents, r.Result.SkippedCount())

	tw := tabwriter.NewWriter(bw, 0, 0, 2, ' ', tabwriter.AlignRight)
	header := []string{"RANK", "USER", "EVENTS"}
	for _, d := range types.Dimensions {
		header = append(header, strings.ToUpper(string(d)))
	}
	header = append(header, "COMPOSITE")
	fmt.Fprintln(tw, strings.Join(header, "\t")+"\t")

	board := leaderboard.Build(r)
	for _, e := range board.Entries {
		res, _ := r.Result.User(e.UserID)
		cols := []string{fmt.Sprint(e.Rank), e.UserID, fmt.Sprint(res.EventCount)}
		for _, d := range types.Dimensions {
			cols = append(cols, num(res.Totals.Get(d)))
		}
		cols = append(cols, num(res.Composite))
		fmt.Fprintln(tw, strings.Join(cols, "\t")+"\t")
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(r.Links) > 0 {
		fmt.Fprintf(bw, "\nLinks (%d):\n", len(r.Links))
		for _, l := range r.Links {
			fmt.Fprintf(bw, "  %s <- %s %s\n", l.IssueKey, l.Source, l.EventRef)
		}
	}
	if len(r.Failures) > 0 {
		fmt.Fprintf(bw, "\nFailed sources (%d):\n", len(r.Failures))
		for _, f := range r.Failures {
			fmt.Fprintf(bw, "  %s/%s: %s\n", f.UserID, f.Source, f.Error)
		}
	}
	if len(r.DisabledSources) > 0 {
		names := make([]string, 0, len(r.DisabledSources))
		for _, s := range r.DisabledSources {
			names = append(names, string(s))
		}
		fmt.Fprintf(bw, "\nDisabled sources: %s\n", strings.Join(names, ", "))
	}
	if len(r.Warnings) > 0 {
		fmt.Fprintf(bw, "\nWarnings (%d):\n", len(r.Warnings))
		for _, wn := range r.Warnings {
			fmt.Fprintf(bw, "  %s %s %s: %s\n", wn.UserID, wn.Source, wn.Ref, wn.Message)
		}
	}
	if n := r.Result.SkippedCount(); n > 0 {
		fmt.Fprintf(bw, "\nSkipped events (%d):\n", n)
		for _, s := range r.Result.Skipped {
			fmt.Fprintf(bw, "  %s %s: %s\n", s.Source, s.RawRef, s.Reason)
		}
	}

	return bw.Flush()
}
