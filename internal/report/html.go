package report

import (
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/ZanzyTHEbar/contrib-evaluator/internal/analysis"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/evaluator"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/leaderboard"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/types"
)

//go:embed templates/*.html.tmpl
var templatesFS embed.FS

var htmlTemplate = template.Must(
	template.New("report.html.tmpl").
		Funcs(template.FuncMap{
			"num":   num,
			"score": func(s analysis.Scores, d types.Dimension) string { return num(s.Get(d)) },
			"pct":   func(v float64) string { return fmt.Sprintf("%.1f%%", v) },
		}).
		ParseFS(templatesFS, "templates/report.html.tmpl"),
)

type htmlUser struct {
	Entry  leaderboard.Entry
	Result analysis.EvaluationResult
	Events []analysis.EventScore
}

type htmlView struct {
	Report     *evaluator.Report
	Window     string
	Dimensions []types.Dimension
	Weights    []string
	Users      []htmlUser
}

func renderHTML(w io.Writer, r *evaluator.Report) error {
	events := make(map[string][]analysis.EventScore, len(r.Contributions))
	for _, c := range r.Contributions {
		events[c.UserID] = c.Events
	}

	view := htmlView{
		Report:     r,
		Window:     windowLabel(r.Window),
		Dimensions: types.Dimensions,
		Weights:    sortedWeights(r.Weights),
	}
	for _, e := range leaderboard.Build(r).Entries {
		res, _ := r.Result.User(e.UserID)
		view.Users = append(view.Users, htmlUser{Entry: e, Result: res, Events: events[e.UserID]})
	}
	return htmlTemplate.Execute(w, view)
}
