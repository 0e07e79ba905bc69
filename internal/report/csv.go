package report

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/ZanzyTHEbar/contrib-evaluator/internal/evaluator"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/types"
)

func csvHeader() []string {
	header := []string{"user_id", "event_count", "estimated_time_events", "skipped_count"}
	for _, d := range types.Dimensions {
		header = append(header, string(d))
	}
	return append(header, "composite")
}

// renderCSV writes one row per user in ranking order and a closing TOTAL row
func renderCSV(w io.Writer, r *evaluator.Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader()); err != nil {
		return err
	}

	for _, row := range rows(r) {
		res := row.Result
		record := []string{
			row.Label,
			strconv.Itoa(res.EventCount),
			strconv.Itoa(res.EstimatedTimeEvents),
			strconv.Itoa(res.SkippedCount()),
		}
		for _, d := range types.Dimensions {
			record = append(record, strconv.FormatFloat(res.Totals.Get(d), 'f', -1, 64))
		}
		record = append(record, strconv.FormatFloat(res.Composite, 'f', -1, 64))
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
