// Package leaderboard ranks the users of an evaluation by composite score and
// keeps recent reports so their boards can be served after the run.
package leaderboard

import (
	"sort"

	"github.com/ZanzyTHEbar/contrib-evaluator/internal/evaluator"
)

// Entry is one ranked user
type Entry struct {
	Rank       int     `json:"rank"`
	UserID     string  `json:"user_id"`
	Composite  float64 `json:"composite"`
	EventCount int     `json:"event_count"`
	// Share is the user's percentage of the summed composite
	Share float64 `json:"share"`
}

// Board is the ranking of one run
type Board struct {
	RunID   string  `json:"run_id"`
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Partial bool    `json:"partial"`
}

// Build ranks the users of r. Equal composites share a rank and are listed by
// user id; the next distinct score skips the tied places (1, 1, 3).
func Build(r *evaluator.Report) Board {
	board := Board{Entries: []Entry{}}
	if r == nil {
		return board
	}
	board.RunID = r.RunID
	board.Partial = r.Partial

	var sum float64
	for _, u := range r.Result.Users {
		board.Entries = append(board.Entries, Entry{
			UserID:     u.UserID,
			Composite:  u.Result.Composite,
			EventCount: u.Result.EventCount,
		})
		sum += u.Result.Composite
	}

	sort.SliceStable(board.Entries, func(i, j int) bool {
		a, b := board.Entries[i], board.Entries[j]
		if a.Composite != b.Composite {
			return a.Composite > b.Composite
		}
		return a.UserID < b.UserID
	})

	for i := range board.Entries {
		e := &board.Entries[i]
		if i > 0 && e.Composite == board.Entries[i-1].Composite {
			e.Rank = board.Entries[i-1].Rank
		} else {
			e.Rank = i + 1
		}
		if sum > 0 {
			e.Share = e.Composite / sum * 100
		}
	}
	board.Total = len(board.Entries)
	return board
}

// Top returns at most limit entries; a non-positive limit returns all
func (b Board) Top(limit int) []Entry {
	if limit <= 0 || limit >= len(b.Entries) {
		return b.Entries
	}
	return b.Entries[:limit]
}

// Rank returns the entry for userID
func (b Board) Rank(userID string) (Entry, bool) {
	for _, e := range b.Entries {
		if e.UserID == userID {
			return e, true
		}
	}
	return Entry{}, false
}
