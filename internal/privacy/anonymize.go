// Package privacy strips personal identifiers from reports before they are
// shared outside the team that ran them.
package privacy

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/ZanzyTHEbar/contrib-evaluator/internal/analysis"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/evaluator"
)

const (
	hashPrefix = "user-"
	hashLength = 12
	// RedactedTitle replaces event titles when titles are redacted
	RedactedTitle = "[redacted]"
)

// Anonymizer replaces user ids with salted SHA-256 digests. The same salt
// yields the same pseudonym for a user across runs.
type Anonymizer struct {
	salt         string
	redactTitles bool
}

// Option configures an Anonymizer
type Option func(*Anonymizer)

// WithSalt mixes salt into every digest
func WithSalt(salt string) Option {
	return func(a *Anonymizer) { a.salt = salt }
}

// WithRedactedTitles also replaces event titles, which often carry names
func WithRedactedTitles() Option {
	return func(a *Anonymizer) { a.redactTitles = true }
}

// New creates an anonymizer
func New(opts ...Option) *Anonymizer {
	a := &Anonymizer{}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Pseudonym returns the stable replacement for id
func (a *Anonymizer) Pseudonym(id string) string {
	sum := sha256.Sum256([]byte(a.salt + "\x00" + id))
	return hashPrefix + hex.EncodeToString(sum[:])[:hashLength]
}

// Report returns an anonymized copy of r. r is not modified.
func (a *Anonymizer) Report(r *evaluator.Report) *evaluator.Report {
	if r == nil {
		return nil
	}
	out := *r

	out.Result = a.result(r.Result)

	out.Contributions = make([]evaluator.UserContributions, len(r.Contributions))
	for i, c := range r.Contributions {
		events := make([]analysis.EventScore, len(c.Events))
		copy(events, c.Events)
		if a.redactTitles {
			for j := range events {
				events[j].Title = RedactedTitle
			}
		}
		out.Contributions[i] = evaluator.UserContributions{UserID: a.Pseudonym(c.UserID), Events: events}
	}

	if r.Warnings != nil {
		out.Warnings = make([]evaluator.Warning, len(r.Warnings))
		for i, w := range r.Warnings {
			w.UserID = a.Pseudonym(w.UserID)
			out.Warnings[i] = w
		}
	}
	if r.Failures != nil {
		out.Failures = make([]evaluator.SourceFailure, len(r.Failures))
		for i, f := range r.Failures {
			f.UserID = a.Pseudonym(f.UserID)
			out.Failures[i] = f
		}
	}
	return &out
}

func (a *Anonymizer) result(res analysis.EvaluationResult) analysis.EvaluationResult {
	if res.Users == nil {
		return res
	}
	users := make([]analysis.UserResult, len(res.Users))
	for i, u := range res.Users {
		users[i] = analysis.UserResult{UserID: a.Pseudonym(u.UserID), Result: u.Result}
	}
	res.Users = users
	return res
}
