// Package evaluator runs a full evaluation: concurrent fetches per user and
// source, normalization, scoring and issue correlation.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ZanzyTHEbar/contrib-evaluator/internal/adapters"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/analysis"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/correlate"
	apperrors "github.com/ZanzyTHEbar/contrib-evaluator/internal/errors"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/monitoring"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/normalize"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/types"
)

// DefaultConcurrency bounds in-flight source fetches
const DefaultConcurrency = 4

// User is one person to evaluate. Handles override ID per source, for
// people whose Jira account differs from their GitHub login.
type User struct {
	ID      string                  `json:"id" validate:"required"`
	Handles map[types.Source]string `json:"handles,omitempty"`
}

// Handle returns the identifier to query source with
func (u User) Handle(source types.Source) string {
	if h := u.Handles[source]; h != "" {
		return h
	}
	return u.ID
}

// Request selects who and when to evaluate
type Request struct {
	Users  []User           `json:"users"`
	Window types.TimeWindow `json:"window"`
}

// SourceFailure records a source that could not be read for a user
type SourceFailure struct {
	UserID string       `json:"user_id"`
	Source types.Source `json:"source"`
	Error  string       `json:"error"`
}

// Warning is a normalization warning attributed to a user
type Warning struct {
	UserID string `json:"user_id"`
	normalize.Warning
}

// UserContributions lists the scored events of one user
type UserContributions struct {
	UserID string                `json:"user_id"`
	Events []analysis.EventScore `json:"events"`
}

// Report is the outcome of one evaluation run
type Report struct {
	RunID           string                    `json:"run_id"`
	GeneratedAt     time.Time                 `json:"generated_at"`
	Window          types.TimeWindow          `json:"window"`
	Weights         map[string]float64        `json:"weights"`
	Result          analysis.EvaluationResult `json:"result"`
	Contributions   []UserContributions       `json:"contributions"`
	Links           []correlate.Link          `json:"links,omitempty"`
	Warnings        []Warning                 `json:"warnings,omitempty"`
	Failures        []SourceFailure           `json:"failures,omitempty"`
	DisabledSources []types.Source            `json:"disabled_sources,omitempty"`
	// Partial is set when the run was cancelled; only users whose
	// fetches all finished are included.
	Partial  bool          `json:"partial"`
	Duration time.Duration `json:"duration"`
}

// Options configures an Evaluator
type Options struct {
	Concurrency int
	Linker      *correlate.Linker
	Logger      *monitoring.Logger
	Metrics     *monitoring.Metrics
}

// Evaluator is safe for concurrent use; each Evaluate call is independent
type Evaluator struct {
	engine      *analysis.Engine
	sources     []adapters.Source
	linker      *correlate.Linker
	logger      *monitoring.Logger
	metrics     *monitoring.Metrics
	concurrency int
	now         func() time.Time
}

// New creates an evaluator over sources
func New(engine *analysis.Engine, sources []adapters.Source, opts Options) (*Evaluator, error) {
	if engine == nil {
		return nil, apperrors.NewConfigurationError("evaluator requires a metrics engine", nil)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = monitoring.Discard()
	}
	if opts.Linker == nil {
		l, err := correlate.NewLinker("")
		if err != nil {
			return nil, err
		}
		opts.Linker = l
	}
	return &Evaluator{
		engine:      engine,
		sources:     sources,
		linker:      opts.Linker,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		concurrency: opts.Concurrency,
		now:         time.Now,
	}, nil
}

type fetchResult struct {
	records []types.RawRecord
	err     error
	done    bool
}

// Evaluate fetches, normalizes and scores every user in req. Source failures
// are recorded in the report and never abort the run. When ctx is cancelled
// the report covers the users that finished and the context error is returned
// alongside it.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (*Report, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	start := e.now()

	report := &Report{
		RunID:       uuid.New().String(),
		GeneratedAt: start.UTC(),
		Window:      req.Window,
		Weights:     e.engine.Weights().ToMap(),
	}

	var active []adapters.Source
	for _, s := range e.sources {
		if s.Enabled() {
			active = append(active, s)
		} else {
			report.DisabledSources = append(report.DisabledSources, s.Name())
		}
	}

	results := make([][]fetchResult, len(req.Users))
	for i := range results {
		results[i] = make([]fetchResult, len(active))
	}

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for ui, user := range req.Users {
		for si, source := range active {
			if ctx.Err() != nil {
				break
			}
			ui, si, user, source := ui, si, user, source
			g.Go(func() error {
				records, err := source.Fetch(ctx, user.Handle(source.Name()), req.Window)
				results[ui][si] = fetchResult{records: records, err: err, done: true}
				return nil
			})
		}
	}
	_ = g.Wait()

	cancelled := ctx.Err() != nil
	var perUser []analysis.UserEvents
	var all []types.ContributionEvent
	warningCount := 0

	for ui, user := range req.Users {
		if cancelled && !complete(results[ui]) {
			continue
		}

		var events []types.ContributionEvent
		for si, source := range active {
			res := results[ui][si]
			if res.err != nil {
				report.Failures = append(report.Failures, SourceFailure{
					UserID: user.ID,
					Source: source.Name(),
					Error:  res.err.Error(),
				})
				apperrors.Log(e.logger.Logger, apperrors.ToAppError(res.err))
			}
			for _, raw := range res.records {
				ev, warnings := normalize.Record(raw)
				for _, w := range warnings {
					e.logger.NormalizationLogger(string(w.Source), w.Subtype, w.Ref, string(w.DefaultedTo))
					report.Warnings = append(report.Warnings, Warning{UserID: user.ID, Warning: w})
				}
				warningCount += len(warnings)
				events = append(events, ev)
			}
		}

		perUser = append(perUser, analysis.UserEvents{UserID: user.ID, Events: events})
		report.Contributions = append(report.Contributions, UserContributions{
			UserID: user.ID,
			Events: e.engine.ScoreEvents(events),
		})
		all = append(all, events...)
	}

	report.Result = e.engine.AggregateMulti(perUser)
	for _, s := range report.Result.Skipped {
		e.logger.Warn("Event skipped", "source", s.Source, "ref", s.RawRef, "reason", s.Reason)
	}
	report.Links = e.linker.Link(all, correlate.KnownKeys(all))
	report.Partial = cancelled
	report.Duration = e.now().Sub(start)

	if e.metrics != nil {
		e.metrics.RecordEvaluation(report.Result.EventCount, report.Result.SkippedCount(), warningCount)
	}
	e.logger.EvaluationLogger(report.RunID, len(report.Result.Users), report.Result.EventCount,
		report.Result.SkippedCount(), report.Result.Composite, report.Duration)

	if cancelled {
		return report, ctx.Err()
	}
	return report, nil
}

func complete(results []fetchResult) bool {
	for _, r := range results {
		if !r.done || isContextError(r.err) {
			return false
		}
	}
	return true
}

func isContextError(err error) bool {
	return err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

func validateRequest(req Request) error {
	if len(req.Users) == 0 {
		return apperrors.NewValidationError("at least one user is required", "users")
	}
	seen := make(map[string]struct{}, len(req.Users))
	for _, u := range req.Users {
		if u.ID == "" {
			return apperrors.NewValidationError("user id must not be empty", "users")
		}
		if _, dup := seen[u.ID]; dup {
			return apperrors.NewValidationError(fmt.Sprintf("user %q listed twice", u.ID), "users")
		}
		seen[u.ID] = struct{}{}
	}
	if !req.Window.Start.IsZero() && !req.Window.End.IsZero() && req.Window.End.Before(req.Window.Start) {
		return apperrors.NewValidationError("window end precedes start", "window")
	}
	return nil
}
