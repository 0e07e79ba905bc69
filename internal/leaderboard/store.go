package leaderboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ZanzyTHEbar/contrib-evaluator/internal/cache"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/evaluator"
)

// saveTimeout bounds a save that has outlived its request
const saveTimeout = 5 * time.Second

// Store keeps finished reports for a limited time. Its backend holds nothing
// but reports, keyed by run id.
type Store struct {
	backend cache.Backend
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewStore creates a report store over backend. A non-positive ttl keeps
// reports until they are removed.
func NewStore(backend cache.Backend, ttl time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{backend: backend, ttl: ttl, logger: logger, now: time.Now}
}

// Save stores r under its run id. Failures are logged, never returned.
// Cancellation of ctx does not abort the write: partial reports are produced
// exactly when the caller's deadline has passed.
func (s *Store) Save(ctx context.Context, r *evaluator.Report) {
	if r == nil || r.RunID == "" {
		return
	}
	data, err := json.Marshal(r)
	if err != nil {
		s.logger.Error("Failed to marshal report for store", "error", err, "run_id", r.RunID)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()

	entry := cache.Entry{
		Key:       r.RunID,
		Payload:   data,
		Status:    http.StatusOK,
		Timestamp: cache.NormalizeTimestamp(s.now()),
	}
	if err := s.backend.Store(ctx, entry); err != nil {
		s.logger.Error("Failed to store report", "error", err, "run_id", r.RunID)
		return
	}
	s.logger.Debug("Report stored", "run_id", r.RunID, "users", len(r.Result.Users))
}

// Report returns the stored report for runID, if present and not expired
func (s *Store) Report(ctx context.Context, runID string) (*evaluator.Report, bool) {
	entry, ok, err := s.backend.Load(ctx, runID)
	if err != nil {
		s.logger.Error("Failed to load report", "error", err, "run_id", runID)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if !entry.Fresh(s.ttl, s.now()) {
		if _, err := s.backend.Delete(ctx, entry.Key); err != nil {
			s.logger.Warn("Failed to evict expired report", "error", err, "run_id", runID)
		}
		return nil, false
	}

	var r evaluator.Report
	if err := json.Unmarshal(entry.Payload, &r); err != nil {
		s.logger.Error("Failed to unmarshal stored report", "error", err, "run_id", runID)
		return nil, false
	}
	return &r, true
}

// Board returns the ranking of a stored run
func (s *Store) Board(ctx context.Context, runID string) (Board, bool) {
	r, ok := s.Report(ctx, runID)
	if !ok {
		return Board{}, false
	}
	return Build(r), true
}

// Recent lists stored run ids, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]string, error) {
	keys, err := s.backend.Keys(ctx, limit)
	if err != nil {
		return nil, err
	}
	now := s.now()
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		if s.ttl > 0 && now.Sub(k.Timestamp) > s.ttl {
			continue
		}
		ids = append(ids, k.Key)
	}
	return ids, nil
}

// Stats returns backend statistics
func (s *Store) Stats(ctx context.Context) (cache.Stats, error) {
	return s.backend.Stats(ctx)
}
