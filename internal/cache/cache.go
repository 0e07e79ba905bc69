package cache

import (
	"context"
	"log/slog"
	"math"
	"time"

	apperrors "github.com/ZanzyTHEbar/contrib-evaluator/internal/errors"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/monitoring"
)

// Entry is a stored upstream response
type Entry struct {
	Key       string
	Payload   []byte
	Status    int
	Timestamp time.Time
}

// Fresh reports whether the entry is younger than maxAge at now. A zero maxAge
// accepts any entry.
func (e Entry) Fresh(maxAge time.Duration, now time.Time) bool {
	if maxAge <= 0 {
		return true
	}
	return now.Sub(e.Timestamp) <= maxAge
}

// Cache is the contract every adapter fetches through. Get never contacts the
// origin and Put never fails the caller.
type Cache interface {
	Get(ctx context.Context, key string) (Entry, bool)
	Put(ctx context.Context, key string, payload []byte, status int, ts time.Time)
}

// Stats summarizes a backend's contents
type Stats struct {
	Count  int64     `json:"count"`
	Oldest time.Time `json:"oldest,omitempty"`
	Newest time.Time `json:"newest,omitempty"`
}

// KeyInfo describes one stored entry without its payload
type KeyInfo struct {
	Key       string    `json:"key"`
	Status    int       `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Backend is durable or shared storage behind Persistent. Unlike Cache, every
// method surfaces I/O errors.
type Backend interface {
	Load(ctx context.Context, key string) (Entry, bool, error)
	Store(ctx context.Context, entry Entry) error
	Delete(ctx context.Context, key string) (bool, error)
	Clear(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (Stats, error)
	Keys(ctx context.Context, limit int) ([]KeyInfo, error)
	// Partition returns storage on the same connection whose keys never mix with b's
	Partition(name string) (Backend, error)
	Close() error
}

// PartitionReports holds finished evaluation reports
const PartitionReports = "reports"

// Persistent adapts a Backend to the Cache contract
type Persistent struct {
	backend Backend
	logger  *slog.Logger
	metrics *monitoring.Metrics
}

// NewPersistent wraps backend. logger and metrics may be nil.
func NewPersistent(backend Backend, logger *slog.Logger, metrics *monitoring.Metrics) *Persistent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Persistent{backend: backend, logger: logger, metrics: metrics}
}

// Backend exposes the wrapped storage for administration
func (p *Persistent) Backend() Backend {
	return p.backend
}

// Get returns the entry for key. Backend failures are reported and treated as a miss.
func (p *Persistent) Get(ctx context.Context, key string) (Entry, bool) {
	entry, ok, err := p.backend.Load(ctx, key)
	if err != nil {
		p.reportIOError("get", key, err)
		p.miss()
		return Entry{}, false
	}
	if !ok {
		p.miss()
		return Entry{}, false
	}
	if p.metrics != nil {
		p.metrics.IncrementCacheHit()
	}
	return entry, true
}

// Put stores payload under key, replacing any previous entry
func (p *Persistent) Put(ctx context.Context, key string, payload []byte, status int, ts time.Time) {
	entry := Entry{
		Key:       key,
		Payload:   append([]byte(nil), payload...),
		Status:    status,
		Timestamp: NormalizeTimestamp(ts),
	}
	if err := p.backend.Store(ctx, entry); err != nil {
		p.reportIOError("put", key, err)
		return
	}
	if p.metrics != nil {
		p.metrics.IncrementCacheWrite()
	}
}

// Close releases the backend
func (p *Persistent) Close() error {
	return p.backend.Close()
}

func (p *Persistent) miss() {
	if p.metrics != nil {
		p.metrics.IncrementCacheMiss()
	}
}

func (p *Persistent) reportIOError(op, key string, err error) {
	if p.metrics != nil {
		p.metrics.IncrementCacheIOError()
	}
	apperrors.Log(p.logger, apperrors.NewCacheIOError(op, key, err))
}

// Nop is the cache used when caching is disabled
type Nop struct{}

// Get always misses
func (Nop) Get(context.Context, string) (Entry, bool) { return Entry{}, false }

// Put discards the entry
func (Nop) Put(context.Context, string, []byte, int, time.Time) {}

// NormalizeTimestamp converts ts to UTC at microsecond precision, the resolution
// every backend can represent exactly
func NormalizeTimestamp(ts time.Time) time.Time {
	return ts.UTC().Truncate(time.Microsecond)
}

// toEpoch and fromEpoch convert between timestamps and the REAL seconds
// column of the persistence layout
func toEpoch(ts time.Time) float64 {
	return float64(ts.UnixMicro()) / 1e6
}

func fromEpoch(sec float64) time.Time {
	return time.UnixMicro(int64(math.Round(sec * 1e6))).UTC()
}
