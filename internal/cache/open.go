package cache

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ZanzyTHEbar/contrib-evaluator/internal/database"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/monitoring"
)

// Backend kinds accepted by Open
const (
	KindSQLite = "sqlite"
	KindRedis  = "redis"
	KindMemory = "memory"
	KindNone   = "none"
)

// Options selects and locates the cache storage
type Options struct {
	Kind  string
	Path  string
	Redis *database.RedisClient
}

// Open builds the cache described by opts. For KindNone the returned Backend is
// nil and the Cache is Nop.
func Open(opts Options, logger *slog.Logger, metrics *monitoring.Metrics) (Cache, Backend, error) {
	var backend Backend
	switch strings.ToLower(opts.Kind) {
	case KindNone:
		return Nop{}, nil, nil
	case KindMemory:
		backend = NewMemoryBackend()
	case KindRedis:
		rb, err := NewRedisBackend(opts.Redis)
		if err != nil {
			return nil, nil, err
		}
		backend = rb
	case KindSQLite, "":
		sb, err := OpenSQLite(opts.Path)
		if err != nil {
			return nil, nil, err
		}
		backend = sb
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", opts.Kind)
	}
	return NewPersistent(backend, logger, metrics), backend, nil
}
