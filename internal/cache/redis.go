package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ZanzyTHEbar/contrib-evaluator/internal/database"
	"github.com/redis/go-redis/v9"
)

const redisNamespace = "contrib:"

// RedisBackend shares entries between processes. Each entry is a hash with
// response, status and timestamp fields; a sorted set scored by timestamp
// indexes the keys.
type RedisBackend struct {
	client *redis.Client
	prefix string
	index  string
}

// NewRedisBackend uses an enabled Redis client
func NewRedisBackend(rc *database.RedisClient) (*RedisBackend, error) {
	if !rc.IsEnabled() {
		return nil, fmt.Errorf("redis client is not enabled")
	}
	return newRedisBackend(rc.GetClient(), "cache"), nil
}

func newRedisBackend(client *redis.Client, partition string) *RedisBackend {
	prefix := redisNamespace + partition + ":"
	return &RedisBackend{client: client, prefix: prefix, index: prefix + "index"}
}

func (r *RedisBackend) entryKey(key string) string {
	return r.prefix + key
}

// Load retrieves an entry
func (r *RedisBackend) Load(ctx context.Context, key string) (Entry, bool, error) {
	fields, err := r.client.HGetAll(ctx, r.entryKey(key)).Result()
	if err != nil {
		return Entry{}, false, err
	}
	if len(fields) == 0 {
		return Entry{}, false, nil
	}

	status, err := strconv.Atoi(fields["status"])
	if err != nil {
		return Entry{}, false, fmt.Errorf("corrupt status for %s: %w", key, err)
	}
	ts, err := strconv.ParseFloat(fields["timestamp"], 64)
	if err != nil {
		return Entry{}, false, fmt.Errorf("corrupt timestamp for %s: %w", key, err)
	}

	return Entry{
		Key:       key,
		Payload:   []byte(fields["response"]),
		Status:    status,
		Timestamp: fromEpoch(ts),
	}, true, nil
}

// Store saves an entry and indexes it in one transaction
func (r *RedisBackend) Store(ctx context.Context, entry Entry) error {
	ts := toEpoch(entry.Timestamp)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.entryKey(entry.Key))
		pipe.HSet(ctx, r.entryKey(entry.Key),
			"response", string(entry.Payload),
			"status", entry.Status,
			"timestamp", strconv.FormatFloat(ts, 'f', -1, 64),
		)
		pipe.ZAdd(ctx, r.index, redis.Z{Score: ts, Member: entry.Key})
		return nil
	})
	return err
}

// Delete removes an entry
func (r *RedisBackend) Delete(ctx context.Context, key string) (bool, error) {
	var removed *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.Del(ctx, r.entryKey(key))
		pipe.ZRem(ctx, r.index, key)
		return nil
	})
	if err != nil {
		return false, err
	}
	return removed.Val() > 0, nil
}

// Clear removes every indexed entry
func (r *RedisBackend) Clear(ctx context.Context) (int64, error) {
	keys, err := r.client.ZRange(ctx, r.index, 0, -1).Result()
	if err != nil {
		return 0, err
	}

	const batch = 500
	for start := 0; start < len(keys); start += batch {
		end := start + batch
		if end > len(keys) {
			end = len(keys)
		}
		names := make([]string, 0, end-start)
		for _, k := range keys[start:end] {
			names = append(names, r.entryKey(k))
		}
		if err := r.client.Del(ctx, names...).Err(); err != nil {
			return 0, err
		}
	}
	if err := r.client.Del(ctx, r.index).Err(); err != nil {
		return 0, err
	}
	return int64(len(keys)), nil
}

// Stats returns entry count and age range
func (r *RedisBackend) Stats(ctx context.Context) (Stats, error) {
	count, err := r.client.ZCard(ctx, r.index).Result()
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Count: count}
	if count == 0 {
		return stats, nil
	}

	oldest, err := r.client.ZRangeWithScores(ctx, r.index, 0, 0).Result()
	if err != nil {
		return Stats{}, err
	}
	newest, err := r.client.ZRevRangeWithScores(ctx, r.index, 0, 0).Result()
	if err != nil {
		return Stats{}, err
	}
	if len(oldest) > 0 {
		stats.Oldest = fromEpoch(oldest[0].Score)
	}
	if len(newest) > 0 {
		stats.Newest = fromEpoch(newest[0].Score)
	}
	return stats, nil
}

// Keys lists entries newest first
func (r *RedisBackend) Keys(ctx context.Context, limit int) ([]KeyInfo, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	members, err := r.client.ZRevRangeWithScores(ctx, r.index, 0, stop).Result()
	if err != nil {
		return nil, err
	}

	keys := make([]KeyInfo, 0, len(members))
	for _, m := range members {
		key, _ := m.Member.(string)
		status, err := r.client.HGet(ctx, r.entryKey(key), "status").Int()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, err
		}
		keys = append(keys, KeyInfo{Key: key, Status: status, Timestamp: fromEpoch(m.Score)})
	}
	sortNewestFirst(keys)
	return keys, nil
}

// Partition returns a backend with its own key prefix and index on the same client
func (r *RedisBackend) Partition(name string) (Backend, error) {
	if name == "" || r.prefix == redisNamespace+name+":" {
		return nil, fmt.Errorf("invalid redis partition %q", name)
	}
	return newRedisBackend(r.client, name), nil
}

// Close is a no-op; the shared client is owned by the caller
func (r *RedisBackend) Close() error { return nil }
