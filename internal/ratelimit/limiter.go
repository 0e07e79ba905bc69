package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/contrib-evaluator/internal/database"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/monitoring"
	"github.com/go-redis/redis_rate/v10"
	"golang.org/x/time/rate"
)

// Rate is a request budget over a period
type Rate struct {
	Limit  int
	Period time.Duration
}

// PerMinute builds a Rate of n requests per minute
func PerMinute(n int) Rate {
	return Rate{Limit: n, Period: time.Minute}
}

// Config holds rate limiter configuration
type Config struct {
	// Outbound budgets keyed by upstream name; DefaultOutbound covers the rest
	Outbound        map[string]Rate
	DefaultOutbound Rate
	// Inbound is the per-client budget for evaluation requests to the HTTP API
	Inbound         Rate
	BurstMultiplier int
	CleanupInterval time.Duration
}

// DefaultConfig returns budgets that stay inside the public API quotas
func DefaultConfig() Config {
	return Config{
		Outbound: map[string]Rate{
			"jira":       PerMinute(300),
			"confluence": PerMinute(300),
			"github":     PerMinute(30), // search API quota
		},
		DefaultOutbound: PerMinute(60),
		Inbound:         PerMinute(10),
		BurstMultiplier: 1,
		CleanupInterval: time.Hour,
	}
}

// Result represents the result of a rate limit check
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RateLimiter provides Redis-shared rate limiting with an in-memory fallback
type RateLimiter struct {
	redisLimiter *redis_rate.Limiter
	redisClient  *database.RedisClient
	config       Config
	metrics      *monitoring.Metrics

	fallbackLimiters map[string]*rate.Limiter
	fallbackMutex    sync.Mutex

	stop      chan struct{}
	closeOnce sync.Once
}

// NewRateLimiter creates a new rate limiter. redisClient may be nil or disabled.
func NewRateLimiter(redisClient *database.RedisClient, config Config, metrics *monitoring.Metrics) *RateLimiter {
	if config.BurstMultiplier <= 0 {
		config.BurstMultiplier = 1
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Hour
	}
	if config.DefaultOutbound.Limit <= 0 {
		config.DefaultOutbound = DefaultConfig().DefaultOutbound
	}

	rl := &RateLimiter{
		redisClient:      redisClient,
		config:           config,
		metrics:          metrics,
		fallbackLimiters: make(map[string]*rate.Limiter),
		stop:             make(chan struct{}),
	}

	if redisClient.IsEnabled() {
		rl.redisLimiter = redis_rate.NewLimiter(redisClient.GetClient())
		slog.Info("Redis rate limiter initialized")
	} else {
		slog.Debug("Redis unavailable, using in-memory rate limiting only")
	}

	go rl.cleanupLoop()

	return rl
}

// OutboundRate returns the budget for an upstream
func (rl *RateLimiter) OutboundRate(upstream string) Rate {
	if r, ok := rl.config.Outbound[upstream]; ok && r.Limit > 0 {
		return r
	}
	return rl.config.DefaultOutbound
}

// Wait blocks until a request to upstream fits its budget or ctx ends
func (rl *RateLimiter) Wait(ctx context.Context, upstream string) error {
	key := "ratelimit:outbound:" + upstream
	r := rl.OutboundRate(upstream)

	if rl.redisEnabled() {
		for {
			res, err := rl.allowRedis(ctx, key, r)
			if err != nil {
				slog.Warn("Redis rate limit check failed, using fallback", "key", key, "error", err)
				if rl.metrics != nil {
					rl.metrics.IncrementRateLimitRedisError()
				}
				break
			}
			if res.Allowed {
				return nil
			}
			rl.countWait()
			if err := sleepContext(ctx, res.RetryAfter); err != nil {
				return err
			}
		}
	}

	limiter := rl.localLimiter(key, r)
	if limiter.Allow() {
		return nil
	}
	rl.countWait()
	return limiter.Wait(ctx)
}

// AllowClient checks the inbound budget for a client address
func (rl *RateLimiter) AllowClient(ctx context.Context, ip string) (*Result, error) {
	return rl.Allow(ctx, fmt.Sprintf("ratelimit:client:%s", ip), rl.config.Inbound)
}

// Allow performs a non-blocking check against r for key
func (rl *RateLimiter) Allow(ctx context.Context, key string, r Rate) (*Result, error) {
	if r.Limit <= 0 || r.Period <= 0 {
		return &Result{Allowed: true}, nil
	}

	if rl.redisEnabled() {
		result, err := rl.allowRedis(ctx, key, r)
		if err == nil {
			return result, nil
		}
		slog.Warn("Redis rate limit check failed, using fallback", "key", key, "error", err)
		if rl.metrics != nil {
			rl.metrics.IncrementRateLimitRedisError()
		}
	}

	return rl.allowFallback(key, r), nil
}

func (rl *RateLimiter) redisEnabled() bool {
	return rl.redisLimiter != nil && rl.redisClient.IsEnabled()
}

// allowRedis performs rate limiting using the Redis GCRA limiter
func (rl *RateLimiter) allowRedis(ctx context.Context, key string, r Rate) (*Result, error) {
	limit := redis_rate.Limit{
		Rate:   r.Limit,
		Burst:  r.Limit * rl.config.BurstMultiplier,
		Period: r.Period,
	}

	res, err := rl.redisLimiter.Allow(ctx, key, limit)
	if err != nil {
		return nil, fmt.Errorf("redis rate limit check failed: %w", err)
	}

	return &Result{
		Allowed:    res.Allowed > 0,
		Limit:      res.Limit.Rate,
		Remaining:  res.Remaining,
		ResetAt:    time.Now().Add(res.ResetAfter),
		RetryAfter: res.RetryAfter,
	}, nil
}

func (rl *RateLimiter) localLimiter(key string, r Rate) *rate.Limiter {
	rl.fallbackMutex.Lock()
	defer rl.fallbackMutex.Unlock()

	limiter, exists := rl.fallbackLimiters[key]
	if !exists {
		rps := rate.Limit(float64(r.Limit) / r.Period.Seconds())
		burst := r.Limit * rl.config.BurstMultiplier
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rps, burst)
		rl.fallbackLimiters[key] = limiter
	}
	return limiter
}

// allowFallback performs rate limiting using an in-memory token bucket
func (rl *RateLimiter) allowFallback(key string, r Rate) *Result {
	limiter := rl.localLimiter(key, r)
	now := time.Now()
	allowed := limiter.AllowN(now, 1)

	remaining := int(limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}

	result := &Result{
		Allowed:   allowed,
		Limit:     r.Limit,
		Remaining: remaining,
		ResetAt:   now.Add(r.Period),
	}
	if !allowed {
		perToken := time.Duration(float64(time.Second) / float64(limiter.Limit()))
		result.RetryAfter = perToken
		result.ResetAt = now.Add(perToken)
	}
	return result
}

func (rl *RateLimiter) countWait() {
	if rl.metrics != nil {
		rl.metrics.IncrementRateLimitWait()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		d = 10 * time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

// cleanup drops per-client limiters once the map grows large
func (rl *RateLimiter) cleanup() {
	rl.fallbackMutex.Lock()
	defer rl.fallbackMutex.Unlock()

	if len(rl.fallbackLimiters) <= 1000 {
		return
	}
	slog.Info("Cleaning up fallback rate limiters", "count", len(rl.fallbackLimiters))
	for key := range rl.fallbackLimiters {
		if strings.HasPrefix(key, "ratelimit:client:") {
			delete(rl.fallbackLimiters, key)
		}
	}
}

// Close stops the background cleanup
func (rl *RateLimiter) Close() {
	rl.closeOnce.Do(func() { close(rl.stop) })
}

// GetStats returns rate limiter statistics
func (rl *RateLimiter) GetStats() map[string]interface{} {
	rl.fallbackMutex.Lock()
	fallbackCount := len(rl.fallbackLimiters)
	rl.fallbackMutex.Unlock()

	outbound := make(map[string]interface{}, len(rl.config.Outbound))
	for name, r := range rl.config.Outbound {
		outbound[name] = map[string]interface{}{
			"limit":          r.Limit,
			"period_seconds": r.Period.Seconds(),
		}
	}

	stats := map[string]interface{}{
		"redis_enabled":     rl.redisEnabled(),
		"fallback_limiters": fallbackCount,
		"outbound":          outbound,
		"inbound_limit":     rl.config.Inbound.Limit,
	}
	if rl.redisClient.IsEnabled() {
		stats["redis_pool"] = rl.redisClient.GetPoolStats()
	}
	return stats
}
