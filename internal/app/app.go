// Package app assembles the evaluator and its infrastructure from a Config.
// Both the HTTP server and the CLI start from here.
package app

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ZanzyTHEbar/contrib-evaluator/internal/adapters"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/analysis"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/cache"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/config"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/correlate"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/database"
	apperrors "github.com/ZanzyTHEbar/contrib-evaluator/internal/errors"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/evaluator"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/monitoring"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/privacy"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/ratelimit"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/resilience"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/weights"
)

// App holds the long-lived components of one process
type App struct {
	Config  *config.Config
	Logger  *monitoring.Logger
	Metrics *monitoring.Metrics

	Redis         *database.RedisClient
	Cache         cache.Cache
	CacheBackend  cache.Backend // nil when caching is disabled
	ReportBackend cache.Backend // CacheBackend's storage under separate keys
	Limiter       *ratelimit.RateLimiter
	Breakers      *resilience.CircuitBreakerRegistry

	Weights    *weights.Resolver
	Linker     *correlate.Linker
	Sources    []adapters.Source
	Anonymizer *privacy.Anonymizer
}

// New builds every component described by cfg. logger may be nil.
func New(cfg *config.Config, logger *monitoring.Logger) (*App, error) {
	if cfg == nil {
		return nil, apperrors.NewConfigurationError("no configuration", nil)
	}
	if logger == nil {
		logger = monitoring.Discard()
	}
	a := &App{
		Config:     cfg,
		Logger:     logger,
		Metrics:    monitoring.NewMetrics(),
		Anonymizer: privacy.New(privacy.WithSalt(cfg.AnonymizeSalt)),
	}

	resolver := weights.Default()
	if cfg.WeightsFile != "" {
		r, err := weights.Load(cfg.WeightsFile)
		if err != nil {
			return nil, err
		}
		resolver = r
	}
	if _, err := resolver.Resolve(cfg.WeightsPreset); err != nil {
		return nil, err
	}
	a.Weights = resolver

	linker, err := correlate.NewLinker(cfg.KeyPattern)
	if err != nil {
		return nil, err
	}
	a.Linker = linker

	rc, err := database.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		if cfg.Cache.Backend == cache.KindRedis {
			return nil, apperrors.NewConfigurationError("redis cache backend unavailable", err)
		}
		logger.Warn("Redis unavailable, continuing with local cache and quotas", "error", err)
	}
	a.Redis = rc

	c, backend, err := cache.Open(cache.Options{
		Kind:  cfg.Cache.Backend,
		Path:  cfg.Cache.Path,
		Redis: rc,
	}, logger.Logger, a.Metrics)
	if err != nil {
		a.closeRedis()
		return nil, apperrors.NewConfigurationError("cannot open response cache", err)
	}
	a.Cache, a.CacheBackend = c, backend
	if backend != nil {
		reports, err := backend.Partition(cache.PartitionReports)
		if err != nil {
			apperrors.SafeClose(backend, "cache")
			a.closeRedis()
			return nil, apperrors.NewConfigurationError("cannot open report store", err)
		}
		a.ReportBackend = reports
	}

	a.Limiter = ratelimit.NewRateLimiter(rc, ratelimit.DefaultConfig(), a.Metrics)

	a.Breakers = resilience.NewCircuitBreakerRegistry(resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		OnStateChange: func(name string, from, to resilience.CircuitBreakerState) {
			logger.Warn("Circuit breaker state changed", "upstream", name, "from", from.String(), "to", to.String())
			switch to {
			case resilience.StateOpen:
				a.Metrics.IncrementCircuitBreakerOpen()
			case resilience.StateClosed:
				a.Metrics.IncrementCircuitBreakerClose()
			}
		},
	})

	a.Sources = a.buildSources()
	return a, nil
}

func (a *App) buildSources() []adapters.Source {
	cfg := a.Config
	fetcher := adapters.NewFetcher(adapters.FetcherDeps{
		Client:   &http.Client{Timeout: 60 * time.Second},
		Cache:    a.Cache,
		Pacer:    a.Limiter,
		Breakers: a.Breakers,
		Logger:   a.Logger,
		Metrics:  a.Metrics,
	}, adapters.FetcherConfig{
		Retry: resilience.RetryConfig{
			MaxAttempts:   cfg.Retry.MaxAttempts,
			InitialDelay:  cfg.Retry.InitialDelay,
			MaxDelay:      cfg.Retry.MaxDelay,
			BackoffFactor: 2.0,
			JitterEnabled: cfg.Retry.Jitter,
		},
		Refresh:     cfg.Cache.Refresh,
		MaxAge:      cfg.Cache.MaxAge,
		RecentSlack: cfg.Cache.RecentSlack,
	})

	return []adapters.Source{
		adapters.NewJira(fetcher, adapters.JiraConfig{
			BaseURL:     cfg.Jira.BaseURL,
			ProjectKey:  cfg.Jira.Scope,
			Credentials: adapters.Credentials{Token: cfg.Jira.Token, Email: cfg.Jira.Email},
			PageSize:    cfg.PageSize,
		}),
		adapters.NewConfluence(fetcher, adapters.ConfluenceConfig{
			BaseURL:     cfg.Confluence.BaseURL,
			SpaceKey:    cfg.Confluence.Scope,
			Credentials: adapters.Credentials{Token: cfg.Confluence.Token, Email: cfg.Confluence.Email},
			PageSize:    cfg.PageSize,
		}),
		adapters.NewGitHub(fetcher, adapters.GitHubConfig{
			BaseURL:     cfg.GitHub.BaseURL,
			Org:         cfg.GitHub.Scope,
			Credentials: adapters.Credentials{Token: cfg.GitHub.Token},
			PageSize:    cfg.PageSize,
		}),
	}
}

// ResolveWeights returns the named preset (the configured preset when empty)
// with overrides applied on top
func (a *App) ResolveWeights(preset string, overrides map[string]float64) (weights.Weights, error) {
	if preset == "" {
		preset = a.Config.WeightsPreset
	}
	w, err := a.Weights.Resolve(preset)
	if err != nil {
		return nil, err
	}
	if len(overrides) == 0 {
		return w, nil
	}
	return weights.Override(w, overrides)
}

// Evaluator returns an evaluator scoring with w over the configured sources
func (a *App) Evaluator(w weights.Weights) (*evaluator.Evaluator, error) {
	engine, err := analysis.NewEngine(w)
	if err != nil {
		return nil, err
	}
	return evaluator.New(engine, a.Sources, evaluator.Options{
		Concurrency: a.Config.Concurrency,
		Linker:      a.Linker,
		Logger:      a.Logger,
		Metrics:     a.Metrics,
	})
}

// Close releases the limiter, cache and Redis connections
func (a *App) Close() error {
	if a.Limiter != nil {
		a.Limiter.Close()
	}
	var err error
	if a.CacheBackend != nil {
		if cerr := a.CacheBackend.Close(); cerr != nil {
			err = fmt.Errorf("close cache: %w", cerr)
		}
	}
	a.closeRedis()
	return err
}

func (a *App) closeRedis() {
	if a.Redis != nil && a.Redis.IsEnabled() {
		apperrors.SafeClose(a.Redis, "redis")
	}
}
