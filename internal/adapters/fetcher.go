package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ZanzyTHEbar/contrib-evaluator/internal/cache"
	apperrors "github.com/ZanzyTHEbar/contrib-evaluator/internal/errors"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/monitoring"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/resilience"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/types"
)

// maxBodyBytes bounds how much of an upstream response is read
const maxBodyBytes = 32 << 20

// Pacer delays outbound calls to stay inside an upstream's quota
type Pacer interface {
	Wait(ctx context.Context, upstream string) error
}

type noPacer struct{}

func (noPacer) Wait(context.Context, string) error { return nil }

// Request is one GET against an upstream API
type Request struct {
	Upstream string
	URL      string
	Query    url.Values
	Header   http.Header
	// SkipCache forces a network fetch; the fresh response still overwrites the entry
	SkipCache bool
}

// Response is an upstream answer, possibly served from cache
type Response struct {
	Status    int
	Body      []byte
	FromCache bool
	Timestamp time.Time
}

// FetcherConfig tunes caching and retry behavior
type FetcherConfig struct {
	Retry       resilience.RetryConfig
	Refresh     bool          // bypass cache reads for every request
	MaxAge      time.Duration // ignore cached entries older than this; zero keeps all
	UserAgent   string
	VaryHeaders []string
	// RecentSlack: windows ending within this long of now skip cache reads; zero disables
	RecentSlack time.Duration
}

// FetcherDeps are the collaborators a Fetcher calls through
type FetcherDeps struct {
	Client   *http.Client
	Cache    cache.Cache
	Pacer    Pacer
	Breakers *resilience.CircuitBreakerRegistry
	Logger   *monitoring.Logger
	Metrics  *monitoring.Metrics
}

// Fetcher performs cached, paced, retried GETs shared by all sources
type Fetcher struct {
	client   *http.Client
	cache    cache.Cache
	pacer    Pacer
	breakers *resilience.CircuitBreakerRegistry
	logger   *monitoring.Logger
	metrics  *monitoring.Metrics
	config   FetcherConfig
	now      func() time.Time
}

// NewFetcher fills missing dependencies with no-op or default implementations
func NewFetcher(deps FetcherDeps, config FetcherConfig) *Fetcher {
	if deps.Client == nil {
		deps.Client = &http.Client{Timeout: 60 * time.Second}
	}
	if deps.Cache == nil {
		deps.Cache = cache.Nop{}
	}
	if deps.Pacer == nil {
		deps.Pacer = noPacer{}
	}
	if deps.Breakers == nil {
		deps.Breakers = resilience.NewCircuitBreakerRegistry(resilience.CircuitBreakerConfig{})
	}
	if deps.Logger == nil {
		deps.Logger = monitoring.Discard()
	}
	if config.UserAgent == "" {
		config.UserAgent = "contrib-evaluator/1.0"
	}
	if config.VaryHeaders == nil {
		config.VaryHeaders = cache.DefaultVaryHeaders
	}

	return &Fetcher{
		client:   deps.Client,
		cache:    deps.Cache,
		pacer:    deps.Pacer,
		breakers: deps.Breakers,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		config:   config,
		now:      time.Now,
	}
}

// Get returns the response for req from cache when possible, otherwise from
// the upstream. Only 200 responses are stored, and a failed store never fails
// the fetch. A non-200 final status is returned as an external API error.
func (f *Fetcher) Get(ctx context.Context, req Request) (Response, error) {
	key := cache.FingerprintWith(cache.Request{
		Method: http.MethodGet,
		URL:    req.URL,
		Query:  req.Query,
		Header: req.Header,
	}, f.config.VaryHeaders)

	if !f.config.Refresh && !req.SkipCache {
		if entry, ok := f.cache.Get(ctx, key); ok && entry.Status == http.StatusOK && entry.Fresh(f.config.MaxAge, f.now()) {
			f.logger.CacheLogger("get", key, true)
			return Response{Status: entry.Status, Body: entry.Payload, FromCache: true, Timestamp: entry.Timestamp}, nil
		}
		f.logger.CacheLogger("get", key, false)
	}

	if err := f.pacer.Wait(ctx, req.Upstream); err != nil {
		return Response{}, err
	}

	target, err := buildURL(req.URL, req.Query)
	if err != nil {
		return Response{}, apperrors.NewValidationError(fmt.Sprintf("invalid %s URL: %v", req.Upstream, err))
	}

	var status int
	var body []byte
	start := f.now()
	breaker := f.breakers.Get(req.Upstream)
	err = breaker.CallContext(ctx, func() error {
		resp, err := resilience.RetryHTTP(ctx, f.config.Retry, func() (*http.Response, error) {
			httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
			if err != nil {
				return nil, err
			}
			for name, values := range req.Header {
				for _, v := range values {
					httpReq.Header.Add(name, v)
				}
			}
			httpReq.Header.Set("User-Agent", f.config.UserAgent)
			return f.client.Do(httpReq)
		})
		if resp != nil {
			defer resp.Body.Close()
			status = resp.StatusCode
			data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
			if readErr != nil && err == nil {
				err = readErr
			}
			body = data
		}
		if err != nil {
			return err
		}
		// client errors are the caller's problem, not an upstream outage
		if status >= 500 {
			return resilience.NewHTTPError(status, "")
		}
		return nil
	})

	success := err == nil && status == http.StatusOK
	f.logger.ExternalAPILogger(req.Upstream, http.MethodGet, req.URL, status, f.now().Sub(start), success)
	if f.metrics != nil {
		f.metrics.RecordExternalAPIRequest(req.Upstream, success)
	}

	if err != nil {
		if status != 0 {
			return Response{Status: status, Body: body}, apperrors.NewExternalAPIError(req.Upstream, status, err)
		}
		return Response{}, apperrors.WrapError(err, "%s request failed", req.Upstream)
	}
	if status != http.StatusOK {
		return Response{Status: status, Body: body}, apperrors.NewExternalAPIError(req.Upstream, status, fmt.Errorf("%s", snippet(body)))
	}

	ts := f.now()
	f.cache.Put(ctx, key, body, status, ts)
	return Response{Status: status, Body: body, Timestamp: cache.NormalizeTimestamp(ts)}, nil
}

// live reports whether data for window may still change upstream
func (f *Fetcher) live(window types.TimeWindow) bool {
	return f.config.RecentSlack > 0 && window.AbutsNow(f.now(), f.config.RecentSlack)
}

// GetJSON fetches req and decodes the body into v
func (f *Fetcher) GetJSON(ctx context.Context, req Request, v interface{}) (Response, error) {
	resp, err := f.Get(ctx, req)
	if err != nil {
		return resp, err
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return resp, apperrors.NewExternalAPIError(req.Upstream, resp.Status, fmt.Errorf("decode response: %w", err))
	}
	return resp, nil
}

func buildURL(raw string, query url.Values) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%q is not absolute", raw)
	}
	if len(query) > 0 {
		merged := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				merged.Add(k, v)
			}
		}
		u.RawQuery = merged.Encode()
	}
	return u.String(), nil
}

func snippet(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
