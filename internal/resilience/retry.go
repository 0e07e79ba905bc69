package resilience

import (
	"context"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/contrib-evaluator/internal/errors"
)

// RetryConfig holds configuration for retry behavior
type RetryConfig struct {
	MaxAttempts     int              `json:"max_attempts"`
	InitialDelay    time.Duration    `json:"initial_delay"`
	MaxDelay        time.Duration    `json:"max_delay"`
	BackoffFactor   float64          `json:"backoff_factor"`
	JitterEnabled   bool             `json:"jitter_enabled"`
	RetryableErrors func(error) bool `json:"-"`

	// OnRetry, when set, is called before each wait with the attempt that failed
	OnRetry func(attempt int, status int, wait time.Duration) `json:"-"`
}

// MaxServerWait caps any wait requested by the upstream through headers
const MaxServerWait = 300 * time.Second

// DefaultRetryConfig returns defaults for upstream API calls
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      120 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
		RetryableErrors: func(err error) bool {
			return errors.IsRetryableError(err)
		},
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = d.BackoffFactor
	}
	if c.RetryableErrors == nil {
		c.RetryableErrors = d.RetryableErrors
	}
	return c
}

// calculateDelay computes the delay for the next retry attempt
func calculateDelay(config RetryConfig, attempt int) time.Duration {
	delay := time.Duration(float64(config.InitialDelay) * math.Pow(config.BackoffFactor, float64(attempt)))

	if delay > config.MaxDelay {
		delay = config.MaxDelay
	}

	// up to 10% jitter
	if config.JitterEnabled && delay >= 10 {
		delay += time.Duration(rand.Int63n(int64(delay / 10)))
	}

	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// RetryableHTTPFunc represents an HTTP function that can be retried
type RetryableHTTPFunc func() (*http.Response, error)

// RetryHTTP executes an HTTP request with retry logic. Responses with status
// 408, 429 or 5xx, responses carrying Retry-After, and responses reporting an
// exhausted rate-limit quota are retried; the server-requested wait takes
// precedence over exponential backoff. When attempts run out the last response
// is returned together with an *HTTPError, and the caller owns its body.
func RetryHTTP(ctx context.Context, config RetryConfig, fn RetryableHTTPFunc) (*http.Response, error) {
	config = config.withDefaults()
	var lastResp *http.Response
	var lastErr error

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := fn()
		status := 0
		var wait time.Duration
		if err == nil {
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return resp, nil
			}

			hint, hinted := ServerWait(resp.Header, time.Now())
			if !isRetryableHTTPStatus(resp.StatusCode) && !hinted {
				return resp, nil
			}

			status = resp.StatusCode
			lastResp = resp
			lastErr = NewHTTPError(resp.StatusCode, resp.Status)
			wait = calculateDelay(config, attempt)
			if hinted {
				wait = hint
			}
		} else {
			lastResp = nil
			lastErr = err
			if !config.RetryableErrors(err) {
				return nil, err
			}
			wait = calculateDelay(config, attempt)
		}

		if attempt == config.MaxAttempts-1 {
			break
		}

		if lastResp != nil {
			drain(lastResp)
			lastResp = nil
		}
		if config.OnRetry != nil {
			config.OnRetry(attempt+1, status, wait)
		}
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	return lastResp, lastErr
}

// ServerWait reads the wait the upstream asked for: Retry-After (seconds or
// HTTP date) first, then X-RateLimit-Reset when X-RateLimit-Remaining is 0.
// The result is capped at MaxServerWait.
func ServerWait(h http.Header, now time.Time) (time.Duration, bool) {
	if d, ok := ParseRetryAfter(h.Get("Retry-After"), now); ok {
		return capWait(d), true
	}

	remaining := strings.TrimSpace(h.Get("X-RateLimit-Remaining"))
	if remaining == "" {
		return 0, false
	}
	n, err := strconv.Atoi(remaining)
	if err != nil || n > 0 {
		return 0, false
	}

	reset, err := strconv.ParseFloat(strings.TrimSpace(h.Get("X-RateLimit-Reset")), 64)
	if err != nil {
		return 0, true
	}
	whole := math.Floor(reset)
	resetAt := time.Unix(int64(whole), int64((reset-whole)*float64(time.Second)))
	d := resetAt.Sub(now)
	if d < 0 {
		d = 0
	}
	return capWait(d), true
}

// ParseRetryAfter parses a Retry-After value given as delta seconds or an HTTP date
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	if at, err := http.ParseTime(value); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

func capWait(d time.Duration) time.Duration {
	if d > MaxServerWait {
		return MaxServerWait
	}
	return d
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}

// isRetryableHTTPStatus checks if an HTTP status code should trigger a retry
func isRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429:
		return true
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// HTTPError represents an HTTP error with status code
type HTTPError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// NewHTTPError creates a new HTTP error
func NewHTTPError(statusCode int, status string) *HTTPError {
	if status == "" {
		status = strconv.Itoa(statusCode) + " " + http.StatusText(statusCode)
	}
	return &HTTPError{
		StatusCode: statusCode,
		Status:     status,
		Message:    status,
	}
}
