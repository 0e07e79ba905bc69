// Package config loads runtime configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	apperrors "github.com/ZanzyTHEbar/contrib-evaluator/internal/errors"
)

// SourceConfig locates and authenticates one upstream
type SourceConfig struct {
	BaseURL string `validate:"omitempty,url"`
	Token   string
	Email   string `validate:"omitempty,email"`
	// Scope is the Jira project, Confluence space or GitHub organization
	Scope string
}

// CacheConfig selects the response cache
type CacheConfig struct {
	Backend     string        `validate:"oneof=sqlite redis memory none"`
	Path        string        `validate:"required_if=Backend sqlite"`
	MaxAge      time.Duration `validate:"gte=0"`
	Refresh     bool
	RecentSlack time.Duration `validate:"gte=0"`
}

// RedisConfig locates the shared Redis used by the cache and rate limiter
type RedisConfig struct {
	Addr     string
	Password string
	DB       int `validate:"gte=0,lte=15"`
}

// RetryConfig tunes upstream retries
type RetryConfig struct {
	MaxAttempts  int           `validate:"gte=1,lte=10"`
	InitialDelay time.Duration `validate:"gte=0"`
	MaxDelay     time.Duration `validate:"gtefield=InitialDelay"`
	Jitter       bool
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Port           string `validate:"required,numeric"`
	AllowedOrigins []string
	RequestTimeout time.Duration `validate:"gte=0"`
	ReportTTL      time.Duration `validate:"gte=0"`
	EnableHSTS     bool
}

// Config is the full runtime configuration
type Config struct {
	Jira       SourceConfig
	Confluence SourceConfig
	GitHub     SourceConfig
	PageSize   int `validate:"gte=0,lte=1000"`

	Cache CacheConfig
	Redis RedisConfig
	Retry RetryConfig

	WeightsFile   string
	WeightsPreset string
	Concurrency   int    `validate:"gte=1,lte=64"`
	KeyPattern    string
	AnonymizeSalt string
	LogLevel      string `validate:"oneof=debug info warn warning error"`

	Server ServerConfig
}

// Lookup reads one variable, reporting whether it was set
type Lookup func(key string) (string, bool)

// Load reads the .env file at path when present, then the environment. An
// empty path means ".env" in the working directory. Variables already set in
// the environment win over the file.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.NewConfigurationError(fmt.Sprintf("cannot load env file %s", path), err)
		}
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds and validates a configuration from lookup
func FromLookup(lookup Lookup) (*Config, error) {
	e := env{lookup: lookup}
	cfg := &Config{
		Jira: SourceConfig{
			BaseURL: e.str("JIRA_BASE_URL", ""),
			Token:   e.str("JIRA_TOKEN", ""),
			Email:   e.str("JIRA_EMAIL", ""),
			Scope:   e.str("JIRA_PROJECT", ""),
		},
		Confluence: SourceConfig{
			BaseURL: e.str("CONFLUENCE_BASE_URL", ""),
			Token:   e.str("CONFLUENCE_TOKEN", ""),
			Email:   e.str("CONFLUENCE_EMAIL", ""),
			Scope:   e.str("CONFLUENCE_SPACE", ""),
		},
		GitHub: SourceConfig{
			BaseURL: e.str("GITHUB_API_URL", "https://api.github.com"),
			Token:   e.str("GITHUB_TOKEN", ""),
			Scope:   e.str("GITHUB_ORG", ""),
		},
		PageSize: e.integer("PAGE_SIZE", 50),
		Cache: CacheConfig{
			Backend:     strings.ToLower(e.str("CACHE_BACKEND", "sqlite")),
			Path:        e.str("CACHE_PATH", "cache.db"),
			MaxAge:      e.duration("CACHE_MAX_AGE", 0),
			Refresh:     e.boolean("CACHE_REFRESH", false),
			RecentSlack: e.duration("CACHE_RECENT_SLACK", 24*time.Hour),
		},
		Redis: RedisConfig{
			Addr:     e.str("REDIS_ADDR", ""),
			Password: e.str("REDIS_PASSWORD", ""),
			DB:       e.integer("REDIS_DB", 0),
		},
		Retry: RetryConfig{
			MaxAttempts:  e.integer("CONTRIB_MAX_RETRIES", 3),
			InitialDelay: e.seconds("CONTRIB_BACKOFF_BASE", 500*time.Millisecond),
			MaxDelay:     e.seconds("CONTRIB_MAX_BACKOFF", 120*time.Second),
			Jitter:       e.boolean("CONTRIB_BACKOFF_JITTER", true),
		},
		WeightsFile:   e.str("WEIGHTS_FILE", ""),
		WeightsPreset: e.str("WEIGHTS_PRESET", ""),
		Concurrency:   e.integer("CONCURRENCY", 4),
		KeyPattern:    e.str("ISSUE_KEY_PATTERN", ""),
		AnonymizeSalt: e.str("ANONYMIZE_SALT", ""),
		LogLevel:      strings.ToLower(e.str("LOG_LEVEL", "info")),
		Server: ServerConfig{
			Port:           e.str("PORT", "8080"),
			AllowedOrigins: e.list("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
			RequestTimeout: e.duration("REQUEST_TIMEOUT", 5*time.Minute),
			ReportTTL:      e.duration("REPORT_TTL", 24*time.Hour),
			EnableHSTS:     e.boolean("ENABLE_HSTS", false),
		},
	}

	if len(e.errs) > 0 {
		return nil, apperrors.NewConfigurationError(strings.Join(e.errs, "; "), nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return apperrors.NewConfigurationError("invalid configuration: "+strings.Join(msgs, ", "), err)
		}
		return apperrors.NewConfigurationError("invalid configuration", err)
	}
	if c.Cache.Backend == "redis" && c.Redis.Addr == "" {
		return apperrors.NewConfigurationError("cache backend redis requires REDIS_ADDR", nil)
	}
	return nil
}

// env reads typed values and collects parse errors
type env struct {
	lookup Lookup
	errs   []string
}

func (e *env) raw(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// str is the getEnvOrDefault idiom
func (e *env) str(key, defaultValue string) string {
	if v, ok := e.raw(key); ok {
		return v
	}
	return defaultValue
}

func (e *env) integer(key string, defaultValue int) int {
	v, ok := e.raw(key)
	if !ok {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s must be an integer, got %q", key, v))
		return defaultValue
	}
	return n
}

func (e *env) boolean(key string, defaultValue bool) bool {
	v, ok := e.raw(key)
	if !ok {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s must be a boolean, got %q", key, v))
		return defaultValue
	}
	return b
}

// duration accepts Go durations ("90s", "24h") or plain seconds
func (e *env) duration(key string, defaultValue time.Duration) time.Duration {
	v, ok := e.raw(key)
	if !ok {
		return defaultValue
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return e.seconds(key, defaultValue)
}

// seconds parses a float number of seconds
func (e *env) seconds(key string, defaultValue time.Duration) time.Duration {
	v, ok := e.raw(key)
	if !ok {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		e.errs = append(e.errs, fmt.Sprintf("%s must be a duration or seconds, got %q", key, v))
		return defaultValue
	}
	return time.Duration(f * float64(time.Second))
}

func (e *env) list(key string, defaultValue []string) []string {
	v, ok := e.raw(key)
	if !ok {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
