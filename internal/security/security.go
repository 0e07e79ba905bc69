// Package security validates caller-supplied identifiers and hardens HTTP
// responses of the evaluation API.
package security

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	apperrors "github.com/ZanzyTHEbar/contrib-evaluator/internal/errors"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/types"
)

// Config holds security configuration
type Config struct {
	MaxInputLength int           `json:"max_input_length"`
	RequestTimeout time.Duration `json:"request_timeout"`
	EnableHSTS     bool          `json:"enable_hsts"`
}

// DefaultConfig returns secure defaults
func DefaultConfig() Config {
	return Config{
		MaxInputLength: 200,
		RequestTimeout: 5 * time.Minute,
	}
}

// GitHub logins: alphanumerics and single inner dashes, at most 39 characters
var githubLogin = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9]|-[A-Za-z0-9]){0,38}$`)

// Guard provides input validation and response hardening
type Guard struct {
	config Config
}

// NewGuard creates a guard
func NewGuard(config Config) *Guard {
	if config.MaxInputLength <= 0 {
		config.MaxInputLength = DefaultConfig().MaxInputLength
	}
	return &Guard{config: config}
}

// ValidateIdentifier checks a user id or handle before it is placed into an
// upstream query. Spaces are allowed since Confluence matches display names.
func (g *Guard) ValidateIdentifier(input string) error {
	if strings.TrimSpace(input) == "" {
		return apperrors.NewValidationError("identifier is empty")
	}
	if len(input) > g.config.MaxInputLength {
		return apperrors.NewValidationError(fmt.Sprintf("identifier exceeds maximum length of %d characters", g.config.MaxInputLength))
	}
	if !utf8.ValidString(input) {
		return apperrors.NewValidationError("identifier contains invalid UTF-8 encoding")
	}
	for _, r := range input {
		if unicode.IsControl(r) {
			return apperrors.NewValidationError("identifier contains invalid characters")
		}
		switch r {
		case '"', '\'', '\\', '`', '<', '>':
			return apperrors.NewValidationError(fmt.Sprintf("identifier contains forbidden character %q", r))
		}
	}
	return nil
}

// ValidateGitHubLogin applies GitHub's login format on top of ValidateIdentifier
func (g *Guard) ValidateGitHubLogin(login string) error {
	if err := g.ValidateIdentifier(login); err != nil {
		return err
	}
	if !githubLogin.MatchString(login) {
		return apperrors.NewValidationError(fmt.Sprintf("invalid GitHub login %q", login))
	}
	return nil
}

// ValidateUser checks id and every per-source handle. A GitHub handle, or
// the id when no GitHub handle is set, is only checked for safe characters
// since ids are often emails.
func (g *Guard) ValidateUser(id string, handles map[types.Source]string) error {
	if err := g.ValidateIdentifier(id); err != nil {
		return apperrors.WrapError(err, "user %q", id)
	}
	for source, handle := range handles {
		if !source.Valid() {
			return apperrors.NewValidationError(fmt.Sprintf("user %q: unknown source %q", id, source))
		}
		validate := g.ValidateIdentifier
		if source == types.SourceGitHub {
			validate = g.ValidateGitHubLogin
		}
		if err := validate(handle); err != nil {
			return apperrors.WrapError(err, "user %q %s handle", id, source)
		}
	}
	return nil
}

// SecurityHeaders adds hardening headers to all responses. Rendered HTML
// reports carry inline styles, hence style-src 'unsafe-inline'.
func (g *Guard) SecurityHeaders(c *gin.Context) {
	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("X-Frame-Options", "DENY")
	c.Header("X-XSS-Protection", "1; mode=block")
	c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
	c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=()")

	if !strings.HasPrefix(c.Request.URL.Path, "/swagger/") {
		c.Header("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; frame-ancestors 'none'; base-uri 'self'; form-action 'self'")
	}

	if g.config.EnableHSTS || c.Request.TLS != nil {
		c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	c.Next()
}

// ValidateContentType rejects request bodies that are not JSON
func (g *Guard) ValidateContentType(c *gin.Context) {
	contentType := c.GetHeader("Content-Type")
	if contentType != "" && !strings.Contains(strings.ToLower(contentType), "application/json") {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{
			"error": "unsupported content type",
		})
		c.Abort()
		return
	}
	c.Next()
}

// RequestTimeout bounds the request context. Evaluations observe the deadline
// and return partial reports.
func (g *Guard) RequestTimeout(c *gin.Context) {
	if g.config.RequestTimeout <= 0 {
		c.Next()
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), g.config.RequestTimeout)
	defer cancel()

	c.Request = c.Request.WithContext(ctx)
	c.Header("X-Timeout", strconv.Itoa(int(g.config.RequestTimeout.Seconds())))

	c.Next()
}
