package adapters

import (
	"context"
	"net/http"
	"strings"

	"github.com/ZanzyTHEbar/contrib-evaluator/internal/types"
)

// DefaultPageSize is the page size requested from every upstream
const DefaultPageSize = 50

// Source fetches one user's raw records from a tracking system
type Source interface {
	Name() types.Source
	// Enabled is false when the source has no credentials; Fetch then returns nothing
	Enabled() bool
	Fetch(ctx context.Context, user string, window types.TimeWindow) ([]types.RawRecord, error)
}

// Credentials authenticate requests to an upstream. With Email set, basic
// auth is used (Atlassian Cloud API tokens); otherwise a bearer token.
type Credentials struct {
	Token string
	Email string
}

func (c Credentials) apply(h http.Header) {
	if c.Token == "" {
		return
	}
	if c.Email != "" {
		r := &http.Request{Header: h}
		r.SetBasicAuth(c.Email, c.Token)
		return
	}
	h.Set("Authorization", "Bearer "+c.Token)
}

func trimBase(base string) string {
	return strings.TrimRight(base, "/")
}

func pageSize(n int) int {
	if n <= 0 {
		return DefaultPageSize
	}
	return n
}
