package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// DefaultVaryHeaders are the request headers that change upstream response content
var DefaultVaryHeaders = []string{"Accept", "Accept-Language"}

// Request is the identity of an outbound call
type Request struct {
	Method string
	URL    string
	Query  url.Values
	Header http.Header
}

// Fingerprint derives the cache key for req using DefaultVaryHeaders
func Fingerprint(req Request) string {
	return FingerprintWith(req, DefaultVaryHeaders)
}

// FingerprintWith derives the cache key for req, including only the named headers.
// The result is stable across processes: query keys and values are sorted, the
// method is uppercased and scheme/host are lowercased.
func FingerprintWith(req Request, varyHeaders []string) string {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	target := req.URL
	query := url.Values{}
	if u, err := url.Parse(req.URL); err == nil {
		for k, vs := range u.Query() {
			query[k] = append(query[k], vs...)
		}
		u.RawQuery = ""
		u.Fragment = ""
		u.Scheme = strings.ToLower(u.Scheme)
		u.Host = strings.ToLower(u.Host)
		target = u.String()
	}
	for k, vs := range req.Query {
		query[k] = append(query[k], vs...)
	}

	var b strings.Builder
	b.WriteString(method)
	b.WriteByte('\n')
	b.WriteString(target)
	b.WriteByte('\n')
	b.WriteString(canonicalQuery(query))
	b.WriteByte('\n')
	b.WriteString(canonicalHeaders(req.Header, varyHeaders))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func canonicalQuery(q url.Values) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		vs := append([]string(nil), q[k]...)
		sort.Strings(vs)
		for _, v := range vs {
			parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}
	return strings.Join(parts, "&")
}

func canonicalHeaders(h http.Header, vary []string) string {
	names := make([]string, 0, len(vary))
	seen := make(map[string]bool, len(vary))
	for _, name := range vary {
		canonical := http.CanonicalHeaderKey(strings.TrimSpace(name))
		if canonical == "" || seen[canonical] {
			continue
		}
		seen[canonical] = true
		names = append(names, canonical)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		vs := append([]string(nil), h.Values(name)...)
		if len(vs) == 0 {
			continue
		}
		sort.Strings(vs)
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(strings.Join(vs, ","))
		b.WriteByte('\n')
	}
	return b.String()
}
