// Package query turns raw search requests into canonical, validated queries.
// A NormalizedQuery is immutable after construction and carries a
// deterministic fingerprint used as the cache key.
package query

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrInvalidQuery indicates the raw request could not be normalized.
// Wrapped errors carry the specific violation.
var ErrInvalidQuery = errors.New("invalid query")

// Limits on k, the requested result count
const (
	MinK = 1
	MaxK = 200
)

// fingerprintPrefix versions the cache key format; bump when the canonical
// encoding changes so stale entries cannot be decoded against new code.
const fingerprintPrefix = "search:v1:"

// RawQuery is a search request as received from a caller, before validation.
// K is a pointer so an absent value can fall back to the configured default
// while an explicit zero is rejected.
type RawQuery struct {
	Text           string     `json:"query"`
	Country        string     `json:"country"`
	K              *int       `json:"k,omitempty"`
	MustDomains    []string   `json:"must_domains,omitempty"`
	MustNotDomains []string   `json:"must_not_domains,omitempty"`
	From           *time.Time `json:"from,omitempty"`
	To             *time.Time `json:"to,omitempty"`
}

// Defaults carries the configured fallbacks applied during normalization
type Defaults struct {
	K int
}

// NormalizedQuery is the canonical form of a search request. Domain sets are
// lowercase, deduplicated, and sorted so the fingerprint is stable.
type NormalizedQuery struct {
	Text           string     `json:"text"`
	Country        string     `json:"country"`
	K              int        `json:"k"`
	MustDomains    []string   `json:"must_domains,omitempty"`
	MustNotDomains []string   `json:"must_not_domains,omitempty"`
	From           *time.Time `json:"from,omitempty"`
	To             *time.Time `json:"to,omitempty"`
}

// Normalize validates and canonicalizes a raw query. Every failure wraps
// ErrInvalidQuery.
func Normalize(raw RawQuery, defaults Defaults) (*NormalizedQuery, error) {
	text := strings.TrimSpace(raw.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: text must not be empty", ErrInvalidQuery)
	}

	country := strings.ToLower(strings.TrimSpace(raw.Country))
	if !isCountryCode(country) {
		return nil, fmt.Errorf("%w: country must be a 2-letter code, got %q", ErrInvalidQuery, raw.Country)
	}

	k := defaults.K
	if k < MinK || k > MaxK {
		k = 10
	}
	if raw.K != nil {
		k = *raw.K
		if k < MinK {
			return nil, fmt.Errorf("%w: k must be at least %d, got %d", ErrInvalidQuery, MinK, k)
		}
		if k > MaxK {
			k = MaxK
		}
	}

	must := normalizeDomains(raw.MustDomains)
	mustNot := normalizeDomains(raw.MustNotDomains)
	for _, d := range must {
		if containsSorted(mustNot, d) {
			return nil, fmt.Errorf("%w: domain %q is in both must_domains and must_not_domains", ErrInvalidQuery, d)
		}
	}

	if raw.From != nil && raw.To != nil && raw.From.After(*raw.To) {
		return nil, fmt.Errorf("%w: time window from is after to", ErrInvalidQuery)
	}

	return &NormalizedQuery{
		Text:           text,
		Country:        country,
		K:              k,
		MustDomains:    must,
		MustNotDomains: mustNot,
		From:           raw.From,
		To:             raw.To,
	}, nil
}

// Fingerprint returns the deterministic cache key for this query: a stable
// canonical encoding of every field, hashed with SHA-256 and truncated.
func (q *NormalizedQuery) Fingerprint() string {
	var b strings.Builder
	b.WriteString("text=")
	b.WriteString(q.Text)
	b.WriteString("|country=")
	b.WriteString(q.Country)
	fmt.Fprintf(&b, "|k=%d", q.K)
	b.WriteString("|must=")
	b.WriteString(strings.Join(q.MustDomains, ","))
	b.WriteString("|must_not=")
	b.WriteString(strings.Join(q.MustNotDomains, ","))
	b.WriteString("|from=")
	if q.From != nil {
		b.WriteString(q.From.UTC().Format(time.RFC3339Nano))
	}
	b.WriteString("|to=")
	if q.To != nil {
		b.WriteString(q.To.UTC().Format(time.RFC3339Nano))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return fingerprintPrefix + hex.EncodeToString(sum[:])[:32]
}

// MustNotContains reports whether the domain is excluded by the query.
// Comparison is case-insensitive.
func (q *NormalizedQuery) MustNotContains(domain string) bool {
	return containsSorted(q.MustNotDomains, strings.ToLower(domain))
}

// MustContains reports whether the domain passes the allow list. An empty
// must_domains set allows every domain.
func (q *NormalizedQuery) MustContains(domain string) bool {
	if len(q.MustDomains) == 0 {
		return true
	}
	return containsSorted(q.MustDomains, strings.ToLower(domain))
}

// isCountryCode reports whether s is exactly two ASCII letters (already
// lowercased by the caller)
func isCountryCode(s string) bool {
	if len(s) != 2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 'a' || s[i] > 'z' {
			return false
		}
	}
	return true
}

// normalizeDomains lowercases, trims, deduplicates, and sorts a domain list.
// Empty entries are dropped; nil in, nil out.
func normalizeDomains(domains []string) []string {
	if len(domains) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(domains))
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

func containsSorted(sorted []string, s string) bool {
	i := sort.SearchStrings(sorted, s)
	return i < len(sorted) && sorted[i] == s
}
