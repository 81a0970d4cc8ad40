// Package eval measures retrieval quality against a gold query set. Each
// gold query runs through the full retrieval and fusion path, bypassing the
// query cache, and is scored with standard IR metrics plus a localization
// check. The summary decides whether a build's ranking quality is acceptable.
package eval

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/loupe-search/loupe/internal/query"
)

// GoldQuery is one labeled query of the gold set. ExpectedIDs lists the
// documents a good ranking should surface; an empty list still exercises the
// localization and latency checks.
type GoldQuery struct {
	Query          string   `yaml:"query"`
	Country        string   `yaml:"country"`
	K              *int     `yaml:"k,omitempty"`
	ExpectedIDs    []string `yaml:"expected_ids,omitempty"`
	MustDomains    []string `yaml:"must_domains,omitempty"`
	MustNotDomains []string `yaml:"must_not_domains,omitempty"`
}

// rawQuery converts the gold entry into the search request shape
func (g GoldQuery) rawQuery() query.RawQuery {
	return query.RawQuery{
		Text:           g.Query,
		Country:        g.Country,
		K:              g.K,
		MustDomains:    g.MustDomains,
		MustNotDomains: g.MustNotDomains,
	}
}

// LoadGold reads and validates a YAML gold query file. Every entry must pass
// query normalization so a malformed gold set fails the run up front instead
// of skewing its metrics.
func LoadGold(path string) ([]GoldQuery, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read gold file: %w", err)
	}

	var gold []GoldQuery
	if err := yaml.Unmarshal(data, &gold); err != nil {
		return nil, fmt.Errorf("failed to parse gold file: %w", err)
	}

	for i, g := range gold {
		if _, err := query.Normalize(g.rawQuery(), query.Defaults{}); err != nil {
			return nil, fmt.Errorf("gold query %d (%q) is invalid: %w", i, g.Query, err)
		}
	}
	return gold, nil
}
