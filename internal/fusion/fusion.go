// Package fusion merges the two retrieval channels into one ranked result
// list. Scores are normalized per channel against the per-query maximum, then
// combined with authority and freshness under configurable weights. The fused
// score only orders results within a single query; it is not comparable
// across queries.
package fusion

import (
	"math"
	"sort"
	"time"

	"github.com/loupe-search/loupe/internal/config"
	"github.com/loupe-search/loupe/internal/models"
	"github.com/loupe-search/loupe/internal/query"
)

// freshnessScaleDays is the e-folding time of the freshness signal: a
// document thirty days old scores 1/e.
const freshnessScaleDays = 30.0

// Weights are the fusion coefficients for the four ranking signals
type Weights struct {
	Lexical   float64
	Vector    float64
	Authority float64
	Freshness float64
}

// DefaultWeights returns the standard fusion weights
func DefaultWeights() Weights {
	return Weights{Lexical: 0.45, Vector: 0.45, Authority: 0.05, Freshness: 0.05}
}

// WeightsFromConfig reads the fusion weights from the search configuration
func WeightsFromConfig(cfg config.SearchConfig) Weights {
	return Weights{
		Lexical:   cfg.WLexical,
		Vector:    cfg.WVector,
		Authority: cfg.WAuthority,
		Freshness: cfg.WFreshness,
	}
}

// Ranker fuses candidate lists under a fixed set of weights
type Ranker struct {
	weights Weights
}

// NewRanker creates a Ranker with the given weights
func NewRanker(weights Weights) *Ranker {
	return &Ranker{weights: weights}
}

// Freshness returns exp(-ageDays/30) for the given timestamp, or 0 when the
// timestamp is unknown. Future timestamps count as age zero.
func Freshness(ts *time.Time, now time.Time) float64 {
	if ts == nil {
		return 0
	}
	ageDays := now.Sub(*ts).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-ageDays / freshnessScaleDays)
}

// fusedCandidate pairs a union-set member with its working scores
type fusedCandidate struct {
	doc         models.Document
	scoreRaw    float64
	scoreVector float64
	nLex        float64
	nVec        float64
	score       float64
}

// Fuse merges the lexical and semantic candidate lists for one query. The
// result is filtered by the query's domain sets and time window, ordered by
// composite score with deterministic tie-breaks, truncated to q.K, and given
// 1-based ranks.
func (r *Ranker) Fuse(lexical, semantic []models.CandidateRow, q *query.NormalizedQuery, now time.Time) []models.FusedResult {
	if len(lexical) == 0 && len(semantic) == 0 {
		return []models.FusedResult{}
	}

	// Union by id; a document seen on both channels carries both raw scores
	union := make(map[string]*fusedCandidate, len(lexical)+len(semantic))
	order := make([]string, 0, len(lexical)+len(semantic))

	for i := range lexical {
		row := &lexical[i]
		union[row.ID] = &fusedCandidate{doc: row.Document, scoreRaw: row.ScoreRaw}
		order = append(order, row.ID)
	}
	for i := range semantic {
		row := &semantic[i]
		if c, ok := union[row.ID]; ok {
			c.scoreVector = row.ScoreVector
			continue
		}
		union[row.ID] = &fusedCandidate{doc: row.Document, scoreVector: row.ScoreVector}
		order = append(order, row.ID)
	}

	var maxLex, maxVec float64
	for _, c := range union {
		if c.scoreRaw > maxLex {
			maxLex = c.scoreRaw
		}
		if c.scoreVector > maxVec {
			maxVec = c.scoreVector
		}
	}

	for _, c := range union {
		if maxLex > 0 {
			c.nLex = c.scoreRaw / maxLex
		}
		if maxVec > 0 {
			c.nVec = c.scoreVector / maxVec
		}

		var authority float64
		if c.doc.AuthorityScore != nil {
			authority = *c.doc.AuthorityScore
		}
		freshness := Freshness(c.doc.EffectiveTime(), now)

		c.score = r.weights.Lexical*c.nLex +
			r.weights.Vector*c.nVec +
			r.weights.Authority*authority +
			r.weights.Freshness*freshness
	}

	kept := make([]*fusedCandidate, 0, len(union))
	for _, id := range order {
		c := union[id]
		if !r.passesFilters(c, q) {
			continue
		}
		kept = append(kept, c)
	}

	sort.Slice(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.nVec != b.nVec {
			return a.nVec > b.nVec
		}
		if c := compareUpdatedDesc(a.doc.UpdatedAt, b.doc.UpdatedAt); c != 0 {
			return c < 0
		}
		return a.doc.ID < b.doc.ID
	})

	if len(kept) > q.K {
		kept = kept[:q.K]
	}

	results := make([]models.FusedResult, len(kept))
	for i, c := range kept {
		results[i] = models.FusedResult{
			Document:    c.doc,
			Rank:        i + 1,
			Score:       c.score,
			ScoreRaw:    c.scoreRaw,
			ScoreVector: c.scoreVector,
		}
	}
	return results
}

// passesFilters applies the deny list, the allow list, and the time window
func (r *Ranker) passesFilters(c *fusedCandidate, q *query.NormalizedQuery) bool {
	if q.MustNotContains(c.doc.Domain) {
		return false
	}
	if !q.MustContains(c.doc.Domain) {
		return false
	}

	if q.From != nil || q.To != nil {
		ts := c.doc.EffectiveTime()
		// A windowed query cannot keep documents it cannot place in time
		if ts == nil {
			return false
		}
		if q.From != nil && ts.Before(*q.From) {
			return false
		}
		if q.To != nil && ts.After(*q.To) {
			return false
		}
	}
	return true
}

// compareUpdatedDesc orders timestamps newest-first with nil last
func compareUpdatedDesc(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case a.After(*b):
		return -1
	case b.After(*a):
		return 1
	default:
		return 0
	}
}
