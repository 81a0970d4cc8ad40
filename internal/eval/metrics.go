package eval

import (
	"math"
	"sort"
	"strings"

	"github.com/loupe-search/loupe/internal/models"
)

// precisionAt returns the fraction of retrieved documents that are relevant.
// An empty retrieval scores 0.
func precisionAt(returned []string, expected map[string]struct{}) float64 {
	if len(returned) == 0 {
		return 0
	}
	return float64(overlap(returned, expected)) / float64(len(returned))
}

// recallAt returns the fraction of relevant documents that were retrieved.
// An empty expectation scores 0.
func recallAt(returned []string, expected map[string]struct{}) float64 {
	if len(expected) == 0 {
		return 0
	}
	return float64(overlap(returned, expected)) / float64(len(expected))
}

// ndcgAt returns the normalized discounted cumulative gain at k with binary
// relevance and a log2(i+2) position discount. The ideal ranking places every
// expected document in the top k, so missing relevant documents lower the
// score. 0 when the ideal gain is 0.
func ndcgAt(returned []string, expected map[string]struct{}, k int) float64 {
	var dcg float64
	for i, id := range returned {
		if i >= k {
			break
		}
		if _, ok := expected[id]; ok {
			dcg += 1 / math.Log2(float64(i+2))
		}
	}

	ideal := len(expected)
	if ideal > k {
		ideal = k
	}
	var idcg float64
	for i := 0; i < ideal; i++ {
		idcg += 1 / math.Log2(float64(i+2))
	}

	if idcg == 0 {
		return 0
	}
	return dcg / idcg
}

// localizationOf returns 1 when every result matches the query country
// (case-insensitive), else 0. An empty result list counts as localized.
func localizationOf(results []models.FusedResult, country string) float64 {
	want := strings.ToLower(country)
	for _, res := range results {
		if strings.ToLower(res.Country) != want {
			return 0
		}
	}
	return 1
}

// overlap counts returned ids that appear in expected
func overlap(returned []string, expected map[string]struct{}) int {
	var n int
	for _, id := range returned {
		if _, ok := expected[id]; ok {
			n++
		}
	}
	return n
}

// percentile95 returns the element at index floor(0.95*n) of the ascending
// sort, the evaluator's P95 convention. 0 for an empty input.
func percentile95(latencies []float64) float64 {
	if len(latencies) == 0 {
		return 0
	}
	sorted := append([]float64(nil), latencies...)
	sort.Float64s(sorted)

	idx := int(math.Floor(0.95 * float64(len(sorted))))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// idSet builds the membership set for metric computation
func idSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
