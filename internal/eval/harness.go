package eval

import (
	"context"
	"fmt"
	"time"

	"github.com/loupe-search/loupe/internal/fusion"
	"github.com/loupe-search/loupe/internal/metrics"
	"github.com/loupe-search/loupe/internal/observability"
	"github.com/loupe-search/loupe/internal/query"
	"github.com/loupe-search/loupe/internal/retriever"
)

// Quality gates for an acceptable run
const (
	minAveragePrecision     = 0.30
	minLocalizationAccuracy = 0.95
)

// Retriever runs the retrieval channels for a normalized query
type Retriever interface {
	Retrieve(ctx context.Context, q *query.NormalizedQuery) (*retriever.Result, error)
}

// QueryResult carries the metrics of a single gold query
type QueryResult struct {
	Query        string   `json:"query"`
	Country      string   `json:"country"`
	Returned     []string `json:"returned"`
	Precision    float64  `json:"precision"`
	Recall       float64  `json:"recall"`
	NDCG         float64  `json:"ndcg"`
	Localization float64  `json:"localization"`
	LatencyMs    float64  `json:"latency_ms"`
	Error        string   `json:"error,omitempty"`
}

// Summary aggregates a full evaluation run. Averages cover the queries that
// completed; failed queries are counted separately and fail the run.
type Summary struct {
	Queries              int           `json:"queries"`
	Failed               int           `json:"failed"`
	AvgPrecision         float64       `json:"avg_precision"`
	AvgRecall            float64       `json:"avg_recall"`
	AvgNDCG              float64       `json:"avg_ndcg"`
	LocalizationAccuracy float64       `json:"localization_accuracy"`
	AvgLatencyMs         float64       `json:"avg_latency_ms"`
	P95LatencyMs         float64       `json:"p95_latency_ms"`
	Results              []QueryResult `json:"results"`
}

// Passed reports whether the run meets the quality gates: no failed queries,
// average precision at least 0.30, and localization accuracy at least 0.95.
func (s *Summary) Passed() bool {
	return s.Failed == 0 &&
		s.AvgPrecision >= minAveragePrecision &&
		s.LocalizationAccuracy >= minLocalizationAccuracy
}

// Harness evaluates gold queries against the live retrieval path
type Harness struct {
	retriever Retriever
	ranker    *fusion.Ranker
	defaults  query.Defaults
	metrics   *metrics.Metrics
	logger    observability.Logger
	now       func() time.Time
}

// NewHarness creates an evaluation harness over the given retrieval path
func NewHarness(r Retriever, ranker *fusion.Ranker, defaults query.Defaults, m *metrics.Metrics, logger observability.Logger) *Harness {
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Harness{
		retriever: r,
		ranker:    ranker,
		defaults:  defaults,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Evaluate runs every gold query through retrieval and fusion, without any
// cache in front, and aggregates the per-query metrics
func (h *Harness) Evaluate(ctx context.Context, gold []GoldQuery) (*Summary, error) {
	if len(gold) == 0 {
		return nil, fmt.Errorf("no gold queries to evaluate")
	}

	results := make([]QueryResult, 0, len(gold))
	for _, g := range gold {
		results = append(results, h.runQuery(ctx, g))
	}

	summary := summarize(results)
	h.metrics.EvalPrecision.Set(summary.AvgPrecision)
	h.metrics.EvalRecall.Set(summary.AvgRecall)
	h.metrics.EvalNDCG.Set(summary.AvgNDCG)
	h.metrics.EvalLocalization.Set(summary.LocalizationAccuracy)

	h.logger.Info("Evaluation complete", map[string]interface{}{
		"queries":        summary.Queries,
		"failed":         summary.Failed,
		"avg_precision":  summary.AvgPrecision,
		"avg_recall":     summary.AvgRecall,
		"avg_ndcg":       summary.AvgNDCG,
		"localization":   summary.LocalizationAccuracy,
		"p95_latency_ms": summary.P95LatencyMs,
		"passed":         summary.Passed(),
	})
	return summary, nil
}

// runQuery executes one gold query and scores its result list
func (h *Harness) runQuery(ctx context.Context, g GoldQuery) QueryResult {
	qr := QueryResult{Query: g.Query, Country: g.Country}

	nq, err := query.Normalize(g.rawQuery(), h.defaults)
	if err != nil {
		qr.Error = err.Error()
		return qr
	}

	started := time.Now()
	res, err := h.retriever.Retrieve(ctx, nq)
	if err != nil {
		qr.LatencyMs = elapsedMs(started)
		qr.Error = err.Error()
		return qr
	}
	fused := h.ranker.Fuse(res.Lexical, res.Semantic, nq, h.now())

	elapsed := time.Since(started)
	h.metrics.ObserveStage(metrics.StageEval, elapsed)
	qr.LatencyMs = float64(elapsed.Microseconds()) / 1000.0

	qr.Returned = make([]string, len(fused))
	for i, res := range fused {
		qr.Returned[i] = res.ID
	}

	expected := idSet(g.ExpectedIDs)
	qr.Precision = precisionAt(qr.Returned, expected)
	qr.Recall = recallAt(qr.Returned, expected)
	qr.NDCG = ndcgAt(qr.Returned, expected, nq.K)
	qr.Localization = localizationOf(fused, nq.Country)
	return qr
}

// summarize averages the completed queries and takes latency percentiles
func summarize(results []QueryResult) *Summary {
	summary := &Summary{Queries: len(results), Results: results}

	var latencies []float64
	var completed int
	for _, r := range results {
		if r.Error != "" {
			summary.Failed++
			continue
		}
		completed++
		summary.AvgPrecision += r.Precision
		summary.AvgRecall += r.Recall
		summary.AvgNDCG += r.NDCG
		summary.LocalizationAccuracy += r.Localization
		summary.AvgLatencyMs += r.LatencyMs
		latencies = append(latencies, r.LatencyMs)
	}

	if completed > 0 {
		n := float64(completed)
		summary.AvgPrecision /= n
		summary.AvgRecall /= n
		summary.AvgNDCG /= n
		summary.LocalizationAccuracy /= n
		summary.AvgLatencyMs /= n
	}
	summary.P95LatencyMs = percentile95(latencies)
	return summary
}

func elapsedMs(started time.Time) float64 {
	return float64(time.Since(started).Microseconds()) / 1000.0
}
