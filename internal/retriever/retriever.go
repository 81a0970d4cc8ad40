// Package retriever runs the two retrieval channels for a normalized query:
// a lexical full-text search and a semantic vector search, executed in
// parallel against the document store. Either channel may fail or be skipped
// without failing the query; the result is then marked degraded.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loupe-search/loupe/internal/config"
	"github.com/loupe-search/loupe/internal/metrics"
	"github.com/loupe-search/loupe/internal/models"
	"github.com/loupe-search/loupe/internal/observability"
	"github.com/loupe-search/loupe/internal/query"
	"github.com/loupe-search/loupe/internal/store"
)

// ErrRetrievalFailed indicates that no retrieval channel produced candidates
var ErrRetrievalFailed = errors.New("retrieval failed on all channels")

// Embedder turns query text into a vector. Interface to avoid binding the
// retriever to a concrete embedding client.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Result carries the raw candidates of both channels before fusion
type Result struct {
	Lexical  []models.CandidateRow
	Semantic []models.CandidateRow

	// Degraded is true when only one channel contributed, either because
	// the query embedding was unavailable or because a channel failed.
	Degraded bool
}

// Retriever executes the dual-channel candidate retrieval
type Retriever struct {
	searcher store.Searcher
	embedder Embedder
	cfg      config.SearchConfig
	metrics  *metrics.Metrics
	logger   observability.Logger
}

// New creates a Retriever. A nil embedder disables the semantic channel, so
// every query runs lexical-only and is reported as degraded.
func New(searcher store.Searcher, embedder Embedder, cfg config.SearchConfig, m *metrics.Metrics, logger observability.Logger) *Retriever {
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Retriever{
		searcher: searcher,
		embedder: embedder,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
	}
}

// Retrieve runs both retrieval channels for q and returns their candidate
// lists. Both channels request the same candidate pool size, which scales
// with q.K so fusion has enough overlap to work with. Retrieve fails only
// when no channel produced a usable result.
func (r *Retriever) Retrieve(ctx context.Context, q *query.NormalizedQuery) (*Result, error) {
	pool := r.cfg.PoolSize(q.K)

	queryVector, embedded := r.embedQuery(ctx, q.Text)
	if !embedded {
		return r.lexicalOnly(ctx, q, pool)
	}

	type lexicalResult struct {
		rows []models.CandidateRow
		err  error
	}
	type semanticResult struct {
		rows []models.CandidateRow
		err  error
	}

	lexicalChan := make(chan lexicalResult, 1)
	semanticChan := make(chan semanticResult, 1)

	go func() {
		started := time.Now()
		rows, err := r.searcher.SearchLexical(ctx, q.Country, q.Text, pool)
		r.metrics.ObserveStage(metrics.StageLexical, time.Since(started))
		lexicalChan <- lexicalResult{rows: rows, err: err}
	}()

	go func() {
		started := time.Now()
		rows, err := r.searcher.SearchSemantic(ctx, queryVector, q.Country, pool)
		r.metrics.ObserveStage(metrics.StageSemantic, time.Since(started))
		semanticChan <- semanticResult{rows: rows, err: err}
	}()

	lexical := <-lexicalChan
	semantic := <-semanticChan

	if lexical.err != nil && semantic.err != nil {
		return nil, fmt.Errorf("%w: lexical: %v; semantic: %v", ErrRetrievalFailed, lexical.err, semantic.err)
	}

	result := &Result{Lexical: lexical.rows, Semantic: semantic.rows}

	if lexical.err != nil {
		result.Lexical = nil
		result.Degraded = true
		r.logger.Warn("Lexical search failed, continuing with semantic results", map[string]interface{}{
			"stage": metrics.StageLexical,
			"error": lexical.err.Error(),
		})
	}
	if semantic.err != nil {
		result.Semantic = nil
		result.Degraded = true
		r.logger.Warn("Semantic search failed, continuing with lexical results", map[string]interface{}{
			"stage": metrics.StageSemantic,
			"error": semantic.err.Error(),
		})
	}

	r.logger.Debug("Retrieval complete", map[string]interface{}{
		"stage":         "retrieve",
		"lexical_hits":  len(result.Lexical),
		"semantic_hits": len(result.Semantic),
		"pool":          pool,
		"degraded":      result.Degraded,
	})
	return result, nil
}

// embedQuery produces the query vector. Any failure disables the semantic
// channel for this query rather than failing the search.
func (r *Retriever) embedQuery(ctx context.Context, text string) ([]float32, bool) {
	if r.embedder == nil {
		return nil, false
	}

	started := time.Now()
	vector, err := r.embedder.Embed(ctx, text)
	r.metrics.ObserveStage(metrics.StageEmbed, time.Since(started))

	if err != nil {
		r.metrics.EmbeddingFailures.Inc()
		r.logger.Warn("Query embedding failed, degrading to lexical-only retrieval", map[string]interface{}{
			"stage": metrics.StageEmbed,
			"error": err.Error(),
		})
		return nil, false
	}
	if len(vector) == 0 {
		r.logger.Warn("Query embedding empty, degrading to lexical-only retrieval", map[string]interface{}{
			"stage": metrics.StageEmbed,
		})
		return nil, false
	}
	return vector, true
}

// lexicalOnly serves the query from the lexical channel alone
func (r *Retriever) lexicalOnly(ctx context.Context, q *query.NormalizedQuery, pool int) (*Result, error) {
	started := time.Now()
	rows, err := r.searcher.SearchLexical(ctx, q.Country, q.Text, pool)
	r.metrics.ObserveStage(metrics.StageLexical, time.Since(started))
	if err != nil {
		return nil, fmt.Errorf("%w: lexical: %v", ErrRetrievalFailed, err)
	}

	r.logger.Debug("Retrieval complete", map[string]interface{}{
		"stage":        "retrieve",
		"lexical_hits": len(rows),
		"pool":         pool,
		"degraded":     true,
	})
	return &Result{Lexical: rows, Degraded: true}, nil
}
