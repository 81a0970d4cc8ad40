// Package search orchestrates the query path: normalization, cache lookup,
// dual-channel retrieval, score fusion, and cache write-back. It owns the
// request deadline and maps pipeline failures onto the service error kinds.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/loupe-search/loupe/internal/cache"
	"github.com/loupe-search/loupe/internal/config"
	"github.com/loupe-search/loupe/internal/fusion"
	"github.com/loupe-search/loupe/internal/metrics"
	"github.com/loupe-search/loupe/internal/models"
	"github.com/loupe-search/loupe/internal/observability"
	"github.com/loupe-search/loupe/internal/query"
	"github.com/loupe-search/loupe/internal/retriever"
)

const (
	defaultDeadline = 1500 * time.Millisecond
	defaultCacheTTL = 60 * time.Second
)

// ErrTimeout indicates the request deadline expired before the pipeline
// finished. Partial results are discarded, never returned.
var ErrTimeout = errors.New("search deadline exceeded")

// CandidateRetriever runs the retrieval channels for a normalized query
type CandidateRetriever interface {
	Retrieve(ctx context.Context, q *query.NormalizedQuery) (*retriever.Result, error)
}

// Response is the fused result set for one query
type Response struct {
	Results  []models.FusedResult `json:"results"`
	Total    int                  `json:"total"`
	TookMs   int64                `json:"took_ms"`
	Degraded bool                 `json:"degraded,omitempty"`
}

// Service executes search requests end to end
type Service struct {
	cache     cache.Cache
	retriever CandidateRetriever
	ranker    *fusion.Ranker
	cfg       config.SearchConfig
	metrics   *metrics.Metrics
	logger    observability.Logger

	// group collapses concurrent identical cache misses into one retrieval
	group singleflight.Group
	now   func() time.Time
}

// New creates a search Service. A nil cache disables caching; a nil ranker
// gets the configured fusion weights.
func New(c cache.Cache, r CandidateRetriever, ranker *fusion.Ranker, cfg config.SearchConfig, m *metrics.Metrics, logger observability.Logger) *Service {
	if ranker == nil {
		ranker = fusion.NewRanker(fusion.WeightsFromConfig(cfg))
	}
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Service{
		cache:     c,
		retriever: r,
		ranker:    ranker,
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Search normalizes raw, serves it from the query cache when possible, and
// otherwise runs retrieval and fusion under the request deadline. Identical
// concurrent misses share one retrieval.
func (s *Service) Search(ctx context.Context, raw query.RawQuery) (*Response, error) {
	started := time.Now()
	s.metrics.SearchRequests.Inc()
	defer func() {
		s.metrics.ObserveStage(metrics.StageTotal, time.Since(started))
	}()

	q, err := query.Normalize(raw, query.Defaults{K: s.cfg.DefaultK})
	if err != nil {
		s.metrics.SearchErrors.WithLabelValues("invalid_query").Inc()
		return nil, err
	}

	ctx, cancel := s.applyDeadline(ctx)
	defer cancel()

	key := q.Fingerprint()
	if resp, ok := s.cacheGet(ctx, key); ok {
		s.metrics.CacheHits.Inc()
		s.logger.Debug("Cache hit", map[string]interface{}{
			"stage":       "cache",
			"fingerprint": key,
		})
		return resp, nil
	}
	s.metrics.CacheMisses.Inc()

	value, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.execute(ctx, q, key)
	})
	if err != nil {
		return nil, s.mapError(ctx, err)
	}

	resp := value.(*Response)
	s.metrics.ResultCount.Observe(float64(resp.Total))
	return resp, nil
}

// execute runs retrieval and fusion for one cache miss and writes the result
// back to the cache best-effort
func (s *Service) execute(ctx context.Context, q *query.NormalizedQuery, key string) (*Response, error) {
	started := time.Now()

	result, err := s.retriever.Retrieve(ctx, q)
	if err != nil {
		return nil, err
	}

	fuseStarted := time.Now()
	fused := s.ranker.Fuse(result.Lexical, result.Semantic, q, s.now())
	s.metrics.ObserveStage(metrics.StageFuse, time.Since(fuseStarted))

	if result.Degraded {
		s.metrics.SearchDegraded.Inc()
	}

	resp := &Response{
		Results:  fused,
		Total:    len(fused),
		TookMs:   time.Since(started).Milliseconds(),
		Degraded: result.Degraded,
	}
	s.cacheSet(ctx, key, resp)

	s.logger.Debug("Search executed", map[string]interface{}{
		"stage":       "execute",
		"fingerprint": key,
		"results":     resp.Total,
		"degraded":    resp.Degraded,
		"took_ms":     resp.TookMs,
	})
	return resp, nil
}

// applyDeadline bounds ctx by the configured request deadline unless the
// caller already carries an earlier one
func (s *Service) applyDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	deadline := s.cfg.Deadline()
	if deadline <= 0 {
		deadline = defaultDeadline
	}
	if existing, ok := ctx.Deadline(); ok && time.Until(existing) <= deadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, deadline)
}

// cacheGet reads a cached response; every cache failure is a miss
func (s *Service) cacheGet(ctx context.Context, key string) (*Response, bool) {
	if s.cache == nil {
		return nil, false
	}

	var resp Response
	err := s.cache.Get(ctx, key, &resp)
	if err == nil {
		return &resp, true
	}
	if !errors.Is(err, cache.ErrNotFound) {
		s.logger.Warn("Cache read failed, treating as miss", map[string]interface{}{
			"fingerprint": key,
			"error":       err.Error(),
		})
	}
	return nil, false
}

// cacheSet writes a response best-effort; failures are logged, never surfaced
func (s *Service) cacheSet(ctx context.Context, key string, resp *Response) {
	if s.cache == nil {
		return
	}

	ttl := s.cfg.DefaultTTL()
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if err := s.cache.Set(ctx, key, resp, ttl); err != nil {
		s.logger.Warn("Cache write failed", map[string]interface{}{
			"fingerprint": key,
			"error":       err.Error(),
		})
	}
}

// mapError classifies a pipeline failure into the service error kinds
func (s *Service) mapError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		s.metrics.SearchErrors.WithLabelValues("timeout").Inc()
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, retriever.ErrRetrievalFailed):
		s.metrics.SearchErrors.WithLabelValues("retrieval_failed").Inc()
		return err
	default:
		s.metrics.SearchErrors.WithLabelValues("internal").Inc()
		return fmt.Errorf("search failed: %w", err)
	}
}
