// Package metrics provides Prometheus metrics for the loupe search service
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline stages for the latency histogram
const (
	StageEmbed    = "embed"
	StageLexical  = "lexical"
	StageSemantic = "semantic"
	StageFuse     = "fuse"
	StageTotal    = "total"

	// StageEval is the full uncached retrieval time of one evaluation query
	StageEval = "eval"
)

// Metrics holds all Prometheus instruments for the search service
type Metrics struct {
	registry *prometheus.Registry

	// Query path
	Latency        *prometheus.HistogramVec
	SearchRequests prometheus.Counter
	SearchErrors   *prometheus.CounterVec
	SearchDegraded prometheus.Counter
	ResultCount    prometheus.Histogram

	// Cache
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// Index path
	DocumentsIndexed  prometheus.Counter
	DocumentsDeleted  prometheus.Counter
	IndexErrors       prometheus.Counter
	EmbeddingFailures prometheus.Counter
	MirrorFailures    *prometheus.CounterVec

	// Evaluation quality, set at the end of each run
	EvalPrecision    prometheus.Gauge
	EvalRecall       prometheus.Gauge
	EvalNDCG         prometheus.Gauge
	EvalLocalization prometheus.Gauge
}

// New creates and registers all search service metrics on a private registry
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		Latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loupe_latency_ms",
			Help:    "Latency of search pipeline stages in milliseconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1ms to ~4s
		}, []string{"stage"}),
		SearchRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "loupe_search_requests_total",
			Help: "Total number of search requests",
		}),
		SearchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loupe_search_errors_total",
			Help: "Total number of failed search requests by error kind",
		}, []string{"kind"}),
		SearchDegraded: factory.NewCounter(prometheus.CounterOpts{
			Name: "loupe_search_degraded_total",
			Help: "Total number of searches served in degraded (single channel) mode",
		}),
		ResultCount: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "loupe_search_result_count",
			Help:    "Number of results returned per search",
			Buckets: prometheus.LinearBuckets(0, 5, 10),
		}),

		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "loupe_cache_hits_total",
			Help: "Total number of query cache hits",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "loupe_cache_misses_total",
			Help: "Total number of query cache misses",
		}),

		DocumentsIndexed: factory.NewCounter(prometheus.CounterOpts{
			Name: "loupe_documents_indexed_total",
			Help: "Total number of documents upserted into the store",
		}),
		DocumentsDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "loupe_documents_deleted_total",
			Help: "Total number of documents deleted from the store",
		}),
		IndexErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "loupe_index_errors_total",
			Help: "Total number of indexing errors",
		}),
		EmbeddingFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "loupe_embedding_failures_total",
			Help: "Total number of failed embedding calls",
		}),
		MirrorFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loupe_mirror_failures_total",
			Help: "Total number of mirror adapter failures by adapter",
		}, []string{"adapter"}),

		EvalPrecision: factory.NewGauge(prometheus.GaugeOpts{
			Name: "loupe_eval_precision",
			Help: "Average precision@K of the last evaluation run",
		}),
		EvalRecall: factory.NewGauge(prometheus.GaugeOpts{
			Name: "loupe_eval_recall",
			Help: "Average recall@K of the last evaluation run",
		}),
		EvalNDCG: factory.NewGauge(prometheus.GaugeOpts{
			Name: "loupe_eval_ndcg",
			Help: "Average nDCG@K of the last evaluation run",
		}),
		EvalLocalization: factory.NewGauge(prometheus.GaugeOpts{
			Name: "loupe_eval_localization_accuracy",
			Help: "Localization accuracy of the last evaluation run",
		}),
	}
}

// ObserveStage records one stage latency observation in milliseconds
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.Latency.WithLabelValues(stage).Observe(float64(d.Microseconds()) / 1000.0)
}

// Handler returns the HTTP handler serving this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
