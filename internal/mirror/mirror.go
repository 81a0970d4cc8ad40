// Package mirror replicates index mutations to external search engines.
// Each adapter speaks one engine's HTTP API; the fan-out applies a chunk to
// every configured adapter and treats failures as observable but never fatal,
// so the primary store stays the source of truth.
package mirror

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/loupe-search/loupe/internal/config"
	"github.com/loupe-search/loupe/internal/metrics"
	"github.com/loupe-search/loupe/internal/models"
	"github.com/loupe-search/loupe/internal/observability"
)

// requestTimeout bounds every mirror HTTP call
const requestTimeout = 10 * time.Second

// Adapter replicates document mutations to one external search engine
type Adapter interface {
	// Name identifies the engine in logs and metrics
	Name() string
	// Upsert adds or replaces documents in the mirror index
	Upsert(ctx context.Context, docs []models.Document) error
	// Delete removes documents by id; absent ids are not an error
	Delete(ctx context.Context, ids []string) error
}

// Flusher is implemented by adapters whose engine buffers writes and can be
// asked to make them visible to searches
type Flusher interface {
	Flush(ctx context.Context) error
}

// New creates the adapter named by the configuration. Unknown names are a
// configuration error.
func New(cfg config.MirrorConfig, logger observability.Logger) (Adapter, error) {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	switch cfg.Name {
	case "meilisearch":
		return NewMeilisearch(cfg, logger), nil
	case "typesense":
		return NewTypesense(cfg, logger), nil
	case "opensearch":
		return NewOpenSearch(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown mirror adapter %q", cfg.Name)
	}
}

// BuildAll creates one adapter per configuration entry
func BuildAll(cfgs []config.MirrorConfig, logger observability.Logger) ([]Adapter, error) {
	adapters := make([]Adapter, 0, len(cfgs))
	for _, cfg := range cfgs {
		adapter, err := New(cfg, logger)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, adapter)
	}
	return adapters, nil
}

// Fanout applies index mutations to every configured adapter. Failures are
// logged and counted per adapter and never propagate to the caller.
type Fanout struct {
	adapters []Adapter
	metrics  *metrics.Metrics
	logger   observability.Logger
}

// NewFanout creates a Fanout over the given adapters
func NewFanout(adapters []Adapter, m *metrics.Metrics, logger observability.Logger) *Fanout {
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Fanout{adapters: adapters, metrics: m, logger: logger}
}

// Empty reports whether any adapters are configured
func (f *Fanout) Empty() bool {
	return len(f.adapters) == 0
}

// Upsert replicates docs to every adapter
func (f *Fanout) Upsert(ctx context.Context, docs []models.Document) {
	if len(docs) == 0 {
		return
	}
	for _, adapter := range f.adapters {
		if err := adapter.Upsert(ctx, docs); err != nil {
			f.observeFailure(adapter, "upsert", len(docs), err)
		}
	}
}

// Delete replicates deletions to every adapter
func (f *Fanout) Delete(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	for _, adapter := range f.adapters {
		if err := adapter.Delete(ctx, ids); err != nil {
			f.observeFailure(adapter, "delete", len(ids), err)
		}
	}
}

// Flush asks every flush-capable adapter to make buffered writes searchable
func (f *Fanout) Flush(ctx context.Context) {
	for _, adapter := range f.adapters {
		flusher, ok := adapter.(Flusher)
		if !ok {
			continue
		}
		if err := flusher.Flush(ctx); err != nil {
			f.observeFailure(adapter, "flush", 0, err)
		}
	}
}

func (f *Fanout) observeFailure(adapter Adapter, op string, count int, err error) {
	f.metrics.MirrorFailures.WithLabelValues(adapter.Name()).Inc()
	f.logger.Warn("Mirror replication failed", map[string]interface{}{
		"adapter": adapter.Name(),
		"op":      op,
		"count":   count,
		"error":   err.Error(),
	})
}

// mirrorDocs returns copies of docs without their embedding vectors; the
// mirror engines index text fields only
func mirrorDocs(docs []models.Document) []models.Document {
	out := make([]models.Document, len(docs))
	for i, doc := range docs {
		doc.Embedding = nil
		out[i] = doc
	}
	return out
}

// newHTTPClient builds the shared client configuration for mirror adapters
func newHTTPClient() *http.Client {
	return &http.Client{Timeout: requestTimeout}
}
