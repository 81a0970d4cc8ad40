// Package indexer applies document batches to the primary store and fans the
// same mutations out to configured mirror engines. Writes are chunked, each
// chunk in its own transaction, with embedding backfill for documents that
// arrive without a vector.
package indexer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/semaphore"

	"github.com/loupe-search/loupe/internal/config"
	"github.com/loupe-search/loupe/internal/embedding"
	"github.com/loupe-search/loupe/internal/metrics"
	"github.com/loupe-search/loupe/internal/mirror"
	"github.com/loupe-search/loupe/internal/models"
	"github.com/loupe-search/loupe/internal/observability"
	"github.com/loupe-search/loupe/internal/store"
)

const (
	defaultChunkSize        = 100
	defaultEmbedConcurrency = 4

	// unitNormTolerance is how far an incoming embedding may drift from
	// unit length before it is renormalized
	unitNormTolerance = 1e-6
)

// Embedder computes a document embedding from its text
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options tune a single upsert call
type Options struct {
	// ChunkSize overrides the configured transactional chunk size
	ChunkSize int
}

// Result summarizes an upsert call
type Result struct {
	Indexed int `json:"indexed"`
	Skipped int `json:"skipped"`
}

// Indexer writes document batches to the store and mirrors
type Indexer struct {
	store    *store.Store
	embedder Embedder
	fanout   *mirror.Fanout
	cfg      config.IndexerConfig
	metrics  *metrics.Metrics
	logger   observability.Logger

	now func() time.Time
}

// New creates an Indexer. A nil store turns every upsert into a skip; a nil
// embedder disables embedding backfill.
func New(st *store.Store, embedder Embedder, fanout *mirror.Fanout, cfg config.IndexerConfig, m *metrics.Metrics, logger observability.Logger) *Indexer {
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if fanout == nil {
		fanout = mirror.NewFanout(nil, m, logger)
	}
	return &Indexer{
		store:    st,
		embedder: embedder,
		fanout:   fanout,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// Upsert writes docs to the store in transactional chunks and replicates each
// committed chunk to the mirrors. Cancellation is honored between chunks; a
// chunk transaction already in flight always runs to completion.
func (i *Indexer) Upsert(ctx context.Context, docs []models.Document, opts Options) (Result, error) {
	if len(docs) == 0 {
		return Result{}, nil
	}
	if i.store == nil {
		i.logger.Warn("No document store configured, skipping upsert", map[string]interface{}{
			"count": len(docs),
		})
		return Result{Skipped: len(docs)}, nil
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = i.cfg.ChunkSize
	}
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	var result Result
	for start := 0; start < len(docs); start += chunkSize {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("upsert cancelled after %d documents: %w", result.Indexed, err)
		}

		end := start + chunkSize
		if end > len(docs) {
			end = len(docs)
		}
		chunk := i.prepareChunk(ctx, docs[start:end])

		err := i.store.Transaction(ctx, func(tx *sqlx.Tx) error {
			return i.store.UpsertBatch(ctx, tx, chunk)
		})
		if err != nil {
			i.metrics.IndexErrors.Inc()
			return result, fmt.Errorf("failed to upsert chunk %d-%d: %w", start, end, err)
		}

		result.Indexed += len(chunk)
		i.metrics.DocumentsIndexed.Add(float64(len(chunk)))
		i.fanout.Upsert(ctx, chunk)
	}

	i.logger.Info("Upsert complete", map[string]interface{}{
		"indexed": result.Indexed,
		"skipped": result.Skipped,
	})
	return result, nil
}

// Delete removes the given ids from the store and the mirrors. An empty id
// list is a no-op.
func (i *Indexer) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if i.store == nil {
		i.logger.Warn("No document store configured, skipping delete", map[string]interface{}{
			"count": len(ids),
		})
		return nil
	}

	deleted, err := i.store.DeleteByIDs(ctx, ids)
	if err != nil {
		i.metrics.IndexErrors.Inc()
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	i.metrics.DocumentsDeleted.Add(float64(deleted))
	i.fanout.Delete(ctx, ids)

	i.logger.Info("Delete complete", map[string]interface{}{
		"requested": len(ids),
		"deleted":   deleted,
	})
	return nil
}

// RunDelta applies an incremental batch: upserts first, then deletions, then
// a mirror flush so the batch becomes searchable as one unit.
func (i *Indexer) RunDelta(ctx context.Context, delta models.Delta) error {
	if _, err := i.Upsert(ctx, delta.Documents, Options{}); err != nil {
		return fmt.Errorf("failed to apply delta upserts: %w", err)
	}
	if err := i.Delete(ctx, delta.Deletions); err != nil {
		return fmt.Errorf("failed to apply delta deletions: %w", err)
	}
	i.fanout.Flush(ctx)
	return nil
}

// prepareChunk normalizes a chunk for storage: lowercased country, defaulted
// updated_at, unit-norm embeddings, and embedding backfill for documents that
// arrived without a vector. The input slice is not mutated.
func (i *Indexer) prepareChunk(ctx context.Context, docs []models.Document) []models.Document {
	chunk := make([]models.Document, len(docs))
	copy(chunk, docs)

	for idx := range chunk {
		doc := &chunk[idx]
		doc.Country = strings.ToLower(strings.TrimSpace(doc.Country))
		if doc.UpdatedAt == nil {
			now := i.now().UTC()
			doc.UpdatedAt = &now
		}
		if len(doc.Embedding) > 0 && !embedding.IsUnitNorm(doc.Embedding, unitNormTolerance) {
			// Normalize works in place; clone so the caller's slice is untouched
			doc.Embedding = embedding.Normalize(append([]float32(nil), doc.Embedding...))
		}
	}

	i.backfillEmbeddings(ctx, chunk)
	return chunk
}

// backfillEmbeddings computes missing vectors for a chunk with bounded
// concurrency. A failed embedding leaves the document without one, which the
// upsert then stores while preserving any previously stored vector.
func (i *Indexer) backfillEmbeddings(ctx context.Context, chunk []models.Document) {
	if i.embedder == nil {
		return
	}

	var missing []int
	for idx := range chunk {
		if len(chunk[idx].Embedding) == 0 {
			missing = append(missing, idx)
		}
	}
	if len(missing) == 0 {
		return
	}

	concurrency := int64(i.cfg.EmbedConcurrency)
	if concurrency <= 0 {
		concurrency = defaultEmbedConcurrency
	}
	sem := semaphore.NewWeighted(concurrency)

	var wg sync.WaitGroup
	for _, idx := range missing {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(idx int) {
			defer sem.Release(1)
			defer wg.Done()

			doc := &chunk[idx]
			vector, err := i.embedder.Embed(ctx, doc.Title+"\n"+doc.Body)
			if err != nil {
				i.metrics.EmbeddingFailures.Inc()
				i.logger.Warn("Embedding backfill failed, storing document without vector", map[string]interface{}{
					"id":    doc.ID,
					"error": err.Error(),
				})
				return
			}
			doc.Embedding = vector
		}(idx)
	}
	wg.Wait()
}
