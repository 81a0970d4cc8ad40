package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/loupe-search/loupe/internal/models"
)

const upsertQuery = `
	INSERT INTO search_documents (
		id, title, body, url, domain, tags, lang, country,
		published_at, updated_at, authority_score, embedding
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::vector
	)
	ON CONFLICT (id) DO UPDATE SET
		title = EXCLUDED.title,
		body = EXCLUDED.body,
		url = EXCLUDED.url,
		domain = EXCLUDED.domain,
		tags = EXCLUDED.tags,
		lang = EXCLUDED.lang,
		country = EXCLUDED.country,
		published_at = EXCLUDED.published_at,
		updated_at = EXCLUDED.updated_at,
		authority_score = EXCLUDED.authority_score,
		embedding = COALESCE(EXCLUDED.embedding, search_documents.embedding)`

// UpsertBatch writes the documents within the caller's transaction. On a
// duplicate id every explicit column is overwritten, except that a nil
// embedding preserves whatever embedding is already stored.
func (s *Store) UpsertBatch(ctx context.Context, tx *sqlx.Tx, docs []models.Document) error {
	for i := range docs {
		doc := &docs[i]

		// nil means "no new embedding": the COALESCE in the upsert keeps
		// the stored value
		var embedding interface{}
		if len(doc.Embedding) > 0 {
			embedding = VectorLiteral(doc.Embedding)
		}

		tags := doc.Tags
		if tags == nil {
			tags = pq.StringArray{}
		}

		_, err := tx.ExecContext(ctx, upsertQuery,
			doc.ID, doc.Title, doc.Body, doc.URL, doc.Domain,
			tags, doc.Lang, doc.Country,
			doc.PublishedAt, doc.UpdatedAt, doc.AuthorityScore,
			embedding,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert document %s: %w", doc.ID, err)
		}
	}
	return nil
}

// DeleteByIDs removes the documents with the given ids and reports how many
// rows were deleted. An empty id list is a no-op.
func (s *Store) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM search_documents WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("failed to delete documents: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// GetByID fetches a single document. Returns ErrNotFound when no row exists.
func (s *Store) GetByID(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	query := `
		SELECT` + candidateColumns + `
		FROM search_documents
		WHERE id = $1`

	if err := s.db.GetContext(ctx, &doc, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	return &doc, nil
}

// Count returns the number of stored documents
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM search_documents`); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return count, nil
}
