package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// EnsureSchema creates the search_documents table and its indexes if they do
// not exist. The pgvector extension must already be installed; a missing
// extension is a configuration error, not something the service creates for
// itself. All statements are idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	var extExists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pg_extension WHERE extname = 'vector'
		)
	`).Scan(&extExists)
	if err != nil {
		return fmt.Errorf("failed to check for pgvector extension: %w", err)
	}
	if !extExists {
		return fmt.Errorf("pgvector extension is not installed")
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS search_documents (
			id              text PRIMARY KEY,
			title           text NOT NULL DEFAULT '',
			body            text NOT NULL DEFAULT '',
			url             text NOT NULL DEFAULT '',
			domain          text NOT NULL DEFAULT '',
			tags            text[] NOT NULL DEFAULT '{}',
			lang            text NOT NULL DEFAULT '',
			country         text NOT NULL,
			published_at    timestamptz,
			updated_at      timestamptz,
			authority_score double precision,
			embedding       vector(%d),
			tsv tsvector GENERATED ALWAYS AS (
				setweight(to_tsvector('simple', coalesce(title, '')), 'A') ||
				setweight(to_tsvector('simple', coalesce(body, '')), 'B') ||
				setweight(to_tsvector('simple', coalesce(array_to_string(tags, ' '), '')), 'C')
			) STORED
		)
	`, s.dims)

	createIndexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_search_documents_tsv
			ON search_documents USING GIN (tsv)`,
		`CREATE INDEX IF NOT EXISTS idx_search_documents_country_published
			ON search_documents (country, published_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_search_documents_domain
			ON search_documents (domain)`,
		`CREATE INDEX IF NOT EXISTS idx_search_documents_embedding
			ON search_documents USING ivfflat (embedding vector_cosine_ops)
			WITH (lists = 100)`,
	}

	err = s.Transaction(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, createTable); err != nil {
			return fmt.Errorf("failed to create search_documents table: %w", err)
		}
		for _, stmt := range createIndexes {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to create index: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Document store schema ensured", map[string]interface{}{
		"table":      "search_documents",
		"dimensions": s.dims,
	})
	return nil
}
