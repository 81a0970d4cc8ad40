// Package store implements the document store on PostgreSQL with pgvector.
// It owns the search_documents schema and exposes the two retrieval query
// shapes (lexical and semantic) plus the write path used by the indexer.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/loupe-search/loupe/internal/config"
	"github.com/loupe-search/loupe/internal/models"
	"github.com/loupe-search/loupe/internal/observability"
)

// ErrNotFound indicates the requested document does not exist
var ErrNotFound = errors.New("document not found")

// Searcher is the retrieval-side capability of the store
type Searcher interface {
	// SearchLexical returns candidates ranked by full-text relevance
	SearchLexical(ctx context.Context, country, text string, limit int) ([]models.CandidateRow, error)
	// SearchSemantic returns candidates ranked by cosine similarity
	SearchSemantic(ctx context.Context, queryVector []float32, country string, limit int) ([]models.CandidateRow, error)
}

// Store provides document persistence and retrieval over a shared
// connection pool
type Store struct {
	db     *sqlx.DB
	logger observability.Logger
	dims   int
}

// New creates a Store over the given connection pool
func New(db *sqlx.DB, dims int, logger observability.Logger) *Store {
	if dims <= 0 {
		dims = 1536
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Store{
		db:     db,
		logger: logger,
		dims:   dims,
	}
}

// Connect opens a Postgres connection pool from the database configuration
// and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Transaction runs fn inside a transaction, rolling back on error.
// Rollback failures are logged, not returned; the original error wins.
func (s *Store) Transaction(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to roll back transaction", map[string]interface{}{
				"error": rbErr.Error(),
			})
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ping verifies the underlying connection pool is alive
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying connection pool
func (s *Store) Close() error {
	return s.db.Close()
}
