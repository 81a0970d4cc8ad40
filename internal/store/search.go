package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/loupe-search/loupe/internal/models"
)

// candidateColumns is shared by both query shapes; score_raw / score_vector
// is appended per shape.
const candidateColumns = `
	id, title, body, url, domain, tags, lang, country,
	published_at, updated_at, authority_score`

// SearchLexical runs the weighted full-text query for one country. Results
// are ranked by ts_rank_cd over the stored tsv column; ties break by
// updated_at descending then id ascending. Text that parses to an empty
// tsquery matches nothing.
func (s *Store) SearchLexical(ctx context.Context, country, text string, limit int) ([]models.CandidateRow, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	query := `
		SELECT` + candidateColumns + `,
			ts_rank_cd(tsv, websearch_to_tsquery('simple', $2)) AS score_raw
		FROM search_documents
		WHERE country = $1
			AND tsv @@ websearch_to_tsquery('simple', $2)
		ORDER BY score_raw DESC, updated_at DESC NULLS LAST, id ASC
		LIMIT $3`

	var rows []models.CandidateRow
	if err := s.db.SelectContext(ctx, &rows, query, country, text, limit); err != nil {
		return nil, fmt.Errorf("lexical search query failed: %w", err)
	}
	return rows, nil
}

// SearchSemantic runs the cosine nearest-neighbor query for one country.
// score_vector is 1 - cosine distance, clamped to [0, 1]; rows with no
// embedding never match. Ties break by updated_at descending then id
// ascending.
func (s *Store) SearchSemantic(ctx context.Context, queryVector []float32, country string, limit int) ([]models.CandidateRow, error) {
	if len(queryVector) == 0 {
		return nil, nil
	}

	query := `
		SELECT` + candidateColumns + `,
			1 - (embedding <=> $1::vector) AS score_vector
		FROM search_documents
		WHERE country = $2
			AND embedding IS NOT NULL
		ORDER BY embedding <=> $1::vector ASC, updated_at DESC NULLS LAST, id ASC
		LIMIT $3`

	var rows []models.CandidateRow
	if err := s.db.SelectContext(ctx, &rows, query, VectorLiteral(queryVector), country, limit); err != nil {
		return nil, fmt.Errorf("semantic search query failed: %w", err)
	}

	// Floating point noise can push the reported similarity a hair outside
	// the documented range
	for i := range rows {
		if rows[i].ScoreVector < 0 {
			rows[i].ScoreVector = 0
		} else if rows[i].ScoreVector > 1 {
			rows[i].ScoreVector = 1
		}
	}
	return rows, nil
}

// VectorLiteral renders a float32 slice in pgvector's text format: [a,b,c]
func VectorLiteral(vec []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
