// Package models defines the core data types shared across the search
// pipeline: stored documents, scored retrieval candidates, and fused results.
package models

import (
	"time"

	"github.com/lib/pq"
)

// Document is the unit of retrieval. Upserts replace every mutable field;
// a nil Embedding preserves whatever embedding is already stored.
type Document struct {
	ID             string         `db:"id" json:"id"`
	Title          string         `db:"title" json:"title"`
	Body           string         `db:"body" json:"body"`
	URL            string         `db:"url" json:"url,omitempty"`
	Domain         string         `db:"domain" json:"domain,omitempty"`
	Tags           pq.StringArray `db:"tags" json:"tags,omitempty"`
	Lang           string         `db:"lang" json:"lang,omitempty"`
	Country        string         `db:"country" json:"country"`
	PublishedAt    *time.Time     `db:"published_at" json:"published_at,omitempty"`
	UpdatedAt      *time.Time     `db:"updated_at" json:"updated_at,omitempty"`
	AuthorityScore *float64       `db:"authority_score" json:"authority_score,omitempty"`

	// Embedding is written as a pgvector literal and never read back by the
	// query path, so it is excluded from row scanning.
	Embedding []float32 `db:"-" json:"embedding,omitempty"`
}

// EffectiveTime returns the timestamp used for freshness and tie-breaking:
// updated_at when set, otherwise published_at, otherwise nil.
func (d *Document) EffectiveTime() *time.Time {
	if d.UpdatedAt != nil {
		return d.UpdatedAt
	}
	return d.PublishedAt
}

// CandidateRow is a document scored by exactly one retrieval channel.
// ScoreRaw is populated by the lexical query, ScoreVector by the semantic one.
type CandidateRow struct {
	Document
	ScoreRaw    float64 `db:"score_raw" json:"score_raw"`
	ScoreVector float64 `db:"score_vector" json:"score_vector"`
}

// FusedResult is a document after score fusion, carrying its composite score,
// the normalized per-channel scores, and its 1-based rank.
type FusedResult struct {
	Document
	Rank        int     `json:"rank"`
	Score       float64 `json:"score"`
	ScoreRaw    float64 `json:"score_raw"`
	ScoreVector float64 `json:"score_vector"`
}

// Delta is an incremental indexing batch: documents to upsert and ids to
// delete, applied in that order.
type Delta struct {
	Documents []Document `json:"documents"`
	Deletions []string   `json:"deletions"`
}
