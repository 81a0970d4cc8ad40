package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loupe-search/loupe/internal/indexer"
	"github.com/loupe-search/loupe/internal/models"
	"github.com/loupe-search/loupe/internal/query"
	"github.com/loupe-search/loupe/internal/retriever"
	"github.com/loupe-search/loupe/internal/search"
	"github.com/loupe-search/loupe/internal/store"
)

// searchRequest is the POST /search body. Beyond binding, the query package
// re-validates during normalization, so binding only rejects the shapes that
// can never normalize.
type searchRequest struct {
	Query          string     `json:"query" binding:"required"`
	Country        string     `json:"country" binding:"required,country"`
	K              *int       `json:"k,omitempty"`
	MustDomains    []string   `json:"must_domains,omitempty"`
	MustNotDomains []string   `json:"must_not_domains,omitempty"`
	From           *time.Time `json:"from,omitempty"`
	To             *time.Time `json:"to,omitempty"`
}

type upsertRequest struct {
	Documents []models.Document `json:"documents" binding:"required"`
}

type deleteRequest struct {
	IDs []string `json:"ids" binding:"required"`
}

func (s *Server) handleSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := s.search.Search(c.Request.Context(), query.RawQuery{
		Text:           req.Query,
		Country:        req.Country,
		K:              req.K,
		MustDomains:    req.MustDomains,
		MustNotDomains: req.MustNotDomains,
		From:           req.From,
		To:             req.To,
	})
	if err != nil {
		c.JSON(searchStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// searchStatus maps search sentinels onto HTTP status codes
func searchStatus(err error) int {
	switch {
	case errors.Is(err, query.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, search.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, retriever.ErrRetrievalFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleUpsertDocuments(c *gin.Context) {
	var req upsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.indexer.Upsert(c.Request.Context(), req.Documents, indexer.Options{})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   err.Error(),
			"indexed": result.Indexed,
			"skipped": result.Skipped,
		})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleDeleteDocuments(c *gin.Context) {
	var req deleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.indexer.Delete(c.Request.Context(), req.IDs); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDelta(c *gin.Context) {
	var delta models.Delta
	if err := c.ShouldBindJSON(&delta); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.indexer.RunDelta(c.Request.Context(), delta); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "applied",
		"documents": len(delta.Documents),
		"deletions": len(delta.Deletions),
	})
}

func (s *Server) handleGetDocument(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "document store disabled"})
		return
	}

	doc, err := s.store.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, doc)
}
