package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loupe-search/loupe/internal/cache"
	"github.com/loupe-search/loupe/internal/config"
	"github.com/loupe-search/loupe/internal/indexer"
	"github.com/loupe-search/loupe/internal/metrics"
	"github.com/loupe-search/loupe/internal/models"
	"github.com/loupe-search/loupe/internal/observability"
	"github.com/loupe-search/loupe/internal/query"
	"github.com/loupe-search/loupe/internal/retriever"
	"github.com/loupe-search/loupe/internal/search"
	"github.com/loupe-search/loupe/internal/store"
)

var documentColumns = []string{
	"id", "title", "body", "url", "domain", "tags", "lang", "country",
	"published_at", "updated_at", "authority_score",
}

// stubRetriever serves a fixed result, an error, or blocks until the
// request context is cancelled
type stubRetriever struct {
	result *retriever.Result
	err    error
	block  bool
}

func (s *stubRetriever) Retrieve(ctx context.Context, _ *query.NormalizedQuery) (*retriever.Result, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.result != nil {
		return s.result, nil
	}
	return &retriever.Result{}, nil
}

func candidateList(ids ...string) []models.CandidateRow {
	out := make([]models.CandidateRow, len(ids))
	for i, id := range ids {
		out[i] = models.CandidateRow{
			Document: models.Document{ID: id, Country: "us"},
			ScoreRaw: float64(len(ids) - i),
		}
	}
	return out
}

func searchConfig() config.SearchConfig {
	return config.SearchConfig{
		WLexical: 0.45, WVector: 0.45, WAuthority: 0.05, WFreshness: 0.05,
		DefaultK: 10, DefaultTTLMs: 60000, DeadlineMs: 60000,
	}
}

// newTestServer wires a server around a stub retrieval path and a
// store-less indexer
func newTestServer(t *testing.T, r search.CandidateRetriever, cfg config.SearchConfig) *Server {
	t.Helper()
	mem, err := cache.NewMemoryCache(64)
	require.NoError(t, err)
	m := metrics.New()
	svc := search.New(mem, r, nil, cfg, m, observability.NewNoopLogger())
	idx := indexer.New(nil, nil, nil, config.IndexerConfig{}, m, observability.NewNoopLogger())
	return NewServer(config.ServerConfig{ListenAddr: ":0"}, Deps{
		Search:  svc,
		Indexer: idx,
		Cache:   mem,
		Metrics: m,
		Version: "test",
	})
}

// newMockStoreServer wires a server whose indexer and document lookups run
// against a sqlmock-backed store
func newMockStoreServer(t *testing.T) (*Server, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	st := store.New(sqlx.NewDb(db, "sqlmock"), 3, observability.NewNoopLogger())
	idx := indexer.New(st, nil, nil, config.IndexerConfig{ChunkSize: 100}, nil, observability.NewNoopLogger())
	svc := search.New(nil, &stubRetriever{}, nil, searchConfig(), nil, observability.NewNoopLogger())

	srv := NewServer(config.ServerConfig{ListenAddr: ":0"}, Deps{
		Search:  svc,
		Indexer: idx,
		Store:   st,
		Version: "test",
	})
	return srv, mock
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestSearchEndpointReturnsResults(t *testing.T) {
	srv := newTestServer(t, &stubRetriever{
		result: &retriever.Result{Lexical: candidateList("doc-1", "doc-2")},
	}, searchConfig())

	w := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/search",
		map[string]interface{}{"query": "apple pie", "country": "US", "k": 5})

	require.Equal(t, http.StatusOK, w.Code)

	var resp search.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "doc-1", resp.Results[0].ID)
	assert.Equal(t, 1, resp.Results[0].Rank)
	assert.Equal(t, 2, resp.Total)
}

func TestSearchEndpointRejectsMissingQuery(t *testing.T) {
	srv := newTestServer(t, &stubRetriever{}, searchConfig())

	w := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/search",
		map[string]interface{}{"country": "us"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchEndpointRejectsBadCountry(t *testing.T) {
	srv := newTestServer(t, &stubRetriever{}, searchConfig())

	for _, country := range []string{"usa", "u", "1a", ""} {
		w := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/search",
			map[string]interface{}{"query": "apple", "country": country})
		assert.Equal(t, http.StatusBadRequest, w.Code, "country %q", country)
	}
}

func TestSearchEndpointRejectsZeroK(t *testing.T) {
	srv := newTestServer(t, &stubRetriever{}, searchConfig())

	w := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/search",
		map[string]interface{}{"query": "apple", "country": "us", "k": 0})

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid query")
}

func TestSearchEndpointTimeout(t *testing.T) {
	cfg := searchConfig()
	cfg.DeadlineMs = 30
	srv := newTestServer(t, &stubRetriever{block: true}, cfg)

	w := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/search",
		map[string]interface{}{"query": "slow", "country": "us"})

	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
}

func TestSearchEndpointRetrievalFailure(t *testing.T) {
	srv := newTestServer(t, &stubRetriever{
		err: fmt.Errorf("%w: lexical: down; semantic: down", retriever.ErrRetrievalFailed),
	}, searchConfig())

	w := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/search",
		map[string]interface{}{"query": "apple", "country": "us"})

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestUpsertDocumentsEndpoint(t *testing.T) {
	srv, mock := newMockStoreServer(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO search_documents").
		WithArgs("doc-1", "Apple Pie", "Crust", "", "", pq.StringArray{}, "", "us",
			nil, sqlmock.AnyArg(), nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO search_documents").
		WithArgs("doc-2", "Banana Bread", "Ripe", "", "", pq.StringArray{}, "", "us",
			nil, sqlmock.AnyArg(), nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/documents", map[string]interface{}{
		"documents": []map[string]interface{}{
			{"id": "doc-1", "title": "Apple Pie", "body": "Crust", "country": "us"},
			{"id": "doc-2", "title": "Banana Bread", "body": "Ripe", "country": "us"},
		},
	})

	require.Equal(t, http.StatusOK, w.Code)

	var result indexer.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 2, result.Indexed)
	assert.Zero(t, result.Skipped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDocumentsRejectsMissingList(t *testing.T) {
	srv, _ := newMockStoreServer(t)

	w := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/documents",
		map[string]interface{}{"docs": []string{}})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteDocumentsEndpoint(t *testing.T) {
	srv, mock := newMockStoreServer(t)

	mock.ExpectExec("DELETE FROM search_documents").
		WithArgs(pq.Array([]string{"doc-1", "doc-2"})).
		WillReturnResult(sqlmock.NewResult(0, 2))

	w := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/documents/delete",
		map[string]interface{}{"ids": []string{"doc-1", "doc-2"}})

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeltaEndpoint(t *testing.T) {
	srv, mock := newMockStoreServer(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO search_documents").
		WithArgs("doc-1", "Apple Pie", "Crust", "", "", pq.StringArray{}, "", "us",
			nil, sqlmock.AnyArg(), nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec("DELETE FROM search_documents").
		WithArgs(pq.Array([]string{"doc-9"})).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/delta", map[string]interface{}{
		"documents": []map[string]interface{}{
			{"id": "doc-1", "title": "Apple Pie", "body": "Crust", "country": "us"},
		},
		"deletions": []string{"doc-9"},
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"applied"`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDocumentEndpoint(t *testing.T) {
	srv, mock := newMockStoreServer(t)

	rows := sqlmock.NewRows(documentColumns).
		AddRow("doc-1", "Apple Pie", "Crust", "https://a.example/pie", "a.example",
			"{recipes}", "en", "us", nil, nil, nil)
	mock.ExpectQuery("FROM search_documents").
		WithArgs("doc-1").
		WillReturnRows(rows)

	w := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/documents/doc-1", nil)

	require.Equal(t, http.StatusOK, w.Code)

	var doc models.Document
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, "doc-1", doc.ID)
	assert.Equal(t, []string{"recipes"}, []string(doc.Tags))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDocumentNotFound(t *testing.T) {
	srv, mock := newMockStoreServer(t)

	mock.ExpectQuery("FROM search_documents").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(documentColumns))

	w := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/documents/missing", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
