package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/loupe-search/loupe/internal/config"
	"github.com/loupe-search/loupe/internal/models"
	"github.com/loupe-search/loupe/internal/observability"
)

// Typesense mirrors documents into a Typesense collection. Upserts use the
// JSONL bulk import endpoint; deletes are per-document because Typesense has
// no batch delete by id list.
type Typesense struct {
	baseURL    string
	collection string
	apiKey     string
	client     *http.Client
	logger     observability.Logger
}

// NewTypesense creates a Typesense adapter from its mirror configuration
func NewTypesense(cfg config.MirrorConfig, logger observability.Logger) *Typesense {
	return &Typesense{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		collection: cfg.Index,
		apiKey:     cfg.APIKey,
		client:     newHTTPClient(),
		logger:     logger,
	}
}

// Name identifies the engine
func (t *Typesense) Name() string { return "typesense" }

// Upsert bulk-imports documents as JSON lines with action=upsert
func (t *Typesense) Upsert(ctx context.Context, docs []models.Document) error {
	if len(docs) == 0 {
		return nil
	}

	var body bytes.Buffer
	encoder := json.NewEncoder(&body)
	for _, doc := range mirrorDocs(docs) {
		if err := encoder.Encode(doc); err != nil {
			return fmt.Errorf("failed to encode document %s: %w", doc.ID, err)
		}
	}

	endpoint := fmt.Sprintf("%s/collections/%s/documents/import?action=upsert", t.baseURL, t.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")
	t.authorize(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("typesense import failed: %w", err)
	}
	defer t.closeBody(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("typesense import failed with status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Delete removes documents one by one; a 404 means the document was already
// gone and is not an error
func (t *Typesense) Delete(ctx context.Context, ids []string) error {
	for _, id := range ids {
		endpoint := fmt.Sprintf("%s/collections/%s/documents/%s", t.baseURL, t.collection, url.PathEscape(id))
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		t.authorize(req)

		resp, err := t.client.Do(req)
		if err != nil {
			return fmt.Errorf("typesense delete failed: %w", err)
		}

		status := resp.StatusCode
		t.closeBody(resp)

		if status == http.StatusNotFound {
			continue
		}
		if status < 200 || status >= 300 {
			return fmt.Errorf("typesense delete of %s failed with status %d", id, status)
		}
	}
	return nil
}

func (t *Typesense) authorize(req *http.Request) {
	if t.apiKey != "" {
		req.Header.Set("X-TYPESENSE-API-KEY", t.apiKey)
	}
}

func (t *Typesense) closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		t.logger.Warn("Failed to close response body", map[string]interface{}{
			"adapter": t.Name(),
			"error":   err.Error(),
		})
	}
}
