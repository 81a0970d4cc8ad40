package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/loupe-search/loupe/internal/config"
	"github.com/loupe-search/loupe/internal/models"
	"github.com/loupe-search/loupe/internal/observability"
)

// Meilisearch mirrors documents into a Meilisearch index. Document writes use
// the batch documents endpoint; Meilisearch applies them asynchronously as
// tasks, so acceptance (HTTP 202) counts as success here.
type Meilisearch struct {
	baseURL string
	index   string
	apiKey  string
	client  *http.Client
	logger  observability.Logger
}

// NewMeilisearch creates a Meilisearch adapter from its mirror configuration
func NewMeilisearch(cfg config.MirrorConfig, logger observability.Logger) *Meilisearch {
	return &Meilisearch{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		index:   cfg.Index,
		apiKey:  cfg.APIKey,
		client:  newHTTPClient(),
		logger:  logger,
	}
}

// Name identifies the engine
func (m *Meilisearch) Name() string { return "meilisearch" }

// Upsert adds or replaces documents in the index
func (m *Meilisearch) Upsert(ctx context.Context, docs []models.Document) error {
	if len(docs) == 0 {
		return nil
	}

	body, err := json.Marshal(mirrorDocs(docs))
	if err != nil {
		return fmt.Errorf("failed to marshal documents: %w", err)
	}

	url := fmt.Sprintf("%s/indexes/%s/documents", m.baseURL, m.index)
	return m.send(ctx, url, body)
}

// Delete removes documents by id via the delete-batch endpoint
func (m *Meilisearch) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	body, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to marshal ids: %w", err)
	}

	url := fmt.Sprintf("%s/indexes/%s/documents/delete-batch", m.baseURL, m.index)
	return m.send(ctx, url, body)
}

func (m *Meilisearch) send(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("meilisearch request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			m.logger.Warn("Failed to close response body", map[string]interface{}{
				"adapter": m.Name(),
				"error":   err.Error(),
			})
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("meilisearch request failed with status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
