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

// OpenSearch mirrors documents into an OpenSearch index via the _bulk NDJSON
// endpoint. The api_key setting carries "user:password" for basic auth.
// OpenSearch buffers writes until a refresh, so the adapter implements Flush.
type OpenSearch struct {
	baseURL  string
	index    string
	username string
	password string
	client   *http.Client
	logger   observability.Logger
}

// NewOpenSearch creates an OpenSearch adapter from its mirror configuration
func NewOpenSearch(cfg config.MirrorConfig, logger observability.Logger) *OpenSearch {
	username, password, _ := strings.Cut(cfg.APIKey, ":")
	return &OpenSearch{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		index:    cfg.Index,
		username: username,
		password: password,
		client:   newHTTPClient(),
		logger:   logger,
	}
}

// Name identifies the engine
func (o *OpenSearch) Name() string { return "opensearch" }

// bulkAction is one action line of a _bulk request
type bulkAction struct {
	Index  *bulkTarget `json:"index,omitempty"`
	Delete *bulkTarget `json:"delete,omitempty"`
}

type bulkTarget struct {
	IndexName string `json:"_index"`
	ID        string `json:"_id"`
}

// bulkResponse carries the error summary of a _bulk call
type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// Upsert indexes documents through one _bulk request
func (o *OpenSearch) Upsert(ctx context.Context, docs []models.Document) error {
	if len(docs) == 0 {
		return nil
	}

	var body bytes.Buffer
	encoder := json.NewEncoder(&body)
	for _, doc := range mirrorDocs(docs) {
		action := bulkAction{Index: &bulkTarget{IndexName: o.index, ID: doc.ID}}
		if err := encoder.Encode(action); err != nil {
			return fmt.Errorf("failed to encode bulk action: %w", err)
		}
		if err := encoder.Encode(doc); err != nil {
			return fmt.Errorf("failed to encode document %s: %w", doc.ID, err)
		}
	}
	return o.bulk(ctx, &body)
}

// Delete removes documents through one _bulk request. Missing documents come
// back as per-item 404s, which the bulk API does not flag as errors.
func (o *OpenSearch) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	var body bytes.Buffer
	encoder := json.NewEncoder(&body)
	for _, id := range ids {
		action := bulkAction{Delete: &bulkTarget{IndexName: o.index, ID: id}}
		if err := encoder.Encode(action); err != nil {
			return fmt.Errorf("failed to encode bulk action: %w", err)
		}
	}
	return o.bulk(ctx, &body)
}

// Flush refreshes the index so buffered writes become searchable
func (o *OpenSearch) Flush(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/%s/_refresh", o.baseURL, o.index)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	o.authorize(req)

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("opensearch refresh failed: %w", err)
	}
	defer o.closeBody(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("opensearch refresh failed with status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (o *OpenSearch) bulk(ctx context.Context, body io.Reader) error {
	endpoint := o.baseURL + "/_bulk"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	o.authorize(req)

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("opensearch bulk request failed: %w", err)
	}
	defer o.closeBody(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("opensearch bulk request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result bulkResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if result.Errors {
		return fmt.Errorf("opensearch bulk request reported item failures: %s", summarizeBulkErrors(result))
	}
	return nil
}

// summarizeBulkErrors extracts the first few item errors for the error message
func summarizeBulkErrors(result bulkResponse) string {
	const maxReported = 3

	var reasons []string
	for _, item := range result.Items {
		for _, status := range item {
			if status.Error == nil {
				continue
			}
			reasons = append(reasons, fmt.Sprintf("%s: %s", status.Error.Type, status.Error.Reason))
			if len(reasons) == maxReported {
				return strings.Join(reasons, "; ") + "; ..."
			}
		}
	}
	if len(reasons) == 0 {
		return "no error details"
	}
	return strings.Join(reasons, "; ")
}

func (o *OpenSearch) authorize(req *http.Request) {
	if o.username != "" {
		req.SetBasicAuth(o.username, o.password)
	}
}

func (o *OpenSearch) closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		o.logger.Warn("Failed to close response body", map[string]interface{}{
			"adapter": o.Name(),
			"error":   err.Error(),
		})
	}
}
