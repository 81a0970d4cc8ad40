package embedding

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// BedrockProvider implements Provider on the Amazon Bedrock runtime
type BedrockProvider struct {
	client *bedrockruntime.Client
	model  string
	dims   int
}

// NewBedrockProvider creates a Bedrock embedding provider for the given
// region and model. Credentials come from the default AWS chain.
func NewBedrockProvider(ctx context.Context, region, model string, dims int) (*BedrockProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	switch model {
	case "titan-embed-text-v2", "embed-english-v3", "embed-multilingual-v3":
	default:
		return nil, fmt.Errorf("unsupported bedrock model: %s", model)
	}

	return &BedrockProvider{
		client: bedrockruntime.NewFromConfig(cfg),
		model:  model,
		dims:   dims,
	}, nil
}

type titanEmbedRequest struct {
	InputText string `json:"inputText"`
}

type titanEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

type cohereEmbedRequest struct {
	Texts     []string `json:"texts"`
	InputType string   `json:"input_type,omitempty"`
}

type cohereEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed generates an embedding by invoking the configured Bedrock model
func (p *BedrockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	var modelID string
	var requestBody []byte
	var err error

	switch p.model {
	case "titan-embed-text-v2":
		modelID = "amazon.titan-embed-text-v2:0"
		requestBody, err = json.Marshal(titanEmbedRequest{InputText: text})
	case "embed-english-v3", "embed-multilingual-v3":
		modelID = fmt.Sprintf("cohere.%s", p.model)
		requestBody, err = json.Marshal(cohereEmbedRequest{
			Texts:     []string{text},
			InputType: "search_query",
		})
	default:
		return nil, fmt.Errorf("unsupported bedrock model: %s", p.model)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Body:        requestBody,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: invoke %s: %v", ErrUnavailable, modelID, err)
	}

	if p.model == "titan-embed-text-v2" {
		var resp titanEmbedResponse
		if err := json.Unmarshal(output.Body, &resp); err != nil {
			return nil, fmt.Errorf("failed to parse titan response: %w", err)
		}
		return resp.Embedding, nil
	}

	var resp cohereEmbedResponse
	if err := json.Unmarshal(output.Body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse cohere response: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings in response")
	}
	return resp.Embeddings[0], nil
}

// Dimensions returns the configured dimensionality
func (p *BedrockProvider) Dimensions() int {
	return p.dims
}

// Name identifies the provider
func (p *BedrockProvider) Name() string {
	return "bedrock"
}
