//go:build bedrock

package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"

	"memlog/internal/domain"
	"memlog/internal/infra/config"
)

const (
	defaultBedrockModel  = "amazon.titan-embed-text-v2:0"
	defaultBedrockRegion = "us-east-1"
	defaultBedrockDims   = 1024
)

// bedrockInvokeAPI abstracts the Bedrock runtime method used here, for tests.
type bedrockInvokeAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockProvider embeds text with an Amazon Titan model through the Bedrock
// runtime. Titan takes one text per request.
type BedrockProvider struct {
	model  string
	dims   int
	client bedrockInvokeAPI
}

// NewBedrockProvider uses the default AWS credential chain.
func NewBedrockProvider(ctx context.Context, region, model string, dims int) (*BedrockProvider, error) {
	if region == "" {
		region = defaultBedrockRegion
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newBedrockProviderWithClient(model, dims, bedrockruntime.NewFromConfig(awsCfg)), nil
}

func newBedrockProviderWithClient(model string, dims int, client bedrockInvokeAPI) *BedrockProvider {
	if model == "" {
		model = defaultBedrockModel
	}
	if dims <= 0 {
		dims = defaultBedrockDims
	}
	return &BedrockProvider{model: model, dims: dims, client: client}
}

func newBedrock(cfg config.EmbeddingConfig) (domain.EmbeddingProvider, error) {
	return NewBedrockProvider(context.Background(), cfg.Region, cfg.Model, cfg.Dimensions)
}

type titanRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions,omitempty"`
	Normalize  bool   `json:"normalize"`
}

type titanResponse struct {
	Embedding           []float64 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

// Embed implements domain.EmbeddingProvider.
func (p *BedrockProvider) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float64, len(texts))
	for i, text := range texts {
		body, err := json.Marshal(titanRequest{InputText: text, Dimensions: p.dims, Normalize: true})
		if err != nil {
			return nil, fmt.Errorf("%w: marshal request: %v", domain.ErrEmbeddingFailed, err)
		}
		resp, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(p.model),
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
			Body:        body,
		})
		if err != nil {
			return nil, mapBedrockError(err)
		}
		var tr titanResponse
		if err := json.Unmarshal(resp.Body, &tr); err != nil {
			return nil, fmt.Errorf("%w: unmarshal response: %v", domain.ErrEmbeddingFailed, err)
		}
		if len(tr.Embedding) == 0 {
			return nil, fmt.Errorf("%w: bedrock returned an empty embedding", domain.ErrEmbeddingFailed)
		}
		out[i] = tr.Embedding
	}
	return out, nil
}

// Dimensions implements domain.EmbeddingProvider.
func (p *BedrockProvider) Dimensions() int { return p.dims }

// Name implements domain.EmbeddingProvider.
func (p *BedrockProvider) Name() string { return "bedrock" }

func mapBedrockError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDeniedException", "UnrecognizedClientException":
			return fmt.Errorf("%w: bedrock %s: %v", domain.ErrEmbeddingFailed, apiErr.ErrorCode(), domain.ErrPermissionDenied)
		case "ThrottlingException", "TooManyRequestsException":
			return fmt.Errorf("%w: bedrock throttled: %s", domain.ErrEmbeddingFailed, apiErr.ErrorMessage())
		}
		return fmt.Errorf("%w: bedrock %s: %s", domain.ErrEmbeddingFailed, apiErr.ErrorCode(), apiErr.ErrorMessage())
	}
	return fmt.Errorf("%w: bedrock: %v", domain.ErrEmbeddingFailed, err)
}
