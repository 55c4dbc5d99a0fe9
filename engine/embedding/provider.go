// Package embedding wraps an OpenAI-compatible embedding API behind a
// batched provider interface with classified errors.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/savorhq/tastecore/engine/errs"
	"github.com/savorhq/tastecore/internal/profile"
)

// Provider generates embedding vectors for recipe text.
type Provider interface {
	// Embed generates a vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates vectors for multiple texts in one API call.
	// The result has one vector per input, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector dimension.
	Dimensions() int

	// ModelID identifies the model producing the vectors.
	ModelID() string
}

type provider struct {
	client     *openai.Client
	model      string
	dimensions int
}

// NewProvider creates a Provider for any OpenAI-compatible endpoint.
// BaseURL covers siliconflow, ollama, dashscope and similar gateways.
func NewProvider(profile *profile.Profile) (Provider, error) {
	if !profile.IsEnrichmentEnabled() {
		return nil, errs.Validation("no embedding provider configured")
	}
	if profile.EmbeddingDimensions <= 0 {
		return nil, errs.Validation("embedding dimensions must be positive, got %d", profile.EmbeddingDimensions)
	}

	clientConfig := openai.DefaultConfig(profile.EmbeddingAPIKey)
	if profile.EmbeddingBaseURL != "" {
		clientConfig.BaseURL = profile.EmbeddingBaseURL
	}

	return &provider{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      profile.EmbeddingModel,
		dimensions: profile.EmbeddingDimensions,
	}, nil
}

func (p *provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (p *provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errs.Validation("no texts provided for embedding")
	}

	req := openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(p.model),
		Dimensions: p.dimensions,
	}
	resp, err := p.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, errs.Transient(fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts)))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		if len(data.Embedding) != p.dimensions {
			return nil, errs.PermanentProvider(fmt.Errorf("model returned %d dimensions, expected %d", len(data.Embedding), p.dimensions))
		}
		vectors[i] = data.Embedding
	}
	return vectors, nil
}

func (p *provider) Dimensions() int {
	return p.dimensions
}

func (p *provider) ModelID() string {
	return p.model
}

// classify maps provider transport failures onto retryable and permanent
// kinds so the enrichment pipeline can decide whether a task goes back in
// the queue.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return errs.ResourceExhausted("provider rate limited: %v", apiErr)
		case apiErr.HTTPStatusCode >= 500:
			return errs.Transient(err)
		case apiErr.HTTPStatusCode == http.StatusUnauthorized,
			apiErr.HTTPStatusCode == http.StatusForbidden,
			apiErr.HTTPStatusCode == http.StatusBadRequest:
			return errs.PermanentProvider(err)
		}
	}
	// Timeouts, cancellations and transport errors are all worth a retry.
	return errs.Transient(err)
}
