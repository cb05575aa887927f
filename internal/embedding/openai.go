package embedding

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/stevenjjobson/mcp-chromadb-memory/internal/merr"
)

// OpenAIEmbedder is the production Embedder adapter over an
// OpenAI-compatible embeddings endpoint. Transport-level failures
// (timeouts, 5xx, rate limits) are classified as merr.ErrEmbedUnavailable
// so WithRetry can retry them; an empty-input request is classified as
// merr.ErrEmbedInvalid and never retried.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
}

// NewOpenAIEmbedder builds an embedder against model (e.g.
// "text-embedding-3-small") with the given fixed dimension. baseURL may
// be empty to use OpenAI's default endpoint, or point at any
// OpenAI-compatible embeddings API.
func NewOpenAIEmbedder(apiKey, baseURL, model string, dimensions int) *OpenAIEmbedder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		dimensions: dimensions,
	}
}

func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	if text == "" {
		return nil, fmt.Errorf("empty text: %w", merr.ErrEmbedInvalid)
	}

	var vec Vector
	err := WithRetry(ctx, func(ctx context.Context) error {
		resp, callErr := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(e.model),
			Input: []string{text},
		})
		if callErr != nil {
			return fmt.Errorf("%w: %v", merr.ErrEmbedUnavailable, callErr)
		}
		if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
			return fmt.Errorf("%w: empty embedding response", merr.ErrEmbedUnavailable)
		}
		vec = toVector(resp.Data[0].Embedding)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

func (e *OpenAIEmbedder) EmbedMany(ctx context.Context, texts []string) ([]Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for _, t := range texts {
		if t == "" {
			return nil, fmt.Errorf("empty text in batch: %w", merr.ErrEmbedInvalid)
		}
	}

	var vectors []Vector
	err := WithRetry(ctx, func(ctx context.Context) error {
		resp, callErr := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(e.model),
			Input: texts,
		})
		if callErr != nil {
			return fmt.Errorf("%w: %v", merr.ErrEmbedUnavailable, callErr)
		}
		if len(resp.Data) != len(texts) {
			return fmt.Errorf("%w: batch returned %d embeddings for %d inputs", merr.ErrEmbedUnavailable, len(resp.Data), len(texts))
		}
		vectors = make([]Vector, len(resp.Data))
		for i, d := range resp.Data {
			vectors[i] = toVector(d.Embedding)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

func toVector(f32 []float32) Vector {
	v := make(Vector, len(f32))
	for i, f := range f32 {
		v[i] = float64(f)
	}
	return v
}

// IsUnavailable reports whether err is the transient embedder error.
func IsUnavailable(err error) bool {
	return errors.Is(err, merr.ErrEmbedUnavailable)
}
