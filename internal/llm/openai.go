package llm

import (
	"context"
	"errors"

	"github.com/sashabaranov/go-openai"

	"docembed/internal/apperr"
)

// OpenAIEmbedder embeds texts with the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

// NewOpenAIEmbedder creates an embedder. An empty baseURL targets api.openai.com.
func NewOpenAIEmbedder(baseURL, apiKey, model string) *OpenAIEmbedder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// EmbedTexts implements Embedder.
func (e *OpenAIEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}

	if len(resp.Data) != len(texts) {
		return nil, apperr.New(apperr.ErrProtocol, "expected %d embeddings, got %d", len(texts), len(resp.Data))
	}
	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) || vectors[d.Index] != nil {
			return nil, apperr.New(apperr.ErrProtocol, "embedding index %d out of range or repeated", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apperr.Wrap(statusKind(apiErr.HTTPStatusCode), "openai embeddings request rejected", err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return apperr.Wrap(statusKind(reqErr.HTTPStatusCode), "openai embeddings request failed", err)
	}
	return apperr.Wrap(apperr.ErrTransient, "openai embeddings request failed", err)
}
