package llm

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"

	"docembed/internal/apperr"
)

// OllamaEmbedder embeds texts through an Ollama server using langchaingo.
type OllamaEmbedder struct {
	embedder *embeddings.EmbedderImpl
}

// NewOllamaEmbedder creates an embedder for model served at serverURL.
func NewOllamaEmbedder(serverURL, model string) (*OllamaEmbedder, error) {
	if _, err := url.ParseRequestURI(serverURL); err != nil {
		return nil, apperr.Wrap(apperr.ErrConfig, "invalid Ollama URL", err)
	}

	client, err := ollama.New(
		ollama.WithModel(model),
		ollama.WithServerURL(serverURL),
		ollama.WithHTTPClient(&http.Client{Transport: statusTransport{base: http.DefaultTransport}}),
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrConfig, "failed to create Ollama client", err)
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(false))
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrConfig, "failed to create Ollama embedder", err)
	}
	return &OllamaEmbedder{embedder: embedder}, nil
}

// EmbedTexts implements Embedder.
func (e *OllamaEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	status := 0
	ctx = context.WithValue(ctx, statusKey{}, &status)

	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		if errors.Is(err, ollama.ErrEmptyResponse) || errors.Is(err, ollama.ErrIncompleteEmbedding) {
			return nil, apperr.Wrap(apperr.ErrProtocol, "ollama returned incomplete embeddings", err)
		}
		if status >= http.StatusBadRequest {
			return nil, apperr.Wrap(statusKind(status), "ollama embeddings request rejected", err)
		}
		return nil, apperr.Wrap(apperr.ErrTransient, "ollama embeddings request failed", err)
	}
	return vectors, nil
}

type statusKey struct{}

// statusTransport records the last response status into the *int the
// request context carries under statusKey.
type statusTransport struct {
	base http.RoundTripper
}

func (t statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if resp != nil {
		if p, ok := req.Context().Value(statusKey{}).(*int); ok {
			*p = resp.StatusCode
		}
	}
	return resp, err
}
