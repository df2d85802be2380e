package llm

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_embedder.go -package=mocks docembed/internal/llm Embedder

import (
	"context"
	"net/http"

	"docembed/internal/apperr"
)

// Embedder converts texts to vectors, one per text, in input order.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// CheckedEmbedder enforces the output contract of a provider: one vector per
// input text, each of the configured size. Provider errors that carry no
// kind are tagged transient.
type CheckedEmbedder struct {
	inner     Embedder
	dimension int
}

// NewCheckedEmbedder wraps inner. A dimension of 0 disables the size check.
func NewCheckedEmbedder(inner Embedder, dimension int) *CheckedEmbedder {
	return &CheckedEmbedder{inner: inner, dimension: dimension}
}

// EmbedTexts implements Embedder.
func (e *CheckedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vectors, err := e.inner.EmbedTexts(ctx, texts)
	if err != nil {
		if apperr.Kind(err) == nil {
			err = apperr.Wrap(apperr.ErrTransient, "embedding request failed", err)
		}
		return nil, err
	}

	if len(vectors) != len(texts) {
		return nil, apperr.New(apperr.ErrProtocol, "expected %d embeddings, got %d", len(texts), len(vectors))
	}
	if e.dimension > 0 {
		for i, vec := range vectors {
			if len(vec) != e.dimension {
				return nil, apperr.New(apperr.ErrConfig, "embedding %d has size %d, expected %d", i, len(vec), e.dimension)
			}
		}
	}
	return vectors, nil
}

// statusKind maps an HTTP status from an embedding service to an error kind.
// Requests the service refuses on their content are data errors; everything
// else may succeed on a later run.
func statusKind(code int) error {
	switch code {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return apperr.ErrData
	default:
		return apperr.ErrTransient
	}
}
