// Package embedding adapts the AI providers into the retrieval core's
// Embedder capability and layers a content-addressed cache over them.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/tribridrag/tribridrag/domain/errkind"
	"github.com/tribridrag/tribridrag/domain/search"
	"github.com/tribridrag/tribridrag/infrastructure/provider"
)

// ProviderEmbedder adapts a provider.Embedder to the domain's
// search.Embedder shape, batching to the provider's capacity and
// validating every returned vector against the declared dimension.
type ProviderEmbedder struct {
	upstream  provider.Embedder
	name      string
	model     string
	dimension int
	budget    search.TokenBudget
}

// NewProviderEmbedder wraps upstream. name and model identify the
// provider for cache keys; dimension is the vector size every response
// must match. Batching combines the batch-size cap with the token
// budget's per-call character limit.
func NewProviderEmbedder(upstream provider.Embedder, name, model string, dimension, batchSize int) *ProviderEmbedder {
	if batchSize <= 0 {
		batchSize = 32
	}
	return &ProviderEmbedder{
		upstream:  upstream,
		name:      name,
		model:     model,
		dimension: dimension,
		budget:    search.DefaultTokenBudget().WithMaxBatchSize(batchSize),
	}
}

// WithTokenBudget returns a copy using a custom per-call token budget.
func (e *ProviderEmbedder) WithTokenBudget(budget search.TokenBudget) *ProviderEmbedder {
	cp := *e
	cp.budget = budget
	return &cp
}

// Provider returns the provider identifier (e.g. "openai", "hugot").
func (e *ProviderEmbedder) Provider() string { return e.name }

// Model returns the embedding model identifier.
func (e *ProviderEmbedder) Model() string { return e.model }

// Dimension returns the fixed vector dimension this embedder produces.
func (e *ProviderEmbedder) Dimension() int { return e.dimension }

// Embed maps texts to vectors, batching to the provider's capacity. A
// returned vector whose dimension disagrees with the declared dimension
// is fatal: silently storing it would poison the corpus.
func (e *ProviderEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	documents := make([]search.Document, len(texts))
	for i, text := range texts {
		documents[i] = search.NewDocument(fmt.Sprintf("%d", i), text)
	}

	out := make([][]float64, 0, len(texts))
	for _, batch := range e.budget.Batches(documents) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batchTexts := make([]string, len(batch))
		for i, doc := range batch {
			batchTexts[i] = e.budget.Truncate(doc.Text())
		}

		resp, err := e.upstream.Embed(ctx, provider.NewEmbeddingRequest(batchTexts))
		if err != nil {
			return nil, classifyProviderError(err)
		}
		vectors := resp.Embeddings()
		if len(vectors) != len(batchTexts) {
			return nil, errkind.New(errkind.UpstreamFailure,
				fmt.Sprintf("embedder returned %d vectors for %d texts", len(vectors), len(batchTexts)))
		}
		for _, vec := range vectors {
			if e.dimension > 0 && len(vec) != e.dimension {
				return nil, errkind.New(errkind.ManifestMismatch,
					fmt.Sprintf("embedder returned dimension %d, configured %d", len(vec), e.dimension))
			}
			out = append(out, vec)
		}
	}
	return out, nil
}

// classifyProviderError maps provider error shapes onto the errkind
// vocabulary so the resilience classifier can act on them.
var _ search.Embedder = (*ProviderEmbedder)(nil)

func classifyProviderError(err error) error {
	var pe *provider.ProviderError
	if errors.As(err, &pe) {
		switch pe.StatusCode() {
		case 429, 500, 502, 503, 504:
			return errkind.Wrap(errkind.UpstreamTimeout, "embedding provider", err)
		}
	}
	return errkind.Wrap(errkind.UpstreamFailure, "embedding provider", err)
}
