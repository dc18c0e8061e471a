package rerank

import (
	"context"
	"fmt"

	"github.com/tribridrag/tribridrag/domain/chunk"
	"github.com/tribridrag/tribridrag/domain/errkind"
)

// Local scores every (query, document) pair with a fixed local
// cross-encoder and returns the top_n by score.
type Local struct {
	scorer   Scorer
	resolver DocumentResolver
	config   Config
}

// NewLocal creates the local-mode reranker.
func NewLocal(scorer Scorer, resolver DocumentResolver, config Config) *Local {
	if config.TopN <= 0 {
		config.TopN = DefaultConfig().TopN
	}
	return &Local{scorer: scorer, resolver: resolver, config: config}
}

// Rerank re-scores the fused matches. The output chunk set is always a
// prefix-by-top_n subset of the input; every document is scored by the
// model, including those the resolver returns as empty text.
func (l *Local) Rerank(ctx context.Context, query string, matches []chunk.Match) ([]chunk.Match, error) {
	if len(matches) == 0 {
		return matches, nil
	}

	documents, err := l.resolver(ctx, matches)
	if err != nil {
		return nil, errkind.Wrap(errkind.UpstreamFailure, "resolve rerank documents", err)
	}
	if len(documents) != len(matches) {
		return nil, errkind.New(errkind.UpstreamFailure,
			fmt.Sprintf("resolved %d documents for %d matches", len(documents), len(matches)))
	}

	scores, err := scoreBatched(ctx, l.scorer, query, documents, l.config.BatchSize, l.config.MaxLength)
	if err != nil {
		return nil, err
	}
	if len(scores) != len(matches) {
		return nil, errkind.New(errkind.UpstreamFailure,
			fmt.Sprintf("scorer returned %d scores for %d pairs", len(scores), len(matches)))
	}
	return rescoreAndSort(matches, scores, l.config.TopN, ""), nil
}
