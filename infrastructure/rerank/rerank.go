// Package rerank provides the cross-encoder rerankers: none, local,
// learned (adapter with hot-reload), and cloud. Reranking reorders and
// truncates the fused candidate list; it never introduces chunks.
package rerank

import (
	"context"
	"sort"

	"github.com/tribridrag/tribridrag/domain/chunk"
)

// Mode selects the reranker backend.
type Mode string

const (
	ModeNone    Mode = "none"
	ModeLocal   Mode = "local"
	ModeLearned Mode = "learned"
	ModeCloud   Mode = "cloud"
)

// Config tunes a reranker.
type Config struct {
	Mode      Mode
	TopN      int
	BatchSize int
	MaxLength int
	// Learned-mode fields.
	LocalModel      string
	AdapterPath     string
	ReloadPeriodSec int
	UnloadAfterSec  int
	// Cloud-mode fields.
	CloudEndpoint string
	CloudModel    string
	TimeoutSec    int
}

// DefaultConfig returns the reranker defaults.
func DefaultConfig() Config {
	return Config{
		Mode:            ModeNone,
		TopN:            10,
		BatchSize:       16,
		MaxLength:       512,
		ReloadPeriodSec: 10,
		UnloadAfterSec:  300,
		TimeoutSec:      30,
	}
}

// DocumentResolver maps fused matches to the chunk text a cross-encoder
// scores against the query. Virtual matches (community summaries) carry
// their text in match metadata and bypass the store.
type DocumentResolver func(ctx context.Context, matches []chunk.Match) ([]string, error)

// Scorer is the model-side capability every non-trivial mode needs: one
// relevance score per (query, document) pair.
type Scorer interface {
	Score(ctx context.Context, query string, documents []string) ([]float64, error)
}

// None is the identity reranker: fused order in, fused order out,
// truncated to topN.
type None struct {
	topN int
}

// NewNone creates the pass-through reranker.
func NewNone(topN int) *None {
	if topN <= 0 {
		topN = DefaultConfig().TopN
	}
	return &None{topN: topN}
}

// Rerank truncates to topN without reordering.
func (n *None) Rerank(_ context.Context, _ string, matches []chunk.Match) ([]chunk.Match, error) {
	if len(matches) > n.topN {
		matches = matches[:n.topN]
	}
	return matches, nil
}

// rescoreAndSort replaces each match's score with the model score,
// keeping the fused score in a sidecar metadata field, sorts by the new
// score descending (ties keep fused order), and truncates to topN.
func rescoreAndSort(matches []chunk.Match, scores []float64, topN int, modelVersion string) []chunk.Match {
	out := make([]chunk.Match, len(matches))
	order := make(map[string]int, len(matches))
	for i, m := range matches {
		md := m.Metadata()
		md["fusion_score"] = m.Score()
		if modelVersion != "" {
			md["model_version"] = modelVersion
		}
		out[i] = chunk.NewMatch(m.ChunkID(), scores[i], chunk.SourceReranked, i+1, md)
		order[m.ChunkID()] = i
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score() != out[j].Score() {
			return out[i].Score() > out[j].Score()
		}
		return order[out[i].ChunkID()] < order[out[j].ChunkID()]
	})
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}

// scoreBatched runs the scorer over documents in batches.
func scoreBatched(ctx context.Context, scorer Scorer, query string, documents []string, batchSize, maxLength int) ([]float64, error) {
	if batchSize <= 0 {
		batchSize = DefaultConfig().BatchSize
	}
	scores := make([]float64, 0, len(documents))
	for start := 0; start < len(documents); start += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + batchSize
		if end > len(documents) {
			end = len(documents)
		}
		batch := make([]string, end-start)
		for i, doc := range documents[start:end] {
			batch[i] = truncateRunes(doc, maxLength)
		}
		batchScores, err := scorer.Score(ctx, query, batch)
		if err != nil {
			return nil, err
		}
		scores = append(scores, batchScores...)
	}
	return scores, nil
}

// truncateRunes bounds a document to maxLength runes for the encoder's
// input budget. Zero means unbounded.
func truncateRunes(s string, maxLength int) string {
	if maxLength <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLength {
		return s
	}
	return string(runes[:maxLength])
}
