package chunk

import (
	"context"

	"github.com/tribridrag/tribridrag/domain/queryopt"
)

// Stats summarizes a corpus's chunk store for introspection.
type Stats struct {
	ChunkCount   int
	EmbeddedCount int
}

// Store is the capability a ChunkStore adapter (pgvector, sqlite-vec, ...)
// must provide: upsert/delete/get plus the two search entry points the
// vector and sparse retrievers sit on top of.
type Store interface {
	Upsert(ctx context.Context, corpusID string, chunks []Chunk) error
	Delete(ctx context.Context, corpusID string, chunkIDs []string) error
	Get(ctx context.Context, corpusID string, chunkIDs []string) ([]Chunk, error)
	VectorSearch(ctx context.Context, corpusID string, embedding []float64, topK int, opts ...queryopt.Option) ([]Match, error)
	FTSSearch(ctx context.Context, corpusID string, text string, topK int, opts ...queryopt.Option) ([]Match, error)
	Stats(ctx context.Context, corpusID string) (Stats, error)
}
