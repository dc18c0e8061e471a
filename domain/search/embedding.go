package search

// Embedding pairs a chunk ID with its embedding vector for persistence.
type Embedding struct {
	chunkID string
	vector  []float64
}

// NewEmbedding creates a new Embedding.
func NewEmbedding(chunkID string, vector []float64) Embedding {
	v := make([]float64, len(vector))
	copy(v, vector)
	return Embedding{chunkID: chunkID, vector: v}
}

// ChunkID returns the chunk this embedding belongs to.
func (e Embedding) ChunkID() string { return e.chunkID }

// Vector returns the embedding vector.
func (e Embedding) Vector() []float64 {
	v := make([]float64, len(e.vector))
	copy(v, e.vector)
	return v
}
