package chunk

// Source identifies which retrieval stage produced a Match.
type Source string

const (
	SourceVector   Source = "vector"
	SourceSparse   Source = "sparse"
	SourceGraph    Source = "graph"
	SourceFused    Source = "fused"
	SourceReranked Source = "reranked"
)

// Match is a query-time result row: a chunk_id scored within a source's
// own score space, never the chunk content itself — callers resolve
// content by chunk_id against the chunk store.
type Match struct {
	chunkID          string
	score            float64
	source           Source
	rankWithinSource int
	metadata         map[string]any
}

// NewMatch creates a Match. metadata is copied defensively.
func NewMatch(chunkID string, score float64, source Source, rankWithinSource int, metadata map[string]any) Match {
	md := make(map[string]any, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	return Match{
		chunkID:          chunkID,
		score:            score,
		source:           source,
		rankWithinSource: rankWithinSource,
		metadata:         md,
	}
}

func (m Match) ChunkID() string          { return m.chunkID }
func (m Match) Score() float64           { return m.score }
func (m Match) Source() Source           { return m.source }
func (m Match) RankWithinSource() int    { return m.rankWithinSource }

// Metadata returns a defensive copy of the backend-specific debug fields.
func (m Match) Metadata() map[string]any {
	md := make(map[string]any, len(m.metadata))
	for k, v := range m.metadata {
		md[k] = v
	}
	return md
}

// WithSource returns a copy of the match tagged with a different source,
// used when a match transitions stages (e.g. fused -> reranked).
func (m Match) WithSource(source Source) Match {
	m.source = source
	return m
}

// WithScore returns a copy of the match carrying a new score, used by the
// reranker to replace the fused score with its own relevance score while
// preserving the chunk_id and metadata.
func (m Match) WithScore(score float64) Match {
	m.score = score
	return m
}
