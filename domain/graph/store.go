package graph

import "context"

// Stats summarizes a corpus's graph store for introspection.
type Stats struct {
	EntityCount       int
	RelationshipCount int
	CommunityCount    int
}

// WalkRequest bounds a graph-retriever seed walk. Seeds resolve by name
// matching and, when SeedEmbedding is set, by cosine similarity against
// stored entity-description embeddings.
type WalkRequest struct {
	CorpusID  string
	SeedNames []string // name or near-match seeds, resolved to entity ids internally
	// SeedEmbedding is the query embedding; entities whose description
	// embedding clears SeedSimilarity join the seed set.
	SeedEmbedding []float64
	// SeedSimilarity is the cosine floor for embedding-matched seeds.
	// Zero means the store default.
	SeedSimilarity     float64
	MaxHops            int
	TopK               int
	Kinds              []RelKind // empty means all kinds
	IncludeCommunities bool
}

// WalkHit is one entity reached by a bounded walk. Hops is the distance
// from the nearest seed; PathWeight is the best cumulative edge weight of
// any path reaching the entity, the graph retriever's raw score input.
// Community hits carry the community summary and no chunk ids; downstream
// stages treat them as non-code context.
type WalkHit struct {
	EntityID    string
	ChunkIDs    []string // chunks this entity's file_path / span maps to
	Hops        int
	PathWeight  float64
	IsCommunity bool
	Summary     string
}

// Store is the capability a GraphStore adapter (neo4j) must provide:
// upsert/delete entities and relationships, bounded walks, full-graph
// snapshots, community replacement, and stats — mirroring the chunk
// store's shape.
type Store interface {
	UpsertEntities(ctx context.Context, corpusID string, entities []Entity) error
	UpsertRelationships(ctx context.Context, corpusID string, relationships []Relationship) error
	DeleteByFile(ctx context.Context, corpusID string, filePath string) error
	Walk(ctx context.Context, req WalkRequest) ([]WalkHit, error)
	// Snapshot returns the corpus's full committed entity and
	// relationship sets, the input community detection runs over.
	Snapshot(ctx context.Context, corpusID string) ([]Entity, []Relationship, error)
	ReplaceCommunities(ctx context.Context, corpusID string, communities []Community) error
	Stats(ctx context.Context, corpusID string) (Stats, error)
}
