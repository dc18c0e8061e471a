// Package graphstore provides the GraphStore adapters: a neo4j-backed
// store for deployments and an in-memory store for single-process use
// and tests. Both share the walk semantics: seeds resolve by name match,
// then a bounded breadth-first walk follows typed edges accumulating
// path weight.
package graphstore

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/tribridrag/tribridrag/domain/graph"
)

// edge is one stored relationship endpoint-local view.
type edge struct {
	target string
	kind   graph.RelKind
	weight float64
}

type corpusGraph struct {
	entities      map[string]graph.Entity
	adjacency     map[string][]edge
	relationships map[string]graph.Relationship // keyed by Relationship.Key()
	communities   []graph.Community
}

func newCorpusGraph() *corpusGraph {
	return &corpusGraph{
		entities:      make(map[string]graph.Entity),
		adjacency:     make(map[string][]edge),
		relationships: make(map[string]graph.Relationship),
	}
}

// MemoryStore is an in-process graph.Store. Entities and relationships
// are kept per corpus behind one RWMutex: builds are single-writer per
// corpus by the indexer's lock, reads are concurrent.
type MemoryStore struct {
	mu      sync.RWMutex
	corpora map[string]*corpusGraph
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{corpora: make(map[string]*corpusGraph)}
}

func (s *MemoryStore) corpus(corpusID string) *corpusGraph {
	g, ok := s.corpora[corpusID]
	if !ok {
		g = newCorpusGraph()
		s.corpora[corpusID] = g
	}
	return g
}

// UpsertEntities inserts or replaces entities by id.
func (s *MemoryStore) UpsertEntities(ctx context.Context, corpusID string, entities []graph.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.corpus(corpusID)
	for _, e := range entities {
		g.entities[e.ID()] = e
	}
	return nil
}

// UpsertRelationships inserts relationships, silently dropping any whose
// endpoints are absent — semantic extraction is best-effort and may name
// entities that were rejected.
func (s *MemoryStore) UpsertRelationships(ctx context.Context, corpusID string, relationships []graph.Relationship) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.corpus(corpusID)
	for _, r := range relationships {
		if _, ok := g.entities[r.SourceEntityID()]; !ok {
			continue
		}
		if _, ok := g.entities[r.TargetEntityID()]; !ok {
			continue
		}
		if _, ok := g.relationships[r.Key()]; ok {
			continue
		}
		g.relationships[r.Key()] = r
		g.adjacency[r.SourceEntityID()] = append(g.adjacency[r.SourceEntityID()],
			edge{target: r.TargetEntityID(), kind: r.Kind(), weight: r.Weight()})
		// Walks are undirected: reaching a callee from its caller and a
		// caller from its callee are both one hop.
		g.adjacency[r.TargetEntityID()] = append(g.adjacency[r.TargetEntityID()],
			edge{target: r.SourceEntityID(), kind: r.Kind(), weight: r.Weight()})
	}
	return nil
}

// DeleteByFile removes every entity declared in filePath and its edges.
func (s *MemoryStore) DeleteByFile(ctx context.Context, corpusID string, filePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.corpora[corpusID]
	if !ok {
		return nil
	}
	removed := make(map[string]bool)
	for id, e := range g.entities {
		if e.FilePath() == filePath {
			removed[id] = true
			delete(g.entities, id)
			delete(g.adjacency, id)
		}
	}
	if len(removed) == 0 {
		return nil
	}
	for id, edges := range g.adjacency {
		kept := edges[:0]
		for _, e := range edges {
			if !removed[e.target] {
				kept = append(kept, e)
			}
		}
		g.adjacency[id] = kept
	}
	for key, r := range g.relationships {
		if removed[r.SourceEntityID()] || removed[r.TargetEntityID()] {
			delete(g.relationships, key)
		}
	}
	return nil
}

// Walk resolves seeds by case-insensitive name match against entity names
// and descriptions, then breadth-first walks up to MaxHops following
// typed edges, keeping the best path weight per reached entity.
func (s *MemoryStore) Walk(ctx context.Context, req graph.WalkRequest) ([]graph.WalkHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.corpora[req.CorpusID]
	if !ok {
		return nil, nil
	}

	kindAllowed := func(kind graph.RelKind) bool {
		if len(req.Kinds) == 0 {
			return true
		}
		for _, k := range req.Kinds {
			if k == kind {
				return true
			}
		}
		return false
	}

	type visit struct {
		hops   int
		weight float64
	}
	best := make(map[string]visit)
	var frontier []string

	addSeed := func(id string) {
		if v, seen := best[id]; !seen || v.weight < 1.0 {
			best[id] = visit{hops: 0, weight: 1.0}
			frontier = append(frontier, id)
		}
	}

	for _, seedName := range req.SeedNames {
		needle := strings.ToLower(seedName)
		for id, e := range g.entities {
			if nameMatches(e, needle) {
				addSeed(id)
			}
		}
	}

	// Embedding-matched seeds: entities whose description embedding is
	// close enough to the query embedding join the seed set.
	if len(req.SeedEmbedding) > 0 {
		floor := req.SeedSimilarity
		if floor <= 0 {
			floor = defaultSeedSimilarity
		}
		for id, e := range g.entities {
			if !e.HasEmbedding() {
				continue
			}
			if cosineSimilarity(req.SeedEmbedding, e.Embedding()) >= floor {
				addSeed(id)
			}
		}
	}

	maxHops := req.MaxHops
	if maxHops <= 0 {
		maxHops = 2
	}
	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			from := best[id]
			for _, e := range g.adjacency[id] {
				if !kindAllowed(e.kind) {
					continue
				}
				w := e.weight
				if w <= 0 {
					w = 1.0
				}
				reached := from.weight + w
				v, seen := best[e.target]
				if !seen {
					best[e.target] = visit{hops: hop, weight: reached}
					next = append(next, e.target)
				} else if reached > v.weight {
					best[e.target] = visit{hops: v.hops, weight: reached}
				}
			}
		}
		frontier = next
	}

	hits := make([]graph.WalkHit, 0, len(best))
	for id, v := range best {
		hits = append(hits, graph.WalkHit{
			EntityID:   id,
			ChunkIDs:   entityChunkIDs(g.entities[id]),
			Hops:       v.hops,
			PathWeight: v.weight,
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.PathWeight != b.PathWeight {
			return a.PathWeight > b.PathWeight
		}
		if a.Hops != b.Hops {
			return a.Hops < b.Hops
		}
		return a.EntityID < b.EntityID
	})
	if req.TopK > 0 && len(hits) > req.TopK {
		hits = hits[:req.TopK]
	}

	if req.IncludeCommunities {
		reached := make(map[string]bool, len(best))
		for id := range best {
			reached[id] = true
		}
		hits = append(hits, communityHits(g.communities, reached)...)
	}
	return hits, nil
}

// ReplaceCommunities replaces the corpus's community set wholesale.
func (s *MemoryStore) ReplaceCommunities(ctx context.Context, corpusID string, communities []graph.Community) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.corpus(corpusID)
	g.communities = make([]graph.Community, len(communities))
	copy(g.communities, communities)
	return nil
}

// Stats summarizes the corpus graph.
func (s *MemoryStore) Stats(ctx context.Context, corpusID string) (graph.Stats, error) {
	if err := ctx.Err(); err != nil {
		return graph.Stats{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.corpora[corpusID]
	if !ok {
		return graph.Stats{}, nil
	}
	return graph.Stats{
		EntityCount:       len(g.entities),
		RelationshipCount: len(g.relationships),
		CommunityCount:    len(g.communities),
	}, nil
}

// Snapshot returns the corpus's full entity and relationship sets in
// deterministic order.
func (s *MemoryStore) Snapshot(ctx context.Context, corpusID string) ([]graph.Entity, []graph.Relationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.corpora[corpusID]
	if !ok {
		return nil, nil, nil
	}

	ids := make([]string, 0, len(g.entities))
	for id := range g.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	entities := make([]graph.Entity, len(ids))
	for i, id := range ids {
		entities[i] = g.entities[id]
	}

	keys := make([]string, 0, len(g.relationships))
	for key := range g.relationships {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	relationships := make([]graph.Relationship, len(keys))
	for i, key := range keys {
		relationships[i] = g.relationships[key]
	}
	return entities, relationships, nil
}

// defaultSeedSimilarity is the cosine floor for embedding-matched seeds
// when the request leaves it unset.
const defaultSeedSimilarity = 0.6

// cosineSimilarity computes the cosine similarity between two vectors,
// 0 when either has zero magnitude or the dimensions disagree.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// nameMatches reports whether needle (lowercase) occurs in the entity's
// name or description.
func nameMatches(e graph.Entity, needle string) bool {
	if needle == "" {
		return false
	}
	if strings.Contains(strings.ToLower(e.Name()), needle) {
		return true
	}
	return e.Description() != "" && strings.Contains(strings.ToLower(e.Description()), needle)
}

// entityChunkIDs reads the chunk ids the graph builder attached to the
// entity's properties when it extracted it.
func entityChunkIDs(e graph.Entity) []string {
	v, ok := e.Properties()["chunk_ids"]
	if !ok {
		return nil
	}
	switch ids := v.(type) {
	case []string:
		return ids
	case []any:
		out := make([]string, 0, len(ids))
		for _, id := range ids {
			if s, ok := id.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// communityHits emits community summaries whose members intersect the
// walked entity set, as virtual hits tagged for downstream stages.
func communityHits(communities []graph.Community, reached map[string]bool) []graph.WalkHit {
	var hits []graph.WalkHit
	for _, c := range communities {
		for _, member := range c.MemberIDs() {
			if reached[member] {
				hits = append(hits, graph.WalkHit{
					EntityID:    c.ID(),
					Hops:        0,
					PathWeight:  0,
					IsCommunity: true,
					Summary:     c.Summary(),
				})
				break
			}
		}
	}
	return hits
}

var _ graph.Store = (*MemoryStore)(nil)
