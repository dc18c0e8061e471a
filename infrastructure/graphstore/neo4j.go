package graphstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/tribridrag/tribridrag/domain/graph"
)

// Neo4jStore implements graph.Store against a neo4j database. Entities
// are (:Entity {entity_id, corpus_id, name, kind, file_path, description,
// chunk_ids}) nodes; relationships are typed edges carrying a weight.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
	dbName string
}

// NewNeo4jStore connects to uri with basic auth and verifies
// connectivity before returning.
func NewNeo4jStore(ctx context.Context, uri, username, password, dbName string) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	s := &Neo4jStore{driver: driver, dbName: dbName}
	if err := s.ensureConstraints(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}
	return s, nil
}

// Close releases the underlying driver.
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *Neo4jStore) session(ctx context.Context) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.dbName})
}

func (s *Neo4jStore) ensureConstraints(ctx context.Context) error {
	session := s.session(ctx)
	defer func() { _ = session.Close(ctx) }()

	stmts := []string{
		`CREATE CONSTRAINT entity_id IF NOT EXISTS FOR (e:Entity) REQUIRE e.entity_id IS UNIQUE`,
		`CREATE INDEX entity_corpus IF NOT EXISTS FOR (e:Entity) ON (e.corpus_id)`,
		`CREATE INDEX entity_name IF NOT EXISTS FOR (e:Entity) ON (e.name)`,
		`CREATE CONSTRAINT community_id IF NOT EXISTS FOR (c:Community) REQUIRE c.community_id IS UNIQUE`,
	}
	for _, stmt := range stmts {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensure neo4j constraint: %w", err)
		}
	}
	return nil
}

// UpsertEntities merges entities by entity_id.
func (s *Neo4jStore) UpsertEntities(ctx context.Context, corpusID string, entities []graph.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	rows := make([]map[string]any, len(entities))
	for i, e := range entities {
		rows[i] = map[string]any{
			"entity_id":   e.ID(),
			"corpus_id":   e.CorpusID(),
			"name":        e.Name(),
			"kind":        string(e.Kind()),
			"file_path":   e.FilePath(),
			"description": e.Description(),
			"chunk_ids":   entityChunkIDs(e),
			"embedding":   e.Embedding(),
		}
	}

	session := s.session(ctx)
	defer func() { _ = session.Close(ctx) }()

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, `
			UNWIND $rows AS row
			MERGE (e:Entity {entity_id: row.entity_id})
			SET e.corpus_id = row.corpus_id,
			    e.name = row.name,
			    e.kind = row.kind,
			    e.file_path = row.file_path,
			    e.description = row.description,
			    e.chunk_ids = row.chunk_ids,
			    e.embedding = row.embedding
		`, map[string]any{"rows": rows})
	})
	if err != nil {
		return fmt.Errorf("upsert entities: %w", err)
	}
	return nil
}

// UpsertRelationships merges typed edges, dropping any whose endpoints
// are absent: the MATCH on both ends simply produces no row for them.
func (s *Neo4jStore) UpsertRelationships(ctx context.Context, corpusID string, relationships []graph.Relationship) error {
	if len(relationships) == 0 {
		return nil
	}

	// Group by kind: Cypher relationship types cannot be parameterized.
	byKind := make(map[graph.RelKind][]map[string]any)
	for _, r := range relationships {
		byKind[r.Kind()] = append(byKind[r.Kind()], map[string]any{
			"source": r.SourceEntityID(),
			"target": r.TargetEntityID(),
			"weight": r.Weight(),
		})
	}

	session := s.session(ctx)
	defer func() { _ = session.Close(ctx) }()

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for kind, rows := range byKind {
			query := fmt.Sprintf(`
				UNWIND $rows AS row
				MATCH (a:Entity {entity_id: row.source})
				MATCH (b:Entity {entity_id: row.target})
				MERGE (a)-[r:%s]->(b)
				SET r.weight = row.weight
			`, relTypeName(kind))
			if _, err := tx.Run(ctx, query, map[string]any{"rows": rows}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("upsert relationships: %w", err)
	}
	return nil
}

// DeleteByFile detaches and deletes every entity declared in filePath.
func (s *Neo4jStore) DeleteByFile(ctx context.Context, corpusID string, filePath string) error {
	session := s.session(ctx)
	defer func() { _ = session.Close(ctx) }()

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, `
			MATCH (e:Entity {corpus_id: $corpus_id, file_path: $file_path})
			DETACH DELETE e
		`, map[string]any{"corpus_id": corpusID, "file_path": filePath})
	})
	if err != nil {
		return fmt.Errorf("delete entities by file: %w", err)
	}
	return nil
}

// Walk resolves a seed set — name/description substring matches plus
// entities whose description embedding clears the similarity floor
// against the query embedding — then follows a bounded variable-length
// path, scoring each reached entity by the best cumulative edge weight
// of any path.
func (s *Neo4jStore) Walk(ctx context.Context, req graph.WalkRequest) ([]graph.WalkHit, error) {
	maxHops := req.MaxHops
	if maxHops <= 0 {
		maxHops = 2
	}

	relFilter := ""
	if len(req.Kinds) > 0 {
		names := make([]string, len(req.Kinds))
		for i, k := range req.Kinds {
			names[i] = relTypeName(k)
		}
		relFilter = ":" + strings.Join(names, "|")
	}

	seedIDs, err := s.resolveSeedIDs(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(seedIDs) == 0 {
		return nil, nil
	}

	session := s.session(ctx)
	defer func() { _ = session.Close(ctx) }()

	query := fmt.Sprintf(`
		MATCH (s:Entity {corpus_id: $corpus_id})
		WHERE s.entity_id IN $seed_ids
		MATCH path = (s)-[%s*0..%d]-(e:Entity)
		WITH e, path,
		     1.0 + reduce(w = 0.0, r IN relationships(path) |
		         w + CASE WHEN r.weight IS NULL OR r.weight <= 0 THEN 1.0 ELSE r.weight END) AS pathWeight,
		     length(path) AS hops
		WITH e, max(pathWeight) AS bestWeight, min(hops) AS minHops
		RETURN e.entity_id AS entity_id, e.chunk_ids AS chunk_ids,
		       minHops AS hops, bestWeight AS weight
		ORDER BY weight DESC, hops ASC, entity_id ASC
		LIMIT $limit
	`, relFilter, maxHops)

	limit := req.TopK
	if limit <= 0 {
		limit = 25
	}

	records, err := session.Run(ctx, query, map[string]any{
		"seed_ids":  seedIDs,
		"corpus_id": req.CorpusID,
		"limit":     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("graph walk: %w", err)
	}

	var hits []graph.WalkHit
	for records.Next(ctx) {
		record := records.Record()
		hit := graph.WalkHit{}
		if v, ok := record.Get("entity_id"); ok {
			hit.EntityID, _ = v.(string)
		}
		if v, ok := record.Get("chunk_ids"); ok {
			if ids, ok := v.([]any); ok {
				for _, id := range ids {
					if str, ok := id.(string); ok {
						hit.ChunkIDs = append(hit.ChunkIDs, str)
					}
				}
			}
		}
		if v, ok := record.Get("hops"); ok {
			if n, ok := v.(int64); ok {
				hit.Hops = int(n)
			}
		}
		if v, ok := record.Get("weight"); ok {
			if w, ok := v.(float64); ok {
				hit.PathWeight = w
			}
		}
		hits = append(hits, hit)
	}
	if err := records.Err(); err != nil {
		return nil, fmt.Errorf("graph walk results: %w", err)
	}

	if req.IncludeCommunities {
		communityHits, err := s.communitiesForEntities(ctx, req.CorpusID, hits)
		if err != nil {
			return nil, err
		}
		hits = append(hits, communityHits...)
	}
	return hits, nil
}

// resolveSeedIDs collects the walk's seed entity ids: name/description
// substring matches in one query, then a corpus-wide scan of stored
// description embeddings compared client-side against the query
// embedding (neo4j has no native vector operator without the GDS
// plugin, so the cosine runs here).
func (s *Neo4jStore) resolveSeedIDs(ctx context.Context, req graph.WalkRequest) ([]string, error) {
	session := s.session(ctx)
	defer func() { _ = session.Close(ctx) }()

	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	names := make([]string, 0, len(req.SeedNames))
	for _, name := range req.SeedNames {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			names = append(names, strings.ToLower(trimmed))
		}
	}
	if len(names) > 0 {
		records, err := session.Run(ctx, `
			UNWIND $seeds AS seed
			MATCH (e:Entity {corpus_id: $corpus_id})
			WHERE toLower(e.name) CONTAINS seed
			   OR (e.description IS NOT NULL AND toLower(e.description) CONTAINS seed)
			RETURN DISTINCT e.entity_id AS entity_id
		`, map[string]any{"seeds": names, "corpus_id": req.CorpusID})
		if err != nil {
			return nil, fmt.Errorf("seed name match: %w", err)
		}
		for records.Next(ctx) {
			if v, ok := records.Record().Get("entity_id"); ok {
				id, _ := v.(string)
				add(id)
			}
		}
		if err := records.Err(); err != nil {
			return nil, fmt.Errorf("seed name results: %w", err)
		}
	}

	if len(req.SeedEmbedding) > 0 {
		floor := req.SeedSimilarity
		if floor <= 0 {
			floor = defaultSeedSimilarity
		}
		records, err := session.Run(ctx, `
			MATCH (e:Entity {corpus_id: $corpus_id})
			WHERE e.embedding IS NOT NULL
			RETURN e.entity_id AS entity_id, e.embedding AS embedding
		`, map[string]any{"corpus_id": req.CorpusID})
		if err != nil {
			return nil, fmt.Errorf("seed embedding scan: %w", err)
		}
		for records.Next(ctx) {
			record := records.Record()
			var id string
			if v, ok := record.Get("entity_id"); ok {
				id, _ = v.(string)
			}
			embedding := floatSlice(record, "embedding")
			if cosineSimilarity(req.SeedEmbedding, embedding) >= floor {
				add(id)
			}
		}
		if err := records.Err(); err != nil {
			return nil, fmt.Errorf("seed embedding results: %w", err)
		}
	}

	sort.Strings(ids)
	return ids, nil
}

// floatSlice reads a []float64 record value, tolerating the driver's
// []any representation.
func floatSlice(record *neo4j.Record, key string) []float64 {
	v, ok := record.Get(key)
	if !ok {
		return nil
	}
	switch vals := v.(type) {
	case []float64:
		return vals
	case []any:
		out := make([]float64, 0, len(vals))
		for _, item := range vals {
			if f, ok := item.(float64); ok {
				out = append(out, f)
			}
		}
		return out
	}
	return nil
}

// communitiesForEntities returns community hits whose members intersect
// the walked entity set.
func (s *Neo4jStore) communitiesForEntities(ctx context.Context, corpusID string, walked []graph.WalkHit) ([]graph.WalkHit, error) {
	if len(walked) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(walked))
	for _, h := range walked {
		if !h.IsCommunity {
			ids = append(ids, h.EntityID)
		}
	}
	sort.Strings(ids)

	session := s.session(ctx)
	defer func() { _ = session.Close(ctx) }()

	records, err := session.Run(ctx, `
		MATCH (c:Community {corpus_id: $corpus_id})
		WHERE any(m IN c.member_ids WHERE m IN $entity_ids)
		RETURN c.community_id AS community_id, c.summary AS summary
	`, map[string]any{"corpus_id": corpusID, "entity_ids": ids})
	if err != nil {
		return nil, fmt.Errorf("community lookup: %w", err)
	}

	var hits []graph.WalkHit
	for records.Next(ctx) {
		record := records.Record()
		hit := graph.WalkHit{IsCommunity: true}
		if v, ok := record.Get("community_id"); ok {
			hit.EntityID, _ = v.(string)
		}
		if v, ok := record.Get("summary"); ok {
			hit.Summary, _ = v.(string)
		}
		hits = append(hits, hit)
	}
	if err := records.Err(); err != nil {
		return nil, fmt.Errorf("community results: %w", err)
	}
	return hits, nil
}

// Snapshot returns the corpus's full committed entity and relationship
// sets, the input community detection runs over.
func (s *Neo4jStore) Snapshot(ctx context.Context, corpusID string) ([]graph.Entity, []graph.Relationship, error) {
	session := s.session(ctx)
	defer func() { _ = session.Close(ctx) }()

	entityRecords, err := session.Run(ctx, `
		MATCH (e:Entity {corpus_id: $corpus_id})
		RETURN e.name AS name, e.kind AS kind, e.file_path AS file_path,
		       e.description AS description, e.chunk_ids AS chunk_ids,
		       e.embedding AS embedding
		ORDER BY e.entity_id ASC
	`, map[string]any{"corpus_id": corpusID})
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot entities: %w", err)
	}

	var entities []graph.Entity
	for entityRecords.Next(ctx) {
		record := entityRecords.Record()
		name := stringValue(record, "name")
		if name == "" {
			continue
		}
		props := map[string]any{}
		if v, ok := record.Get("chunk_ids"); ok && v != nil {
			props["chunk_ids"] = v
		}
		e := graph.NewEntity(
			corpusID,
			name,
			graph.Kind(stringValue(record, "kind")),
			stringValue(record, "file_path"),
			stringValue(record, "description"),
			props,
		)
		if embedding := floatSlice(record, "embedding"); len(embedding) > 0 {
			e = e.WithEmbedding(embedding)
		}
		entities = append(entities, e)
	}
	if err := entityRecords.Err(); err != nil {
		return nil, nil, fmt.Errorf("snapshot entity results: %w", err)
	}

	relRecords, err := session.Run(ctx, `
		MATCH (a:Entity {corpus_id: $corpus_id})-[r]->(b:Entity {corpus_id: $corpus_id})
		RETURN a.entity_id AS source, b.entity_id AS target,
		       type(r) AS kind, r.weight AS weight
		ORDER BY source ASC, target ASC, kind ASC
	`, map[string]any{"corpus_id": corpusID})
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot relationships: %w", err)
	}

	var relationships []graph.Relationship
	for relRecords.Next(ctx) {
		record := relRecords.Record()
		weight := 1.0
		if v, ok := record.Get("weight"); ok {
			if w, ok := v.(float64); ok {
				weight = w
			}
		}
		relationships = append(relationships, graph.NewRelationship(
			stringValue(record, "source"),
			stringValue(record, "target"),
			graph.RelKind(strings.ToLower(stringValue(record, "kind"))),
			weight,
			nil,
		))
	}
	if err := relRecords.Err(); err != nil {
		return nil, nil, fmt.Errorf("snapshot relationship results: %w", err)
	}

	return entities, relationships, nil
}

// stringValue reads a string record value, "" when absent or null.
func stringValue(record *neo4j.Record, key string) string {
	v, ok := record.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// ReplaceCommunities deletes and rewrites the corpus's community set.
func (s *Neo4jStore) ReplaceCommunities(ctx context.Context, corpusID string, communities []graph.Community) error {
	rows := make([]map[string]any, len(communities))
	for i, c := range communities {
		rows[i] = map[string]any{
			"community_id": c.ID(),
			"level":        c.Level(),
			"member_ids":   c.MemberIDs(),
			"summary":      c.Summary(),
		}
	}

	session := s.session(ctx)
	defer func() { _ = session.Close(ctx) }()

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MATCH (c:Community {corpus_id: $corpus_id}) DELETE c
		`, map[string]any{"corpus_id": corpusID}); err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, nil
		}
		return tx.Run(ctx, `
			UNWIND $rows AS row
			CREATE (c:Community {
				community_id: row.community_id,
				corpus_id: $corpus_id,
				level: row.level,
				member_ids: row.member_ids,
				summary: row.summary
			})
		`, map[string]any{"rows": rows, "corpus_id": corpusID})
	})
	if err != nil {
		return fmt.Errorf("replace communities: %w", err)
	}
	return nil
}

// Stats counts the corpus's nodes, edges, and communities.
func (s *Neo4jStore) Stats(ctx context.Context, corpusID string) (graph.Stats, error) {
	session := s.session(ctx)
	defer func() { _ = session.Close(ctx) }()

	record, err := neo4j.ExecuteRead(ctx, session, func(tx neo4j.ManagedTransaction) (*neo4j.Record, error) {
		result, err := tx.Run(ctx, `
			MATCH (e:Entity {corpus_id: $corpus_id})
			OPTIONAL MATCH (e)-[r]->(:Entity)
			WITH count(DISTINCT e) AS entities, count(r) AS relationships
			OPTIONAL MATCH (c:Community {corpus_id: $corpus_id})
			RETURN entities, relationships, count(c) AS communities
		`, map[string]any{"corpus_id": corpusID})
		if err != nil {
			return nil, err
		}
		return result.Single(ctx)
	})
	if err != nil {
		return graph.Stats{}, fmt.Errorf("graph stats: %w", err)
	}

	stats := graph.Stats{}
	if v, ok := record.Get("entities"); ok {
		if n, ok := v.(int64); ok {
			stats.EntityCount = int(n)
		}
	}
	if v, ok := record.Get("relationships"); ok {
		if n, ok := v.(int64); ok {
			stats.RelationshipCount = int(n)
		}
	}
	if v, ok := record.Get("communities"); ok {
		if n, ok := v.(int64); ok {
			stats.CommunityCount = int(n)
		}
	}
	return stats, nil
}

// relTypeName maps a relationship kind to its uppercase Cypher type.
func relTypeName(kind graph.RelKind) string {
	return strings.ToUpper(string(kind))
}

var _ graph.Store = (*Neo4jStore)(nil)
