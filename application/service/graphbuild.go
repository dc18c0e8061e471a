package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/tribridrag/tribridrag/domain/chunk"
	"github.com/tribridrag/tribridrag/domain/graph"
	"github.com/tribridrag/tribridrag/domain/search"
	"github.com/tribridrag/tribridrag/infrastructure/provider"
	"github.com/tribridrag/tribridrag/infrastructure/resilience"
	"github.com/tribridrag/tribridrag/infrastructure/slicing"
)

// GraphBuildConfig tunes entity and relationship extraction for a build.
type GraphBuildConfig struct {
	// SemanticExtraction turns on LLM-backed concept entity extraction.
	SemanticExtraction bool
	// SemanticMaxChunks bounds how many chunks are sent for semantic
	// extraction per build. Zero means the default.
	SemanticMaxChunks int
	// RelatedThreshold is the minimum co-occurrence count inside chunks
	// before two entities earn a related_to edge.
	RelatedThreshold int
	// CommunitySummaries turns on LLM-generated community summaries.
	CommunitySummaries bool
}

// DefaultGraphBuildConfig returns the graph builder defaults.
func DefaultGraphBuildConfig() GraphBuildConfig {
	return GraphBuildConfig{
		SemanticMaxChunks: 200,
		RelatedThreshold:  2,
	}
}

// GraphBuild extracts entities and relationships from a build's chunks
// and slicing output, writes them to the graph store, and recomputes
// communities. Structural extraction rides the same parse the chunker
// produced; semantic extraction is a best-effort ChatModel call whose
// malformed outputs are rejected rather than partially written.
type GraphBuild struct {
	store    graph.Store
	chat     provider.TextGenerator
	embedder search.Embedder
	executor *resilience.Executor
	config   GraphBuildConfig
	logger   *slog.Logger
}

// NewGraphBuild creates a GraphBuild. chat may be nil, which disables
// semantic extraction and community summaries regardless of config.
// embedder may be nil, which leaves entities without description
// embeddings and the graph retriever's seed set name-matched only.
func NewGraphBuild(store graph.Store, chat provider.TextGenerator, embedder search.Embedder, config GraphBuildConfig, logger *slog.Logger) *GraphBuild {
	if logger == nil {
		logger = slog.Default()
	}
	if config.SemanticMaxChunks <= 0 {
		config.SemanticMaxChunks = DefaultGraphBuildConfig().SemanticMaxChunks
	}
	if config.RelatedThreshold <= 0 {
		config.RelatedThreshold = DefaultGraphBuildConfig().RelatedThreshold
	}
	return &GraphBuild{
		store:    store,
		chat:     chat,
		embedder: embedder,
		executor: resilience.NewExecutor(resilience.DefaultConfig()),
		config:   config,
		logger:   logger,
	}
}

// GraphBuildInput is one build's extraction source: the slicing result
// plus every chunk written during the build.
type GraphBuildInput struct {
	CorpusID string
	Slice    slicing.SliceResult
	Chunks   []chunk.Chunk
}

// Build runs the full extraction: entities first, then relationships
// (dangling edges are dropped by the store), then communities.
// Communities are recomputed over the corpus's full committed graph, not
// this build's delta — a partial rebuild must not erase the communities
// spanning untouched files. Cancellation is checked at each phase
// boundary.
func (b *GraphBuild) Build(ctx context.Context, input GraphBuildInput) error {
	entities := b.structuralEntities(input)

	if b.config.SemanticExtraction && b.chat != nil {
		semantic := b.semanticEntities(ctx, input)
		entities = append(entities, semantic...)
	}
	entities = b.embedDescriptions(ctx, entities)

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.store.UpsertEntities(ctx, input.CorpusID, entities); err != nil {
		return fmt.Errorf("upsert entities: %w", err)
	}

	relationships := b.relationships(input, entities)
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.store.UpsertRelationships(ctx, input.CorpusID, relationships); err != nil {
		return fmt.Errorf("upsert relationships: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	fullEntities, fullRelationships, err := b.store.Snapshot(ctx, input.CorpusID)
	if err != nil {
		return fmt.Errorf("snapshot graph: %w", err)
	}
	communities := b.detectCommunities(input.CorpusID, fullEntities, fullRelationships)
	if b.config.CommunitySummaries && b.chat != nil {
		communities = b.summarizeCommunities(ctx, fullEntities, communities)
	}
	if err := b.store.ReplaceCommunities(ctx, input.CorpusID, communities); err != nil {
		return fmt.Errorf("replace communities: %w", err)
	}
	return nil
}

// embedDescriptions attaches description embeddings to the entities that
// have a description, in one batched embedder call. An embedding failure
// degrades the seed set to name matching, never the build.
func (b *GraphBuild) embedDescriptions(ctx context.Context, entities []graph.Entity) []graph.Entity {
	if b.embedder == nil {
		return entities
	}

	var texts []string
	var slots []int
	for i, e := range entities {
		if e.Description() != "" {
			texts = append(texts, e.Description())
			slots = append(slots, i)
		}
	}
	if len(texts) == 0 {
		return entities
	}

	var vectors [][]float64
	err := b.executor.Execute(ctx, "embed", func(ctx context.Context) error {
		var embedErr error
		vectors, embedErr = b.embedder.Embed(ctx, texts)
		return embedErr
	}, resilience.DefaultClassifier)
	if err != nil || len(vectors) != len(texts) {
		b.logger.Warn("entity description embedding failed, seeds fall back to name matching",
			"entities", len(texts), "error", err)
		return entities
	}

	for j, i := range slots {
		entities[i] = entities[i].WithEmbedding(vectors[j])
	}
	return entities
}

// structuralEntities derives module, function, and class entities from
// the slicing output, attaching the chunk ids each entity's span
// overlaps so walks can map back to retrievable chunks.
func (b *GraphBuild) structuralEntities(input GraphBuildInput) []graph.Entity {
	chunksByFile := make(map[string][]chunk.Chunk)
	for _, c := range input.Chunks {
		chunksByFile[c.FilePath()] = append(chunksByFile[c.FilePath()], c)
	}

	var entities []graph.Entity
	seen := make(map[string]bool)
	add := func(e graph.Entity) {
		if !seen[e.ID()] {
			seen[e.ID()] = true
			entities = append(entities, e)
		}
	}

	// One module entity per file that produced definitions or chunks.
	files := make(map[string]bool)
	for _, f := range input.Slice.Functions() {
		files[f.FilePath()] = true
	}
	for _, c := range input.Slice.Classes() {
		files[c.FilePath()] = true
	}
	for path := range chunksByFile {
		files[path] = true
	}
	for path := range files {
		add(graph.NewEntity(input.CorpusID, path, graph.KindModule, path, "", map[string]any{
			"chunk_ids": chunkIDsForSpan(chunksByFile[path], 0, 1<<30),
		}))
	}

	for _, f := range input.Slice.Functions() {
		start, end := definitionLines(f.Node())
		add(graph.NewEntity(input.CorpusID, f.QualifiedName(), graph.KindFunction, f.FilePath(), f.Docstring(), map[string]any{
			"chunk_ids": chunkIDsForSpan(chunksByFile[f.FilePath()], start, end),
			"is_method": f.IsMethod(),
		}))
	}

	for _, c := range input.Slice.Classes() {
		start, end := definitionLines(c.Node())
		add(graph.NewEntity(input.CorpusID, c.QualifiedName(), graph.KindClass, c.FilePath(), c.Docstring(), map[string]any{
			"chunk_ids": chunkIDsForSpan(chunksByFile[c.FilePath()], start, end),
		}))
	}

	return entities
}

// relationships derives the typed edges: calls and contains from the
// call graph and nesting, imports from import statements, inherits from
// class bases, references from identifier use, related_to from
// co-occurrence.
func (b *GraphBuild) relationships(input GraphBuildInput, entities []graph.Entity) []graph.Relationship {
	byName := make(map[string]graph.Entity, len(entities))
	simpleIndex := make(map[string][]graph.Entity)
	for _, e := range entities {
		byName[e.Name()] = e
		simple := e.Name()
		if i := strings.LastIndex(simple, "."); i >= 0 {
			simple = simple[i+1:]
		}
		simpleIndex[simple] = append(simpleIndex[simple], e)
	}

	var rels []graph.Relationship
	seen := make(map[string]bool)
	add := func(r graph.Relationship) {
		if !seen[r.Key()] {
			seen[r.Key()] = true
			rels = append(rels, r)
		}
	}

	// calls: straight off the call graph.
	for caller, callees := range input.Slice.CallGraph().Calls() {
		source, ok := resolveEntity(caller, byName, simpleIndex)
		if !ok {
			continue
		}
		for _, callee := range callees {
			if target, ok := resolveEntity(callee, byName, simpleIndex); ok && target.ID() != source.ID() {
				add(graph.NewRelationship(source.ID(), target.ID(), graph.RelCalls, 1.0, nil))
			}
		}
	}

	// contains: module contains its functions and classes.
	for _, e := range entities {
		if e.Kind() != graph.KindFunction && e.Kind() != graph.KindClass {
			continue
		}
		if module, ok := byName[e.FilePath()]; ok && module.Kind() == graph.KindModule {
			add(graph.NewRelationship(module.ID(), e.ID(), graph.RelContains, 1.0, nil))
		}
	}

	// imports: module imports whatever its import statements name, when
	// the target resolves to a known module or entity.
	for path, targets := range input.Slice.Imports() {
		source, ok := byName[path]
		if !ok {
			continue
		}
		for _, target := range targets {
			if resolved, ok := resolveImport(target, byName, simpleIndex); ok && resolved.ID() != source.ID() {
				add(graph.NewRelationship(source.ID(), resolved.ID(), graph.RelImports, 1.0, nil))
			}
		}
	}

	// inherits: class bases.
	for _, c := range input.Slice.Classes() {
		source, ok := byName[c.QualifiedName()]
		if !ok {
			continue
		}
		for _, base := range c.Bases() {
			if target, ok := resolveEntity(base, byName, simpleIndex); ok && target.ID() != source.ID() {
				add(graph.NewRelationship(source.ID(), target.ID(), graph.RelInherits, 1.0, nil))
			}
		}
	}

	// references and related_to come from chunk text.
	rels = append(rels, b.textRelationships(input, entities, simpleIndex, byName, seen)...)
	return rels
}

// identRe matches candidate identifiers in chunk text.
var identRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// textRelationships scans chunk content for known entity names:
// identifier use in a different file's chunk becomes a references edge
// from that file's module; entities co-occurring in enough chunks earn a
// related_to edge weighted by the count.
func (b *GraphBuild) textRelationships(
	input GraphBuildInput,
	entities []graph.Entity,
	simpleIndex map[string][]graph.Entity,
	byName map[string]graph.Entity,
	seen map[string]bool,
) []graph.Relationship {
	var rels []graph.Relationship
	add := func(r graph.Relationship) {
		if !seen[r.Key()] {
			seen[r.Key()] = true
			rels = append(rels, r)
		}
	}

	cooccur := make(map[string]int)
	for _, c := range input.Chunks {
		module, hasModule := byName[c.FilePath()]

		var present []graph.Entity
		presentIDs := make(map[string]bool)
		for _, ident := range identRe.FindAllString(c.Content(), -1) {
			candidates, ok := simpleIndex[ident]
			if !ok || len(candidates) != 1 {
				// Ambiguous simple names don't resolve; a wrong edge is
				// worse than a missing one.
				continue
			}
			e := candidates[0]
			if presentIDs[e.ID()] {
				continue
			}
			presentIDs[e.ID()] = true
			present = append(present, e)

			if hasModule && e.FilePath() != c.FilePath() && e.ID() != module.ID() {
				add(graph.NewRelationship(module.ID(), e.ID(), graph.RelReferences, 1.0, nil))
			}
		}

		sort.Slice(present, func(i, j int) bool { return present[i].ID() < present[j].ID() })
		for i := 0; i < len(present); i++ {
			for j := i + 1; j < len(present); j++ {
				cooccur[present[i].ID()+"\x00"+present[j].ID()]++
			}
		}
	}

	pairs := make([]string, 0, len(cooccur))
	for pair := range cooccur {
		pairs = append(pairs, pair)
	}
	sort.Strings(pairs)
	for _, pair := range pairs {
		count := cooccur[pair]
		if count < b.config.RelatedThreshold {
			continue
		}
		ids := strings.SplitN(pair, "\x00", 2)
		add(graph.NewRelationship(ids[0], ids[1], graph.RelRelatedTo, float64(count), nil))
	}
	return rels
}

// semanticEntity is the strict output shape a ChatModel extraction must
// produce; anything that doesn't decode to this is rejected wholesale.
type semanticEntity struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
}

const semanticPrompt = `Extract the topical concepts this code chunk is about, from its comments and docstrings only. Respond with a JSON array, no prose:
[{"name": "...", "kind": "concept", "description": "..."}]
Respond with [] if there are none.`

// semanticEntities extracts concept entities chunk by chunk. Any failure
// or malformed response falls back to structural-only extraction for
// that chunk.
func (b *GraphBuild) semanticEntities(ctx context.Context, input GraphBuildInput) []graph.Entity {
	var entities []graph.Entity
	seen := make(map[string]bool)

	limit := b.config.SemanticMaxChunks
	for i, c := range input.Chunks {
		if i >= limit {
			b.logger.Debug("semantic extraction budget reached", "limit", limit, "chunks", len(input.Chunks))
			break
		}
		if ctx.Err() != nil {
			return entities
		}

		extracted, err := b.extractConcepts(ctx, c)
		if err != nil {
			b.logger.Warn("semantic extraction failed, structural only for chunk",
				"chunk_id", c.ID(), "error", err)
			continue
		}
		for _, se := range extracted {
			name := strings.TrimSpace(se.Name)
			if name == "" {
				continue
			}
			e := graph.NewEntity(input.CorpusID, name, graph.KindConcept, c.FilePath(), se.Description, map[string]any{
				"chunk_ids": []string{c.ID()},
			})
			if !seen[e.ID()] {
				seen[e.ID()] = true
				entities = append(entities, e)
			}
		}
	}
	return entities
}

func (b *GraphBuild) extractConcepts(ctx context.Context, c chunk.Chunk) ([]semanticEntity, error) {
	var content string
	err := b.executor.Execute(ctx, "chat.extract", func(ctx context.Context) error {
		resp, err := b.chat.ChatCompletion(ctx, provider.NewChatCompletionRequest([]provider.Message{
			provider.SystemMessage(semanticPrompt),
			provider.UserMessage(c.Content()),
		}).WithMaxTokens(512))
		if err != nil {
			return err
		}
		content = resp.Content()
		return nil
	}, resilience.DefaultClassifier)
	if err != nil {
		return nil, err
	}

	content = strings.TrimSpace(content)
	// Tolerate a fenced response but nothing looser.
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var extracted []semanticEntity
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &extracted); err != nil {
		return nil, fmt.Errorf("malformed semantic extraction output: %w", err)
	}
	for _, se := range extracted {
		if se.Kind != "" && se.Kind != string(graph.KindConcept) {
			return nil, fmt.Errorf("malformed semantic extraction output: kind %q", se.Kind)
		}
	}
	return extracted, nil
}

// detectCommunities runs a deterministic label propagation over the
// committed relationship graph: every entity starts in its own
// community labeled by its id, then repeatedly adopts the smallest label
// among itself and its neighbors until no label changes.
func (b *GraphBuild) detectCommunities(corpusID string, entities []graph.Entity, relationships []graph.Relationship) []graph.Community {
	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		ids = append(ids, e.ID())
	}
	sort.Strings(ids)

	neighbors := make(map[string][]string)
	for _, r := range relationships {
		neighbors[r.SourceEntityID()] = append(neighbors[r.SourceEntityID()], r.TargetEntityID())
		neighbors[r.TargetEntityID()] = append(neighbors[r.TargetEntityID()], r.SourceEntityID())
	}

	label := make(map[string]string, len(ids))
	for _, id := range ids {
		label[id] = id
	}
	for changed, rounds := true, 0; changed && rounds < len(ids)+1; rounds++ {
		changed = false
		for _, id := range ids {
			best := label[id]
			for _, n := range neighbors[id] {
				if l, ok := label[n]; ok && l < best {
					best = l
				}
			}
			if best != label[id] {
				label[id] = best
				changed = true
			}
		}
	}

	members := make(map[string][]string)
	for _, id := range ids {
		members[label[id]] = append(members[label[id]], id)
	}
	roots := make([]string, 0, len(members))
	for root := range members {
		roots = append(roots, root)
	}
	sort.Strings(roots)

	var communities []graph.Community
	for i, root := range roots {
		ms := members[root]
		if len(ms) < 2 {
			continue
		}
		sort.Strings(ms)
		communities = append(communities, graph.NewCommunity(
			fmt.Sprintf("%s-community-%d", corpusID, i), 0, ms, ""))
	}
	return communities
}

const communityPrompt = `These code entities form one cluster. Summarize in one sentence what the cluster is about, based only on the names given. Respond with the sentence only.`

// summarizeCommunities generates a one-line summary per community from
// member names only, never full source.
func (b *GraphBuild) summarizeCommunities(ctx context.Context, entities []graph.Entity, communities []graph.Community) []graph.Community {
	nameByID := make(map[string]string, len(entities))
	for _, e := range entities {
		nameByID[e.ID()] = e.Name()
	}

	out := make([]graph.Community, len(communities))
	for i, c := range communities {
		out[i] = c
		if ctx.Err() != nil {
			continue
		}
		names := make([]string, 0, len(c.MemberIDs()))
		for _, id := range c.MemberIDs() {
			if name, ok := nameByID[id]; ok {
				names = append(names, name)
			}
		}
		var summary string
		err := b.executor.Execute(ctx, "chat.summarize", func(ctx context.Context) error {
			resp, err := b.chat.ChatCompletion(ctx, provider.NewChatCompletionRequest([]provider.Message{
				provider.SystemMessage(communityPrompt),
				provider.UserMessage(strings.Join(names, ", ")),
			}).WithMaxTokens(128))
			if err != nil {
				return err
			}
			summary = strings.TrimSpace(resp.Content())
			return nil
		}, resilience.DefaultClassifier)
		if err != nil {
			b.logger.Warn("community summary failed", "community_id", c.ID(), "error", err)
			continue
		}
		out[i] = c.WithSummary(summary)
	}
	return out
}

// resolveEntity maps a possibly-qualified name to an entity: exact
// qualified match first, then an unambiguous simple-name match.
func resolveEntity(name string, byName map[string]graph.Entity, simpleIndex map[string][]graph.Entity) (graph.Entity, bool) {
	if e, ok := byName[name]; ok {
		return e, true
	}
	simple := name
	if i := strings.LastIndex(simple, "."); i >= 0 {
		simple = simple[i+1:]
	}
	if candidates, ok := simpleIndex[simple]; ok && len(candidates) == 1 {
		return candidates[0], true
	}
	return graph.Entity{}, false
}

// resolveImport maps an import target (a path or dotted module name) to
// a known module entity.
func resolveImport(target string, byName map[string]graph.Entity, simpleIndex map[string][]graph.Entity) (graph.Entity, bool) {
	if e, ok := byName[target]; ok {
		return e, true
	}
	// Import targets name modules by path fragments; try the last
	// segment against known module names.
	segments := strings.FieldsFunc(target, func(r rune) bool { return r == '/' || r == '.' })
	if len(segments) == 0 {
		return graph.Entity{}, false
	}
	last := segments[len(segments)-1]
	if candidates, ok := simpleIndex[last]; ok && len(candidates) == 1 && candidates[0].Kind() == graph.KindModule {
		return candidates[0], true
	}
	return graph.Entity{}, false
}

// chunkIDsForSpan returns ids of chunks overlapping [start, end] lines.
func chunkIDsForSpan(chunks []chunk.Chunk, start, end int) []string {
	var ids []string
	for _, c := range chunks {
		if c.StartLine() <= end && c.EndLine() >= start {
			ids = append(ids, c.ID())
		}
	}
	sort.Strings(ids)
	return ids
}

// definitionLines converts a definition node's 0-indexed point range to
// the 1-indexed inclusive line span chunks use. A nil node (definition
// reconstructed without its parse tree) spans the whole file.
func definitionLines(node *sitter.Node) (int, int) {
	if node == nil {
		return 0, 1 << 30
	}
	return int(node.StartPoint().Row) + 1, int(node.EndPoint().Row) + 1
}
