// Package service provides application layer services that orchestrate domain operations.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tribridrag/tribridrag/domain/chunk"
	"github.com/tribridrag/tribridrag/domain/errkind"
	"github.com/tribridrag/tribridrag/domain/graph"
	"github.com/tribridrag/tribridrag/domain/manifest"
	"github.com/tribridrag/tribridrag/domain/search"
	"github.com/tribridrag/tribridrag/infrastructure/resilience"
)

// ManifestStore loads the one manifest per corpus_id the orchestrator
// dimension/tokenizer-locks a query against before running it.
type ManifestStore interface {
	Get(ctx context.Context, corpusID string) (manifest.Manifest, error)
}

// Reranker re-scores a fused top-k list against the original query.
// Implementations cover the four modes: none, local cross-encoder,
// learned adapter, and cloud.
type Reranker interface {
	Rerank(ctx context.Context, query string, matches []chunk.Match) ([]chunk.Match, error)
}

// FusionMethod selects the rank-combination algorithm.
type FusionMethod string

const (
	FusionRRF      FusionMethod = "rrf"
	FusionWeighted FusionMethod = "weighted"
)

// RetrievalConfig is the query path's validated tuning shape.
type RetrievalConfig struct {
	VectorEnabled       bool
	SparseEnabled       bool
	GraphEnabled        bool
	TopKDense           int
	TopKSparse          int
	TopKGraph           int
	SimilarityThreshold float64
	MaxHops             int

	FusionMethod FusionMethod
	VectorWeight float64
	SparseWeight float64
	GraphWeight  float64
	RRFK         float64
	FinalK       int

	TopK            int
	SparseTokenizer string
	// MaxPerFile bounds how many fused results one file contributes.
	// Zero disables the cap.
	MaxPerFile int
	// SubDeadline bounds each retriever individually; the overall
	// request deadline still caps everything.
	SubDeadline time.Duration
}

// DefaultRetrievalConfig returns the query path defaults.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		VectorEnabled: true,
		SparseEnabled: true,
		GraphEnabled:  true,
		TopKDense:     20,
		TopKSparse:    20,
		TopKGraph:     20,
		MaxHops:       2,
		FusionMethod:  FusionRRF,
		VectorWeight:  1,
		SparseWeight:  1,
		GraphWeight:   1,
		RRFK:          60,
		FinalK:        20,
		TopK:          10,
		SubDeadline:   5 * time.Second,
	}
}

// RetrievalRequest is the query entry point's input contract. Include*
// flags narrow the configured modalities per request; they never enable
// a modality the config disabled.
type RetrievalRequest struct {
	Query              string
	CorpusID           string
	TopK               int
	IncludeVector      bool
	IncludeSparse      bool
	IncludeGraph       bool
	IncludeCommunities bool
	Deadline           time.Duration
}

// ModalityStatus records whether a retrieval sub-task ran, was skipped,
// timed out, or failed, so a partial result can still be explained.
type ModalityStatus struct {
	Ran      bool
	TimedOut bool
	Err      error
	Matches  int
}

// RetrievalResult is the query entry point's output contract.
type RetrievalResult struct {
	Matches           []chunk.Match
	FusionMethod      string
	RerankerMode      string
	LatencyMS         int64
	PerModalityStatus map[chunk.Source]ModalityStatus
}

// Retrieval is the query entry point: validates the query and corpus_id,
// loads the manifest, checks the dimension and tokenizer locks, fans out
// to vector/sparse/graph retrieval concurrently under per-modality
// sub-deadlines, fuses, reranks, and returns the top_k.
type Retrieval struct {
	manifests    ManifestStore
	chunks       chunk.Store
	graphStore   graph.Store
	embedder     search.Embedder
	reranker     Reranker
	rerankerMode string
	executor     *resilience.Executor
	config       RetrievalConfig
	logger       *slog.Logger
}

// NewRetrieval creates a Retrieval orchestrator. graphStore and reranker
// may be nil — a corpus without a graph store never produces graph
// matches, and a nil reranker leaves the fused order final.
func NewRetrieval(
	manifests ManifestStore,
	chunks chunk.Store,
	graphStore graph.Store,
	embedder search.Embedder,
	reranker Reranker,
	rerankerMode string,
	config RetrievalConfig,
	logger *slog.Logger,
) *Retrieval {
	if logger == nil {
		logger = slog.Default()
	}
	if config.TopK <= 0 {
		config.TopK = DefaultRetrievalConfig().TopK
	}
	if config.FinalK <= 0 {
		config.FinalK = DefaultRetrievalConfig().FinalK
	}
	if config.RRFK <= 0 {
		config.RRFK = DefaultRetrievalConfig().RRFK
	}
	if config.SubDeadline <= 0 {
		config.SubDeadline = DefaultRetrievalConfig().SubDeadline
	}
	if rerankerMode == "" {
		rerankerMode = "none"
	}
	return &Retrieval{
		manifests:    manifests,
		chunks:       chunks,
		graphStore:   graphStore,
		embedder:     embedder,
		reranker:     reranker,
		rerankerMode: rerankerMode,
		executor:     resilience.NewExecutor(resilience.DefaultConfig()),
		config:       config,
		logger:       logger,
	}
}

// Query runs one retrieval request end to end.
func (r *Retrieval) Query(ctx context.Context, req RetrievalRequest) (RetrievalResult, error) {
	start := time.Now()

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return RetrievalResult{}, ErrEmptyQuery
	}
	if strings.TrimSpace(req.CorpusID) == "" {
		return RetrievalResult{}, errkind.New(errkind.ConfigError, "corpus_id is required")
	}

	topK := req.TopK
	if topK <= 0 {
		topK = r.config.TopK
	}

	if req.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Deadline)
		defer cancel()
	}

	m, err := r.manifests.Get(ctx, req.CorpusID)
	if err != nil {
		return RetrievalResult{}, err
	}

	wantVector := req.IncludeVector && r.config.VectorEnabled && r.chunks != nil && r.embedder != nil
	wantSparse := req.IncludeSparse && r.config.SparseEnabled && r.chunks != nil
	wantGraph := req.IncludeGraph && r.config.GraphEnabled && r.graphStore != nil

	// Tokenizer lock: the sparse index must be queried with the
	// tokenizer it was built with. Fatal, never a demotion.
	if wantSparse {
		if err := m.CheckTokenizer(r.config.SparseTokenizer); err != nil {
			return RetrievalResult{}, errkind.Wrap(errkind.ManifestMismatch, "sparse tokenizer", err)
		}
	}

	// Dimension lock: embed the query and check against the manifest
	// before any retriever runs. The graph retriever needs the embedding
	// too, for its embedding-matched seed set.
	var embedding []float64
	if wantVector || (wantGraph && r.embedder != nil) {
		if err := r.executor.Execute(ctx, "embed_query", func(ctx context.Context) error {
			vecs, err := r.embedder.Embed(ctx, []string{query})
			if err != nil {
				return err
			}
			if len(vecs) == 0 {
				return errkind.New(errkind.UpstreamFailure, "embedder returned no vectors")
			}
			embedding = vecs[0]
			return nil
		}, resilience.DefaultClassifier); err != nil {
			if wantVector {
				return RetrievalResult{}, err
			}
			// Graph-only queries survive an embedder outage on
			// name-matched seeds alone.
			r.logger.Warn("query embedding failed, graph seeds fall back to name matching", "error", err)
			embedding = nil
		}
		if embedding != nil {
			if err := m.CheckDimension(len(embedding)); err != nil {
				return RetrievalResult{}, errkind.Wrap(errkind.ManifestMismatch, "query embedding dimension", err)
			}
		}
	}

	statuses := make(map[chunk.Source]ModalityStatus, 3)
	var statusMu sync.Mutex
	recordStatus := func(source chunk.Source, status ModalityStatus) {
		statusMu.Lock()
		statuses[source] = status
		statusMu.Unlock()
	}

	// Scatter: each enabled retriever runs concurrently under its own
	// sub-deadline. Cancellation from the caller propagates through ctx.
	var wg sync.WaitGroup
	var vectorMatches, sparseMatches, graphMatches []chunk.Match

	runModality := func(source chunk.Source, out *[]chunk.Match, fn func(context.Context) ([]chunk.Match, error)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			subCtx, cancel := context.WithTimeout(ctx, r.config.SubDeadline)
			defer cancel()
			matches, err := fn(subCtx)
			if err != nil {
				timedOut := errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil
				r.logger.Warn("retriever demoted to empty", "source", source, "timeout", timedOut, "error", err)
				recordStatus(source, ModalityStatus{Ran: true, TimedOut: timedOut, Err: err})
				return
			}
			*out = matches
			recordStatus(source, ModalityStatus{Ran: true, Matches: len(matches)})
		}()
	}

	if wantVector {
		runModality(chunk.SourceVector, &vectorMatches, func(ctx context.Context) ([]chunk.Match, error) {
			matches, err := r.chunks.VectorSearch(ctx, req.CorpusID, embedding, r.topKDense())
			if err != nil {
				return nil, err
			}
			return r.applySimilarityFloor(matches), nil
		})
	}
	if wantSparse {
		runModality(chunk.SourceSparse, &sparseMatches, func(ctx context.Context) ([]chunk.Match, error) {
			return r.chunks.FTSSearch(ctx, req.CorpusID, query, r.topKSparse())
		})
	}
	if wantGraph {
		runModality(chunk.SourceGraph, &graphMatches, func(ctx context.Context) ([]chunk.Match, error) {
			hits, err := r.graphStore.Walk(ctx, graph.WalkRequest{
				CorpusID:           req.CorpusID,
				SeedNames:          seedNamesFromQuery(query),
				SeedEmbedding:      embedding,
				MaxHops:            r.config.MaxHops,
				TopK:               r.topKGraph(),
				IncludeCommunities: req.IncludeCommunities,
			})
			if err != nil {
				return nil, err
			}
			return walkHitsToMatches(hits), nil
		})
	}

	wg.Wait()
	if err := ctx.Err(); err != nil {
		return RetrievalResult{}, err
	}

	// Gather: fusion observes all enabled retrievers' results or their
	// recorded absence. The query fails only when every enabled
	// modality failed outright.
	enabled, failed := 0, 0
	for _, status := range statuses {
		enabled++
		if status.Err != nil {
			failed++
		}
	}
	if enabled == 0 {
		return RetrievalResult{}, errkind.New(errkind.ConfigError, "no retrieval modality enabled")
	}
	if failed == enabled {
		return RetrievalResult{}, errkind.New(errkind.AllRetrieversFailed, "every enabled retriever failed")
	}

	fused := r.fuse(ctx, req.CorpusID, vectorMatches, sparseMatches, graphMatches)
	if len(fused) > r.config.FinalK {
		fused = fused[:r.config.FinalK]
	}

	matches, rerankerMode := r.rerank(ctx, query, fused)
	if len(matches) > topK {
		matches = matches[:topK]
	}

	return RetrievalResult{
		Matches:           matches,
		FusionMethod:      string(r.fusionMethod()),
		RerankerMode:      rerankerMode,
		LatencyMS:         time.Since(start).Milliseconds(),
		PerModalityStatus: statuses,
	}, nil
}

// fuse combines the per-modality lists, weighting only the modalities
// that returned, then shapes the fused list: duplicates collapse to
// their best score and no file contributes more than MaxPerFile results.
func (r *Retrieval) fuse(ctx context.Context, corpusID string, vector, sparse, graphMatches []chunk.Match) []chunk.Match {
	fusion := search.NewFusionWithK(r.config.RRFK)

	var lists [][]search.FusionRequest
	var weights []float64
	appendList := func(matches []chunk.Match, weight float64) {
		if len(matches) == 0 {
			return
		}
		lists = append(lists, matchesToFusionRequests(matches))
		weights = append(weights, weight)
	}
	appendList(vector, r.config.VectorWeight)
	appendList(sparse, r.config.SparseWeight)
	appendList(graphMatches, r.config.GraphWeight)

	if len(lists) == 0 {
		return nil
	}
	normalizeWeights(weights)

	var results []search.FusionResult
	if r.fusionMethod() == FusionWeighted {
		results = fusion.FuseMinMax(weights, lists...)
	} else {
		results = fusion.FuseWeighted(weights, lists...)
	}

	results = search.DedupResults(results)
	if r.config.MaxPerFile > 0 {
		results = search.CapPerFile(results, r.fileResolver(ctx, corpusID, results), r.config.MaxPerFile)
	}

	// Each fused match keeps the metadata of the first list that returned
	// its id, so community matches keep their summary.
	metadata := make(map[string]map[string]any)
	for _, list := range [][]chunk.Match{vector, sparse, graphMatches} {
		for _, m := range list {
			if _, ok := metadata[m.ChunkID()]; !ok {
				metadata[m.ChunkID()] = m.Metadata()
			}
		}
	}

	matches := make([]chunk.Match, len(results))
	for i, f := range results {
		matches[i] = chunk.NewMatch(f.ID(), f.Score(), chunk.SourceFused, i+1, metadata[f.ID()])
	}
	return matches
}

// fileResolver maps fused result ids to their file paths in one store
// round trip, for the per-file cap. Unresolvable ids (virtual matches)
// map to "" and stay uncapped.
func (r *Retrieval) fileResolver(ctx context.Context, corpusID string, results []search.FusionResult) func(string) string {
	ids := make([]string, 0, len(results))
	for _, res := range results {
		if !strings.HasPrefix(res.ID(), "community:") {
			ids = append(ids, res.ID())
		}
	}
	files := make(map[string]string, len(ids))
	if chunks, err := r.chunks.Get(ctx, corpusID, ids); err == nil {
		for _, c := range chunks {
			files[c.ID()] = c.FilePath()
		}
	} else {
		r.logger.Warn("per-file cap lookup failed, cap skipped", "error", err)
	}
	return func(id string) string { return files[id] }
}

// rerank passes the fused list through the configured reranker, falling
// back to the fused order with a degraded marker when the reranker is
// unavailable.
func (r *Retrieval) rerank(ctx context.Context, query string, fused []chunk.Match) ([]chunk.Match, string) {
	if r.reranker == nil {
		return fused, "none"
	}
	reranked, err := r.reranker.Rerank(ctx, query, fused)
	if err != nil {
		r.logger.Warn("rerank failed, falling back to fused order", "error", err)
		return fused, "degraded"
	}
	return reranked, r.rerankerMode
}

func (r *Retrieval) fusionMethod() FusionMethod {
	if r.config.FusionMethod == FusionWeighted {
		return FusionWeighted
	}
	return FusionRRF
}

// applySimilarityFloor drops vector matches below the configured
// similarity threshold.
func (r *Retrieval) applySimilarityFloor(matches []chunk.Match) []chunk.Match {
	if r.config.SimilarityThreshold <= 0 {
		return matches
	}
	kept := matches[:0]
	for _, m := range matches {
		if m.Score() >= r.config.SimilarityThreshold {
			kept = append(kept, m)
		}
	}
	return kept
}

func (r *Retrieval) topKDense() int {
	if r.config.TopKDense > 0 {
		return r.config.TopKDense
	}
	return DefaultRetrievalConfig().TopKDense
}

func (r *Retrieval) topKSparse() int {
	if r.config.TopKSparse > 0 {
		return r.config.TopKSparse
	}
	return DefaultRetrievalConfig().TopKSparse
}

func (r *Retrieval) topKGraph() int {
	if r.config.TopKGraph > 0 {
		return r.config.TopKGraph
	}
	return DefaultRetrievalConfig().TopKGraph
}

// normalizeWeights rescales so the enabled modalities' weights sum to 1.
func normalizeWeights(weights []float64) {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		for i := range weights {
			weights[i] = 1.0 / float64(len(weights))
		}
		return
	}
	for i := range weights {
		weights[i] /= sum
	}
}

// seedNamesFromQuery splits a query into candidate entity-name seeds:
// the full query plus its individual identifier-looking tokens.
func seedNamesFromQuery(query string) []string {
	seeds := []string{query}
	for _, token := range strings.Fields(query) {
		token = strings.Trim(token, `"'().,;:`)
		if len(token) >= 3 && token != query {
			seeds = append(seeds, token)
		}
	}
	return seeds
}

func matchesToFusionRequests(matches []chunk.Match) []search.FusionRequest {
	requests := make([]search.FusionRequest, len(matches))
	for i, m := range matches {
		requests[i] = search.NewFusionRequest(m.ChunkID(), m.Score())
	}
	return requests
}

// walkHitsToMatches flattens a graph walk into per-chunk matches, scored
// by the best path weight that reached the entity. Community hits become
// virtual matches tagged as non-code context.
func walkHitsToMatches(hits []graph.WalkHit) []chunk.Match {
	var matches []chunk.Match
	rank := 0
	for _, hit := range hits {
		if hit.IsCommunity {
			rank++
			matches = append(matches, chunk.NewMatch("community:"+hit.EntityID, hit.PathWeight, chunk.SourceGraph, rank, map[string]any{
				"community": true,
				"summary":   hit.Summary,
			}))
			continue
		}
		score := hit.PathWeight
		if score <= 0 {
			score = 1.0 / float64(1+hit.Hops)
		}
		for _, chunkID := range hit.ChunkIDs {
			rank++
			matches = append(matches, chunk.NewMatch(chunkID, score, chunk.SourceGraph, rank, map[string]any{
				"entity_id": hit.EntityID,
				"hops":      hit.Hops,
			}))
		}
	}
	return matches
}
