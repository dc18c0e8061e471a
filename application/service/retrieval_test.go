package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tribridrag/tribridrag/domain/chunk"
	"github.com/tribridrag/tribridrag/domain/errkind"
	"github.com/tribridrag/tribridrag/domain/graph"
	"github.com/tribridrag/tribridrag/domain/manifest"
	"github.com/tribridrag/tribridrag/domain/queryopt"
)

// fakeManifests serves a fixed manifest.
type fakeManifests struct {
	m manifest.Manifest
}

func (f *fakeManifests) Get(_ context.Context, _ string) (manifest.Manifest, error) {
	return f.m, nil
}

// fixedEmbedder returns a fixed-dimension vector for any text.
type fixedEmbedder struct {
	dimension int
}

func (e *fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = make([]float64, e.dimension)
	}
	return out, nil
}

// scriptedChunkStore returns canned vector and sparse results.
type scriptedChunkStore struct {
	vector    []chunk.Match
	sparse    []chunk.Match
	vectorErr error
	sparseErr error
}

func (s *scriptedChunkStore) Upsert(context.Context, string, []chunk.Chunk) error { return nil }
func (s *scriptedChunkStore) Delete(context.Context, string, []string) error      { return nil }
func (s *scriptedChunkStore) Get(context.Context, string, []string) ([]chunk.Chunk, error) {
	return nil, nil
}
func (s *scriptedChunkStore) Stats(context.Context, string) (chunk.Stats, error) {
	return chunk.Stats{}, nil
}

func (s *scriptedChunkStore) VectorSearch(ctx context.Context, _ string, _ []float64, _ int, _ ...queryopt.Option) ([]chunk.Match, error) {
	if s.vectorErr != nil {
		return nil, s.vectorErr
	}
	return s.vector, nil
}

func (s *scriptedChunkStore) FTSSearch(ctx context.Context, _ string, _ string, _ int, _ ...queryopt.Option) ([]chunk.Match, error) {
	if s.sparseErr != nil {
		return nil, s.sparseErr
	}
	return s.sparse, nil
}

// slowGraphStore injects a delay before returning and records the last
// walk request for assertions.
type slowGraphStore struct {
	delay   time.Duration
	hits    []graph.WalkHit
	lastReq graph.WalkRequest
}

func (s *slowGraphStore) UpsertEntities(context.Context, string, []graph.Entity) error { return nil }
func (s *slowGraphStore) UpsertRelationships(context.Context, string, []graph.Relationship) error {
	return nil
}
func (s *slowGraphStore) DeleteByFile(context.Context, string, string) error { return nil }
func (s *slowGraphStore) Snapshot(context.Context, string) ([]graph.Entity, []graph.Relationship, error) {
	return nil, nil, nil
}
func (s *slowGraphStore) ReplaceCommunities(context.Context, string, []graph.Community) error {
	return nil
}
func (s *slowGraphStore) Stats(context.Context, string) (graph.Stats, error) {
	return graph.Stats{}, nil
}

func (s *slowGraphStore) Walk(ctx context.Context, req graph.WalkRequest) ([]graph.WalkHit, error) {
	s.lastReq = req
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.hits, nil
}

func twoFileManifest(dimension int) manifest.Manifest {
	m := manifest.New("corpus1", "test", "test-model", dimension, "porter", manifest.ChunkerSettings{})
	return m.WithComplete(time.Now())
}

// Corpus fixture: a.py holds login, b.py holds logout.
var (
	chunkA = chunk.ID("corpus1", "a.py", 1, 20, chunk.ContentHash("def login(): ..."))
	chunkB = chunk.ID("corpus1", "b.py", 1, 15, chunk.ContentHash("def logout(): ..."))
)

func newScriptedRetrieval(store *scriptedChunkStore, graphStore graph.Store, dimension int, cfg RetrievalConfig) *Retrieval {
	return NewRetrieval(
		&fakeManifests{m: twoFileManifest(dimension)},
		store,
		graphStore,
		&fixedEmbedder{dimension: dimension},
		nil,
		"none",
		cfg,
		nil,
	)
}

func TestQuery_FusedRankingAgreesAcrossRetrievers(t *testing.T) {
	// S1: vector returns [a, b], sparse returns [a], graph nothing.
	store := &scriptedChunkStore{
		vector: []chunk.Match{
			chunk.NewMatch(chunkA, 0.91, chunk.SourceVector, 1, nil),
			chunk.NewMatch(chunkB, 0.40, chunk.SourceVector, 2, nil),
		},
		sparse: []chunk.Match{
			chunk.NewMatch(chunkA, 3.2, chunk.SourceSparse, 1, nil),
		},
	}
	r := newScriptedRetrieval(store, &slowGraphStore{}, 1536, DefaultRetrievalConfig())

	result, err := r.Query(context.Background(), RetrievalRequest{
		Query:         "login",
		CorpusID:      "corpus1",
		TopK:          2,
		IncludeVector: true,
		IncludeSparse: true,
		IncludeGraph:  true,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(result.Matches) != 2 {
		t.Fatalf("got %d matches: %+v", len(result.Matches), result.Matches)
	}
	if result.Matches[0].ChunkID() != chunkA {
		t.Errorf("top match = %s, want a.py chunk", result.Matches[0].ChunkID())
	}
	if result.Matches[1].ChunkID() != chunkB {
		t.Errorf("second match = %s, want b.py chunk", result.Matches[1].ChunkID())
	}
	if result.FusionMethod != "rrf" {
		t.Errorf("fusion method = %s", result.FusionMethod)
	}
	if result.RerankerMode != "none" {
		t.Errorf("reranker mode = %s", result.RerankerMode)
	}
}

func TestQuery_OneRetrieverTimesOut(t *testing.T) {
	// S2: the graph retriever exceeds its sub-deadline; results are
	// identical to S1 and the status shows the timeout.
	store := &scriptedChunkStore{
		vector: []chunk.Match{
			chunk.NewMatch(chunkA, 0.91, chunk.SourceVector, 1, nil),
			chunk.NewMatch(chunkB, 0.40, chunk.SourceVector, 2, nil),
		},
		sparse: []chunk.Match{
			chunk.NewMatch(chunkA, 3.2, chunk.SourceSparse, 1, nil),
		},
	}
	cfg := DefaultRetrievalConfig()
	cfg.SubDeadline = 10 * time.Millisecond
	r := newScriptedRetrieval(store, &slowGraphStore{delay: 100 * time.Millisecond}, 1536, cfg)

	result, err := r.Query(context.Background(), RetrievalRequest{
		Query:         "login",
		CorpusID:      "corpus1",
		TopK:          2,
		IncludeVector: true,
		IncludeSparse: true,
		IncludeGraph:  true,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(result.Matches) != 2 || result.Matches[0].ChunkID() != chunkA {
		t.Errorf("matches = %+v", result.Matches)
	}
	status := result.PerModalityStatus[chunk.SourceGraph]
	if !status.TimedOut {
		t.Errorf("graph status = %+v, want timeout", status)
	}
}

func TestQuery_DimensionMismatchFailsBeforeRetrieval(t *testing.T) {
	// S3: manifest says 1536, embedder produces 3072.
	store := &scriptedChunkStore{
		vectorErr: errors.New("vector search must not run"),
		sparseErr: errors.New("sparse search must not run"),
	}
	r := NewRetrieval(
		&fakeManifests{m: twoFileManifest(1536)},
		store,
		nil,
		&fixedEmbedder{dimension: 3072},
		nil,
		"none",
		DefaultRetrievalConfig(),
		nil,
	)

	_, err := r.Query(context.Background(), RetrievalRequest{
		Query:         "login",
		CorpusID:      "corpus1",
		IncludeVector: true,
		IncludeSparse: true,
	})
	var ke *errkind.Error
	if err == nil || !errors.As(err, &ke) || ke.Kind != errkind.ManifestMismatch {
		t.Fatalf("got %v, want ManifestMismatch", err)
	}
}

func TestQuery_TokenizerMismatchIsFatal(t *testing.T) {
	cfg := DefaultRetrievalConfig()
	cfg.SparseTokenizer = "whitespace"
	r := newScriptedRetrieval(&scriptedChunkStore{}, nil, 1536, cfg)

	_, err := r.Query(context.Background(), RetrievalRequest{
		Query:         "login",
		CorpusID:      "corpus1",
		IncludeSparse: true,
	})
	var ke *errkind.Error
	if err == nil || !errors.As(err, &ke) || ke.Kind != errkind.ManifestMismatch {
		t.Fatalf("got %v, want ManifestMismatch for tokenizer disagreement", err)
	}
}

func TestQuery_AllRetrieversFailed(t *testing.T) {
	store := &scriptedChunkStore{
		vectorErr: errors.New("vector down"),
		sparseErr: errors.New("sparse down"),
	}
	r := newScriptedRetrieval(store, nil, 1536, DefaultRetrievalConfig())

	_, err := r.Query(context.Background(), RetrievalRequest{
		Query:         "login",
		CorpusID:      "corpus1",
		IncludeVector: true,
		IncludeSparse: true,
	})
	var ke *errkind.Error
	if err == nil || !errors.As(err, &ke) || ke.Kind != errkind.AllRetrieversFailed {
		t.Fatalf("got %v, want AllRetrieversFailed", err)
	}
}

func TestQuery_EmptyResultsAreNotAnError(t *testing.T) {
	// Retrievers succeed but find nothing: the query succeeds with an
	// empty result set, no AllRetrieversFailed.
	r := newScriptedRetrieval(&scriptedChunkStore{}, nil, 1536, DefaultRetrievalConfig())
	result, err := r.Query(context.Background(), RetrievalRequest{
		Query:         "login",
		CorpusID:      "corpus1",
		IncludeVector: true,
		IncludeSparse: true,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(result.Matches) != 0 {
		t.Errorf("matches = %+v", result.Matches)
	}
}

func TestQuery_PartialFailureDemotesToEmpty(t *testing.T) {
	store := &scriptedChunkStore{
		vector: []chunk.Match{chunk.NewMatch(chunkA, 0.9, chunk.SourceVector, 1, nil)},
		sparseErr: errors.New("sparse down"),
	}
	r := newScriptedRetrieval(store, nil, 1536, DefaultRetrievalConfig())

	result, err := r.Query(context.Background(), RetrievalRequest{
		Query:         "login",
		CorpusID:      "corpus1",
		IncludeVector: true,
		IncludeSparse: true,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(result.Matches) != 1 || result.Matches[0].ChunkID() != chunkA {
		t.Errorf("matches = %+v", result.Matches)
	}
	if result.PerModalityStatus[chunk.SourceSparse].Err == nil {
		t.Error("sparse failure not recorded")
	}
}

// erroringReranker always fails, driving the degraded fallback.
type erroringReranker struct{}

func (erroringReranker) Rerank(context.Context, string, []chunk.Match) ([]chunk.Match, error) {
	return nil, errkind.New(errkind.RerankerUnavailable, "model not loaded")
}

func TestQuery_RerankerUnavailableDegrades(t *testing.T) {
	store := &scriptedChunkStore{
		vector: []chunk.Match{chunk.NewMatch(chunkA, 0.9, chunk.SourceVector, 1, nil)},
	}
	r := NewRetrieval(
		&fakeManifests{m: twoFileManifest(1536)},
		store,
		nil,
		&fixedEmbedder{dimension: 1536},
		erroringReranker{},
		"learned",
		DefaultRetrievalConfig(),
		nil,
	)

	result, err := r.Query(context.Background(), RetrievalRequest{
		Query:         "login",
		CorpusID:      "corpus1",
		IncludeVector: true,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if result.RerankerMode != "degraded" {
		t.Errorf("reranker mode = %s, want degraded", result.RerankerMode)
	}
	if len(result.Matches) != 1 {
		t.Errorf("fused fallback missing: %+v", result.Matches)
	}
}

func TestQuery_DisabledModalityNeverRuns(t *testing.T) {
	store := &scriptedChunkStore{
		vector:    []chunk.Match{chunk.NewMatch(chunkA, 0.9, chunk.SourceVector, 1, nil)},
		sparseErr: errors.New("sparse must not be called"),
	}
	cfg := DefaultRetrievalConfig()
	cfg.SparseEnabled = false
	r := newScriptedRetrieval(store, nil, 1536, cfg)

	result, err := r.Query(context.Background(), RetrievalRequest{
		Query:         "login",
		CorpusID:      "corpus1",
		IncludeVector: true,
		IncludeSparse: true, // requested but disabled in config
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if _, ran := result.PerModalityStatus[chunk.SourceSparse]; ran {
		t.Error("disabled sparse modality has a status entry")
	}
}

func TestQuery_GraphWalkReceivesSeedEmbedding(t *testing.T) {
	graphStore := &slowGraphStore{hits: []graph.WalkHit{
		{EntityID: "e1", ChunkIDs: []string{chunkA}, Hops: 0, PathWeight: 1},
	}}
	cfg := DefaultRetrievalConfig()
	cfg.VectorEnabled = false
	cfg.SparseEnabled = false
	r := newScriptedRetrieval(&scriptedChunkStore{}, graphStore, 1536, cfg)

	if _, err := r.Query(context.Background(), RetrievalRequest{
		Query:        "login",
		CorpusID:     "corpus1",
		IncludeGraph: true,
	}); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(graphStore.lastReq.SeedEmbedding) != 1536 {
		t.Errorf("graph walk got %d-dim seed embedding, want 1536", len(graphStore.lastReq.SeedEmbedding))
	}
	if len(graphStore.lastReq.SeedNames) == 0 {
		t.Error("graph walk got no name seeds")
	}
}

func TestQuery_CommunityVirtualMatchesTagged(t *testing.T) {
	graphStore := &slowGraphStore{hits: []graph.WalkHit{
		{EntityID: "e1", ChunkIDs: []string{chunkA}, Hops: 0, PathWeight: 1},
		{EntityID: "comm-1", IsCommunity: true, Summary: "auth cluster"},
	}}
	cfg := DefaultRetrievalConfig()
	cfg.VectorEnabled = false
	cfg.SparseEnabled = false
	r := newScriptedRetrieval(&scriptedChunkStore{}, graphStore, 1536, cfg)

	result, err := r.Query(context.Background(), RetrievalRequest{
		Query:              "login",
		CorpusID:           "corpus1",
		IncludeGraph:       true,
		IncludeCommunities: true,
		TopK:               10,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(result.Matches) < 1 {
		t.Fatal("no matches from graph-only query")
	}
	var community *chunk.Match
	for i := range result.Matches {
		if result.Matches[i].ChunkID() == "community:comm-1" {
			community = &result.Matches[i]
		}
	}
	if community == nil {
		t.Fatalf("community hit missing from matches: %v", result.Matches)
	}
	if community.Metadata()["community"] != true {
		t.Errorf("community match metadata = %v, want community=true", community.Metadata())
	}
}
