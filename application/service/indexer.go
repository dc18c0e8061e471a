package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tribridrag/tribridrag/domain/chunk"
	"github.com/tribridrag/tribridrag/domain/errkind"
	"github.com/tribridrag/tribridrag/domain/manifest"
	"github.com/tribridrag/tribridrag/domain/search"
	"github.com/tribridrag/tribridrag/infrastructure/chunking"
	"github.com/tribridrag/tribridrag/infrastructure/loader"
	"github.com/tribridrag/tribridrag/infrastructure/persistence"
	"github.com/tribridrag/tribridrag/infrastructure/slicing"
	"github.com/tribridrag/tribridrag/infrastructure/slicing/language"
)

// ManifestWriter is the full manifest capability the indexer needs on
// top of the read-only ManifestStore the query path uses.
type ManifestWriter interface {
	ManifestStore
	Put(ctx context.Context, m manifest.Manifest) error
}

// ChunkWriter extends chunk.Store with the file-scoped operations the
// build path needs.
type ChunkWriter interface {
	chunk.Store
	DeleteByFile(ctx context.Context, corpusID, filePath string) error
}

// EmbedderInfo is the embedder identity the manifest records.
type EmbedderInfo interface {
	search.Embedder
	Provider() string
	Model() string
	Dimension() int
}

// GraphBuilder runs the graph extraction phase of a build.
type GraphBuilder interface {
	Build(ctx context.Context, input GraphBuildInput) error
}

// IndexerConfig bounds one build.
type IndexerConfig struct {
	// EmbedderConcurrency bounds concurrent chunk+embed pipelines.
	EmbedderConcurrency int
	// EmbedBatch is how many chunk texts travel in one embedder call.
	EmbedBatch int
	// SparseTokenizer names the lexical tokenizer pinned in the manifest.
	SparseTokenizer string
}

// DefaultIndexerConfig returns the build defaults.
func DefaultIndexerConfig() IndexerConfig {
	return IndexerConfig{
		EmbedderConcurrency: 4,
		EmbedBatch:          32,
		SparseTokenizer:     "porter",
	}
}

// BuildRequest asks for one corpus build.
type BuildRequest struct {
	CorpusID string
	Root     string
	// Force rebuilds every file even when hashes are unchanged.
	Force bool
}

// BuildProgress is reported at file boundaries.
type BuildProgress struct {
	CorpusID  string
	Phase     string
	Completed int
	Total     int
}

// ProgressFunc receives build progress. May be nil.
type ProgressFunc func(BuildProgress)

// Indexer orchestrates one end-to-end corpus build: load, delta, chunk,
// embed, store, graph, manifest. One build per corpus at a time; the
// previous complete state stays queryable until a rebuild succeeds.
type Indexer struct {
	loader    *loader.Loader
	chunker   *chunking.Chunker
	slicer    *slicing.Slicer
	embedder  EmbedderInfo
	chunks    ChunkWriter
	graphs    GraphBuilder
	manifests ManifestWriter
	config    IndexerConfig
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewIndexer creates an Indexer. graphs may be nil for corpora without a
// graph store.
func NewIndexer(
	fileLoader *loader.Loader,
	chunker *chunking.Chunker,
	embedder EmbedderInfo,
	chunks ChunkWriter,
	graphs GraphBuilder,
	manifests ManifestWriter,
	config IndexerConfig,
	logger *slog.Logger,
) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	if config.EmbedderConcurrency <= 0 {
		config.EmbedderConcurrency = DefaultIndexerConfig().EmbedderConcurrency
	}
	if config.EmbedBatch <= 0 {
		config.EmbedBatch = DefaultIndexerConfig().EmbedBatch
	}
	languages := slicing.NewLanguageConfig()
	return &Indexer{
		loader:    fileLoader,
		chunker:   chunker,
		slicer:    slicing.NewSlicer(languages, language.NewFactory(languages)),
		embedder:  embedder,
		chunks:    chunks,
		graphs:    graphs,
		manifests: manifests,
		config:    config,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
	}
}

// corpusLock returns the per-corpus build mutex.
func (ix *Indexer) corpusLock(corpusID string) *sync.Mutex {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	l, ok := ix.locks[corpusID]
	if !ok {
		l = &sync.Mutex{}
		ix.locks[corpusID] = l
	}
	return l
}

// Build runs one build. A second Build for the same corpus while one is
// in progress returns a BuildConflict immediately rather than queueing.
func (ix *Indexer) Build(ctx context.Context, req BuildRequest, progress ProgressFunc) error {
	lock := ix.corpusLock(req.CorpusID)
	if !lock.TryLock() {
		return errkind.New(errkind.BuildConflict, "build already in progress for corpus "+req.CorpusID)
	}
	defer lock.Unlock()

	prior, priorErr := ix.manifests.Get(ctx, req.CorpusID)
	hasPrior := priorErr == nil
	if priorErr != nil && !errors.Is(priorErr, persistence.ErrManifestNotFound) {
		return priorErr
	}

	// Announce the building state without disturbing the prior manifest's
	// queryable fields: readers keep dimension/tokenizer/file hashes.
	working := prior
	if !hasPrior {
		working = ix.freshManifest(req.CorpusID)
	}
	if err := ix.manifests.Put(ctx, working.WithBuilding()); err != nil {
		return err
	}

	err := ix.build(ctx, req, working, hasPrior, progress)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// A cancelled build leaves the prior manifest state untouched.
		restore := prior
		if !hasPrior {
			restore = ix.freshManifest(req.CorpusID)
		}
		if putErr := ix.manifests.Put(context.WithoutCancel(ctx), restore); putErr != nil {
			ix.logger.Error("restore manifest after cancellation", "corpus_id", req.CorpusID, "error", putErr)
		}
		return err
	default:
		failed := working.WithError(err.Error())
		if putErr := ix.manifests.Put(context.WithoutCancel(ctx), failed); putErr != nil {
			ix.logger.Error("record build error", "corpus_id", req.CorpusID, "error", putErr)
		}
		return errkind.Wrap(errkind.BuildFailed, "corpus "+req.CorpusID, err)
	}
}

func (ix *Indexer) freshManifest(corpusID string) manifest.Manifest {
	settings := ix.chunker.Settings()
	return manifest.New(
		corpusID,
		ix.embedder.Provider(),
		ix.embedder.Model(),
		ix.embedder.Dimension(),
		ix.config.SparseTokenizer,
		manifest.ChunkerSettings{
			Strategy:        string(settings.Strategy),
			ChunkSize:       settings.ChunkSize,
			ChunkOverlap:    settings.ChunkOverlap,
			MinChunkChars:   settings.MinChunkChars,
			MaxChunkTokens:  settings.MaxChunkTokens,
			AstOverlapLines: settings.ASTOverlapLines,
			PreserveImports: settings.PreserveImports,
		},
	)
}

func (ix *Indexer) build(ctx context.Context, req BuildRequest, working manifest.Manifest, hasPrior bool, progress ProgressFunc) error {
	report := func(phase string, completed, total int) {
		if progress != nil {
			progress(BuildProgress{CorpusID: req.CorpusID, Phase: phase, Completed: completed, Total: total})
		}
	}

	// A prior manifest built with a different embedder cannot be
	// incrementally extended; embedding spaces don't mix.
	if hasPrior && !req.Force {
		if working.EmbeddingDimension != ix.embedder.Dimension() {
			return errkind.New(errkind.ManifestMismatch, fmt.Sprintf(
				"corpus built at dimension %d, embedder configured at %d; rebuild with force",
				working.EmbeddingDimension, ix.embedder.Dimension()))
		}
	}

	files, err := ix.loader.Load(ctx, req.Root)
	if err != nil {
		return fmt.Errorf("load corpus files: %w", err)
	}
	report("load_files", len(files), len(files))

	// Per-file delta: unchanged files keep their chunks and embeddings.
	priorHashes := working.FileHashes
	newHashes := make(map[string]string, len(files))
	var changed []loader.File
	for _, f := range files {
		hash := chunk.ContentHash(f.Content())
		newHashes[f.Path()] = hash
		if !req.Force && hasPrior && priorHashes[f.Path()] == hash {
			continue
		}
		changed = append(changed, f)
	}

	// Files present in the prior build but missing now lose their chunks.
	// Their graph entities are not removed here: the graph phase only
	// upserts what the changed files produce.
	for path := range priorHashes {
		if _, still := newHashes[path]; still {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := ix.chunks.DeleteByFile(ctx, req.CorpusID, path); err != nil {
			return fmt.Errorf("delete removed file %s: %w", path, err)
		}
	}

	allChunks, err := ix.chunkAndEmbed(ctx, req.CorpusID, changed, report)
	if err != nil {
		return err
	}

	// An unchanged corpus keeps its graph as-is. Partial change sets are
	// safe: the graph builder upserts this delta's entities and edges,
	// then recomputes communities over the store's full committed graph.
	if ix.graphs != nil && len(changed) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		report("build_graph", 0, 1)
		inventory, err := ix.sliceInventory(ctx, req, changed)
		if err != nil {
			return fmt.Errorf("slice inventory: %w", err)
		}
		if err := ix.graphs.Build(ctx, GraphBuildInput{
			CorpusID: req.CorpusID,
			Slice:    inventory,
			Chunks:   allChunks,
		}); err != nil {
			return fmt.Errorf("build graph: %w", err)
		}
		report("build_graph", 1, 1)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	completed := working.
		WithFileHashes(newHashes).
		WithRoot(req.Root).
		WithComplete(time.Now().UTC())
	if err := ix.manifests.Put(ctx, completed); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	report("update_manifest", 1, 1)
	return nil
}

// chunkAndEmbed streams changed files through the chunker and embedder
// with bounded concurrency, writing chunks per file. Cancellation is
// observed at every file boundary and every embedding batch boundary.
func (ix *Indexer) chunkAndEmbed(ctx context.Context, corpusID string, files []loader.File, report func(string, int, int)) ([]chunk.Chunk, error) {
	var mu sync.Mutex
	var all []chunk.Chunk
	completed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.config.EmbedderConcurrency)

	for _, f := range files {
		if err := gctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			chunks, err := ix.chunker.ChunkFile(gctx, corpusID, f.Path(), f.Content(), f.Language())
			if err != nil {
				return fmt.Errorf("chunk %s: %w", f.Path(), err)
			}
			if len(chunks) == 0 {
				mu.Lock()
				completed++
				report("chunk_files", completed, len(files))
				mu.Unlock()
				return nil
			}

			embedded, err := ix.embedChunks(gctx, chunks)
			if err != nil {
				// An embedder that has exhausted its retries aborts the
				// whole build; a half-embedded corpus is worse than a
				// failed build.
				return fmt.Errorf("embed %s: %w", f.Path(), err)
			}

			// Replace the file's chunks wholesale so renames of regions
			// within the file don't leave stale rows.
			if err := ix.chunks.DeleteByFile(gctx, corpusID, f.Path()); err != nil {
				return fmt.Errorf("clear prior chunks of %s: %w", f.Path(), err)
			}
			if err := ix.chunks.Upsert(gctx, corpusID, embedded); err != nil {
				return fmt.Errorf("store chunks of %s: %w", f.Path(), err)
			}

			mu.Lock()
			all = append(all, embedded...)
			completed++
			report("embed_chunks", completed, len(files))
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return all, nil
}

func (ix *Indexer) embedChunks(ctx context.Context, chunks []chunk.Chunk) ([]chunk.Chunk, error) {
	out := make([]chunk.Chunk, len(chunks))
	copy(out, chunks)

	for start := 0; start < len(out); start += ix.config.EmbedBatch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + ix.config.EmbedBatch
		if end > len(out) {
			end = len(out)
		}
		texts := make([]string, end-start)
		for i := start; i < end; i++ {
			texts[i-start] = out[i].Content()
		}
		vectors, err := ix.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(texts) {
			return nil, errkind.New(errkind.UpstreamFailure,
				fmt.Sprintf("embedder returned %d vectors for %d chunks", len(vectors), len(texts)))
		}
		for i := start; i < end; i++ {
			vec := vectors[i-start]
			if len(vec) != ix.embedder.Dimension() {
				return nil, errkind.New(errkind.ManifestMismatch, fmt.Sprintf(
					"embedder returned dimension %d, manifest expects %d", len(vec), ix.embedder.Dimension()))
			}
			out[i] = out[i].WithEmbedding(vec)
		}
	}
	return out, nil
}

// sliceInventory runs the slicer's definition and call-graph pass over
// the changed files, producing the structural inventory the graph
// builder consumes.
func (ix *Indexer) sliceInventory(ctx context.Context, req BuildRequest, changed []loader.File) (slicing.SliceResult, error) {
	sources := make([]slicing.SourceFile, len(changed))
	for i, f := range changed {
		sources[i] = slicing.NewSourceFile(f.Path(), f.Language())
	}
	cfg := slicing.DefaultSliceConfig()
	cfg.CorpusID = req.CorpusID
	cfg.IncludePrivate = true
	return ix.slicer.Slice(ctx, sources, req.Root, cfg)
}
