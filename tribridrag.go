// Package tribridrag provides a library for tri-brid retrieval over
// source-code corpora: dense vector search, sparse BM25 search, and a
// graph walk over an extracted code-entity graph, fused into one ranked
// result and optionally reranked by a cross-encoder.
//
// Basic usage:
//
//	client, err := tribridrag.New(
//	    tribridrag.WithSQLite(".tribridrag/data.db"),
//	    tribridrag.WithOpenAI(os.Getenv("OPENAI_API_KEY")),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Index a corpus
//	err = client.BuildCorpus(ctx, "my-project", "/path/to/src", false)
//
//	// Query it
//	result, err := client.Search.Query(ctx, service.RetrievalRequest{
//	    Query:         "where is login handled",
//	    CorpusID:      "my-project",
//	    IncludeVector: true,
//	    IncludeSparse: true,
//	    IncludeGraph:  true,
//	})
package tribridrag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tribridrag/tribridrag/application/handler"
	"github.com/tribridrag/tribridrag/application/service"
	"github.com/tribridrag/tribridrag/domain/chunk"
	"github.com/tribridrag/tribridrag/domain/errkind"
	"github.com/tribridrag/tribridrag/domain/graph"
	"github.com/tribridrag/tribridrag/domain/search"
	"github.com/tribridrag/tribridrag/domain/task"
	"github.com/tribridrag/tribridrag/infrastructure/chunking"
	"github.com/tribridrag/tribridrag/infrastructure/embedding"
	"github.com/tribridrag/tribridrag/infrastructure/eventlog"
	"github.com/tribridrag/tribridrag/infrastructure/graphstore"
	"github.com/tribridrag/tribridrag/infrastructure/loader"
	"github.com/tribridrag/tribridrag/infrastructure/persistence"
	"github.com/tribridrag/tribridrag/infrastructure/provider"
	"github.com/tribridrag/tribridrag/infrastructure/rerank"
	infrasearch "github.com/tribridrag/tribridrag/infrastructure/search"
	"github.com/tribridrag/tribridrag/infrastructure/tracking"
	"github.com/tribridrag/tribridrag/internal/config"
	"github.com/tribridrag/tribridrag/internal/database"
)

// ErrNoDatabase indicates no database backend was configured.
var ErrNoDatabase = errors.New("tribridrag: no database configured (use WithSQLite or WithPostgres)")

// Client is the main entry point for the tribridrag library.
// The background worker starts automatically on creation.
type Client struct {
	// Search is the query entry point.
	Search *service.Retrieval
	// Tasks exposes the task queue.
	Tasks *service.Queue
	// Events is the usage event log the learning loop mines.
	Events *eventlog.Log
	// Learning is the background learning loop.
	Learning *service.Learning
	// Promoter applies the explicit adapter promote gate.
	Promoter *service.Promoter

	indexer   *service.Indexer
	manifests *persistence.ManifestStore
	chunks    *persistence.ChunkStore
	graphs    graph.Store

	db           database.Database
	worker       *service.Worker
	registry     *service.Registry
	trackers     *tracking.Factory
	periodicSync *service.PeriodicSync
	learnCancel  context.CancelFunc
	neo4jStore   *graphstore.Neo4jStore
	learnedRerank *rerank.Learned
	hugotEmbedding *provider.HugotEmbedding
	closers      []io.Closer

	logger   *slog.Logger
	dataDir  string
	settings config.RetrievalSettings
	closed   atomic.Bool
	mu       sync.Mutex
}

// New creates a new Client with the given options.
// The background worker is started automatically.
func New(opts ...Option) (*Client, error) {
	cfg := newClientConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.database == databaseUnset {
		return nil, ErrNoDatabase
	}
	if err := cfg.settings.Validate(); err != nil {
		return nil, errkind.Wrap(errkind.ConfigError, "retrieval settings", err)
	}

	logger := cfg.logger
	if logger == nil {
		logger = config.DefaultLogger()
	}

	dataDir, err := config.PrepareDataDir(cfg.dataDir)
	if err != nil {
		return nil, err
	}

	// Fall back to the built-in local embedding provider when no
	// external one is configured.
	var hugotEmbedding *provider.HugotEmbedding
	if cfg.embeddingProvider == nil {
		modelDir := cfg.modelDir
		if modelDir == "" {
			modelDir = filepath.Join(dataDir, "models")
		}
		hugotEmbedding = provider.NewHugotEmbedding(modelDir)
		if !hugotEmbedding.Available() {
			return nil, fmt.Errorf("no embedding model found in %s — run 'make download-model' or configure an external embedding provider", modelDir)
		}
		cfg.embeddingProvider = hugotEmbedding
		cfg.settings.Embedding.Provider = "hugot"
		logger.Info("built-in embedding provider enabled", slog.String("model_dir", modelDir))
	}

	ctx := context.Background()
	dbURL, err := buildDatabaseURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("build database url: %w", err)
	}
	db, err := database.NewDatabase(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := persistence.PreMigrate(db); err != nil {
		return nil, errors.Join(fmt.Errorf("pre migrate: %w", err), db.Close())
	}
	if err := persistence.AutoMigrate(db); err != nil {
		return nil, errors.Join(fmt.Errorf("auto migrate: %w", err), db.Close())
	}
	if err := persistence.ValidateSchema(db); err != nil {
		return nil, errors.Join(fmt.Errorf("validate schema: %w", err), db.Close())
	}

	// Index stores: one embedding table plus one lexical index.
	embeddingStore, bm25Store, err := buildSearchStores(ctx, cfg, db, logger)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("search stores: %w", err), db.Close())
	}

	chunkStore := persistence.NewChunkStore(db, embeddingStore, bm25Store, logger)
	manifestStore, err := persistence.NewManifestStore(filepath.Join(dataDir, "manifests"))
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}

	// The embedder: provider adapter wrapped by the content-addressed
	// cache with per-key single-flight.
	embedCache, err := embedding.NewCache(filepath.Join(dataDir, "cache", "embeddings"), 0)
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}
	providerEmbedder := embedding.NewProviderEmbedder(
		&providerEmbedAdapter{inner: cfg.embeddingProvider},
		cfg.settings.Embedding.Provider,
		cfg.settings.Embedding.Model,
		cfg.settings.Embedding.Dimension,
		cfg.settings.Embedding.BatchSize,
	)
	embedder := embedding.NewCachingEmbedder(providerEmbedder, embedCache, nil)

	// Graph store: neo4j when configured, in-process otherwise.
	var graphStore graph.Store
	var neo4jStore *graphstore.Neo4jStore
	if cfg.neo4j != nil {
		neo4jStore, err = graphstore.NewNeo4jStore(ctx, cfg.neo4j.uri, cfg.neo4j.username, cfg.neo4j.password, cfg.neo4j.database)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("neo4j graph store: %w", err), db.Close())
		}
		graphStore = neo4jStore
	} else {
		graphStore = graphstore.NewMemoryStore()
	}

	graphBuildCfg := service.DefaultGraphBuildConfig()
	graphBuildCfg.SemanticExtraction = cfg.chatProvider != nil
	graphBuildCfg.CommunitySummaries = cfg.chatProvider != nil
	graphBuilder := service.NewGraphBuild(graphStore, cfg.chatProvider, embedder, graphBuildCfg, logger)

	chunker := chunking.NewChunker(chunking.Settings{
		Strategy:        chunking.Strategy(cfg.settings.Chunker.Strategy),
		ChunkSize:       cfg.settings.Chunker.ChunkSize,
		ChunkOverlap:    cfg.settings.Chunker.ChunkOverlap,
		MinChunkChars:   cfg.settings.Chunker.MinChunkChars,
		MaxChunkTokens:  cfg.settings.Chunker.MaxChunkTokens,
		ASTOverlapLines: cfg.settings.Chunker.ASTOverlapLines,
		PreserveImports: cfg.settings.Chunker.PreserveImports,
	}, logger)

	indexer := service.NewIndexer(
		loader.New(loader.DefaultConfig(), logger),
		chunker,
		embedder,
		chunkStore,
		graphBuilder,
		manifestStore,
		service.IndexerConfig{
			EmbedderConcurrency: cfg.workerCount,
			EmbedBatch:          cfg.settings.Embedding.BatchSize,
			SparseTokenizer:     cfg.settings.SparseSearch.Tokenizer,
		},
		logger,
	)

	// The reranker for the configured mode.
	reranker, learnedRerank, err := buildReranker(cfg, dataDir, chunkStore, logger)
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}

	retrieval := service.NewRetrieval(
		manifestStore,
		chunkStore,
		graphStore,
		embedder,
		reranker,
		cfg.settings.Reranker.Mode,
		service.RetrievalConfig{
			VectorEnabled:       cfg.settings.VectorSearch.Enabled,
			SparseEnabled:       cfg.settings.SparseSearch.Enabled,
			GraphEnabled:        cfg.settings.GraphSearch.Enabled,
			TopKDense:           cfg.settings.VectorSearch.TopKDense,
			TopKSparse:          cfg.settings.SparseSearch.TopKSparse,
			TopKGraph:           cfg.settings.GraphSearch.TopKGraph,
			SimilarityThreshold: cfg.settings.VectorSearch.SimilarityThreshold,
			MaxHops:             cfg.settings.GraphSearch.MaxHops,
			FusionMethod:        service.FusionMethod(cfg.settings.Fusion.Method),
			VectorWeight:        cfg.settings.Fusion.VectorWeight,
			SparseWeight:        cfg.settings.Fusion.SparseWeight,
			GraphWeight:         cfg.settings.Fusion.GraphWeight,
			RRFK:                cfg.settings.Fusion.RRFK,
			FinalK:              cfg.settings.Fusion.FinalK,
			MaxPerFile:          cfg.settings.Fusion.MaxPerFile,
			SparseTokenizer:     cfg.settings.SparseSearch.Tokenizer,
		},
		logger,
	)

	// The learning loop and promote gate.
	events, err := eventlog.Open(filepath.Join(dataDir, "events", "usage.log"))
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}
	miner := service.NewTripletMiner(events, &tripletChunkResolver{chunks: chunkStore}, logger)
	learningCfg := service.DefaultLearningConfig()
	learningCfg.RunsDir = filepath.Join(dataDir, "runs")
	if cfg.learningInterval > 0 {
		learningCfg.Interval = cfg.learningInterval
	}
	learning, err := service.NewLearning(miner, cfg.trainer, learningCfg, logger)
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}
	promoter := service.NewPromoter(service.PromoteConfig{
		AdaptersDir: filepath.Join(dataDir, "adapters"),
		Epsilon:     0.01,
	}, logger)

	// Task queue and worker.
	taskStore := persistence.NewTaskStore(db)
	statusStore := persistence.NewStatusStore(db)
	trackers := tracking.NewFactory(statusStore, logger)
	queue := service.NewQueue(taskStore, logger)
	registry := service.NewRegistry()
	worker := service.NewWorker(taskStore, registry, workerTrackers{inner: trackers}, logger)
	if cfg.workerPollPeriod > 0 {
		worker = worker.WithPollPeriod(cfg.workerPollPeriod)
	}

	c := &Client{
		Search:         retrieval,
		Tasks:          queue,
		Events:         events,
		Learning:       learning,
		Promoter:       promoter,
		indexer:        indexer,
		manifests:      manifestStore,
		chunks:         chunkStore,
		graphs:         graphStore,
		db:             db,
		worker:         worker,
		registry:       registry,
		trackers:       trackers,
		neo4jStore:     neo4jStore,
		learnedRerank:  learnedRerank,
		hugotEmbedding: hugotEmbedding,
		closers:        cfg.closers,
		logger:         logger,
		dataDir:        dataDir,
		settings:       cfg.settings,
	}

	c.periodicSync = service.NewPeriodicSync(manifestStore, queue, cfg.periodicSync, logger)

	c.registerHandlers()
	worker.Start(ctx)
	c.periodicSync.Start(ctx)

	if cfg.learningInterval > 0 && cfg.trainer != nil {
		learnCtx, cancel := context.WithCancel(ctx)
		c.learnCancel = cancel
		go learning.Run(learnCtx)
	}

	logger.Info("tribridrag client ready",
		slog.String("data_dir", dataDir),
		slog.String("reranker_mode", cfg.settings.Reranker.Mode),
	)
	return c, nil
}

// BuildCorpus queues a build for the corpus rooted at root. The build
// runs on the background worker; use BuildCorpusSync to block.
func (c *Client) BuildCorpus(ctx context.Context, corpusID, root string, force bool) error {
	if c.closed.Load() {
		return service.ErrClientClosed
	}
	op := task.OperationBuildCorpus
	if force {
		op = task.OperationRebuildCorpus
	}
	return c.Tasks.Enqueue(ctx, task.NewTask(op, int(task.PriorityUserInitiated), map[string]any{
		"corpus_id": corpusID,
		"root":      root,
		"force":     force,
	}))
}

// BuildCorpusSync runs a build in the calling goroutine, reporting
// progress through the callback (which may be nil).
func (c *Client) BuildCorpusSync(ctx context.Context, corpusID, root string, force bool, progress service.ProgressFunc) error {
	if c.closed.Load() {
		return service.ErrClientClosed
	}
	return c.indexer.Build(ctx, service.BuildRequest{CorpusID: corpusID, Root: root, Force: force}, progress)
}

// DeleteCorpus removes a corpus's chunks, graph, and manifest. Pending
// tasks naming the corpus are drained first.
func (c *Client) DeleteCorpus(ctx context.Context, corpusID string) error {
	if c.closed.Load() {
		return service.ErrClientClosed
	}
	if _, err := c.Tasks.DrainForCorpus(ctx, corpusID); err != nil {
		return err
	}
	chunks, err := c.chunks.ListByCorpus(ctx, corpusID)
	if err != nil {
		return err
	}
	files := make(map[string]bool)
	ids := make([]string, len(chunks))
	for i, ch := range chunks {
		ids[i] = ch.ID()
		files[ch.FilePath()] = true
	}
	if err := c.chunks.Delete(ctx, corpusID, ids); err != nil {
		return err
	}
	for path := range files {
		if err := c.graphs.DeleteByFile(ctx, corpusID, path); err != nil {
			return err
		}
	}
	return c.manifests.Delete(ctx, corpusID)
}

// PromoteAdapter queues the explicit promote step for a training run.
func (c *Client) PromoteAdapter(ctx context.Context, runID, adapterName string) error {
	if c.closed.Load() {
		return service.ErrClientClosed
	}
	return c.Tasks.Enqueue(ctx, task.NewTask(task.OperationPromoteAdapter, int(task.PriorityUserInitiated), map[string]any{
		"run_id":  runID,
		"adapter": adapterName,
	}))
}

// Close stops the worker and learning loop and releases every resource.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return service.ErrClientClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.learnCancel != nil {
		c.learnCancel()
	}
	c.periodicSync.Stop()
	c.worker.Stop()

	if c.learnedRerank != nil {
		if err := c.learnedRerank.Close(); err != nil {
			c.logger.Error("failed to close learned reranker", slog.Any("error", err))
		}
	}
	if c.neo4jStore != nil {
		if err := c.neo4jStore.Close(context.Background()); err != nil {
			c.logger.Error("failed to close neo4j store", slog.Any("error", err))
		}
	}
	if c.hugotEmbedding != nil {
		if err := c.hugotEmbedding.Close(); err != nil {
			c.logger.Error("failed to close hugot embedding", slog.Any("error", err))
		}
	}
	for _, closer := range c.closers {
		if err := closer.Close(); err != nil {
			c.logger.Error("failed to close resource", slog.Any("error", err))
		}
	}

	if err := c.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}

	c.logger.Info("tribridrag client closed")
	return nil
}

// Logger returns the client's logger.
func (c *Client) Logger() *slog.Logger {
	return c.logger
}

// providerEmbedAdapter narrows a provider.Embedder to the plain
// texts-in/vectors-out shape the caching layer batches over.
type providerEmbedAdapter struct {
	inner provider.Embedder
}

func (a *providerEmbedAdapter) Embed(ctx context.Context, req provider.EmbeddingRequest) (provider.EmbeddingResponse, error) {
	return a.inner.Embed(ctx, req)
}

// tripletChunkResolver adapts the chunk store to the miner's existence
// check.
type tripletChunkResolver struct {
	chunks *persistence.ChunkStore
}

func (r *tripletChunkResolver) Get(ctx context.Context, corpusID string, chunkIDs []string) ([]chunk.Chunk, error) {
	return r.chunks.Get(ctx, corpusID, chunkIDs)
}

// workerTrackers adapts the tracking factory's concrete return type to
// the worker's interface.
type workerTrackers struct {
	inner *tracking.Factory
}

func (w workerTrackers) ForOperation(operation task.Operation, trackableType task.TrackableType, trackableKey string) service.WorkerTracker {
	return w.inner.ForOperation(operation, trackableType, trackableKey)
}

// handlerTrackers adapts the same factory to the handlers' interface.
type handlerTrackers struct {
	inner *tracking.Factory
}

func (h handlerTrackers) ForOperation(operation task.Operation, trackableType task.TrackableType, trackableKey string) handler.Tracker {
	return h.inner.ForOperation(operation, trackableType, trackableKey)
}

// buildDatabaseURL derives the connection URL from the configured backend.
func buildDatabaseURL(cfg *clientConfig) (string, error) {
	switch cfg.database {
	case databaseSQLite:
		if cfg.dbPath == "" {
			return "", fmt.Errorf("sqlite path is empty")
		}
		return "sqlite:///" + cfg.dbPath, nil
	case databasePostgresVectorchord:
		if cfg.dbDSN == "" {
			return "", fmt.Errorf("postgres dsn is empty")
		}
		if !strings.HasPrefix(cfg.dbDSN, "postgres://") && !strings.HasPrefix(cfg.dbDSN, "postgresql://") {
			return "", fmt.Errorf("postgres dsn must start with postgres:// or postgresql://")
		}
		return vectorchordDSN(cfg.dbDSN)
	case databasePostgresPgvector:
		if cfg.dbDSN == "" {
			return "", fmt.Errorf("postgres dsn is empty")
		}
		return cfg.dbDSN, nil
	default:
		return "", ErrNoDatabase
	}
}

// vectorchordDSN ensures the connection's search_path includes the
// VectorChord BM25 catalogs, without overriding a user-provided
// search_path (including one smuggled through the options parameter).
func vectorchordDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse postgres dsn: %w", err)
	}
	q := u.Query()
	if q.Get("search_path") != "" {
		return dsn, nil
	}
	if strings.Contains(q.Get("options"), "search_path") {
		return dsn, nil
	}
	q.Set("search_path", "public,bm25_catalog,tokenizer_catalog")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// buildSearchStores creates the embedding and BM25 stores for the
// configured backend.
func buildSearchStores(ctx context.Context, cfg *clientConfig, db database.Database, logger *slog.Logger) (search.EmbeddingStore, search.BM25Store, error) {
	switch cfg.database {
	case databaseSQLite:
		bm25Store, err := persistence.NewSQLiteBM25Store(db, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("bm25 store: %w", err)
		}
		embeddingStore, err := persistence.NewSQLiteEmbeddingStore(db, persistence.TaskNameCode, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("embedding store: %w", err)
		}
		return embeddingStore, bm25Store, nil
	case databasePostgresVectorchord:
		bm25Store, err := persistence.NewVectorChordBM25Store(db, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("bm25 store: %w", err)
		}
		embeddingStore, err := persistence.NewVectorChordEmbeddingStore(ctx, db, persistence.TaskNameCode, cfg.settings.Embedding.Dimension, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("embedding store: %w", err)
		}
		return embeddingStore, bm25Store, nil
	case databasePostgresPgvector:
		bm25Store := infrasearch.NewPostgresBM25Store(db.GORM(), logger)
		embeddingStore, err := persistence.NewPgvectorEmbeddingStore(ctx, db, persistence.TaskNameCode, cfg.settings.Embedding.Dimension, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("embedding store: %w", err)
		}
		return embeddingStore, bm25Store, nil
	default:
		return nil, nil, ErrNoDatabase
	}
}

// buildReranker assembles the configured reranker mode. The returned
// Learned handle (when mode is learned) is closed with the client.
func buildReranker(cfg *clientConfig, dataDir string, chunks *persistence.ChunkStore, logger *slog.Logger) (service.Reranker, *rerank.Learned, error) {
	rcfg := rerank.Config{
		Mode:            rerank.Mode(cfg.settings.Reranker.Mode),
		TopN:            cfg.settings.Reranker.TopN,
		BatchSize:       cfg.settings.Reranker.BatchSize,
		MaxLength:       cfg.settings.Reranker.MaxLength,
		LocalModel:      cfg.settings.Reranker.LocalModel,
		AdapterPath:     cfg.settings.Reranker.AdapterPath,
		ReloadPeriodSec: cfg.settings.Reranker.ReloadPeriodSec,
		UnloadAfterSec:  cfg.settings.Reranker.UnloadAfterSec,
		CloudEndpoint:   cfg.settings.Reranker.CloudProvider,
		CloudModel:      cfg.settings.Reranker.CloudModel,
		TimeoutSec:      int(cfg.settings.Reranker.Timeout / time.Second),
	}
	resolver := chunkDocumentResolver(chunks)

	switch rcfg.Mode {
	case rerank.ModeNone:
		return rerank.NewNone(rcfg.TopN), nil, nil
	case rerank.ModeLocal:
		scorer := rerank.NewHugotCrossEncoder(rcfg.LocalModel, "")
		return rerank.NewLocal(scorer, resolver, rcfg), nil, nil
	case rerank.ModeLearned:
		if rcfg.AdapterPath == "" {
			rcfg.AdapterPath = filepath.Join(dataDir, "adapters", "default", "weights")
		}
		learned, err := rerank.NewLearned(rerank.HugotModelLoader{}, resolver, rcfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("learned reranker: %w", err)
		}
		return learned, learned, nil
	case rerank.ModeCloud:
		return rerank.NewCloud(resolver, cfg.cloudRerankKey, rcfg), nil, nil
	default:
		return nil, nil, errkind.New(errkind.ConfigError, "unknown reranker mode "+string(rcfg.Mode))
	}
}

// chunkDocumentResolver maps fused matches back to the text the
// cross-encoder scores. Community virtual matches carry their summary in
// metadata and never hit the store.
func chunkDocumentResolver(chunks *persistence.ChunkStore) rerank.DocumentResolver {
	return func(ctx context.Context, matches []chunk.Match) ([]string, error) {
		documents := make([]string, len(matches))
		var lookupIDs []string
		lookupSlots := make(map[string][]int)
		for i, m := range matches {
			if strings.HasPrefix(m.ChunkID(), "community:") {
				if summary, ok := m.Metadata()["summary"].(string); ok {
					documents[i] = summary
				}
				continue
			}
			if len(lookupSlots[m.ChunkID()]) == 0 {
				lookupIDs = append(lookupIDs, m.ChunkID())
			}
			lookupSlots[m.ChunkID()] = append(lookupSlots[m.ChunkID()], i)
		}
		if len(lookupIDs) == 0 {
			return documents, nil
		}
		// Chunk ids carry their corpus in the hash, so the lookup can
		// span corpora safely.
		resolved, err := chunks.Get(ctx, "", lookupIDs)
		if err != nil {
			return nil, err
		}
		for _, ch := range resolved {
			for _, slot := range lookupSlots[ch.ID()] {
				documents[slot] = ch.Content()
			}
		}
		return documents, nil
	}
}
