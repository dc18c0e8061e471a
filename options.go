package tribridrag

import (
	"io"
	"log/slog"
	"time"

	"github.com/tribridrag/tribridrag/application/service"
	"github.com/tribridrag/tribridrag/infrastructure/provider"
	"github.com/tribridrag/tribridrag/internal/config"
)

// databaseType identifies the database backend.
type databaseType int

const (
	databaseUnset databaseType = iota
	databaseSQLite
	databasePostgresVectorchord
	databasePostgresPgvector
)

// neo4jConfig holds graph store connection settings.
type neo4jConfig struct {
	uri      string
	username string
	password string
	database string
}

// clientConfig holds configuration for Client construction.
// Use newClientConfig() to create with defaults from internal/config.
type clientConfig struct {
	database          databaseType
	dbPath            string
	dbDSN             string
	dataDir           string
	modelDir          string
	settings          config.RetrievalSettings
	chatProvider      provider.TextGenerator
	embeddingProvider provider.Embedder
	trainer           service.Trainer
	neo4j             *neo4jConfig
	cloudRerankKey    string
	logger            *slog.Logger
	workerCount       int
	workerPollPeriod  time.Duration
	learningInterval  time.Duration
	periodicSync      config.PeriodicSyncConfig
	closers           []io.Closer
}

// newClientConfig creates a clientConfig with defaults from internal/config.
// This ensures all defaults come from the single source of truth.
func newClientConfig() *clientConfig {
	return &clientConfig{
		dataDir:      config.DefaultDataDir(),
		settings:     config.NewRetrievalSettings(),
		workerCount:  config.DefaultWorkerCount,
		periodicSync: config.NewPeriodicSyncConfig(),
	}
}

// Option configures the Client.
type Option func(*clientConfig)

// WithSQLite stores chunks, embeddings, and the task queue in a SQLite
// database at the given path.
func WithSQLite(path string) Option {
	return func(c *clientConfig) {
		c.database = databaseSQLite
		c.dbPath = path
	}
}

// WithPostgres stores chunks, embeddings, and the task queue in a
// PostgreSQL database with the VectorChord extension.
func WithPostgres(dsn string) Option {
	return func(c *clientConfig) {
		c.database = databasePostgresVectorchord
		c.dbDSN = dsn
	}
}

// WithPostgresPgvector uses a plain PostgreSQL database with pgvector
// for the vector index and native tsvector full-text search for the
// lexical index, for deployments without the VectorChord extension.
func WithPostgresPgvector(dsn string) Option {
	return func(c *clientConfig) {
		c.database = databasePostgresPgvector
		c.dbDSN = dsn
	}
}

// WithDataDir sets the directory for manifests, adapters, the usage
// event log, and the embedding cache.
func WithDataDir(dir string) Option {
	return func(c *clientConfig) { c.dataDir = dir }
}

// WithModelDir sets where local ONNX models live.
func WithModelDir(dir string) Option {
	return func(c *clientConfig) { c.modelDir = dir }
}

// WithRetrievalSettings replaces the full retrieval and ingest settings.
// The settings are validated during New.
func WithRetrievalSettings(settings config.RetrievalSettings) Option {
	return func(c *clientConfig) { c.settings = settings }
}

// WithOpenAI uses OpenAI for embeddings and chat completions.
func WithOpenAI(apiKey string, opts ...provider.OpenAIOption) Option {
	return func(c *clientConfig) {
		p := provider.NewOpenAIProvider(apiKey, opts...)
		c.embeddingProvider = p
		if c.chatProvider == nil {
			c.chatProvider = p
		}
	}
}

// WithAnthropic uses Anthropic for the chat model (semantic entity
// extraction and community summaries).
func WithAnthropic(apiKey string, opts ...provider.AnthropicOption) Option {
	return func(c *clientConfig) {
		c.chatProvider = provider.NewAnthropicProvider(apiKey, opts...)
	}
}

// WithEmbeddingProvider injects a custom embedding provider.
func WithEmbeddingProvider(p provider.Embedder) Option {
	return func(c *clientConfig) { c.embeddingProvider = p }
}

// WithChatModel injects a custom chat model.
func WithChatModel(p provider.TextGenerator) Option {
	return func(c *clientConfig) { c.chatProvider = p }
}

// WithNeo4j backs the graph store with a neo4j database instead of the
// in-process store.
func WithNeo4j(uri, username, password, database string) Option {
	return func(c *clientConfig) {
		c.neo4j = &neo4jConfig{uri: uri, username: username, password: password, database: database}
	}
}

// WithCloudRerankerAPIKey sets the bearer token for cloud reranker mode.
func WithCloudRerankerAPIKey(key string) Option {
	return func(c *clientConfig) { c.cloudRerankKey = key }
}

// WithTrainer injects the adapter training runtime for the learning loop.
func WithTrainer(t service.Trainer) Option {
	return func(c *clientConfig) { c.trainer = t }
}

// WithPeriodicSync configures automatic incremental re-indexing of
// every known corpus on an interval.
func WithPeriodicSync(cfg config.PeriodicSyncConfig) Option {
	return func(c *clientConfig) { c.periodicSync = cfg }
}

// WithLearningInterval sets how often the background learning loop runs.
// Zero disables the background loop; RunLearningOnce still works.
func WithLearningInterval(d time.Duration) Option {
	return func(c *clientConfig) { c.learningInterval = d }
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *clientConfig) { c.logger = logger }
}

// WithWorkerCount sets how many background workers process the task queue.
func WithWorkerCount(n int) Option {
	return func(c *clientConfig) {
		if n > 0 {
			c.workerCount = n
		}
	}
}

// WithWorkerPollPeriod sets the worker's queue poll period.
func WithWorkerPollPeriod(d time.Duration) Option {
	return func(c *clientConfig) { c.workerPollPeriod = d }
}

// WithCloser registers a resource to close with the client.
func WithCloser(closer io.Closer) Option {
	return func(c *clientConfig) { c.closers = append(c.closers, closer) }
}
