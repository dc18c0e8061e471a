package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for the retrieval and ingest configuration.
const (
	DefaultTopKDense      = 20
	DefaultTopKSparse     = 20
	DefaultTopKGraph      = 20
	DefaultMaxHops        = 2
	DefaultRRFK           = 60.0
	DefaultFinalK         = 20
	DefaultTopK           = 10
	DefaultChunkSize      = 400
	DefaultChunkOverlap   = 50
	DefaultMinChunkChars  = 50
	DefaultMaxChunkTokens = 800
	DefaultASTOverlap     = 3
	DefaultRerankTopN     = 10
	DefaultRerankBatch    = 16
	DefaultRerankMaxLen   = 512
	DefaultReloadPeriod   = 10 * time.Second
	DefaultUnloadAfter    = 5 * time.Minute
	DefaultRerankTimeout  = 30 * time.Second
)

// EmbeddingConfig pins the embedding provider identity and batching.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider" envconfig:"EMBEDDING_PROVIDER" default:"openai"`
	Model     string `yaml:"model" envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	Dimension int    `yaml:"dimension" envconfig:"EMBEDDING_DIMENSION" default:"1536"`
	BatchSize int    `yaml:"batch_size" envconfig:"EMBEDDING_BATCH_SIZE" default:"32"`
}

// VectorSearchConfig tunes the dense retriever.
type VectorSearchConfig struct {
	Enabled             bool    `yaml:"enabled" envconfig:"VECTOR_SEARCH_ENABLED" default:"true"`
	TopKDense           int     `yaml:"topk_dense" envconfig:"VECTOR_SEARCH_TOPK" default:"20"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" envconfig:"VECTOR_SEARCH_SIMILARITY_THRESHOLD"`
}

// SparseSearchConfig tunes the lexical retriever.
type SparseSearchConfig struct {
	Enabled    bool    `yaml:"enabled" envconfig:"SPARSE_SEARCH_ENABLED" default:"true"`
	TopKSparse int     `yaml:"topk_sparse" envconfig:"SPARSE_SEARCH_TOPK" default:"20"`
	K1         float64 `yaml:"k1" envconfig:"SPARSE_SEARCH_K1" default:"1.2"`
	B          float64 `yaml:"b" envconfig:"SPARSE_SEARCH_B" default:"0.75"`
	Tokenizer  string  `yaml:"tokenizer" envconfig:"SPARSE_SEARCH_TOKENIZER" default:"porter"`
}

// GraphSearchConfig tunes the graph retriever.
type GraphSearchConfig struct {
	Enabled            bool `yaml:"enabled" envconfig:"GRAPH_SEARCH_ENABLED" default:"true"`
	MaxHops            int  `yaml:"max_hops" envconfig:"GRAPH_SEARCH_MAX_HOPS" default:"2"`
	TopKGraph          int  `yaml:"topk_graph" envconfig:"GRAPH_SEARCH_TOPK" default:"20"`
	IncludeCommunities bool `yaml:"include_communities" envconfig:"GRAPH_SEARCH_INCLUDE_COMMUNITIES"`
}

// FusionConfig tunes rank combination.
type FusionConfig struct {
	Method       string  `yaml:"method" envconfig:"FUSION_METHOD" default:"rrf"`
	VectorWeight float64 `yaml:"vector_weight" envconfig:"FUSION_VECTOR_WEIGHT" default:"1"`
	SparseWeight float64 `yaml:"sparse_weight" envconfig:"FUSION_SPARSE_WEIGHT" default:"1"`
	GraphWeight  float64 `yaml:"graph_weight" envconfig:"FUSION_GRAPH_WEIGHT" default:"1"`
	RRFK         float64 `yaml:"rrf_k" envconfig:"FUSION_RRF_K" default:"60"`
	FinalK       int     `yaml:"final_k" envconfig:"FUSION_FINAL_K" default:"20"`
	// MaxPerFile bounds how many fused results one file contributes;
	// zero disables the cap.
	MaxPerFile int `yaml:"max_per_file" envconfig:"FUSION_MAX_PER_FILE"`
}

// RerankerConfig tunes the cross-encoder reranker.
type RerankerConfig struct {
	Mode            string        `yaml:"mode" envconfig:"RERANKER_MODE" default:"none"`
	LocalModel      string        `yaml:"local_model" envconfig:"RERANKER_LOCAL_MODEL"`
	AdapterPath     string        `yaml:"adapter_path" envconfig:"RERANKER_ADAPTER_PATH"`
	CloudProvider   string        `yaml:"cloud_provider" envconfig:"RERANKER_CLOUD_PROVIDER"`
	CloudModel      string        `yaml:"cloud_model" envconfig:"RERANKER_CLOUD_MODEL"`
	TopN            int           `yaml:"top_n" envconfig:"RERANKER_TOP_N" default:"10"`
	BatchSize       int           `yaml:"batch_size" envconfig:"RERANKER_BATCH_SIZE" default:"16"`
	MaxLength       int           `yaml:"max_length" envconfig:"RERANKER_MAX_LENGTH" default:"512"`
	ReloadPeriodSec int           `yaml:"reload_period_sec" envconfig:"RERANKER_RELOAD_PERIOD_SEC" default:"10"`
	UnloadAfterSec  int           `yaml:"unload_after_sec" envconfig:"RERANKER_UNLOAD_AFTER_SEC" default:"300"`
	Timeout         time.Duration `yaml:"timeout" envconfig:"RERANKER_TIMEOUT" default:"30s"`
}

// ChunkerConfig tunes chunking for a build.
type ChunkerConfig struct {
	Strategy        string `yaml:"strategy" envconfig:"CHUNKER_STRATEGY" default:"hybrid"`
	ChunkSize       int    `yaml:"chunk_size" envconfig:"CHUNKER_CHUNK_SIZE" default:"400"`
	ChunkOverlap    int    `yaml:"chunk_overlap" envconfig:"CHUNKER_CHUNK_OVERLAP" default:"50"`
	MinChunkChars   int    `yaml:"min_chunk_chars" envconfig:"CHUNKER_MIN_CHUNK_CHARS" default:"50"`
	MaxChunkTokens  int    `yaml:"max_chunk_tokens" envconfig:"CHUNKER_MAX_CHUNK_TOKENS" default:"800"`
	ASTOverlapLines int    `yaml:"ast_overlap_lines" envconfig:"CHUNKER_AST_OVERLAP_LINES" default:"3"`
	PreserveImports bool   `yaml:"preserve_imports" envconfig:"CHUNKER_PRESERVE_IMPORTS" default:"true"`
}

// RetrievalSettings is the full validated retrieval and ingest shape.
// Invalid or partial settings are rejected eagerly at startup; there is
// no dynamic-mapping fallback.
type RetrievalSettings struct {
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	VectorSearch VectorSearchConfig `yaml:"vector_search"`
	SparseSearch SparseSearchConfig `yaml:"sparse_search"`
	GraphSearch  GraphSearchConfig  `yaml:"graph_search"`
	Fusion       FusionConfig       `yaml:"fusion"`
	Reranker     RerankerConfig     `yaml:"reranker"`
	Chunker      ChunkerConfig      `yaml:"chunker"`
}

// NewRetrievalSettings returns the defaults.
func NewRetrievalSettings() RetrievalSettings {
	return RetrievalSettings{
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			Dimension: 1536,
			BatchSize: 32,
		},
		VectorSearch: VectorSearchConfig{Enabled: true, TopKDense: DefaultTopKDense},
		SparseSearch: SparseSearchConfig{Enabled: true, TopKSparse: DefaultTopKSparse, K1: 1.2, B: 0.75, Tokenizer: "porter"},
		GraphSearch:  GraphSearchConfig{Enabled: true, MaxHops: DefaultMaxHops, TopKGraph: DefaultTopKGraph},
		Fusion: FusionConfig{
			Method: "rrf", VectorWeight: 1, SparseWeight: 1, GraphWeight: 1,
			RRFK: DefaultRRFK, FinalK: DefaultFinalK,
		},
		Reranker: RerankerConfig{
			Mode: "none", TopN: DefaultRerankTopN, BatchSize: DefaultRerankBatch,
			MaxLength: DefaultRerankMaxLen,
			ReloadPeriodSec: int(DefaultReloadPeriod / time.Second),
			UnloadAfterSec:  int(DefaultUnloadAfter / time.Second),
			Timeout:         DefaultRerankTimeout,
		},
		Chunker: ChunkerConfig{
			Strategy: "hybrid", ChunkSize: DefaultChunkSize, ChunkOverlap: DefaultChunkOverlap,
			MinChunkChars: DefaultMinChunkChars, MaxChunkTokens: DefaultMaxChunkTokens,
			ASTOverlapLines: DefaultASTOverlap, PreserveImports: true,
		},
	}
}

// LoadRetrievalSettings reads a YAML settings file over the defaults and
// validates the result. Unknown fields are rejected — a typo'd key must
// not silently fall back to a default.
func LoadRetrievalSettings(path string) (RetrievalSettings, error) {
	settings := NewRetrievalSettings()

	raw, err := os.ReadFile(path)
	if err != nil {
		return RetrievalSettings{}, fmt.Errorf("read settings file: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(&settings); err != nil {
		return RetrievalSettings{}, fmt.Errorf("parse settings file %s: %w", path, err)
	}
	if err := settings.Validate(); err != nil {
		return RetrievalSettings{}, fmt.Errorf("settings file %s: %w", path, err)
	}
	return settings, nil
}

// Validate rejects invalid or partial settings.
func (s RetrievalSettings) Validate() error {
	if s.Embedding.Provider == "" || s.Embedding.Model == "" {
		return fmt.Errorf("embedding provider and model are required")
	}
	if s.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", s.Embedding.Dimension)
	}
	if s.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding batch_size must be positive, got %d", s.Embedding.BatchSize)
	}

	if !s.VectorSearch.Enabled && !s.SparseSearch.Enabled && !s.GraphSearch.Enabled {
		return fmt.Errorf("at least one search modality must be enabled")
	}
	if s.VectorSearch.Enabled && s.VectorSearch.TopKDense <= 0 {
		return fmt.Errorf("vector_search.topk_dense must be positive")
	}
	if s.SparseSearch.Enabled {
		if s.SparseSearch.TopKSparse <= 0 {
			return fmt.Errorf("sparse_search.topk_sparse must be positive")
		}
		if s.SparseSearch.K1 <= 0 || s.SparseSearch.B < 0 || s.SparseSearch.B > 1 {
			return fmt.Errorf("sparse_search k1/b out of range: k1=%f b=%f", s.SparseSearch.K1, s.SparseSearch.B)
		}
		if s.SparseSearch.Tokenizer == "" {
			return fmt.Errorf("sparse_search.tokenizer is required")
		}
	}
	if s.GraphSearch.Enabled && (s.GraphSearch.MaxHops <= 0 || s.GraphSearch.TopKGraph <= 0) {
		return fmt.Errorf("graph_search max_hops and topk_graph must be positive")
	}

	switch s.Fusion.Method {
	case "rrf", "weighted":
	default:
		return fmt.Errorf("fusion.method must be rrf or weighted, got %q", s.Fusion.Method)
	}
	if s.Fusion.RRFK <= 0 {
		return fmt.Errorf("fusion.rrf_k must be positive")
	}
	if s.Fusion.FinalK <= 0 {
		return fmt.Errorf("fusion.final_k must be positive")
	}
	if s.Fusion.MaxPerFile < 0 {
		return fmt.Errorf("fusion.max_per_file must not be negative")
	}
	if s.Fusion.VectorWeight < 0 || s.Fusion.SparseWeight < 0 || s.Fusion.GraphWeight < 0 {
		return fmt.Errorf("fusion weights must be non-negative")
	}
	if s.Fusion.VectorWeight+s.Fusion.SparseWeight+s.Fusion.GraphWeight == 0 {
		return fmt.Errorf("fusion weights must not all be zero")
	}

	switch s.Reranker.Mode {
	case "none", "local", "learned", "cloud":
	default:
		return fmt.Errorf("reranker.mode must be one of none|local|learned|cloud, got %q", s.Reranker.Mode)
	}
	if s.Reranker.Mode == "local" || s.Reranker.Mode == "learned" {
		if s.Reranker.LocalModel == "" {
			return fmt.Errorf("reranker.local_model is required for mode %s", s.Reranker.Mode)
		}
	}
	if s.Reranker.Mode == "learned" && s.Reranker.AdapterPath == "" {
		return fmt.Errorf("reranker.adapter_path is required for learned mode")
	}
	if s.Reranker.Mode == "cloud" && s.Reranker.CloudProvider == "" {
		return fmt.Errorf("reranker.cloud_provider is required for cloud mode")
	}
	if s.Reranker.TopN <= 0 || s.Reranker.BatchSize <= 0 {
		return fmt.Errorf("reranker top_n and batch_size must be positive")
	}

	switch s.Chunker.Strategy {
	case "ast", "greedy", "hybrid":
	default:
		return fmt.Errorf("chunker.strategy must be ast, greedy, or hybrid, got %q", s.Chunker.Strategy)
	}
	if s.Chunker.ChunkSize <= 0 || s.Chunker.MaxChunkTokens <= 0 {
		return fmt.Errorf("chunker chunk_size and max_chunk_tokens must be positive")
	}
	if s.Chunker.ChunkOverlap < 0 || s.Chunker.ChunkOverlap >= s.Chunker.ChunkSize {
		return fmt.Errorf("chunker.chunk_overlap must be in [0, chunk_size)")
	}
	return nil
}
