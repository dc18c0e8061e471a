// Package manifest provides the per-corpus Manifest value type: the
// cross-cutting record binding the chunk store, the graph store, and the
// active reranker adapter together, and the home of the dimension-lock
// invariant.
package manifest

import "time"

// BuildStatus enumerates the manifest's build state machine.
type BuildStatus string

const (
	BuildIdle     BuildStatus = "idle"
	BuildBuilding BuildStatus = "building"
	BuildComplete BuildStatus = "complete"
	BuildError    BuildStatus = "error"
)

// ChunkerSettings is a point-in-time snapshot of the chunker config used
// for the most recent build, persisted with the manifest. Builds do not
// compare it with the current chunker config.
type ChunkerSettings struct {
	Strategy        string `json:"strategy"`
	ChunkSize       int    `json:"chunk_size"`
	ChunkOverlap    int    `json:"chunk_overlap"`
	MinChunkChars   int    `json:"min_chunk_chars"`
	MaxChunkTokens  int    `json:"max_chunk_tokens"`
	AstOverlapLines int    `json:"ast_overlap_lines"`
	PreserveImports bool   `json:"preserve_imports"`
}

// Manifest is the one-per-corpus_id record of how a corpus was built.
type Manifest struct {
	CorpusID                string          `json:"corpus_id"`
	EmbeddingProvider       string          `json:"embedding_provider"`
	EmbeddingModel          string          `json:"embedding_model"`
	EmbeddingDimension      int             `json:"embedding_dimension"`
	SparseTokenizer         string          `json:"sparse_tokenizer"`
	Chunker                 ChunkerSettings `json:"chunker"`
	LastBuiltAt             time.Time       `json:"last_built_at"`
	BuildStatus             BuildStatus     `json:"build_status"`
	BuildError              string          `json:"build_error,omitempty"`
	TripletCountAtLastTrain int             `json:"triplet_count_at_last_train"`
	ActiveAdapter           string          `json:"active_adapter,omitempty"`
	// FileHashes records each indexed file's content hash, the basis of
	// the per-file delta on incremental rebuilds.
	FileHashes map[string]string `json:"file_hashes,omitempty"`
	// Root is the corpus root path the last build indexed, recorded so
	// periodic re-indexing can rebuild without the caller restating it.
	Root string `json:"root,omitempty"`
}

// New creates a fresh idle manifest for a corpus about to be built for the
// first time.
func New(corpusID, embeddingProvider, embeddingModel string, embeddingDimension int, sparseTokenizer string, chunker ChunkerSettings) Manifest {
	return Manifest{
		CorpusID:           corpusID,
		EmbeddingProvider:  embeddingProvider,
		EmbeddingModel:     embeddingModel,
		EmbeddingDimension: embeddingDimension,
		SparseTokenizer:    sparseTokenizer,
		Chunker:            chunker,
		BuildStatus:        BuildIdle,
	}
}

// WithBuilding returns a copy transitioning to the building state.
func (m Manifest) WithBuilding() Manifest {
	m.BuildStatus = BuildBuilding
	m.BuildError = ""
	return m
}

// WithComplete returns a copy transitioning to complete, stamping
// last_built_at.
func (m Manifest) WithComplete(at time.Time) Manifest {
	m.BuildStatus = BuildComplete
	m.BuildError = ""
	m.LastBuiltAt = at
	return m
}

// WithError returns a copy transitioning to the error state, leaving all
// other fields (in particular LastBuiltAt) at their last-complete values —
// a failed build must not clobber prior good state.
func (m Manifest) WithError(reason string) Manifest {
	m.BuildStatus = BuildError
	m.BuildError = reason
	return m
}

// WithRoot returns a copy recording the corpus root path.
func (m Manifest) WithRoot(root string) Manifest {
	m.Root = root
	return m
}

// WithFileHashes returns a copy carrying the indexed files' content
// hashes. The map is copied; the manifest never aliases caller state.
func (m Manifest) WithFileHashes(hashes map[string]string) Manifest {
	cp := make(map[string]string, len(hashes))
	for k, v := range hashes {
		cp[k] = v
	}
	m.FileHashes = cp
	return m
}

// WithActiveAdapter returns a copy with a new active reranker adapter
// pointer, set atomically by a successful promote.
func (m Manifest) WithActiveAdapter(name string) Manifest {
	m.ActiveAdapter = name
	return m
}

// WithTripletCount returns a copy recording the triplet count the most
// recent promoted (or attempted) training run was evaluated against.
func (m Manifest) WithTripletCount(n int) Manifest {
	m.TripletCountAtLastTrain = n
	return m
}

// CheckDimension enforces the dimension-lock invariant: a corpus built at
// dimension d may only be queried by an embedder configured at dimension d.
func (m Manifest) CheckDimension(queryDimension int) error {
	if m.EmbeddingDimension != queryDimension {
		return &MismatchError{
			CorpusID: m.CorpusID,
			Expected: m.EmbeddingDimension,
			Actual:   queryDimension,
		}
	}
	return nil
}

// CheckTokenizer enforces that a retriever agrees with the tokenizer the
// corpus was built with, per the tokenizer-lock design note: any
// disagreement is treated identically to a dimension mismatch.
func (m Manifest) CheckTokenizer(tokenizer string) error {
	if m.SparseTokenizer != "" && tokenizer != "" && m.SparseTokenizer != tokenizer {
		return &MismatchError{
			CorpusID: m.CorpusID,
			Reason:   "tokenizer",
			Expected: 0,
			Actual:   0,
			Detail:   m.SparseTokenizer + " != " + tokenizer,
		}
	}
	return nil
}

// MismatchError is the ManifestMismatch error kind: a query-time embedding
// dimension or tokenizer disagrees with the stored manifest. It is fatal
// for that query and must never be silently downgraded to a demotion.
type MismatchError struct {
	CorpusID string
	Reason   string
	Expected int
	Actual   int
	Detail   string
}

func (e *MismatchError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "embedding_dimension"
	}
	if e.Detail != "" {
		return "manifest mismatch for corpus " + e.CorpusID + ": " + reason + ": " + e.Detail
	}
	return "manifest mismatch for corpus " + e.CorpusID + ": " + reason
}
