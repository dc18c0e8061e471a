// Package chunk provides the content-addressed Chunk value type and its
// query-time counterpart Match.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
)

// Chunk is a contiguous region of one file within a corpus.
type Chunk struct {
	id          string
	corpusID    string
	filePath    string
	startLine   int
	endLine     int
	language    string
	content     string
	tokenCount  int
	contentHash string
	ordinal     int
	embedding   []float64
	summary     string
	truncated   bool
}

// New creates a Chunk, deriving its content-addressed id. language may
// be empty to represent "unset"; the summary starts empty (see WithSummary).
func New(corpusID, filePath string, startLine, endLine int, language, content string, tokenCount int) Chunk {
	hash := ContentHash(content)
	return Chunk{
		id:          ID(corpusID, filePath, startLine, endLine, hash),
		corpusID:    corpusID,
		filePath:    filePath,
		startLine:   startLine,
		endLine:     endLine,
		language:    language,
		content:     content,
		tokenCount:  tokenCount,
		contentHash: hash,
	}
}

// Reconstruct rebuilds a Chunk from persisted fields, bypassing id
// derivation (the stored id is authoritative; recomputing it here would
// hide a corrupted row instead of surfacing it at the store boundary).
func Reconstruct(id, corpusID, filePath string, startLine, endLine int, language, content string, tokenCount int, contentHash string, ordinal int, embedding []float64, summary string) Chunk {
	emb := make([]float64, len(embedding))
	copy(emb, embedding)
	return Chunk{
		id:          id,
		corpusID:    corpusID,
		filePath:    filePath,
		startLine:   startLine,
		endLine:     endLine,
		language:    language,
		content:     content,
		tokenCount:  tokenCount,
		contentHash: contentHash,
		ordinal:     ordinal,
		embedding:   emb,
		summary:     summary,
	}
}

// ID returns the stable chunk_id for the given coordinates: a hash of
// corpus_id ∥ file_path ∥ start_line ∥ end_line ∥ content_hash.
func ID(corpusID, filePath string, startLine, endLine int, contentHash string) string {
	h := sha256.New()
	h.Write([]byte(corpusID))
	h.Write([]byte{0})
	h.Write([]byte(filePath))
	h.Write([]byte{0})
	h.Write([]byte{byte(startLine), byte(startLine >> 8), byte(startLine >> 16), byte(startLine >> 24)})
	h.Write([]byte{0})
	h.Write([]byte{byte(endLine), byte(endLine >> 8), byte(endLine >> 16), byte(endLine >> 24)})
	h.Write([]byte{0})
	h.Write([]byte(contentHash))
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash returns the content-addressed hash used in chunk_id and the
// embedding cache key.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func (c Chunk) ID() string          { return c.id }
func (c Chunk) CorpusID() string    { return c.corpusID }
func (c Chunk) FilePath() string    { return c.filePath }
func (c Chunk) StartLine() int      { return c.startLine }
func (c Chunk) EndLine() int        { return c.endLine }
func (c Chunk) Language() string    { return c.language }
func (c Chunk) Content() string     { return c.content }
func (c Chunk) TokenCount() int     { return c.tokenCount }
func (c Chunk) ContentHash() string { return c.contentHash }
func (c Chunk) Ordinal() int        { return c.ordinal }
func (c Chunk) Summary() string     { return c.summary }

// Embedding returns a defensive copy of the chunk's embedding, or nil if
// the chunk has not been embedded yet.
func (c Chunk) Embedding() []float64 {
	if c.embedding == nil {
		return nil
	}
	out := make([]float64, len(c.embedding))
	copy(out, c.embedding)
	return out
}

// HasEmbedding reports whether the chunk carries an embedding.
func (c Chunk) HasEmbedding() bool { return c.embedding != nil }

// WithOrdinal returns a copy of the chunk with its position-within-file
// ordinal set, used for late-chunking neighbor expansion.
func (c Chunk) WithOrdinal(ordinal int) Chunk {
	c.ordinal = ordinal
	return c
}

// WithEmbedding returns a copy of the chunk carrying the given embedding.
// dimension is validated by the caller against the manifest, not here —
// Chunk is a value type and knows nothing about its corpus's manifest.
func (c Chunk) WithEmbedding(embedding []float64) Chunk {
	emb := make([]float64, len(embedding))
	copy(emb, embedding)
	c.embedding = emb
	return c
}

// WithSummary returns a copy of the chunk carrying a generated summary.
func (c Chunk) WithSummary(summary string) Chunk {
	c.summary = summary
	return c
}

// Truncated reports whether the chunker had to cut this chunk's content
// to fit the token budget after all splitting strategies were exhausted.
func (c Chunk) Truncated() bool { return c.truncated }

// WithTruncated returns a copy of the chunk flagged as truncated.
func (c Chunk) WithTruncated() Chunk {
	c.truncated = true
	return c
}
