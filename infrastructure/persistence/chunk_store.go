package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tribridrag/tribridrag/domain/chunk"
	"github.com/tribridrag/tribridrag/domain/queryopt"
	"github.com/tribridrag/tribridrag/domain/search"
	"github.com/tribridrag/tribridrag/internal/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChunkModel is the GORM model backing the chunks table.
type ChunkModel struct {
	ChunkID     string `gorm:"column:chunk_id;primaryKey"`
	CorpusID    string `gorm:"column:corpus_id;index"`
	FilePath    string `gorm:"column:file_path;index"`
	StartLine   int    `gorm:"column:start_line"`
	EndLine     int    `gorm:"column:end_line"`
	Language    string `gorm:"column:language"`
	Content     string `gorm:"column:content"`
	TokenCount  int    `gorm:"column:token_count"`
	ContentHash string `gorm:"column:content_hash"`
	Ordinal     int    `gorm:"column:ordinal"`
	Summary     string `gorm:"column:summary"`
}

// TableName implements the GORM table name convention.
func (ChunkModel) TableName() string { return "chunks" }

// ChunkMapper maps between chunk.Chunk and ChunkModel. Embeddings travel
// separately through the embedding store — the chunk row never carries
// the vector.
type ChunkMapper struct{}

// ToDomain converts a model to a domain chunk.
func (ChunkMapper) ToDomain(m ChunkModel) chunk.Chunk {
	return chunk.Reconstruct(
		m.ChunkID, m.CorpusID, m.FilePath, m.StartLine, m.EndLine,
		m.Language, m.Content, m.TokenCount, m.ContentHash, m.Ordinal,
		nil, m.Summary,
	)
}

// ToModel converts a domain chunk to a model.
func (ChunkMapper) ToModel(c chunk.Chunk) ChunkModel {
	return ChunkModel{
		ChunkID:     c.ID(),
		CorpusID:    c.CorpusID(),
		FilePath:    c.FilePath(),
		StartLine:   c.StartLine(),
		EndLine:     c.EndLine(),
		Language:    c.Language(),
		Content:     c.Content(),
		TokenCount:  c.TokenCount(),
		ContentHash: c.ContentHash(),
		Ordinal:     c.Ordinal(),
		Summary:     c.Summary(),
	}
}

// ChunkStore implements chunk.Store over the relational chunks table,
// delegating vector search to an EmbeddingStore and full-text search to
// a BM25Store over the same corpus.
type ChunkStore struct {
	db         database.Database
	mapper     ChunkMapper
	embeddings search.EmbeddingStore
	bm25       search.BM25Store
	logger     *slog.Logger
}

// NewChunkStore creates a ChunkStore. embeddings and bm25 may be nil for
// corpora that disable the corresponding modality.
func NewChunkStore(db database.Database, embeddings search.EmbeddingStore, bm25 search.BM25Store, logger *slog.Logger) *ChunkStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChunkStore{
		db:         db,
		mapper:     ChunkMapper{},
		embeddings: embeddings,
		bm25:       bm25,
		logger:     logger,
	}
}

// Upsert writes chunk rows and their embeddings and lexical documents.
// Rows are keyed by chunk_id, so re-writing an unchanged chunk is a
// no-op rewrite of identical data.
func (s *ChunkStore) Upsert(ctx context.Context, corpusID string, chunks []chunk.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	models := make([]ChunkModel, len(chunks))
	var embeddings []search.Embedding
	documents := make([]search.Document, 0, len(chunks))
	for i, c := range chunks {
		models[i] = s.mapper.ToModel(c)
		if c.HasEmbedding() {
			embeddings = append(embeddings, search.NewEmbedding(c.ID(), c.Embedding()))
		}
		documents = append(documents, search.NewDocument(c.ID(), c.Content()))
	}

	err := s.db.Session(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chunk_id"}},
		UpdateAll: true,
	}).Create(&models).Error
	if err != nil {
		return fmt.Errorf("upsert chunks: %w", err)
	}

	if s.embeddings != nil && len(embeddings) > 0 {
		if err := s.embeddings.SaveAll(ctx, embeddings); err != nil {
			return fmt.Errorf("save chunk embeddings: %w", err)
		}
	}
	if s.bm25 != nil {
		if err := s.bm25.Index(ctx, search.NewIndexRequest(documents)); err != nil {
			return fmt.Errorf("index chunk text: %w", err)
		}
	}
	return nil
}

// Delete removes chunks and their index entries.
func (s *ChunkStore) Delete(ctx context.Context, corpusID string, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	err := s.db.Session(ctx).
		Where("corpus_id = ?", corpusID).
		Where("chunk_id IN ?", chunkIDs).
		Delete(&ChunkModel{}).Error
	if err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if s.embeddings != nil {
		if err := s.embeddings.DeleteBy(ctx, queryopt.WithChunkIDIn(chunkIDs)); err != nil {
			return fmt.Errorf("delete chunk embeddings: %w", err)
		}
	}
	if s.bm25 != nil {
		if err := s.bm25.DeleteBy(ctx, queryopt.WithChunkIDIn(chunkIDs)); err != nil {
			return fmt.Errorf("delete chunk documents: %w", err)
		}
	}
	return nil
}

// Get resolves chunk ids to full chunks, preserving request order where
// possible. Missing ids are silently absent from the result. An empty
// corpusID resolves across corpora — chunk ids are content-addressed
// with the corpus baked in, so they never collide.
func (s *ChunkStore) Get(ctx context.Context, corpusID string, chunkIDs []string) ([]chunk.Chunk, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	db := s.db.Session(ctx)
	if corpusID != "" {
		db = db.Where("corpus_id = ?", corpusID)
	}
	var models []ChunkModel
	err := db.Where("chunk_id IN ?", chunkIDs).Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}

	byID := make(map[string]chunk.Chunk, len(models))
	for _, m := range models {
		byID[m.ChunkID] = s.mapper.ToDomain(m)
	}
	out := make([]chunk.Chunk, 0, len(models))
	for _, id := range chunkIDs {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// ListByCorpus returns every chunk row for a corpus, optionally filtered.
// Used by the indexer's delta computation and the graph builder.
func (s *ChunkStore) ListByCorpus(ctx context.Context, corpusID string, opts ...queryopt.Option) ([]chunk.Chunk, error) {
	db := s.db.Session(ctx).Where("corpus_id = ?", corpusID)
	db = database.ApplyOptions(db, opts...)
	var models []ChunkModel
	if err := db.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	out := make([]chunk.Chunk, len(models))
	for i, m := range models {
		out[i] = s.mapper.ToDomain(m)
	}
	return out, nil
}

// DeleteByFile removes every chunk of one file, with index entries.
// Used when a build observes the file missing.
func (s *ChunkStore) DeleteByFile(ctx context.Context, corpusID, filePath string) error {
	var models []ChunkModel
	err := s.db.Session(ctx).
		Select("chunk_id").
		Where("corpus_id = ?", corpusID).
		Where("file_path = ?", filePath).
		Find(&models).Error
	if err != nil {
		return fmt.Errorf("find file chunks: %w", err)
	}
	ids := make([]string, len(models))
	for i, m := range models {
		ids[i] = m.ChunkID
	}
	return s.Delete(ctx, corpusID, ids)
}

// VectorSearch runs approximate nearest-neighbour search over the
// corpus's embeddings and returns matches ranked by cosine similarity.
func (s *ChunkStore) VectorSearch(ctx context.Context, corpusID string, embedding []float64, topK int, opts ...queryopt.Option) ([]chunk.Match, error) {
	if s.embeddings == nil {
		return nil, nil
	}
	// The embedding table carries only chunk_id; corpus scoping travels
	// as a filter the store resolves through the chunks table.
	options := append([]queryopt.Option{
		search.WithEmbedding(embedding),
		search.WithFilters(search.NewFilters(search.WithCorpusIDFilter(corpusID))),
		queryopt.WithLimit(topK),
	}, opts...)
	results, err := s.embeddings.Search(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return resultsToMatches(results, chunk.SourceVector), nil
}

// FTSSearch runs BM25 full-text search over the corpus's chunk text.
func (s *ChunkStore) FTSSearch(ctx context.Context, corpusID string, text string, topK int, opts ...queryopt.Option) ([]chunk.Match, error) {
	if s.bm25 == nil {
		return nil, nil
	}
	options := append([]queryopt.Option{
		search.WithQuery(text),
		search.WithFilters(search.NewFilters(search.WithCorpusIDFilter(corpusID))),
		queryopt.WithLimit(topK),
	}, opts...)
	results, err := s.bm25.Find(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	return resultsToMatches(results, chunk.SourceSparse), nil
}

// Stats summarizes the corpus's chunk store.
func (s *ChunkStore) Stats(ctx context.Context, corpusID string) (chunk.Stats, error) {
	var count int64
	err := s.db.Session(ctx).Model(&ChunkModel{}).
		Where("corpus_id = ?", corpusID).
		Count(&count).Error
	if err != nil {
		return chunk.Stats{}, fmt.Errorf("count chunks: %w", err)
	}

	stats := chunk.Stats{ChunkCount: int(count)}
	if s.embeddings != nil {
		embedded, err := s.countEmbedded(ctx, corpusID)
		if err != nil {
			return chunk.Stats{}, err
		}
		stats.EmbeddedCount = embedded
	}
	return stats, nil
}

func (s *ChunkStore) countEmbedded(ctx context.Context, corpusID string) (int, error) {
	embeddings, err := s.embeddings.Find(ctx,
		queryopt.WithWhere("chunk_id IN (SELECT chunk_id FROM chunks WHERE corpus_id = ?)", corpusID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("count embedded chunks: %w", err)
	}
	return len(embeddings), nil
}

func resultsToMatches(results []search.Result, source chunk.Source) []chunk.Match {
	matches := make([]chunk.Match, len(results))
	for i, r := range results {
		matches[i] = chunk.NewMatch(r.ChunkID(), r.Score(), source, i+1, nil)
	}
	return matches
}

var _ chunk.Store = (*ChunkStore)(nil)
