package persistence

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tribridrag/tribridrag/domain/chunk"
)

func newChunkStoreForTest(t *testing.T) *ChunkStore {
	t.Helper()
	db := newTestDB(t)
	require.NoError(t, AutoMigrate(db))

	embeddings, err := NewSQLiteEmbeddingStore(db, TaskNameCode, slog.Default())
	require.NoError(t, err)
	bm25, err := NewSQLiteBM25Store(db, slog.Default())
	require.NoError(t, err)

	return NewChunkStore(db, embeddings, bm25, nil)
}

func testChunk(corpusID, path, content string) chunk.Chunk {
	c := chunk.New(corpusID, path, 1, 5, "python", content, 10)
	return c.WithEmbedding([]float64{1, 0, 0})
}

func TestChunkStore_UpsertAndGet(t *testing.T) {
	store := newChunkStoreForTest(t)
	ctx := context.Background()

	a := testChunk("corpus1", "a.py", "def login(): pass")
	b := testChunk("corpus1", "b.py", "def logout(): pass")
	require.NoError(t, store.Upsert(ctx, "corpus1", []chunk.Chunk{a, b}))

	got, err := store.Get(ctx, "corpus1", []string{a.ID(), b.ID(), "missing"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, a.ID(), got[0].ID())
	assert.Equal(t, "def login(): pass", got[0].Content())
	assert.Equal(t, "python", got[0].Language())

	stats, err := store.Stats(ctx, "corpus1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ChunkCount)
}

func TestChunkStore_UpsertIsIdempotent(t *testing.T) {
	store := newChunkStoreForTest(t)
	ctx := context.Background()

	a := testChunk("corpus1", "a.py", "def login(): pass")
	require.NoError(t, store.Upsert(ctx, "corpus1", []chunk.Chunk{a}))
	require.NoError(t, store.Upsert(ctx, "corpus1", []chunk.Chunk{a}))

	stats, err := store.Stats(ctx, "corpus1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ChunkCount)
}

func TestChunkStore_FTSSearchScopedToCorpus(t *testing.T) {
	store := newChunkStoreForTest(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "corpus1", []chunk.Chunk{
		testChunk("corpus1", "a.py", "def login(): authenticate the user"),
	}))
	require.NoError(t, store.Upsert(ctx, "corpus2", []chunk.Chunk{
		testChunk("corpus2", "other.py", "def login(): a different corpus entirely"),
	}))

	matches, err := store.FTSSearch(ctx, "corpus1", "login", 10)
	require.NoError(t, err)
	require.Len(t, matches, 1, "cross-corpus leak in FTS search")
	assert.Equal(t, chunk.SourceSparse, matches[0].Source())
	assert.Equal(t, 1, matches[0].RankWithinSource())
}

func TestChunkStore_DeleteByFile(t *testing.T) {
	store := newChunkStoreForTest(t)
	ctx := context.Background()

	a := testChunk("corpus1", "a.py", "def login(): pass")
	b := testChunk("corpus1", "b.py", "def logout(): pass")
	require.NoError(t, store.Upsert(ctx, "corpus1", []chunk.Chunk{a, b}))

	require.NoError(t, store.DeleteByFile(ctx, "corpus1", "a.py"))

	stats, err := store.Stats(ctx, "corpus1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ChunkCount)

	matches, err := store.FTSSearch(ctx, "corpus1", "login", 10)
	require.NoError(t, err)
	assert.Empty(t, matches, "deleted file still searchable")
}
