package tribridrag_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tribridrag/tribridrag"
	"github.com/tribridrag/tribridrag/application/service"
	"github.com/tribridrag/tribridrag/infrastructure/provider"
	"github.com/tribridrag/tribridrag/internal/config"
)

// fakeEmbedProvider embeds deterministically: a small fixed-dimension
// vector derived from text bytes, so vector search has real geometry
// without a model.
type fakeEmbedProvider struct{}

const fakeDimension = 8

func (fakeEmbedProvider) Embed(_ context.Context, req provider.EmbeddingRequest) (provider.EmbeddingResponse, error) {
	texts := req.Texts()
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec := make([]float64, fakeDimension)
		for j, b := range []byte(text) {
			vec[j%fakeDimension] += float64(b) / 255.0
		}
		out[i] = vec
	}
	return provider.NewEmbeddingResponse(out, provider.NewUsage(0, 0, 0)), nil
}

func writeTestCorpus(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"auth.py":    "def login(user, password):\n    \"\"\"Authenticate a user.\"\"\"\n    return check_password(user, password)\n",
		"session.py": "def create_session(user):\n    \"\"\"Create a session after login.\"\"\"\n    return Session(user)\n",
		"util.py":    "def format_bytes(n):\n    return str(n) + \" bytes\"\n",
	}
	for rel, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, rel), []byte(content), 0o644))
	}
	return root
}

func newTestClient(t *testing.T) *tribridrag.Client {
	t.Helper()
	dataDir := t.TempDir()

	settings := config.NewRetrievalSettings()
	settings.Embedding.Provider = "fake"
	settings.Embedding.Model = "fake-model"
	settings.Embedding.Dimension = fakeDimension

	client, err := tribridrag.New(
		tribridrag.WithSQLite(filepath.Join(dataDir, "test.db")),
		tribridrag.WithDataDir(dataDir),
		tribridrag.WithRetrievalSettings(settings),
		tribridrag.WithEmbeddingProvider(fakeEmbedProvider{}),
		tribridrag.WithWorkerPollPeriod(20*time.Millisecond),
	)
	require.NoError(t, err, "create client")
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestClient_BuildAndQuery(t *testing.T) {
	client := newTestClient(t)
	root := writeTestCorpus(t)
	ctx := context.Background()

	require.NoError(t, client.BuildCorpusSync(ctx, "corpus1", root, false, nil))

	result, err := client.Search.Query(ctx, service.RetrievalRequest{
		Query:         "login",
		CorpusID:      "corpus1",
		TopK:          5,
		IncludeVector: true,
		IncludeSparse: true,
		IncludeGraph:  true,
		Deadline:      5 * time.Second,
	})
	require.NoError(t, err, "query")
	require.NotEmpty(t, result.Matches, "expected matches for a query naming an indexed function")
	assert.Equal(t, "rrf", result.FusionMethod)
	assert.Equal(t, "none", result.RerankerMode)

	// Fusion set-preservation: every match came from an indexed chunk.
	for _, m := range result.Matches {
		assert.NotEmpty(t, m.ChunkID())
	}
}

func TestClient_RebuildIsStable(t *testing.T) {
	client := newTestClient(t)
	root := writeTestCorpus(t)
	ctx := context.Background()

	require.NoError(t, client.BuildCorpusSync(ctx, "corpus1", root, false, nil))
	first, err := client.Search.Query(ctx, service.RetrievalRequest{
		Query: "login", CorpusID: "corpus1", TopK: 5,
		IncludeVector: true, IncludeSparse: true,
	})
	require.NoError(t, err)

	// Rebuilding an unchanged corpus changes nothing the query can see.
	require.NoError(t, client.BuildCorpusSync(ctx, "corpus1", root, false, nil))
	second, err := client.Search.Query(ctx, service.RetrievalRequest{
		Query: "login", CorpusID: "corpus1", TopK: 5,
		IncludeVector: true, IncludeSparse: true,
	})
	require.NoError(t, err)

	require.Equal(t, len(first.Matches), len(second.Matches))
	for i := range first.Matches {
		assert.Equal(t, first.Matches[i].ChunkID(), second.Matches[i].ChunkID())
	}
}

func TestClient_QueuedBuildRunsOnWorker(t *testing.T) {
	client := newTestClient(t)
	root := writeTestCorpus(t)
	ctx := context.Background()

	require.NoError(t, client.BuildCorpus(ctx, "corpus1", root, false))

	// Poll until the queued build lands and the corpus is queryable.
	deadline := time.Now().Add(10 * time.Second)
	for {
		result, err := client.Search.Query(ctx, service.RetrievalRequest{
			Query: "login", CorpusID: "corpus1", TopK: 5,
			IncludeSparse: true,
		})
		if err == nil && len(result.Matches) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("queued build never became queryable: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestClient_DeleteCorpus(t *testing.T) {
	client := newTestClient(t)
	root := writeTestCorpus(t)
	ctx := context.Background()

	require.NoError(t, client.BuildCorpusSync(ctx, "corpus1", root, false, nil))
	require.NoError(t, client.DeleteCorpus(ctx, "corpus1"))

	// The manifest is gone, so queries fail loudly rather than silently
	// returning stale matches.
	_, err := client.Search.Query(ctx, service.RetrievalRequest{
		Query: "login", CorpusID: "corpus1", IncludeSparse: true,
	})
	require.Error(t, err)
}

func TestClient_SecondCloseReturnsError(t *testing.T) {
	client := newTestClient(t)
	require.NoError(t, client.Close())
	require.Error(t, client.Close())
}
