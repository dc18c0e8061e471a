package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tribridrag/tribridrag/domain/manifest"
)

func testManifest(corpusID string) manifest.Manifest {
	return manifest.New(corpusID, "openai", "text-embedding-3-small", 1536, "porter", manifest.ChunkerSettings{
		Strategy:       "hybrid",
		ChunkSize:      400,
		MaxChunkTokens: 800,
	})
}

func TestManifestStore_RoundTrip(t *testing.T) {
	store, err := NewManifestStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewManifestStore: %v", err)
	}
	ctx := context.Background()

	m := testManifest("corpus1").WithComplete(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	if err := store.Put(ctx, m); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Get(ctx, "corpus1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.EmbeddingDimension != 1536 {
		t.Errorf("dimension = %d", got.EmbeddingDimension)
	}
	if got.BuildStatus != manifest.BuildComplete {
		t.Errorf("status = %s", got.BuildStatus)
	}
	if !got.LastBuiltAt.Equal(m.LastBuiltAt) {
		t.Errorf("last_built_at = %v", got.LastBuiltAt)
	}
}

func TestManifestStore_GetMissing(t *testing.T) {
	store, err := NewManifestStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewManifestStore: %v", err)
	}
	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, ErrManifestNotFound) {
		t.Fatalf("got %v, want ErrManifestNotFound", err)
	}
}

func TestManifestStore_PutReplacesAtomically(t *testing.T) {
	store, err := NewManifestStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewManifestStore: %v", err)
	}
	ctx := context.Background()

	if err := store.Put(ctx, testManifest("corpus1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	updated := testManifest("corpus1").WithActiveAdapter("run-42")
	if err := store.Put(ctx, updated); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Get(ctx, "corpus1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ActiveAdapter != "run-42" {
		t.Errorf("active adapter = %q", got.ActiveAdapter)
	}
}

func TestManifestStore_DeleteAndList(t *testing.T) {
	store, err := NewManifestStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewManifestStore: %v", err)
	}
	ctx := context.Background()

	for _, id := range []string{"alpha", "beta"} {
		if err := store.Put(ctx, testManifest(id)); err != nil {
			t.Fatalf("Put %s: %v", id, err)
		}
	}

	ids, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("List = %v", ids)
	}

	if err := store.Delete(ctx, "alpha"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "alpha"); !errors.Is(err, ErrManifestNotFound) {
		t.Fatalf("deleted manifest still readable: %v", err)
	}
	// Deleting again is a no-op.
	if err := store.Delete(ctx, "alpha"); err != nil {
		t.Fatalf("repeat Delete: %v", err)
	}
}

func TestManifestStore_SanitizesCorpusID(t *testing.T) {
	dir := t.TempDir()
	store, err := NewManifestStore(dir)
	if err != nil {
		t.Fatalf("NewManifestStore: %v", err)
	}
	ctx := context.Background()

	m := testManifest("../evil/../../path")
	if err := store.Put(ctx, m); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := store.Get(ctx, "../evil/../../path")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CorpusID != "../evil/../../path" {
		t.Errorf("corpus id round-trip failed: %q", got.CorpusID)
	}
}
