package rerank

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tribridrag/tribridrag/domain/chunk"
)

func fusedMatches(n int) []chunk.Match {
	out := make([]chunk.Match, n)
	for i := range out {
		out[i] = chunk.NewMatch(fmt.Sprintf("chunk-%d", i), float64(n-i), chunk.SourceFused, i+1, nil)
	}
	return out
}

func contentResolver(_ context.Context, matches []chunk.Match) ([]string, error) {
	docs := make([]string, len(matches))
	for i, m := range matches {
		docs[i] = "content of " + m.ChunkID()
	}
	return docs, nil
}

// fixedScorer returns predetermined scores by document position.
type fixedScorer struct {
	scores  []float64
	version string
	offset  int
	mu      sync.Mutex
}

func (f *fixedScorer) Score(_ context.Context, _ string, documents []string) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]float64, len(documents))
	for i := range documents {
		idx := f.offset + i
		if idx < len(f.scores) {
			out[i] = f.scores[idx]
		}
	}
	f.offset += len(documents)
	return out, nil
}

func (f *fixedScorer) Version() string { return f.version }
func (f *fixedScorer) Close() error    { return nil }

func TestNone_TruncatesWithoutReordering(t *testing.T) {
	r := NewNone(2)
	matches := fusedMatches(4)
	out, err := r.Rerank(context.Background(), "q", matches)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d matches", len(out))
	}
	if out[0].ChunkID() != "chunk-0" || out[1].ChunkID() != "chunk-1" {
		t.Errorf("order changed: %s, %s", out[0].ChunkID(), out[1].ChunkID())
	}
}

func TestLocal_ReordersAndPreservesSet(t *testing.T) {
	scorer := &fixedScorer{scores: []float64{0.1, 0.9, 0.5}}
	r := NewLocal(scorer, contentResolver, Config{TopN: 3, BatchSize: 2})
	matches := fusedMatches(3)

	out, err := r.Rerank(context.Background(), "q", matches)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("got %d matches", len(out))
	}
	if out[0].ChunkID() != "chunk-1" {
		t.Errorf("top = %s, want chunk-1 (highest model score)", out[0].ChunkID())
	}

	// Rerank is a reordering: same set in, same set out.
	in := map[string]bool{}
	for _, m := range matches {
		in[m.ChunkID()] = true
	}
	for _, m := range out {
		if !in[m.ChunkID()] {
			t.Errorf("reranker invented chunk %s", m.ChunkID())
		}
	}

	// Fusion score survives in the sidecar field.
	md := out[0].Metadata()
	if md["fusion_score"] != 2.0 {
		t.Errorf("fusion_score sidecar = %v", md["fusion_score"])
	}
	if out[0].Source() != chunk.SourceReranked {
		t.Errorf("source = %s", out[0].Source())
	}
}

func TestLocal_TopNTruncation(t *testing.T) {
	scorer := &fixedScorer{scores: []float64{0.4, 0.3, 0.2, 0.1}}
	r := NewLocal(scorer, contentResolver, Config{TopN: 2, BatchSize: 8})
	out, err := r.Rerank(context.Background(), "q", fusedMatches(4))
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(out) != 2 {
		t.Errorf("got %d matches, want 2", len(out))
	}
}

// versionedModel tags every score with its version so a mixed-weight
// result is detectable.
type versionedModel struct {
	version string
	value   float64
	delay   time.Duration
	closed  atomic.Bool
	scored  atomic.Int64
}

func (m *versionedModel) Score(ctx context.Context, _ string, documents []string) ([]float64, error) {
	if m.closed.Load() {
		return nil, errors.New("scored on a closed model")
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.closed.Load() {
		return nil, errors.New("scored on a closed model")
	}
	m.scored.Add(int64(len(documents)))
	out := make([]float64, len(documents))
	for i := range out {
		out[i] = m.value
	}
	return out, nil
}

func (m *versionedModel) Version() string { return m.version }
func (m *versionedModel) Close() error    { m.closed.Store(true); return nil }

// fakeLoader creates a fresh model per load (a real loader never hands
// back an unloaded instance) and remembers them for test introspection.
type fakeLoader struct {
	mu     sync.Mutex
	models map[string]*versionedModel // latest per fingerprint
	loads  atomic.Int64
	delay  time.Duration
}

func (f *fakeLoader) Load(_ context.Context, _, _, fingerprint string) (ScoringModel, error) {
	f.loads.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	m := &versionedModel{version: fingerprint, value: 0.5}
	f.mu.Lock()
	f.models[fingerprint] = m
	f.mu.Unlock()
	return m, nil
}

func writeAdapter(t *testing.T, path, content string) {
	t.Helper()
	// Promote-style stage and rename, the write pattern the watcher is
	// built for.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		t.Fatalf("stage adapter: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename adapter: %v", err)
	}
}

func newLearnedForTest(t *testing.T, loader ModelLoader, adapterPath string, reloadSec int) *Learned {
	t.Helper()
	l, err := NewLearned(loader, contentResolver, Config{
		Mode:            ModeLearned,
		TopN:            5,
		BatchSize:       8,
		AdapterPath:     adapterPath,
		ReloadPeriodSec: reloadSec,
		UnloadAfterSec:  3600,
	}, nil)
	if err != nil {
		t.Fatalf("NewLearned: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLearned_ColdLoadAndScore(t *testing.T) {
	dir := t.TempDir()
	adapter := filepath.Join(dir, "adapter.bin")
	writeAdapter(t, adapter, "weights-v1")

	loader := &fakeLoader{models: make(map[string]*versionedModel)}
	l := newLearnedForTest(t, loader, adapter, 1)

	out, err := l.Rerank(context.Background(), "q", fusedMatches(3))
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("got %d matches", len(out))
	}
	if loader.loads.Load() != 1 {
		t.Errorf("loads = %d, want 1", loader.loads.Load())
	}
	if l.Fingerprint() == "" {
		t.Error("no fingerprint after cold load")
	}
	// Model version rides along in metadata.
	if out[0].Metadata()["model_version"] == "" {
		t.Error("no model_version in metadata")
	}
}

func TestLearned_SingleFlightColdLoad(t *testing.T) {
	dir := t.TempDir()
	adapter := filepath.Join(dir, "adapter.bin")
	writeAdapter(t, adapter, "weights-v1")

	loader := &fakeLoader{models: make(map[string]*versionedModel), delay: 50 * time.Millisecond}
	l := newLearnedForTest(t, loader, adapter, 1)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = l.Rerank(context.Background(), "q", fusedMatches(2))
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("goroutine %d: %v", i, err)
		}
	}
	if got := loader.loads.Load(); got != 1 {
		t.Errorf("cold load ran %d times, want 1", got)
	}
}

func TestLearned_HotSwapUnderLoad(t *testing.T) {
	dir := t.TempDir()
	adapter := filepath.Join(dir, "adapter.bin")
	writeAdapter(t, adapter, "weights-v1")

	loader := &fakeLoader{models: make(map[string]*versionedModel)}
	l := newLearnedForTest(t, loader, adapter, 1)

	// Load v1 and give every model a scoring delay so queries straddle
	// the swap.
	if _, err := l.Rerank(context.Background(), "q", fusedMatches(1)); err != nil {
		t.Fatalf("warmup: %v", err)
	}
	v1 := l.Fingerprint()
	// Age the last reload so the watcher is free to swap immediately.
	l.mu.Lock()
	l.lastReload = time.Now().Add(-time.Hour)
	l.mu.Unlock()
	loader.mu.Lock()
	for _, m := range loader.models {
		m.delay = 20 * time.Millisecond
	}
	loader.mu.Unlock()

	const queries = 50
	var wg sync.WaitGroup
	versions := make([]string, queries)
	errs := make([]error, queries)
	for i := 0; i < queries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := l.Rerank(context.Background(), "q", fusedMatches(2))
			errs[i] = err
			if err == nil && len(out) > 0 {
				seen := map[any]bool{}
				for _, m := range out {
					seen[m.Metadata()["model_version"]] = true
				}
				if len(seen) != 1 {
					errs[i] = fmt.Errorf("mixed model versions in one query: %v", seen)
					return
				}
				versions[i], _ = out[0].Metadata()["model_version"].(string)
			}
		}(i)
		if i == queries/2 {
			writeAdapter(t, adapter, "weights-v2")
		}
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("query %d: %v", i, err)
		}
	}

	// Wait for the watcher to finish the swap, then confirm the next
	// query runs on the new fingerprint.
	deadline := time.Now().Add(5 * time.Second)
	for l.Fingerprint() == v1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	v2 := l.Fingerprint()
	if v2 == v1 {
		t.Fatal("watcher never swapped the adapter")
	}
	out, err := l.Rerank(context.Background(), "q", fusedMatches(1))
	if err != nil {
		t.Fatalf("post-swap query: %v", err)
	}
	if got := out[0].Metadata()["model_version"]; got != v2 {
		t.Errorf("post-swap query used %v, want %v", got, v2)
	}

	sawV1 := false
	for _, v := range versions {
		if v == v1 {
			sawV1 = true
		}
	}
	if !sawV1 {
		t.Error("no query observed the pre-swap adapter")
	}
}

func TestLearned_IdleUnloadAndReload(t *testing.T) {
	dir := t.TempDir()
	adapter := filepath.Join(dir, "adapter.bin")
	writeAdapter(t, adapter, "weights-v1")

	loader := &fakeLoader{models: make(map[string]*versionedModel)}
	l, err := NewLearned(loader, contentResolver, Config{
		Mode:            ModeLearned,
		TopN:            5,
		AdapterPath:     adapter,
		ReloadPeriodSec: 1,
		UnloadAfterSec:  1,
	}, nil)
	if err != nil {
		t.Fatalf("NewLearned: %v", err)
	}
	defer func() { _ = l.Close() }()

	if _, err := l.Rerank(context.Background(), "q", fusedMatches(1)); err != nil {
		t.Fatalf("Rerank: %v", err)
	}

	// Wait for the idle timer to drop the model.
	deadline := time.Now().Add(5 * time.Second)
	for l.active.Load() != nil && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if l.active.Load() != nil {
		t.Fatal("idle model never unloaded")
	}

	// The next request cold-loads again.
	if _, err := l.Rerank(context.Background(), "q", fusedMatches(1)); err != nil {
		t.Fatalf("post-unload Rerank: %v", err)
	}
	if got := loader.loads.Load(); got != 2 {
		t.Errorf("loads = %d, want 2 (initial + after idle unload)", got)
	}
}

func TestLearned_MissingAdapterIsUnavailable(t *testing.T) {
	dir := t.TempDir()
	loader := &fakeLoader{models: make(map[string]*versionedModel)}
	l := newLearnedForTest(t, loader, filepath.Join(dir, "absent.bin"), 1)

	_, err := l.Rerank(context.Background(), "q", fusedMatches(1))
	if err == nil {
		t.Fatal("expected cold-load failure for missing adapter")
	}
}
