package embedding

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

// fakeProvider counts upstream calls and returns a fixed-dimension vector
// derived from each text's length.
type fakeProvider struct {
	calls     atomic.Int64
	texts     atomic.Int64
	dimension int
	fail      error
	block     chan struct{} // when non-nil, Embed waits on it
}

func (f *fakeProvider) Provider() string { return "fake" }
func (f *fakeProvider) Model() string    { return "fake-model" }
func (f *fakeProvider) Dimension() int   { return f.dimension }

func (f *fakeProvider) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	f.calls.Add(1)
	f.texts.Add(int64(len(texts)))
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail != nil {
		return nil, f.fail
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		vec := make([]float64, f.dimension)
		vec[0] = float64(len(t))
		out[i] = vec
	}
	return out, nil
}

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := NewCache(t.TempDir(), 16)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	return c
}

func TestEmbed_CachesAcrossCalls(t *testing.T) {
	fake := &fakeProvider{dimension: 4}
	e := NewCachingEmbedder(fake, newTestCache(t), nil)
	ctx := context.Background()

	first, err := e.Embed(ctx, []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(first) != 2 || len(first[0]) != 4 {
		t.Fatalf("unexpected vectors: %+v", first)
	}
	if got := fake.texts.Load(); got != 2 {
		t.Fatalf("upstream saw %d texts, want 2", got)
	}

	second, err := e.Embed(ctx, []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if got := fake.texts.Load(); got != 2 {
		t.Errorf("repeat embed hit upstream: %d texts total", got)
	}
	if second[0][0] != first[0][0] {
		t.Errorf("cached vector differs: %v vs %v", second[0], first[0])
	}
}

func TestEmbed_PartialCacheHitOnlySendsMisses(t *testing.T) {
	fake := &fakeProvider{dimension: 4}
	e := NewCachingEmbedder(fake, newTestCache(t), nil)
	ctx := context.Background()

	if _, err := e.Embed(ctx, []string{"alpha"}); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if _, err := e.Embed(ctx, []string{"alpha", "gamma"}); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if got := fake.texts.Load(); got != 2 {
		t.Errorf("upstream saw %d texts, want 2 (alpha once, gamma once)", got)
	}
}

func TestEmbed_DuplicateTextsWithinCall(t *testing.T) {
	fake := &fakeProvider{dimension: 4}
	e := NewCachingEmbedder(fake, newTestCache(t), nil)

	out, err := e.Embed(context.Background(), []string{"same", "same", "same"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if got := fake.texts.Load(); got != 1 {
		t.Errorf("upstream saw %d texts, want 1", got)
	}
	for i := 1; i < 3; i++ {
		if out[i][0] != out[0][0] {
			t.Errorf("duplicate slot %d differs", i)
		}
	}
}

func TestEmbed_SingleFlightAcrossGoroutines(t *testing.T) {
	fake := &fakeProvider{dimension: 4, block: make(chan struct{})}
	e := NewCachingEmbedder(fake, newTestCache(t), nil)

	const n = 8
	var wg sync.WaitGroup
	results := make([][][]float64, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.Embed(context.Background(), []string{"contended"})
		}(i)
	}
	close(fake.block)
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("goroutine %d: %v", i, errs[i])
		}
		if results[i][0][0] != results[0][0][0] {
			t.Errorf("goroutine %d got different vector", i)
		}
	}
	// All eight goroutines raced the same key; only the flight owner (or
	// an orphaned-waiter retry) should reach upstream, never all eight.
	if got := fake.calls.Load(); got >= n {
		t.Errorf("upstream called %d times for one key", got)
	}
}

func TestEmbed_UpstreamFailurePropagates(t *testing.T) {
	boom := errors.New("boom")
	fake := &fakeProvider{dimension: 4, fail: boom}
	e := NewCachingEmbedder(fake, newTestCache(t), nil)

	if _, err := e.Embed(context.Background(), []string{"x"}); !errors.Is(err, boom) {
		t.Fatalf("got %v, want wrapped boom", err)
	}
}

func TestCache_DiskPersistence(t *testing.T) {
	dir := t.TempDir()
	c1, err := NewCache(dir, 8)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	key := Key("p", "m", "text")
	if err := c1.Put(key, []float64{1, 2, 3}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// A fresh cache over the same directory (cold LRU) must hit disk.
	c2, err := NewCache(dir, 8)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	vec, ok := c2.Get(key)
	if !ok {
		t.Fatal("expected disk hit")
	}
	if len(vec) != 3 || vec[2] != 3 {
		t.Errorf("got %v", vec)
	}
}

func TestKey_DistinguishesProviderAndModel(t *testing.T) {
	base := Key("p1", "m1", "text")
	if Key("p2", "m1", "text") == base {
		t.Error("provider not part of key")
	}
	if Key("p1", "m2", "text") == base {
		t.Error("model not part of key")
	}
	if Key("p1", "m1", "other") == base {
		t.Error("text not part of key")
	}
}
