package embedding

import (
	"context"
	"sync"

	"github.com/tribridrag/tribridrag/domain/errkind"
	"github.com/tribridrag/tribridrag/domain/search"
	"github.com/tribridrag/tribridrag/infrastructure/resilience"
)

// Provider is the full embedder capability the caching layer wraps: the
// Embed call plus the identity that scopes cache keys.
type Provider interface {
	search.Embedder
	Provider() string
	Model() string
	Dimension() int
}

// CachingEmbedder wraps a Provider with the content-addressed cache and
// per-key single-flight: concurrent cache misses for the same
// (provider, model, text) issue one upstream call, while distinct keys
// from one Embed call still travel upstream as a single batch. Upstream
// calls run under the resilience executor's retry and breaker policy.
type CachingEmbedder struct {
	upstream Provider
	cache    *Cache
	executor *resilience.Executor

	mu       sync.Mutex
	inflight map[string]*flight
}

// flight is one in-progress upstream embedding of a single key. Waiters
// block on done; the owner fills vec/err before closing it.
type flight struct {
	done chan struct{}
	vec  []float64
	err  error
}

// NewCachingEmbedder wraps upstream with cache and executor. executor
// may be nil to run without retries.
func NewCachingEmbedder(upstream Provider, cache *Cache, executor *resilience.Executor) *CachingEmbedder {
	return &CachingEmbedder{
		upstream: upstream,
		cache:    cache,
		executor: executor,
		inflight: make(map[string]*flight),
	}
}

func (e *CachingEmbedder) Provider() string { return e.upstream.Provider() }
func (e *CachingEmbedder) Model() string    { return e.upstream.Model() }
func (e *CachingEmbedder) Dimension() int   { return e.upstream.Dimension() }

// Embed returns one vector per text, serving repeats from the cache.
func (e *CachingEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float64, len(texts))
	keys := make([]string, len(texts))

	// Partition into cached, owned (we call upstream), and waiting (some
	// other goroutine's upstream call is already in flight for the key).
	var ownedIdx []int
	var waitIdx []int
	seen := make(map[string]int, len(texts))

	e.mu.Lock()
	for i, text := range texts {
		key := Key(e.upstream.Provider(), e.upstream.Model(), text)
		keys[i] = key
		if vec, ok := e.cache.Get(key); ok {
			out[i] = vec
			continue
		}
		if _, dup := seen[key]; dup {
			// Duplicate text within this call: wait on the first slot's flight.
			waitIdx = append(waitIdx, i)
			continue
		}
		seen[key] = i
		if _, busy := e.inflight[key]; busy {
			waitIdx = append(waitIdx, i)
			continue
		}
		e.inflight[key] = &flight{done: make(chan struct{})}
		ownedIdx = append(ownedIdx, i)
	}
	e.mu.Unlock()

	if len(ownedIdx) > 0 {
		if err := e.embedOwned(ctx, texts, keys, ownedIdx, out); err != nil {
			return nil, err
		}
	}

	for _, i := range waitIdx {
		vec, err := e.wait(ctx, keys[i], texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// embedOwned calls upstream once for every key this goroutine owns and
// resolves the flights, success or failure, so waiters never hang.
func (e *CachingEmbedder) embedOwned(ctx context.Context, texts, keys []string, ownedIdx []int, out [][]float64) error {
	batch := make([]string, len(ownedIdx))
	for j, i := range ownedIdx {
		batch[j] = texts[i]
	}

	var vectors [][]float64
	embed := func(ctx context.Context) error {
		var err error
		vectors, err = e.upstream.Embed(ctx, batch)
		return err
	}

	var err error
	if e.executor != nil {
		err = e.executor.Execute(ctx, "embed", embed, resilience.DefaultClassifier)
	} else {
		err = embed(ctx)
	}

	e.mu.Lock()
	for j, i := range ownedIdx {
		f := e.inflight[keys[i]]
		if err == nil && j < len(vectors) {
			f.vec = vectors[j]
		}
		f.err = err
		close(f.done)
		delete(e.inflight, keys[i])
	}
	e.mu.Unlock()

	if err != nil {
		return err
	}
	for j, i := range ownedIdx {
		out[i] = vectors[j]
		// A failed cache write costs a future re-embed, nothing more.
		_ = e.cache.Put(keys[i], vectors[j])
	}
	return nil
}

// wait blocks until the key's in-flight upstream call resolves, checking
// the cache first in case the flight completed between partition and now.
// A waiter orphaned by a flight that failed before caching re-embeds the
// text itself rather than failing on another goroutine's behalf.
func (e *CachingEmbedder) wait(ctx context.Context, key, text string) ([]float64, error) {
	if vec, ok := e.cache.Get(key); ok {
		return vec, nil
	}
	e.mu.Lock()
	f, busy := e.inflight[key]
	e.mu.Unlock()
	if busy {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-f.done:
			if f.err == nil {
				return f.vec, nil
			}
			// Fall through to re-embed.
		}
	} else if vec, ok := e.cache.Get(key); ok {
		return vec, nil
	}

	var vectors [][]float64
	embed := func(ctx context.Context) error {
		var err error
		vectors, err = e.upstream.Embed(ctx, []string{text})
		return err
	}
	var err error
	if e.executor != nil {
		err = e.executor.Execute(ctx, "embed", embed, resilience.DefaultClassifier)
	} else {
		err = embed(ctx)
	}
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, errkind.New(errkind.UpstreamFailure, "embedder returned no vectors")
	}
	_ = e.cache.Put(key, vectors[0])
	return vectors[0], nil
}

var _ search.Embedder = (*CachingEmbedder)(nil)
