package rerank

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tribridrag/tribridrag/domain/chunk"
	"github.com/tribridrag/tribridrag/domain/errkind"
)

// ScoringModel is one loaded (base model + adapter) instance. Version
// identifies the adapter fingerprint baked into it; Close frees its
// memory once the last reader is done.
type ScoringModel interface {
	Scorer
	Version() string
	Close() error
}

// ModelLoader cold-loads a scoring model for a base model and adapter
// weights file. fingerprint is the adapter's content hash at load time.
type ModelLoader interface {
	Load(ctx context.Context, baseModel, adapterPath, fingerprint string) (ScoringModel, error)
}

// loadedModel wraps a ScoringModel with a reference count. The count
// starts at 1 for the active-pointer reference; each in-flight scoring
// request adds one. The model unloads when the count reaches zero,
// which can only happen after the pointer moved on AND the last reader
// finished.
type loadedModel struct {
	model ScoringModel
	refs  atomic.Int64
}

func (lm *loadedModel) acquire() { lm.refs.Add(1) }

// tryAcquire takes a reader reference unless the count already hit zero
// (the model is closing or closed). Reading the pointer and then
// incrementing unconditionally would race a concurrent swap-and-unload.
func (lm *loadedModel) tryAcquire() bool {
	for {
		n := lm.refs.Load()
		if n <= 0 {
			return false
		}
		if lm.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (lm *loadedModel) release(logger *slog.Logger) {
	if lm.refs.Add(-1) == 0 {
		if err := lm.model.Close(); err != nil {
			logger.Warn("model unload failed", "version", lm.model.Version(), "error", err)
		}
	}
}

// Learned is the local cross-encoder with a LoRA-style adapter layered
// over a base model. A background watcher polls the adapter file; when
// its fingerprint changes and the minimum reload interval has elapsed,
// the new model loads into a staging slot and the active pointer swaps
// atomically. In-flight requests hold a reference to the old model until
// they complete. An idle timer unloads the model after UnloadAfterSec
// without requests; the next request cold-loads, and concurrent requests
// during a cold load wait on the same load rather than loading twice.
type Learned struct {
	loader   ModelLoader
	resolver DocumentResolver
	config   Config
	logger   *slog.Logger

	active atomic.Pointer[loadedModel]

	mu          sync.Mutex
	loading     chan struct{} // non-nil while a cold load is in flight
	lastUsed    atomic.Int64 // unix nanos of the last request
	lastReload  time.Time
	fingerprint string

	watcher  *fsnotify.Watcher
	stopOnce sync.Once
	stopped  chan struct{}
}

// NewLearned creates the learned-mode reranker and starts its adapter
// watcher and idle-unload timer.
func NewLearned(loader ModelLoader, resolver DocumentResolver, config Config, logger *slog.Logger) (*Learned, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if config.TopN <= 0 {
		config.TopN = DefaultConfig().TopN
	}
	if config.ReloadPeriodSec <= 0 {
		config.ReloadPeriodSec = DefaultConfig().ReloadPeriodSec
	}
	if config.UnloadAfterSec <= 0 {
		config.UnloadAfterSec = DefaultConfig().UnloadAfterSec
	}

	l := &Learned{
		loader:   loader,
		resolver: resolver,
		config:   config,
		logger:   logger,
		stopped:  make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create adapter watcher: %w", err)
	}
	// Watch the directory: promote renames the adapter file into place,
	// and a rename is invisible to a watch on the old inode.
	dir := filepath.Dir(config.AdapterPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("create adapter dir: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch adapter dir: %w", err)
	}
	l.watcher = watcher

	go l.watch()
	go l.idleUnload()
	return l, nil
}

// Close stops the watcher and timers and unloads the active model.
func (l *Learned) Close() error {
	l.stopOnce.Do(func() {
		close(l.stopped)
		_ = l.watcher.Close()
		if lm := l.active.Swap(nil); lm != nil {
			lm.release(l.logger)
		}
	})
	return nil
}

// Fingerprint returns the active adapter fingerprint, for status
// introspection.
func (l *Learned) Fingerprint() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fingerprint
}

// Rerank scores the fused matches with the active model. A query that
// starts on adapter version v completes on v even if a swap lands
// mid-flight.
func (l *Learned) Rerank(ctx context.Context, query string, matches []chunk.Match) ([]chunk.Match, error) {
	if len(matches) == 0 {
		return matches, nil
	}
	l.lastUsed.Store(time.Now().UnixNano())

	lm, err := l.acquireModel(ctx)
	if err != nil {
		return nil, err
	}
	defer lm.release(l.logger)

	documents, err := l.resolver(ctx, matches)
	if err != nil {
		return nil, errkind.Wrap(errkind.UpstreamFailure, "resolve rerank documents", err)
	}
	if len(documents) != len(matches) {
		return nil, errkind.New(errkind.UpstreamFailure,
			fmt.Sprintf("resolved %d documents for %d matches", len(documents), len(matches)))
	}

	scores, err := scoreBatched(ctx, lm.model, query, documents, l.config.BatchSize, l.config.MaxLength)
	if err != nil {
		return nil, err
	}
	if len(scores) != len(matches) {
		return nil, errkind.New(errkind.UpstreamFailure,
			fmt.Sprintf("scorer returned %d scores for %d pairs", len(scores), len(matches)))
	}
	return rescoreAndSort(matches, scores, l.config.TopN, lm.model.Version()), nil
}

// acquireModel returns the active model with a reader reference held,
// cold-loading if the model was unloaded. Concurrent callers during a
// cold load wait on the same load future.
func (l *Learned) acquireModel(ctx context.Context) (*loadedModel, error) {
	for {
		if lm := l.active.Load(); lm != nil {
			if lm.tryAcquire() {
				return lm, nil
			}
			// Lost the race against an unload; re-read the pointer.
			continue
		}

		l.mu.Lock()
		if lm := l.active.Load(); lm != nil {
			l.mu.Unlock()
			continue
		}
		if l.loading != nil {
			ch := l.loading
			l.mu.Unlock()
			select {
			case <-ch:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}
		ch := make(chan struct{})
		l.loading = ch
		l.mu.Unlock()

		lm, err := l.coldLoad(ctx)

		l.mu.Lock()
		l.loading = nil
		close(ch)
		l.mu.Unlock()

		if err != nil {
			return nil, errkind.Wrap(errkind.RerankerUnavailable, "cold load", err)
		}
		if !lm.tryAcquire() {
			// Unloaded between load and acquire; retry from the top.
			continue
		}
		return lm, nil
	}
}

func (l *Learned) coldLoad(ctx context.Context) (*loadedModel, error) {
	fp, err := adapterFingerprint(l.config.AdapterPath)
	if err != nil {
		return nil, err
	}
	model, err := l.loader.Load(ctx, l.config.LocalModel, l.config.AdapterPath, fp)
	if err != nil {
		return nil, err
	}
	lm := &loadedModel{model: model}
	lm.refs.Store(1) // the active pointer's reference
	l.active.Store(lm)

	l.mu.Lock()
	l.fingerprint = fp
	l.lastReload = time.Now()
	l.mu.Unlock()
	return lm, nil
}

// watch reacts to adapter-file changes: when the fingerprint differs
// from the active one and the reload interval has elapsed, the new
// model stages in the background and swaps in atomically.
func (l *Learned) watch() {
	minInterval := time.Duration(l.config.ReloadPeriodSec) * time.Second
	adapterName := filepath.Base(l.config.AdapterPath)

	for {
		select {
		case <-l.stopped:
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != adapterName {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			l.maybeReload(minInterval)
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("adapter watcher error", "error", err)
		}
	}
}

func (l *Learned) maybeReload(minInterval time.Duration) {
	l.mu.Lock()
	current := l.fingerprint
	sinceReload := time.Since(l.lastReload)
	l.mu.Unlock()

	if l.active.Load() == nil {
		// Nothing loaded; the next request cold-loads the new adapter.
		return
	}
	if sinceReload < minInterval {
		return
	}

	fp, err := adapterFingerprint(l.config.AdapterPath)
	if err != nil {
		l.logger.Warn("adapter fingerprint failed", "error", err)
		return
	}
	if fp == current {
		return
	}

	// Stage the new model fully before touching the active pointer.
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	model, err := l.loader.Load(ctx, l.config.LocalModel, l.config.AdapterPath, fp)
	if err != nil {
		l.logger.Warn("adapter hot-reload failed, keeping current model", "error", err)
		return
	}

	lm := &loadedModel{model: model}
	lm.refs.Store(1)
	old := l.active.Swap(lm)

	l.mu.Lock()
	l.fingerprint = fp
	l.lastReload = time.Now()
	l.mu.Unlock()

	l.logger.Info("adapter hot-reloaded", "fingerprint", fp)
	if old != nil {
		// Drop the pointer's reference; in-flight readers keep theirs.
		old.release(l.logger)
	}
}

// idleUnload frees model memory after UnloadAfterSec without requests.
func (l *Learned) idleUnload() {
	idle := time.Duration(l.config.UnloadAfterSec) * time.Second
	ticker := time.NewTicker(idle / 4)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopped:
			return
		case <-ticker.C:
			last := l.lastUsed.Load()
			if last == 0 || time.Since(time.Unix(0, last)) < idle {
				continue
			}
			if lm := l.active.Swap(nil); lm != nil {
				l.logger.Info("unloading idle reranker model", "version", lm.model.Version())
				lm.release(l.logger)
			}
		}
	}
}

// adapterFingerprint hashes the adapter weights file.
func adapterFingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open adapter: %w", err)
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash adapter: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
