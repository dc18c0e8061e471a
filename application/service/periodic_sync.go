package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tribridrag/tribridrag/domain/manifest"
	"github.com/tribridrag/tribridrag/domain/task"
	"github.com/tribridrag/tribridrag/internal/config"
)

// ManifestLister is the manifest capability the periodic sync needs:
// enumerate known corpora and read their manifests.
type ManifestLister interface {
	ManifestStore
	List(ctx context.Context) ([]string, error)
}

// PeriodicSync re-enqueues incremental builds for every known corpus on
// an interval, so corpora tracked from a live source tree stay fresh
// without operator action. Builds go through the queue at background
// priority; the per-corpus build lock and the hash delta keep repeat
// syncs cheap and conflict-free.
type PeriodicSync struct {
	manifests ManifestLister
	queue     *Queue
	config    config.PeriodicSyncConfig
	logger    *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewPeriodicSync creates a PeriodicSync.
func NewPeriodicSync(manifests ManifestLister, queue *Queue, cfg config.PeriodicSyncConfig, logger *slog.Logger) *PeriodicSync {
	if logger == nil {
		logger = slog.Default()
	}
	return &PeriodicSync{
		manifests: manifests,
		queue:     queue,
		config:    cfg,
		logger:    logger,
	}
}

// Start begins the sync loop in a goroutine. A disabled config makes
// Start a no-op.
func (p *PeriodicSync) Start(ctx context.Context) {
	if !p.config.Enabled() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()
}

// Stop halts the sync loop and waits for it to finish.
func (p *PeriodicSync) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

func (p *PeriodicSync) run(ctx context.Context) {
	ticker := time.NewTicker(p.config.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.SyncOnce(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn("periodic sync pass failed", "error", err)
			}
		}
	}
}

// SyncOnce enqueues one incremental build per syncable corpus: complete
// manifests with a recorded root. Corpora mid-build or in the error
// state are skipped — a failed build needs operator attention, not a
// retry loop.
func (p *PeriodicSync) SyncOnce(ctx context.Context) error {
	ids, err := p.manifests.List(ctx)
	if err != nil {
		return err
	}
	for _, corpusID := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		m, err := p.manifests.Get(ctx, corpusID)
		if err != nil {
			p.logger.Warn("periodic sync skipping corpus", "corpus_id", corpusID, "error", err)
			continue
		}
		if m.BuildStatus != manifest.BuildComplete || m.Root == "" {
			continue
		}
		err = p.queue.Enqueue(ctx, task.NewTask(task.OperationBuildCorpus, int(task.PriorityBackground), map[string]any{
			"corpus_id": corpusID,
			"root":      m.Root,
		}))
		if err != nil {
			return err
		}
	}
	return nil
}
