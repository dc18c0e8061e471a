// Package corpus provides the task handlers for the corpus build
// pipeline.
package corpus

import (
	"context"
	"log/slog"

	"github.com/tribridrag/tribridrag/application/handler"
	"github.com/tribridrag/tribridrag/application/service"
	"github.com/tribridrag/tribridrag/domain/task"
)

// Builder is the indexer capability the build handlers drive.
type Builder interface {
	Build(ctx context.Context, req service.BuildRequest, progress service.ProgressFunc) error
}

// Build handles the corpus build operations: it runs one end-to-end
// build for the corpus named in the payload, tracking per-phase
// progress so a long build is inspectable while it runs.
type Build struct {
	indexer  Builder
	trackers handler.TrackerFactory
	force    bool
	logger   *slog.Logger
}

// NewBuild creates the incremental build handler. trackers may be nil.
func NewBuild(indexer Builder, trackers handler.TrackerFactory, logger *slog.Logger) *Build {
	if logger == nil {
		logger = slog.Default()
	}
	return &Build{indexer: indexer, trackers: trackers, logger: logger}
}

// NewRebuild creates the full-rebuild handler: every file is re-chunked
// and re-embedded regardless of content hashes.
func NewRebuild(indexer Builder, trackers handler.TrackerFactory, logger *slog.Logger) *Build {
	b := NewBuild(indexer, trackers, logger)
	b.force = true
	return b
}

// phaseOperations maps indexer progress phases onto the build pipeline's
// operation vocabulary.
var phaseOperations = map[string]task.Operation{
	"load_files":      task.OperationLoadFiles,
	"chunk_files":     task.OperationChunkFiles,
	"embed_chunks":    task.OperationEmbedChunks,
	"index_sparse":    task.OperationIndexSparse,
	"build_graph":     task.OperationBuildGraph,
	"update_manifest": task.OperationUpdateManifest,
}

// Execute runs the build described by the payload.
func (h *Build) Execute(ctx context.Context, payload map[string]any) error {
	p, err := handler.ExtractCorpusPayload(payload)
	if err != nil {
		return err
	}

	// One tracker per pipeline phase, created as the phase first
	// reports and completed when the next phase starts.
	trackers := make(map[string]handler.Tracker)
	var currentPhase string

	progress := func(progress service.BuildProgress) {
		h.logger.Debug("build progress",
			"corpus_id", progress.CorpusID,
			"phase", progress.Phase,
			"completed", progress.Completed,
			"total", progress.Total,
		)
		if h.trackers == nil {
			return
		}
		op, ok := phaseOperations[progress.Phase]
		if !ok {
			return
		}
		tracker, ok := trackers[progress.Phase]
		if !ok {
			tracker = h.trackers.ForOperation(op, task.TrackableTypeBuild, progress.CorpusID)
			trackers[progress.Phase] = tracker
			tracker.SetTotal(ctx, progress.Total)
			if currentPhase != "" && currentPhase != progress.Phase {
				if prev, ok := trackers[currentPhase]; ok {
					prev.Complete(ctx)
				}
			}
			currentPhase = progress.Phase
		}
		tracker.SetCurrent(ctx, progress.Completed, progress.Phase)
	}

	req := service.BuildRequest{
		CorpusID: p.CorpusID(),
		Root:     p.Root(),
		Force:    h.force || p.Force(),
	}
	err = h.indexer.Build(ctx, req, progress)

	if tracker, ok := trackers[currentPhase]; ok {
		if err != nil {
			tracker.Fail(ctx, err.Error())
		} else {
			tracker.Complete(ctx)
		}
	}
	return err
}
