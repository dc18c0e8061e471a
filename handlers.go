package tribridrag

import (
	"path/filepath"

	corpushandler "github.com/tribridrag/tribridrag/application/handler/corpus"
	learninghandler "github.com/tribridrag/tribridrag/application/handler/learning"
	"github.com/tribridrag/tribridrag/domain/task"
)

// registerHandlers registers the task handlers the background worker
// dispatches to: the corpus build pipeline and the learning loop. The
// granular pipeline operations (load_files, chunk_files, ...) are
// progress vocabulary reported from inside one build, not separately
// queued units of work.
func (c *Client) registerHandlers() {
	trackers := handlerTrackers{inner: c.trackers}
	c.registry.Register(task.OperationBuildCorpus, corpushandler.NewBuild(c.indexer, trackers, c.logger))
	c.registry.Register(task.OperationRebuildCorpus, corpushandler.NewRebuild(c.indexer, trackers, c.logger))

	c.registry.Register(task.OperationLearning, learninghandler.NewCycle(c.Learning, c.logger))
	c.registry.Register(task.OperationPromoteAdapter, learninghandler.NewPromote(
		c.Promoter, c.runsDir(), c.logger,
	))
}

func (c *Client) runsDir() string {
	return filepath.Join(c.dataDir, "runs")
}
