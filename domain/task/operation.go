package task

import "strings"

// Operation represents the type of task operation.
type Operation string

// Operation values for the task queue system: the corpus build pipeline
// (load -> chunk -> embed -> index -> graph -> manifest) and the
// background learning loop (mine -> train -> evaluate -> promote).
const (
	OperationRoot Operation = "tribridrag.root"

	OperationBuildCorpus       Operation = "tribridrag.corpus.build"
	OperationRebuildCorpus     Operation = "tribridrag.corpus.rebuild"
	OperationLoadFiles         Operation = "tribridrag.corpus.build.load_files"
	OperationChunkFiles        Operation = "tribridrag.corpus.build.chunk_files"
	OperationEmbedChunks       Operation = "tribridrag.corpus.build.embed_chunks"
	OperationIndexSparse       Operation = "tribridrag.corpus.build.index_sparse"
	OperationBuildGraph        Operation = "tribridrag.corpus.build.build_graph"
	OperationDetectCommunities Operation = "tribridrag.corpus.build.detect_communities"
	OperationUpdateManifest    Operation = "tribridrag.corpus.build.update_manifest"

	OperationLearning        Operation = "tribridrag.learning"
	OperationMineTriplets    Operation = "tribridrag.learning.mine_triplets"
	OperationTrainAdapter    Operation = "tribridrag.learning.train_adapter"
	OperationEvaluateAdapter Operation = "tribridrag.learning.evaluate_adapter"
	OperationPromoteAdapter  Operation = "tribridrag.learning.promote_adapter"
)

// String returns the string representation of the operation.
func (o Operation) String() string {
	return string(o)
}

// IsBuildOperation returns true if this is a corpus-build pipeline step.
func (o Operation) IsBuildOperation() bool {
	return strings.HasPrefix(string(o), "tribridrag.corpus.")
}

// IsLearningOperation returns true if this is a learning-loop step.
func (o Operation) IsLearningOperation() bool {
	return strings.HasPrefix(string(o), "tribridrag.learning.")
}

// PrescribedOperations provides the predefined operation sequences for a
// corpus build and for the learning loop, shaped by which optional
// stages a given corpus has turned on.
type PrescribedOperations struct {
	graphEnabled bool
}

// NewPrescribedOperations creates a PrescribedOperations. When
// graphEnabled is false, the graph-walk stages (build_graph,
// detect_communities) are excluded from every build workflow — a corpus
// configured without a graph store has nothing for them to populate.
func NewPrescribedOperations(graphEnabled bool) PrescribedOperations {
	return PrescribedOperations{graphEnabled: graphEnabled}
}

// All returns every operation that appears in any prescribed workflow,
// each listed once.
func (p PrescribedOperations) All() []Operation {
	seen := make(map[Operation]struct{})
	var all []Operation

	for _, ops := range [][]Operation{
		p.BuildCorpus(),
		p.RebuildCorpus(),
		p.LearningCycle(),
		p.PromoteAdapter(),
	} {
		for _, op := range ops {
			if _, ok := seen[op]; !ok {
				seen[op] = struct{}{}
				all = append(all, op)
			}
		}
	}
	return all
}

// BuildCorpus returns the operation sequence for building a corpus for
// the first time (or incrementally, for files that changed).
func (p PrescribedOperations) BuildCorpus() []Operation {
	ops := []Operation{
		OperationLoadFiles,
		OperationChunkFiles,
		OperationEmbedChunks,
		OperationIndexSparse,
	}
	if p.graphEnabled {
		ops = append(ops, OperationBuildGraph, OperationDetectCommunities)
	}
	return append(ops, OperationUpdateManifest)
}

// RebuildCorpus returns the operation sequence for a full reindex of a
// corpus, e.g. after an embedding-dimension or chunker-config change.
func (p PrescribedOperations) RebuildCorpus() []Operation {
	return append([]Operation{OperationRebuildCorpus}, p.BuildCorpus()...)
}

// LearningCycle returns the operation sequence for one background
// learning-loop run. It stops short of promotion: promote is always an
// explicit, separately invoked gate, never automatic.
func (p PrescribedOperations) LearningCycle() []Operation {
	return []Operation{
		OperationMineTriplets,
		OperationTrainAdapter,
		OperationEvaluateAdapter,
	}
}

// PromoteAdapter returns the single-operation sequence for promoting a
// trained adapter to active, invoked only after an operator or policy
// reviews the evaluation from LearningCycle.
func (p PrescribedOperations) PromoteAdapter() []Operation {
	return []Operation{OperationPromoteAdapter}
}
