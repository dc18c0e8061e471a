package rerank

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
)

// crossEncoderSingleton holds the process-wide ONNX session for the
// cross-encoder, separate from the embedding pipeline's session slot.
// The mutex serializes initialization and inference — ORT is not
// thread-safe.
var crossEncoderSingleton struct {
	session   *hugot.Session
	pipelines map[string]*pipelines.TextClassificationPipeline
	mu        sync.Mutex
}

// HugotCrossEncoder scores (query, document) pairs with a local ONNX
// sequence-classification model. Each model path gets one pipeline,
// created lazily and shared across instances.
type HugotCrossEncoder struct {
	modelPath string
	version   string
}

// NewHugotCrossEncoder creates a cross-encoder over the model directory
// at modelPath. version tags scores with the adapter fingerprint in
// learned mode, or the model path in local mode.
func NewHugotCrossEncoder(modelPath, version string) *HugotCrossEncoder {
	if version == "" {
		version = modelPath
	}
	return &HugotCrossEncoder{modelPath: modelPath, version: version}
}

// Version identifies the loaded weights.
func (h *HugotCrossEncoder) Version() string { return h.version }

// Score runs the cross-encoder over every pair. Query and document are
// joined into one sequence; the model's positive-class score is the
// relevance.
func (h *HugotCrossEncoder) Score(ctx context.Context, query string, documents []string) ([]float64, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pipeline, err := h.pipeline()
	if err != nil {
		return nil, err
	}

	inputs := make([]string, len(documents))
	for i, doc := range documents {
		inputs[i] = query + "\n" + doc
	}

	crossEncoderSingleton.mu.Lock()
	defer crossEncoderSingleton.mu.Unlock()

	result, err := pipeline.RunPipeline(inputs)
	if err != nil {
		return nil, fmt.Errorf("run cross-encoder pipeline: %w", err)
	}

	scores := make([]float64, len(documents))
	for i, classifications := range result.ClassificationOutputs {
		if len(classifications) == 0 {
			continue
		}
		// Single-label relevance models emit one score; two-class models
		// emit (irrelevant, relevant) — take the relevant/positive one.
		best := classifications[0]
		for _, c := range classifications {
			if strings.EqualFold(c.Label, "relevant") || strings.EqualFold(c.Label, "LABEL_1") {
				best = c
				break
			}
		}
		scores[i] = float64(best.Score)
	}
	return scores, nil
}

// Close is a no-op: the session and pipelines are process-global and
// torn down at exit, matching the embedding provider's lifecycle.
func (h *HugotCrossEncoder) Close() error { return nil }

func (h *HugotCrossEncoder) pipeline() (*pipelines.TextClassificationPipeline, error) {
	crossEncoderSingleton.mu.Lock()
	defer crossEncoderSingleton.mu.Unlock()

	if crossEncoderSingleton.pipelines == nil {
		crossEncoderSingleton.pipelines = make(map[string]*pipelines.TextClassificationPipeline)
	}
	if p, ok := crossEncoderSingleton.pipelines[h.modelPath]; ok {
		return p, nil
	}

	if crossEncoderSingleton.session == nil {
		session, err := hugot.NewGoSession()
		if err != nil {
			return nil, fmt.Errorf("create cross-encoder session: %w", err)
		}
		crossEncoderSingleton.session = session
	}

	config := hugot.TextClassificationConfig{
		ModelPath: h.modelPath,
		Name:      "cross-encoder-" + h.version,
	}
	pipeline, err := hugot.NewPipeline(crossEncoderSingleton.session, config)
	if err != nil {
		return nil, fmt.Errorf("create cross-encoder pipeline: %w", err)
	}
	crossEncoderSingleton.pipelines[h.modelPath] = pipeline
	return pipeline, nil
}

var _ ScoringModel = (*HugotCrossEncoder)(nil)

// HugotModelLoader loads cross-encoder models for the learned reranker.
// The adapter's weights live beside the base model; the fingerprint is
// what distinguishes one loaded version from the next.
type HugotModelLoader struct{}

// Load returns a scoring model for baseModel with the adapter at
// adapterPath applied, versioned by fingerprint. Training exports the
// adapter pre-merged into a full ONNX model directory beside the
// adapter weights file; when that export exists it is the model to
// load, otherwise the bare base model serves.
func (HugotModelLoader) Load(_ context.Context, baseModel, adapterPath, fingerprint string) (ScoringModel, error) {
	modelPath := baseModel
	if dir := filepath.Dir(adapterPath); hasModelFiles(dir) {
		modelPath = dir
	}
	if modelPath == "" {
		return nil, fmt.Errorf("learned reranker requires a base model path")
	}
	return NewHugotCrossEncoder(modelPath, fingerprint), nil
}

// hasModelFiles reports whether dir holds a loadable model export.
func hasModelFiles(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, "tokenizer.json")); err != nil {
		return false
	}
	return true
}

var _ ModelLoader = HugotModelLoader{}
