// Package learning provides the task handlers for the background
// learning loop and the explicit adapter promote step.
package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tribridrag/tribridrag/application/handler"
	"github.com/tribridrag/tribridrag/application/service"
)

// Cycle handles one learning-loop pass: mine triplets from usage and
// train an adapter if enough arrived. Promotion never happens here.
type Cycle struct {
	learning *service.Learning
	logger   *slog.Logger
}

// NewCycle creates the learning-cycle handler.
func NewCycle(learning *service.Learning, logger *slog.Logger) *Cycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cycle{learning: learning, logger: logger}
}

// Execute runs one mining/training pass.
func (h *Cycle) Execute(ctx context.Context, _ map[string]any) error {
	artifact, err := h.learning.RunOnce(ctx)
	if err != nil {
		return err
	}
	if artifact.RunID != "" {
		h.logger.Info("learning cycle trained adapter",
			"run_id", artifact.RunID, "metric", artifact.Metric)
	}
	return nil
}

// Promote handles the explicit promote operation: it loads the named
// run's manifest and applies the metric gate.
type Promote struct {
	promoter *service.Promoter
	runsDir  string
	logger   *slog.Logger
}

// NewPromote creates the promote handler.
func NewPromote(promoter *service.Promoter, runsDir string, logger *slog.Logger) *Promote {
	if logger == nil {
		logger = slog.Default()
	}
	return &Promote{promoter: promoter, runsDir: runsDir, logger: logger}
}

// Execute promotes the run named by the payload's run_id under the
// adapter name in the payload (default "default").
func (h *Promote) Execute(ctx context.Context, payload map[string]any) error {
	runID, err := handler.ExtractString(payload, "run_id")
	if err != nil {
		return err
	}
	name, _ := payload["adapter"].(string)
	if name == "" {
		name = "default"
	}

	raw, err := os.ReadFile(filepath.Join(h.runsDir, runID, "run.json"))
	if err != nil {
		return fmt.Errorf("read run manifest for %s: %w", runID, err)
	}
	var artifact service.AdapterArtifact
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return fmt.Errorf("decode run manifest for %s: %w", runID, err)
	}
	return h.promoter.Promote(ctx, name, artifact)
}
