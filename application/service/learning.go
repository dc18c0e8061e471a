package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/tribridrag/tribridrag/domain/errkind"
)

// LearningBackend names a training runtime.
type LearningBackend string

const (
	// BackendTransformers is the portable training runtime.
	BackendTransformers LearningBackend = "transformers"
	// BackendMLX is the Apple-Silicon-only training runtime.
	BackendMLX LearningBackend = "mlx_qwen3"
	// BackendAuto picks MLX when the platform supports it.
	BackendAuto LearningBackend = "auto"
)

// mlxSupported reports whether the MLX runtime can run here. Overridable
// in tests.
var mlxSupported = func() bool {
	return runtime.GOOS == "darwin" && runtime.GOARCH == "arm64"
}

// ResolveLearningBackend picks the training backend for the configured
// preference, with the reason recorded for operator introspection.
func ResolveLearningBackend(preference LearningBackend) (LearningBackend, string, error) {
	switch preference {
	case BackendTransformers:
		return BackendTransformers, "forced by config", nil
	case BackendMLX:
		if !mlxSupported() {
			return "", "", fmt.Errorf("mlx_qwen3 backend requires Apple Silicon (darwin/arm64)")
		}
		return BackendMLX, "forced by config", nil
	case BackendAuto, "":
		if mlxSupported() {
			return BackendMLX, "auto: mlx available on this platform", nil
		}
		return BackendTransformers, "auto: mlx unavailable, using transformers", nil
	default:
		return "", "", fmt.Errorf("unknown learning backend %q", preference)
	}
}

// AdapterArtifact is one completed training run's output: the adapter
// weights plus its evaluation against the held-out split.
type AdapterArtifact struct {
	RunID        string    `json:"run_id"`
	RunDir       string    `json:"run_dir"`
	WeightsPath  string    `json:"weights_path"`
	Metric       float64   `json:"metric"` // primary metric (MRR) on the held-out split
	TripletsUsed int       `json:"triplets_used"`
	TrainedAt    time.Time `json:"trained_at"`
}

// Trainer is the training-runtime capability. The actual gradient work
// runs outside this module (an MLX or transformers process), reached
// through this contract the same way embedding and chat providers are.
type Trainer interface {
	// Train fits an adapter on triplets, evaluates it on a held-out
	// deterministic split, and writes weights plus a run manifest under
	// runDir.
	Train(ctx context.Context, runDir string, triplets []Triplet) (AdapterArtifact, error)
}

// LearningConfig tunes the background learning loop.
type LearningConfig struct {
	Backend LearningBackend
	// Interval between mining/training passes.
	Interval time.Duration
	// MinNewTriplets gates training: fewer than this many triplets since
	// the last run means skip.
	MinNewTriplets int
	// RunsDir is where training runs land, one subdirectory each.
	RunsDir string
	// Miner options for each pass.
	Mine MineOptions
}

// DefaultLearningConfig returns the learning loop defaults.
func DefaultLearningConfig() LearningConfig {
	return LearningConfig{
		Backend:        BackendAuto,
		Interval:       time.Hour,
		MinNewTriplets: 32,
		Mine:           MineOptions{Mode: MineAppend, ConfidenceThreshold: 0.5},
	}
}

// Learning is the background learning loop: it periodically mines
// triplets from usage and trains an adapter into a run directory.
// Training never touches the served model — promotion is a separate
// explicit action (Promoter).
type Learning struct {
	miner   *TripletMiner
	trainer Trainer
	config  LearningConfig
	logger  *slog.Logger

	triplets []Triplet
	lastRun  AdapterArtifact
}

// NewLearning creates the learning loop worker.
func NewLearning(miner *TripletMiner, trainer Trainer, config LearningConfig, logger *slog.Logger) (*Learning, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultLearningConfig().Interval
	}
	if config.MinNewTriplets <= 0 {
		config.MinNewTriplets = DefaultLearningConfig().MinNewTriplets
	}
	backend, reason, err := ResolveLearningBackend(config.Backend)
	if err != nil {
		return nil, errkind.Wrap(errkind.ConfigError, "learning backend", err)
	}
	logger.Info("learning backend resolved", "backend", backend, "reason", reason)
	config.Backend = backend
	return &Learning{
		miner:   miner,
		trainer: trainer,
		config:  config,
		logger:  logger,
	}, nil
}

// Run loops until ctx is done, mining and training on the configured
// interval. Intended as a background task per installation.
func (l *Learning) Run(ctx context.Context) {
	ticker := time.NewTicker(l.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := l.RunOnce(ctx); err != nil && ctx.Err() == nil {
				l.logger.Warn("learning pass failed", "error", err)
			}
		}
	}
}

// RunOnce mines one window and trains if enough new triplets arrived.
// Returns the training artifact, or a zero artifact when the pass was
// skipped.
func (l *Learning) RunOnce(ctx context.Context) (AdapterArtifact, error) {
	result, err := l.miner.Mine(ctx, l.triplets, l.config.Mine)
	if err != nil {
		return AdapterArtifact{}, fmt.Errorf("mine triplets: %w", err)
	}
	newTriplets := len(result.Triplets) - len(l.triplets)
	l.triplets = result.Triplets

	if newTriplets < l.config.MinNewTriplets {
		l.logger.Debug("skipping training pass", "new_triplets", newTriplets, "min", l.config.MinNewTriplets)
		return AdapterArtifact{}, nil
	}
	if l.trainer == nil {
		return AdapterArtifact{}, errkind.New(errkind.ConfigError, "no trainer configured")
	}

	runID := uuid.NewString()
	runDir := filepath.Join(l.config.RunsDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return AdapterArtifact{}, fmt.Errorf("create run dir: %w", err)
	}

	artifact, err := l.trainer.Train(ctx, runDir, l.triplets)
	if err != nil {
		return AdapterArtifact{}, fmt.Errorf("train adapter: %w", err)
	}
	if artifact.RunID == "" {
		artifact.RunID = runID
	}
	if artifact.RunDir == "" {
		artifact.RunDir = runDir
	}
	artifact.TripletsUsed = len(l.triplets)

	// The run manifest makes the run inspectable and promotable later.
	raw, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return AdapterArtifact{}, fmt.Errorf("encode run manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, "run.json"), raw, 0o644); err != nil {
		return AdapterArtifact{}, fmt.Errorf("write run manifest: %w", err)
	}

	l.lastRun = artifact
	l.logger.Info("adapter trained", "run_id", artifact.RunID, "metric", artifact.Metric, "triplets", artifact.TripletsUsed)
	return artifact, nil
}

// LastRun returns the most recent completed training artifact.
func (l *Learning) LastRun() AdapterArtifact { return l.lastRun }

// TripletCount returns the size of the current mined triplet set.
func (l *Learning) TripletCount() int { return len(l.triplets) }
