package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tribridrag/tribridrag/domain/errkind"
)

// PromoteConfig tunes the promotion gate.
type PromoteConfig struct {
	// AdaptersDir is where active adapters live, one subdirectory per
	// adapter name holding {weights, adapter_config, fingerprint}.
	AdaptersDir string
	// Epsilon is the margin a new adapter's metric must clear over the
	// baseline before promotion is allowed.
	Epsilon float64
}

// baselineRecord is the stored metric the gate compares against.
type baselineRecord struct {
	Metric float64 `json:"metric"`
	RunID  string  `json:"run_id,omitempty"`
}

// Promoter performs the explicit promote step: it atomically replaces
// the active adapter if and only if the candidate's primary metric
// exceeds the stored baseline by epsilon. The reranker's file watcher
// picks up the swapped adapter; nothing here touches the serving path.
type Promoter struct {
	config PromoteConfig
	logger *slog.Logger
}

// NewPromoter creates a Promoter.
func NewPromoter(config PromoteConfig, logger *slog.Logger) *Promoter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Promoter{config: config, logger: logger}
}

// ErrPromotionRefused is wrapped in the error returned when the metric
// gate fails; the active adapter is untouched.
var ErrPromotionRefused = fmt.Errorf("promotion refused")

// Promote gates and applies one training run's adapter under the given
// adapter name. On success the adapter directory contents are staged
// beside the target and renamed into place, and the baseline advances
// to the promoted run's metric.
func (p *Promoter) Promote(ctx context.Context, name string, artifact AdapterArtifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if artifact.WeightsPath == "" {
		return errkind.New(errkind.ConfigError, "artifact has no weights path")
	}

	adapterDir := filepath.Join(p.config.AdaptersDir, name)
	baseline, err := p.readBaseline(adapterDir)
	if err != nil {
		return err
	}

	if artifact.Metric <= baseline.Metric+p.config.Epsilon {
		return fmt.Errorf("%w: metric %.4f does not exceed baseline %.4f by epsilon %.4f",
			ErrPromotionRefused, artifact.Metric, baseline.Metric, p.config.Epsilon)
	}

	if err := p.install(adapterDir, artifact); err != nil {
		return err
	}
	p.logger.Info("adapter promoted",
		"adapter", name, "run_id", artifact.RunID,
		"metric", artifact.Metric, "baseline", baseline.Metric)
	return nil
}

// readBaseline loads the stored baseline; a missing baseline reads as
// metric 0, so a run promotes only when its metric exceeds epsilon.
func (p *Promoter) readBaseline(adapterDir string) (baselineRecord, error) {
	raw, err := os.ReadFile(filepath.Join(adapterDir, "baseline.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return baselineRecord{}, nil
		}
		return baselineRecord{}, fmt.Errorf("read baseline: %w", err)
	}
	var b baselineRecord
	if err := json.Unmarshal(raw, &b); err != nil {
		return baselineRecord{}, fmt.Errorf("decode baseline: %w", err)
	}
	return b, nil
}

// install stages the run's files into a temp directory beside the
// target, then renames each into place: weights last, so a watcher that
// fires on the weights file always sees a complete adapter.
func (p *Promoter) install(adapterDir string, artifact AdapterArtifact) error {
	if err := os.MkdirAll(adapterDir, 0o755); err != nil {
		return fmt.Errorf("create adapter dir: %w", err)
	}

	// Baseline and config first.
	newBaseline, err := json.MarshalIndent(baselineRecord{Metric: artifact.Metric, RunID: artifact.RunID}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode baseline: %w", err)
	}
	if err := stageAndRename(adapterDir, "baseline.json", newBaseline); err != nil {
		return err
	}

	if configPath := filepath.Join(artifact.RunDir, "adapter_config.json"); fileExists(configPath) {
		raw, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("read adapter config: %w", err)
		}
		if err := stageAndRename(adapterDir, "adapter_config.json", raw); err != nil {
			return err
		}
	}

	fingerprint, err := hashFile(artifact.WeightsPath)
	if err != nil {
		return err
	}
	if err := stageAndRename(adapterDir, "fingerprint", []byte(fingerprint)); err != nil {
		return err
	}

	// Weights last: the rename is the promotion's commit point.
	weights, err := os.Open(artifact.WeightsPath)
	if err != nil {
		return fmt.Errorf("open run weights: %w", err)
	}
	defer func() { _ = weights.Close() }()

	tmp, err := os.CreateTemp(adapterDir, ".weights-*")
	if err != nil {
		return fmt.Errorf("stage weights: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, weights); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("copy weights: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close staged weights: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(adapterDir, "weights")); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("commit weights: %w", err)
	}
	return nil
}

// ActiveWeightsPath returns the path the reranker should watch for the
// named adapter.
func (p *Promoter) ActiveWeightsPath(name string) string {
	return filepath.Join(p.config.AdaptersDir, name, "weights")
}

// ActiveFingerprint reads the promoted adapter's fingerprint, or "" when
// none is active.
func (p *Promoter) ActiveFingerprint(name string) string {
	raw, err := os.ReadFile(filepath.Join(p.config.AdaptersDir, name, "fingerprint"))
	if err != nil {
		return ""
	}
	return string(raw)
}

func stageAndRename(dir, name string, content []byte) error {
	tmp, err := os.CreateTemp(dir, "."+name+"-*")
	if err != nil {
		return fmt.Errorf("stage %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("commit %s: %w", name, err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func hashFile(path string) (string, error) {
	fp, err := adapterFileHash(path)
	if err != nil {
		return "", fmt.Errorf("fingerprint weights: %w", err)
	}
	return fp, nil
}
