package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tribridrag/tribridrag/infrastructure/eventlog"
)

func newTestLog(t *testing.T) *eventlog.Log {
	t.Helper()
	log, err := eventlog.Open(filepath.Join(t.TempDir(), "events", "usage.log"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return log
}

func appendEvents(t *testing.T, log *eventlog.Log, events ...eventlog.Event) {
	t.Helper()
	for _, e := range events {
		if err := log.Append(context.Background(), e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
}

func TestMine_ExplicitFeedback(t *testing.T) {
	log := newTestLog(t)
	search := eventlog.NewSearchEvent("corpus1", "login flow", []string{"c1", "c2", "c3"})
	appendEvents(t, log, search,
		eventlog.NewFeedbackEvent(eventlog.KindHelpful, search.EventID, "c2"),
		eventlog.NewFeedbackEvent(eventlog.KindUnhelpful, search.EventID, "c1"),
	)

	miner := NewTripletMiner(log, nil, nil)
	result, err := miner.Mine(context.Background(), nil, MineOptions{})
	if err != nil {
		t.Fatalf("Mine: %v", err)
	}
	if result.TripletsMined != 1 {
		t.Fatalf("mined %d triplets, want 1", result.TripletsMined)
	}
	tr := result.Triplets[0]
	if tr.PositiveChunk != "c2" || tr.NegativeChunk != "c1" {
		t.Errorf("triplet = %+v", tr)
	}
	if tr.Confidence != confidenceExplicit {
		t.Errorf("confidence = %f", tr.Confidence)
	}
}

func TestMine_ClickThroughOnly(t *testing.T) {
	log := newTestLog(t)
	search := eventlog.NewSearchEvent("corpus1", "logout", []string{"c1", "c2", "c3"})
	appendEvents(t, log, search,
		eventlog.NewFeedbackEvent(eventlog.KindClick, search.EventID, "c2"),
	)

	miner := NewTripletMiner(log, nil, nil)
	result, err := miner.Mine(context.Background(), nil, MineOptions{})
	if err != nil {
		t.Fatalf("Mine: %v", err)
	}
	if result.TripletsMined != 1 {
		t.Fatalf("mined %d, want 1", result.TripletsMined)
	}
	tr := result.Triplets[0]
	// Highest-ranked clicked chunk is positive; a high-ranked unclicked
	// chunk is the negative.
	if tr.PositiveChunk != "c2" || tr.NegativeChunk != "c1" {
		t.Errorf("triplet = %+v", tr)
	}
	if tr.Confidence != confidenceClick {
		t.Errorf("confidence = %f", tr.Confidence)
	}
}

func TestMine_ConfidenceThresholdDiscards(t *testing.T) {
	log := newTestLog(t)
	search := eventlog.NewSearchEvent("corpus1", "q", []string{"c1", "c2"})
	appendEvents(t, log, search,
		eventlog.NewFeedbackEvent(eventlog.KindClick, search.EventID, "c2"),
	)

	miner := NewTripletMiner(log, nil, nil)
	result, err := miner.Mine(context.Background(), nil, MineOptions{ConfidenceThreshold: 0.9})
	if err != nil {
		t.Fatalf("Mine: %v", err)
	}
	if result.TripletsMined != 0 {
		t.Errorf("click triplet survived a 0.9 threshold: %+v", result.Triplets)
	}
}

func TestMine_ReplacePreservesExistingOnEmpty(t *testing.T) {
	log := newTestLog(t)
	// One search with no feedback mines nothing.
	appendEvents(t, log, eventlog.NewSearchEvent("corpus1", "hello world", []string{"a", "b"}))

	existing := []Triplet{{Query: "existing q", PositiveChunk: "p", NegativeChunk: "n", Confidence: 1}}
	miner := NewTripletMiner(log, nil, nil)

	result, err := miner.Mine(context.Background(), existing, MineOptions{
		Mode:                    MineReplace,
		PreserveExistingOnEmpty: true,
	})
	if err != nil {
		t.Fatalf("Mine: %v", err)
	}
	if result.TripletsMined != 0 {
		t.Errorf("mined = %d", result.TripletsMined)
	}
	if !result.PreservedExisting {
		t.Error("existing set not preserved")
	}
	if len(result.Triplets) != 1 || result.Triplets[0].Query != "existing q" {
		t.Errorf("triplets = %+v", result.Triplets)
	}
}

func TestMine_ReplaceClearsExistingWithoutPreserve(t *testing.T) {
	log := newTestLog(t)
	appendEvents(t, log, eventlog.NewSearchEvent("corpus1", "hello world", []string{"a", "b"}))

	existing := []Triplet{{Query: "existing q", PositiveChunk: "p", NegativeChunk: "n", Confidence: 1}}
	miner := NewTripletMiner(log, nil, nil)

	result, err := miner.Mine(context.Background(), existing, MineOptions{Mode: MineReplace})
	if err != nil {
		t.Fatalf("Mine: %v", err)
	}
	if result.PreservedExisting {
		t.Error("preserved flag set without the option")
	}
	if len(result.Triplets) != 0 {
		t.Errorf("triplets = %+v", result.Triplets)
	}
}

func TestResolveLearningBackend(t *testing.T) {
	backend, reason, err := ResolveLearningBackend(BackendTransformers)
	if err != nil {
		t.Fatalf("transformers: %v", err)
	}
	if backend != BackendTransformers || !strings.Contains(reason, "forced by config") {
		t.Errorf("got %s / %q", backend, reason)
	}

	backend, reason, err = ResolveLearningBackend(BackendAuto)
	if err != nil {
		t.Fatalf("auto: %v", err)
	}
	if backend != BackendTransformers && backend != BackendMLX {
		t.Errorf("auto resolved to %s", backend)
	}
	if !strings.Contains(reason, "auto:") {
		t.Errorf("reason = %q", reason)
	}

	if _, _, err := ResolveLearningBackend("nonsense"); err == nil {
		t.Error("unknown backend accepted")
	}
}

func TestResolveLearningBackend_MLXUnsupportedPlatform(t *testing.T) {
	old := mlxSupported
	mlxSupported = func() bool { return false }
	defer func() { mlxSupported = old }()

	if _, _, err := ResolveLearningBackend(BackendMLX); err == nil {
		t.Error("forcing mlx on an unsupported platform must fail")
	}
}

// recordingTrainer writes a weights file and reports a fixed metric.
type recordingTrainer struct {
	metric float64
	calls  int
}

func (r *recordingTrainer) Train(_ context.Context, runDir string, triplets []Triplet) (AdapterArtifact, error) {
	r.calls++
	weights := filepath.Join(runDir, "adapter.bin")
	if err := os.WriteFile(weights, []byte("trained-weights"), 0o644); err != nil {
		return AdapterArtifact{}, err
	}
	return AdapterArtifact{
		RunDir:      runDir,
		WeightsPath: weights,
		Metric:      r.metric,
		TrainedAt:   time.Now().UTC(),
	}, nil
}

func TestLearning_RunOnceTrainsPastThreshold(t *testing.T) {
	log := newTestLog(t)
	search := eventlog.NewSearchEvent("corpus1", "q", []string{"c1", "c2"})
	appendEvents(t, log, search,
		eventlog.NewFeedbackEvent(eventlog.KindHelpful, search.EventID, "c1"),
	)

	trainer := &recordingTrainer{metric: 0.5}
	cfg := DefaultLearningConfig()
	cfg.Backend = BackendTransformers
	cfg.MinNewTriplets = 1
	cfg.RunsDir = t.TempDir()

	learning, err := NewLearning(NewTripletMiner(log, nil, nil), trainer, cfg, nil)
	if err != nil {
		t.Fatalf("NewLearning: %v", err)
	}

	artifact, err := learning.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if trainer.calls != 1 {
		t.Errorf("trainer calls = %d", trainer.calls)
	}
	if artifact.RunID == "" || artifact.WeightsPath == "" {
		t.Errorf("artifact = %+v", artifact)
	}
	// The run manifest is written beside the weights.
	if _, err := os.Stat(filepath.Join(artifact.RunDir, "run.json")); err != nil {
		t.Errorf("run manifest missing: %v", err)
	}
}

func TestLearning_SkipsBelowThreshold(t *testing.T) {
	log := newTestLog(t)
	trainer := &recordingTrainer{metric: 0.5}
	cfg := DefaultLearningConfig()
	cfg.Backend = BackendTransformers
	cfg.MinNewTriplets = 5
	cfg.RunsDir = t.TempDir()

	learning, err := NewLearning(NewTripletMiner(log, nil, nil), trainer, cfg, nil)
	if err != nil {
		t.Fatalf("NewLearning: %v", err)
	}
	if _, err := learning.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if trainer.calls != 0 {
		t.Errorf("trainer ran with too few triplets")
	}
}

func TestPromote_GateRefusesWithinEpsilon(t *testing.T) {
	dir := t.TempDir()
	promoter := NewPromoter(PromoteConfig{AdaptersDir: dir, Epsilon: 0.01}, nil)
	ctx := context.Background()

	runDir := t.TempDir()
	weights := filepath.Join(runDir, "adapter.bin")
	if err := os.WriteFile(weights, []byte("v1"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Establish baseline 0.40.
	if err := promoter.Promote(ctx, "default", AdapterArtifact{RunDir: runDir, WeightsPath: weights, Metric: 0.40}); err != nil {
		t.Fatalf("initial promote: %v", err)
	}
	fp1 := promoter.ActiveFingerprint("default")
	if fp1 == "" {
		t.Fatal("no fingerprint after promote")
	}

	// 0.405 does not clear 0.40 + 0.01.
	if err := os.WriteFile(weights, []byte("v2"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	err := promoter.Promote(ctx, "default", AdapterArtifact{RunDir: runDir, WeightsPath: weights, Metric: 0.405})
	if !errors.Is(err, ErrPromotionRefused) {
		t.Fatalf("got %v, want ErrPromotionRefused", err)
	}
	if got := promoter.ActiveFingerprint("default"); got != fp1 {
		t.Error("refused promote changed the active adapter")
	}

	// 0.42 clears the gate; the fingerprint and weights swap.
	if err := promoter.Promote(ctx, "default", AdapterArtifact{RunDir: runDir, WeightsPath: weights, Metric: 0.42}); err != nil {
		t.Fatalf("promote at 0.42: %v", err)
	}
	fp2 := promoter.ActiveFingerprint("default")
	if fp2 == fp1 {
		t.Error("promotion did not swap the adapter")
	}
	raw, err := os.ReadFile(promoter.ActiveWeightsPath("default"))
	if err != nil {
		t.Fatalf("read active weights: %v", err)
	}
	if string(raw) != "v2" {
		t.Errorf("active weights = %q", raw)
	}
}

func TestMine_UnresolvableChunksDiscarded(t *testing.T) {
	log := newTestLog(t)
	search := eventlog.NewSearchEvent("corpus1", "q", []string{"live", "gone"})
	appendEvents(t, log, search,
		eventlog.NewFeedbackEvent(eventlog.KindHelpful, search.EventID, "live"),
	)

	// The store holds neither chunk, so the mined triplet is discarded
	// during resolution.
	miner := NewTripletMiner(log, newMemChunkStore(), nil)
	result, err := miner.Mine(context.Background(), nil, MineOptions{})
	if err != nil {
		t.Fatalf("Mine: %v", err)
	}
	if len(result.Triplets) != 0 {
		t.Errorf("unresolvable triplet kept: %+v", result.Triplets)
	}
}
