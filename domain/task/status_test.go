package task

import (
	"testing"
	"time"
)

func TestReportingState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    ReportingState
		terminal bool
	}{
		{ReportingStateStarted, false},
		{ReportingStateInProgress, false},
		{ReportingStateCompleted, true},
		{ReportingStateFailed, true},
		{ReportingStateSkipped, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}

func TestNewStatus(t *testing.T) {
	s := NewStatus(OperationLoadFiles, nil, TrackableTypeBuild, "corpus-a")

	if s.State() != ReportingStateStarted {
		t.Errorf("State() = %v, want %v", s.State(), ReportingStateStarted)
	}
	if s.Operation() != OperationLoadFiles {
		t.Errorf("Operation() = %v, want %v", s.Operation(), OperationLoadFiles)
	}
	if s.TrackableKey() != "corpus-a" {
		t.Errorf("TrackableKey() = %v, want corpus-a", s.TrackableKey())
	}
	if s.TrackableType() != TrackableTypeBuild {
		t.Errorf("TrackableType() = %v, want %v", s.TrackableType(), TrackableTypeBuild)
	}
	if s.Parent() != nil {
		t.Error("Parent() should be nil")
	}
	if s.ID() == "" {
		t.Error("ID() should not be empty")
	}
	if s.Total() != 0 {
		t.Errorf("Total() = %v, want 0", s.Total())
	}
	if s.Current() != 0 {
		t.Errorf("Current() = %v, want 0", s.Current())
	}
}

func TestNewStatusWithDefaults(t *testing.T) {
	s := NewStatusWithDefaults(OperationLoadFiles)

	if s.Operation() != OperationLoadFiles {
		t.Errorf("Operation() = %v, want %v", s.Operation(), OperationLoadFiles)
	}
	if s.TrackableKey() != "" {
		t.Errorf("TrackableKey() = %v, want empty", s.TrackableKey())
	}
	if s.TrackableType() != "" {
		t.Errorf("TrackableType() = %q, want empty", s.TrackableType())
	}
}

func TestStatus_Skip(t *testing.T) {
	original := NewStatusWithDefaults(OperationChunkFiles)
	skipped := original.Skip("already indexed")

	if skipped.State() != ReportingStateSkipped {
		t.Errorf("State() = %v, want %v", skipped.State(), ReportingStateSkipped)
	}
	if skipped.Message() != "already indexed" {
		t.Errorf("Message() = %q, want %q", skipped.Message(), "already indexed")
	}
	// Original should be unchanged (value type)
	if original.State() != ReportingStateStarted {
		t.Errorf("original State() = %v, want %v", original.State(), ReportingStateStarted)
	}
}

func TestStatus_Fail(t *testing.T) {
	original := NewStatusWithDefaults(OperationChunkFiles)
	failed := original.Fail("connection timeout")

	if failed.State() != ReportingStateFailed {
		t.Errorf("State() = %v, want %v", failed.State(), ReportingStateFailed)
	}
	if failed.Error() != "connection timeout" {
		t.Errorf("Error() = %q, want %q", failed.Error(), "connection timeout")
	}
	if original.State() != ReportingStateStarted {
		t.Errorf("original State() = %v, want %v", original.State(), ReportingStateStarted)
	}
}

func TestStatus_SetTotal(t *testing.T) {
	s := NewStatusWithDefaults(OperationChunkFiles).SetTotal(50)

	if s.Total() != 50 {
		t.Errorf("Total() = %v, want 50", s.Total())
	}
}

func TestStatus_SetCurrent(t *testing.T) {
	s := NewStatusWithDefaults(OperationChunkFiles).SetTotal(10)

	updated := s.SetCurrent(5, "processing file 5")
	if updated.State() != ReportingStateInProgress {
		t.Errorf("State() = %v, want %v", updated.State(), ReportingStateInProgress)
	}
	if updated.Current() != 5 {
		t.Errorf("Current() = %v, want 5", updated.Current())
	}
	if updated.Message() != "processing file 5" {
		t.Errorf("Message() = %q, want %q", updated.Message(), "processing file 5")
	}
}

func TestStatus_SetCurrent_EmptyMessage(t *testing.T) {
	s := NewStatusWithDefaults(OperationChunkFiles).
		SetCurrent(1, "first").
		SetCurrent(2, "")

	if s.Message() != "first" {
		t.Errorf("Message() = %q, want %q (should retain previous)", s.Message(), "first")
	}
	if s.Current() != 2 {
		t.Errorf("Current() = %v, want 2", s.Current())
	}
}

func TestStatus_Complete(t *testing.T) {
	s := NewStatusWithDefaults(OperationChunkFiles).SetTotal(10).SetCurrent(7, "")

	completed := s.Complete()
	if completed.State() != ReportingStateCompleted {
		t.Errorf("State() = %v, want %v", completed.State(), ReportingStateCompleted)
	}
	if completed.Current() != completed.Total() {
		t.Errorf("Current() = %v, want Total() = %v", completed.Current(), completed.Total())
	}
}

func TestStatus_Complete_AlreadyTerminal(t *testing.T) {
	failed := NewStatusWithDefaults(OperationChunkFiles).Fail("broken")
	completed := failed.Complete()

	if completed.State() != ReportingStateFailed {
		t.Errorf("State() = %v, want %v (should not override terminal)", completed.State(), ReportingStateFailed)
	}

	skipped := NewStatusWithDefaults(OperationChunkFiles).Skip("not needed")
	completedSkipped := skipped.Complete()

	if completedSkipped.State() != ReportingStateSkipped {
		t.Errorf("State() = %v, want %v (should not override terminal)", completedSkipped.State(), ReportingStateSkipped)
	}
}

func TestStatus_SetTrackingInfo(t *testing.T) {
	s := NewStatusWithDefaults(OperationChunkFiles)
	updated := s.SetTrackingInfo("corpus-x", TrackableTypeCorpus)

	if updated.TrackableKey() != "corpus-x" {
		t.Errorf("TrackableKey() = %v, want corpus-x", updated.TrackableKey())
	}
	if updated.TrackableType() != TrackableTypeCorpus {
		t.Errorf("TrackableType() = %v, want %v", updated.TrackableType(), TrackableTypeCorpus)
	}
}

func TestStatus_CompletionPercent(t *testing.T) {
	tests := []struct {
		name    string
		total   int
		current int
		want    float64
	}{
		{"zero total", 0, 0, 0.0},
		{"zero current", 10, 0, 0.0},
		{"half done", 100, 50, 50.0},
		{"fully done", 10, 10, 100.0},
		{"over 100 clamped", 10, 15, 100.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStatusWithDefaults(OperationChunkFiles).
				SetTotal(tt.total).
				SetCurrent(tt.current, "")
			got := s.CompletionPercent()
			if got != tt.want {
				t.Errorf("CompletionPercent() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatus_UpdatedAtAdvances(t *testing.T) {
	s := NewStatusWithDefaults(OperationChunkFiles)
	before := s.UpdatedAt()

	time.Sleep(time.Millisecond)
	updated := s.SetCurrent(1, "tick")

	if !updated.UpdatedAt().After(before) {
		t.Error("UpdatedAt should advance after SetCurrent")
	}
}

func TestNewStatusFull(t *testing.T) {
	now := time.Now()
	parent := NewStatusWithDefaults(OperationRoot)
	s := NewStatusFull(
		"custom-id",
		ReportingStateInProgress,
		OperationChunkFiles,
		"scanning",
		now.Add(-time.Hour), now,
		100, 50,
		"",
		&parent,
		"c7",
		TrackableTypeBuild,
	)

	if s.ID() != "custom-id" {
		t.Errorf("ID() = %q, want %q", s.ID(), "custom-id")
	}
	if s.State() != ReportingStateInProgress {
		t.Errorf("State() = %v, want %v", s.State(), ReportingStateInProgress)
	}
	if s.Message() != "scanning" {
		t.Errorf("Message() = %q, want %q", s.Message(), "scanning")
	}
	if s.Parent() == nil {
		t.Error("Parent() should not be nil")
	}
}

func TestCreateStatusID(t *testing.T) {
	tests := []struct {
		name          string
		operation     Operation
		trackableType TrackableType
		trackableKey  string
		want          string
	}{
		{"full", OperationChunkFiles, TrackableTypeBuild, "c42", "tribridrag.build-c42-tribridrag.corpus.build.chunk_files"},
		{"no trackable", OperationLoadFiles, "", "", "tribridrag.corpus.build.load_files"},
		{"type only", OperationChunkFiles, TrackableTypeBuild, "", "tribridrag.build-tribridrag.corpus.build.chunk_files"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := createStatusID(tt.operation, tt.trackableType, tt.trackableKey)
			if got != tt.want {
				t.Errorf("createStatusID() = %q, want %q", got, tt.want)
			}
		})
	}
}
