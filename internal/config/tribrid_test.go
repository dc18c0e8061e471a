package config

import (
	"strings"
	"testing"
)

func TestRetrievalSettings_DefaultsValidate(t *testing.T) {
	if err := NewRetrievalSettings().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestRetrievalSettings_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RetrievalSettings)
		want   string
	}{
		{
			name:   "zero dimension",
			mutate: func(s *RetrievalSettings) { s.Embedding.Dimension = 0 },
			want:   "dimension",
		},
		{
			name: "all modalities disabled",
			mutate: func(s *RetrievalSettings) {
				s.VectorSearch.Enabled = false
				s.SparseSearch.Enabled = false
				s.GraphSearch.Enabled = false
			},
			want: "modality",
		},
		{
			name:   "unknown fusion method",
			mutate: func(s *RetrievalSettings) { s.Fusion.Method = "max" },
			want:   "fusion.method",
		},
		{
			name:   "negative weight",
			mutate: func(s *RetrievalSettings) { s.Fusion.SparseWeight = -1 },
			want:   "weights",
		},
		{
			name:   "unknown reranker mode",
			mutate: func(s *RetrievalSettings) { s.Reranker.Mode = "gpu" },
			want:   "reranker.mode",
		},
		{
			name:   "learned without adapter",
			mutate: func(s *RetrievalSettings) { s.Reranker.Mode = "learned"; s.Reranker.LocalModel = "m" },
			want:   "adapter_path",
		},
		{
			name:   "cloud without provider",
			mutate: func(s *RetrievalSettings) { s.Reranker.Mode = "cloud" },
			want:   "cloud_provider",
		},
		{
			name:   "overlap past window",
			mutate: func(s *RetrievalSettings) { s.Chunker.ChunkOverlap = s.Chunker.ChunkSize },
			want:   "chunk_overlap",
		},
		{
			name:   "missing tokenizer",
			mutate: func(s *RetrievalSettings) { s.SparseSearch.Tokenizer = "" },
			want:   "tokenizer",
		},
		{
			name:   "b out of range",
			mutate: func(s *RetrievalSettings) { s.SparseSearch.B = 1.5 },
			want:   "k1/b",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewRetrievalSettings()
			tt.mutate(&s)
			err := s.Validate()
			if err == nil {
				t.Fatal("invalid settings accepted")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}
