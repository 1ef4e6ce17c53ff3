package sample

import (
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	records, err := Normalize([]Record{
		{Text: "where is my refund", Labels: []string{"refund"}},
		{SampleID: "fixed", Text: "bad invoice", Labels: []string{"billing"}, CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	if records[0].SampleID == "" {
		t.Error("expected generated id")
	}
	if records[0].CreatedAt.IsZero() {
		t.Error("expected generated timestamp")
	}
	if records[1].SampleID != "fixed" {
		t.Errorf("existing id must be kept, got %q", records[1].SampleID)
	}
}

func TestNormalize_Rejections(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
	}{
		{"empty text", Record{Text: "   ", Labels: []string{"refund"}}},
		{"no labels", Record{Text: "hello"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Normalize([]Record{tt.rec}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLibrary_Vocabulary(t *testing.T) {
	lib := NewLibrary([]Record{
		{SampleID: "s1", Text: "a", Labels: []string{"refund", "billing"}},
		{SampleID: "s2", Text: "b", Labels: []string{"delivery"}},
		{SampleID: "s3", Text: "c", Labels: []string{"refund"}},
	})

	vocab := lib.Vocabulary()
	want := []string{"billing", "delivery", "refund"}
	if len(vocab) != len(want) {
		t.Fatalf("vocabulary = %v, want %v", vocab, want)
	}
	for i := range want {
		if vocab[i] != want[i] {
			t.Errorf("vocabulary[%d] = %q, want %q", i, vocab[i], want[i])
		}
	}

	if !lib.HasLabel("delivery") {
		t.Error("expected delivery in vocabulary")
	}
	if lib.HasLabel("nonsense") {
		t.Error("nonsense must not be in vocabulary")
	}
}

func TestEmbeddingText_PrefersSummary(t *testing.T) {
	r := Record{Text: "long raw transcript", Summary: "short summary"}
	if got := r.EmbeddingText(); got != "short summary" {
		t.Errorf("embedding text = %q", got)
	}
	r.Summary = "  "
	if got := r.EmbeddingText(); got != "long raw transcript" {
		t.Errorf("embedding text = %q", got)
	}
}

func TestHolder_Swap(t *testing.T) {
	old := NewLibrary([]Record{{SampleID: "s1", Text: "a", Labels: []string{"refund"}}})
	h := NewHolder(old)

	if h.Current().Len() != 1 {
		t.Fatalf("initial len = %d", h.Current().Len())
	}

	next := NewLibrary([]Record{
		{SampleID: "s1", Text: "a", Labels: []string{"refund"}},
		{SampleID: "s2", Text: "b", Labels: []string{"billing"}},
	})
	h.Swap(next)

	if h.Current().Len() != 2 {
		t.Errorf("after swap len = %d, want 2", h.Current().Len())
	}
	if !h.Current().HasLabel("billing") {
		t.Error("swapped library must carry new vocabulary")
	}
}
