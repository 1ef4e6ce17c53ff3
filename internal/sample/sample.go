// Package sample holds the human-curated labeled examples that drive
// few-shot retrieval. The library's current label set is the single
// source of truth for the active label vocabulary.
package sample

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Record is one human-labeled example.
type Record struct {
	SampleID  string         `json:"sample_id"`
	Text      string         `json:"text"`
	Labels    []string       `json:"labels"` // non-empty; first entry is the primary label
	Summary   string         `json:"summary,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// PrimaryLabel returns the first label of the record.
func (r Record) PrimaryLabel() string {
	if len(r.Labels) == 0 {
		return ""
	}
	return r.Labels[0]
}

// EmbeddingText is the text used for the record's vector. The summary is
// preferred when present so samples and conversation summaries compare
// in the same register.
func (r Record) EmbeddingText() string {
	if strings.TrimSpace(r.Summary) != "" {
		return r.Summary
	}
	return r.Text
}

// Normalize validates a batch of ingested records, generating ids where
// absent. Records without labels or text are rejected.
func Normalize(records []Record) ([]Record, error) {
	out := make([]Record, 0, len(records))
	for i, r := range records {
		if strings.TrimSpace(r.Text) == "" {
			return nil, fmt.Errorf("sample %d: empty text", i)
		}
		if len(r.Labels) == 0 {
			return nil, fmt.Errorf("sample %d: no labels", i)
		}
		if r.SampleID == "" {
			r.SampleID = uuid.NewString()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now().UTC()
		}
		out = append(out, r)
	}
	return out, nil
}

// Library is an immutable view over the current sample records.
type Library struct {
	records map[string]Record
	vocab   []string
}

func NewLibrary(records []Record) *Library {
	byID := make(map[string]Record, len(records))
	vocabSet := make(map[string]bool)
	for _, r := range records {
		byID[r.SampleID] = r
		for _, label := range r.Labels {
			if label != "" {
				vocabSet[label] = true
			}
		}
	}

	vocab := make([]string, 0, len(vocabSet))
	for label := range vocabSet {
		vocab = append(vocab, label)
	}
	sort.Strings(vocab)

	return &Library{records: byID, vocab: vocab}
}

func (l *Library) Len() int {
	return len(l.records)
}

func (l *Library) Get(sampleID string) (Record, bool) {
	r, ok := l.records[sampleID]
	return r, ok
}

// Vocabulary returns the closed set of valid label strings, sorted.
func (l *Library) Vocabulary() []string {
	return l.vocab
}

// HasLabel reports whether label belongs to the active vocabulary.
func (l *Library) HasLabel(label string) bool {
	i := sort.SearchStrings(l.vocab, label)
	return i < len(l.vocab) && l.vocab[i] == label
}

// Records returns all records in sample-id order.
func (l *Library) Records() []Record {
	out := make([]Record, 0, len(l.records))
	for _, r := range l.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SampleID < out[j].SampleID })
	return out
}
