// Package vector provides the in-memory cosine-similarity index over
// sample embeddings and the retriever that queries it.
package vector

import (
	"math"
	"sort"
	"sync/atomic"
)

// Entry is one indexed sample.
type Entry struct {
	SampleID string
	Label    string
	Summary  string
	Snippet  string
	Vector   []float32
}

// Match is one nearest-neighbor result.
type Match struct {
	SampleID string
	Label    string
	Score    float64
	Summary  string
	Snippet  string
}

// Index is a full-rebuild, atomic-swap nearest-neighbor index. Readers
// always see either the previous or the new snapshot, never a partially
// written one.
type Index struct {
	snap atomic.Pointer[snapshot]
}

type snapshot struct {
	entries []Entry
}

func NewIndex() *Index {
	idx := &Index{}
	idx.snap.Store(&snapshot{})
	return idx
}

// Swap publishes a fully built set of entries, replacing the previous
// snapshot in one step.
func (i *Index) Swap(entries []Entry) {
	copied := make([]Entry, len(entries))
	copy(copied, entries)
	i.snap.Store(&snapshot{entries: copied})
}

// Len returns the number of indexed entries.
func (i *Index) Len() int {
	return len(i.snap.Load().entries)
}

// Search returns at most k matches with cosine similarity >= floor,
// highest score first. An empty result is a valid outcome.
func (i *Index) Search(query []float32, k int, floor float64) []Match {
	snap := i.snap.Load()
	if len(snap.entries) == 0 || len(query) == 0 || k <= 0 {
		return nil
	}

	matches := make([]Match, 0, len(snap.entries))
	for _, e := range snap.entries {
		score := cosine(query, e.Vector)
		if math.IsNaN(score) || score < floor {
			continue
		}
		matches = append(matches, Match{
			SampleID: e.SampleID,
			Label:    e.Label,
			Score:    score,
			Summary:  e.Summary,
			Snippet:  e.Snippet,
		})
	}

	sort.Slice(matches, func(a, b int) bool {
		if matches[a].Score == matches[b].Score {
			return matches[a].SampleID < matches[b].SampleID
		}
		return matches[a].Score > matches[b].Score
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.NaN()
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return math.NaN()
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
